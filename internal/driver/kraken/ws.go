package kraken

import (
	"encoding/json"
	"time"

	"github.com/lilwiggy/xchange/pkg/exchange"
	"github.com/lilwiggy/xchange/pkg/exchange/wsengine"
)

// BaseWSURL is Kraken's public spot WebSocket v2 endpoint.
const BaseWSURL = "wss://ws.kraken.com/v2"

// SubscribeFrame builds Kraken WS v2's {"method":"subscribe","params":{...}}
// frame (§4.6).
func SubscribeFrame(channel string, symbols []string) []byte {
	data, _ := json.Marshal(map[string]any{
		"method": "subscribe",
		"params": map[string]any{"channel": channel, "symbol": symbols},
	})
	return data
}

// Topic builds the internal dispatch key for a Kraken channel+symbol pair.
func Topic(channel, venueSymbol string) string {
	return channel + ":" + venueSymbol
}

// Dispatch resolves an inbound frame's {"channel":"...","data":[{"symbol":...}]}
// envelope.
func Dispatch(frame []byte) (string, bool) {
	var env struct {
		Channel string `json:"channel"`
		Data    []struct {
			Symbol string `json:"symbol"`
		} `json:"data"`
	}
	if err := json.Unmarshal(frame, &env); err != nil || env.Channel == "" || len(env.Data) == 0 {
		return "", false
	}
	return Topic(env.Channel, env.Data[0].Symbol), true
}

// PingStrategy returns Kraken's native-WS-ping dialect.
func PingStrategy(interval time.Duration) wsengine.PingStrategy {
	return wsengine.NativePing{PingInterval: interval}
}

type stream struct{}

func init() { exchange.RegisterStream("kraken", func() exchange.StreamAdapter { return stream{} }) }

func (stream) URL() string { return BaseWSURL }

// wireChannel maps a canonical channel to Kraken WS v2's own channel name.
var wireChannel = map[string]string{
	exchange.ChannelTicker:    "ticker",
	exchange.ChannelOrderBook: "book",
	exchange.ChannelTrades:    "trade",
}

func (stream) Subscribe(channel, venueSymbol string) ([]byte, string) {
	if w, ok := wireChannel[channel]; ok {
		channel = w
	}
	return SubscribeFrame(channel, []string{venueSymbol}), Topic(channel, venueSymbol)
}

func (stream) Dispatch(frame []byte) (string, bool) { return Dispatch(frame) }

func (stream) Ping(interval time.Duration) wsengine.PingStrategy { return PingStrategy(interval) }
