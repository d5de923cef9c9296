package okx

import (
	"encoding/json"
	"time"

	"github.com/lilwiggy/xchange/pkg/exchange"
	"github.com/lilwiggy/xchange/pkg/exchange/wsengine"
)

// BaseWSURL is OKX's public spot WebSocket endpoint.
const BaseWSURL = "wss://ws.okx.com:8443/ws/v5/public"

type channelArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

// SubscribeFrame builds OKX's {"op":"subscribe","args":[{"channel":...,"instId":...}]}
// frame (§4.6).
func SubscribeFrame(channel, venueSymbol string) []byte {
	data, _ := json.Marshal(map[string]any{
		"op":   "subscribe",
		"args": []channelArg{{Channel: channel, InstID: venueSymbol}},
	})
	return data
}

// Topic builds the internal dispatch key for an OKX channel subscription.
func Topic(channel, venueSymbol string) string {
	return channel + ":" + venueSymbol
}

// Dispatch resolves an inbound frame's {"arg":{"channel","instId"}} envelope.
func Dispatch(frame []byte) (string, bool) {
	var env struct {
		Arg struct {
			Channel string `json:"channel"`
			InstID  string `json:"instId"`
		} `json:"arg"`
	}
	if err := json.Unmarshal(frame, &env); err != nil || env.Arg.Channel == "" {
		return "", false
	}
	return Topic(env.Arg.Channel, env.Arg.InstID), true
}

// PingStrategy returns OKX's native-WS-ping dialect (§4.6).
func PingStrategy(interval time.Duration) wsengine.PingStrategy {
	return wsengine.NativePing{PingInterval: interval}
}

type stream struct{}

func init() { exchange.RegisterStream("okx", func() exchange.StreamAdapter { return stream{} }) }

func (stream) URL() string { return BaseWSURL }

// wireChannel maps a canonical channel to OKX's own channel string.
var wireChannel = map[string]string{
	exchange.ChannelTicker:    "tickers",
	exchange.ChannelOrderBook: "books",
	exchange.ChannelTrades:    "trades",
}

func (stream) Subscribe(channel, venueSymbol string) ([]byte, string) {
	if w, ok := wireChannel[channel]; ok {
		channel = w
	}
	return SubscribeFrame(channel, venueSymbol), Topic(channel, venueSymbol)
}

func (stream) Dispatch(frame []byte) (string, bool) { return Dispatch(frame) }

func (stream) Ping(interval time.Duration) wsengine.PingStrategy { return PingStrategy(interval) }
