package bitfinex

import (
	"encoding/json"
	"time"

	"github.com/lilwiggy/xchange/pkg/exchange"
	"github.com/lilwiggy/xchange/pkg/exchange/wsengine"
)

// BaseWSURL is Bitfinex's public spot WebSocket v2 endpoint.
const BaseWSURL = "wss://api-pub.bitfinex.com/ws/2"

// SubscribeFrame builds Bitfinex's {"event":"subscribe","channel":...}
// frame (§4.6).
func SubscribeFrame(channel, venueSymbol string) []byte {
	data, _ := json.Marshal(map[string]any{"event": "subscribe", "channel": channel, "symbol": venueSymbol})
	return data
}

// Topic builds the internal dispatch key for a channel+symbol pair.
func Topic(channel, venueSymbol string) string {
	return channel + ":" + venueSymbol
}

// Dispatch resolves Bitfinex's channel-id indirection: a subscribe ack
// carries {"event":"subscribed","chanId":N,"channel":...,"symbol":...};
// every subsequent data frame is a bare [chanId, ...] array, so callers must
// track the chanId→topic mapping themselves from the ack frames (not
// resolvable from a single frame in isolation, unlike the other venues).
func Dispatch(frame []byte) (string, bool) {
	var ack struct {
		Event   string `json:"event"`
		ChanID  int    `json:"chanId"`
		Channel string `json:"channel"`
		Symbol  string `json:"symbol"`
	}
	if err := json.Unmarshal(frame, &ack); err == nil && ack.Event == "subscribed" {
		return Topic(ack.Channel, ack.Symbol), true
	}
	return "", false
}

// PingStrategy returns Bitfinex's native-WS-ping dialect.
func PingStrategy(interval time.Duration) wsengine.PingStrategy {
	return wsengine.NativePing{PingInterval: interval}
}

type stream struct{}

func init() { exchange.RegisterStream("bitfinex", func() exchange.StreamAdapter { return stream{} }) }

func (stream) URL() string { return BaseWSURL }

// wireChannel maps a canonical channel to Bitfinex's own channel name.
var wireChannel = map[string]string{
	exchange.ChannelTicker:    "ticker",
	exchange.ChannelOrderBook: "book",
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
