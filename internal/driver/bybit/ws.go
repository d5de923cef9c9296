package bybit

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/lilwiggy/xchange/pkg/exchange"
	"github.com/lilwiggy/xchange/pkg/exchange/wsengine"
)

// SubscribeFrame builds the {"op":"subscribe","args":[...]} frame Bybit V5
// expects (§4.6). topic is e.g. "tickers.BTCUSDT" or "publicTrade.BTCUSDT".
func SubscribeFrame(topics ...string) []byte {
	data, _ := json.Marshal(map[string]any{"op": "subscribe", "args": topics})
	return data
}

// Topic builds a Bybit V5 public channel topic for a unified symbol.
func Topic(channel, venueSymbol string) string {
	return channel + "." + venueSymbol
}

// Dispatch resolves an inbound frame's topic field, Bybit's envelope being
// {"topic": "...", "data": ...}.
func Dispatch(frame []byte) (string, bool) {
	var env struct {
		Topic string `json:"topic"`
	}
	if err := json.Unmarshal(frame, &env); err != nil || env.Topic == "" {
		return "", false
	}
	return env.Topic, true
}

// PingStrategy returns Bybit's native-WS-ping dialect (§4.6).
func PingStrategy(interval time.Duration) wsengine.PingStrategy {
	return wsengine.NativePing{PingInterval: interval}
}

// symbolFromTopic extracts the trailing symbol segment of a dotted topic.
func symbolFromTopic(topic string) string {
	idx := strings.LastIndex(topic, ".")
	if idx < 0 {
		return topic
	}
	return topic[idx+1:]
}

type stream struct{}

func init() { exchange.RegisterStream("bybit", func() exchange.StreamAdapter { return stream{} }) }

func (stream) URL() string { return BaseWSURL }

// wireChannel maps a canonical channel to Bybit V5's own channel string.
var wireChannel = map[string]string{
	exchange.ChannelTicker:    "tickers",
	exchange.ChannelOrderBook: "orderbook.50",
	exchange.ChannelTrades:    "publicTrade",
}

func (stream) Subscribe(channel, venueSymbol string) ([]byte, string) {
	if w, ok := wireChannel[channel]; ok {
		channel = w
	}
	topic := Topic(channel, venueSymbol)
	return SubscribeFrame(topic), topic
}

func (stream) Dispatch(frame []byte) (string, bool) { return Dispatch(frame) }

func (stream) Ping(interval time.Duration) wsengine.PingStrategy { return PingStrategy(interval) }
