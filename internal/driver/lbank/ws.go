package lbank

import (
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/lilwiggy/xchange/pkg/exchange"
	"github.com/lilwiggy/xchange/pkg/exchange/wsengine"
)

// BaseWSURL is LBank's public spot WebSocket endpoint.
const BaseWSURL = "wss://www.lbkex.net/ws/V2/"

// SubscribeFrame builds LBank's app-level
// {"action":"subscribe","subscribe":channel,"pair":...} frame (§4.6).
func SubscribeFrame(channel, venuePair string) []byte {
	data, _ := json.Marshal(map[string]any{"action": "subscribe", "subscribe": channel, "pair": venuePair})
	return data
}

// Topic builds the internal dispatch key for a channel+pair subscription.
func Topic(channel, venuePair string) string {
	return channel + ":" + venuePair
}

// Dispatch resolves an inbound frame's {"type":"...","pair":"..."} envelope.
func Dispatch(frame []byte) (string, bool) {
	var env struct {
		Type string `json:"type"`
		Pair string `json:"pair"`
	}
	if err := json.Unmarshal(frame, &env); err != nil || env.Type == "" {
		return "", false
	}
	return Topic(env.Type, env.Pair), true
}

// PingStrategy returns LBank's app-level JSON-ping dialect (§4.6):
// {"action":"ping","ping":"..."}.
func PingStrategy(interval time.Duration, nextPingID func() string) wsengine.PingStrategy {
	return wsengine.JSONPing{
		PingInterval: interval,
		Build:        func() any { return map[string]any{"action": "ping", "ping": nextPingID()} },
	}
}

// stream wraps the LBank dialect behind exchange.StreamAdapter, minting its
// own ping-id sequence since LBank just echoes back whatever string it's
// given.
type stream struct{ seq atomic.Int64 }

func init() { exchange.RegisterStream("lbank", func() exchange.StreamAdapter { return &stream{} }) }

func (s *stream) URL() string { return BaseWSURL }

// wireChannel maps a canonical channel to LBank's own subscribe value.
var wireChannel = map[string]string{
	exchange.ChannelTicker:    "tick",
	exchange.ChannelOrderBook: "depth",
	exchange.ChannelTrades:    "trade",
}

func (s *stream) Subscribe(channel, venueSymbol string) ([]byte, string) {
	if w, ok := wireChannel[channel]; ok {
		channel = w
	}
	return SubscribeFrame(channel, venueSymbol), Topic(channel, venueSymbol)
}

func (s *stream) Dispatch(frame []byte) (string, bool) { return Dispatch(frame) }

func (s *stream) Ping(interval time.Duration) wsengine.PingStrategy {
	return PingStrategy(interval, func() string { return strconv.FormatInt(s.seq.Add(1), 10) })
}
