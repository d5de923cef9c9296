package bittrex

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/lilwiggy/xchange/pkg/exchange"
	"github.com/lilwiggy/xchange/pkg/exchange/wsengine"
)

// BaseWSURL is Bittrex's SignalR negotiation endpoint. No code in this
// module performs the SignalR negotiate handshake; wsengine dials this URL
// directly.
const BaseWSURL = "wss://socket-v3.bittrex.com/signalr"

// Topic builds the internal dispatch key for a Bittrex SignalR feed.
func Topic(channel, venueSymbol string) string {
	return channel + "_" + venueSymbol
}

// SubscribeFrame builds a SignalR hub-invocation message targeting the c3
// hub's Subscribe method, e.g. {"H":"c3","M":"Subscribe","A":[["orderbook_BTC-USDT_25"]],"I":1}.
// This is a minimal hub-invocation shape; the SignalR negotiation
// handshake is not performed anywhere in this module.
func SubscribeFrame(invocationID int64, feed string) []byte {
	data, _ := json.Marshal(map[string]any{
		"H": "c3", "M": "Subscribe", "A": [][]string{{feed}}, "I": invocationID,
	})
	return data
}

// Dispatch resolves a SignalR hub message's feed-carrying payload. Bittrex
// multiplexes all feeds over a single "M" array of {"M":"uB",...} method
// calls; each call's first argument carries a base64'd, gzip'd JSON payload
// whose logical feed name isn't recoverable without first decoding it, so
// this only recognizes the invocation method name itself as the topic and
// leaves per-feed demultiplexing to the caller once decoded.
func Dispatch(frame []byte) (string, bool) {
	var env struct {
		M []struct {
			M string `json:"M"`
		} `json:"M"`
	}
	if err := json.Unmarshal(frame, &env); err != nil || len(env.M) == 0 || env.M[0].M == "" {
		return "", false
	}
	return env.M[0].M, true
}

// PingStrategy returns Bittrex's native-WS-ping dialect.
func PingStrategy(interval time.Duration) wsengine.PingStrategy {
	return wsengine.NativePing{PingInterval: interval}
}

// stream wraps the Bittrex SignalR dialect behind exchange.StreamAdapter.
// It only covers the hub-invocation framing; the SignalR negotiate
// handshake is performed neither here nor by the connector.
type stream struct{ seq atomic.Int64 }

func init() { exchange.RegisterStream("bittrex", func() exchange.StreamAdapter { return &stream{} }) }

func (s *stream) URL() string { return BaseWSURL }

// wireChannel maps a canonical channel to Bittrex's own SignalR feed prefix.
var wireChannel = map[string]string{
	exchange.ChannelTicker:    "ticker",
	exchange.ChannelOrderBook: "orderbook",
	exchange.ChannelTrades:    "trade",
}

func (s *stream) Subscribe(channel, venueSymbol string) ([]byte, string) {
	if w, ok := wireChannel[channel]; ok {
		channel = w
	}
	topic := Topic(channel, venueSymbol)
	return SubscribeFrame(s.seq.Add(1), topic), topic
}

func (s *stream) Dispatch(frame []byte) (string, bool) { return Dispatch(frame) }

func (s *stream) Ping(interval time.Duration) wsengine.PingStrategy { return PingStrategy(interval) }
