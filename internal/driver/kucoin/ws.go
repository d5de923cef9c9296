package kucoin

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/lilwiggy/xchange/pkg/exchange"
	"github.com/lilwiggy/xchange/pkg/exchange/wsengine"
)

// SubscribeFrame builds KuCoin's {"id":...,"type":"subscribe","topic":...}
// app-level frame (§4.6). KuCoin requires a bullet token appended to the WS
// URL at connect time; no code in this module fetches one.
func SubscribeFrame(id int64, topic string) []byte {
	data, _ := json.Marshal(map[string]any{
		"id": id, "type": "subscribe", "topic": topic, "privateChannel": false, "response": true,
	})
	return data
}

// Topic builds a KuCoin market-data topic, e.g. "/market/ticker:BTC-USDT".
func Topic(channel, venueSymbol string) string {
	return channel + ":" + venueSymbol
}

// Dispatch resolves an inbound frame's {"topic": "...", "data": ...} envelope.
func Dispatch(frame []byte) (string, bool) {
	var env struct {
		Type  string `json:"type"`
		Topic string `json:"topic"`
	}
	if err := json.Unmarshal(frame, &env); err != nil || env.Topic == "" {
		return "", false
	}
	return env.Topic, true
}

// PingStrategy returns KuCoin's JSON-ping dialect (§4.6): an app-level
// {"id":...,"type":"ping"} frame, id minted fresh on every tick.
func PingStrategy(interval time.Duration, nextID func() int64) wsengine.PingStrategy {
	return wsengine.JSONPing{
		PingInterval: interval,
		Build: func() any { return map[string]any{"id": nextID(), "type": "ping"} },
	}
}

// stream wraps the KuCoin dialect behind exchange.StreamAdapter, minting its
// own monotone frame ids since that counter has no other natural owner at
// this layer (KuCoin requires a fresh id on every subscribe and ping frame).
type stream struct{ seq atomic.Int64 }

func init() { exchange.RegisterStream("kucoin", func() exchange.StreamAdapter { return &stream{} }) }

// URL is empty: KuCoin's WS endpoint is only known after a bullet-token
// handshake (a signed REST call that returns a per-connection token and
// server list). No code in this module performs that handshake, so this
// URL is never filled in.
func (s *stream) URL() string { return "" }

// wireChannel maps a canonical channel to KuCoin's own topic prefix.
var wireChannel = map[string]string{
	exchange.ChannelTicker:    "/market/ticker",
	exchange.ChannelOrderBook: "/market/level2",
	exchange.ChannelTrades:    "/market/match",
}

func (s *stream) Subscribe(channel, venueSymbol string) ([]byte, string) {
	if w, ok := wireChannel[channel]; ok {
		channel = w
	}
	topic := Topic(channel, venueSymbol)
	return SubscribeFrame(s.seq.Add(1), topic), topic
}

func (s *stream) Dispatch(frame []byte) (string, bool) { return Dispatch(frame) }

func (s *stream) Ping(interval time.Duration) wsengine.PingStrategy {
	return PingStrategy(interval, func() int64 { return s.seq.Add(1) })
}
