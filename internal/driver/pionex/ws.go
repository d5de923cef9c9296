package pionex

import (
	"encoding/json"
	"time"

	"github.com/lilwiggy/xchange/pkg/exchange"
	"github.com/lilwiggy/xchange/pkg/exchange/wsengine"
)

// BaseWSURL is Pionex's public spot WebSocket endpoint.
const BaseWSURL = "wss://ws.pionex.com/wsPub"

// SubscribeFrame builds Pionex's {"op":"SUBSCRIBE","topic":...,"symbol":...}
// frame (§4.6).
func SubscribeFrame(topic, venueSymbol string) []byte {
	data, _ := json.Marshal(map[string]any{"op": "SUBSCRIBE", "topic": topic, "symbol": venueSymbol})
	return data
}

// Topic builds the internal dispatch key for a topic+symbol pair.
func Topic(topic, venueSymbol string) string {
	return topic + ":" + venueSymbol
}

// Dispatch resolves an inbound frame's {"topic":"...","symbol":"..."}
// envelope.
func Dispatch(frame []byte) (string, bool) {
	var env struct {
		Topic  string `json:"topic"`
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(frame, &env); err != nil || env.Topic == "" {
		return "", false
	}
	return Topic(env.Topic, env.Symbol), true
}

// isPing reports whether an inbound frame is Pionex's server-initiated
// {"op":"PING","timestamp":...} probe.
func isPing(frame []byte) bool {
	var env struct {
		Op string `json:"op"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		return false
	}
	return env.Op == "PING"
}

// pong echoes the server's timestamp back in a {"op":"PONG","timestamp":...}
// reply, as Pionex's server-initiated ping dialect requires (§4.6).
func pong(frame []byte) any {
	var env struct {
		Timestamp int64 `json:"timestamp"`
	}
	_ = json.Unmarshal(frame, &env)
	return map[string]any{"op": "PONG", "timestamp": env.Timestamp}
}

// PingStrategy returns Pionex's server-initiated ping dialect (§4.6): the
// server sends PING frames and the client must echo PONG; the client never
// initiates a ping of its own, so Interval() plays no role here.
func PingStrategy() wsengine.PingStrategy {
	return wsengine.ServerInitiatedPing{IsPing: isPing, Pong: pong}
}

type stream struct{}

func init() { exchange.RegisterStream("pionex", func() exchange.StreamAdapter { return stream{} }) }

func (stream) URL() string { return BaseWSURL }

// wireChannel maps a canonical channel to Pionex's own topic name.
var wireChannel = map[string]string{
	exchange.ChannelTicker:    "TICKER",
	exchange.ChannelOrderBook: "DEPTH",
	exchange.ChannelTrades:    "TRADE",
}

func (stream) Subscribe(channel, venueSymbol string) ([]byte, string) {
	if w, ok := wireChannel[channel]; ok {
		channel = w
	}
	return SubscribeFrame(channel, venueSymbol), Topic(channel, venueSymbol)
}

func (stream) Dispatch(frame []byte) (string, bool) { return Dispatch(frame) }

// Ping ignores interval: Pionex's dialect never originates a ping of its
// own, it only answers the server's.
func (stream) Ping(time.Duration) wsengine.PingStrategy { return PingStrategy() }
