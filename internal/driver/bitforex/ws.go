package bitforex

import (
	"encoding/json"
	"time"

	"github.com/lilwiggy/xchange/pkg/exchange"
	"github.com/lilwiggy/xchange/pkg/exchange/wsengine"
)

// BaseWSURL is Bitforex's public spot WebSocket endpoint.
const BaseWSURL = "wss://www.bitforex.com/mkapi/coinrate2"

// SubscribeFrame builds Bitforex's array-wrapped subscribe event:
// [{"type":"subHq","event":channel,"param":{"businessType":venueSymbol,"dType":0}}]
// (§4.6).
func SubscribeFrame(channel, venueSymbol string) []byte {
	data, _ := json.Marshal([]map[string]any{{
		"type": "subHq", "event": channel,
		"param": map[string]any{"businessType": venueSymbol, "dType": 0},
	}})
	return data
}

// Topic builds the internal dispatch key for a channel+symbol pair.
func Topic(channel, venueSymbol string) string {
	return channel + ":" + venueSymbol
}

// Dispatch resolves an inbound frame's {"type":"...","businessType":"..."}
// shape, ignoring Bitforex's bare-string ping replies (handled by
// PingStrategy instead).
func Dispatch(frame []byte) (string, bool) {
	var env struct {
		Type         string `json:"type"`
		BusinessType string `json:"businessType"`
	}
	if err := json.Unmarshal(frame, &env); err != nil || env.Type == "" || env.BusinessType == "" {
		return "", false
	}
	return Topic(env.Type, env.BusinessType), true
}

// PingStrategy returns Bitforex's bare-string-ping dialect (§4.6): the
// client writes the literal string "ping" as a text frame on each tick.
func PingStrategy(interval time.Duration) wsengine.PingStrategy {
	return wsengine.StringPing{PingInterval: interval, Frame: "ping"}
}

type stream struct{}

func init() { exchange.RegisterStream("bitforex", func() exchange.StreamAdapter { return stream{} }) }

func (stream) URL() string { return BaseWSURL }

// wireChannel maps a canonical channel to Bitforex's own event name.
var wireChannel = map[string]string{
	exchange.ChannelTicker:    "ticker",
	exchange.ChannelOrderBook: "depth",
	exchange.ChannelTrades:    "trade",
}

func (stream) Subscribe(channel, venueSymbol string) ([]byte, string) {
	if w, ok := wireChannel[channel]; ok {
		channel = w
	}
	return SubscribeFrame(channel, venueSymbol), Topic(channel, venueSymbol)
}

func (stream) Dispatch(frame []byte) (string, bool) { return Dispatch(frame) }

func (stream) Ping(interval time.Duration) wsengine.PingStrategy { return PingStrategy(interval) }
