package gateio

import (
	"encoding/json"
	"time"

	"github.com/lilwiggy/xchange/pkg/exchange"
	"github.com/lilwiggy/xchange/pkg/exchange/wsengine"
)

// BaseWSURL is Gate.io's public spot WebSocket v4 endpoint.
const BaseWSURL = "wss://api.gateio.ws/ws/v4/"

// SubscribeFrame builds Gate.io's {"time":...,"channel":...,"event":
// "subscribe","payload":[...]} frame (§4.6).
func SubscribeFrame(channel string, payload []string, now int64) []byte {
	data, _ := json.Marshal(map[string]any{
		"time": now, "channel": channel, "event": "subscribe", "payload": payload,
	})
	return data
}

// Topic builds the internal dispatch key for a channel+payload-joined pair.
func Topic(channel, venueSymbol string) string {
	return channel + ":" + venueSymbol
}

// Dispatch resolves an inbound frame's {"channel":"...","result":{...}}
// envelope, reading the symbol from the result's currency_pair (or s) field
// when present.
func Dispatch(frame []byte) (string, bool) {
	var env struct {
		Channel string `json:"channel"`
		Event   string `json:"event"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(frame, &env); err != nil || env.Channel == "" || env.Event != "update" {
		return "", false
	}
	var withPair struct {
		CurrencyPair string `json:"currency_pair"`
		S            string `json:"s"`
	}
	json.Unmarshal(env.Result, &withPair)
	symbol := withPair.CurrencyPair
	if symbol == "" {
		symbol = withPair.S
	}
	return Topic(env.Channel, symbol), true
}

// PingStrategy returns Gate.io's native-WS-ping dialect.
func PingStrategy(interval time.Duration) wsengine.PingStrategy {
	return wsengine.NativePing{PingInterval: interval}
}

type stream struct{}

func init() { exchange.RegisterStream("gateio", func() exchange.StreamAdapter { return stream{} }) }

func (stream) URL() string { return BaseWSURL }

// wireChannel maps a canonical channel to Gate.io's own channel string.
var wireChannel = map[string]string{
	exchange.ChannelTicker:    "spot.tickers",
	exchange.ChannelOrderBook: "spot.order_book",
	exchange.ChannelTrades:    "spot.trades",
}

func (stream) Subscribe(channel, venueSymbol string) ([]byte, string) {
	if w, ok := wireChannel[channel]; ok {
		channel = w
	}
	topic := Topic(channel, venueSymbol)
	return SubscribeFrame(channel, []string{venueSymbol}, time.Now().Unix()), topic
}

func (stream) Dispatch(frame []byte) (string, bool) { return Dispatch(frame) }

func (stream) Ping(interval time.Duration) wsengine.PingStrategy { return PingStrategy(interval) }
