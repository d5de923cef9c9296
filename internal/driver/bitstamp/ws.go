package bitstamp

import (
	"encoding/json"
	"time"

	"github.com/lilwiggy/xchange/pkg/exchange"
	"github.com/lilwiggy/xchange/pkg/exchange/wsengine"
)

// BaseWSURL is Bitstamp's public spot WebSocket endpoint.
const BaseWSURL = "wss://ws.bitstamp.net"

// SubscribeFrame builds Bitstamp's Pusher-style
// {"event":"bts:subscribe","data":{"channel":...}} frame (§4.6).
func SubscribeFrame(channel string) []byte {
	data, _ := json.Marshal(map[string]any{
		"event": "bts:subscribe",
		"data":  map[string]string{"channel": channel},
	})
	return data
}

// Topic is the channel name itself, e.g. "order_book_btcusd".
func Topic(channel string) string { return channel }

// Dispatch resolves an inbound frame's {"event":"...","channel":"..."}
// envelope.
func Dispatch(frame []byte) (string, bool) {
	var env struct {
		Event   string `json:"event"`
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(frame, &env); err != nil || env.Channel == "" {
		return "", false
	}
	return env.Channel, true
}

// PingStrategy returns Bitstamp's native-WS-ping dialect.
func PingStrategy(interval time.Duration) wsengine.PingStrategy {
	return wsengine.NativePing{PingInterval: interval}
}

type stream struct{}

func init() { exchange.RegisterStream("bitstamp", func() exchange.StreamAdapter { return stream{} }) }

func (stream) URL() string { return BaseWSURL }

// wireChannel maps a canonical channel to Bitstamp's own channel prefix.
var wireChannel = map[string]string{
	exchange.ChannelTicker:    "live_ticker",
	exchange.ChannelOrderBook: "diff_order_book",
	exchange.ChannelTrades:    "live_trades",
}

// Subscribe composes Bitstamp's channel+pair naming convention (e.g.
// "live_ticker" + "btcusd" -> "live_ticker_btcusd") since Bitstamp folds the
// symbol into the channel name itself rather than carrying it separately.
func (stream) Subscribe(channel, venueSymbol string) ([]byte, string) {
	if w, ok := wireChannel[channel]; ok {
		channel = w
	}
	full := channel
	if venueSymbol != "" {
		full = channel + "_" + venueSymbol
	}
	return SubscribeFrame(full), Topic(full)
}

func (stream) Dispatch(frame []byte) (string, bool) { return Dispatch(frame) }

func (stream) Ping(interval time.Duration) wsengine.PingStrategy { return PingStrategy(interval) }
