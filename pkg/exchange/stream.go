package exchange

import (
	"time"

	"github.com/lilwiggy/xchange/pkg/domain"
	"github.com/lilwiggy/xchange/pkg/exchange/wsengine"
)

// Canonical channel names passed to StreamAdapter.Subscribe. Each venue's
// implementation maps these onto its own wire channel string (OKX's
// "tickers", Kraken's "ticker", Gate.io's "spot.tickers", ...).
const (
	ChannelTicker    = "ticker"
	ChannelOrderBook = "orderbook"
	ChannelTrades    = "trades"
)

// StreamAdapter is the venue-agnostic face every driver's ws.go exposes,
// normalizing that venue's subscribe-frame/dispatch/ping dialect (§4.6) so
// Connector can drive wsengine.Client without knowing which of the 12
// wire formats it is talking to. Each venue's own ws.go keeps its exact
// dialect as free functions (SubscribeFrame, Topic, Dispatch, PingStrategy)
// grounded on that venue's wire format; the StreamAdapter implementation is
// a thin wrapper gluing those functions to this shape.
type StreamAdapter interface {
	// URL is the venue's public market-data WebSocket endpoint.
	URL() string
	// Subscribe builds the outbound subscribe frame for a channel/symbol
	// pair, e.g. channel "ticker" + symbol "BTCUSDT", and the topic key
	// under which inbound frames for it will be dispatched.
	Subscribe(channel, venueSymbol string) (frame []byte, topic string)
	// Dispatch resolves an inbound frame's topic, or ok=false if the frame
	// is not a subscription data frame (an ack, pong, or error frame).
	Dispatch(frame []byte) (topic string, ok bool)
	// Ping returns this venue's keepalive strategy for the given tick
	// interval; strategies that never originate a ping (ServerInitiatedPing)
	// ignore it.
	Ping(interval time.Duration) wsengine.PingStrategy
}

// WSParser is implemented by a StreamAdapter whose inbound frames need
// decoding through venue-specific WS message types rather than the
// adapter's REST Parser: most venues' WS payloads nest fields under an
// envelope the REST response never has (Binance's combined-stream
// {"stream":...,"data":{...}} wrapper, its own "e"/"E"/"s"-keyed field
// names, and so on). Connector prefers this over the REST Parser when a
// StreamAdapter implements it.
type WSParser interface {
	ParseTicker(frame []byte) (domain.Ticker, error)
	ParseOrderBook(frame []byte) (domain.OrderBook, error)
	ParseTrade(frame []byte) ([]domain.Trade, error)
}

// StreamConstructor builds a StreamAdapter for one venue.
type StreamConstructor func() StreamAdapter

var streamRegistry = map[string]StreamConstructor{}

// RegisterStream adds a venue's StreamAdapter constructor under name.
func RegisterStream(name string, ctor StreamConstructor) {
	streamRegistry[name] = ctor
}

// NewStream builds the named venue's StreamAdapter, or ok=false if the
// venue has no registered streaming support.
func NewStream(name string) (StreamAdapter, bool) {
	ctor, ok := streamRegistry[name]
	if !ok {
		return nil, false
	}
	return ctor(), true
}
