package binance

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lilwiggy/xchange/pkg/domain"
	"github.com/lilwiggy/xchange/pkg/exchange"
	"github.com/lilwiggy/xchange/pkg/exchange/wsengine"
)

// stream adapts Binance's combined-stream WebSocket dialect to the generic
// exchange.StreamAdapter shape used by the other 11 venues, and additionally
// implements exchange.WSParser: Binance's WS payloads (ws_messages.go) use
// different field names and envelopes than its REST responses
// (adapter.go's restTicker24hr/restDepth/restTrade), so Connector must not
// run an inbound frame through the REST Parser.
type stream struct{ seq atomic.Int64 }

func init() { exchange.RegisterStream("binance", func() exchange.StreamAdapter { return &stream{} }) }

func (s *stream) URL() string { return BaseWebSocketCombinedURL }

// Subscribe builds Binance's runtime {"method":"SUBSCRIBE","params":[...],"id":...}
// command (valid on both the raw and combined endpoints) for one stream
// name, e.g. channel "ticker" + symbol "BTCUSDT" -> "btcusdt@ticker".
func (s *stream) Subscribe(channel, venueSymbol string) ([]byte, string) {
	streamName := NewStreamBuilder(venueSymbol).streamFor(channel)
	data, _ := json.Marshal(map[string]any{
		"method": "SUBSCRIBE", "params": []string{streamName}, "id": s.seq.Add(1),
	})
	return data, streamName
}

// rawEventStream maps Binance's payload-carried event type ("e" field) back
// onto the stream-name suffix it came from, for the raw (non-combined)
// endpoint where the envelope carries no explicit "stream" field.
var rawEventStream = map[string]string{
	"24hrTicker":  "ticker",
	"bookTicker":  "bookTicker",
	"trade":       "trade",
	"aggTrade":    "aggTrade",
	"depthUpdate": "depth@100ms",
}

// Dispatch resolves the stream field of a combined-endpoint envelope
// ({"stream":"...","data":{...}}), falling back to deriving the stream name
// from a raw single-stream payload's own event type and symbol fields.
func (s *stream) Dispatch(frame []byte) (string, bool) {
	var combined struct {
		Stream string `json:"stream"`
	}
	if err := json.Unmarshal(frame, &combined); err == nil && combined.Stream != "" {
		return combined.Stream, true
	}
	var raw struct {
		EventType string `json:"e"`
		Symbol    string `json:"s"`
	}
	if err := json.Unmarshal(frame, &raw); err != nil || raw.Symbol == "" {
		return "", false
	}
	suffix, ok := rawEventStream[raw.EventType]
	if !ok {
		return "", false
	}
	return strings.ToLower(raw.Symbol) + "@" + suffix, true
}

func (s *stream) Ping(interval time.Duration) wsengine.PingStrategy {
	return wsengine.NativePing{PingInterval: interval}
}

// unwrapData extracts the inner payload of a combined-stream envelope
// ({"stream":"...","data":{...}}), or returns frame unchanged for a raw
// single-stream payload that carries no such wrapper.
func unwrapData(frame []byte) ([]byte, error) {
	var combined struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(frame, &combined); err == nil && combined.Stream != "" {
		return combined.Data, nil
	}
	return frame, nil
}

// ParseTicker decodes a ticker/bookTicker WS frame. It implements
// exchange.WSParser; Connector prefers it over adapter.go's REST
// ParseTicker, whose restTicker24hr DTO does not match either WS shape.
func (s *stream) ParseTicker(frame []byte) (domain.Ticker, error) {
	data, err := unwrapData(frame)
	if err != nil {
		return domain.Ticker{}, err
	}
	var probe struct {
		EventType string `json:"e"`
	}
	_ = json.Unmarshal(data, &probe)
	if probe.EventType == "24hrTicker" {
		var t WSTicker
		if err := json.Unmarshal(data, &t); err != nil {
			return domain.Ticker{}, err
		}
		d, err := t.ToDomain("binance")
		if err != nil {
			return domain.Ticker{}, err
		}
		return *d, nil
	}
	var t WSBookTicker
	if err := json.Unmarshal(data, &t); err != nil {
		return domain.Ticker{}, err
	}
	d, err := t.ToDomain("binance")
	if err != nil {
		return domain.Ticker{}, err
	}
	return *d, nil
}

// ParseOrderBook decodes a depthUpdate WS frame. It implements
// exchange.WSParser; Connector prefers it over adapter.go's REST
// ParseOrderBook, whose restDepth DTO does not match the WS diff shape.
func (s *stream) ParseOrderBook(frame []byte) (domain.OrderBook, error) {
	data, err := unwrapData(frame)
	if err != nil {
		return domain.OrderBook{}, err
	}
	var du WSDepthUpdate
	if err := json.Unmarshal(data, &du); err != nil {
		return domain.OrderBook{}, err
	}
	bids, asks, err := du.ToDomain()
	if err != nil {
		return domain.OrderBook{}, err
	}
	bids, asks = domain.NormalizeLevels(bids, asks)
	return domain.OrderBook{
		Exchange:     "binance",
		Symbol:       domain.NormalizeSymbol(du.Symbol),
		Bids:         bids,
		Asks:         asks,
		LastUpdateID: du.FinalUpdateID,
		Timestamp:    time.UnixMilli(du.EventTime),
	}, nil
}

// ParseTrade decodes a trade/aggTrade WS frame. It implements
// exchange.WSParser; Connector prefers it over adapter.go's REST ParseTrade.
func (s *stream) ParseTrade(frame []byte) ([]domain.Trade, error) {
	data, err := unwrapData(frame)
	if err != nil {
		return nil, err
	}
	var probe struct {
		EventType string `json:"e"`
	}
	_ = json.Unmarshal(data, &probe)
	if probe.EventType == "aggTrade" {
		var agg WSAggTrade
		if err := json.Unmarshal(data, &agg); err != nil {
			return nil, err
		}
		d, err := agg.ToDomain("binance")
		if err != nil {
			return nil, err
		}
		return []domain.Trade{*d}, nil
	}
	var t WSTrade
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	d, err := t.ToDomain("binance")
	if err != nil {
		return nil, err
	}
	return []domain.Trade{*d}, nil
}

// streamFor maps a generic channel name onto one of StreamBuilder's named
// stream constructors, defaulting to treating an unrecognized channel as a
// literal Binance stream suffix (e.g. "kline_1m").
func (sb *StreamBuilder) streamFor(channel string) string {
	switch channel {
	case exchange.ChannelTicker:
		return sb.Ticker()
	case exchange.ChannelOrderBook:
		return sb.Depth()
	case exchange.ChannelTrades:
		return sb.Trade()
	case "bookTicker":
		return sb.BookTicker()
	case "aggTrade":
		return sb.AggTrade()
	default:
		return sb.symbol + "@" + channel
	}
}
