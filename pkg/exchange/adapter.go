// Package exchange provides the venue-agnostic request pipeline, market
// cache, and adapter contract shared by every venue driver.
package exchange

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lilwiggy/xchange/pkg/domain"
	"github.com/lilwiggy/xchange/pkg/errors"
)

// ErrNotSupported is returned by Base when a capability-gated operation is
// invoked against an adapter whose Capabilities says it is unsupported.
var ErrNotSupported = fmt.Errorf("exchange: operation not supported by this adapter")

// Version is the module's single version string.
const Version = "1.0.0"

// BodyMode selects how Base encodes a signed request's non-empty params.
type BodyMode int

const (
	// BodyModeJSON encodes params as a JSON object body. Default for most
	// venues' POST/PUT requests.
	BodyModeJSON BodyMode = iota
	// BodyModeForm encodes params as a form-urlencoded body (Kraken,
	// Bitstamp).
	BodyModeForm
	// BodyModeQueryOnly puts params in the URL query string and leaves the
	// body empty, even for POST/PUT (Binance, Bitforex).
	BodyModeQueryOnly
)

// SignResult is what an adapter's Sign returns: the (possibly augmented)
// params, any headers the carrier requires, and an optional URL override
// for venues that bake signed values into the URL itself (Pionex,
// Bitforex).
type SignResult struct {
	Params  map[string]string
	Headers map[string]string
	URL     string // non-empty overrides the composed URL entirely
}

// Adapter is implemented once per venue. Base drives every operation
// through these methods; an adapter holds no transport state of its own
// beyond what it needs to compute signatures and parse payloads.
type Adapter interface {
	// Name is the lowercase venue identifier, e.g. "binance".
	Name() string

	// Capabilities returns this venue's static has.* table.
	Capabilities() Capabilities

	// BaseURL returns the REST base URL to use (testnet-aware).
	BaseURL() string

	// Timeout returns the per-request timeout this adapter wants.
	Timeout() time.Duration

	// Sign computes the signature carrier for a signed request. Called
	// only when the operation requires authentication; must fail with an
	// AuthenticationError if credentials are absent.
	Sign(ctx context.Context, method, path string, params map[string]string) (SignResult, error)

	// BodyMode reports how this adapter wants POST/PUT bodies encoded.
	BodyMode() BodyMode

	// HandleResponseHeaders lets the adapter update its throttler state
	// from venue-specific rate-limit headers (e.g. Binance's
	// X-MBX-USED-WEIGHT-1m). Called on every response, success or not.
	HandleResponseHeaders(h http.Header)

	// HandleHTTPError classifies a non-2xx response into a typed error.
	// body is the raw response bytes; the adapter should first try to
	// parse it as the venue's JSON error envelope and map by venue code,
	// falling back to HTTP-status classification.
	HandleHTTPError(status int, body []byte) error

	// UnwrapResponse extracts the payload from a 2xx response body,
	// returning a typed error for a logical failure embedded in an HTTP
	// success (retCode != 0, status == "error", result == false, ...).
	UnwrapResponse(body []byte) ([]byte, error)

	// ToVenue converts a unified symbol ("BTC/USDT") to this venue's
	// native form.
	ToVenue(symbol string) string

	// FromVenue converts a venue-native id back to a unified symbol,
	// preferring a markets-cache lookup with a heuristic fallback.
	FromVenue(venueID string) string

	// MarketsEndpoint returns the method and path of this venue's public
	// markets/instruments listing, the one REST call Base drives
	// generically outside of an operation-specific call site: it backs
	// both MarketCache's fetch and Base's Ping/ServerTime probes.
	MarketsEndpoint() (method, path string)

	Parser
}

// Parser is the per-venue family of pure functions converting a
// venue-native payload into its unified domain.* shape. Implementations
// must not perform I/O.
type Parser interface {
	ParseMarkets(body []byte) ([]domain.Market, error)
	ParseTicker(body []byte) (domain.Ticker, error)
	ParseOrderBook(body []byte) (domain.OrderBook, error)
	ParseTrade(body []byte) ([]domain.Trade, error)
	ParseCandle(body []byte) ([]domain.Kline, error)
	ParseOrder(body []byte) (domain.Order, error)
	ParseOrderCreateResult(body []byte) (domain.Order, error)
	ParseMyTrade(body []byte) ([]domain.MyTrade, error)
	ParseBalance(body []byte) ([]domain.Balance, error)
}

// guardCapability returns ErrNotSupported, wrapped with venue context,
// when operation is not in caps.
func guardCapability(name string, caps Capabilities, operation string) error {
	if caps.Supports(operation) {
		return nil
	}
	return errors.NewExchangeError(name, operation, ErrNotSupported.Error(), ErrNotSupported)
}
