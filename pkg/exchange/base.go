package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/lilwiggy/xchange/internal/ratelimit"
	"github.com/lilwiggy/xchange/pkg/domain"
	"github.com/lilwiggy/xchange/pkg/errors"
	"resty.dev/v3"
)

// Throttler is the token-bucket contract every venue's Base is driven
// through. WeightedLimiter is the only implementation today.
type Throttler interface {
	TryConsume(n int) bool
	Consume(ctx context.Context, n int) error
	UpdateFromHeader(used int)
	Status() (available, capacity int)
}

// Base is the venue-agnostic request pipeline shared by every adapter. It
// owns the transport and throttler; the Adapter supplies signing, error
// classification, and envelope unwrapping.
//
// IMPORTANT: resty v3 requires calling Close() when done.
type Base struct {
	adapter   Adapter
	client    *resty.Client
	throttler Throttler

	mu     sync.RWMutex
	closed bool
}

// NewBase wires a Base around the given adapter. If throttler is nil, a
// WeightedLimiter with Binance-scale default capacity is used; adapters
// with a different capacity/refill profile should pass their own.
func NewBase(adapter Adapter, throttler Throttler) *Base {
	if throttler == nil {
		throttler = ratelimit.NewWeightedLimiter(ratelimit.DefaultMaxWeight)
	}

	client := resty.New()
	client.SetBaseURL(adapter.BaseURL())
	client.SetHeader("User-Agent", "xchange/1.0")
	client.SetHeader("Content-Type", "application/json")
	client.SetHeader("Accept", "application/json")
	client.SetTimeout(adapter.Timeout())

	return &Base{adapter: adapter, client: client, throttler: throttler}
}

// Close releases the underlying transport. Required by resty v3.
func (b *Base) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.client.Close()
}

// Adapter returns the adapter this Base drives.
func (b *Base) Adapter() Adapter { return b.adapter }

// Throttler returns the throttler backing this Base, for callers that want
// to inspect Status() directly.
func (b *Base) Throttler() Throttler { return b.throttler }

// Request runs the seven-step pipeline of §4.1 and returns the
// envelope-unwrapped response body. weight defaults to 1 when <= 0.
func (b *Base) Request(ctx context.Context, method, path string, params map[string]string, signed bool, weight int) ([]byte, error) {
	name := b.adapter.Name()

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil, errors.NewConnectionError(name, path, "client is closed", false)
	}

	if weight <= 0 {
		weight = 1
	}
	if err := b.throttler.Consume(ctx, weight); err != nil {
		return nil, errors.NewConnectionError(name, path, fmt.Sprintf("rate limit wait failed: %v", err), true)
	}

	headers := map[string]string{}
	reqURLOverride := ""
	if signed {
		sig, err := b.adapter.Sign(ctx, method, path, params)
		if err != nil {
			return nil, err
		}
		if sig.Params != nil {
			params = sig.Params
		}
		headers = sig.Headers
		reqURLOverride = sig.URL
	}

	req := b.client.R().SetContext(ctx)
	for k, v := range headers {
		req.SetHeader(k, v)
	}

	body, statusCode, respHeaders, err := b.dispatch(req, method, path, params, reqURLOverride)
	if err != nil {
		return nil, errors.NewConnectionError(name, path, err.Error(), true)
	}

	b.adapter.HandleResponseHeaders(respHeaders)

	if statusCode < 200 || statusCode >= 300 {
		return nil, b.adapter.HandleHTTPError(statusCode, body)
	}

	return b.adapter.UnwrapResponse(body)
}

func (b *Base) dispatch(req *resty.Request, method, path string, params map[string]string, urlOverride string) ([]byte, int, map[string][]string, error) {
	target := path
	if urlOverride != "" {
		target = urlOverride
	}

	switch strings.ToUpper(method) {
	case "GET", "DELETE":
		query := encodeQuery(params)
		if query != "" && urlOverride == "" {
			target = path + "?" + query
		}
	default:
		switch b.adapter.BodyMode() {
		case BodyModeQueryOnly:
			query := encodeQuery(params)
			if query != "" && urlOverride == "" {
				target = path + "?" + query
			}
		case BodyModeForm:
			form := url.Values{}
			for k, v := range params {
				form.Set(k, v)
			}
			req.SetFormData(paramsFromValues(form))
		case BodyModeJSON:
			if len(params) > 0 {
				req.SetBody(params)
			}
		}
	}

	var resp *resty.Response
	var err error
	switch strings.ToUpper(method) {
	case "GET":
		resp, err = req.Get(target)
	case "DELETE":
		resp, err = req.Delete(target)
	case "PUT":
		resp, err = req.Put(target)
	default:
		resp, err = req.Post(target)
	}
	if err != nil {
		return nil, 0, nil, err
	}

	var bodyBytes []byte
	if resp.Body != nil {
		bodyBytes, _ = io.ReadAll(resp.Body)
	}
	return bodyBytes, resp.StatusCode(), resp.Header(), nil
}

func encodeQuery(params map[string]string) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := url.Values{}
	for _, k := range keys {
		values.Set(k, params[k])
	}
	return values.Encode()
}

func paramsFromValues(v url.Values) map[string]string {
	out := make(map[string]string, len(v))
	for k := range v {
		out[k] = v.Get(k)
	}
	return out
}

// LoadMarketsFunc builds the fetch closure a MarketCache needs, driving
// MarketsEndpoint through the normal pipeline and handing the body to
// ParseMarkets.
func (b *Base) LoadMarketsFunc() func(ctx context.Context) ([]domain.Market, error) {
	return func(ctx context.Context) ([]domain.Market, error) {
		method, path := b.adapter.MarketsEndpoint()
		body, err := b.Request(ctx, method, path, nil, false, 1)
		if err != nil {
			return nil, err
		}
		return b.adapter.ParseMarkets(body)
	}
}

// Ping checks REST connectivity with a lightweight unauthenticated request
// to the venue's markets endpoint; every venue exposes one, so no adapter
// needs a dedicated connectivity probe of its own.
func (b *Base) Ping(ctx context.Context) error {
	method, path := b.adapter.MarketsEndpoint()
	_, err := b.Request(ctx, method, path, nil, false, 1)
	return err
}

// ServerTime estimates the venue's clock from the Date header of the same
// lightweight request Ping uses, rather than requiring each adapter to
// parse its own (frequently differently-shaped) server-time endpoint.
func (b *Base) ServerTime(ctx context.Context) (int64, error) {
	name := b.adapter.Name()
	method, path := b.adapter.MarketsEndpoint()

	if err := b.throttler.Consume(ctx, 1); err != nil {
		return 0, errors.NewConnectionError(name, path, fmt.Sprintf("rate limit wait failed: %v", err), true)
	}

	req := b.client.R().SetContext(ctx)
	body, statusCode, headers, err := b.dispatch(req, method, path, nil, "")
	if err != nil {
		return 0, errors.NewConnectionError(name, path, err.Error(), true)
	}
	if statusCode < 200 || statusCode >= 300 {
		return 0, b.adapter.HandleHTTPError(statusCode, body)
	}

	date := http.Header(headers).Get("Date")
	if date == "" {
		return 0, errors.NewExchangeError(name, "server_time", "response carried no Date header", nil)
	}
	t, err := http.ParseTime(date)
	if err != nil {
		return 0, errors.NewExchangeError(name, "server_time", "unparseable Date header: "+date, err)
	}
	return t.UnixMilli(), nil
}

// RequireCapability short-circuits an operation with ErrNotSupported before
// the pipeline attempts a network call.
func (b *Base) RequireCapability(operation string) error {
	return guardCapability(b.adapter.Name(), b.adapter.Capabilities(), operation)
}

// DecodeJSON is a convenience wrapper most parsers use to unmarshal an
// already-unwrapped response body into a venue-native DTO.
func DecodeJSON(body []byte, v any) error {
	if len(body) == 0 {
		return fmt.Errorf("exchange: empty response body")
	}
	return json.Unmarshal(body, v)
}
