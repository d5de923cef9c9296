// Package bitforex implements the Bitforex spot driver.
package bitforex

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lilwiggy/xchange/pkg/domain"
	"github.com/lilwiggy/xchange/pkg/errors"
	"github.com/lilwiggy/xchange/pkg/exchange"
)

const BaseRestURL = "https://api.bitforex.com"

// Driver implements exchange.Adapter for Bitforex spot.
type Driver struct {
	apiKey, apiSecret string
}

func init() {
	exchange.Register("bitforex", func(creds exchange.Credentials) (exchange.Adapter, error) {
		return &Driver{apiKey: creds.APIKey, apiSecret: creds.APISecret}, nil
	})
}

func (d *Driver) Name() string { return "bitforex" }

func (d *Driver) Capabilities() exchange.Capabilities {
	return exchange.Capabilities{
		FetchMarkets: true, FetchTicker: true, FetchOrderBook: true, FetchTrades: true,
		FetchOHLCV: true, FetchBalance: true, FetchOrder: true, FetchOpenOrders: true,
		CreateOrder: true, CancelOrder: true,
		WatchTicker: true, WatchOrderBook: true, WatchTrades: true,
	}
}

func (d *Driver) BaseURL() string        { return BaseRestURL }
func (d *Driver) MarketsEndpoint() (string, string) { return "GET", "/api/v1/market/symbols" }
func (d *Driver) Timeout() time.Duration { return 10 * time.Second }
func (d *Driver) BodyMode() exchange.BodyMode { return exchange.BodyModeQueryOnly }

// Sign implements §4.2's Bitforex dialect: HMAC-SHA256 hex over
// path+"?"+sortedEncodedParams, no auth headers — the signature is baked
// into the params as "signData" and the whole thing is sent via URL
// (SignResult.URL), matching Bitforex's no-header dialect.
func (d *Driver) Sign(_ context.Context, _, path string, params map[string]string) (exchange.SignResult, error) {
	if d.apiKey == "" || d.apiSecret == "" {
		return exchange.SignResult{}, errors.NewAuthenticationError("bitforex", "sign", "API key and secret required")
	}

	out := make(map[string]string, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out["accessKey"] = d.apiKey

	query := sortedEncoded(out)
	preHash := path + "?" + query

	mac := hmac.New(sha256.New, []byte(d.apiSecret))
	mac.Write([]byte(preHash))
	out["signData"] = hex.EncodeToString(mac.Sum(nil))

	return exchange.SignResult{Params: out, URL: BaseRestURL + path + "?" + sortedEncoded(out)}, nil
}

func sortedEncoded(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(params[k])
	}
	return sb.String()
}

func (d *Driver) HandleResponseHeaders(h http.Header) {}

type bitforexEnvelope struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

func (d *Driver) HandleHTTPError(status int, body []byte) error {
	var env bitforexEnvelope
	if err := json.Unmarshal(body, &env); err == nil && !env.Success {
		return d.classify(env.Code)
	}
	if status >= 500 {
		return errors.NewExchangeNotAvailableError("bitforex", fmt.Sprintf("HTTP %d", status))
	}
	return errors.NewBadRequestError("bitforex", strconv.Itoa(status), string(body))
}

func (d *Driver) classify(code string) error {
	switch code {
	case "1011", "1012":
		return errors.NewAuthenticationError("bitforex", "", code)
	case "1015":
		return errors.NewRateLimitError("bitforex", time.Second, 1)
	case "1013":
		return errors.NewInsufficientFundsError("bitforex", "", code)
	case "3002":
		return errors.NewOrderNotFoundError("bitforex", "")
	case "1014":
		return errors.NewInvalidOrderError("bitforex", "", code)
	default:
		return errors.NewBadRequestError("bitforex", code, code)
	}
}

// UnwrapResponse strips Bitforex's {success, code, data} envelope (§4.5).
func (d *Driver) UnwrapResponse(body []byte) ([]byte, error) {
	var env bitforexEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.NewExchangeError("bitforex", "unwrap", err.Error(), err)
	}
	if !env.Success {
		return nil, d.classify(env.Code)
	}
	return env.Data, nil
}

// ToVenue converts "BTC/USDT" to Bitforex's "coin-usdt-btc" format.
func (d *Driver) ToVenue(symbol string) string {
	parts := strings.SplitN(symbol, "/", 2)
	if len(parts) != 2 {
		return strings.ToLower(symbol)
	}
	return "coin-" + strings.ToLower(parts[1]) + "-" + strings.ToLower(parts[0])
}

// FromVenue converts Bitforex's "coin-usdt-btc" back to "BTC/USDT".
func (d *Driver) FromVenue(venueID string) string {
	parts := strings.Split(venueID, "-")
	if len(parts) != 3 {
		return strings.ToUpper(venueID)
	}
	return strings.ToUpper(parts[2]) + "/" + strings.ToUpper(parts[1])
}

type bitforexSymbol struct {
	Symbol      string `json:"symbol"`
	PricePrecision int `json:"pricePrecision"`
	AmountPrecision int `json:"amountPrecision"`
	MinOrderAmount string `json:"minOrderAmount"`
}

func (d *Driver) ParseMarkets(body []byte) ([]domain.Market, error) {
	var rows []bitforexSymbol
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Market, 0, len(rows))
	for _, s := range rows {
		out = append(out, domain.Market{
			ID: s.Symbol, Symbol: d.FromVenue(s.Symbol), Active: true,
			PrecisionMode: domain.PrecisionModeDecimalPlaces,
			Precision:     domain.Precision{Amount: s.AmountPrecision, Price: s.PricePrecision},
			Limits:        domain.MarketLimits{Amount: domain.MinMax{Min: dec(s.MinOrderAmount)}},
		})
	}
	return out, nil
}

func dec(s string) domain.Decimal {
	if s == "" {
		return nil
	}
	v, err := domain.NewDecimal(s)
	if err != nil {
		return nil
	}
	return v
}

type bitforexTicker struct {
	Symbol string  `json:"symbol"`
	Last   float64 `json:"last"`
	Buy    float64 `json:"buy"`
	Sell   float64 `json:"sell"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Vol    float64 `json:"vol"`
	Date   int64   `json:"date"`
}

func (d *Driver) ParseTicker(body []byte) (domain.Ticker, error) {
	var t bitforexTicker
	if err := exchange.DecodeJSON(body, &t); err != nil {
		return domain.Ticker{}, err
	}
	return domain.Ticker{
		Exchange: "bitforex", Symbol: d.FromVenue(t.Symbol), LastPrice: dec(fmt.Sprint(t.Last)),
		BidPrice: dec(fmt.Sprint(t.Buy)), AskPrice: dec(fmt.Sprint(t.Sell)), HighPrice: dec(fmt.Sprint(t.High)),
		LowPrice: dec(fmt.Sprint(t.Low)), Volume: dec(fmt.Sprint(t.Vol)), Timestamp: time.UnixMilli(t.Date),
	}, nil
}

func (d *Driver) ParseOrderBook(body []byte) (domain.OrderBook, error) {
	var env struct {
		Bids []struct {
			Price  float64 `json:"price"`
			Amount float64 `json:"amount"`
		} `json:"bids"`
		Asks []struct {
			Price  float64 `json:"price"`
			Amount float64 `json:"amount"`
		} `json:"asks"`
		Time int64 `json:"time"`
	}
	if err := exchange.DecodeJSON(body, &env); err != nil {
		return domain.OrderBook{}, err
	}
	conv := func(rows []struct {
		Price  float64 `json:"price"`
		Amount float64 `json:"amount"`
	}) []domain.OrderBookLevel {
		out := make([]domain.OrderBookLevel, 0, len(rows))
		for _, r := range rows {
			out = append(out, domain.OrderBookLevel{Price: dec(fmt.Sprint(r.Price)), Quantity: dec(fmt.Sprint(r.Amount))})
		}
		return out
	}
	bids, asks := domain.NormalizeLevels(conv(env.Bids), conv(env.Asks))
	return domain.OrderBook{Exchange: "bitforex", Bids: bids, Asks: asks, Timestamp: time.UnixMilli(env.Time)}, nil
}

type bitforexTrade struct {
	Amount    float64 `json:"amount"`
	Price     float64 `json:"price"`
	Direction int     `json:"direction"` // 1 buy, 2 sell
	Time      int64   `json:"time"`
	TID       int64   `json:"tid"`
}

func (d *Driver) ParseTrade(body []byte) ([]domain.Trade, error) {
	var rows []bitforexTrade
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Trade, 0, len(rows))
	for _, t := range rows {
		side := domain.OrderSideBuy
		if t.Direction == 2 {
			side = domain.OrderSideSell
		}
		out = append(out, domain.Trade{
			Exchange: "bitforex", ID: strconv.FormatInt(t.TID, 10), Price: dec(fmt.Sprint(t.Price)),
			Quantity: dec(fmt.Sprint(t.Amount)), Side: side, Timestamp: time.UnixMilli(t.Time),
		})
	}
	return out, nil
}

// ParseCandle decodes Bitforex's [ts_ms, close, high, low, open, vol] rows.
func (d *Driver) ParseCandle(body []byte) ([]domain.Kline, error) {
	var rows [][]float64
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Kline, 0, len(rows))
	for _, r := range rows {
		if len(r) < 6 {
			continue
		}
		out = append(out, domain.Kline{
			Exchange: "bitforex", OpenTime: time.UnixMilli(int64(r[0])),
			Close: dec(fmt.Sprint(r[1])), High: dec(fmt.Sprint(r[2])), Low: dec(fmt.Sprint(r[3])),
			Open: dec(fmt.Sprint(r[4])), Volume: dec(fmt.Sprint(r[5])),
		})
	}
	return out, nil
}

type bitforexOrder struct {
	OrderID   int64   `json:"orderId"`
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Amount    float64 `json:"amount"`
	DealAmount float64 `json:"dealAmount"`
	TradeType int     `json:"tradeType"` // 1 buy, 2 sell
	OrderState int    `json:"orderState"`
	CreateTime int64  `json:"createTime"`
}

var bitforexStatus = map[int]domain.OrderStatus{
	0: domain.OrderStatusNew, 1: domain.OrderStatusPartiallyFilled, 2: domain.OrderStatusFilled, 3: domain.OrderStatusCanceled, 4: domain.OrderStatusCanceled,
}

func (d *Driver) parseOrder(o bitforexOrder) domain.Order {
	status, ok := bitforexStatus[o.OrderState]
	if !ok {
		status = domain.OrderStatusNew
	}
	side := domain.OrderSideBuy
	if o.TradeType == 2 {
		side = domain.OrderSideSell
	}
	return domain.Order{
		Exchange: "bitforex", Symbol: d.FromVenue(o.Symbol), ID: strconv.FormatInt(o.OrderID, 10),
		Side: side, Status: status, Price: dec(fmt.Sprint(o.Price)), Quantity: dec(fmt.Sprint(o.Amount)),
		FilledQuantity: dec(fmt.Sprint(o.DealAmount)), CreatedAt: time.UnixMilli(o.CreateTime),
	}
}

func (d *Driver) ParseOrder(body []byte) (domain.Order, error) {
	var o bitforexOrder
	if err := exchange.DecodeJSON(body, &o); err != nil {
		return domain.Order{}, err
	}
	return d.parseOrder(o), nil
}

func (d *Driver) ParseOrderCreateResult(body []byte) (domain.Order, error) {
	var orderID int64
	if err := exchange.DecodeJSON(body, &orderID); err != nil {
		return domain.Order{}, err
	}
	return domain.Order{Exchange: "bitforex", ID: strconv.FormatInt(orderID, 10), Status: domain.OrderStatusNew}, nil
}

// ParseMyTrade is not offered by Bitforex's public API surface in any
// documented form distinct from order lookups; Bitforex omits FetchMyTrades
// from Capabilities, so this satisfies the Parser interface without being
// reachable through Base.Request.
func (d *Driver) ParseMyTrade(body []byte) ([]domain.MyTrade, error) { return nil, exchange.ErrNotSupported }

func (d *Driver) ParseBalance(body []byte) ([]domain.Balance, error) {
	var rows []struct {
		Currency string  `json:"currency"`
		Active   float64 `json:"active"`
		Fix      float64 `json:"fix"`
	}
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Balance, 0, len(rows))
	for _, b := range rows {
		out = append(out, domain.Balance{Exchange: "bitforex", Asset: strings.ToUpper(b.Currency), Free: dec(fmt.Sprint(b.Active)), Locked: dec(fmt.Sprint(b.Fix)), Timestamp: time.Now()})
	}
	return out, nil
}
