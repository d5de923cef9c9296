// Package lbank implements the LBank spot driver.
package lbank

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
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

const BaseRestURL = "https://api.lbkex.com"

// Driver implements exchange.Adapter for LBank spot.
type Driver struct {
	apiKey, apiSecret string
}

func init() {
	exchange.Register("lbank", func(creds exchange.Credentials) (exchange.Adapter, error) {
		return &Driver{apiKey: creds.APIKey, apiSecret: creds.APISecret}, nil
	})
}

func (d *Driver) Name() string { return "lbank" }

func (d *Driver) Capabilities() exchange.Capabilities {
	return exchange.Capabilities{
		FetchMarkets: true, FetchTicker: true, FetchOrderBook: true, FetchTrades: true,
		FetchOHLCV: true, FetchBalance: true, FetchOrder: true, FetchOpenOrders: true,
		FetchMyTrades: true, CreateOrder: true, CancelOrder: true,
		WatchTicker: true, WatchOrderBook: true, WatchTrades: true, WatchOHLCV: true,
	}
}

func (d *Driver) BaseURL() string        { return BaseRestURL }
func (d *Driver) MarketsEndpoint() (string, string) { return "GET", "/v2/currencyPairs.do" }
func (d *Driver) Timeout() time.Duration { return 10 * time.Second }
func (d *Driver) BodyMode() exchange.BodyMode { return exchange.BodyModeForm }

// Sign implements §4.2's LBank dialect: MD5(sortedParams).upper is the
// message of an outer HMAC-SHA256 hex signature keyed by the API secret.
func (d *Driver) Sign(_ context.Context, _, _ string, params map[string]string) (exchange.SignResult, error) {
	if d.apiKey == "" || d.apiSecret == "" {
		return exchange.SignResult{}, errors.NewAuthenticationError("lbank", "sign", "API key and secret required")
	}

	out := make(map[string]string, len(params)+2)
	for k, v := range params {
		out[k] = v
	}
	out["api_key"] = d.apiKey
	out["timestamp"] = strconv.FormatInt(time.Now().UnixMilli(), 10)
	out["echostr"] = randomEchostr(35)

	sorted := sortedQueryString(out)
	md5sum := md5.Sum([]byte(sorted))
	prehash := strings.ToUpper(hex.EncodeToString(md5sum[:]))

	mac := hmac.New(sha256.New, []byte(d.apiSecret))
	mac.Write([]byte(prehash))
	out["sign"] = hex.EncodeToString(mac.Sum(nil))

	headers := map[string]string{
		"echostr":          out["echostr"],
		"timestamp":        out["timestamp"],
		"signature_method": "HmacSHA256",
	}
	return exchange.SignResult{Params: out, Headers: headers}, nil
}

func sortedQueryString(params map[string]string) string {
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

const echostrAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// randomEchostr builds LBank's required echostr nonce deterministically
// from the wall clock so signing stays free of a package-level RNG.
func randomEchostr(n int) string {
	seed := time.Now().UnixNano()
	b := make([]byte, n)
	for i := range b {
		seed = seed*6364136223846793005 + 1442695040888963407
		b[i] = echostrAlphabet[(seed>>33)%int64(len(echostrAlphabet))]
	}
	return string(b)
}

func (d *Driver) HandleResponseHeaders(h http.Header) {}

type lbankEnvelope struct {
	Result   any             `json:"result"`
	ErrorCode int            `json:"error_code"`
	Msg      string          `json:"msg"`
	Data     json.RawMessage `json:"data"`
}

func (d *Driver) HandleHTTPError(status int, body []byte) error {
	var env lbankEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.ErrorCode != 0 {
		return d.classify(env.ErrorCode, env.Msg)
	}
	if status >= 500 {
		return errors.NewExchangeNotAvailableError("lbank", fmt.Sprintf("HTTP %d", status))
	}
	return errors.NewBadRequestError("lbank", strconv.Itoa(status), string(body))
}

func (d *Driver) classify(code int, msg string) error {
	switch code {
	case 10007, 10009, 10013:
		return errors.NewAuthenticationError("lbank", "", msg)
	case 10016:
		return errors.NewRateLimitError("lbank", time.Second, 1)
	case 10008:
		return errors.NewInsufficientFundsError("lbank", "", msg)
	case 10014, 10015:
		return errors.NewOrderNotFoundError("lbank", "")
	case 10005, 10006:
		return errors.NewInvalidOrderError("lbank", "", msg)
	default:
		return errors.NewBadRequestError("lbank", strconv.Itoa(code), msg)
	}
}

// UnwrapResponse strips LBank's {result, data} or {error_code, data}
// envelope variants (§4.5).
func (d *Driver) UnwrapResponse(body []byte) ([]byte, error) {
	var env lbankEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.NewExchangeError("lbank", "unwrap", err.Error(), err)
	}
	if env.ErrorCode != 0 {
		return nil, d.classify(env.ErrorCode, env.Msg)
	}
	if len(env.Data) > 0 {
		return env.Data, nil
	}
	return body, nil
}

// ToVenue converts "BTC/USDT" to LBank's lowercase "btc_usdt" format.
func (d *Driver) ToVenue(symbol string) string {
	return strings.ToLower(strings.ReplaceAll(symbol, "/", "_"))
}

func (d *Driver) FromVenue(venueID string) string {
	return strings.ToUpper(strings.ReplaceAll(venueID, "_", "/"))
}

type lbankPair struct {
	Symbol        string `json:"symbol"`
	QuantityAccuracy string `json:"quantityAccuracy"`
	PriceAccuracy string `json:"priceAccuracy"`
	MinTranQua    string `json:"minTranQua"`
}

func (d *Driver) ParseMarkets(body []byte) ([]domain.Market, error) {
	var rows []lbankPair
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Market, 0, len(rows))
	for _, p := range rows {
		base, quote := splitLbankSymbol(p.Symbol)
		qp, _ := strconv.Atoi(p.QuantityAccuracy)
		pp, _ := strconv.Atoi(p.PriceAccuracy)
		out = append(out, domain.Market{
			ID: p.Symbol, Symbol: strings.ToUpper(base) + "/" + strings.ToUpper(quote),
			Base: strings.ToUpper(base), Quote: strings.ToUpper(quote), Active: true,
			PrecisionMode: domain.PrecisionModeDecimalPlaces, Precision: domain.Precision{Amount: qp, Price: pp},
			Limits: domain.MarketLimits{Amount: domain.MinMax{Min: dec(p.MinTranQua)}},
		})
	}
	return out, nil
}

func splitLbankSymbol(symbol string) (string, string) {
	idx := strings.LastIndex(symbol, "_")
	if idx < 0 {
		return symbol, ""
	}
	return symbol[:idx], symbol[idx+1:]
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

type lbankTicker struct {
	Symbol string `json:"symbol"`
	Ticker struct {
		Latest string  `json:"latest"`
		High   string  `json:"high"`
		Low    string  `json:"low"`
		Vol    string  `json:"vol"`
		Change string  `json:"change"`
	} `json:"ticker"`
}

func (d *Driver) ParseTicker(body []byte) (domain.Ticker, error) {
	var rows []lbankTicker
	if err := exchange.DecodeJSON(body, &rows); err != nil || len(rows) == 0 {
		return domain.Ticker{}, fmt.Errorf("lbank: empty ticker response")
	}
	t := rows[0]
	return domain.Ticker{
		Exchange: "lbank", Symbol: d.FromVenue(t.Symbol), LastPrice: dec(t.Ticker.Latest),
		HighPrice: dec(t.Ticker.High), LowPrice: dec(t.Ticker.Low), Volume: dec(t.Ticker.Vol), Timestamp: time.Now(),
	}, nil
}

func (d *Driver) ParseOrderBook(body []byte) (domain.OrderBook, error) {
	var env struct {
		Bids [][]float64 `json:"bids"`
		Asks [][]float64 `json:"asks"`
	}
	if err := exchange.DecodeJSON(body, &env); err != nil {
		return domain.OrderBook{}, err
	}
	bids, asks := domain.NormalizeLevels(floatLevels(env.Bids), floatLevels(env.Asks))
	return domain.OrderBook{Exchange: "lbank", Bids: bids, Asks: asks, Timestamp: time.Now()}, nil
}

func floatLevels(rows [][]float64) []domain.OrderBookLevel {
	out := make([]domain.OrderBookLevel, 0, len(rows))
	for _, r := range rows {
		if len(r) < 2 {
			continue
		}
		out = append(out, domain.OrderBookLevel{Price: dec(fmt.Sprint(r[0])), Quantity: dec(fmt.Sprint(r[1]))})
	}
	return out
}

type lbankTrade struct {
	Amount    float64 `json:"amount"`
	Price     float64 `json:"price"`
	Type      string  `json:"type"`
	DateMs    int64   `json:"date_ms"`
	TID       string  `json:"tid"`
}

func (d *Driver) ParseTrade(body []byte) ([]domain.Trade, error) {
	var rows []lbankTrade
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Trade, 0, len(rows))
	for _, t := range rows {
		out = append(out, domain.Trade{
			Exchange: "lbank", ID: t.TID, Price: dec(fmt.Sprint(t.Price)), Quantity: dec(fmt.Sprint(t.Amount)),
			Side: domain.OrderSide(strings.ToUpper(t.Type)), Timestamp: time.UnixMilli(t.DateMs),
		})
	}
	return out, nil
}

// ParseCandle decodes LBank's [ts_seconds, open, high, low, close, volume]
// rows (standard ordering).
func (d *Driver) ParseCandle(body []byte) ([]domain.Kline, error) {
	var rows [][]float64
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Kline, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		out = append(out, domain.Kline{
			Exchange: "lbank", OpenTime: time.Unix(int64(row[0]), 0),
			Open: dec(fmt.Sprint(row[1])), High: dec(fmt.Sprint(row[2])), Low: dec(fmt.Sprint(row[3])),
			Close: dec(fmt.Sprint(row[4])), Volume: dec(fmt.Sprint(row[5])),
		})
	}
	return out, nil
}

type lbankOrder struct {
	Symbol     string  `json:"symbol"`
	OrderID    string  `json:"order_id"`
	Price      float64 `json:"price"`
	Amount     float64 `json:"amount"`
	DealAmount float64 `json:"deal_amount"`
	Type       string  `json:"type"`
	OrderType  string  `json:"order_type"`
	Status     int     `json:"status"`
	CreateTime int64   `json:"create_time"`
}

var lbankStatus = map[int]domain.OrderStatus{
	-1: domain.OrderStatusCanceled, 0: domain.OrderStatusNew, 1: domain.OrderStatusPartiallyFilled,
	2: domain.OrderStatusFilled, 4: domain.OrderStatusCanceled,
}

func (d *Driver) parseOrder(o lbankOrder) domain.Order {
	status, ok := lbankStatus[o.Status]
	if !ok {
		status = domain.OrderStatusNew
	}
	return domain.Order{
		Exchange: "lbank", Symbol: d.FromVenue(o.Symbol), ID: o.OrderID,
		Side: domain.OrderSide(strings.ToUpper(o.Type)), Type: domain.OrderType(strings.ToUpper(o.OrderType)),
		Status: status, Price: dec(fmt.Sprint(o.Price)), Quantity: dec(fmt.Sprint(o.Amount)),
		FilledQuantity: dec(fmt.Sprint(o.DealAmount)), CreatedAt: time.UnixMilli(o.CreateTime),
	}
}

func (d *Driver) ParseOrder(body []byte) (domain.Order, error) {
	var rows []lbankOrder
	if err := exchange.DecodeJSON(body, &rows); err != nil || len(rows) == 0 {
		return domain.Order{}, fmt.Errorf("lbank: order not found in response")
	}
	return d.parseOrder(rows[0]), nil
}

func (d *Driver) ParseOrderCreateResult(body []byte) (domain.Order, error) {
	var env struct {
		OrderID string `json:"order_id"`
	}
	if err := exchange.DecodeJSON(body, &env); err != nil {
		return domain.Order{}, err
	}
	return domain.Order{Exchange: "lbank", ID: env.OrderID, Status: domain.OrderStatusNew}, nil
}

type lbankMyTrade struct {
	TID     string  `json:"tid"`
	OrderID string  `json:"order_id"`
	Symbol  string  `json:"symbol"`
	Type    string  `json:"type"`
	Price   float64 `json:"price"`
	Amount  float64 `json:"amount"`
	DealTime int64  `json:"deal_time"`
}

func (d *Driver) ParseMyTrade(body []byte) ([]domain.MyTrade, error) {
	var rows []lbankMyTrade
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.MyTrade, 0, len(rows))
	for _, t := range rows {
		out = append(out, domain.MyTrade{
			Exchange: "lbank", Symbol: d.FromVenue(t.Symbol), ID: t.TID, OrderID: t.OrderID,
			Price: dec(fmt.Sprint(t.Price)), Quantity: dec(fmt.Sprint(t.Amount)),
			Side: domain.OrderSide(strings.ToUpper(t.Type)), Timestamp: time.UnixMilli(t.DealTime),
		})
	}
	return out, nil
}

func (d *Driver) ParseBalance(body []byte) ([]domain.Balance, error) {
	var env struct {
		Free    map[string]string `json:"free"`
		Freeze  map[string]string `json:"freeze"`
	}
	if err := exchange.DecodeJSON(body, &env); err != nil {
		return nil, err
	}
	assets := make(map[string]struct{})
	for a := range env.Free {
		assets[a] = struct{}{}
	}
	for a := range env.Freeze {
		assets[a] = struct{}{}
	}
	keys := make([]string, 0, len(assets))
	for a := range assets {
		keys = append(keys, a)
	}
	sort.Strings(keys)
	out := make([]domain.Balance, 0, len(keys))
	for _, a := range keys {
		out = append(out, domain.Balance{Exchange: "lbank", Asset: strings.ToUpper(a), Free: dec(env.Free[a]), Locked: dec(env.Freeze[a]), Timestamp: time.Now()})
	}
	return out, nil
}
