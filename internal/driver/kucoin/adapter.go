// Package kucoin implements the KuCoin spot driver.
package kucoin

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lilwiggy/xchange/pkg/domain"
	"github.com/lilwiggy/xchange/pkg/errors"
	"github.com/lilwiggy/xchange/pkg/exchange"
)

const BaseRestURL = "https://api.kucoin.com"

// Driver implements exchange.Adapter for KuCoin spot.
type Driver struct {
	apiKey, apiSecret, passphrase string
}

func init() {
	exchange.Register("kucoin", func(creds exchange.Credentials) (exchange.Adapter, error) {
		return &Driver{apiKey: creds.APIKey, apiSecret: creds.APISecret, passphrase: creds.Passphrase}, nil
	})
}

func (d *Driver) Name() string { return "kucoin" }

func (d *Driver) Capabilities() exchange.Capabilities {
	return exchange.Capabilities{
		FetchMarkets: true, FetchTicker: true, FetchOrderBook: true, FetchTrades: true,
		FetchOHLCV: true, FetchBalance: true, FetchOrder: true, FetchOpenOrders: true,
		FetchMyTrades: true, CreateOrder: true, CancelOrder: true, CancelAllOrders: true,
		WatchTicker: true, WatchOrderBook: true, WatchTrades: true, WatchOHLCV: true, WatchOrders: true,
	}
}

func (d *Driver) BaseURL() string        { return BaseRestURL }
func (d *Driver) MarketsEndpoint() (string, string) { return "GET", "/api/v1/symbols" }
func (d *Driver) Timeout() time.Duration { return 10 * time.Second }
func (d *Driver) BodyMode() exchange.BodyMode { return exchange.BodyModeJSON }

func hmacBase64(secret, msg string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Sign implements §4.2's KuCoin dialect: HMAC-SHA256 base64 over
// msTimestamp+METHOD+path+body, KC-API-* headers, passphrase also HMAC'd.
func (d *Driver) Sign(_ context.Context, method, path string, params map[string]string) (exchange.SignResult, error) {
	if d.apiKey == "" || d.apiSecret == "" || d.passphrase == "" {
		return exchange.SignResult{}, errors.NewAuthenticationError("kucoin", "sign", "API key, secret and passphrase required")
	}

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	method = strings.ToUpper(method)

	var body string
	fullPath := path
	if method == "GET" || method == "DELETE" {
		query := kucoinQuery(params)
		if query != "" {
			fullPath = path + "?" + query
		}
	} else if len(params) > 0 {
		raw, _ := json.Marshal(params)
		body = string(raw)
	}

	signature := hmacBase64(d.apiSecret, ts+method+fullPath+body)
	signedPassphrase := hmacBase64(d.apiSecret, d.passphrase)

	headers := map[string]string{
		"KC-API-KEY":        d.apiKey,
		"KC-API-SIGN":       signature,
		"KC-API-TIMESTAMP":  ts,
		"KC-API-PASSPHRASE": signedPassphrase,
		"KC-API-KEY-VERSION": "2",
	}
	return exchange.SignResult{Params: params, Headers: headers}, nil
}

func kucoinQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
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

type kucoinEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (d *Driver) HandleHTTPError(status int, body []byte) error {
	var env kucoinEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Code != "" {
		return d.classify(env.Code, env.Msg)
	}
	if status >= 500 {
		return errors.NewExchangeNotAvailableError("kucoin", fmt.Sprintf("HTTP %d", status))
	}
	return errors.NewBadRequestError("kucoin", strconv.Itoa(status), string(body))
}

func (d *Driver) classify(code, msg string) error {
	switch code {
	case "400001", "400002", "400003", "400004":
		return errors.NewAuthenticationError("kucoin", "", msg)
	case "429000":
		return errors.NewRateLimitError("kucoin", time.Second, 1)
	case "200004", "100004":
		return errors.NewInsufficientFundsError("kucoin", "", msg)
	case "400100":
		return errors.NewOrderNotFoundError("kucoin", "")
	case "400300", "400330":
		return errors.NewInvalidOrderError("kucoin", "", msg)
	case "200000":
		return nil
	default:
		return errors.NewBadRequestError("kucoin", code, msg)
	}
}

// UnwrapResponse strips the {code, data} envelope (§4.5).
func (d *Driver) UnwrapResponse(body []byte) ([]byte, error) {
	var env kucoinEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.NewExchangeError("kucoin", "unwrap", err.Error(), err)
	}
	if env.Code != "" && env.Code != "200000" {
		return nil, d.classify(env.Code, env.Msg)
	}
	return env.Data, nil
}

// ToVenue converts "BTC/USDT" to "BTC-USDT".
func (d *Driver) ToVenue(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", "-"))
}

func (d *Driver) FromVenue(venueID string) string {
	return strings.ToUpper(venueID)
}

type kucoinSymbol struct {
	Symbol      string `json:"symbol"`
	BaseCurrency string `json:"baseCurrency"`
	QuoteCurrency string `json:"quoteCurrency"`
	EnableTrading bool  `json:"enableTrading"`
	BaseIncrement string `json:"baseIncrement"`
	PriceIncrement string `json:"priceIncrement"`
	BaseMinSize string `json:"baseMinSize"`
	QuoteMinSize string `json:"quoteMinSize"`
}

func (d *Driver) ParseMarkets(body []byte) ([]domain.Market, error) {
	var rows []kucoinSymbol
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Market, 0, len(rows))
	for _, s := range rows {
		out = append(out, domain.Market{
			ID: s.Symbol, Symbol: s.BaseCurrency + "/" + s.QuoteCurrency, Base: s.BaseCurrency, Quote: s.QuoteCurrency,
			Active: s.EnableTrading, PrecisionMode: domain.PrecisionModeTickSize,
			TickSize: dec(s.PriceIncrement), StepSize: dec(s.BaseIncrement),
			Limits: domain.MarketLimits{Amount: domain.MinMax{Min: dec(s.BaseMinSize)}, Cost: domain.MinMax{Min: dec(s.QuoteMinSize)}},
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

type kucoinTicker struct {
	Symbol  string `json:"symbol"`
	Buy     string `json:"buy"`
	Sell    string `json:"sell"`
	ChangePrice string `json:"changePrice"`
	High    string `json:"high"`
	Low     string `json:"low"`
	Vol     string `json:"vol"`
	VolValue string `json:"volValue"`
	Last    string `json:"last"`
	Time    int64  `json:"time"`
}

func (d *Driver) ParseTicker(body []byte) (domain.Ticker, error) {
	var env struct {
		Ticker kucoinTicker `json:"ticker"`
	}
	// The single-symbol stats endpoint returns the fields flat; otherwise the
	// body is decoded as one ticker object nested under "ticker". A list under
	// "ticker" (as /api/v1/market/allTickers returns) is not decoded.
	var flat kucoinTicker
	if err := exchange.DecodeJSON(body, &flat); err == nil && flat.Symbol != "" {
		return d.ticker(flat), nil
	}
	if err := exchange.DecodeJSON(body, &env); err != nil {
		return domain.Ticker{}, err
	}
	return d.ticker(env.Ticker), nil
}

func (d *Driver) ticker(t kucoinTicker) domain.Ticker {
	return domain.Ticker{
		Exchange: "kucoin", Symbol: d.FromVenue(t.Symbol), BidPrice: dec(t.Buy), AskPrice: dec(t.Sell),
		LastPrice: dec(t.Last), HighPrice: dec(t.High), LowPrice: dec(t.Low), Volume: dec(t.Vol),
		QuoteVolume: dec(t.VolValue), Timestamp: time.UnixMilli(t.Time),
	}
}

func (d *Driver) ParseOrderBook(body []byte) (domain.OrderBook, error) {
	var env struct {
		Sequence string     `json:"sequence"`
		Time     int64      `json:"time"`
		Bids     [][]string `json:"bids"`
		Asks     [][]string `json:"asks"`
	}
	if err := exchange.DecodeJSON(body, &env); err != nil {
		return domain.OrderBook{}, err
	}
	bids, asks := domain.NormalizeLevels(levels(env.Bids), levels(env.Asks))
	return domain.OrderBook{Exchange: "kucoin", Bids: bids, Asks: asks, Timestamp: time.UnixMilli(env.Time)}, nil
}

func levels(rows [][]string) []domain.OrderBookLevel {
	out := make([]domain.OrderBookLevel, 0, len(rows))
	for _, r := range rows {
		if len(r) < 2 {
			continue
		}
		out = append(out, domain.OrderBookLevel{Price: dec(r[0]), Quantity: dec(r[1])})
	}
	return out
}

type kucoinTrade struct {
	Sequence string `json:"sequence"`
	Price    string `json:"price"`
	Size     string `json:"size"`
	Side     string `json:"side"`
	Time     int64  `json:"time"`
}

func (d *Driver) ParseTrade(body []byte) ([]domain.Trade, error) {
	var rows []kucoinTrade
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Trade, 0, len(rows))
	for _, t := range rows {
		out = append(out, domain.Trade{
			Exchange: "kucoin", ID: t.Sequence, Price: dec(t.Price), Quantity: dec(t.Size),
			Side: domain.OrderSide(strings.ToUpper(t.Side)), Timestamp: time.Unix(0, t.Time),
		})
	}
	return out, nil
}

// ParseCandle decodes KuCoin's [ts_seconds, open, close, high, low, volume,
// turnover] rows — note the close/high reorder relative to the standard
// [ts,O,H,L,C,V] layout (§4.5).
func (d *Driver) ParseCandle(body []byte) ([]domain.Kline, error) {
	var rows [][]string
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Kline, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		secs, _ := strconv.ParseInt(row[0], 10, 64)
		out = append(out, domain.Kline{
			Exchange: "kucoin", OpenTime: time.Unix(secs, 0),
			Open: dec(row[1]), Close: dec(row[2]), High: dec(row[3]), Low: dec(row[4]), Volume: dec(row[5]),
		})
	}
	return out, nil
}

type kucoinOrder struct {
	ID        string `json:"id"`
	ClientOid string `json:"clientOid"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Type      string `json:"type"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	DealSize  string `json:"dealSize"`
	IsActive  bool   `json:"isActive"`
	CancelExist bool `json:"cancelExist"`
	CreatedAt int64  `json:"createdAt"`
}

func (d *Driver) parseOrder(o kucoinOrder) domain.Order {
	status := domain.OrderStatusNew
	switch {
	case o.CancelExist:
		status = domain.OrderStatusCanceled
	case !o.IsActive:
		status = domain.OrderStatusFilled
	}
	return domain.Order{
		Exchange: "kucoin", Symbol: d.FromVenue(o.Symbol), ID: o.ID, ClientOrderID: o.ClientOid,
		Side: domain.OrderSide(strings.ToUpper(o.Side)), Type: domain.OrderType(strings.ToUpper(o.Type)),
		Status: status, Price: dec(o.Price), Quantity: dec(o.Size), FilledQuantity: dec(o.DealSize),
		CreatedAt: time.UnixMilli(o.CreatedAt),
	}
}

func (d *Driver) ParseOrder(body []byte) (domain.Order, error) {
	var o kucoinOrder
	if err := exchange.DecodeJSON(body, &o); err != nil {
		return domain.Order{}, err
	}
	return d.parseOrder(o), nil
}

func (d *Driver) ParseOrderCreateResult(body []byte) (domain.Order, error) {
	var env struct {
		OrderID string `json:"orderId"`
	}
	if err := exchange.DecodeJSON(body, &env); err != nil {
		return domain.Order{}, err
	}
	return domain.Order{Exchange: "kucoin", ID: env.OrderID, Status: domain.OrderStatusNew}, nil
}

type kucoinMyTrade struct {
	TradeID string `json:"tradeId"`
	OrderID string `json:"orderId"`
	Symbol  string `json:"symbol"`
	Side    string `json:"side"`
	Price   string `json:"price"`
	Size    string `json:"size"`
	Fee     string `json:"fee"`
	FeeCurrency string `json:"feeCurrency"`
	Liquidity string `json:"liquidity"`
	CreatedAt int64  `json:"createdAt"`
}

func (d *Driver) ParseMyTrade(body []byte) ([]domain.MyTrade, error) {
	var rows []kucoinMyTrade
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.MyTrade, 0, len(rows))
	for _, t := range rows {
		out = append(out, domain.MyTrade{
			Exchange: "kucoin", Symbol: d.FromVenue(t.Symbol), ID: t.TradeID, OrderID: t.OrderID,
			Price: dec(t.Price), Quantity: dec(t.Size), Side: domain.OrderSide(strings.ToUpper(t.Side)),
			IsMaker: t.Liquidity == "maker", Fee: domain.Fee{Cost: dec(t.Fee), Currency: t.FeeCurrency},
			Timestamp: time.UnixMilli(t.CreatedAt),
		})
	}
	return out, nil
}

func (d *Driver) ParseBalance(body []byte) ([]domain.Balance, error) {
	var rows []struct {
		Currency string `json:"currency"`
		Available string `json:"available"`
		Holds    string `json:"holds"`
	}
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Balance, 0, len(rows))
	for _, b := range rows {
		out = append(out, domain.Balance{Exchange: "kucoin", Asset: b.Currency, Free: dec(b.Available), Locked: dec(b.Holds), Timestamp: time.Now()})
	}
	return out, nil
}
