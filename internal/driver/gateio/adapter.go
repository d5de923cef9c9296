// Package gateio implements the Gate.io spot driver.
package gateio

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
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

const BaseRestURL = "https://api.gateio.ws"

// Driver implements exchange.Adapter for Gate.io spot.
type Driver struct {
	apiKey, apiSecret string
}

func init() {
	exchange.Register("gateio", func(creds exchange.Credentials) (exchange.Adapter, error) {
		return &Driver{apiKey: creds.APIKey, apiSecret: creds.APISecret}, nil
	})
}

func (d *Driver) Name() string { return "gateio" }

func (d *Driver) Capabilities() exchange.Capabilities {
	return exchange.Capabilities{
		FetchMarkets: true, FetchTicker: true, FetchOrderBook: true, FetchTrades: true,
		FetchOHLCV: true, FetchBalance: true, FetchOrder: true, FetchOpenOrders: true,
		FetchMyTrades: true, CreateOrder: true, CancelOrder: true, CancelAllOrders: true,
		WatchTicker: true, WatchOrderBook: true, WatchTrades: true, WatchOHLCV: true, WatchOrders: true,
	}
}

func (d *Driver) BaseURL() string        { return BaseRestURL }
func (d *Driver) MarketsEndpoint() (string, string) { return "GET", "/api/v4/spot/currency_pairs" }
func (d *Driver) Timeout() time.Duration { return 10 * time.Second }
func (d *Driver) BodyMode() exchange.BodyMode { return exchange.BodyModeJSON }

func sha512Hex(s string) string {
	h := sha512.Sum512([]byte(s))
	return hex.EncodeToString(h[:])
}

// Sign implements §4.2's Gate.io dialect: HMAC-SHA512 hex over
// METHOD\npath\nquery\nSHA512(body)\nunixSeconds, headers KEY/Timestamp/SIGN.
func (d *Driver) Sign(_ context.Context, method, path string, params map[string]string) (exchange.SignResult, error) {
	if d.apiKey == "" || d.apiSecret == "" {
		return exchange.SignResult{}, errors.NewAuthenticationError("gateio", "sign", "API key and secret required")
	}

	method = strings.ToUpper(method)
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	var query, body string
	if method == "GET" || method == "DELETE" {
		query = gateioQuery(params)
	} else if len(params) > 0 {
		raw, _ := json.Marshal(params)
		body = string(raw)
	}

	preHash := method + "\n" + path + "\n" + query + "\n" + sha512Hex(body) + "\n" + ts
	mac := hmac.New(sha512.New, []byte(d.apiSecret))
	mac.Write([]byte(preHash))
	signature := hex.EncodeToString(mac.Sum(nil))

	headers := map[string]string{"KEY": d.apiKey, "Timestamp": ts, "SIGN": signature}
	return exchange.SignResult{Params: params, Headers: headers}, nil
}

func gateioQuery(params map[string]string) string {
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

type gateioEnvelope struct {
	Label   string `json:"label"`
	Message string `json:"message"`
}

func (d *Driver) HandleHTTPError(status int, body []byte) error {
	var env gateioEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Label != "" {
		return d.classify(env.Label, env.Message)
	}
	if status >= 500 {
		return errors.NewExchangeNotAvailableError("gateio", fmt.Sprintf("HTTP %d", status))
	}
	return errors.NewBadRequestError("gateio", strconv.Itoa(status), string(body))
}

func (d *Driver) classify(label, msg string) error {
	switch label {
	case "INVALID_KEY", "INVALID_SIGNATURE", "INVALID_CREDENTIALS":
		return errors.NewAuthenticationError("gateio", "", msg)
	case "TOO_MANY_REQUESTS":
		return errors.NewRateLimitError("gateio", time.Second, 1)
	case "BALANCE_NOT_ENOUGH":
		return errors.NewInsufficientFundsError("gateio", "", msg)
	case "ORDER_NOT_FOUND":
		return errors.NewOrderNotFoundError("gateio", "")
	case "INVALID_PARAM_VALUE", "QUANTITY_NOT_ENOUGH", "AMOUNT_TOO_LITTLE":
		return errors.NewInvalidOrderError("gateio", "", msg)
	default:
		return errors.NewBadRequestError("gateio", label, msg)
	}
}

// UnwrapResponse: Gate.io returns the payload bare on 2xx and the
// {label,message} envelope only on error — already handled by
// HandleHTTPError for non-2xx statuses, so this is a passthrough (§4.5).
func (d *Driver) UnwrapResponse(body []byte) ([]byte, error) { return body, nil }

// ToVenue converts "BTC/USDT" to Gate.io's "BTC_USDT" format.
func (d *Driver) ToVenue(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", "_"))
}

func (d *Driver) FromVenue(venueID string) string {
	return strings.ToUpper(strings.ReplaceAll(venueID, "_", "/"))
}

type gateioPair struct {
	ID             string `json:"id"`
	Base           string `json:"base"`
	Quote          string `json:"quote"`
	TradeStatus    string `json:"trade_status"`
	MinBaseAmount  string `json:"min_base_amount"`
	MinQuoteAmount string `json:"min_quote_amount"`
	AmountPrecision int   `json:"amount_precision"`
	Precision      int    `json:"precision"`
}

func (d *Driver) ParseMarkets(body []byte) ([]domain.Market, error) {
	var rows []gateioPair
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Market, 0, len(rows))
	for _, p := range rows {
		out = append(out, domain.Market{
			ID: p.ID, Symbol: p.Base + "/" + p.Quote, Base: p.Base, Quote: p.Quote,
			Active: p.TradeStatus == "tradable", PrecisionMode: domain.PrecisionModeDecimalPlaces,
			Precision: domain.Precision{Amount: p.AmountPrecision, Price: p.Precision},
			Limits:    domain.MarketLimits{Amount: domain.MinMax{Min: dec(p.MinBaseAmount)}, Cost: domain.MinMax{Min: dec(p.MinQuoteAmount)}},
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

type gateioTicker struct {
	CurrencyPair string `json:"currency_pair"`
	Last         string `json:"last"`
	LowestAsk    string `json:"lowest_ask"`
	HighestBid   string `json:"highest_bid"`
	ChangePercentage string `json:"change_percentage"`
	High24h      string `json:"high_24h"`
	Low24h       string `json:"low_24h"`
	BaseVolume   string `json:"base_volume"`
	QuoteVolume  string `json:"quote_volume"`
}

func (d *Driver) ParseTicker(body []byte) (domain.Ticker, error) {
	var rows []gateioTicker
	if err := exchange.DecodeJSON(body, &rows); err != nil || len(rows) == 0 {
		return domain.Ticker{}, fmt.Errorf("gateio: empty ticker response")
	}
	t := rows[0]
	return domain.Ticker{
		Exchange: "gateio", Symbol: d.FromVenue(t.CurrencyPair), LastPrice: dec(t.Last),
		AskPrice: dec(t.LowestAsk), BidPrice: dec(t.HighestBid), HighPrice: dec(t.High24h), LowPrice: dec(t.Low24h),
		Volume: dec(t.BaseVolume), QuoteVolume: dec(t.QuoteVolume), Timestamp: time.Now(),
	}, nil
}

func (d *Driver) ParseOrderBook(body []byte) (domain.OrderBook, error) {
	var env struct {
		ID   int64      `json:"id"`
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	}
	if err := exchange.DecodeJSON(body, &env); err != nil {
		return domain.OrderBook{}, err
	}
	bids, asks := domain.NormalizeLevels(levels(env.Bids), levels(env.Asks))
	return domain.OrderBook{Exchange: "gateio", Bids: bids, Asks: asks, Timestamp: time.Now()}, nil
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

type gateioTrade struct {
	ID         string `json:"id"`
	CreateTime string `json:"create_time"`
	Price      string `json:"price"`
	Amount     string `json:"amount"`
	Side       string `json:"side"`
}

func (d *Driver) ParseTrade(body []byte) ([]domain.Trade, error) {
	var rows []gateioTrade
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Trade, 0, len(rows))
	for _, t := range rows {
		secs, _ := strconv.ParseInt(t.CreateTime, 10, 64)
		out = append(out, domain.Trade{
			Exchange: "gateio", ID: t.ID, Price: dec(t.Price), Quantity: dec(t.Amount),
			Side: domain.OrderSide(strings.ToUpper(t.Side)), Timestamp: time.Unix(secs, 0),
		})
	}
	return out, nil
}

// ParseCandle decodes Gate.io's [ts_seconds, volume, close, high, low,
// open, ...] rows — a heavy reorder versus the standard OHLC layout (§4.5).
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
			Exchange: "gateio", OpenTime: time.Unix(secs, 0),
			Close: dec(row[2]), High: dec(row[3]), Low: dec(row[4]), Open: dec(row[5]), Volume: dec(row[1]),
		})
	}
	return out, nil
}

type gateioOrder struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	CurrencyPair string `json:"currency_pair"`
	Status       string `json:"status"`
	Type         string `json:"type"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	Amount       string `json:"amount"`
	FilledTotal  string `json:"filled_total"`
	CreateTime   string `json:"create_time"`
}

var gateioStatus = map[string]domain.OrderStatus{
	"open": domain.OrderStatusNew, "closed": domain.OrderStatusFilled, "cancelled": domain.OrderStatusCanceled,
}

func (d *Driver) parseOrder(o gateioOrder) domain.Order {
	status, ok := gateioStatus[o.Status]
	if !ok {
		status = domain.OrderStatus(o.Status)
	}
	secs, _ := strconv.ParseInt(o.CreateTime, 10, 64)
	return domain.Order{
		Exchange: "gateio", Symbol: d.FromVenue(o.CurrencyPair), ID: o.ID, ClientOrderID: o.Text,
		Side: domain.OrderSide(strings.ToUpper(o.Side)), Type: domain.OrderType(strings.ToUpper(o.Type)),
		Status: status, Price: dec(o.Price), Quantity: dec(o.Amount), FilledQuantity: dec(o.FilledTotal),
		CreatedAt: time.Unix(secs, 0),
	}
}

func (d *Driver) ParseOrder(body []byte) (domain.Order, error) {
	var o gateioOrder
	if err := exchange.DecodeJSON(body, &o); err != nil {
		return domain.Order{}, err
	}
	return d.parseOrder(o), nil
}

func (d *Driver) ParseOrderCreateResult(body []byte) (domain.Order, error) { return d.ParseOrder(body) }

type gateioMyTrade struct {
	ID           string `json:"id"`
	CreateTime   string `json:"create_time"`
	CurrencyPair string `json:"currency_pair"`
	OrderID      string `json:"order_id"`
	Side         string `json:"side"`
	Price        string `json:"price"`
	Amount       string `json:"amount"`
	Fee          string `json:"fee"`
	FeeCurrency  string `json:"fee_currency"`
	Role         string `json:"role"`
}

func (d *Driver) ParseMyTrade(body []byte) ([]domain.MyTrade, error) {
	var rows []gateioMyTrade
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.MyTrade, 0, len(rows))
	for _, t := range rows {
		secs, _ := strconv.ParseInt(t.CreateTime, 10, 64)
		out = append(out, domain.MyTrade{
			Exchange: "gateio", Symbol: d.FromVenue(t.CurrencyPair), ID: t.ID, OrderID: t.OrderID,
			Price: dec(t.Price), Quantity: dec(t.Amount), Side: domain.OrderSide(strings.ToUpper(t.Side)),
			IsMaker: t.Role == "maker", Fee: domain.Fee{Cost: dec(t.Fee), Currency: t.FeeCurrency}, Timestamp: time.Unix(secs, 0),
		})
	}
	return out, nil
}

func (d *Driver) ParseBalance(body []byte) ([]domain.Balance, error) {
	var rows []struct {
		Currency  string `json:"currency"`
		Available string `json:"available"`
		Locked    string `json:"locked"`
	}
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Balance, 0, len(rows))
	for _, b := range rows {
		out = append(out, domain.Balance{Exchange: "gateio", Asset: b.Currency, Free: dec(b.Available), Locked: dec(b.Locked), Timestamp: time.Now()})
	}
	return out, nil
}
