// Package okx implements the OKX V5 unified spot driver.
package okx

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

const BaseRestURL = "https://www.okx.com"

// Driver implements exchange.Adapter for OKX V5 spot.
type Driver struct {
	apiKey, apiSecret, passphrase string
	testnet                       bool
}

func init() {
	exchange.Register("okx", func(creds exchange.Credentials) (exchange.Adapter, error) {
		return &Driver{apiKey: creds.APIKey, apiSecret: creds.APISecret, passphrase: creds.Passphrase, testnet: creds.Testnet}, nil
	})
}

func (d *Driver) Name() string { return "okx" }

func (d *Driver) Capabilities() exchange.Capabilities {
	return exchange.Capabilities{
		FetchMarkets: true, FetchTicker: true, FetchOrderBook: true, FetchTrades: true,
		FetchOHLCV: true, FetchBalance: true, FetchOrder: true, FetchOpenOrders: true,
		FetchMyTrades: true, CreateOrder: true, CancelOrder: true, CancelAllOrders: true,
		WatchTicker: true, WatchOrderBook: true, WatchTrades: true, WatchOHLCV: true, WatchOrders: true,
	}
}

func (d *Driver) BaseURL() string      { return BaseRestURL }
func (d *Driver) MarketsEndpoint() (string, string) { return "GET", "/api/v5/public/instruments?instType=SPOT" }
func (d *Driver) Timeout() time.Duration { return 10 * time.Second }
func (d *Driver) BodyMode() exchange.BodyMode { return exchange.BodyModeJSON }

// Sign implements §4.2's OKX dialect: HMAC-SHA256 base64 over
// isoTimestamp+METHOD+path+body, carried in OK-ACCESS-* headers.
func (d *Driver) Sign(_ context.Context, method, path string, params map[string]string) (exchange.SignResult, error) {
	if d.apiKey == "" || d.apiSecret == "" || d.passphrase == "" {
		return exchange.SignResult{}, errors.NewAuthenticationError("okx", "sign", "API key, secret and passphrase required")
	}

	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	method = strings.ToUpper(method)

	var body string
	fullPath := path
	if method == "GET" || method == "DELETE" {
		query := okxQuery(params)
		if query != "" {
			fullPath = path + "?" + query
		}
	} else if len(params) > 0 {
		raw, _ := json.Marshal(params)
		body = string(raw)
	}

	preHash := ts + method + fullPath + body
	mac := hmac.New(sha256.New, []byte(d.apiSecret))
	mac.Write([]byte(preHash))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	headers := map[string]string{
		"OK-ACCESS-KEY":        d.apiKey,
		"OK-ACCESS-SIGN":       signature,
		"OK-ACCESS-TIMESTAMP":  ts,
		"OK-ACCESS-PASSPHRASE": d.passphrase,
	}
	if d.testnet {
		headers["x-simulated-trading"] = "1"
	}

	return exchange.SignResult{Params: params, Headers: headers}, nil
}

func okxQuery(params map[string]string) string {
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

type okxEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (d *Driver) HandleHTTPError(status int, body []byte) error {
	var env okxEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Code != "" {
		return d.classify(env.Code, env.Msg)
	}
	if status >= 500 {
		return errors.NewExchangeNotAvailableError("okx", fmt.Sprintf("HTTP %d", status))
	}
	return errors.NewBadRequestError("okx", strconv.Itoa(status), string(body))
}

func (d *Driver) classify(code, msg string) error {
	switch code {
	case "50111", "50113", "50114":
		return errors.NewAuthenticationError("okx", "", msg)
	case "50011":
		return errors.NewRateLimitError("okx", time.Second, 1)
	case "51008", "51004":
		return errors.NewInsufficientFundsError("okx", "", msg)
	case "51400", "51401", "51603":
		return errors.NewOrderNotFoundError("okx", "")
	case "51000", "51020":
		return errors.NewInvalidOrderError("okx", "", msg)
	case "0":
		return nil
	default:
		return errors.NewBadRequestError("okx", code, msg)
	}
}

// UnwrapResponse strips the {code, msg, data} envelope; code != "0" on an
// HTTP-2xx response is a logical failure (§4.5).
func (d *Driver) UnwrapResponse(body []byte) ([]byte, error) {
	var env okxEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.NewExchangeError("okx", "unwrap", err.Error(), err)
	}
	if env.Code != "" && env.Code != "0" {
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

type okxInstrument struct {
	InstID  string `json:"instId"`
	BaseCcy string `json:"baseCcy"`
	QuoteCcy string `json:"quoteCcy"`
	State   string `json:"state"`
	TickSz  string `json:"tickSz"`
	LotSz   string `json:"lotSz"`
	MinSz   string `json:"minSz"`
}

func (d *Driver) ParseMarkets(body []byte) ([]domain.Market, error) {
	var rows []okxInstrument
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Market, 0, len(rows))
	for _, s := range rows {
		out = append(out, domain.Market{
			ID: s.InstID, Symbol: s.BaseCcy + "/" + s.QuoteCcy, Base: s.BaseCcy, Quote: s.QuoteCcy,
			Active: s.State == "live", PrecisionMode: domain.PrecisionModeTickSize,
			TickSize: dec(s.TickSz), StepSize: dec(s.LotSz),
			Limits: domain.MarketLimits{Amount: domain.MinMax{Min: dec(s.MinSz)}},
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

type okxTicker struct {
	InstID  string `json:"instId"`
	Last    string `json:"last"`
	BidPx   string `json:"bidPx"`
	BidSz   string `json:"bidSz"`
	AskPx   string `json:"askPx"`
	AskSz   string `json:"askSz"`
	Open24h string `json:"open24h"`
	High24h string `json:"high24h"`
	Low24h  string `json:"low24h"`
	Vol24h  string `json:"vol24h"`
	VolCcy24h string `json:"volCcy24h"`
	Ts      string `json:"ts"`
}

func (d *Driver) ParseTicker(body []byte) (domain.Ticker, error) {
	var rows []okxTicker
	if err := exchange.DecodeJSON(body, &rows); err != nil || len(rows) == 0 {
		return domain.Ticker{}, fmt.Errorf("okx: empty ticker data")
	}
	t := rows[0]
	ms, _ := strconv.ParseInt(t.Ts, 10, 64)
	return domain.Ticker{
		Exchange: "okx", Symbol: d.FromVenue(t.InstID),
		BidPrice: dec(t.BidPx), BidQuantity: dec(t.BidSz), AskPrice: dec(t.AskPx), AskQuantity: dec(t.AskSz),
		LastPrice: dec(t.Last), OpenPrice: dec(t.Open24h), HighPrice: dec(t.High24h), LowPrice: dec(t.Low24h),
		Volume: dec(t.Vol24h), QuoteVolume: dec(t.VolCcy24h), Timestamp: time.UnixMilli(ms),
	}, nil
}

func (d *Driver) ParseOrderBook(body []byte) (domain.OrderBook, error) {
	var rows []struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
		Ts   string     `json:"ts"`
	}
	if err := exchange.DecodeJSON(body, &rows); err != nil || len(rows) == 0 {
		return domain.OrderBook{}, fmt.Errorf("okx: empty order book data")
	}
	ms, _ := strconv.ParseInt(rows[0].Ts, 10, 64)
	bids, asks := domain.NormalizeLevels(levels(rows[0].Bids), levels(rows[0].Asks))
	return domain.OrderBook{Exchange: "okx", Bids: bids, Asks: asks, Timestamp: time.UnixMilli(ms)}, nil
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

type okxTrade struct {
	InstID string `json:"instId"`
	TradeID string `json:"tradeId"`
	Px     string `json:"px"`
	Sz     string `json:"sz"`
	Side   string `json:"side"`
	Ts     string `json:"ts"`
}

func (d *Driver) ParseTrade(body []byte) ([]domain.Trade, error) {
	var rows []okxTrade
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Trade, 0, len(rows))
	for _, t := range rows {
		ms, _ := strconv.ParseInt(t.Ts, 10, 64)
		out = append(out, domain.Trade{
			Exchange: "okx", Symbol: d.FromVenue(t.InstID), ID: t.TradeID, Price: dec(t.Px), Quantity: dec(t.Sz),
			Side: domain.OrderSide(strings.ToUpper(t.Side)), Timestamp: time.UnixMilli(ms),
		})
	}
	return out, nil
}

// ParseCandle decodes OKX's [ts, o, h, l, c, vol, volCcy] rows (milliseconds,
// standard ordering).
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
		ms, _ := strconv.ParseInt(row[0], 10, 64)
		out = append(out, domain.Kline{Exchange: "okx", OpenTime: time.UnixMilli(ms), Open: dec(row[1]), High: dec(row[2]), Low: dec(row[3]), Close: dec(row[4]), Volume: dec(row[5])})
	}
	return out, nil
}

type okxOrder struct {
	InstID   string `json:"instId"`
	OrdID    string `json:"ordId"`
	ClOrdID  string `json:"clOrdId"`
	Px       string `json:"px"`
	Sz       string `json:"sz"`
	AccFillSz string `json:"accFillSz"`
	State    string `json:"state"`
	OrdType  string `json:"ordType"`
	Side     string `json:"side"`
	CTime    string `json:"cTime"`
	UTime    string `json:"uTime"`
}

var okxStatus = map[string]domain.OrderStatus{
	"live": domain.OrderStatusNew, "partially_filled": domain.OrderStatusPartiallyFilled,
	"filled": domain.OrderStatusFilled, "canceled": domain.OrderStatusCanceled,
}

func (d *Driver) parseOrder(o okxOrder) domain.Order {
	status, ok := okxStatus[o.State]
	if !ok {
		status = domain.OrderStatus(o.State)
	}
	ct, _ := strconv.ParseInt(o.CTime, 10, 64)
	ut, _ := strconv.ParseInt(o.UTime, 10, 64)
	return domain.Order{
		Exchange: "okx", Symbol: d.FromVenue(o.InstID), ID: o.OrdID, ClientOrderID: o.ClOrdID,
		Side: domain.OrderSide(strings.ToUpper(o.Side)), Type: domain.OrderType(strings.ToUpper(o.OrdType)),
		Status: status, Price: dec(o.Px), Quantity: dec(o.Sz), FilledQuantity: dec(o.AccFillSz),
		CreatedAt: time.UnixMilli(ct), UpdatedAt: time.UnixMilli(ut),
	}
}

func (d *Driver) ParseOrder(body []byte) (domain.Order, error) {
	var rows []okxOrder
	if err := exchange.DecodeJSON(body, &rows); err != nil || len(rows) == 0 {
		return domain.Order{}, fmt.Errorf("okx: order not found in response")
	}
	return d.parseOrder(rows[0]), nil
}

func (d *Driver) ParseOrderCreateResult(body []byte) (domain.Order, error) { return d.ParseOrder(body) }

type okxMyTrade struct {
	InstID  string `json:"instId"`
	TradeID string `json:"tradeId"`
	OrdID   string `json:"ordId"`
	Side    string `json:"side"`
	FillPx  string `json:"fillPx"`
	FillSz  string `json:"fillSz"`
	Fee     string `json:"fee"`
	FeeCcy  string `json:"feeCcy"`
	ExecType string `json:"execType"`
	Ts      string `json:"ts"`
}

func (d *Driver) ParseMyTrade(body []byte) ([]domain.MyTrade, error) {
	var rows []okxMyTrade
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.MyTrade, 0, len(rows))
	for _, t := range rows {
		ms, _ := strconv.ParseInt(t.Ts, 10, 64)
		out = append(out, domain.MyTrade{
			Exchange: "okx", Symbol: d.FromVenue(t.InstID), ID: t.TradeID, OrderID: t.OrdID,
			Price: dec(t.FillPx), Quantity: dec(t.FillSz), Side: domain.OrderSide(strings.ToUpper(t.Side)),
			IsMaker: t.ExecType == "M", Fee: domain.Fee{Cost: dec(t.Fee), Currency: t.FeeCcy}, Timestamp: time.UnixMilli(ms),
		})
	}
	return out, nil
}

func (d *Driver) ParseBalance(body []byte) ([]domain.Balance, error) {
	var rows []struct {
		Details []struct {
			Ccy     string `json:"ccy"`
			AvailBal string `json:"availBal"`
			FrozenBal string `json:"frozenBal"`
		} `json:"details"`
	}
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	var out []domain.Balance
	for _, r := range rows {
		for _, b := range r.Details {
			out = append(out, domain.Balance{Exchange: "okx", Asset: b.Ccy, Free: dec(b.AvailBal), Locked: dec(b.FrozenBal), Timestamp: time.Now()})
		}
	}
	return out, nil
}
