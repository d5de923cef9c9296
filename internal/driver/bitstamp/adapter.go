// Package bitstamp implements the Bitstamp spot driver.
package bitstamp

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lilwiggy/xchange/pkg/domain"
	"github.com/lilwiggy/xchange/pkg/errors"
	"github.com/lilwiggy/xchange/pkg/exchange"
)

const BaseRestURL = "https://www.bitstamp.net"

// Driver implements exchange.Adapter for Bitstamp spot.
type Driver struct {
	apiKey, apiSecret string
}

func init() {
	exchange.Register("bitstamp", func(creds exchange.Credentials) (exchange.Adapter, error) {
		return &Driver{apiKey: creds.APIKey, apiSecret: creds.APISecret}, nil
	})
}

func (d *Driver) Name() string { return "bitstamp" }

func (d *Driver) Capabilities() exchange.Capabilities {
	return exchange.Capabilities{
		FetchMarkets: true, FetchTicker: true, FetchOrderBook: true, FetchTrades: true,
		FetchOHLCV: true, FetchBalance: true, FetchOrder: true, FetchOpenOrders: true,
		FetchMyTrades: true, CreateOrder: true, CancelOrder: true, CancelAllOrders: true,
		WatchTicker: true, WatchOrderBook: true, WatchTrades: true,
	}
}

func (d *Driver) BaseURL() string        { return BaseRestURL }
func (d *Driver) MarketsEndpoint() (string, string) { return "GET", "/api/v2/trading-pairs-info/" }
func (d *Driver) Timeout() time.Duration { return 10 * time.Second }
func (d *Driver) BodyMode() exchange.BodyMode { return exchange.BodyModeForm }

func uuidv4() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}

// Sign implements §4.2's Bitstamp dialect: HMAC-SHA256 hex over a
// constructed string incorporating a UUIDv4 nonce.
func (d *Driver) Sign(_ context.Context, method, path string, params map[string]string) (exchange.SignResult, error) {
	if d.apiKey == "" || d.apiSecret == "" {
		return exchange.SignResult{}, errors.NewAuthenticationError("bitstamp", "sign", "API key and secret required")
	}

	method = strings.ToUpper(method)
	nonce := uuidv4()
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	contentType := ""
	body := ""
	if len(params) > 0 {
		form := url.Values{}
		for k, v := range params {
			form.Set(k, v)
		}
		body = form.Encode()
		contentType = "application/x-www-form-urlencoded"
	}

	host := "www.bitstamp.net"
	preHash := "BITSTAMP " + d.apiKey + method + host + path + contentType + nonce + ts + "v2" + body
	mac := hmac.New(sha256.New, []byte(d.apiSecret))
	mac.Write([]byte(preHash))
	signature := hex.EncodeToString(mac.Sum(nil))

	headers := map[string]string{
		"X-Auth":            "BITSTAMP " + d.apiKey,
		"X-Auth-Signature":  signature,
		"X-Auth-Nonce":      nonce,
		"X-Auth-Timestamp":  ts,
		"X-Auth-Version":    "v2",
	}
	if contentType != "" {
		headers["Content-Type"] = contentType
	}
	return exchange.SignResult{Params: params, Headers: headers}, nil
}

func (d *Driver) HandleResponseHeaders(h http.Header) {}

type bitstampEnvelope struct {
	Status string          `json:"status"`
	Reason json.RawMessage `json:"reason"`
	Code   string          `json:"code"`
}

func (d *Driver) HandleHTTPError(status int, body []byte) error {
	var env bitstampEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Status == "error" {
		return d.classify(env.Code, string(env.Reason))
	}
	if status >= 500 {
		return errors.NewExchangeNotAvailableError("bitstamp", fmt.Sprintf("HTTP %d", status))
	}
	return errors.NewBadRequestError("bitstamp", strconv.Itoa(status), string(body))
}

func (d *Driver) classify(code, reason string) error {
	switch {
	case strings.Contains(code, "API0001"), strings.Contains(code, "API0002"), strings.Contains(reason, "Invalid signature"):
		return errors.NewAuthenticationError("bitstamp", "", reason)
	case strings.Contains(code, "API0006"):
		return errors.NewRateLimitError("bitstamp", time.Second, 1)
	case strings.Contains(reason, "not enough balance"), strings.Contains(reason, "insufficient"):
		return errors.NewInsufficientFundsError("bitstamp", "", reason)
	case strings.Contains(reason, "Order not found"):
		return errors.NewOrderNotFoundError("bitstamp", "")
	case strings.Contains(reason, "Minimum order"), strings.Contains(reason, "Invalid amount"):
		return errors.NewInvalidOrderError("bitstamp", "", reason)
	default:
		return errors.NewBadRequestError("bitstamp", code, reason)
	}
}

// UnwrapResponse strips Bitstamp's {status:"error",...} envelope; a success
// response has no "status" field at all (§4.5).
func (d *Driver) UnwrapResponse(body []byte) ([]byte, error) {
	var env bitstampEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Status == "error" {
		return nil, d.classify(env.Code, string(env.Reason))
	}
	return body, nil
}

// ToVenue converts "BTC/USDT" to Bitstamp's lowercase "btcusdt" format.
func (d *Driver) ToVenue(symbol string) string {
	return strings.ToLower(strings.ReplaceAll(symbol, "/", ""))
}

func (d *Driver) FromVenue(venueID string) string {
	return strings.ToUpper(venueID)
}

type bitstampPair struct {
	URLSymbol    string `json:"url_symbol"`
	Base         string `json:"base_decimals"`
	Name         string `json:"name"`
	CounterDecimals string `json:"counter_decimals"`
	BaseDecimals string `json:"base_decimals"`
	MinimumOrder string `json:"minimum_order"`
	Trading      string `json:"trading"`
	Description  string `json:"description"`
}

func (d *Driver) ParseMarkets(body []byte) ([]domain.Market, error) {
	var rows []bitstampPair
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Market, 0, len(rows))
	for _, p := range rows {
		base, quote := splitDescription(p.Description)
		amountPrec, _ := strconv.Atoi(p.BaseDecimals)
		pricePrec, _ := strconv.Atoi(p.CounterDecimals)
		out = append(out, domain.Market{
			ID: p.URLSymbol, Symbol: base + "/" + quote, Base: base, Quote: quote,
			Active: p.Trading == "Enabled", PrecisionMode: domain.PrecisionModeDecimalPlaces,
			Precision: domain.Precision{Amount: amountPrec, Price: pricePrec},
		})
	}
	return out, nil
}

// splitDescription splits Bitstamp's "Base / Quote" description on its first
// "/" and trims the halves. A description without "/" is returned whole as
// the base with an empty quote; url_symbol is not consulted.
func splitDescription(desc string) (string, string) {
	parts := strings.SplitN(desc, "/", 2)
	if len(parts) != 2 {
		return desc, ""
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
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

type bitstampTicker struct {
	Last      string `json:"last"`
	Bid       string `json:"bid"`
	Ask       string `json:"ask"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Volume    string `json:"volume"`
	Open      string `json:"open"`
	Timestamp string `json:"timestamp"`
}

func (d *Driver) ParseTicker(body []byte) (domain.Ticker, error) {
	var t bitstampTicker
	if err := exchange.DecodeJSON(body, &t); err != nil {
		return domain.Ticker{}, err
	}
	secs, _ := strconv.ParseInt(t.Timestamp, 10, 64)
	return domain.Ticker{
		Exchange: "bitstamp", LastPrice: dec(t.Last), BidPrice: dec(t.Bid), AskPrice: dec(t.Ask),
		HighPrice: dec(t.High), LowPrice: dec(t.Low), OpenPrice: dec(t.Open), Volume: dec(t.Volume),
		Timestamp: time.Unix(secs, 0),
	}, nil
}

func (d *Driver) ParseOrderBook(body []byte) (domain.OrderBook, error) {
	var env struct {
		Bids      [][]string `json:"bids"`
		Asks      [][]string `json:"asks"`
		Timestamp string     `json:"timestamp"`
	}
	if err := exchange.DecodeJSON(body, &env); err != nil {
		return domain.OrderBook{}, err
	}
	secs, _ := strconv.ParseInt(env.Timestamp, 10, 64)
	bids, asks := domain.NormalizeLevels(levels(env.Bids), levels(env.Asks))
	return domain.OrderBook{Exchange: "bitstamp", Bids: bids, Asks: asks, Timestamp: time.Unix(secs, 0)}, nil
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

type bitstampTrade struct {
	Date   string `json:"date"`
	TID    string `json:"tid"`
	Price  string `json:"price"`
	Amount string `json:"amount"`
	Type   string `json:"type"` // "0" buy, "1" sell
}

func (d *Driver) ParseTrade(body []byte) ([]domain.Trade, error) {
	var rows []bitstampTrade
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Trade, 0, len(rows))
	for _, t := range rows {
		secs, _ := strconv.ParseInt(t.Date, 10, 64)
		side := domain.OrderSideBuy
		if t.Type == "1" {
			side = domain.OrderSideSell
		}
		out = append(out, domain.Trade{Exchange: "bitstamp", ID: t.TID, Price: dec(t.Price), Quantity: dec(t.Amount), Side: side, Timestamp: time.Unix(secs, 0)})
	}
	return out, nil
}

// ParseCandle decodes Bitstamp's OHLC object
// {"data":{"ohlc":[{"timestamp","open","high","low","close","volume"},...]}}.
func (d *Driver) ParseCandle(body []byte) ([]domain.Kline, error) {
	var env struct {
		Data struct {
			OHLC []struct {
				Timestamp string `json:"timestamp"`
				Open      string `json:"open"`
				High      string `json:"high"`
				Low       string `json:"low"`
				Close     string `json:"close"`
				Volume    string `json:"volume"`
			} `json:"ohlc"`
		} `json:"data"`
	}
	if err := exchange.DecodeJSON(body, &env); err != nil {
		return nil, err
	}
	out := make([]domain.Kline, 0, len(env.Data.OHLC))
	for _, c := range env.Data.OHLC {
		secs, _ := strconv.ParseInt(c.Timestamp, 10, 64)
		out = append(out, domain.Kline{Exchange: "bitstamp", OpenTime: time.Unix(secs, 0), Open: dec(c.Open), High: dec(c.High), Low: dec(c.Low), Close: dec(c.Close), Volume: dec(c.Volume)})
	}
	return out, nil
}

type bitstampOrder struct {
	ID              int64  `json:"id"`
	Type            int    `json:"type"`
	Status          string `json:"status"`
	Market          string `json:"market"`
	Price           string `json:"price"`
	Amount          string `json:"amount"`
	AmountRemaining string `json:"amount_remaining"`
	DateTime        string `json:"datetime"`
}

var bitstampStatus = map[string]domain.OrderStatus{
	"Open": domain.OrderStatusNew, "Finished": domain.OrderStatusFilled, "Canceled": domain.OrderStatusCanceled,
	"In Queue": domain.OrderStatusNew,
}

func (d *Driver) parseOrder(o bitstampOrder) domain.Order {
	status, ok := bitstampStatus[o.Status]
	if !ok {
		status = domain.OrderStatus(o.Status)
	}
	side := domain.OrderSideBuy
	if o.Type == 1 {
		side = domain.OrderSideSell
	}
	filled := domain.Sub(dec(o.Amount), dec(o.AmountRemaining))
	return domain.Order{
		Exchange: "bitstamp", Symbol: d.FromVenue(o.Market), ID: strconv.FormatInt(o.ID, 10),
		Side: side, Status: status, Price: dec(o.Price), Quantity: dec(o.Amount), FilledQuantity: filled,
	}
}

func (d *Driver) ParseOrder(body []byte) (domain.Order, error) {
	var o bitstampOrder
	if err := exchange.DecodeJSON(body, &o); err != nil {
		return domain.Order{}, err
	}
	return d.parseOrder(o), nil
}

func (d *Driver) ParseOrderCreateResult(body []byte) (domain.Order, error) {
	var env struct {
		ID     int64  `json:"id"`
		Price  string `json:"price"`
		Amount string `json:"amount"`
		Type   int    `json:"type"`
	}
	if err := exchange.DecodeJSON(body, &env); err != nil {
		return domain.Order{}, err
	}
	side := domain.OrderSideBuy
	if env.Type == 1 {
		side = domain.OrderSideSell
	}
	return domain.Order{Exchange: "bitstamp", ID: strconv.FormatInt(env.ID, 10), Side: side, Price: dec(env.Price), Quantity: dec(env.Amount), Status: domain.OrderStatusNew}, nil
}

type bitstampMyTrade struct {
	ID      int64  `json:"id"`
	OrderID int64  `json:"order_id"`
	Type    int    `json:"type"`
	Price   string `json:"price"`
	Fee     string `json:"fee"`
	Datetime string `json:"datetime"`
}

func (d *Driver) ParseMyTrade(body []byte) ([]domain.MyTrade, error) {
	var rows []bitstampMyTrade
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.MyTrade, 0, len(rows))
	for _, t := range rows {
		side := domain.OrderSideBuy
		if t.Type == 1 {
			side = domain.OrderSideSell
		}
		out = append(out, domain.MyTrade{
			Exchange: "bitstamp", ID: strconv.FormatInt(t.ID, 10), OrderID: strconv.FormatInt(t.OrderID, 10),
			Price: dec(t.Price), Side: side, Fee: domain.Fee{Cost: dec(t.Fee)},
		})
	}
	return out, nil
}

func (d *Driver) ParseBalance(body []byte) ([]domain.Balance, error) {
	var raw map[string]string
	if err := exchange.DecodeJSON(body, &raw); err != nil {
		return nil, err
	}
	byAsset := make(map[string]*domain.Balance)
	for k, v := range raw {
		var asset, field string
		switch {
		case strings.HasSuffix(k, "_available"):
			asset, field = strings.TrimSuffix(k, "_available"), "free"
		case strings.HasSuffix(k, "_reserved"):
			asset, field = strings.TrimSuffix(k, "_reserved"), "locked"
		default:
			continue
		}
		b, ok := byAsset[asset]
		if !ok {
			b = &domain.Balance{Exchange: "bitstamp", Asset: strings.ToUpper(asset), Timestamp: time.Now()}
			byAsset[asset] = b
		}
		if field == "free" {
			b.Free = dec(v)
		} else {
			b.Locked = dec(v)
		}
	}
	out := make([]domain.Balance, 0, len(byAsset))
	for _, b := range byAsset {
		out = append(out, *b)
	}
	return out, nil
}
