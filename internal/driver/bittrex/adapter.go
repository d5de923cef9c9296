// Package bittrex implements the Bittrex spot driver.
package bittrex

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

const BaseRestURL = "https://api.bittrex.com/v3"

// Driver implements exchange.Adapter for Bittrex spot.
type Driver struct {
	apiKey, apiSecret string
}

func init() {
	exchange.Register("bittrex", func(creds exchange.Credentials) (exchange.Adapter, error) {
		return &Driver{apiKey: creds.APIKey, apiSecret: creds.APISecret}, nil
	})
}

func (d *Driver) Name() string { return "bittrex" }

func (d *Driver) Capabilities() exchange.Capabilities {
	return exchange.Capabilities{
		FetchMarkets: true, FetchTicker: true, FetchOrderBook: true, FetchTrades: true,
		FetchOHLCV: true, FetchBalance: true, FetchOrder: true, FetchOpenOrders: true,
		FetchMyTrades: true, CreateOrder: true, CancelOrder: true,
		WatchTicker: true, WatchOrderBook: true, WatchTrades: true,
	}
}

func (d *Driver) BaseURL() string        { return BaseRestURL }
func (d *Driver) MarketsEndpoint() (string, string) { return "GET", "/markets" }
func (d *Driver) Timeout() time.Duration { return 10 * time.Second }
func (d *Driver) BodyMode() exchange.BodyMode { return exchange.BodyModeJSON }

func sha512HexBittrex(s string) string {
	h := sha512.Sum512([]byte(s))
	return hex.EncodeToString(h[:])
}

// Sign implements §4.2's Bittrex dialect: HMAC-SHA512 hex over
// msTimestamp+fullUrl+METHOD+SHA512(body|""), headers Api-Key/Api-Timestamp/
// Api-Content-Hash/Api-Signature.
func (d *Driver) Sign(_ context.Context, method, path string, params map[string]string) (exchange.SignResult, error) {
	if d.apiKey == "" || d.apiSecret == "" {
		return exchange.SignResult{}, errors.NewAuthenticationError("bittrex", "sign", "API key and secret required")
	}

	method = strings.ToUpper(method)
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)

	var body string
	fullURL := BaseRestURL + path
	if method == "GET" || method == "DELETE" {
		query := bittrexQuery(params)
		if query != "" {
			fullURL += "?" + query
		}
	} else if len(params) > 0 {
		raw, _ := json.Marshal(params)
		body = string(raw)
	}
	contentHash := sha512HexBittrex(body)

	preHash := ts + fullURL + method + contentHash
	mac := hmac.New(sha512.New, []byte(d.apiSecret))
	mac.Write([]byte(preHash))
	signature := hex.EncodeToString(mac.Sum(nil))

	headers := map[string]string{
		"Api-Key":          d.apiKey,
		"Api-Timestamp":    ts,
		"Api-Content-Hash": contentHash,
		"Api-Signature":    signature,
	}
	return exchange.SignResult{Params: params, Headers: headers}, nil
}

func bittrexQuery(params map[string]string) string {
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

type bittrexEnvelope struct {
	Code string `json:"code"`
}

func (d *Driver) HandleHTTPError(status int, body []byte) error {
	var env bittrexEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Code != "" {
		return d.classify(env.Code)
	}
	if status >= 500 {
		return errors.NewExchangeNotAvailableError("bittrex", fmt.Sprintf("HTTP %d", status))
	}
	return errors.NewBadRequestError("bittrex", strconv.Itoa(status), string(body))
}

func (d *Driver) classify(code string) error {
	switch code {
	case "INVALID_SIGNATURE", "INVALID_APIKEY", "APIKEY_INVALID":
		return errors.NewAuthenticationError("bittrex", "", code)
	case "REQUEST_RATE_LIMIT_EXCEEDED":
		return errors.NewRateLimitError("bittrex", time.Second, 1)
	case "INSUFFICIENT_FUNDS":
		return errors.NewInsufficientFundsError("bittrex", "", code)
	case "ORDER_NOT_OPEN":
		return errors.NewOrderNotFoundError("bittrex", "")
	case "MIN_TRADE_REQUIREMENT_NOT_MET", "DUST_TRADE_DISALLOWED_MIN_VALUE":
		return errors.NewInvalidOrderError("bittrex", "", code)
	case "MARKET_DOES_NOT_EXIST":
		return errors.NewBadSymbolError("bittrex", "")
	default:
		return errors.NewBadRequestError("bittrex", code, code)
	}
}

// UnwrapResponse: Bittrex v3 returns the payload bare on 2xx and {code:...}
// only on error, handled already in HandleHTTPError — passthrough (§4.5).
func (d *Driver) UnwrapResponse(body []byte) ([]byte, error) { return body, nil }

// ToVenue converts "BTC/USDT" to Bittrex's "BTC-USDT" format.
func (d *Driver) ToVenue(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", "-"))
}

func (d *Driver) FromVenue(venueID string) string {
	return strings.ToUpper(venueID)
}

type bittrexMarket struct {
	Symbol        string `json:"symbol"`
	BaseCurrencySymbol string `json:"baseCurrencySymbol"`
	QuoteCurrencySymbol string `json:"quoteCurrencySymbol"`
	MinTradeSize  string `json:"minTradeSize"`
	Precision     int    `json:"precision"`
	Status        string `json:"status"`
}

func (d *Driver) ParseMarkets(body []byte) ([]domain.Market, error) {
	var rows []bittrexMarket
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Market, 0, len(rows))
	for _, m := range rows {
		out = append(out, domain.Market{
			ID: m.Symbol, Symbol: m.BaseCurrencySymbol + "/" + m.QuoteCurrencySymbol,
			Base: m.BaseCurrencySymbol, Quote: m.QuoteCurrencySymbol, Active: m.Status == "ONLINE",
			PrecisionMode: domain.PrecisionModeDecimalPlaces, Precision: domain.Precision{Price: m.Precision},
			Limits: domain.MarketLimits{Amount: domain.MinMax{Min: dec(m.MinTradeSize)}},
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

type bittrexTicker struct {
	Symbol      string `json:"symbol"`
	LastTradeRate string `json:"lastTradeRate"`
	BidRate     string `json:"bidRate"`
	AskRate     string `json:"askRate"`
}

func (d *Driver) ParseTicker(body []byte) (domain.Ticker, error) {
	var t bittrexTicker
	if err := exchange.DecodeJSON(body, &t); err != nil {
		return domain.Ticker{}, err
	}
	return domain.Ticker{
		Exchange: "bittrex", Symbol: d.FromVenue(t.Symbol), LastPrice: dec(t.LastTradeRate),
		BidPrice: dec(t.BidRate), AskPrice: dec(t.AskRate), Timestamp: time.Now(),
	}, nil
}

func (d *Driver) ParseOrderBook(body []byte) (domain.OrderBook, error) {
	var env struct {
		Bid []struct {
			Quantity string `json:"quantity"`
			Rate     string `json:"rate"`
		} `json:"bid"`
		Ask []struct {
			Quantity string `json:"quantity"`
			Rate     string `json:"rate"`
		} `json:"ask"`
	}
	if err := exchange.DecodeJSON(body, &env); err != nil {
		return domain.OrderBook{}, err
	}
	conv := func(rows []struct {
		Quantity string `json:"quantity"`
		Rate     string `json:"rate"`
	}) []domain.OrderBookLevel {
		out := make([]domain.OrderBookLevel, 0, len(rows))
		for _, r := range rows {
			out = append(out, domain.OrderBookLevel{Price: dec(r.Rate), Quantity: dec(r.Quantity)})
		}
		return out
	}
	bids, asks := domain.NormalizeLevels(conv(env.Bid), conv(env.Ask))
	return domain.OrderBook{Exchange: "bittrex", Bids: bids, Asks: asks, Timestamp: time.Now()}, nil
}

type bittrexTrade struct {
	ID           string `json:"id"`
	ExecutedAt   string `json:"executedAt"`
	Quantity     string `json:"quantity"`
	Rate         string `json:"rate"`
	TakerSide    string `json:"takerSide"`
}

func (d *Driver) ParseTrade(body []byte) ([]domain.Trade, error) {
	var rows []bittrexTrade
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Trade, 0, len(rows))
	for _, t := range rows {
		ts, _ := time.Parse(time.RFC3339, t.ExecutedAt)
		out = append(out, domain.Trade{
			Exchange: "bittrex", ID: t.ID, Price: dec(t.Rate), Quantity: dec(t.Quantity),
			Side: domain.OrderSide(strings.ToUpper(t.TakerSide)), Timestamp: ts,
		})
	}
	return out, nil
}

// ParseCandle decodes Bittrex's {startsAt, open, high, low, close, volume,
// quoteVolume} objects (standard ordering, RFC3339 timestamps).
func (d *Driver) ParseCandle(body []byte) ([]domain.Kline, error) {
	var rows []struct {
		StartsAt string `json:"startsAt"`
		Open     string `json:"open"`
		High     string `json:"high"`
		Low      string `json:"low"`
		Close    string `json:"close"`
		Volume   string `json:"volume"`
	}
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Kline, 0, len(rows))
	for _, c := range rows {
		ts, _ := time.Parse(time.RFC3339, c.StartsAt)
		out = append(out, domain.Kline{Exchange: "bittrex", OpenTime: ts, Open: dec(c.Open), High: dec(c.High), Low: dec(c.Low), Close: dec(c.Close), Volume: dec(c.Volume)})
	}
	return out, nil
}

type bittrexOrder struct {
	ID           string `json:"id"`
	MarketSymbol string `json:"marketSymbol"`
	Direction    string `json:"direction"`
	Type         string `json:"type"`
	Quantity     string `json:"quantity"`
	Limit        string `json:"limit"`
	FillQuantity string `json:"fillQuantity"`
	Status       string `json:"status"`
	CreatedAt    string `json:"createdAt"`
}

func (d *Driver) parseOrder(o bittrexOrder) domain.Order {
	status := domain.OrderStatusNew
	switch o.Status {
	case "CLOSED":
		status = domain.OrderStatusFilled
	case "OPEN":
		status = domain.OrderStatusNew
	}
	ts, _ := time.Parse(time.RFC3339, o.CreatedAt)
	return domain.Order{
		Exchange: "bittrex", Symbol: d.FromVenue(o.MarketSymbol), ID: o.ID,
		Side: domain.OrderSide(strings.ToUpper(o.Direction)), Type: domain.OrderType(strings.ToUpper(o.Type)),
		Status: status, Price: dec(o.Limit), Quantity: dec(o.Quantity), FilledQuantity: dec(o.FillQuantity),
		CreatedAt: ts,
	}
}

func (d *Driver) ParseOrder(body []byte) (domain.Order, error) {
	var o bittrexOrder
	if err := exchange.DecodeJSON(body, &o); err != nil {
		return domain.Order{}, err
	}
	return d.parseOrder(o), nil
}

func (d *Driver) ParseOrderCreateResult(body []byte) (domain.Order, error) { return d.ParseOrder(body) }

type bittrexMyTrade struct {
	ID       string `json:"id"`
	OrderID  string `json:"orderId"`
	MarketSymbol string `json:"marketSymbol"`
	Quantity string `json:"quantity"`
	Rate     string `json:"rate"`
	ExecutedAt string `json:"executedAt"`
	IsTaker  bool   `json:"isTaker"`
	Commission string `json:"commission"`
}

func (d *Driver) ParseMyTrade(body []byte) ([]domain.MyTrade, error) {
	var rows []bittrexMyTrade
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.MyTrade, 0, len(rows))
	for _, t := range rows {
		ts, _ := time.Parse(time.RFC3339, t.ExecutedAt)
		out = append(out, domain.MyTrade{
			Exchange: "bittrex", Symbol: d.FromVenue(t.MarketSymbol), ID: t.ID, OrderID: t.OrderID,
			Price: dec(t.Rate), Quantity: dec(t.Quantity), IsMaker: !t.IsTaker,
			Fee: domain.Fee{Cost: dec(t.Commission)}, Timestamp: ts,
		})
	}
	return out, nil
}

func (d *Driver) ParseBalance(body []byte) ([]domain.Balance, error) {
	var rows []struct {
		CurrencySymbol string `json:"currencySymbol"`
		Available      string `json:"available"`
		Total          string `json:"total"`
	}
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Balance, 0, len(rows))
	for _, b := range rows {
		free, total := dec(b.Available), dec(b.Total)
		out = append(out, domain.Balance{Exchange: "bittrex", Asset: b.CurrencySymbol, Free: free, Locked: domain.Sub(total, free), Timestamp: time.Now()})
	}
	return out, nil
}
