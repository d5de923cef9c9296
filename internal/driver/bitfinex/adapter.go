// Package bitfinex implements the Bitfinex spot driver.
package bitfinex

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

	internalsync "github.com/lilwiggy/xchange/internal/sync"
	"github.com/lilwiggy/xchange/pkg/domain"
	"github.com/lilwiggy/xchange/pkg/errors"
	"github.com/lilwiggy/xchange/pkg/exchange"
)

const BaseRestURL = "https://api.bitfinex.com"

// Driver implements exchange.Adapter for Bitfinex spot.
type Driver struct {
	apiKey, apiSecret string
	nonce             func() int64
}

func init() {
	exchange.Register("bitfinex", func(creds exchange.Credentials) (exchange.Adapter, error) {
		nonceGen := internalsync.NewNonceGenerator()
		return &Driver{apiKey: creds.APIKey, apiSecret: creds.APISecret, nonce: nonceGen.GenerateInt64}, nil
	})
}

func (d *Driver) Name() string { return "bitfinex" }

func (d *Driver) Capabilities() exchange.Capabilities {
	return exchange.Capabilities{
		FetchMarkets: true, FetchTicker: true, FetchOrderBook: true, FetchTrades: true,
		FetchOHLCV: true, FetchBalance: true, FetchOrder: true, FetchOpenOrders: true,
		FetchMyTrades: true, CreateOrder: true, CancelOrder: true, CancelAllOrders: true,
		WatchTicker: true, WatchOrderBook: true, WatchTrades: true, WatchOHLCV: true,
	}
}

func (d *Driver) BaseURL() string        { return BaseRestURL }
func (d *Driver) MarketsEndpoint() (string, string) { return "GET", "/v2/conf/pub:info:pair" }
func (d *Driver) Timeout() time.Duration { return 10 * time.Second }
func (d *Driver) BodyMode() exchange.BodyMode { return exchange.BodyModeJSON }

// Sign implements §4.2's Bitfinex dialect: HMAC-SHA384 hex over
// "/api/"+path+microNonce+jsonBody, bfx-* headers.
func (d *Driver) Sign(_ context.Context, _, path string, params map[string]string) (exchange.SignResult, error) {
	if d.apiKey == "" || d.apiSecret == "" {
		return exchange.SignResult{}, errors.NewAuthenticationError("bitfinex", "sign", "API key and secret required")
	}

	nonce := strconv.FormatInt(d.nonce(), 10)
	body := "{}"
	if len(params) > 0 {
		raw, _ := json.Marshal(params)
		body = string(raw)
	}

	preHash := "/api/" + path + nonce + body
	mac := hmac.New(sha512.New384, []byte(d.apiSecret))
	mac.Write([]byte(preHash))
	signature := hex.EncodeToString(mac.Sum(nil))

	headers := map[string]string{
		"bfx-apikey": d.apiKey,
		"bfx-nonce":  nonce,
		"bfx-signature": signature,
	}
	return exchange.SignResult{Params: params, Headers: headers}, nil
}

func (d *Driver) HandleResponseHeaders(h http.Header) {}

func (d *Driver) HandleHTTPError(status int, body []byte) error {
	// Bitfinex error envelope: [errCode, "error", "message"]
	var row []any
	if err := json.Unmarshal(body, &row); err == nil && len(row) >= 3 {
		if label, ok := row[1].(string); ok && label == "error" {
			msg, _ := row[2].(string)
			return d.classify(msg)
		}
	}
	if status >= 500 {
		return errors.NewExchangeNotAvailableError("bitfinex", fmt.Sprintf("HTTP %d", status))
	}
	return errors.NewBadRequestError("bitfinex", strconv.Itoa(status), string(body))
}

func (d *Driver) classify(msg string) error {
	switch {
	case strings.Contains(msg, "apikey: invalid"), strings.Contains(msg, "apikey: digest"):
		return errors.NewAuthenticationError("bitfinex", "", msg)
	case strings.Contains(msg, "ratelimit"):
		return errors.NewRateLimitError("bitfinex", time.Second, 1)
	case strings.Contains(msg, "not enough"), strings.Contains(msg, "balance"):
		return errors.NewInsufficientFundsError("bitfinex", "", msg)
	case strings.Contains(msg, "Order not found"):
		return errors.NewOrderNotFoundError("bitfinex", "")
	case strings.Contains(msg, "Invalid order"):
		return errors.NewInvalidOrderError("bitfinex", "", msg)
	default:
		return errors.NewBadRequestError("bitfinex", "", msg)
	}
}

// UnwrapResponse: Bitfinex returns bare arrays/objects on success — the
// [errCode, "error", message] shape only appears on error, already handled
// by HandleHTTPError for non-2xx responses, so this is a passthrough.
func (d *Driver) UnwrapResponse(body []byte) ([]byte, error) { return body, nil }

// ToVenue converts "BTC/USDT" to Bitfinex's "tBTCUST" trading-pair format
// (§4.5 currency alias: USDT is quoted as UST).
func (d *Driver) ToVenue(symbol string) string {
	parts := strings.SplitN(symbol, "/", 2)
	if len(parts) != 2 {
		return "t" + strings.ToUpper(symbol)
	}
	base, quote := bfxCurrency(strings.ToUpper(parts[0])), bfxCurrency(strings.ToUpper(parts[1]))
	return "t" + base + quote
}

func bfxCurrency(ccy string) string {
	if ccy == "USDT" {
		return "UST"
	}
	return ccy
}

func normalizeCurrency(ccy string) string {
	if ccy == "UST" {
		return "USDT"
	}
	return ccy
}

// FromVenue strips the leading 't' trading-pair marker; the true base/quote
// split for non-3-letter assets comes from the market cache.
func (d *Driver) FromVenue(venueID string) string {
	return strings.TrimPrefix(venueID, "t")
}

type bfxSymbolDetails struct {
	Pair        string
	MinOrderSize string
	MaxOrderSize string
	PricePrecision int
}

// ParseMarkets decodes Bitfinex's conf/pub:info:pair response, a single
// array-of-arrays row per symbol: ["BTCUST", [ _, _, _, minOrderSize,
// maxOrderSize, ... ]].
func (d *Driver) ParseMarkets(body []byte) ([]domain.Market, error) {
	var rows [][]any
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	var flat [][]any
	if len(rows) == 1 {
		if inner, ok := rows[0].([]any); ok {
			for _, r := range inner {
				if pair, ok2 := r.([]any); ok2 {
					flat = append(flat, pair)
				}
			}
		}
	}
	out := make([]domain.Market, 0, len(flat))
	for _, r := range flat {
		if len(r) < 2 {
			continue
		}
		pair, _ := r[0].(string)
		details, _ := r[1].([]any)
		base, quote := splitBfxPair(pair)
		m := domain.Market{
			ID: "t" + pair, Symbol: normalizeCurrency(base) + "/" + normalizeCurrency(quote),
			Base: normalizeCurrency(base), Quote: normalizeCurrency(quote), Active: true,
			PrecisionMode: domain.PrecisionModeDecimalPlaces, Precision: domain.Precision{Price: 5},
		}
		if len(details) >= 5 {
			m.Limits.Amount.Min = dec(fmt.Sprint(details[3]))
			m.Limits.Amount.Max = dec(fmt.Sprint(details[4]))
		}
		out = append(out, m)
	}
	return out, nil
}

func splitBfxPair(pair string) (string, string) {
	if idx := strings.Index(pair, ":"); idx >= 0 {
		return pair[:idx], pair[idx+1:]
	}
	if len(pair) == 6 {
		return pair[:3], pair[3:]
	}
	return pair, ""
}

func dec(s string) domain.Decimal {
	if s == "" || s == "<nil>" {
		return nil
	}
	v, err := domain.NewDecimal(s)
	if err != nil {
		return nil
	}
	return v
}

// ParseTicker decodes Bitfinex's bare-array ticker row:
// [BID, BID_SIZE, ASK, ASK_SIZE, DAILY_CHANGE, DAILY_CHANGE_RELATIVE,
//  LAST_PRICE, VOLUME, HIGH, LOW].
func (d *Driver) ParseTicker(body []byte) (domain.Ticker, error) {
	var row []any
	if err := exchange.DecodeJSON(body, &row); err != nil || len(row) < 10 {
		return domain.Ticker{}, fmt.Errorf("bitfinex: malformed ticker row")
	}
	f := func(i int) domain.Decimal { return dec(fmt.Sprint(row[i])) }
	return domain.Ticker{
		Exchange: "bitfinex", BidPrice: f(0), BidQuantity: f(1), AskPrice: f(2), AskQuantity: f(3),
		LastPrice: f(6), Volume: f(7), HighPrice: f(8), LowPrice: f(9), Timestamp: time.Now(),
	}, nil
}

// ParseOrderBook decodes Bitfinex's [PRICE, COUNT, AMOUNT] rows where a
// positive AMOUNT is a bid and negative is an ask (§4.5 side-from-sign).
func (d *Driver) ParseOrderBook(body []byte) (domain.OrderBook, error) {
	var rows [][]any
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return domain.OrderBook{}, err
	}
	var book domain.OrderBook
	book.Exchange = "bitfinex"
	book.Timestamp = time.Now()
	for _, r := range rows {
		if len(r) < 3 {
			continue
		}
		price := dec(fmt.Sprint(r[0]))
		amount := fmt.Sprint(r[2])
		qty := dec(strings.TrimPrefix(amount, "-"))
		lvl := domain.OrderBookLevel{Price: price, Quantity: qty}
		if strings.HasPrefix(amount, "-") {
			book.Asks = append(book.Asks, lvl)
		} else {
			book.Bids = append(book.Bids, lvl)
		}
	}
	book.Bids, book.Asks = domain.NormalizeLevels(book.Bids, book.Asks)
	return book, nil
}

// ParseTrade decodes Bitfinex's [ID, MTS, AMOUNT, PRICE] rows; side comes
// from AMOUNT's sign, not an explicit field (§4.5).
func (d *Driver) ParseTrade(body []byte) ([]domain.Trade, error) {
	var rows [][]any
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Trade, 0, len(rows))
	for _, r := range rows {
		if len(r) < 4 {
			continue
		}
		id := fmt.Sprint(r[0])
		ms, _ := strconv.ParseInt(fmt.Sprint(r[1]), 10, 64)
		amount := fmt.Sprint(r[2])
		side := domain.OrderSideBuy
		if strings.HasPrefix(amount, "-") {
			side = domain.OrderSideSell
		}
		qty := dec(strings.TrimPrefix(amount, "-"))
		price := dec(fmt.Sprint(r[3]))
		out = append(out, domain.Trade{Exchange: "bitfinex", ID: id, Price: price, Quantity: qty, Side: side, Timestamp: time.UnixMilli(ms)})
	}
	return out, nil
}

// ParseCandle decodes Bitfinex's [MTS, OPEN, CLOSE, HIGH, LOW, VOLUME] rows
// — note OPEN/CLOSE come before HIGH/LOW, unlike the standard ordering
// (§4.5 candle field reordering).
func (d *Driver) ParseCandle(body []byte) ([]domain.Kline, error) {
	var rows [][]any
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Kline, 0, len(rows))
	for _, r := range rows {
		if len(r) < 6 {
			continue
		}
		msF, _ := r[0].(float64)
		ms := int64(msF)
		out = append(out, domain.Kline{
			Exchange: "bitfinex", OpenTime: time.UnixMilli(ms),
			Open: dec(fmt.Sprint(r[1])), Close: dec(fmt.Sprint(r[2])), High: dec(fmt.Sprint(r[3])),
			Low: dec(fmt.Sprint(r[4])), Volume: dec(fmt.Sprint(r[5])),
		})
	}
	return out, nil
}

// stripOrderTypePrefix removes Bitfinex's "EXCHANGE " dialect prefix from
// order types like "EXCHANGE LIMIT" / "EXCHANGE MARKET" (§4.5).
func stripOrderTypePrefix(t string) string {
	return strings.TrimPrefix(t, "EXCHANGE ")
}

var bfxStatus = map[string]domain.OrderStatus{
	"ACTIVE": domain.OrderStatusNew, "EXECUTED": domain.OrderStatusFilled,
	"PARTIALLY FILLED": domain.OrderStatusPartiallyFilled, "CANCELED": domain.OrderStatusCanceled,
}

// ParseOrder decodes Bitfinex's order row:
// [ID,GID,CID,SYMBOL,MTS_CREATE,MTS_UPDATE,AMOUNT,AMOUNT_ORIG,TYPE,
//  TYPE_PREV,_,_,FLAGS,STATUS,_,_,PRICE,PRICE_AVG,...].
func (d *Driver) ParseOrder(body []byte) (domain.Order, error) {
	var rows [][]any
	if err := exchange.DecodeJSON(body, &rows); err != nil || len(rows) == 0 {
		return domain.Order{}, fmt.Errorf("bitfinex: order not found in response")
	}
	return d.parseOrderRow(rows[0])
}

func (d *Driver) parseOrderRow(r []any) (domain.Order, error) {
	if len(r) < 17 {
		return domain.Order{}, fmt.Errorf("bitfinex: malformed order row")
	}
	id := fmt.Sprint(r[0])
	symbol, _ := r[3].(string)
	ms, _ := strconv.ParseInt(fmt.Sprint(r[4]), 10, 64)
	amountOrig := fmt.Sprint(r[7])
	side := domain.OrderSideBuy
	if strings.HasPrefix(amountOrig, "-") {
		side = domain.OrderSideSell
	}
	typ, _ := r[8].(string)
	statusRaw, _ := r[13].(string)
	status := domain.OrderStatus(statusRaw)
	for prefix, s := range bfxStatus {
		if strings.HasPrefix(statusRaw, prefix) {
			status = s
			break
		}
	}
	price := dec(fmt.Sprint(r[16]))
	return domain.Order{
		Exchange: "bitfinex", Symbol: d.FromVenue(symbol), ID: id, Side: side,
		Type: domain.OrderType(stripOrderTypePrefix(typ)), Status: status,
		Quantity: dec(strings.TrimPrefix(amountOrig, "-")), Price: price, CreatedAt: time.UnixMilli(ms),
	}, nil
}

func (d *Driver) ParseOrderCreateResult(body []byte) (domain.Order, error) {
	var env []any
	if err := exchange.DecodeJSON(body, &env); err != nil || len(env) < 5 {
		return domain.Order{}, fmt.Errorf("bitfinex: malformed order create response")
	}
	rows, ok := env[4].([]any)
	if !ok || len(rows) == 0 {
		return domain.Order{}, fmt.Errorf("bitfinex: no order in create response")
	}
	row, ok := rows[0].([]any)
	if !ok {
		return domain.Order{}, fmt.Errorf("bitfinex: malformed order create row")
	}
	return d.parseOrderRow(row)
}

// ParseMyTrade decodes Bitfinex's trade-execution row:
// [ID,PAIR,MTS,ORDER_ID,EXEC_AMOUNT,EXEC_PRICE,ORDER_TYPE,ORDER_PRICE,
//  MAKER,FEE,FEE_CURRENCY,...].
func (d *Driver) ParseMyTrade(body []byte) ([]domain.MyTrade, error) {
	var rows [][]any
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.MyTrade, 0, len(rows))
	for _, r := range rows {
		if len(r) < 11 {
			continue
		}
		id := fmt.Sprint(r[0])
		pair, _ := r[1].(string)
		ms, _ := strconv.ParseInt(fmt.Sprint(r[2]), 10, 64)
		orderID := fmt.Sprint(r[3])
		execAmount := fmt.Sprint(r[4])
		side := domain.OrderSideBuy
		if strings.HasPrefix(execAmount, "-") {
			side = domain.OrderSideSell
		}
		price := dec(fmt.Sprint(r[5]))
		maker := fmt.Sprint(r[8]) == "1"
		fee := dec(fmt.Sprint(r[9]))
		feeCcy, _ := r[10].(string)
		out = append(out, domain.MyTrade{
			Exchange: "bitfinex", Symbol: d.FromVenue(pair), ID: id, OrderID: orderID,
			Price: price, Quantity: dec(strings.TrimPrefix(execAmount, "-")), Side: side, IsMaker: maker,
			Fee: domain.Fee{Cost: fee, Currency: normalizeCurrency(feeCcy)}, Timestamp: time.UnixMilli(ms),
		})
	}
	return out, nil
}

// ParseBalance decodes Bitfinex's [WALLET_TYPE, CURRENCY, BALANCE,
// UNSETTLED_INTEREST, AVAILABLE_BALANCE] rows, wallet-type "exchange" only.
func (d *Driver) ParseBalance(body []byte) ([]domain.Balance, error) {
	var rows [][]any
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	var out []domain.Balance
	for _, r := range rows {
		if len(r) < 5 {
			continue
		}
		walletType, _ := r[0].(string)
		if walletType != "exchange" {
			continue
		}
		ccy, _ := r[1].(string)
		total := dec(fmt.Sprint(r[2]))
		avail := dec(fmt.Sprint(r[4]))
		locked := domain.Sub(total, avail)
		out = append(out, domain.Balance{Exchange: "bitfinex", Asset: normalizeCurrency(ccy), Free: avail, Locked: locked, Timestamp: time.Now()})
	}
	return out, nil
}
