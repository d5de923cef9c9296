// Package kraken implements the Kraken spot driver.
package kraken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	internalsync "github.com/lilwiggy/xchange/internal/sync"
	"github.com/lilwiggy/xchange/pkg/domain"
	"github.com/lilwiggy/xchange/pkg/errors"
	"github.com/lilwiggy/xchange/pkg/exchange"
)

const BaseRestURL = "https://api.kraken.com"

// currency aliases Kraken uses its own ISO-4217-ish asset codes (§4.5):
// XXBT for BTC, ZUSD for USD, ZEUR for EUR, and so on.
var toKrakenAsset = map[string]string{"BTC": "XBT", "USD": "USD", "EUR": "EUR"}
var fromKrakenAsset = map[string]string{"XXBT": "BTC", "XBT": "BTC", "ZUSD": "USD", "ZEUR": "EUR"}

func krakenAsset(ccy string) string {
	if v, ok := toKrakenAsset[ccy]; ok {
		return v
	}
	return ccy
}

func normalizeAsset(ccy string) string {
	if v, ok := fromKrakenAsset[ccy]; ok {
		return v
	}
	return strings.TrimPrefix(strings.TrimPrefix(ccy, "X"), "Z")
}

// Driver implements exchange.Adapter for Kraken spot.
type Driver struct {
	apiKey string
	secret []byte // base64-decoded
	nonce  func() int64
}

func init() {
	exchange.Register("kraken", func(creds exchange.Credentials) (exchange.Adapter, error) {
		nonceGen := internalsync.NewNonceGenerator()
		d := &Driver{apiKey: creds.APIKey, nonce: nonceGen.GenerateInt64}
		if creds.APISecret != "" {
			raw, err := base64.StdEncoding.DecodeString(creds.APISecret)
			if err != nil {
				return nil, errors.NewAuthenticationError("kraken", "sign", "API secret is not valid base64")
			}
			d.secret = raw
		}
		return d, nil
	})
}

func (d *Driver) Name() string { return "kraken" }

func (d *Driver) Capabilities() exchange.Capabilities {
	return exchange.Capabilities{
		FetchMarkets: true, FetchTicker: true, FetchOrderBook: true, FetchTrades: true,
		FetchOHLCV: true, FetchBalance: true, FetchOrder: true, FetchOpenOrders: true,
		FetchMyTrades: true, CreateOrder: true, CancelOrder: true, CancelAllOrders: true,
		WatchTicker: true, WatchOrderBook: true, WatchTrades: true, WatchOHLCV: true,
	}
}

func (d *Driver) BaseURL() string        { return BaseRestURL }
func (d *Driver) MarketsEndpoint() (string, string) { return "GET", "/0/public/AssetPairs" }
func (d *Driver) Timeout() time.Duration { return 10 * time.Second }
func (d *Driver) BodyMode() exchange.BodyMode { return exchange.BodyModeForm }

// Sign implements §4.2's Kraken dialect: HMAC-SHA512 base64 over
// path+SHA256(nonce+postData), keyed by the base64-decoded secret.
func (d *Driver) Sign(_ context.Context, _, path string, params map[string]string) (exchange.SignResult, error) {
	if d.apiKey == "" || len(d.secret) == 0 {
		return exchange.SignResult{}, errors.NewAuthenticationError("kraken", "sign", "API key and secret required")
	}

	nonce := strconv.FormatInt(d.nonce(), 10)
	out := make(map[string]string, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out["nonce"] = nonce

	postData := encodeForm(out)

	sha := sha256.New()
	sha.Write([]byte(nonce + postData))
	digest := sha.Sum(nil)

	mac := hmac.New(sha512.New, d.secret)
	mac.Write([]byte(path))
	mac.Write(digest)
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return exchange.SignResult{
		Params:  out,
		Headers: map[string]string{"API-Key": d.apiKey, "API-Sign": signature},
	}, nil
}

func encodeForm(params map[string]string) string {
	v := url.Values{}
	for k, val := range params {
		v.Set(k, val)
	}
	return v.Encode()
}

func (d *Driver) HandleResponseHeaders(h http.Header) {}

type krakenEnvelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

func (d *Driver) HandleHTTPError(status int, body []byte) error {
	var env krakenEnvelope
	if err := json.Unmarshal(body, &env); err == nil && len(env.Error) > 0 {
		return d.classify(env.Error[0])
	}
	if status >= 500 {
		return errors.NewExchangeNotAvailableError("kraken", fmt.Sprintf("HTTP %d", status))
	}
	return errors.NewBadRequestError("kraken", strconv.Itoa(status), string(body))
}

func (d *Driver) classify(code string) error {
	switch {
	case strings.Contains(code, "EAPI:Invalid key"), strings.Contains(code, "EAPI:Invalid signature"), strings.Contains(code, "EGeneral:Permission denied"):
		return errors.NewAuthenticationError("kraken", "", code)
	case strings.Contains(code, "EAPI:Rate limit"), strings.Contains(code, "EOrder:Rate limit"):
		return errors.NewRateLimitError("kraken", time.Second, 1)
	case strings.Contains(code, "EOrder:Insufficient funds"):
		return errors.NewInsufficientFundsError("kraken", "", code)
	case strings.Contains(code, "EOrder:Unknown order"), strings.Contains(code, "EOrder:Invalid order"):
		return errors.NewOrderNotFoundError("kraken", "")
	case strings.Contains(code, "EQuery:Unknown asset pair"):
		return errors.NewBadSymbolError("kraken", "")
	default:
		return errors.NewBadRequestError("kraken", code, code)
	}
}

// UnwrapResponse strips the {error[], result{}} envelope (§4.5): a non-empty
// error list is a logical failure even on HTTP 200.
func (d *Driver) UnwrapResponse(body []byte) ([]byte, error) {
	var env krakenEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.NewExchangeError("kraken", "unwrap", err.Error(), err)
	}
	if len(env.Error) > 0 {
		return nil, d.classify(env.Error[0])
	}
	return env.Result, nil
}

// ToVenue converts "BTC/USD" to Kraken's "XBTUSD" asset-pair format.
func (d *Driver) ToVenue(symbol string) string {
	parts := strings.SplitN(symbol, "/", 2)
	if len(parts) != 2 {
		return strings.ToUpper(symbol)
	}
	return krakenAsset(strings.ToUpper(parts[0])) + krakenAsset(strings.ToUpper(parts[1]))
}

// FromVenue best-effort splits a Kraken asset-pair id by stripping its
// known X/Z asset prefixes; exact market names are resolved via the market
// cache loaded from AssetPairs, which carries the true base/quote split.
func (d *Driver) FromVenue(venueID string) string {
	return normalizeAsset(venueID)
}

type krakenAssetPair struct {
	Altname string `json:"altname"`
	Base    string `json:"base"`
	Quote   string `json:"quote"`
	PairDecimals int `json:"pair_decimals"`
	LotDecimals  int `json:"lot_decimals"`
	OrderMin string `json:"ordermin"`
}

func (d *Driver) ParseMarkets(body []byte) ([]domain.Market, error) {
	var rows map[string]krakenAssetPair
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Market, 0, len(rows))
	for id, p := range rows {
		base, quote := normalizeAsset(p.Base), normalizeAsset(p.Quote)
		out = append(out, domain.Market{
			ID: id, Symbol: base + "/" + quote, Base: base, Quote: quote, Active: true,
			PrecisionMode: domain.PrecisionModeDecimalPlaces,
			Precision:     domain.Precision{Amount: p.LotDecimals, Price: p.PairDecimals},
			Limits:        domain.MarketLimits{Amount: domain.MinMax{Min: dec(p.OrderMin)}},
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

// ParseTicker decodes Kraken's {"PAIRID": {"a":[ask,...], "b":[bid,...],
// "c":[last,lot], "v":[today,24h], "h":[today,24h], "l":[today,24h],
// "o": open}} shape. The map has exactly one entry per request.
func (d *Driver) ParseTicker(body []byte) (domain.Ticker, error) {
	var rows map[string]struct {
		A []string `json:"a"`
		B []string `json:"b"`
		C []string `json:"c"`
		V []string `json:"v"`
		H []string `json:"h"`
		L []string `json:"l"`
		O string   `json:"o"`
	}
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return domain.Ticker{}, err
	}
	for id, t := range rows {
		pair := ""
		if len(t.A) > 0 {
			pair = id
		}
		_ = pair
		return domain.Ticker{
			Exchange: "kraken", AskPrice: firstDec(t.A), BidPrice: firstDec(t.B), LastPrice: firstDec(t.C),
			Volume: lastDec(t.V), HighPrice: lastDec(t.H), LowPrice: lastDec(t.L), OpenPrice: dec(t.O),
			Timestamp: time.Now(),
		}, nil
	}
	return domain.Ticker{}, fmt.Errorf("kraken: empty ticker response")
}

func firstDec(v []string) domain.Decimal {
	if len(v) == 0 {
		return nil
	}
	return dec(v[0])
}

func lastDec(v []string) domain.Decimal {
	if len(v) == 0 {
		return nil
	}
	return dec(v[len(v)-1])
}

func (d *Driver) ParseOrderBook(body []byte) (domain.OrderBook, error) {
	var rows map[string]struct {
		Bids [][]any `json:"bids"`
		Asks [][]any `json:"asks"`
	}
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return domain.OrderBook{}, err
	}
	for _, ob := range rows {
		bids, asks := domain.NormalizeLevels(krakenLevels(ob.Bids), krakenLevels(ob.Asks))
		return domain.OrderBook{Exchange: "kraken", Bids: bids, Asks: asks, Timestamp: time.Now()}, nil
	}
	return domain.OrderBook{}, fmt.Errorf("kraken: empty order book response")
}

func krakenLevels(rows [][]any) []domain.OrderBookLevel {
	out := make([]domain.OrderBookLevel, 0, len(rows))
	for _, r := range rows {
		if len(r) < 2 {
			continue
		}
		price := fmt.Sprint(r[0])
		qty := fmt.Sprint(r[1])
		out = append(out, domain.OrderBookLevel{Price: dec(price), Quantity: dec(qty)})
	}
	return out
}

func (d *Driver) ParseTrade(body []byte) ([]domain.Trade, error) {
	var rows map[string][][]any
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	var out []domain.Trade
	for _, list := range rows {
		for _, r := range list {
			if len(r) < 4 {
				continue
			}
			price, qty := fmt.Sprint(r[0]), fmt.Sprint(r[1])
			secs, _ := strconv.ParseFloat(fmt.Sprint(r[2]), 64)
			side := domain.OrderSideBuy
			if fmt.Sprint(r[3]) == "s" {
				side = domain.OrderSideSell
			}
			out = append(out, domain.Trade{Exchange: "kraken", Price: dec(price), Quantity: dec(qty), Side: side, Timestamp: time.Unix(int64(secs), 0)})
		}
	}
	return out, nil
}

// ParseCandle decodes Kraken's [time, open, high, low, close, vwap, volume,
// count] rows (seconds, standard OHLC ordering).
func (d *Driver) ParseCandle(body []byte) ([]domain.Kline, error) {
	var rows map[string]json.RawMessage
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	var out []domain.Kline
	for k, raw := range rows {
		if k == "last" {
			continue
		}
		var ohlc [][]any
		if err := json.Unmarshal(raw, &ohlc); err != nil {
			continue
		}
		for _, r := range ohlc {
			if len(r) < 7 {
				continue
			}
			secs, _ := strconv.ParseFloat(fmt.Sprint(r[0]), 64)
			out = append(out, domain.Kline{
				Exchange: "kraken", OpenTime: time.Unix(int64(secs), 0),
				Open: dec(fmt.Sprint(r[1])), High: dec(fmt.Sprint(r[2])), Low: dec(fmt.Sprint(r[3])),
				Close: dec(fmt.Sprint(r[4])), Volume: dec(fmt.Sprint(r[6])),
			})
		}
	}
	return out, nil
}

type krakenOrder struct {
	Status string `json:"status"`
	Descr  struct {
		Pair  string `json:"pair"`
		Type  string `json:"type"`
		OrderType string `json:"ordertype"`
		Price string `json:"price"`
	} `json:"descr"`
	Vol      string `json:"vol"`
	VolExec  string `json:"vol_exec"`
	OpenTm   float64 `json:"opentm"`
}

func (d *Driver) parseOrder(id string, o krakenOrder) domain.Order {
	status := domain.OrderStatus(strings.ToUpper(o.Status))
	switch o.Status {
	case "open":
		status = domain.OrderStatusNew
	case "closed":
		status = domain.OrderStatusFilled
	case "canceled", "expired":
		status = domain.OrderStatusCanceled
	}
	return domain.Order{
		Exchange: "kraken", ID: id, Side: domain.OrderSide(strings.ToUpper(o.Descr.Type)),
		Type: domain.OrderType(strings.ToUpper(o.Descr.OrderType)), Status: status,
		Price: dec(o.Descr.Price), Quantity: dec(o.Vol), FilledQuantity: dec(o.VolExec),
		CreatedAt: time.Unix(int64(o.OpenTm), 0),
	}
}

func (d *Driver) ParseOrder(body []byte) (domain.Order, error) {
	var rows map[string]krakenOrder
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return domain.Order{}, err
	}
	for id, o := range rows {
		return d.parseOrder(id, o), nil
	}
	return domain.Order{}, fmt.Errorf("kraken: order not found in response")
}

func (d *Driver) ParseOrderCreateResult(body []byte) (domain.Order, error) {
	var env struct {
		Txid []string `json:"txid"`
	}
	if err := exchange.DecodeJSON(body, &env); err != nil || len(env.Txid) == 0 {
		return domain.Order{}, fmt.Errorf("kraken: no txid in order create response")
	}
	return domain.Order{Exchange: "kraken", ID: env.Txid[0], Status: domain.OrderStatusNew}, nil
}

type krakenMyTrade struct {
	OrdTxID string `json:"ordertxid"`
	Pair    string `json:"pair"`
	Time    float64 `json:"time"`
	Type    string `json:"type"`
	Price   string `json:"price"`
	Vol     string `json:"vol"`
	Fee     string `json:"fee"`
	Maker   bool   `json:"maker"`
}

func (d *Driver) ParseMyTrade(body []byte) ([]domain.MyTrade, error) {
	var rows map[string]krakenMyTrade
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.MyTrade, 0, len(rows))
	for id, t := range rows {
		out = append(out, domain.MyTrade{
			Exchange: "kraken", ID: id, OrderID: t.OrdTxID, Price: dec(t.Price), Quantity: dec(t.Vol),
			Side: domain.OrderSide(strings.ToUpper(t.Type)), IsMaker: t.Maker,
			Fee: domain.Fee{Cost: dec(t.Fee), Currency: normalizeAsset(t.Pair)}, Timestamp: time.Unix(int64(t.Time), 0),
		})
	}
	return out, nil
}

func (d *Driver) ParseBalance(body []byte) ([]domain.Balance, error) {
	var rows map[string]string
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]domain.Balance, 0, len(keys))
	for _, k := range keys {
		out = append(out, domain.Balance{Exchange: "kraken", Asset: normalizeAsset(k), Free: dec(rows[k]), Timestamp: time.Now()})
	}
	return out, nil
}
