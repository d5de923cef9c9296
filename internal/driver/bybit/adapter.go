// Package bybit implements the Bybit V5 unified spot driver.
package bybit

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

const (
	BaseRestURL = "https://api.bybit.com"
	BaseWSURL   = "wss://stream.bybit.com/v5/public/spot"

	defaultRecvWindow = "5000"
)

// Driver implements exchange.Adapter for Bybit V5 spot.
type Driver struct {
	apiKey, apiSecret string
	testnet           bool
}

func init() {
	exchange.Register("bybit", func(creds exchange.Credentials) (exchange.Adapter, error) {
		return &Driver{apiKey: creds.APIKey, apiSecret: creds.APISecret, testnet: creds.Testnet}, nil
	})
}

func (d *Driver) Name() string { return "bybit" }

func (d *Driver) Capabilities() exchange.Capabilities {
	return exchange.Capabilities{
		FetchMarkets: true, FetchTicker: true, FetchOrderBook: true, FetchTrades: true,
		FetchOHLCV: true, FetchBalance: true, FetchOrder: true, FetchOpenOrders: true,
		FetchMyTrades: true, CreateOrder: true, CancelOrder: true, CancelAllOrders: true,
		WatchTicker: true, WatchOrderBook: true, WatchTrades: true, WatchOHLCV: true,
	}
}

func (d *Driver) BaseURL() string {
	if d.testnet {
		return "https://api-testnet.bybit.com"
	}
	return BaseRestURL
}

func (d *Driver) MarketsEndpoint() (string, string) {
	return "GET", "/v5/market/instruments-info?category=spot"
}

func (d *Driver) Timeout() time.Duration     { return 10 * time.Second }
func (d *Driver) BodyMode() exchange.BodyMode { return exchange.BodyModeJSON }

// Sign implements §4.2's Bybit dialect: HMAC-SHA256 hex over
// timestamp+apiKey+recvWindow+(query|jsonBody), carried in X-BAPI-* headers.
func (d *Driver) Sign(_ context.Context, method, _ string, params map[string]string) (exchange.SignResult, error) {
	if d.apiKey == "" || d.apiSecret == "" {
		return exchange.SignResult{}, errors.NewAuthenticationError("bybit", "sign", "API credentials required")
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	var payload string
	if strings.ToUpper(method) == "GET" {
		payload = sortedQuery(params)
	} else {
		body, _ := json.Marshal(params)
		payload = string(body)
	}

	preHash := timestamp + d.apiKey + defaultRecvWindow + payload
	mac := hmac.New(sha256.New, []byte(d.apiSecret))
	mac.Write([]byte(preHash))
	signature := hex.EncodeToString(mac.Sum(nil))

	return exchange.SignResult{
		Params: params,
		Headers: map[string]string{
			"X-BAPI-API-KEY":     d.apiKey,
			"X-BAPI-TIMESTAMP":   timestamp,
			"X-BAPI-RECV-WINDOW": defaultRecvWindow,
			"X-BAPI-SIGN":        signature,
		},
	}, nil
}

func sortedQuery(params map[string]string) string {
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

type bybitEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func (d *Driver) HandleHTTPError(status int, body []byte) error {
	var env bybitEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.RetMsg != "" {
		return d.classify(env.RetCode, env.RetMsg)
	}
	if status >= 500 {
		return errors.NewExchangeNotAvailableError("bybit", fmt.Sprintf("HTTP %d", status))
	}
	return errors.NewBadRequestError("bybit", strconv.Itoa(status), string(body))
}

func (d *Driver) classify(code int, msg string) error {
	switch code {
	case 10003, 10004, 10005:
		return errors.NewAuthenticationError("bybit", "", msg)
	case 10006:
		return errors.NewRateLimitError("bybit", time.Second, 1)
	case 110007, 110012:
		return errors.NewInsufficientFundsError("bybit", "", msg)
	case 110001, 20001:
		return errors.NewOrderNotFoundError("bybit", "")
	case 110017, 110013:
		return errors.NewInvalidOrderError("bybit", "", msg)
	case 10001:
		return errors.NewBadRequestError("bybit", strconv.Itoa(code), msg)
	default:
		return errors.NewBadRequestError("bybit", strconv.Itoa(code), msg)
	}
}

// UnwrapResponse strips the {retCode, retMsg, result} envelope; retCode !=
// 0 on an HTTP-2xx response is a logical failure (§4.5).
func (d *Driver) UnwrapResponse(body []byte) ([]byte, error) {
	var env bybitEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, errors.NewExchangeError("bybit", "unwrap", err.Error(), err)
	}
	if env.RetCode != 0 {
		return nil, d.classify(env.RetCode, env.RetMsg)
	}
	return env.Result, nil
}

// ToVenue converts "BTC/USDT" to "BTCUSDT".
func (d *Driver) ToVenue(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

func (d *Driver) FromVenue(venueID string) string {
	return strings.ReplaceAll(domain.NormalizeSymbol(venueID), "-", "/")
}

type bybitInstrument struct {
	Symbol     string `json:"symbol"`
	BaseCoin   string `json:"baseCoin"`
	QuoteCoin  string `json:"quoteCoin"`
	Status     string `json:"status"`
	LotSizeFilter struct {
		BasePrecision  string `json:"basePrecision"`
		QuotePrecision string `json:"quotePrecision"`
		MinOrderQty    string `json:"minOrderQty"`
		MaxOrderQty    string `json:"maxOrderQty"`
		MinOrderAmt    string `json:"minOrderAmt"`
		QtyStep        string `json:"qtyStep"`
	} `json:"lotSizeFilter"`
	PriceFilter struct {
		TickSize string `json:"tickSize"`
	} `json:"priceFilter"`
}

func (d *Driver) ParseMarkets(body []byte) ([]domain.Market, error) {
	var wrap struct {
		List []bybitInstrument `json:"list"`
	}
	if err := exchange.DecodeJSON(body, &wrap); err != nil {
		return nil, err
	}
	out := make([]domain.Market, 0, len(wrap.List))
	for _, s := range wrap.List {
		out = append(out, domain.Market{
			ID: s.Symbol, Symbol: s.BaseCoin + "/" + s.QuoteCoin, Base: s.BaseCoin, Quote: s.QuoteCoin,
			Active:        s.Status == "Trading",
			PrecisionMode: domain.PrecisionModeTickSize,
			TickSize:      dec(s.PriceFilter.TickSize),
			StepSize:      dec(s.LotSizeFilter.QtyStep),
			Limits: domain.MarketLimits{
				Amount: domain.MinMax{Min: dec(s.LotSizeFilter.MinOrderQty), Max: dec(s.LotSizeFilter.MaxOrderQty)},
				Cost:   domain.MinMax{Min: dec(s.LotSizeFilter.MinOrderAmt)},
			},
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

type bybitTicker struct {
	Symbol      string `json:"symbol"`
	Bid1Price   string `json:"bid1Price"`
	Bid1Size    string `json:"bid1Size"`
	Ask1Price   string `json:"ask1Price"`
	Ask1Size    string `json:"ask1Size"`
	LastPrice   string `json:"lastPrice"`
	HighPrice24h string `json:"highPrice24h"`
	LowPrice24h string `json:"lowPrice24h"`
	Volume24h   string `json:"volume24h"`
	Turnover24h string `json:"turnover24h"`
	PrevPrice24h string `json:"prevPrice24h"`
}

func (d *Driver) ParseTicker(body []byte) (domain.Ticker, error) {
	var wrap struct {
		List []bybitTicker `json:"list"`
	}
	if err := exchange.DecodeJSON(body, &wrap); err != nil || len(wrap.List) == 0 {
		return domain.Ticker{}, fmt.Errorf("bybit: empty ticker list")
	}
	t := wrap.List[0]
	return domain.Ticker{
		Exchange: "bybit", Symbol: d.FromVenue(t.Symbol),
		BidPrice: dec(t.Bid1Price), BidQuantity: dec(t.Bid1Size),
		AskPrice: dec(t.Ask1Price), AskQuantity: dec(t.Ask1Size),
		LastPrice: dec(t.LastPrice), HighPrice: dec(t.HighPrice24h), LowPrice: dec(t.LowPrice24h),
		Volume: dec(t.Volume24h), QuoteVolume: dec(t.Turnover24h), OpenPrice: dec(t.PrevPrice24h),
		Timestamp: time.Now(),
	}, nil
}

// ParseOrderBook parses Bybit's {s, b, a, ts, u} depth snapshot. u is the
// per-connection update sequence the spec's end-to-end scenario 5 checks.
func (d *Driver) ParseOrderBook(body []byte) (domain.OrderBook, error) {
	var raw struct {
		Symbol string     `json:"s"`
		Bids   [][]string `json:"b"`
		Asks   [][]string `json:"a"`
		Ts     int64      `json:"ts"`
		Update int64      `json:"u"`
	}
	if err := exchange.DecodeJSON(body, &raw); err != nil {
		return domain.OrderBook{}, err
	}
	bids, asks := domain.NormalizeLevels(levels(raw.Bids), levels(raw.Asks))
	return domain.OrderBook{
		Exchange: "bybit", Symbol: d.FromVenue(raw.Symbol),
		Bids: bids, Asks: asks,
		LastUpdateID: raw.Update, Timestamp: time.UnixMilli(raw.Ts),
	}, nil
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

type bybitTrade struct {
	ExecID string `json:"execId"`
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
	Size   string `json:"size"`
	Side   string `json:"side"`
	Time   string `json:"time"`
}

func (d *Driver) ParseTrade(body []byte) ([]domain.Trade, error) {
	var wrap struct {
		List []bybitTrade `json:"list"`
	}
	if err := exchange.DecodeJSON(body, &wrap); err != nil {
		return nil, err
	}
	out := make([]domain.Trade, 0, len(wrap.List))
	for _, t := range wrap.List {
		ms, _ := strconv.ParseInt(t.Time, 10, 64)
		out = append(out, domain.Trade{
			Exchange: "bybit", Symbol: d.FromVenue(t.Symbol), ID: t.ExecID,
			Price: dec(t.Price), Quantity: dec(t.Size),
			Side: domain.OrderSide(strings.ToUpper(t.Side)), Timestamp: time.UnixMilli(ms),
		})
	}
	return out, nil
}

// ParseCandle decodes Bybit's [start, open, high, low, close, volume,
// turnover] kline rows (milliseconds, standard ordering).
func (d *Driver) ParseCandle(body []byte) ([]domain.Kline, error) {
	var wrap struct {
		List [][]string `json:"list"`
	}
	if err := exchange.DecodeJSON(body, &wrap); err != nil {
		return nil, err
	}
	out := make([]domain.Kline, 0, len(wrap.List))
	for _, row := range wrap.List {
		if len(row) < 6 {
			continue
		}
		ms, _ := strconv.ParseInt(row[0], 10, 64)
		out = append(out, domain.Kline{
			Exchange: "bybit", OpenTime: time.UnixMilli(ms),
			Open: dec(row[1]), High: dec(row[2]), Low: dec(row[3]), Close: dec(row[4]), Volume: dec(row[5]),
		})
	}
	return out, nil
}

type bybitOrder struct {
	Symbol      string `json:"symbol"`
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Price       string `json:"price"`
	Qty         string `json:"qty"`
	CumExecQty  string `json:"cumExecQty"`
	CumExecValue string `json:"cumExecValue"`
	OrderStatus string `json:"orderStatus"`
	OrderType   string `json:"orderType"`
	Side        string `json:"side"`
	CreatedTime string `json:"createdTime"`
	UpdatedTime string `json:"updatedTime"`
}

var bybitStatus = map[string]domain.OrderStatus{
	"New": domain.OrderStatusNew, "PartiallyFilled": domain.OrderStatusPartiallyFilled,
	"Filled": domain.OrderStatusFilled, "Cancelled": domain.OrderStatusCanceled,
	"Rejected": domain.OrderStatusRejected,
}

func (d *Driver) parseOrder(o bybitOrder) domain.Order {
	status, ok := bybitStatus[o.OrderStatus]
	if !ok {
		status = domain.OrderStatus(o.OrderStatus)
	}
	created, _ := strconv.ParseInt(o.CreatedTime, 10, 64)
	updated, _ := strconv.ParseInt(o.UpdatedTime, 10, 64)
	return domain.Order{
		Exchange: "bybit", Symbol: d.FromVenue(o.Symbol), ID: o.OrderID, ClientOrderID: o.OrderLinkID,
		Side: domain.OrderSide(strings.ToUpper(o.Side)), Type: domain.OrderType(strings.ToUpper(o.OrderType)),
		Status: status, Price: dec(o.Price), Quantity: dec(o.Qty),
		FilledQuantity: dec(o.CumExecQty), QuoteQuantity: dec(o.CumExecValue),
		CreatedAt: time.UnixMilli(created), UpdatedAt: time.UnixMilli(updated),
	}
}

func (d *Driver) ParseOrder(body []byte) (domain.Order, error) {
	var wrap struct {
		List []bybitOrder `json:"list"`
	}
	if err := exchange.DecodeJSON(body, &wrap); err != nil || len(wrap.List) == 0 {
		return domain.Order{}, fmt.Errorf("bybit: order not found in response")
	}
	return d.parseOrder(wrap.List[0]), nil
}

func (d *Driver) ParseOrderCreateResult(body []byte) (domain.Order, error) {
	var o bybitOrder
	if err := exchange.DecodeJSON(body, &o); err != nil {
		return domain.Order{}, err
	}
	return d.parseOrder(o), nil
}

type bybitMyTrade struct {
	ExecID      string `json:"execId"`
	OrderID     string `json:"orderId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	ExecPrice   string `json:"execPrice"`
	ExecQty     string `json:"execQty"`
	ExecValue   string `json:"execValue"`
	ExecFee     string `json:"execFee"`
	FeeCurrency string `json:"feeCurrency"`
	IsMaker     bool   `json:"isMaker"`
	ExecTime    string `json:"execTime"`
}

func (d *Driver) ParseMyTrade(body []byte) ([]domain.MyTrade, error) {
	var wrap struct {
		List []bybitMyTrade `json:"list"`
	}
	if err := exchange.DecodeJSON(body, &wrap); err != nil {
		return nil, err
	}
	out := make([]domain.MyTrade, 0, len(wrap.List))
	for _, t := range wrap.List {
		ms, _ := strconv.ParseInt(t.ExecTime, 10, 64)
		out = append(out, domain.MyTrade{
			Exchange: "bybit", Symbol: d.FromVenue(t.Symbol), ID: t.ExecID, OrderID: t.OrderID,
			Price: dec(t.ExecPrice), Quantity: dec(t.ExecQty), QuoteQuantity: dec(t.ExecValue),
			Side: domain.OrderSide(strings.ToUpper(t.Side)), IsMaker: t.IsMaker,
			Fee: domain.Fee{Cost: dec(t.ExecFee), Currency: t.FeeCurrency}, Timestamp: time.UnixMilli(ms),
		})
	}
	return out, nil
}

func (d *Driver) ParseBalance(body []byte) ([]domain.Balance, error) {
	var wrap struct {
		List []struct {
			Coin []struct {
				Coin            string `json:"coin"`
				WalletBalance   string `json:"walletBalance"`
				Locked          string `json:"locked"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := exchange.DecodeJSON(body, &wrap); err != nil {
		return nil, err
	}
	var out []domain.Balance
	for _, acct := range wrap.List {
		for _, c := range acct.Coin {
			total := dec(c.WalletBalance)
			locked := dec(c.Locked)
			free := total
			if total != nil && locked != nil {
				free = domain.Sub(total, locked)
			}
			out = append(out, domain.Balance{Exchange: "bybit", Asset: c.Coin, Free: free, Locked: locked, Timestamp: time.Now()})
		}
	}
	return out, nil
}
