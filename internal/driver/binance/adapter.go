package binance

import (
	"context"
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

// Driver implements exchange.Adapter for Binance spot.
type Driver struct {
	signer  *Signer
	testnet bool
}

func init() {
	exchange.Register("binance", func(creds exchange.Credentials) (exchange.Adapter, error) {
		var signer *Signer
		if creds.APIKey != "" && creds.APISecret != "" {
			signer = NewSigner(creds.APIKey, creds.APISecret, DefaultRecvWindow)
			if err := signer.ValidateCredentials(); err != nil {
				return nil, err
			}
		}
		return &Driver{signer: signer, testnet: creds.Testnet}, nil
	})
}

func (d *Driver) Name() string { return "binance" }

func (d *Driver) Capabilities() exchange.Capabilities {
	return exchange.Capabilities{
		FetchMarkets: true, FetchTicker: true, FetchOrderBook: true, FetchTrades: true,
		FetchOHLCV: true, FetchBalance: true, FetchOrder: true, FetchOpenOrders: true,
		FetchMyTrades: true, CreateOrder: true, CancelOrder: true, CancelAllOrders: true,
		WatchTicker: true, WatchOrderBook: true, WatchTrades: true, WatchOHLCV: true,
		WatchOrders: true,
	}
}

func (d *Driver) BaseURL() string {
	if d.testnet {
		return TestnetRestURL
	}
	return BaseRestURL
}

func (d *Driver) MarketsEndpoint() (string, string) { return "GET", "/api/v3/exchangeInfo" }

func (d *Driver) Timeout() time.Duration { return 10 * time.Second }

func (d *Driver) BodyMode() exchange.BodyMode { return exchange.BodyModeQueryOnly }

// Sign implements the Binance dialect of §4.2: HMAC-SHA256 hex over the
// sorted URL-encoded query string (incl. timestamp+recvWindow), carried as
// a query param with the key in the X-MBX-APIKEY header.
func (d *Driver) Sign(_ context.Context, _, _ string, params map[string]string) (exchange.SignResult, error) {
	if d.signer == nil {
		return exchange.SignResult{}, errors.NewAuthenticationError("binance", "sign", "API credentials required")
	}

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	timestamp, signature := d.signer.Sign(values)

	out := make(map[string]string, len(values)+1)
	for k := range values {
		out[k] = values.Get(k)
	}
	out["timestamp"] = strconv.FormatInt(timestamp, 10)
	out["recvWindow"] = strconv.FormatInt(d.signer.RecvWindow(), 10)
	out["signature"] = signature

	return exchange.SignResult{
		Params:  out,
		Headers: map[string]string{"X-MBX-APIKEY": d.signer.APIKey()},
	}, nil
}

func (d *Driver) HandleResponseHeaders(h http.Header) {
	// Binance's used-weight headers are not read: nothing here or in Base
	// calls ratelimit.WeightedLimiter.UpdateFromHeader, so the limiter's
	// count is never corrected from the server's reported usage.
	_ = h
}

func (d *Driver) HandleHTTPError(status int, body []byte) error {
	var binanceErr struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &binanceErr); err == nil && binanceErr.Msg != "" {
		return d.classifyError(status, binanceErr.Code, binanceErr.Msg)
	}
	if status >= 500 {
		return errors.NewExchangeNotAvailableError("binance", fmt.Sprintf("HTTP %d", status))
	}
	return errors.NewBadRequestError("binance", strconv.Itoa(status), string(body))
}

func (d *Driver) classifyError(httpStatus, code int, msg string) error {
	switch {
	case code == -1015 || code == -1016 || httpStatus == http.StatusTooManyRequests:
		return errors.NewRateLimitError("binance", time.Second, 1)
	case code == -2015 || code == -1022 || httpStatus == http.StatusUnauthorized:
		return errors.NewAuthenticationError("binance", "", msg)
	case code == -2010:
		return errors.NewInsufficientFundsError("binance", "", msg)
	case code == -2011 || code == -2013:
		return errors.NewOrderNotFoundError("binance", "")
	case code == -1100 || code == -1101 || code == -1102 || code == -1103 || code == -1121:
		return errors.NewInvalidOrderError("binance", "", msg)
	case httpStatus >= 500:
		return errors.NewExchangeNotAvailableError("binance", msg)
	default:
		return errors.NewBadRequestError("binance", strconv.Itoa(code), msg)
	}
}

// UnwrapResponse is a no-op: Binance returns bare payloads on 2xx (§4.5).
func (d *Driver) UnwrapResponse(body []byte) ([]byte, error) { return body, nil }

// ToVenue converts "BTC/USDT" to "BTCUSDT".
func (d *Driver) ToVenue(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

// FromVenue converts "BTCUSDT" back to "BTC/USDT" via the generic
// quote-suffix heuristic; callers with a loaded MarketCache should prefer
// MarketCache.MarketByID.
func (d *Driver) FromVenue(venueID string) string {
	return strings.ReplaceAll(domain.NormalizeSymbol(venueID), "-", "/")
}

func (d *Driver) ParseMarkets(body []byte) ([]domain.Market, error) {
	var info ExchangeInfo
	if err := exchange.DecodeJSON(body, &info); err != nil {
		return nil, err
	}
	markets := make([]domain.Market, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		m := domain.Market{
			ID:            s.Symbol,
			Symbol:        s.BaseAsset + "/" + s.QuoteAsset,
			Base:          s.BaseAsset,
			Quote:         s.QuoteAsset,
			Active:        s.Status == "TRADING",
			PrecisionMode: domain.PrecisionModeDecimalPlaces,
			Precision:     domain.Precision{Amount: s.BaseAssetPrecision, Price: s.QuoteAssetPrecision},
		}
		for _, f := range s.Filters {
			applyBinanceFilter(&m, f)
		}
		markets = append(markets, m)
	}
	return markets, nil
}

func applyBinanceFilter(m *domain.Market, f map[string]any) {
	filterType, _ := f["filterType"].(string)
	switch filterType {
	case "PRICE_FILTER":
		m.TickSize = decimalField(f, "tickSize")
		m.Limits.Price = domain.MinMax{Min: decimalField(f, "minPrice"), Max: decimalField(f, "maxPrice")}
	case "LOT_SIZE":
		m.StepSize = decimalField(f, "stepSize")
		m.Limits.Amount = domain.MinMax{Min: decimalField(f, "minQty"), Max: decimalField(f, "maxQty")}
	case "MIN_NOTIONAL", "NOTIONAL":
		m.Limits.Cost = domain.MinMax{Min: decimalField(f, "minNotional")}
	}
}

func decimalField(f map[string]any, key string) domain.Decimal {
	s, _ := f[key].(string)
	if s == "" {
		return nil
	}
	d, err := domain.NewDecimal(s)
	if err != nil {
		return nil
	}
	return d
}

// restTicker24hr mirrors GET /api/v3/ticker/24hr.
type restTicker24hr struct {
	Symbol             string `json:"symbol"`
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
	LastPrice          string `json:"lastPrice"`
	BidPrice           string `json:"bidPrice"`
	BidQty             string `json:"bidQty"`
	AskPrice           string `json:"askPrice"`
	AskQty             string `json:"askQty"`
	OpenPrice          string `json:"openPrice"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	Volume             string `json:"volume"`
	QuoteVolume        string `json:"quoteVolume"`
	CloseTime          int64  `json:"closeTime"`
}

func (d *Driver) ParseTicker(body []byte) (domain.Ticker, error) {
	var t restTicker24hr
	if err := exchange.DecodeJSON(body, &t); err != nil {
		return domain.Ticker{}, err
	}
	return domain.Ticker{
		Exchange:           "binance",
		Symbol:             d.FromVenue(t.Symbol),
		BidPrice:           mustDecimalOrNil(t.BidPrice),
		BidQuantity:        mustDecimalOrNil(t.BidQty),
		AskPrice:           mustDecimalOrNil(t.AskPrice),
		AskQuantity:        mustDecimalOrNil(t.AskQty),
		LastPrice:          mustDecimalOrNil(t.LastPrice),
		HighPrice:          mustDecimalOrNil(t.HighPrice),
		LowPrice:           mustDecimalOrNil(t.LowPrice),
		Volume:             mustDecimalOrNil(t.Volume),
		QuoteVolume:        mustDecimalOrNil(t.QuoteVolume),
		PriceChange:        mustDecimalOrNil(t.PriceChange),
		PriceChangePercent: mustDecimalOrNil(t.PriceChangePercent),
		OpenPrice:          mustDecimalOrNil(t.OpenPrice),
		Timestamp:          time.UnixMilli(t.CloseTime),
	}, nil
}

func mustDecimalOrNil(s string) domain.Decimal {
	if s == "" {
		return nil
	}
	d, err := domain.NewDecimal(s)
	if err != nil {
		return nil
	}
	return d
}

type restDepth struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

func (d *Driver) ParseOrderBook(body []byte) (domain.OrderBook, error) {
	var raw restDepth
	if err := exchange.DecodeJSON(body, &raw); err != nil {
		return domain.OrderBook{}, err
	}
	bids, asks := domain.NormalizeLevels(parseLevels(raw.Bids), parseLevels(raw.Asks))
	return domain.OrderBook{
		Exchange:     "binance",
		Bids:         bids,
		Asks:         asks,
		LastUpdateID: raw.LastUpdateID,
		Timestamp:    time.Now(),
	}, nil
}

func parseLevels(rows [][]string) []domain.OrderBookLevel {
	out := make([]domain.OrderBookLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		price, err1 := domain.NewDecimal(row[0])
		qty, err2 := domain.NewDecimal(row[1])
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, domain.OrderBookLevel{Price: price, Quantity: qty})
	}
	return out
}

type restTrade struct {
	ID           int64  `json:"id"`
	Price        string `json:"price"`
	Qty          string `json:"qty"`
	QuoteQty     string `json:"quoteQty"`
	Time         int64  `json:"time"`
	IsBuyerMaker bool   `json:"isBuyerMaker"`
}

func (d *Driver) ParseTrade(body []byte) ([]domain.Trade, error) {
	var rows []restTrade
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Trade, 0, len(rows))
	for _, r := range rows {
		side := domain.OrderSideBuy
		if r.IsBuyerMaker {
			side = domain.OrderSideSell
		}
		out = append(out, domain.Trade{
			Exchange:      "binance",
			ID:            strconv.FormatInt(r.ID, 10),
			Price:         mustDecimalOrNil(r.Price),
			Quantity:      mustDecimalOrNil(r.Qty),
			QuoteQuantity: mustDecimalOrNil(r.QuoteQty),
			Side:          side,
			Timestamp:     time.UnixMilli(r.Time),
		})
	}
	return out, nil
}

func (d *Driver) ParseCandle(body []byte) ([]domain.Kline, error) {
	var rows [][]any
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.Kline, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			continue
		}
		out = append(out, domain.Kline{
			Exchange:  "binance",
			OpenTime:  time.UnixMilli(int64(row[0].(float64))),
			Open:      mustDecimalOrNil(fmt.Sprint(row[1])),
			High:      mustDecimalOrNil(fmt.Sprint(row[2])),
			Low:       mustDecimalOrNil(fmt.Sprint(row[3])),
			Close:     mustDecimalOrNil(fmt.Sprint(row[4])),
			Volume:    mustDecimalOrNil(fmt.Sprint(row[5])),
			CloseTime: time.UnixMilli(int64(row[6].(float64))),
		})
	}
	return out, nil
}

type restOrder struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	CumQuoteQty   string `json:"cummulativeQuoteQty"`
	Status        string `json:"status"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	Time          int64  `json:"time"`
	UpdateTime    int64  `json:"updateTime"`
}

func (d *Driver) parseOrder(r restOrder) domain.Order {
	return domain.Order{
		Exchange:       "binance",
		Symbol:         d.FromVenue(r.Symbol),
		ID:             strconv.FormatInt(r.OrderID, 10),
		ClientOrderID:  r.ClientOrderID,
		Side:           domain.OrderSide(r.Side),
		Type:           domain.OrderType(r.Type),
		Status:         domain.OrderStatus(r.Status),
		Price:          mustDecimalOrNil(r.Price),
		Quantity:       mustDecimalOrNil(r.OrigQty),
		FilledQuantity: mustDecimalOrNil(r.ExecutedQty),
		QuoteQuantity:  mustDecimalOrNil(r.CumQuoteQty),
		CreatedAt:      time.UnixMilli(r.Time),
		UpdatedAt:      time.UnixMilli(r.UpdateTime),
	}
}

func (d *Driver) ParseOrder(body []byte) (domain.Order, error) {
	var r restOrder
	if err := exchange.DecodeJSON(body, &r); err != nil {
		return domain.Order{}, err
	}
	return d.parseOrder(r), nil
}

func (d *Driver) ParseOrderCreateResult(body []byte) (domain.Order, error) {
	return d.ParseOrder(body)
}

type restMyTrade struct {
	ID              int64  `json:"id"`
	OrderID         int64  `json:"orderId"`
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	QuoteQty        string `json:"quoteQty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	Time            int64  `json:"time"`
	IsBuyer         bool   `json:"isBuyer"`
	IsMaker         bool   `json:"isMaker"`
}

func (d *Driver) ParseMyTrade(body []byte) ([]domain.MyTrade, error) {
	var rows []restMyTrade
	if err := exchange.DecodeJSON(body, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.MyTrade, 0, len(rows))
	for _, r := range rows {
		side := domain.OrderSideSell
		if r.IsBuyer {
			side = domain.OrderSideBuy
		}
		out = append(out, domain.MyTrade{
			Exchange:      "binance",
			ID:            strconv.FormatInt(r.ID, 10),
			OrderID:       strconv.FormatInt(r.OrderID, 10),
			Price:         mustDecimalOrNil(r.Price),
			Quantity:      mustDecimalOrNil(r.Qty),
			QuoteQuantity: mustDecimalOrNil(r.QuoteQty),
			Side:          side,
			IsMaker:       r.IsMaker,
			Fee:           domain.Fee{Cost: mustDecimalOrNil(r.Commission), Currency: r.CommissionAsset},
			Timestamp:     time.UnixMilli(r.Time),
		})
	}
	return out, nil
}

func (d *Driver) ParseBalance(body []byte) ([]domain.Balance, error) {
	var acct AccountInfo
	if err := exchange.DecodeJSON(body, &acct); err != nil {
		return nil, err
	}
	out := make([]domain.Balance, 0, len(acct.Balances))
	for _, b := range acct.Balances {
		out = append(out, domain.Balance{Exchange: "binance", Asset: b.Asset, Free: b.Free, Locked: b.Locked, Timestamp: time.Now()})
	}
	return out, nil
}

// ExchangeInfo mirrors GET /api/v3/exchangeInfo.
type ExchangeInfo struct {
	Timezone        string       `json:"timezone"`
	ServerTime      int64        `json:"serverTime"`
	RateLimits      []RateLimit  `json:"rateLimits"`
	ExchangeFilters []any        `json:"exchangeFilters"`
	Symbols         []SymbolInfo `json:"symbols"`
}

// RateLimit is one entry of ExchangeInfo.RateLimits.
type RateLimit struct {
	RateLimitType string `json:"rateLimitType"`
	Interval      string `json:"interval"`
	IntervalNum   int    `json:"intervalNum"`
	Limit         int    `json:"limit"`
}

// SymbolInfo is one tradable symbol within ExchangeInfo.
type SymbolInfo struct {
	Symbol                   string           `json:"symbol"`
	Status                   string           `json:"status"`
	BaseAsset                string           `json:"baseAsset"`
	BaseAssetPrecision       int              `json:"baseAssetPrecision"`
	QuoteAsset               string           `json:"quoteAsset"`
	QuotePrecision           int              `json:"quotePrecision"`
	QuoteAssetPrecision      int              `json:"quoteAssetPrecision"`
	BaseCommissionPrecision  int              `json:"baseCommissionPrecision"`
	QuoteCommissionPrecision int              `json:"quoteCommissionPrecision"`
	OrderTypes               []string         `json:"orderTypes"`
	IcebergAllowed           bool             `json:"icebergAllowed"`
	OcoAllowed               bool             `json:"ocoAllowed"`
	OtoAllowed               bool             `json:"otoAllowed"`
	SpotTradingAllowed       bool             `json:"spotTradingAllowed"`
	MarginTradingAllowed     bool             `json:"marginTradingAllowed"`
	Filters                  []map[string]any `json:"filters"`
	Permissions              []string         `json:"permissions"`
}

// AccountInfo mirrors GET /api/v3/account.
type AccountInfo struct {
	MakerCommission  int64     `json:"makerCommission"`
	TakerCommission  int64     `json:"takerCommission"`
	BuyerCommission  int64     `json:"buyerCommission"`
	SellerCommission int64     `json:"sellerCommission"`
	CanTrade         bool      `json:"canTrade"`
	CanWithdraw      bool      `json:"canWithdraw"`
	CanDeposit       bool      `json:"canDeposit"`
	UpdateTime       int64     `json:"updateTime"`
	Balances         []Balance `json:"balances"`
}

// Balance is one asset entry of AccountInfo.Balances.
type Balance struct {
	Asset  string         `json:"asset"`
	Free   domain.Decimal `json:"free"`
	Locked domain.Decimal `json:"locked"`
}
