package exchange

// Capabilities is the Go expression of a venue's `has.*` table: a static
// set of booleans the base pipeline consults to short-circuit an operation
// an adapter does not implement, rather than letting it fail deep inside a
// venue's 400/404 response.
type Capabilities struct {
	FetchMarkets    bool
	FetchTicker     bool
	FetchOrderBook  bool
	FetchTrades     bool
	FetchOHLCV      bool
	FetchBalance    bool
	FetchOrder      bool
	FetchOpenOrders bool
	FetchMyTrades   bool
	CreateOrder     bool
	CancelOrder     bool
	CancelAllOrders bool

	WatchTicker    bool
	WatchOrderBook bool
	WatchTrades    bool
	WatchOHLCV     bool
	WatchOrders    bool
	WatchBalance   bool

	// MarginTrading and Margin short-position features are out of scope
	// for every adapter in this package; the field exists so a future
	// adapter can flip it on without widening the struct.
	MarginTrading bool
}

// Supports reports whether cap permits the named operation. Operation is
// the exported method name on Adapter/Exchange, e.g. "CreateOrder".
func (c Capabilities) Supports(operation string) bool {
	switch operation {
	case "FetchMarkets":
		return c.FetchMarkets
	case "FetchTicker":
		return c.FetchTicker
	case "FetchOrderBook":
		return c.FetchOrderBook
	case "FetchTrades":
		return c.FetchTrades
	case "FetchOHLCV":
		return c.FetchOHLCV
	case "FetchBalance":
		return c.FetchBalance
	case "FetchOrder":
		return c.FetchOrder
	case "FetchOpenOrders":
		return c.FetchOpenOrders
	case "FetchMyTrades":
		return c.FetchMyTrades
	case "CreateOrder":
		return c.CreateOrder
	case "CancelOrder":
		return c.CancelOrder
	case "CancelAllOrders":
		return c.CancelAllOrders
	case "WatchTicker":
		return c.WatchTicker
	case "WatchOrderBook":
		return c.WatchOrderBook
	case "WatchTrades":
		return c.WatchTrades
	case "WatchOHLCV":
		return c.WatchOHLCV
	case "WatchOrders":
		return c.WatchOrders
	case "WatchBalance":
		return c.WatchBalance
	default:
		return false
	}
}
