package exchange

import (
	"context"
	"sync/atomic"

	"github.com/lilwiggy/xchange/pkg/domain"
	"github.com/lilwiggy/xchange/pkg/errors"
	"golang.org/x/sync/singleflight"
)

// marketSet is the immutable snapshot swapped in by LoadMarkets. Readers
// see either the old or the new snapshot, never a partially built one.
type marketSet struct {
	bySymbol map[string]domain.Market
	byID     map[string]domain.Market
}

// MarketCache holds an adapter's loaded markets keyed both by unified
// symbol and by venue-native id (§4.4). Concurrent LoadMarkets calls
// collapse into a single underlying fetch.
type MarketCache struct {
	name    string
	fetch   func(ctx context.Context) ([]domain.Market, error)
	current atomic.Pointer[marketSet]
	group   singleflight.Group
}

// NewMarketCache builds a cache whose underlying fetch issues the venue's
// markets endpoint via fetch (typically Base.Request + ParseMarkets).
func NewMarketCache(name string, fetch func(ctx context.Context) ([]domain.Market, error)) *MarketCache {
	return &MarketCache{name: name, fetch: fetch}
}

// LoadMarkets rebuilds the cache from the venue if it has never been
// loaded, or if force is true. Concurrent callers collapse into one fetch.
func (c *MarketCache) LoadMarkets(ctx context.Context, force bool) error {
	if !force && c.current.Load() != nil {
		return nil
	}

	_, err, _ := c.group.Do("load", func() (any, error) {
		markets, err := c.fetch(ctx)
		if err != nil {
			return nil, errors.NewExchangeError(c.name, "load_markets", err.Error(), err)
		}

		set := &marketSet{
			bySymbol: make(map[string]domain.Market, len(markets)),
			byID:     make(map[string]domain.Market, len(markets)),
		}
		for _, m := range markets {
			set.bySymbol[m.Symbol] = m
			set.byID[m.ID] = m
		}
		c.current.Store(set)
		return nil, nil
	})
	return err
}

// Market looks up a loaded market by unified symbol. Fails if markets have
// not been loaded yet, or the symbol is unknown.
func (c *MarketCache) Market(symbol string) (domain.Market, error) {
	set := c.current.Load()
	if set == nil {
		return domain.Market{}, errors.NewExchangeError(c.name, "market", "markets not loaded", nil)
	}
	m, ok := set.bySymbol[symbol]
	if !ok {
		return domain.Market{}, errors.NewBadSymbolError(c.name, symbol)
	}
	return m, nil
}

// MarketByID looks up a loaded market by venue-native id.
func (c *MarketCache) MarketByID(id string) (domain.Market, error) {
	set := c.current.Load()
	if set == nil {
		return domain.Market{}, errors.NewExchangeError(c.name, "market", "markets not loaded", nil)
	}
	m, ok := set.byID[id]
	if !ok {
		return domain.Market{}, errors.NewBadSymbolError(c.name, id)
	}
	return m, nil
}

// Loaded reports whether LoadMarkets has populated the cache at least once.
func (c *MarketCache) Loaded() bool {
	return c.current.Load() != nil
}

// All returns every loaded market, unordered. Empty if not loaded.
func (c *MarketCache) All() []domain.Market {
	set := c.current.Load()
	if set == nil {
		return nil
	}
	out := make([]domain.Market, 0, len(set.bySymbol))
	for _, m := range set.bySymbol {
		out = append(out, m)
	}
	return out
}
