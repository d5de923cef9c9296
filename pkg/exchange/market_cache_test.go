package exchange

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lilwiggy/xchange/pkg/domain"
)

// TestMarketCache_LoadMarkets_SingleFlight exercises testable property 8:
// K concurrent LoadMarkets() calls on a fresh cache collapse into exactly
// one underlying fetch.
func TestMarketCache_LoadMarkets_SingleFlight(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})

	fetch := func(ctx context.Context) ([]domain.Market, error) {
		calls.Add(1)
		<-release // hold every concurrent caller in the same in-flight fetch
		return []domain.Market{{Symbol: "BTC/USDT", ID: "BTCUSDT"}}, nil
	}

	cache := NewMarketCache("testvenue", fetch)

	const K = 20
	var wg sync.WaitGroup
	errs := make([]error, K)
	for i := 0; i < K; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = cache.LoadMarkets(context.Background(), false)
		}(i)
	}

	time.Sleep(20 * time.Millisecond) // let every goroutine enter group.Do
	close(release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: unexpected error: %v", i, err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("fetch called %d times, want exactly 1", got)
	}
	if !cache.Loaded() {
		t.Error("expected cache to be loaded after LoadMarkets")
	}
}

func TestMarketCache_LoadMarkets_SkipsWhenAlreadyLoaded(t *testing.T) {
	var calls atomic.Int32
	fetch := func(ctx context.Context) ([]domain.Market, error) {
		calls.Add(1)
		return []domain.Market{{Symbol: "BTC/USDT", ID: "BTCUSDT"}}, nil
	}
	cache := NewMarketCache("testvenue", fetch)

	if err := cache.LoadMarkets(context.Background(), false); err != nil {
		t.Fatalf("first LoadMarkets: %v", err)
	}
	if err := cache.LoadMarkets(context.Background(), false); err != nil {
		t.Fatalf("second LoadMarkets: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("fetch called %d times without force, want 1", got)
	}

	if err := cache.LoadMarkets(context.Background(), true); err != nil {
		t.Fatalf("forced LoadMarkets: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("fetch called %d times after force=true, want 2", got)
	}
}

func TestMarketCache_MarketLookup(t *testing.T) {
	fetch := func(ctx context.Context) ([]domain.Market, error) {
		return []domain.Market{{Symbol: "BTC/USDT", ID: "BTCUSDT"}}, nil
	}
	cache := NewMarketCache("testvenue", fetch)

	if _, err := cache.Market("BTC/USDT"); err == nil {
		t.Error("expected error before markets are loaded")
	}

	if err := cache.LoadMarkets(context.Background(), false); err != nil {
		t.Fatalf("LoadMarkets: %v", err)
	}

	m, err := cache.Market("BTC/USDT")
	if err != nil || m.ID != "BTCUSDT" {
		t.Errorf("Market(BTC/USDT) = %+v, %v", m, err)
	}

	m, err = cache.MarketByID("BTCUSDT")
	if err != nil || m.Symbol != "BTC/USDT" {
		t.Errorf("MarketByID(BTCUSDT) = %+v, %v", m, err)
	}

	if _, err := cache.Market("NOPE/USDT"); err == nil {
		t.Error("expected error for unknown symbol")
	}
}
