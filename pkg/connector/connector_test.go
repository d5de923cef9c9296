package connector

import (
	"testing"

	_ "github.com/lilwiggy/xchange/internal/driver/binance"
)

// TestNew_BuildsComponentsForAnyRegisteredVenue exercises the generalized
// Connector construction path: it must not be hardwired to any one venue
// package, only to whatever Config.Exchange.Name names.
func TestNew_BuildsComponentsForAnyRegisteredVenue(t *testing.T) {
	cfg := NewConfigBuilder().Exchange("binance", "", "", false).MustBuild()

	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New(binance) error = %v", err)
	}
	defer c.Stop()

	if c.Exchange() != "binance" {
		t.Errorf("Exchange() = %q, want binance", c.Exchange())
	}
	if c.adapter == nil {
		t.Error("expected adapter to be constructed")
	}
	if c.base == nil {
		t.Error("expected base to be constructed")
	}
	if c.markets == nil {
		t.Error("expected market cache to be constructed")
	}
	if c.streamAdapter == nil {
		t.Error("expected stream adapter to be constructed")
	}
	if c.wsClient == nil {
		t.Error("expected wsengine client to be constructed")
	}
	if c.IsRunning() {
		t.Error("connector must not be running before Start()")
	}
}

func TestNew_RejectsUnregisteredExchange(t *testing.T) {
	cfg := Config{Exchange: ExchangeConfig{Name: "not-a-real-exchange"}}
	if _, err := New(cfg); err == nil {
		t.Error("expected New() to fail for an unregistered exchange")
	}
}

func TestConnector_SubscribeTicker_FailsWhenNotRunning(t *testing.T) {
	cfg := NewConfigBuilder().Exchange("binance", "", "", false).MustBuild()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New(binance) error = %v", err)
	}
	defer c.Stop()

	if _, err := c.SubscribeTicker("BTC/USDT"); err == nil {
		t.Error("expected SubscribeTicker to fail before the connector is started")
	}
}

func TestConnector_SetHandlers(t *testing.T) {
	cfg := NewConfigBuilder().Exchange("binance", "", "", false).MustBuild()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New(binance) error = %v", err)
	}
	defer c.Stop()

	connected := false
	c.SetHandlers(Handlers{OnConnect: func(exchange string, ok bool) { connected = true }})
	c.handlers.OnConnect("binance", true)
	if !connected {
		t.Error("expected OnConnect handler to be invoked")
	}
}
