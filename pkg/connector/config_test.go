package connector

import (
	"testing"
	"time"

	_ "github.com/lilwiggy/xchange/internal/driver/binance"
)

func TestExchangeConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ExchangeConfig
		wantErr bool
	}{
		{"empty name", ExchangeConfig{}, true},
		{"unregistered venue", ExchangeConfig{Name: "not-a-real-exchange"}, true},
		{"registered venue", ExchangeConfig{Name: "binance"}, false},
		{"registered venue, no credentials", ExchangeConfig{Name: "binance", APIKey: "", APISecret: ""}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBuilder_Build(t *testing.T) {
	cfg, err := NewConfigBuilder().
		Exchange("binance", "key", "secret", false).
		Timeout(5 * time.Second).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if cfg.Exchange.Name != "binance" {
		t.Errorf("Exchange.Name = %q, want binance", cfg.Exchange.Name)
	}
	if cfg.Connection.Timeout != 5*time.Second {
		t.Errorf("Connection.Timeout = %v, want 5s", cfg.Connection.Timeout)
	}
	if !cfg.RateLimit.Enabled || !cfg.CircuitBreaker.Enabled || !cfg.ClockSync.Enabled {
		t.Error("NewConfigBuilder defaults should enable rate limiting, circuit breaker, and clock sync")
	}
}

func TestBuilder_Build_RejectsUnregisteredExchange(t *testing.T) {
	_, err := NewConfigBuilder().Exchange("not-a-real-exchange", "", "", false).Build()
	if err == nil {
		t.Error("expected Build() to fail for an unregistered exchange")
	}
}

func TestBuilder_Passphrase(t *testing.T) {
	cfg := NewConfigBuilder().
		Exchange("binance", "key", "secret", false).
		Passphrase("p").
		MustBuild()
	if cfg.Exchange.Passphrase != "p" {
		t.Errorf("Passphrase = %q, want p", cfg.Exchange.Passphrase)
	}
}

func TestBuilder_MustBuild_PanicsOnInvalidConfig(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustBuild should panic on an invalid configuration")
		}
	}()
	NewConfigBuilder().Exchange("", "", "", false).MustBuild()
}
