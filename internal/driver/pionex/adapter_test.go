package pionex

import (
	"testing"

	"github.com/lilwiggy/xchange/pkg/domain"
)

// TestMarketOrderParams_BuySellRouting exercises scenario 6 (Pionex market
// buy vs sell routing): a market buy spends a quote amount ("amount"), a
// market sell disposes of a base quantity ("size") — never both.
func TestMarketOrderParams_BuySellRouting(t *testing.T) {
	amount, err := domain.NewDecimal("100")
	if err != nil {
		t.Fatalf("NewDecimal: %v", err)
	}
	buy := MarketOrderParams(domain.OrderSideBuy, amount)
	if _, hasSize := buy["size"]; hasSize {
		t.Errorf("market buy must not carry size, got %v", buy)
	}
	if buy["amount"] != "100" {
		t.Errorf("market buy amount = %q, want 100", buy["amount"])
	}

	qty, err := domain.NewDecimal("0.001")
	if err != nil {
		t.Fatalf("NewDecimal: %v", err)
	}
	sell := MarketOrderParams(domain.OrderSideSell, qty)
	if _, hasAmount := sell["amount"]; hasAmount {
		t.Errorf("market sell must not carry amount, got %v", sell)
	}
	if sell["size"] != "0.001" {
		t.Errorf("market sell size = %q, want 0.001", sell["size"])
	}
}
