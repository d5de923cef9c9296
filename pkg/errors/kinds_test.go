package errors

import (
	"fmt"
	"testing"
	"time"
)

func TestIsKind_Substitutability(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
		want bool
	}{
		{"request timeout IsKind network_error", NewRequestTimeoutError("binance", "/api/v3/order", nil), KindNetworkError, true},
		{"request timeout IsKind exchange_error", NewRequestTimeoutError("binance", "/api/v3/order", nil), KindExchangeError, true},
		{"request timeout IsKind itself", NewRequestTimeoutError("binance", "/api/v3/order", nil), KindRequestTimeout, true},
		{"permission denied IsKind authentication", NewPermissionDeniedError("okx", "trade", "no trade scope"), KindAuthentication, true},
		{"permission denied IsKind exchange_error", NewPermissionDeniedError("okx", "trade", "no trade scope"), KindExchangeError, true},
		{"permission denied not IsKind bad_request", NewPermissionDeniedError("okx", "trade", "no trade scope"), KindBadRequest, false},
		{"rate limit IsKind exchange_error", NewRateLimitError("binance", time.Second, 1), KindExchangeError, true},
		{"rate limit not IsKind network_error", NewRateLimitError("binance", time.Second, 1), KindNetworkError, false},
		{"bad symbol not IsKind authentication", NewBadSymbolError("kraken", "XYZ/USD"), KindAuthentication, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsKind(tt.err, tt.kind); got != tt.want {
				t.Errorf("IsKind(%v, %q) = %v, want %v", tt.err, tt.kind, got, tt.want)
			}
		})
	}
}

func TestIsKind_UnwrapsWrappedErrors(t *testing.T) {
	base := NewAuthenticationError("bitfinex", "sign", "bad nonce")
	wrapped := fmt.Errorf("request failed: %w", base)

	if !IsKind(wrapped, KindAuthentication) {
		t.Error("expected wrapped authentication error to still match KindAuthentication")
	}
	if !IsKind(wrapped, KindExchangeError) {
		t.Error("expected wrapped authentication error to match its ancestor KindExchangeError")
	}
	if IsKind(wrapped, KindBadSymbol) {
		t.Error("did not expect wrapped authentication error to match an unrelated kind")
	}
}

func TestIsKind_NilError(t *testing.T) {
	if IsKind(nil, KindExchangeError) {
		t.Error("IsKind(nil, ...) must be false")
	}
}
