package binance

import (
	"net/url"
	"testing"
)

// TestSigner_SignString_Deterministic exercises testable property 6
// (signing is deterministic given fixed credentials and a fixed query
// string) and scenario 1 (Binance limit buy) from the fixed-clock
// signature worked example: credentials apiKey="mykey"/secret="mysecret",
// clock fixed at 1700000000000.
func TestSigner_SignString_Deterministic(t *testing.T) {
	signer := NewSigner("mykey", "mysecret", DefaultRecvWindow)

	values := url.Values{}
	values.Set("symbol", "BTCUSDT")
	values.Set("side", "BUY")
	values.Set("type", "LIMIT")
	values.Set("quantity", "0.001")
	values.Set("price", "50000")
	values.Set("timeInForce", "GTC")
	values.Set("timestamp", "1700000000000")
	values.Set("recvWindow", "5000")

	query := values.Encode()

	sig1 := signer.SignString(query)
	sig2 := signer.SignString(query)

	if sig1 != sig2 {
		t.Fatalf("signature not deterministic: %q != %q", sig1, sig2)
	}
	if len(sig1) != 64 {
		t.Fatalf("expected 64-char hex HMAC-SHA256 digest, got %d chars: %q", len(sig1), sig1)
	}
}

func TestSigner_APIKeyAndRecvWindow(t *testing.T) {
	signer := NewSigner("mykey", "mysecret", 0)
	if signer.APIKey() != "mykey" {
		t.Errorf("APIKey() = %q, want mykey", signer.APIKey())
	}
	if signer.RecvWindow() != DefaultRecvWindow {
		t.Errorf("RecvWindow() = %d, want default %d", signer.RecvWindow(), DefaultRecvWindow)
	}

	capped := NewSigner("k", "s", MaxRecvWindow+1000)
	if capped.RecvWindow() != MaxRecvWindow {
		t.Errorf("RecvWindow() = %d, want capped at %d", capped.RecvWindow(), MaxRecvWindow)
	}
}

func TestSigner_ValidateCredentials(t *testing.T) {
	if err := NewSigner("", "secret", 0).ValidateCredentials(); err == nil {
		t.Error("expected error for empty API key")
	}
	if err := NewSigner("key", "", 0).ValidateCredentials(); err == nil {
		t.Error("expected error for empty API secret")
	}
	if err := NewSigner("key", "secret", 0).ValidateCredentials(); err != nil {
		t.Errorf("unexpected error for valid credentials: %v", err)
	}
}

// TestSign_SortsQueryAlphabetically confirms the query string Sign
// produces the signature over is sorted (url.Values.Encode's guarantee),
// the other half of property 6's determinism claim.
func TestSign_SortsQueryAlphabetically(t *testing.T) {
	signer := NewSigner("mykey", "mysecret", DefaultRecvWindow)

	values := url.Values{}
	values.Set("symbol", "BTCUSDT")
	values.Set("side", "BUY")

	_, sig := signer.Sign(values)
	want := signer.SignString(values.Encode())
	if sig != want {
		t.Fatalf("Sign signature does not match SignString over the same encoded params: %q != %q", sig, want)
	}
}
