package okx

import (
	"context"
	"testing"
)

// TestSign_BalanceFetch_Base64SignatureLength exercises scenario 2 (OKX
// signed balance fetch): a GET request against the account balance
// endpoint must carry OK-ACCESS-KEY/PASSPHRASE/TIMESTAMP/SIGN headers,
// with the HMAC-SHA256 signature Base64-encoded to exactly 44 characters.
func TestSign_BalanceFetch_Base64SignatureLength(t *testing.T) {
	d := &Driver{apiKey: "k", apiSecret: "s", passphrase: "p"}

	result, err := d.Sign(context.Background(), "GET", "/api/v5/account/balance", nil)
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}

	if got := result.Headers["OK-ACCESS-KEY"]; got != "k" {
		t.Errorf("OK-ACCESS-KEY = %q, want k", got)
	}
	if got := result.Headers["OK-ACCESS-PASSPHRASE"]; got != "p" {
		t.Errorf("OK-ACCESS-PASSPHRASE = %q, want p", got)
	}
	if result.Headers["OK-ACCESS-TIMESTAMP"] == "" {
		t.Error("OK-ACCESS-TIMESTAMP must not be empty")
	}

	sig := result.Headers["OK-ACCESS-SIGN"]
	if len(sig) != 44 {
		t.Errorf("OK-ACCESS-SIGN length = %d, want 44 (base64 of a 32-byte SHA256 HMAC)", len(sig))
	}
}

func TestSign_RequiresFullCredentialSet(t *testing.T) {
	cases := []Driver{
		{apiKey: "", apiSecret: "s", passphrase: "p"},
		{apiKey: "k", apiSecret: "", passphrase: "p"},
		{apiKey: "k", apiSecret: "s", passphrase: ""},
	}
	for _, d := range cases {
		if _, err := d.Sign(context.Background(), "GET", "/api/v5/account/balance", nil); err == nil {
			t.Errorf("expected error signing with incomplete credentials %+v", d)
		}
	}
}
