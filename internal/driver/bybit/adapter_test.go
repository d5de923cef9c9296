package bybit

import "testing"

// TestParseOrderBook_Nonce exercises scenario 5 (Bybit order book nonce):
// the "u" update-sequence field becomes the unified LastUpdateID.
func TestParseOrderBook_Nonce(t *testing.T) {
	d := &Driver{}

	body := []byte(`{"s":"BTCUSDT","b":[["97500.00","1.5"]],"a":[["97501.00","0.8"]],"u":123456789}`)
	ob, err := d.ParseOrderBook(body)
	if err != nil {
		t.Fatalf("ParseOrderBook returned error: %v", err)
	}

	if ob.LastUpdateID != 123456789 {
		t.Errorf("LastUpdateID = %d, want 123456789", ob.LastUpdateID)
	}
	if len(ob.Bids) != 1 || ob.Bids[0].Price.String() != "97500.00" || ob.Bids[0].Quantity.String() != "1.5" {
		t.Errorf("unexpected bids: %+v", ob.Bids)
	}
	if len(ob.Asks) != 1 || ob.Asks[0].Price.String() != "97501.00" || ob.Asks[0].Quantity.String() != "0.8" {
		t.Errorf("unexpected asks: %+v", ob.Asks)
	}
	if ob.Symbol != "BTC/USDT" {
		t.Errorf("Symbol = %q, want BTC/USDT", ob.Symbol)
	}
}

func TestToVenueFromVenue_RoundTrip(t *testing.T) {
	d := &Driver{}
	venue := d.ToVenue("BTC/USDT")
	if venue != "BTCUSDT" {
		t.Fatalf("ToVenue(BTC/USDT) = %q, want BTCUSDT", venue)
	}
	if back := d.FromVenue(venue); back != "BTC/USDT" {
		t.Errorf("FromVenue(%q) = %q, want BTC/USDT", venue, back)
	}
}
