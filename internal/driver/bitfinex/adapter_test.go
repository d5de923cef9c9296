package bitfinex

import "testing"

// TestParseCandle_Reorder exercises scenario 3 (Bitfinex candle reorder):
// Bitfinex's wire order is [MTS, OPEN, CLOSE, HIGH, LOW, VOLUME]; the
// unified domain.Kline shape always orders fields ts, open, high, low,
// close, volume.
func TestParseCandle_Reorder(t *testing.T) {
	d := &Driver{}

	// Wire order is [MTS, OPEN, CLOSE, HIGH, LOW, VOLUME].
	body := []byte(`[[1700000000000, 50000, 50500, 51000, 49500, 100]]`)
	out, err := d.ParseCandle(body)
	if err != nil {
		t.Fatalf("ParseCandle returned error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(out))
	}

	k := out[0]
	if got, want := k.Open.String(), "50000"; got != want {
		t.Errorf("Open = %q, want %q", got, want)
	}
	if got, want := k.High.String(), "51000"; got != want {
		t.Errorf("High = %q, want %q", got, want)
	}
	if got, want := k.Low.String(), "49500"; got != want {
		t.Errorf("Low = %q, want %q", got, want)
	}
	if got, want := k.Close.String(), "50500"; got != want {
		t.Errorf("Close = %q, want %q", got, want)
	}
	if k.OpenTime.UnixMilli() != 1700000000000 {
		t.Errorf("OpenTime = %d, want 1700000000000", k.OpenTime.UnixMilli())
	}
}

func TestParseCandle_SkipsShortRows(t *testing.T) {
	d := &Driver{}
	out, err := d.ParseCandle([]byte(`[[1, 2, 3]]`))
	if err != nil {
		t.Fatalf("ParseCandle returned error: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected malformed row to be skipped, got %d candles", len(out))
	}
}

func TestStripOrderTypePrefix(t *testing.T) {
	if got := stripOrderTypePrefix("EXCHANGE LIMIT"); got != "LIMIT" {
		t.Errorf("stripOrderTypePrefix(EXCHANGE LIMIT) = %q, want LIMIT", got)
	}
	if got := stripOrderTypePrefix("LIMIT"); got != "LIMIT" {
		t.Errorf("stripOrderTypePrefix(LIMIT) = %q, want LIMIT (no-op when already bare)", got)
	}
}
