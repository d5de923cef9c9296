package domain

import "testing"

func level(price, qty string) OrderBookLevel {
	return OrderBookLevel{Price: MustDecimal(price), Quantity: MustDecimal(qty)}
}

func TestNormalizeLevels_SortsAndDropsZeroQuantity(t *testing.T) {
	bids := []OrderBookLevel{level("100.0", "1.0"), level("102.0", "2.0"), level("101.0", "0")}
	asks := []OrderBookLevel{level("105.0", "1.0"), level("103.0", "0"), level("104.0", "2.0")}

	gotBids, gotAsks := NormalizeLevels(bids, asks)

	if len(gotBids) != 2 {
		t.Fatalf("len(bids) = %d, want 2 (zero-quantity level dropped)", len(gotBids))
	}
	if Cmp(gotBids[0].Price, gotBids[1].Price) <= 0 {
		t.Error("bids not sorted descending by price")
	}
	if len(gotAsks) != 2 {
		t.Fatalf("len(asks) = %d, want 2 (zero-quantity level dropped)", len(gotAsks))
	}
	if Cmp(gotAsks[0].Price, gotAsks[1].Price) >= 0 {
		t.Error("asks not sorted ascending by price")
	}
}

func TestNormalizeLevels_EmptyInput(t *testing.T) {
	bids, asks := NormalizeLevels(nil, nil)
	if len(bids) != 0 || len(asks) != 0 {
		t.Errorf("expected empty slices, got %d bids, %d asks", len(bids), len(asks))
	}
}
