package binance

import (
	"testing"

	"github.com/lilwiggy/xchange/pkg/domain"
)

func floatOf(d domain.Decimal) float64 {
	f, err := domain.Float64(d)
	if err != nil {
		return 0
	}
	return f
}

func TestStream_Subscribe_BuildsStreamName(t *testing.T) {
	s := &stream{}

	frame, streamName := s.Subscribe("ticker", "BTCUSDT")
	if streamName != "btcusdt@ticker" {
		t.Errorf("streamName = %q, want btcusdt@ticker", streamName)
	}
	if len(frame) == 0 {
		t.Error("expected non-empty subscribe frame")
	}
}

func TestStream_Dispatch_CombinedEnvelope(t *testing.T) {
	s := &stream{}

	topic, ok := s.Dispatch([]byte(`{"stream":"btcusdt@ticker","data":{"e":"24hrTicker"}}`))
	if !ok || topic != "btcusdt@ticker" {
		t.Errorf("Dispatch(combined) = (%q, %v), want (btcusdt@ticker, true)", topic, ok)
	}
}

func TestStream_Dispatch_RawEnvelopeFallsBackToEventType(t *testing.T) {
	s := &stream{}

	tests := []struct {
		frame string
		want  string
	}{
		{`{"e":"24hrTicker","s":"BTCUSDT"}`, "btcusdt@ticker"},
		{`{"e":"trade","s":"ETHUSDT"}`, "ethusdt@trade"},
		{`{"e":"depthUpdate","s":"BTCUSDT"}`, "btcusdt@depth@100ms"},
	}
	for _, tt := range tests {
		topic, ok := s.Dispatch([]byte(tt.frame))
		if !ok || topic != tt.want {
			t.Errorf("Dispatch(%s) = (%q, %v), want (%q, true)", tt.frame, topic, ok, tt.want)
		}
	}
}

func TestStream_Dispatch_UnroutableFrame(t *testing.T) {
	s := &stream{}
	if _, ok := s.Dispatch([]byte(`{"e":"unknownEvent","s":"BTCUSDT"}`)); ok {
		t.Error("expected unroutable event type to return ok=false")
	}
	if _, ok := s.Dispatch([]byte(`{}`)); ok {
		t.Error("expected empty frame to return ok=false")
	}
}

// The WS ticker/depth/trade frames use field names ("c"/"b"/"a"/"E") that
// don't overlap with the REST DTOs (restTicker24hr/restDepth in adapter.go),
// so a regression here would silently parse into an all-nil domain value
// rather than fail loudly - these assert the real values round-trip.

func TestStream_ParseTicker_CombinedEnvelope(t *testing.T) {
	s := &stream{}
	frame := []byte(`{"stream":"btcusdt@ticker","data":{"e":"24hrTicker","E":1700000000000,"s":"BTCUSDT","p":"100.00","P":"1.00","w":"10100.00","x":"10000.00","c":"10100.00","Q":"0.5","b":"10099.00","B":"1.0","a":"10101.00","A":"2.0","o":"10000.00","h":"10200.00","l":"9900.00","v":"1000.0","q":"10100000.0","O":0,"C":0,"F":0,"L":0,"T":0}}`)

	ticker, err := s.ParseTicker(frame)
	if err != nil {
		t.Fatalf("ParseTicker: %v", err)
	}
	if ticker.Symbol != "BTC/USDT" {
		t.Errorf("Symbol = %q, want BTC/USDT", ticker.Symbol)
	}
	if floatOf(ticker.LastPrice) != 10100.00 {
		t.Errorf("LastPrice = %v, want 10100.00", ticker.LastPrice)
	}
	if floatOf(ticker.BidPrice) != 10099.00 {
		t.Errorf("BidPrice = %v, want 10099.00", ticker.BidPrice)
	}
}

func TestStream_ParseTicker_BookTickerRawEnvelope(t *testing.T) {
	s := &stream{}
	frame := []byte(`{"u":123,"s":"ETHUSDT","b":"2000.00","B":"1.5","a":"2001.00","A":"2.5"}`)

	ticker, err := s.ParseTicker(frame)
	if err != nil {
		t.Fatalf("ParseTicker: %v", err)
	}
	if ticker.Symbol != "ETH/USDT" {
		t.Errorf("Symbol = %q, want ETH/USDT", ticker.Symbol)
	}
	if floatOf(ticker.AskPrice) != 2001.00 {
		t.Errorf("AskPrice = %v, want 2001.00", ticker.AskPrice)
	}
}

func TestStream_ParseOrderBook_NormalizesLevels(t *testing.T) {
	s := &stream{}
	frame := []byte(`{"stream":"btcusdt@depth@100ms","data":{"e":"depthUpdate","E":1700000000000,"s":"BTCUSDT","U":1,"u":2,"b":[["100.0","0"],["99.0","1.0"],["101.0","2.0"]],"a":[["103.0","1.0"],["102.0","2.0"],["104.0","0"]]}}`)

	ob, err := s.ParseOrderBook(frame)
	if err != nil {
		t.Fatalf("ParseOrderBook: %v", err)
	}
	if len(ob.Bids) != 2 || len(ob.Asks) != 2 {
		t.Fatalf("expected zero-quantity levels dropped, got %d bids, %d asks", len(ob.Bids), len(ob.Asks))
	}
	if floatOf(ob.Bids[0].Price) != 101.0 || floatOf(ob.Bids[1].Price) != 99.0 {
		t.Error("bids not sorted descending")
	}
	if floatOf(ob.Asks[0].Price) != 102.0 || floatOf(ob.Asks[1].Price) != 103.0 {
		t.Error("asks not sorted ascending")
	}
	if ob.LastUpdateID != 2 {
		t.Errorf("LastUpdateID = %d, want 2", ob.LastUpdateID)
	}
}

func TestStream_ParseTrade_AggTradeRawEnvelope(t *testing.T) {
	s := &stream{}
	frame := []byte(`{"e":"aggTrade","E":1700000000000,"s":"BTCUSDT","a":1,"p":"10000.00","q":"0.1","f":1,"l":1,"T":1700000000000,"m":true}`)

	trades, err := s.ParseTrade(frame)
	if err != nil {
		t.Fatalf("ParseTrade: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("len(trades) = %d, want 1", len(trades))
	}
	if floatOf(trades[0].Price) != 10000.00 {
		t.Errorf("Price = %v, want 10000.00", trades[0].Price)
	}
}
