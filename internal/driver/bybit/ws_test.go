package bybit

import (
	"encoding/json"
	"testing"

	"github.com/lilwiggy/xchange/pkg/exchange"
)

func TestStream_Subscribe_TranslatesCanonicalChannel(t *testing.T) {
	var s stream

	tests := []struct {
		channel   string
		wireTopic string
	}{
		{exchange.ChannelTicker, "tickers.BTCUSDT"},
		{exchange.ChannelOrderBook, "orderbook.50.BTCUSDT"},
		{exchange.ChannelTrades, "publicTrade.BTCUSDT"},
	}
	for _, tt := range tests {
		frame, topic := s.Subscribe(tt.channel, "BTCUSDT")
		if topic != tt.wireTopic {
			t.Errorf("Subscribe(%q) topic = %q, want %q", tt.channel, topic, tt.wireTopic)
		}

		var env struct {
			Op   string   `json:"op"`
			Args []string `json:"args"`
		}
		if err := json.Unmarshal(frame, &env); err != nil {
			t.Fatalf("Subscribe(%q) frame did not unmarshal: %v", tt.channel, err)
		}
		if env.Op != "subscribe" || len(env.Args) != 1 || env.Args[0] != tt.wireTopic {
			t.Errorf("Subscribe(%q) frame = %+v, want op=subscribe args=[%s]", tt.channel, env, tt.wireTopic)
		}
	}
}

func TestStream_Dispatch_ResolvesTopic(t *testing.T) {
	var s stream
	frame := []byte(`{"topic":"tickers.BTCUSDT","data":{}}`)
	topic, ok := s.Dispatch(frame)
	if !ok || topic != "tickers.BTCUSDT" {
		t.Errorf("Dispatch = (%q, %v), want (tickers.BTCUSDT, true)", topic, ok)
	}

	if _, ok := s.Dispatch([]byte(`{"op":"pong"}`)); ok {
		t.Error("Dispatch should fail frames with no topic field")
	}
}

func TestStream_RegisteredInStreamRegistry(t *testing.T) {
	adapter, ok := exchange.NewStream("bybit")
	if !ok {
		t.Fatal("expected bybit to be registered in the stream registry")
	}
	if adapter.URL() != BaseWSURL {
		t.Errorf("URL() = %q, want %q", adapter.URL(), BaseWSURL)
	}
}
