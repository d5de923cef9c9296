package wsengine

import "testing"

func TestClient_SendRaw_FailsWhenNotConnected(t *testing.T) {
	c := New(Config{Venue: "testvenue", URL: "wss://example.invalid"})
	if err := c.SendRaw([]byte(`{"op":"subscribe"}`)); err == nil {
		t.Error("SendRaw on an unconnected client must return an error")
	}
}

func TestClient_Send_FailsWhenNotConnected(t *testing.T) {
	c := New(Config{Venue: "testvenue", URL: "wss://example.invalid"})
	if err := c.Send(map[string]string{"op": "ping"}); err == nil {
		t.Error("Send on an unconnected client must return an error")
	}
}

func TestClient_RegisterUnregister(t *testing.T) {
	c := New(Config{Venue: "testvenue", URL: "wss://example.invalid"})

	called := false
	c.Register("ticker.BTCUSDT", func(topic string, frame []byte) { called = true }, func() []byte { return []byte("resubscribe") })

	c.handlersMu.RLock()
	_, ok := c.handlers["ticker.BTCUSDT"]
	c.handlersMu.RUnlock()
	if !ok {
		t.Fatal("expected topic to be registered")
	}

	c.Unregister("ticker.BTCUSDT")

	c.handlersMu.RLock()
	_, ok = c.handlers["ticker.BTCUSDT"]
	c.handlersMu.RUnlock()
	if ok {
		t.Error("expected topic to be removed after Unregister")
	}

	_ = called // handler invocation is exercised by route(), not by Register itself
}

func TestClient_IsConnected_FalseBeforeConnect(t *testing.T) {
	c := New(Config{Venue: "testvenue", URL: "wss://example.invalid"})
	if c.IsConnected() {
		t.Error("a freshly constructed client must not report itself connected")
	}
}

func TestDefaultReconnectConfig(t *testing.T) {
	cfg := DefaultReconnectConfig()
	if cfg.InitialDelay <= 0 || cfg.MaxDelay <= 0 {
		t.Errorf("DefaultReconnectConfig produced non-positive delays: %+v", cfg)
	}
}
