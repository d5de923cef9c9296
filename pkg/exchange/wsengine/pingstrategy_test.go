package wsengine

import (
	"testing"
	"time"
)

func TestNativePing_Interval(t *testing.T) {
	p := NativePing{PingInterval: 15 * time.Second}
	if p.Interval() != 15*time.Second {
		t.Errorf("Interval() = %v, want 15s", p.Interval())
	}
	if p.OnServerPing(nil, []byte(`{}`)) {
		t.Error("NativePing.OnServerPing must never claim a frame")
	}
}

func TestJSONPing_Interval(t *testing.T) {
	p := JSONPing{PingInterval: 10 * time.Second, Build: func() any { return map[string]string{"type": "ping"} }}
	if p.Interval() != 10*time.Second {
		t.Errorf("Interval() = %v, want 10s", p.Interval())
	}
	if p.OnServerPing(nil, []byte(`{}`)) {
		t.Error("JSONPing.OnServerPing must never claim a frame")
	}
}

func TestServerInitiatedPing_Interval_IsZero(t *testing.T) {
	p := ServerInitiatedPing{
		IsPing: func(frame []byte) bool { return string(frame) == `{"op":"PING"}` },
		Pong:   func(frame []byte) any { return map[string]string{"op": "PONG"} },
	}
	if p.Interval() != 0 {
		t.Errorf("Interval() = %v, want 0 (never originates a ping)", p.Interval())
	}
	if err := p.Tick(nil); err != nil {
		t.Errorf("Tick() = %v, want nil (no-op)", err)
	}
}

func TestServerInitiatedPing_OnServerPing_IgnoresNonPingFrames(t *testing.T) {
	p := ServerInitiatedPing{
		IsPing: func(frame []byte) bool { return string(frame) == `{"op":"PING"}` },
		Pong:   func(frame []byte) any { return map[string]string{"op": "PONG"} },
	}
	if p.OnServerPing(nil, []byte(`{"op":"DEPTH"}`)) {
		t.Error("OnServerPing must return false for a frame IsPing rejects")
	}
}

func TestStringPing_Interval(t *testing.T) {
	p := StringPing{PingInterval: 30 * time.Second, Frame: "ping"}
	if p.Interval() != 30*time.Second {
		t.Errorf("Interval() = %v, want 30s", p.Interval())
	}
	if p.OnServerPing(nil, []byte("ping")) {
		t.Error("StringPing.OnServerPing must never claim a frame")
	}
}
