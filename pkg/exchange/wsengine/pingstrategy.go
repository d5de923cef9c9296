// Package wsengine provides the reconnecting WebSocket transport shared by
// every venue's streaming adapter.
package wsengine

import (
	"time"

	"github.com/lxzan/gws"
)

// PingStrategy encapsulates one of the four keepalive dialects observed
// across venues (§4.6). Tick is called on a fixed interval while the
// connection is open; OnServerPing lets a strategy react to a
// server-initiated ping the transport doesn't already answer at the
// protocol level (Pionex's PING/PONG text frames).
type PingStrategy interface {
	// Interval is how often Tick fires. Zero disables the ticker (used by
	// strategies that only ever react to OnServerPing).
	Interval() time.Duration

	// Tick sends this strategy's keepalive frame over conn.
	Tick(conn *gws.Conn) error

	// OnServerPing reacts to an inbound application-level frame that might
	// be this venue's server-initiated ping. Returns true if it handled
	// the frame (so the caller should not also dispatch it as data).
	OnServerPing(conn *gws.Conn, frame []byte) bool
}

// NativePing sends a native WebSocket ping frame on Interval. Binance, OKX,
// and Bybit all rely on the transport-level ping/pong handshake; the gws
// connection answers the peer's native pings automatically, so this
// strategy only needs to originate ours.
type NativePing struct {
	PingInterval time.Duration
}

func (p NativePing) Interval() time.Duration { return p.PingInterval }

func (p NativePing) Tick(conn *gws.Conn) error {
	return conn.WritePing(nil)
}

func (p NativePing) OnServerPing(_ *gws.Conn, _ []byte) bool { return false }

// JSONPing sends an application-level JSON ping object on Interval, the
// dialect KuCoin and LBank use instead of (or alongside) native frames.
// Build builds the outgoing ping payload; it is called fresh each tick so
// it can embed an incrementing id or fresh UUID.
type JSONPing struct {
	PingInterval time.Duration
	Build        func() any
}

func (p JSONPing) Interval() time.Duration { return p.PingInterval }

func (p JSONPing) Tick(conn *gws.Conn) error {
	payload := p.Build()
	return writeJSON(conn, payload)
}

func (p JSONPing) OnServerPing(_ *gws.Conn, _ []byte) bool { return false }

// ServerInitiatedPing never originates a ping; it watches inbound frames
// for the venue's server ping marker and echoes the matching pong, the
// dialect Pionex uses.
type ServerInitiatedPing struct {
	// IsPing reports whether frame is the server's ping marker.
	IsPing func(frame []byte) bool
	// Pong builds the echo payload for a received ping frame.
	Pong func(frame []byte) any
}

func (p ServerInitiatedPing) Interval() time.Duration { return 0 }

func (p ServerInitiatedPing) Tick(_ *gws.Conn) error { return nil }

func (p ServerInitiatedPing) OnServerPing(conn *gws.Conn, frame []byte) bool {
	if !p.IsPing(frame) {
		return false
	}
	_ = writeJSON(conn, p.Pong(frame))
	return true
}

// StringPing sends a bare (non-JSON) text frame on Interval, Bitforex's
// dialect.
type StringPing struct {
	PingInterval time.Duration
	Frame        string
}

func (p StringPing) Interval() time.Duration { return p.PingInterval }

func (p StringPing) Tick(conn *gws.Conn) error {
	return conn.WriteString(p.Frame)
}

func (p StringPing) OnServerPing(_ *gws.Conn, _ []byte) bool { return false }
