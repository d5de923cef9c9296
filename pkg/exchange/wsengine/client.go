package wsengine

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lilwiggy/xchange/pkg/errors"
	"github.com/lxzan/gws"
)

// Handler is invoked with one already-routed inbound frame. topic is
// whatever key the adapter used at Subscribe time (a channel name, a
// chanId-resolved (channel,symbol) pair rendered as a string, ...).
type Handler func(topic string, frame []byte)

// Dispatcher is adapter-supplied: given a raw inbound text frame, it
// decides which topic it belongs to (or "" if unroutable) so Client can
// look up the registered Handler. Adapters with envelope-free dialects
// (Bitfinex's [chanId, payload] arrays, Bittrex's SignalR invocations) do
// their own chanId/method resolution here.
type Dispatcher func(frame []byte) (topic string, ok bool)

// ReconnectConfig controls the exponential-backoff reconnect loop.
type ReconnectConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int // 0 = infinite
	Jitter       float64
}

// DefaultReconnectConfig mirrors the cadence every adapter in this module
// uses absent venue-specific guidance.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{InitialDelay: time.Second, MaxDelay: 60 * time.Second, Jitter: 0.1}
}

// Config configures a Client.
type Config struct {
	Venue        string
	URL          string
	Ping         PingStrategy
	Dispatch     Dispatcher
	Reconnect    ReconnectConfig
	DeadlineSlop time.Duration // read deadline = 2 × ping interval; 2 × this when the interval is 0 (60s if both are 0)
}

// Client is a reconnecting WebSocket transport generalized from the
// venue-specific clients each adapter used to hand-roll: lifecycle states
// closed -> connecting -> open -> closing -> closed, a pluggable
// PingStrategy, and automatic resubscription of every topic still
// registered at the moment the connection drops.
type Client struct {
	cfg Config

	mu   sync.RWMutex
	conn *gws.Conn

	connected  atomic.Bool
	connecting atomic.Bool
	closed     atomic.Bool

	handlers   map[string]Handler
	handlersMu sync.RWMutex

	resend   map[string]func() []byte // topic -> builder of its subscribe frame
	resendMu sync.RWMutex

	onConnect    func()
	onDisconnect func(error)

	reconnectAttempt atomic.Int32
	pingTicker       *time.Ticker
	pingMu           sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Client. It does not dial; call Connect.
func New(cfg Config) *Client {
	if cfg.Reconnect.InitialDelay == 0 {
		cfg.Reconnect = DefaultReconnectConfig()
	}
	return &Client{
		cfg:      cfg,
		handlers: make(map[string]Handler),
		resend:   make(map[string]func() []byte),
	}
}

// OnConnect/OnDisconnect register lifecycle callbacks.
func (c *Client) OnConnect(fn func())       { c.onConnect = fn }
func (c *Client) OnDisconnect(fn func(err error)) { c.onDisconnect = fn }

// Register adds a topic handler and, if resubscribe is non-nil, the frame
// builder Client replays for that topic after a reconnect.
func (c *Client) Register(topic string, handler Handler, resubscribe func() []byte) {
	c.handlersMu.Lock()
	c.handlers[topic] = handler
	c.handlersMu.Unlock()

	if resubscribe != nil {
		c.resendMu.Lock()
		c.resend[topic] = resubscribe
		c.resendMu.Unlock()
	}
}

// Unregister removes a topic's handler and resubscribe frame.
func (c *Client) Unregister(topic string) {
	c.handlersMu.Lock()
	delete(c.handlers, topic)
	c.handlersMu.Unlock()
	c.resendMu.Lock()
	delete(c.resend, topic)
	c.resendMu.Unlock()
}

// Connect dials the configured URL and starts the read loop and ping
// ticker. Already-registered topics are resubscribed immediately.
func (c *Client) Connect() error {
	if c.closed.Load() {
		return errors.NewExchangeError(c.cfg.Venue, "connect", "client is closed", nil)
	}
	if c.connecting.Swap(true) {
		return errors.NewExchangeError(c.cfg.Venue, "connect", "connection already in progress", nil)
	}
	defer c.connecting.Store(false)

	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c.dial()
}

func (c *Client) dial() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	option := &gws.ClientOption{
		Addr:      c.cfg.URL,
		TlsConfig: &tls.Config{InsecureSkipVerify: false},
	}

	conn, _, err := gws.NewClient((*eventHandler)(c), option)
	if err != nil {
		return errors.NewConnectionError(c.cfg.Venue, c.cfg.URL, err.Error(), true)
	}

	c.conn = conn
	c.connected.Store(true)
	c.reconnectAttempt.Store(0)

	go conn.ReadLoop()
	c.startPingTicker()
	c.resubscribeAll()

	if c.onConnect != nil {
		c.safeCall(c.onConnect)
	}
	return nil
}

func (c *Client) resubscribeAll() {
	c.resendMu.RLock()
	builders := make([]func() []byte, 0, len(c.resend))
	for _, b := range c.resend {
		builders = append(builders, b)
	}
	c.resendMu.RUnlock()

	for _, build := range builders {
		_ = c.sendRaw(build())
	}
}

// Send serializes payload to JSON and writes one text frame. Fails if the
// connection is not open.
func (c *Client) Send(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.sendRaw(data)
}

// SendRaw writes an already-encoded frame verbatim, for callers (e.g.
// StreamAdapter.Subscribe) that built the wire bytes themselves and would
// otherwise be double-marshaled by Send.
func (c *Client) SendRaw(data []byte) error {
	return c.sendRaw(data)
}

func (c *Client) sendRaw(data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil || !c.connected.Load() {
		return errors.NewExchangeError(c.cfg.Venue, "send", "not connected", nil)
	}
	return conn.WriteString(string(data))
}

// Disconnect closes the connection without marking the client closed;
// reconnect logic may redial.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	c.stopPingTicker()
	c.connected.Store(false)
	c.conn.WriteClose(1000, nil)
	c.conn = nil
}

// Close permanently closes the client.
func (c *Client) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.stopPingTicker()
	if c.cancel != nil {
		c.cancel()
	}
	c.Disconnect()
}

// IsConnected reports whether the transport currently believes it is open.
func (c *Client) IsConnected() bool { return c.connected.Load() }

func (c *Client) startPingTicker() {
	c.pingMu.Lock()
	defer c.pingMu.Unlock()

	if c.pingTicker != nil {
		c.pingTicker.Stop()
	}
	interval := c.cfg.Ping.Interval()
	if interval <= 0 {
		return
	}
	c.pingTicker = time.NewTicker(interval)
	go func(ticker *time.Ticker) {
		for range ticker.C {
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()
			if conn != nil && c.connected.Load() {
				_ = c.cfg.Ping.Tick(conn)
			}
		}
	}(c.pingTicker)
}

func (c *Client) stopPingTicker() {
	c.pingMu.Lock()
	defer c.pingMu.Unlock()
	if c.pingTicker != nil {
		c.pingTicker.Stop()
		c.pingTicker = nil
	}
}

func (c *Client) reconnect() {
	if c.closed.Load() {
		return
	}
	c.Disconnect()

	for {
		if c.closed.Load() || (c.ctx != nil && c.ctx.Err() != nil) {
			return
		}

		attempt := int(c.reconnectAttempt.Add(1))
		if c.cfg.Reconnect.MaxAttempts > 0 && attempt > c.cfg.Reconnect.MaxAttempts {
			return
		}

		time.Sleep(c.backoff(attempt))

		if err := c.dial(); err != nil {
			continue
		}
		return
	}
}

func (c *Client) backoff(attempt int) time.Duration {
	cfg := c.cfg.Reconnect
	delay := cfg.InitialDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
			break
		}
	}
	if cfg.Jitter > 0 {
		jitter := time.Duration(float64(delay) * cfg.Jitter * (rand.Float64()*2 - 1))
		delay += jitter
	}
	return delay
}

func (c *Client) safeCall(fn func()) {
	defer func() { recover() }()
	fn()
}

func (c *Client) route(data []byte) {
	if c.cfg.Ping != nil && c.cfg.Ping.OnServerPing(c.currentConn(), data) {
		return
	}
	if c.cfg.Dispatch == nil {
		return
	}
	topic, ok := c.cfg.Dispatch(data)
	if !ok {
		return
	}
	c.handlersMu.RLock()
	handler := c.handlers[topic]
	c.handlersMu.RUnlock()
	if handler == nil {
		return
	}
	c.safeCall(func() { handler(topic, data) })
}

func (c *Client) currentConn() *gws.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func writeJSON(conn *gws.Conn, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return conn.WriteString(string(data))
}

// eventHandler adapts Client to gws.EventHandler without polluting
// Client's own method set with the gws callback names.
type eventHandler Client

func (h *eventHandler) client() *Client { return (*Client)(h) }

func (h *eventHandler) OnOpen(socket *gws.Conn) {
	c := h.client()
	deadline := c.deadline()
	socket.SetDeadline(time.Now().Add(deadline))
}

func (h *eventHandler) OnClose(socket *gws.Conn, err error) {
	c := h.client()
	c.connected.Store(false)
	c.stopPingTicker()
	if c.onDisconnect != nil {
		c.safeCall(func() { c.onDisconnect(err) })
	}
	if !c.closed.Load() {
		go c.reconnect()
	}
}

func (h *eventHandler) OnPing(socket *gws.Conn, payload []byte) {
	c := h.client()
	socket.SetDeadline(time.Now().Add(c.deadline()))
	socket.WritePong(payload)
}

func (h *eventHandler) OnPong(socket *gws.Conn, payload []byte) {
	h.client().mu.RLock()
	defer h.client().mu.RUnlock()
}

func (h *eventHandler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()
	c := h.client()
	socket.SetDeadline(time.Now().Add(c.deadline()))
	data := message.Bytes()
	if len(data) == 0 {
		return
	}
	c.route(data)
}

func (c *Client) deadline() time.Duration {
	interval := c.cfg.Ping.Interval()
	if interval <= 0 {
		interval = c.cfg.DeadlineSlop
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return interval * 2
}
