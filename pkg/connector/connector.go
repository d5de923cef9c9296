package connector

import (
	"context"
	"fmt"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lilwiggy/xchange/internal/circuit"
	"github.com/lilwiggy/xchange/internal/ratelimit"
	internalsync "github.com/lilwiggy/xchange/internal/sync"
	"github.com/lilwiggy/xchange/pkg/domain"
	"github.com/lilwiggy/xchange/pkg/exchange"
	"github.com/lilwiggy/xchange/pkg/exchange/wsengine"
)

// Connector provides exchange connectivity with fault tolerance.
// One Connector instance connects to one exchange, selected by
// config.Exchange.Name out of every package registered in pkg/exchange.
type Connector struct {
	config   Config
	exchange string

	// Components
	adapter        exchange.Adapter
	base           *exchange.Base
	markets        *exchange.MarketCache
	streamAdapter  exchange.StreamAdapter
	wsClient       *wsengine.Client
	circuitBreaker *circuit.Breaker
	clockSync      *internalsync.ClockSync

	// State
	running   atomic.Bool
	ready     chan struct{}
	readyOnce stdsync.Once

	// Handlers
	handlers Handlers

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     stdsync.WaitGroup
}

// New creates a new Connector for an exchange.
func New(cfg Config) (*Connector, error) {
	if err := cfg.Exchange.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Connector{
		config:   cfg,
		exchange: cfg.Exchange.Name,
		ready:    make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	if err := c.initComponents(); err != nil {
		cancel()
		return nil, err
	}

	return c, nil
}

// initComponents initializes all components.
func (c *Connector) initComponents() error {
	adapter, err := exchange.New(c.exchange, exchange.Credentials{
		APIKey:     c.config.Exchange.APIKey,
		APISecret:  c.config.Exchange.APISecret,
		Passphrase: c.config.Exchange.Passphrase,
		Testnet:    c.config.Exchange.Testnet,
	})
	if err != nil {
		return fmt.Errorf("failed to create adapter: %w", err)
	}
	c.adapter = adapter

	var throttler exchange.Throttler
	if c.config.RateLimit.Enabled && c.config.RateLimit.MaxWeight > 0 {
		throttler = ratelimit.NewWeightedLimiter(c.config.RateLimit.MaxWeight)
	}
	c.base = exchange.NewBase(adapter, throttler)
	c.markets = exchange.NewMarketCache(c.exchange, c.base.LoadMarketsFunc())

	if c.config.CircuitBreaker.Enabled {
		c.circuitBreaker = circuit.NewBreaker(c.exchange, circuit.Config{
			MaxFailures:      c.config.CircuitBreaker.MaxFailures,
			SuccessThreshold: c.config.CircuitBreaker.SuccessThreshold,
			OpenTimeout:      c.config.CircuitBreaker.OpenTimeout,
		})
	}

	if c.config.ClockSync.Enabled {
		c.clockSync = internalsync.NewClockSync(c.exchange, internalsync.ClockConfig{
			MaxOffset:    c.config.ClockSync.MaxOffset,
			SyncInterval: c.config.ClockSync.SyncInterval,
			TimeProvider: c.base.ServerTime,
		})
	}

	streamAdapter, ok := exchange.NewStream(c.exchange)
	if !ok {
		return fmt.Errorf("exchange %q has no registered streaming support", c.exchange)
	}
	c.streamAdapter = streamAdapter

	c.wsClient = wsengine.New(wsengine.Config{
		Venue:    c.exchange,
		URL:      streamAdapter.URL(),
		Ping:     streamAdapter.Ping(c.config.Connection.PingInterval),
		Dispatch: streamAdapter.Dispatch,
		Reconnect: wsengine.ReconnectConfig{
			InitialDelay: c.config.Connection.ReconnectDelay,
			MaxDelay:     c.config.Connection.MaxReconnectWait,
			Jitter:       0.1,
		},
	})

	c.setupWSHandlers()

	return nil
}

// setupWSHandlers sets up WebSocket lifecycle handlers.
func (c *Connector) setupWSHandlers() {
	c.wsClient.OnConnect(func() {
		log.Info().Str("exchange", c.exchange).Msg("WebSocket connected")
		if c.handlers.OnConnect != nil {
			c.handlers.OnConnect(c.exchange, true)
		}
		c.markReady()
	})

	c.wsClient.OnDisconnect(func(err error) {
		log.Error().Err(err).Str("exchange", c.exchange).Msg("WebSocket disconnected")
		if c.handlers.OnDisconnect != nil {
			c.handlers.OnDisconnect(c.exchange, false)
		}
	})
}

// Start starts the connector.
// It returns immediately, use Ready() to wait for full initialization.
func (c *Connector) Start() error {
	if c.running.Swap(true) {
		return fmt.Errorf("connector already running")
	}

	log.Info().Str("exchange", c.exchange).Msg("starting connector")

	if c.clockSync != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.clockSync.Start(); err != nil {
				log.Error().Err(err).Msg("clock sync failed")
				if c.handlers.OnError != nil {
					c.handlers.OnError(c.exchange, err)
				}
			}
		}()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.wsClient.Connect(); err != nil {
			log.Error().Err(err).Msg("WebSocket connection failed")
			if c.handlers.OnError != nil {
				c.handlers.OnError(c.exchange, err)
			}
		}
	}()

	return nil
}

// Stop stops the connector gracefully.
func (c *Connector) Stop() error {
	if !c.running.Swap(false) {
		return nil // Not running
	}

	log.Info().Str("exchange", c.exchange).Msg("stopping connector")

	c.cancel()

	if c.clockSync != nil {
		c.clockSync.Stop()
	}

	if c.wsClient != nil {
		c.wsClient.Close()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Warn().Msg("timeout waiting for goroutines to stop")
	}

	if c.base != nil {
		c.base.Close()
	}

	log.Info().Str("exchange", c.exchange).Msg("connector stopped")

	return nil
}

// Ready returns a channel that is closed when the connector is ready.
func (c *Connector) Ready() <-chan struct{} {
	return c.ready
}

// markReady marks the connector as ready.
func (c *Connector) markReady() {
	c.readyOnce.Do(func() {
		close(c.ready)
	})
}

// IsRunning returns true if the connector is running.
func (c *Connector) IsRunning() bool {
	return c.running.Load()
}

// IsConnected returns true if WebSocket is connected.
func (c *Connector) IsConnected() bool {
	return c.wsClient != nil && c.wsClient.IsConnected()
}

// Exchange returns the exchange name.
func (c *Connector) Exchange() string {
	return c.exchange
}

// SetHandlers sets event handlers.
func (c *Connector) SetHandlers(handlers Handlers) {
	c.handlers = handlers
}

// subscribeChannel registers a topic handler for a canonical channel
// (exchange.ChannelTicker/ChannelOrderBook/ChannelTrades) and a unified
// symbol, passing each raw inbound frame for that topic to parse, which
// does its own decoding. It returns an unsubscribe function.
func (c *Connector) subscribeChannel(channel, symbol string, parse func(frame []byte)) (func(), error) {
	if !c.running.Load() {
		return nil, fmt.Errorf("connector not running")
	}

	venueSymbol := c.adapter.ToVenue(symbol)
	frame, topic := c.streamAdapter.Subscribe(channel, venueSymbol)

	c.wsClient.Register(topic, func(_ string, data []byte) {
		c.safeHandler(func() { parse(data) })
	}, func() []byte { return frame })

	if err := c.wsClient.SendRaw(frame); err != nil {
		c.wsClient.Unregister(topic)
		return nil, err
	}

	return func() { c.wsClient.Unregister(topic) }, nil
}

// wsParser returns the streamAdapter's WSParser implementation, if it has
// one. A StreamAdapter that implements exchange.WSParser (Binance's) decodes
// its own wire dialect, and the SubscribeX methods below prefer it; for
// every other venue the raw WS frame goes to the adapter's REST Parser.
func (c *Connector) wsParser() (exchange.WSParser, bool) {
	p, ok := c.streamAdapter.(exchange.WSParser)
	return p, ok
}

// SubscribeTicker subscribes to ticker updates for a unified symbol.
func (c *Connector) SubscribeTicker(symbol string) (func(), error) {
	return c.subscribeChannel(exchange.ChannelTicker, symbol, func(frame []byte) {
		var (
			ticker domain.Ticker
			err    error
		)
		if p, ok := c.wsParser(); ok {
			ticker, err = p.ParseTicker(frame)
		} else {
			ticker, err = c.adapter.ParseTicker(frame)
		}
		if err != nil {
			c.reportError(err)
			return
		}
		if c.handlers.OnTicker != nil {
			c.handlers.OnTicker(c.exchange, &ticker)
		}
	})
}

// SubscribeOrderBook subscribes to order book updates for a unified symbol.
func (c *Connector) SubscribeOrderBook(symbol string) (func(), error) {
	return c.subscribeChannel(exchange.ChannelOrderBook, symbol, func(frame []byte) {
		var (
			ob  domain.OrderBook
			err error
		)
		if p, ok := c.wsParser(); ok {
			ob, err = p.ParseOrderBook(frame)
		} else {
			ob, err = c.adapter.ParseOrderBook(frame)
		}
		if err != nil {
			c.reportError(err)
			return
		}
		if c.handlers.OnOrderBook != nil {
			c.handlers.OnOrderBook(c.exchange, &ob)
		}
	})
}

// SubscribeTrades subscribes to trade updates for a unified symbol.
func (c *Connector) SubscribeTrades(symbol string) (func(), error) {
	return c.subscribeChannel(exchange.ChannelTrades, symbol, func(frame []byte) {
		var (
			trades []domain.Trade
			err    error
		)
		if p, ok := c.wsParser(); ok {
			trades, err = p.ParseTrade(frame)
		} else {
			trades, err = c.adapter.ParseTrade(frame)
		}
		if err != nil {
			c.reportError(err)
			return
		}
		if c.handlers.OnTrade != nil {
			for i := range trades {
				c.handlers.OnTrade(c.exchange, &trades[i])
			}
		}
	})
}

func (c *Connector) reportError(err error) {
	if c.handlers.OnError != nil {
		c.handlers.OnError(c.exchange, err)
	}
}

// Ping tests REST connectivity.
func (c *Connector) Ping(ctx context.Context) error {
	if c.circuitBreaker != nil {
		return c.circuitBreaker.Execute(func() error {
			return c.base.Ping(ctx)
		})
	}
	return c.base.Ping(ctx)
}

// GetServerTime retrieves the exchange server time, in epoch milliseconds.
func (c *Connector) GetServerTime(ctx context.Context) (int64, error) {
	if c.circuitBreaker != nil {
		result, err := c.circuitBreaker.ExecuteWithResult(func() (any, error) {
			return c.base.ServerTime(ctx)
		})
		if err != nil {
			return 0, err
		}
		return result.(int64), nil
	}
	return c.base.ServerTime(ctx)
}

// GetExchangeInfo retrieves every tradable market, loading the cache on
// first call and reusing it afterward; pass force=true to refresh.
func (c *Connector) GetExchangeInfo(ctx context.Context, force bool) ([]domain.Market, error) {
	load := func() error { return c.markets.LoadMarkets(ctx, force) }
	if c.circuitBreaker != nil {
		if _, err := c.circuitBreaker.ExecuteWithResult(func() (any, error) {
			return nil, load()
		}); err != nil {
			return nil, err
		}
	} else if err := load(); err != nil {
		return nil, err
	}
	return c.markets.All(), nil
}

// CircuitBreakerStats returns circuit breaker statistics.
func (c *Connector) CircuitBreakerStats() (circuit.Stats, error) {
	if c.circuitBreaker == nil {
		return circuit.Stats{}, fmt.Errorf("circuit breaker not enabled")
	}
	return c.circuitBreaker.Stats(), nil
}

// ClockOffset returns the current clock offset.
func (c *Connector) ClockOffset() time.Duration {
	if c.clockSync == nil {
		return 0
	}
	return c.clockSync.Offset()
}

// safeHandler executes a handler with panic recovery.
func (c *Connector) safeHandler(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("exchange", c.exchange).Msg("handler panic recovered")
		}
	}()
	fn()
}
