// Package stream maintains one subscription to the upstream market-data
// websocket and exposes the recent trades, the latest order book and the
// connection flag to readers.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"cfdfeed/config"
	"cfdfeed/internal/metrics"
	"cfdfeed/internal/symbols"
	"cfdfeed/logger"
	"cfdfeed/models"
)

var (
	// ErrAlreadyStarted is returned by Start on a client that was started before.
	ErrAlreadyStarted = errors.New("stream client already started")
	// ErrStopped is returned by Start after Stop.
	ErrStopped = errors.New("stream client stopped")
)

const subscribeMethod = "SUBSCRIBE"

// Stats is a point-in-time copy of the client's counters.
type Stats struct {
	Connected      bool      `json:"connected"`
	Connects       int64     `json:"connects"`
	Reconnects     int64     `json:"reconnects"`
	FramesReceived int64     `json:"frames_received"`
	TradesReceived int64     `json:"trades_received"`
	BooksReceived  int64     `json:"books_received"`
	FramesDropped  int64     `json:"frames_dropped"`
	TradesBuffered int       `json:"trades_buffered"`
	LastFrameAt    time.Time `json:"last_frame_at,omitempty"`
}

// Option customises a Client.
type Option func(*Client)

// WithClock replaces the wall clock used for subscribe and reconnect delays
// and for snapshot timestamps.
func WithClock(clock Clock) Option {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithDialer replaces the gorilla websocket dialer.
func WithDialer(dialer Dialer) Option {
	return func(c *Client) {
		if dialer != nil {
			c.dialer = dialer
		}
	}
}

// WithLogger sets the logger. The global logger is used otherwise.
func WithLogger(log *logger.Log) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithBackOff replaces the reconnect delay policy. The default is a constant
// cfg.ReconnectDelay. The policy is reset after every successful dial; when it
// returns backoff.Stop the client falls back to cfg.ReconnectDelay.
func WithBackOff(b backoff.BackOff) Option {
	return func(c *Client) {
		if b != nil {
			c.backoff = b
		}
	}
}

// Client owns one upstream connection at a time. Connection callbacks and
// timers are serialized by mu; every scheduled callback carries the
// generation it was created for and does nothing once gen has moved on.
type Client struct {
	cfg     config.StreamConfig
	clock   Clock
	dialer  Dialer
	log     *logger.Log
	backoff backoff.BackOff

	trades    *tradeBuffer
	book      atomic.Pointer[models.OrderBookSnapshot]
	connected atomic.Bool

	mu        sync.Mutex
	started   bool
	stopped   bool
	gen       uint64
	conn      Conn
	pending   []Timer
	ctx       context.Context
	cancel    context.CancelFunc
	stopAfter func() bool
	wg        sync.WaitGroup

	connects       atomic.Int64
	reconnects     atomic.Int64
	framesReceived atomic.Int64
	tradesReceived atomic.Int64
	booksReceived  atomic.Int64
	framesDropped  atomic.Int64
	lastFrameAt    atomic.Int64
	connID         atomic.Pointer[string]
}

// New builds a client for cfg. Zero values in cfg fall back to the package
// defaults in config.
func New(cfg config.StreamConfig, opts ...Option) *Client {
	if cfg.URL == "" {
		cfg.URL = config.DefaultStreamURL
	}
	cfg.Symbol = symbols.Normalize(cfg.Symbol)
	if cfg.Symbol == "" {
		cfg.Symbol = config.DefaultSymbol
	}
	if cfg.TradeBuffer <= 0 {
		cfg.TradeBuffer = config.DefaultTradeBuffer
	}
	if cfg.SubscribeDelay <= 0 {
		cfg.SubscribeDelay = config.DefaultSubscribeDelay
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = config.DefaultReconnectDelay
	}

	c := &Client{
		cfg:    cfg,
		clock:  systemClock{},
		dialer: newWSDialer(cfg.HandshakeTime, cfg.WriteTimeout),
		log:    logger.GetLogger(),
		trades: newTradeBuffer(cfg.TradeBuffer),

		backoff: backoff.NewConstantBackOff(cfg.ReconnectDelay),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins connecting in the background. Cancelling ctx has the same
// effect as Stop.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return ErrStopped
	}
	if c.started {
		return ErrAlreadyStarted
	}
	c.started = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.stopAfter = context.AfterFunc(ctx, c.Stop)

	c.entry().WithFields(logger.Fields{
		"url":    c.cfg.URL,
		"symbol": c.cfg.Symbol,
	}).Info("starting stream client")

	c.connectLocked()
	return nil
}

// Stop closes the live connection, cancels pending timers and waits for the
// background goroutines. It is safe to call at any time, more than once.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.gen++
	c.cancelPendingLocked()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	wasConnected := c.connected.Swap(false)
	if c.cancel != nil {
		c.cancel()
	}
	if c.stopAfter != nil {
		c.stopAfter()
	}
	started := c.started
	c.mu.Unlock()

	c.wg.Wait()

	if wasConnected {
		metrics.SetConnected(c.log, false)
	}
	if started {
		c.entry().Info("stream client stopped")
	}
}

// RecentTrades returns the buffered raw trade frames, newest first.
func (c *Client) RecentTrades() []models.TradeRecord {
	return c.trades.Snapshot()
}

// LatestTrade returns the newest buffered trade frame.
func (c *Client) LatestTrade() (models.TradeRecord, bool) {
	return c.trades.Latest()
}

// LatestOrderBook returns a copy of the current snapshot, or nil before the
// first one arrives.
func (c *Client) LatestOrderBook() *models.OrderBookSnapshot {
	return c.book.Load().Clone()
}

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) State() models.ConnectionState {
	if c.connected.Load() {
		return models.StateConnected
	}
	return models.StateDisconnected
}

// Symbol is the instrument the client subscribes to.
func (c *Client) Symbol() string {
	return c.cfg.Symbol
}

func (c *Client) Stats() Stats {
	s := Stats{
		Connected:      c.connected.Load(),
		Connects:       c.connects.Load(),
		Reconnects:     c.reconnects.Load(),
		FramesReceived: c.framesReceived.Load(),
		TradesReceived: c.tradesReceived.Load(),
		BooksReceived:  c.booksReceived.Load(),
		FramesDropped:  c.framesDropped.Load(),
		TradesBuffered: c.trades.Len(),
	}
	if ms := c.lastFrameAt.Load(); ms > 0 {
		s.LastFrameAt = time.UnixMilli(ms)
	}
	return s
}

// HandleFrame decodes one inbound frame and applies it. A frame that can't
// be used is dropped and reported through the returned disposition.
func (c *Client) HandleFrame(raw []byte) (d Disposition) {
	var stream string
	defer func() {
		if r := recover(); r != nil {
			d = DispositionPanic
			c.entry().WithField("panic", fmt.Sprint(r)).Error("recovered while handling frame")
		}
		c.recordFrame(d, stream)
	}()

	frame := decodeFrame(raw, c.cfg.Symbol, c.clock.Now())
	stream = frame.stream

	switch frame.disposition {
	case DispositionTrade:
		n := c.trades.Push(models.TradeRecord(raw))
		c.tradesReceived.Add(1)
		metrics.SetTradesBuffered(n)
	case DispositionOrderBook:
		c.book.Store(frame.book)
		c.booksReceived.Add(1)
	}
	return frame.disposition
}

func (c *Client) recordFrame(d Disposition, stream string) {
	c.framesReceived.Add(1)
	c.lastFrameAt.Store(c.clock.Now().UnixMilli())
	metrics.RecordFrame(d.String())

	if !d.Dropped() {
		return
	}
	c.framesDropped.Add(1)
	c.entry().WithFields(logger.Fields{
		"disposition": d.String(),
		"stream":      stream,
	}).Debug("dropped frame")
	metrics.EmitFrameDrop(c.log, metrics.DropReason(d.String()), stream)
}

// connectLocked starts a new connection attempt under a fresh generation.
func (c *Client) connectLocked() {
	c.gen++
	gen := c.gen
	id := uuid.NewString()
	c.connID.Store(&id)
	ctx := c.ctx

	c.wg.Add(1)
	go c.dial(ctx, gen)
}

func (c *Client) dial(ctx context.Context, gen uint64) {
	defer c.wg.Done()

	conn, err := c.dialer.Dial(ctx, c.cfg.URL)

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || c.stopped {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		c.entry().WithError(err).Warn("failed to connect to stream")
		c.handleDisconnectLocked()
		return
	}

	c.conn = conn
	c.backoff.Reset()
	c.connected.Store(true)
	c.connects.Add(1)
	metrics.SetConnected(c.log, true)
	c.entry().Info("stream connected")

	c.scheduleLocked(gen, c.cfg.SubscribeDelay, func() { c.subscribeLocked(1, symbols.KindTrade) })
	c.scheduleLocked(gen, 2*c.cfg.SubscribeDelay, func() { c.subscribeLocked(2, symbols.KindDepth) })

	c.wg.Add(1)
	go c.readLoop(gen, conn)
}

func (c *Client) readLoop(gen uint64, conn Conn) {
	defer c.wg.Done()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if gen == c.gen && !c.stopped {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.entry().WithError(err).Info("stream closed by upstream")
				} else {
					c.entry().WithError(err).Warn("stream read failed")
				}
				_ = conn.Close()
				c.conn = nil
				c.handleDisconnectLocked()
			}
			c.mu.Unlock()
			return
		}
		c.HandleFrame(msg)
	}
}

// handleDisconnectLocked flags the client disconnected, invalidates timers of
// the current generation and schedules exactly one reconnect.
func (c *Client) handleDisconnectLocked() {
	c.cancelPendingLocked()
	if c.connected.Swap(false) {
		metrics.SetConnected(c.log, false)
	}

	c.gen++
	gen := c.gen
	delay := c.backoff.NextBackOff()
	if delay == backoff.Stop || delay < 0 {
		delay = c.cfg.ReconnectDelay
	}

	c.reconnects.Add(1)
	metrics.RecordReconnect(c.log)
	c.entry().WithFields(logger.Fields{
		"delay": delay.String(),
		"url":   c.cfg.URL,
	}).Info("scheduling reconnect")

	c.scheduleLocked(gen, delay, func() { c.connectLocked() })
}

// scheduleLocked arms a timer whose callback runs under mu, and only while the
// client is still on generation gen.
func (c *Client) scheduleLocked(gen uint64, delay time.Duration, fn func()) {
	t := c.clock.AfterFunc(delay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if gen != c.gen || c.stopped {
			return
		}
		fn()
	})
	c.pending = append(c.pending, t)
}

func (c *Client) cancelPendingLocked() {
	for _, t := range c.pending {
		t.Stop()
	}
	c.pending = nil
}

func (c *Client) subscribeLocked(id int, kind string) {
	if c.conn == nil {
		return
	}
	channel := symbols.Channel(kind, c.cfg.Symbol)
	payload, err := json.Marshal(models.SubscribeRequest{
		Method: subscribeMethod,
		Params: []string{channel},
		ID:     id,
	})
	if err != nil {
		c.entry().WithError(err).Error("failed to encode subscribe request")
		return
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.entry().WithError(err).WithField("channel", channel).Warn("failed to send subscribe request")
		return
	}
	c.entry().WithFields(logger.Fields{"channel": channel, "id": id}).Debug("subscribe request sent")
}

func (c *Client) entry() *logger.Entry {
	e := c.log.WithComponent("stream_client")
	if id := c.connID.Load(); id != nil {
		e = e.WithField("conn_id", *id)
	}
	return e
}
