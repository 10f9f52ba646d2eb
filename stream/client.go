package stream

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/elementalcollision/graphmemory-stream/errors"
	"github.com/elementalcollision/graphmemory-stream/metric"
	"github.com/elementalcollision/graphmemory-stream/pkg/buffer"
	"github.com/elementalcollision/graphmemory-stream/pkg/retry"
	"github.com/elementalcollision/graphmemory-stream/pkg/timestamp"
)

// Client is the facade over the connection, heartbeat monitor, reconnection
// policy, subscription registry and channel history. All methods are safe for
// concurrent use.
//
// Lifecycle: NewClient, Connect, any number of Subscribe/Unsubscribe and data
// reads, Disconnect. Disconnect fully resets the client; a fresh Connect may
// follow.
type Client struct {
	logger  *slog.Logger
	metrics *Metrics

	registry *subscriptionRegistry
	history  *channelHistory
	state    *stateTracker

	mu              sync.Mutex
	cfg             ConnectionConfig
	conn            *wsConn
	heartbeat       *heartbeatMonitor
	reconnectCancel context.CancelFunc
	closed          bool
	connectedAt     int64

	messagesReceived atomic.Int64
	bytesReceived    atomic.Int64
	bytesSinceConn   atomic.Int64
	lastMessageAt    atomic.Int64
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	logger     *slog.Logger
	metricsReg *metric.Registry
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics enables Prometheus metrics on the given registry, covering both
// client activity and per-channel buffer statistics.
func WithMetrics(registry *metric.Registry) Option {
	return func(o *clientOptions) {
		o.metricsReg = registry
	}
}

// NewClient creates a disconnected client.
func NewClient(options ...Option) (*Client, error) {
	opts := &clientOptions{logger: slog.Default()}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}

	metrics, err := newMetrics(opts.metricsReg)
	if err != nil {
		return nil, errors.Wrap(err, "Client", "NewClient", "register metrics")
	}

	return &Client{
		logger:   opts.logger,
		metrics:  metrics,
		registry: newSubscriptionRegistry(),
		history:  newChannelHistory(opts.metricsReg, opts.logger),
		state:    newStateTracker(opts.logger),
	}, nil
}

// Connect establishes the WebSocket connection described by cfg and retains
// cfg as the recovery policy for the connection's lifetime. A failed initial
// connect is reported to the caller and is not retried; the reconnection
// policy only covers connections that were established and then lost.
func (c *Client) Connect(ctx context.Context, cfg ConnectionConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg = cfg.withDefaults()

	c.mu.Lock()
	if c.conn != nil && !c.conn.isClosed() {
		c.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyConnected, "Client", "Connect", "check state")
	}
	c.cfg = cfg
	c.closed = false
	c.mu.Unlock()

	c.state.set(func(s *ConnectionState) {
		s.Status = StatusConnecting
		s.Err = ""
	})
	c.logger.Info("connecting", "url", cfg.URL)

	conn, err := dialConn(ctx, cfg)
	if err != nil {
		c.state.set(func(s *ConnectionState) {
			s.Status = StatusError
			s.Err = err.Error()
		})
		c.logger.Error("connect failed", "url", cfg.URL, "error", err)
		return errors.Wrap(err, "Client", "Connect", "establish connection")
	}

	c.adopt(conn)
	return nil
}

// adopt installs a freshly dialed connection: start the heartbeat monitor and
// the receive loop, publish the connected state, and re-announce live
// subscriptions so a recovered connection resumes the same channels.
func (c *Client) adopt(conn *wsConn) {
	now := timestamp.Now()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.close(websocket.CloseNormalClosure, "client disconnected")
		return
	}
	oldConn := c.conn
	oldHB := c.heartbeat
	c.conn = conn
	cancel := c.reconnectCancel
	c.reconnectCancel = nil
	c.connectedAt = now
	c.heartbeat = startHeartbeat(conn, c.cfg.HeartbeatInterval, c.logger, c.metrics.recordHeartbeat)
	url := c.cfg.URL
	c.mu.Unlock()

	if cancel != nil {
		// Release the recovery context that dialed this connection
		defer cancel()
	}

	// A connection that was still live when this one raced it in is
	// superseded, not leaked. Its read loop observes the close, fails the
	// identity check in handleReadError and exits without touching us.
	oldHB.stop()
	if oldConn != nil && !oldConn.isClosed() {
		oldConn.close(websocket.CloseNormalClosure, "superseded")
	}

	c.bytesSinceConn.Store(0)

	c.state.set(func(s *ConnectionState) {
		s.Status = StatusConnected
		s.LastConnectedAt = now
		s.ReconnectAttempts = 0
		s.Err = ""
	})
	c.metrics.setConnected(true)
	c.logger.Info("connected", "url", url)

	for _, sub := range c.registry.all() {
		c.announce(conn, sub)
	}

	go c.readLoop(conn)
}

// Disconnect deliberately tears the client down: the connection is closed
// with a normal close frame, any pending reconnection is cancelled, the
// heartbeat monitor stops, and all subscriptions and channel history are
// dropped. Idempotent; the client accepts a fresh Connect afterwards.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	hb := c.heartbeat
	c.heartbeat = nil
	cancel := c.reconnectCancel
	c.reconnectCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	hb.stop()
	if conn != nil {
		conn.close(websocket.CloseNormalClosure, "client disconnect")
	}

	removed := c.registry.clear()
	c.history.clearAll()
	c.metrics.setSubscriptions(0)
	c.metrics.setConnected(false)

	c.state.set(func(s *ConnectionState) {
		s.Status = StatusDisconnected
		s.ReconnectAttempts = 0
		s.Err = ""
	})

	if conn != nil || len(removed) > 0 {
		c.logger.Info("disconnected", "droppedSubscriptions", len(removed))
	}
}

// Close permanently shuts the client down: Disconnect plus release of the
// client's Prometheus collectors, so a later client may register on the same
// metrics registry. A closed client must not be reused.
func (c *Client) Close() {
	c.Disconnect()
	c.metrics.unregister()
}

// Subscribe registers a consumer for a channel's updates and returns the
// subscription ID. The subscribe announcement to the backend is best effort;
// registration succeeds even while disconnected, and live subscriptions are
// re-announced on every (re)connect.
func (c *Client) Subscribe(cfg SubscriptionConfig, cb Callback) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	cfg = cfg.withDefaults()

	if err := c.history.retain(cfg.Channel, cfg.BufferSize); err != nil {
		return "", errors.Wrap(err, "Client", "Subscribe", "retain channel buffer")
	}

	sub := c.registry.add(cfg, cb)
	c.metrics.setSubscriptions(c.registry.count())
	c.logger.Debug("subscribed", "subscriptionId", sub.ID, "channel", cfg.Channel)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		c.announce(conn, sub)
	}

	return sub.ID, nil
}

// announce sends the subscribe frame for sub. Failures are logged and
// swallowed; the registry is the source of truth, not the backend.
func (c *Client) announce(conn *wsConn, sub *Subscription) {
	frame := controlFrame{
		Type:                msgTypeSubscribe,
		Channel:             sub.Config.Channel,
		DataType:            sub.Config.DataType,
		SubscriptionID:      sub.ID,
		AggregationWindowMs: sub.Config.AggregationWindow.Milliseconds(),
		UpdateFrequencyMs:   sub.Config.UpdateFrequency.Milliseconds(),
	}
	if err := conn.sendJSON(frame); err != nil {
		c.logger.Debug("subscribe announce failed",
			"subscriptionId", sub.ID, "channel", sub.Config.Channel, "error", err)
	}
}

// Unsubscribe removes a subscription. An unknown ID is a no-op. When the last
// subscription on a channel is removed, the channel's history is released.
func (c *Client) Unsubscribe(id string) {
	sub, ok := c.registry.remove(id)
	if !ok {
		c.logger.Debug("unsubscribe for unknown id", "subscriptionId", id)
		return
	}

	c.history.release(sub.Config.Channel)
	c.metrics.setSubscriptions(c.registry.count())
	c.logger.Debug("unsubscribed", "subscriptionId", id, "channel", sub.Config.Channel)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		frame := controlFrame{
			Type:           msgTypeUnsubscribe,
			Channel:        sub.Config.Channel,
			SubscriptionID: id,
		}
		if err := conn.sendJSON(frame); err != nil {
			c.logger.Debug("unsubscribe announce failed", "subscriptionId", id, "error", err)
		}
	}
}

// Subscription returns a copy of the live subscription with the given ID.
func (c *Client) Subscription(id string) (Subscription, bool) {
	sub, ok := c.registry.get(id)
	if !ok {
		return Subscription{}, false
	}
	return *sub, true
}

// Subscriptions returns a snapshot of the live subscriptions.
func (c *Client) Subscriptions() []Subscription {
	subs := c.registry.all()
	out := make([]Subscription, len(subs))
	for i, sub := range subs {
		out[i] = *sub
	}
	return out
}

// LatestData returns the most recent transformed payload on channel.
// The false return means no data has been retained, which covers both an
// unknown channel and a channel that has not received an update yet.
func (c *Client) LatestData(channel string) (any, bool) {
	entry, ok := c.history.latest(channel)
	if !ok {
		return nil, false
	}
	return entry.Data, true
}

// HistoricalData returns the channel's retained history oldest first,
// restricted to rng when non-nil. Entries are timestamped by their payload's
// own timestamp field when present, else by arrival time.
func (c *Client) HistoricalData(channel string, rng *TimeRange) []Entry {
	return c.history.snapshot(channel, rng)
}

// Publish sends a payload to the backend on the given channel.
func (c *Client) Publish(channel string, data any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errors.WrapInvalid(errors.ErrNotConnected, "Client", "Publish", "check connection")
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return errors.WrapInvalid(err, "Client", "Publish", "marshal payload")
	}

	return conn.sendJSON(envelope{
		Type:    "publish",
		Channel: channel,
		Data:    payload,
	})
}

// State returns a copy of the current connection state.
func (c *Client) State() ConnectionState {
	return c.state.get()
}

// OnStateChange registers an observer invoked synchronously with a copy of
// the state on every transition. The returned function removes the observer.
func (c *Client) OnStateChange(fn func(ConnectionState)) func() {
	return c.state.subscribe(fn)
}

// MetricsSnapshot is a point-in-time view of client activity for consumers
// that do not scrape Prometheus.
type MetricsSnapshot struct {
	// ConnectionsCount is 1 while the connection is established, else 0.
	ConnectionsCount int `json:"connectionsCount"`

	// SubscriptionsCount is the number of live subscriptions.
	SubscriptionsCount int `json:"subscriptionsCount"`

	MessagesReceived int64 `json:"messagesReceived"`
	BytesReceived    int64 `json:"bytesReceived"`

	// DataTransferRate is inbound bytes per second since the current
	// connection was established, 0 while disconnected.
	DataTransferRate float64 `json:"dataTransferRate"`

	// LatencyMs is the time since the last inbound message, 0 before the
	// first message arrives. Heartbeat responses count, so a healthy idle
	// connection reports at most one heartbeat interval.
	LatencyMs int64 `json:"latencyMs"`

	// Channels maps channel names to their history buffer statistics.
	Channels map[string]buffer.StatsSummary `json:"channels"`
}

// Metrics returns a snapshot of client activity.
func (c *Client) Metrics() MetricsSnapshot {
	c.mu.Lock()
	connected := c.conn != nil && !c.conn.isClosed()
	connectedAt := c.connectedAt
	c.mu.Unlock()

	snap := MetricsSnapshot{
		SubscriptionsCount: c.registry.count(),
		MessagesReceived:   c.messagesReceived.Load(),
		BytesReceived:      c.bytesReceived.Load(),
		Channels:           c.history.stats(),
	}

	if connected {
		snap.ConnectionsCount = 1
		if elapsed := timestamp.Since(connectedAt).Seconds(); elapsed > 0 {
			snap.DataTransferRate = float64(c.bytesSinceConn.Load()) / elapsed
		}
	}
	if last := c.lastMessageAt.Load(); last != 0 {
		snap.LatencyMs = timestamp.Since(last).Milliseconds()
	}

	return snap
}

// readLoop is the single reader of the connection. It exits when the
// transport fails or is closed; recovery is decided in handleReadError.
func (c *Client) readLoop(conn *wsConn) {
	for {
		data, err := conn.readMessage()
		if err != nil {
			c.handleReadError(conn, err)
			return
		}
		c.handleMessage(conn, data)
	}
}

// handleMessage routes one inbound frame: answer heartbeat probes, drop
// unroutable or undecodable messages, and fan data updates out to the
// channel's subscriptions through their pipelines.
func (c *Client) handleMessage(conn *wsConn, data []byte) {
	c.messagesReceived.Add(1)
	c.bytesReceived.Add(int64(len(data)))
	c.bytesSinceConn.Add(int64(len(data)))
	c.lastMessageAt.Store(timestamp.Now())
	c.metrics.recordMessage(len(data))

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.metrics.recordDropped("parse_error")
		c.logger.Debug("dropping unparseable message", "error", err)
		return
	}

	switch env.Type {
	case msgTypeHeartbeat:
		// Server-initiated probe: echo its timestamp back
		reply := controlFrame{
			Type:      msgTypeHeartbeatResponse,
			Timestamp: timestamp.Parse(env.Timestamp),
		}
		if err := conn.sendJSON(reply); err != nil {
			c.logger.Debug("heartbeat response failed", "error", err)
		}
		return
	case msgTypeHeartbeatResponse:
		// Liveness already recorded above
		return
	}

	if env.Channel == "" {
		c.metrics.recordDropped("no_channel")
		c.logger.Debug("dropping message without channel")
		return
	}

	subs := c.registry.channelSubs(env.Channel)
	if len(subs) == 0 {
		c.metrics.recordDropped("unroutable")
		c.logger.Debug("dropping update for channel without subscribers", "channel", env.Channel)
		return
	}

	var payload any
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			c.metrics.recordDropped("parse_error")
			c.logger.Debug("dropping undecodable payload", "channel", env.Channel, "error", err)
			return
		}
	}

	// One wire message occupies exactly one history slot regardless of how
	// many subscriptions share the channel. The earliest registration's
	// pipeline defines the stored form; each subscription still receives its
	// own transformed result.
	for i, sub := range subs {
		result := sub.Config.Transformations.Apply(payload)
		if i == 0 {
			c.history.append(env.Channel, result)
		}
		c.deliver(sub, result)
	}
}

// deliver invokes one subscription callback, isolating panics so a faulty
// subscriber cannot tear down the connection or starve its peers.
func (c *Client) deliver(sub *Subscription, data any) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.recordCallbackPanic()
			c.logger.Error("subscriber callback panicked",
				"subscriptionId", sub.ID, "channel", sub.Config.Channel, "panic", r)
		}
	}()
	if sub.callback != nil {
		sub.callback(data)
	}
}

// handleReadError decides what a broken read means: nothing if the connection
// was already replaced or deliberately closed, recovery otherwise.
func (c *Client) handleReadError(conn *wsConn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		// Stale loop from a connection that was already torn down
		c.mu.Unlock()
		return
	}
	c.conn = nil
	hb := c.heartbeat
	c.heartbeat = nil
	closed := c.closed
	cfg := c.cfg
	c.mu.Unlock()

	hb.stop()
	c.metrics.setConnected(false)

	if closed {
		return
	}

	c.logger.Warn("connection lost", "url", cfg.URL, "error", cause)

	if cfg.MaxReconnectAttempts <= 0 {
		c.state.set(func(s *ConnectionState) {
			s.Status = StatusDisconnected
			s.Err = cause.Error()
		})
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.closed {
		// Disconnect raced in after the state check above
		c.mu.Unlock()
		cancel()
		return
	}
	c.reconnectCancel = cancel
	c.mu.Unlock()

	c.state.set(func(s *ConnectionState) {
		s.Status = StatusReconnecting
		s.Err = cause.Error()
	})

	go c.reconnectLoop(ctx, cfg)
}

// reconnectLoop drives bounded recovery: wait the constant interval, attempt,
// repeat until success, cancellation, or exhaustion. Exhaustion is terminal;
// the client settles in the disconnected state and a caller must issue a
// fresh Connect to resume.
func (c *Client) reconnectLoop(ctx context.Context, cfg ConnectionConfig) {
	timer := time.NewTimer(cfg.ReconnectInterval)
	select {
	case <-ctx.Done():
		timer.Stop()
		return
	case <-timer.C:
	}

	attempt := 0
	err := retry.Do(ctx, retry.Constant(cfg.MaxReconnectAttempts, cfg.ReconnectInterval), func() error {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return retry.NonRetryable(errors.ErrClientClosed)
		}

		attempt++
		c.state.set(func(s *ConnectionState) {
			s.Status = StatusReconnecting
			s.ReconnectAttempts = attempt
		})
		c.metrics.recordReconnect()
		c.logger.Info("reconnecting", "attempt", attempt, "maxAttempts", cfg.MaxReconnectAttempts)

		conn, dialErr := dialConn(ctx, cfg)
		if dialErr != nil {
			c.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", dialErr)
			return dialErr
		}
		c.adopt(conn)
		return nil
	})

	if err == nil || ctx.Err() != nil || stderrors.Is(err, errors.ErrClientClosed) {
		// Success, or Disconnect already owns the terminal state
		return
	}

	c.logger.Error("reconnection exhausted",
		"attempts", cfg.MaxReconnectAttempts, "error", err)
	c.state.set(func(s *ConnectionState) {
		s.Status = StatusDisconnected
		s.Err = err.Error()
	})
}
