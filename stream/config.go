package stream

import (
	"fmt"
	"net/url"
	"time"

	"github.com/elementalcollision/graphmemory-stream/errors"
	"github.com/elementalcollision/graphmemory-stream/transform"
)

// DataType labels the kind of payload a subscription expects. It is carried
// on the subscribe frame so the backend can shape its updates.
type DataType string

const (
	DataTypeMemory    DataType = "memory"
	DataTypeAnalytics DataType = "analytics"
	DataTypeMetrics   DataType = "metrics"
	DataTypeEvents    DataType = "events"
)

// ConnectionConfig describes one connection attempt and the recovery policy
// retained for the lifetime of the connection.
type ConnectionConfig struct {
	// URL is the WebSocket endpoint (ws:// or wss://).
	URL string

	// Subprotocols to offer during the handshake.
	Subprotocols []string

	// MaxReconnectAttempts bounds recovery after an unexpected disconnect.
	// 0 disables reconnection entirely.
	MaxReconnectAttempts int

	// ReconnectInterval is the constant delay between reconnection attempts.
	ReconnectInterval time.Duration

	// HeartbeatInterval is the period of outbound heartbeat probes.
	// 0 disables the heartbeat monitor.
	HeartbeatInterval time.Duration

	// ConnectTimeout bounds the dial and WebSocket handshake.
	ConnectTimeout time.Duration
}

// DefaultConnectionConfig returns a config for addr with the recovery and
// liveness defaults the dashboard ships with.
func DefaultConnectionConfig(addr string) ConnectionConfig {
	return ConnectionConfig{
		URL:                  addr,
		MaxReconnectAttempts: 5,
		ReconnectInterval:    3 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		ConnectTimeout:       10 * time.Second,
	}
}

// Validate checks the config for values the client cannot operate with.
func (c ConnectionConfig) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"ConnectionConfig", "Validate", "url is required")
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return errors.WrapInvalid(err, "ConnectionConfig", "Validate", "parse url")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.WrapInvalid(
			fmt.Errorf("unsupported scheme %q, want ws or wss", u.Scheme),
			"ConnectionConfig", "Validate", "check url scheme")
	}
	if c.MaxReconnectAttempts < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("maxReconnectAttempts must be >= 0, got %d", c.MaxReconnectAttempts),
			"ConnectionConfig", "Validate", "check reconnect policy")
	}
	if c.ReconnectInterval < 0 || c.HeartbeatInterval < 0 || c.ConnectTimeout < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("intervals must be >= 0"),
			"ConnectionConfig", "Validate", "check intervals")
	}
	return nil
}

// withDefaults fills unset durations so a minimal config behaves sensibly.
func (c ConnectionConfig) withDefaults() ConnectionConfig {
	def := DefaultConnectionConfig(c.URL)
	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = def.ReconnectInterval
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	return c
}

// SubscriptionConfig describes one logical subscription multiplexed over the
// shared connection.
type SubscriptionConfig struct {
	// Channel is the logical topic updates arrive on.
	Channel string

	// DataType hints the payload kind to the backend.
	DataType DataType

	// Transformations run against each inbound payload before delivery.
	Transformations transform.Pipeline

	// BufferSize caps the channel's history buffer. Defaults to 100.
	// The first subscription on a channel fixes the buffer's capacity.
	BufferSize int

	// AggregationWindow and UpdateFrequency are scheduling hints forwarded
	// to the backend; the client does not act on them.
	AggregationWindow time.Duration
	UpdateFrequency   time.Duration
}

// defaultBufferSize is the per-channel history depth when unspecified.
const defaultBufferSize = 100

// Validate checks the subscription for values the registry cannot accept.
func (c SubscriptionConfig) Validate() error {
	if c.Channel == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"SubscriptionConfig", "Validate", "channel is required")
	}
	if c.BufferSize < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("bufferSize must be >= 0, got %d", c.BufferSize),
			"SubscriptionConfig", "Validate", "check buffer size")
	}
	return nil
}

func (c SubscriptionConfig) withDefaults() SubscriptionConfig {
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
	return c
}

// Callback receives transformed payloads for one subscription. Callbacks run
// on the client's receive goroutine; a panicking callback is isolated and
// never tears down the connection or starves other subscriptions.
type Callback func(data any)
