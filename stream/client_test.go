package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elementalcollision/graphmemory-stream/metric"
	"github.com/elementalcollision/graphmemory-stream/transform"
)

const testTimeout = 3 * time.Second

func newTestClient(t *testing.T, options ...Option) *Client {
	t.Helper()
	c, err := NewClient(options...)
	require.NoError(t, err)
	t.Cleanup(c.Disconnect)
	return c
}

func connectedClient(t *testing.T, ts *testServer, mutate func(*ConnectionConfig)) *Client {
	t.Helper()
	c := newTestClient(t)

	cfg := DefaultConnectionConfig(ts.url())
	cfg.HeartbeatInterval = 0
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, c.Connect(context.Background(), cfg))
	ts.waitConn(testTimeout)
	return c
}

func TestClient_ConnectAndDisconnect(t *testing.T) {
	ts := newTestServer(t)
	c := connectedClient(t, ts, nil)

	state := c.State()
	assert.Equal(t, StatusConnected, state.Status)
	assert.NotZero(t, state.LastConnectedAt)
	assert.Zero(t, state.ReconnectAttempts)
	assert.Empty(t, state.Err)
	assert.Equal(t, 1, c.Metrics().ConnectionsCount)

	c.Disconnect()
	assert.Equal(t, StatusDisconnected, c.State().Status)
	assert.Equal(t, 0, c.Metrics().ConnectionsCount)

	// Idempotent
	c.Disconnect()
	assert.Equal(t, StatusDisconnected, c.State().Status)

	// Fresh connect after a full teardown
	cfg := DefaultConnectionConfig(ts.url())
	cfg.HeartbeatInterval = 0
	require.NoError(t, c.Connect(context.Background(), cfg))
	assert.Equal(t, StatusConnected, c.State().Status)
}

func TestClient_ConnectValidation(t *testing.T) {
	c := newTestClient(t)

	assert.Error(t, c.Connect(context.Background(), ConnectionConfig{}))
	assert.Error(t, c.Connect(context.Background(), ConnectionConfig{URL: "http://example.com"}))
	assert.Error(t, c.Connect(context.Background(), ConnectionConfig{URL: "ws://x", MaxReconnectAttempts: -1}))
}

func TestClient_ConnectFailure(t *testing.T) {
	c := newTestClient(t)

	cfg := DefaultConnectionConfig("ws://127.0.0.1:1")
	cfg.ConnectTimeout = 200 * time.Millisecond
	err := c.Connect(context.Background(), cfg)
	require.Error(t, err)

	state := c.State()
	assert.Equal(t, StatusError, state.Status)
	assert.NotEmpty(t, state.Err)
}

func TestClient_AlreadyConnected(t *testing.T) {
	ts := newTestServer(t)
	c := connectedClient(t, ts, nil)

	err := c.Connect(context.Background(), DefaultConnectionConfig(ts.url()))
	assert.Error(t, err)
}

func TestClient_SubscribeAnnouncesToBackend(t *testing.T) {
	ts := newTestServer(t)
	c := connectedClient(t, ts, nil)

	id, err := c.Subscribe(SubscriptionConfig{
		Channel:  "memory_updates",
		DataType: DataTypeMemory,
	}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	frame := ts.waitFrame("subscribe", testTimeout)
	assert.Equal(t, "memory_updates", frame["channel"])
	assert.Equal(t, "memory", frame["dataType"])
	assert.Equal(t, id, frame["subscriptionId"])
}

func TestClient_RoutesUpdatesByChannel(t *testing.T) {
	ts := newTestServer(t)
	c := connectedClient(t, ts, nil)

	got := make(chan any, 8)
	_, err := c.Subscribe(SubscriptionConfig{Channel: "memory_updates"}, func(data any) {
		got <- data
	})
	require.NoError(t, err)

	ts.send(map[string]any{
		"channel": "memory_updates",
		"data":    map[string]any{"nodes": 42.0},
	})

	select {
	case data := <-got:
		assert.Equal(t, map[string]any{"nodes": 42.0}, data)
	case <-time.After(testTimeout):
		t.Fatal("callback never invoked")
	}

	latest, ok := c.LatestData("memory_updates")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"nodes": 42.0}, latest)

	// An update for a channel with no subscribers is dropped silently
	ts.send(map[string]any{
		"channel": "other_channel",
		"data":    map[string]any{"x": 1.0},
	})
	select {
	case data := <-got:
		t.Fatalf("unexpected delivery: %v", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClient_SubscriptionCount(t *testing.T) {
	ts := newTestServer(t)
	c := connectedClient(t, ts, nil)

	a, err := c.Subscribe(SubscriptionConfig{Channel: "a"}, nil)
	require.NoError(t, err)
	b, err := c.Subscribe(SubscriptionConfig{Channel: "b"}, nil)
	require.NoError(t, err)
	assert.Len(t, c.Subscriptions(), 2)

	c.Unsubscribe(a)
	assert.Len(t, c.Subscriptions(), 1)

	// Unknown and repeated IDs are no-ops
	c.Unsubscribe(a)
	c.Unsubscribe("not-a-subscription")
	assert.Len(t, c.Subscriptions(), 1)

	c.Unsubscribe(b)
	assert.Empty(t, c.Subscriptions())
}

func TestClient_UnsubscribeAnnouncesToBackend(t *testing.T) {
	ts := newTestServer(t)
	c := connectedClient(t, ts, nil)

	id, err := c.Subscribe(SubscriptionConfig{Channel: "memory_updates"}, nil)
	require.NoError(t, err)
	ts.waitFrame("subscribe", testTimeout)

	c.Unsubscribe(id)
	frame := ts.waitFrame("unsubscribe", testTimeout)
	assert.Equal(t, "memory_updates", frame["channel"])
	assert.Equal(t, id, frame["subscriptionId"])
}

func TestClient_SubscribeWhileDisconnected(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t)

	// Registration works offline; the announcement happens on connect
	id, err := c.Subscribe(SubscriptionConfig{Channel: "memory_updates"}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	cfg := DefaultConnectionConfig(ts.url())
	cfg.HeartbeatInterval = 0
	require.NoError(t, c.Connect(context.Background(), cfg))

	frame := ts.waitFrame("subscribe", testTimeout)
	assert.Equal(t, id, frame["subscriptionId"])
}

func TestClient_TransformationsRunBeforeDelivery(t *testing.T) {
	ts := newTestServer(t)
	c := connectedClient(t, ts, nil)

	got := make(chan any, 8)
	_, err := c.Subscribe(SubscriptionConfig{
		Channel: "analytics",
		Transformations: transform.Pipeline{
			transform.Aggregate{Field: "x", Op: transform.AggregateAvg},
		},
	}, func(data any) { got <- data })
	require.NoError(t, err)

	ts.send(map[string]any{
		"channel": "analytics",
		"data": []any{
			map[string]any{"x": 2.0},
			map[string]any{"x": 4.0},
			map[string]any{"x": 6.0},
		},
	})

	select {
	case data := <-got:
		assert.Equal(t, 4.0, data)
	case <-time.After(testTimeout):
		t.Fatal("callback never invoked")
	}

	// History holds the transformed result, not the raw payload
	latest, ok := c.LatestData("analytics")
	require.True(t, ok)
	assert.Equal(t, 4.0, latest)
}

func TestClient_BufferKeepsMostRecent(t *testing.T) {
	ts := newTestServer(t)
	c := connectedClient(t, ts, nil)

	got := make(chan any, 16)
	_, err := c.Subscribe(SubscriptionConfig{
		Channel:    "metrics",
		BufferSize: 3,
	}, func(data any) { got <- data })
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		ts.send(map[string]any{
			"channel": "metrics",
			"data":    map[string]any{"v": float64(i)},
		})
	}
	for i := 0; i < 5; i++ {
		select {
		case <-got:
		case <-time.After(testTimeout):
			t.Fatalf("delivery %d never arrived", i+1)
		}
	}

	history := c.HistoricalData("metrics", nil)
	require.Len(t, history, 3)
	assert.Equal(t, map[string]any{"v": 3.0}, history[0].Data)
	assert.Equal(t, map[string]any{"v": 4.0}, history[1].Data)
	assert.Equal(t, map[string]any{"v": 5.0}, history[2].Data)
}

func TestClient_HistoricalDataTimeRange(t *testing.T) {
	ts := newTestServer(t)
	c := connectedClient(t, ts, nil)

	got := make(chan any, 8)
	_, err := c.Subscribe(SubscriptionConfig{Channel: "events"}, func(data any) { got <- data })
	require.NoError(t, err)

	// Payloads carry their own millisecond timestamps, which the history
	// indexes on instead of arrival time
	base := int64(1700000000000)
	for i := int64(0); i < 3; i++ {
		ts.send(map[string]any{
			"channel": "events",
			"data":    map[string]any{"timestamp": float64(base + i*1000), "v": float64(i)},
		})
	}
	for i := 0; i < 3; i++ {
		select {
		case <-got:
		case <-time.After(testTimeout):
			t.Fatal("delivery never arrived")
		}
	}

	all := c.HistoricalData("events", nil)
	require.Len(t, all, 3)
	assert.Equal(t, base, all[0].Timestamp)

	// Inclusive window keeps only the middle entry
	mid := c.HistoricalData("events", &TimeRange{Start: base + 1000, End: base + 1000})
	require.Len(t, mid, 1)
	assert.Equal(t, map[string]any{"timestamp": float64(base + 1000), "v": 1.0}, mid[0].Data)

	// Open-ended start means "from the beginning"
	upTo := c.HistoricalData("events", &TimeRange{End: base + 1000})
	assert.Len(t, upTo, 2)
}

func TestClient_CallbackPanicIsolation(t *testing.T) {
	ts := newTestServer(t)
	c := connectedClient(t, ts, nil)

	var healthy []any
	var mu sync.Mutex
	done := make(chan struct{}, 8)

	_, err := c.Subscribe(SubscriptionConfig{Channel: "memory_updates"}, func(data any) {
		panic("subscriber bug")
	})
	require.NoError(t, err)
	_, err = c.Subscribe(SubscriptionConfig{Channel: "memory_updates"}, func(data any) {
		mu.Lock()
		healthy = append(healthy, data)
		mu.Unlock()
		done <- struct{}{}
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		ts.send(map[string]any{
			"channel": "memory_updates",
			"data":    map[string]any{"n": float64(i)},
		})
		select {
		case <-done:
		case <-time.After(testTimeout):
			t.Fatal("healthy subscriber starved by panicking peer")
		}
	}

	mu.Lock()
	assert.Len(t, healthy, 2)
	mu.Unlock()

	// The connection survived both panics
	assert.Equal(t, StatusConnected, c.State().Status)
}

func TestClient_SharedChannelBufferOneEntryPerMessage(t *testing.T) {
	ts := newTestServer(t)
	c := connectedClient(t, ts, nil)

	first := make(chan any, 8)
	second := make(chan any, 8)
	_, err := c.Subscribe(SubscriptionConfig{
		Channel: "analytics",
		Transformations: transform.Pipeline{
			transform.Aggregate{Field: "x", Op: transform.AggregateAvg},
		},
	}, func(data any) { first <- data })
	require.NoError(t, err)
	_, err = c.Subscribe(SubscriptionConfig{Channel: "analytics"}, func(data any) { second <- data })
	require.NoError(t, err)

	payload := []any{
		map[string]any{"x": 2.0},
		map[string]any{"x": 6.0},
	}
	waitBoth := func() {
		t.Helper()
		select {
		case data := <-first:
			assert.Equal(t, 4.0, data)
		case <-time.After(testTimeout):
			t.Fatal("first subscriber never invoked")
		}
		select {
		case data := <-second:
			assert.Equal(t, payload, data)
		case <-time.After(testTimeout):
			t.Fatal("second subscriber never invoked")
		}
	}

	ts.send(map[string]any{"channel": "analytics", "data": payload})
	waitBoth()

	// One wire message fills exactly one history slot even with two
	// subscriptions on the channel, stored in the earliest registration's
	// transformed form
	history := c.HistoricalData("analytics", nil)
	require.Len(t, history, 1)
	assert.Equal(t, 4.0, history[0].Data)

	ts.send(map[string]any{"channel": "analytics", "data": payload})
	waitBoth()
	assert.Len(t, c.HistoricalData("analytics", nil), 2)
}

func TestClient_SubscriptionLookup(t *testing.T) {
	ts := newTestServer(t)
	c := connectedClient(t, ts, nil)

	id, err := c.Subscribe(SubscriptionConfig{Channel: "memory_updates", DataType: DataTypeMemory}, nil)
	require.NoError(t, err)

	sub, ok := c.Subscription(id)
	require.True(t, ok)
	assert.Equal(t, id, sub.ID)
	assert.Equal(t, "memory_updates", sub.Config.Channel)
	assert.NotZero(t, sub.CreatedAt)

	_, ok = c.Subscription("not-a-subscription")
	assert.False(t, ok)

	c.Unsubscribe(id)
	_, ok = c.Subscription(id)
	assert.False(t, ok)
}

func TestClient_CloseReleasesCollectors(t *testing.T) {
	reg := metric.NewRegistry()
	c, err := NewClient(WithMetrics(reg))
	require.NoError(t, err)

	families, err := reg.PrometheusRegistry().Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	c.Close()

	// Close removed the collector set and freed the registry for a
	// replacement client
	families, err = reg.PrometheusRegistry().Gather()
	require.NoError(t, err)
	assert.Empty(t, families)

	replacement, err := NewClient(WithMetrics(reg))
	require.NoError(t, err)
	replacement.Close()
}

func TestClient_AdoptClosesSupersededConnection(t *testing.T) {
	ts := newTestServer(t)
	c := connectedClient(t, ts, nil)

	c.mu.Lock()
	old := c.conn
	c.mu.Unlock()
	require.NotNil(t, old)

	replacement, err := dialConn(context.Background(), DefaultConnectionConfig(ts.url()))
	require.NoError(t, err)
	c.adopt(replacement)
	ts.waitConn(testTimeout)

	// The connection that lost the race is closed, not leaked
	assert.True(t, old.isClosed())
	assert.Equal(t, StatusConnected, c.State().Status)

	// Traffic flows on the replacement
	got := make(chan any, 4)
	_, err = c.Subscribe(SubscriptionConfig{Channel: "memory_updates"}, func(data any) { got <- data })
	require.NoError(t, err)
	ts.waitFrame("subscribe", testTimeout)

	ts.send(map[string]any{
		"channel": "memory_updates",
		"data":    map[string]any{"nodes": 7.0},
	})
	select {
	case data := <-got:
		assert.Equal(t, map[string]any{"nodes": 7.0}, data)
	case <-time.After(testTimeout):
		t.Fatal("delivery never arrived on replacement connection")
	}
}

func TestClient_PublishSendsFrame(t *testing.T) {
	ts := newTestServer(t)
	c := connectedClient(t, ts, nil)

	require.NoError(t, c.Publish("commands", map[string]any{"op": "refresh"}))

	frame := ts.waitFrame("publish", testTimeout)
	assert.Equal(t, "commands", frame["channel"])
	assert.Equal(t, map[string]any{"op": "refresh"}, frame["data"])
}

func TestClient_PublishRequiresConnection(t *testing.T) {
	c := newTestClient(t)
	assert.Error(t, c.Publish("commands", map[string]any{}))
}

func TestClient_MetricsSnapshot(t *testing.T) {
	ts := newTestServer(t)
	reg := metric.NewRegistry()
	c := newTestClient(t, WithMetrics(reg))

	cfg := DefaultConnectionConfig(ts.url())
	cfg.HeartbeatInterval = 0
	require.NoError(t, c.Connect(context.Background(), cfg))
	ts.waitConn(testTimeout)

	got := make(chan any, 8)
	_, err := c.Subscribe(SubscriptionConfig{Channel: "memory_updates"}, func(data any) { got <- data })
	require.NoError(t, err)

	ts.send(map[string]any{
		"channel": "memory_updates",
		"data":    map[string]any{"nodes": 1.0},
	})
	select {
	case <-got:
	case <-time.After(testTimeout):
		t.Fatal("delivery never arrived")
	}

	snap := c.Metrics()
	assert.Equal(t, 1, snap.ConnectionsCount)
	assert.Equal(t, 1, snap.SubscriptionsCount)
	assert.Positive(t, snap.MessagesReceived)
	assert.Positive(t, snap.BytesReceived)
	require.Contains(t, snap.Channels, "memory_updates")
	assert.Equal(t, int64(1), snap.Channels["memory_updates"].Writes)

	// Prometheus side carries the same activity
	families, err := reg.PrometheusRegistry().Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, fam := range families {
		names[fam.GetName()] = true
	}
	assert.True(t, names["gmstream_client_messages_received_total"])
	assert.True(t, names["gmstream_client_connection_up"])
}

func TestClient_LatestDataNoData(t *testing.T) {
	c := newTestClient(t)

	_, ok := c.LatestData("nothing_here")
	assert.False(t, ok)
	assert.Nil(t, c.HistoricalData("nothing_here", nil))
}

func TestClient_StateObserverRemoval(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t)

	var count int
	var mu sync.Mutex
	remove := c.OnStateChange(func(ConnectionState) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	cfg := DefaultConnectionConfig(ts.url())
	cfg.HeartbeatInterval = 0
	require.NoError(t, c.Connect(context.Background(), cfg))

	mu.Lock()
	seen := count
	mu.Unlock()
	assert.GreaterOrEqual(t, seen, 2) // connecting + connected

	remove()
	c.Disconnect()

	mu.Lock()
	assert.Equal(t, seen, count)
	mu.Unlock()
}
