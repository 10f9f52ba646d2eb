package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconnect_RecoversAfterDrop(t *testing.T) {
	ts := newTestServer(t)
	c := connectedClient(t, ts, func(cfg *ConnectionConfig) {
		cfg.MaxReconnectAttempts = 5
		cfg.ReconnectInterval = 20 * time.Millisecond
	})

	id, err := c.Subscribe(SubscriptionConfig{Channel: "memory_updates"}, nil)
	require.NoError(t, err)
	ts.waitFrame("subscribe", testTimeout)

	ts.dropConnections()

	// The client dials back in and resumes the connected state
	ts.waitConn(testTimeout)
	require.Eventually(t, func() bool {
		return c.State().Status == StatusConnected
	}, testTimeout, 10*time.Millisecond)

	// Attempts reset once recovery succeeds
	assert.Zero(t, c.State().ReconnectAttempts)

	// Live subscriptions are re-announced on the new connection
	frame := ts.waitFrame("subscribe", testTimeout)
	assert.Equal(t, id, frame["subscriptionId"])

	// Data flows again
	got := make(chan any, 4)
	_, err = c.Subscribe(SubscriptionConfig{Channel: "memory_updates"}, func(data any) { got <- data })
	require.NoError(t, err)
	ts.send(map[string]any{"channel": "memory_updates", "data": map[string]any{"n": 1.0}})
	select {
	case <-got:
	case <-time.After(testTimeout):
		t.Fatal("no delivery after recovery")
	}
}

func TestReconnect_ExhaustionIsTerminal(t *testing.T) {
	ts := newTestServer(t)

	var mu sync.Mutex
	var statuses []Status

	c := connectedClient(t, ts, func(cfg *ConnectionConfig) {
		cfg.MaxReconnectAttempts = 2
		cfg.ReconnectInterval = 20 * time.Millisecond
	})
	c.OnStateChange(func(s ConnectionState) {
		mu.Lock()
		statuses = append(statuses, s.Status)
		mu.Unlock()
	})

	// Kill the backend entirely so every redial fails
	ts.srv.Close()
	ts.dropConnections()

	require.Eventually(t, func() bool {
		return c.State().Status == StatusDisconnected
	}, testTimeout, 10*time.Millisecond)

	state := c.State()
	assert.Equal(t, 2, state.ReconnectAttempts)
	assert.NotEmpty(t, state.Err)

	mu.Lock()
	assert.Contains(t, statuses, StatusReconnecting)
	mu.Unlock()

	// Terminal: the client stays down until a fresh Connect
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StatusDisconnected, c.State().Status)
}

func TestReconnect_DisabledWhenZeroAttempts(t *testing.T) {
	ts := newTestServer(t)
	c := connectedClient(t, ts, func(cfg *ConnectionConfig) {
		cfg.MaxReconnectAttempts = 0
		cfg.ReconnectInterval = 20 * time.Millisecond
	})

	ts.dropConnections()

	require.Eventually(t, func() bool {
		return c.State().Status == StatusDisconnected
	}, testTimeout, 10*time.Millisecond)

	// No redial happens
	select {
	case <-ts.connCh:
		t.Fatal("unexpected reconnection with recovery disabled")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReconnect_DisconnectCancelsRecovery(t *testing.T) {
	ts := newTestServer(t)
	c := connectedClient(t, ts, func(cfg *ConnectionConfig) {
		cfg.MaxReconnectAttempts = 50
		cfg.ReconnectInterval = 50 * time.Millisecond
	})

	ts.srv.Close()
	ts.dropConnections()

	require.Eventually(t, func() bool {
		return c.State().Status == StatusReconnecting
	}, testTimeout, 5*time.Millisecond)

	c.Disconnect()
	require.Eventually(t, func() bool {
		return c.State().Status == StatusDisconnected
	}, testTimeout, 5*time.Millisecond)

	// Recovery stays cancelled
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, StatusDisconnected, c.State().Status)
}
