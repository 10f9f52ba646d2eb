package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/elementalcollision/graphmemory-stream/pkg/timestamp"
)

func TestHeartbeat_ProbesWhileConnected(t *testing.T) {
	ts := newTestServer(t)
	connectedClient(t, ts, func(cfg *ConnectionConfig) {
		cfg.HeartbeatInterval = 25 * time.Millisecond
	})

	// At least two probes arrive within three intervals
	count := ts.countFrames("heartbeat", 75*time.Millisecond)
	assert.GreaterOrEqual(t, count, 2)
}

func TestHeartbeat_CarriesTimestamp(t *testing.T) {
	ts := newTestServer(t)
	connectedClient(t, ts, func(cfg *ConnectionConfig) {
		cfg.HeartbeatInterval = 25 * time.Millisecond
	})

	frame := ts.waitFrame("heartbeat", testTimeout)
	ms, ok := frame["timestamp"].(float64)
	assert.True(t, ok)
	assert.InDelta(t, float64(timestamp.Now()), ms, float64(10*time.Second.Milliseconds()))
}

func TestHeartbeat_StopsOnDisconnect(t *testing.T) {
	ts := newTestServer(t)
	c := connectedClient(t, ts, func(cfg *ConnectionConfig) {
		cfg.HeartbeatInterval = 25 * time.Millisecond
	})

	ts.waitFrame("heartbeat", testTimeout)
	c.Disconnect()
	ts.drainFrames()

	// No probe leaks out after teardown
	assert.Zero(t, ts.countFrames("heartbeat", 100*time.Millisecond))
}

func TestHeartbeat_AnswersServerProbe(t *testing.T) {
	ts := newTestServer(t)
	connectedClient(t, ts, nil)

	probe := float64(timestamp.Now())
	ts.send(map[string]any{"type": "heartbeat", "timestamp": probe})

	reply := ts.waitFrame("heartbeat_response", testTimeout)
	assert.Equal(t, probe, reply["timestamp"])
}

func TestHeartbeat_DisabledWhenIntervalZero(t *testing.T) {
	ts := newTestServer(t)
	connectedClient(t, ts, nil) // heartbeat off in the helper

	assert.Zero(t, ts.countFrames("heartbeat", 100*time.Millisecond))
}
