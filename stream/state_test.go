package stream

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTracker_InitialState(t *testing.T) {
	tr := newStateTracker(slog.Default())

	state := tr.get()
	assert.Equal(t, StatusDisconnected, state.Status)
	assert.Zero(t, state.LastConnectedAt)
}

func TestStateTracker_BroadcastsSynchronously(t *testing.T) {
	tr := newStateTracker(slog.Default())

	var seen []Status
	tr.subscribe(func(s ConnectionState) {
		seen = append(seen, s.Status)
	})

	tr.set(func(s *ConnectionState) { s.Status = StatusConnecting })
	tr.set(func(s *ConnectionState) { s.Status = StatusConnected })

	// Synchronous: both transitions observed by the time set returns
	require.Equal(t, []Status{StatusConnecting, StatusConnected}, seen)
}

func TestStateTracker_ObserverReceivesCopy(t *testing.T) {
	tr := newStateTracker(slog.Default())

	tr.subscribe(func(s ConnectionState) {
		s.Status = StatusError // must not leak back into the tracker
	})

	tr.set(func(s *ConnectionState) { s.Status = StatusConnected })
	assert.Equal(t, StatusConnected, tr.get().Status)
}

func TestStateTracker_ObserverPanicIsolated(t *testing.T) {
	tr := newStateTracker(slog.Default())

	var after int
	tr.subscribe(func(ConnectionState) { panic("observer bug") })
	tr.subscribe(func(ConnectionState) { after++ })

	assert.NotPanics(t, func() {
		tr.set(func(s *ConnectionState) { s.Status = StatusConnecting })
	})
	assert.Equal(t, 1, after)
}

func TestStateTracker_Unsubscribe(t *testing.T) {
	tr := newStateTracker(slog.Default())

	var count int
	remove := tr.subscribe(func(ConnectionState) { count++ })

	tr.set(func(s *ConnectionState) { s.Status = StatusConnecting })
	remove()
	tr.set(func(s *ConnectionState) { s.Status = StatusConnected })

	assert.Equal(t, 1, count)

	// Removing twice is harmless
	remove()
}
