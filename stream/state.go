package stream

import (
	"log/slog"
	"sync"
)

// Status is the connection lifecycle phase.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
	StatusReconnecting Status = "reconnecting"
)

// ConnectionState is the externally observable health of the connection.
// Consumers read it via Client.State or receive copies through observers
// registered with Client.OnStateChange.
type ConnectionState struct {
	Status Status `json:"status"`

	// LastConnectedAt is the Unix-millisecond time of the most recent
	// successful connect, 0 if the client has never connected.
	LastConnectedAt int64 `json:"lastConnectedAt,omitempty"`

	// ReconnectAttempts counts failed recovery attempts for the current
	// outage. Reset to 0 on every successful connect.
	ReconnectAttempts int `json:"reconnectAttempts,omitempty"`

	// Err describes the most recent failure, empty while healthy.
	Err string `json:"error,omitempty"`
}

// stateTracker holds the current ConnectionState and broadcasts every change
// synchronously to registered observers. Observers receive copies, so a
// mutating observer cannot corrupt the tracker.
type stateTracker struct {
	mu        sync.Mutex
	current   ConnectionState
	observers map[int]func(ConnectionState)
	nextID    int
	logger    *slog.Logger
}

func newStateTracker(logger *slog.Logger) *stateTracker {
	return &stateTracker{
		current:   ConnectionState{Status: StatusDisconnected},
		observers: make(map[int]func(ConnectionState)),
		logger:    logger,
	}
}

// get returns a copy of the current state.
func (t *stateTracker) get() ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// set applies mutate to the current state and broadcasts the result.
func (t *stateTracker) set(mutate func(*ConnectionState)) {
	t.mu.Lock()
	mutate(&t.current)
	state := t.current
	observers := make([]func(ConnectionState), 0, len(t.observers))
	for _, fn := range t.observers {
		observers = append(observers, fn)
	}
	t.mu.Unlock()

	for _, fn := range observers {
		t.notify(fn, state)
	}
}

// notify invokes one observer, isolating panics so a faulty observer cannot
// break state transitions.
func (t *stateTracker) notify(fn func(ConnectionState), state ConnectionState) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("state observer panicked", "panic", r, "status", state.Status)
		}
	}()
	fn(state)
}

// subscribe registers an observer and returns a function that removes it.
func (t *stateTracker) subscribe(fn func(ConnectionState)) func() {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.observers[id] = fn
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.observers, id)
		t.mu.Unlock()
	}
}
