package stream

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// testServer is a scripted WebSocket backend. Every frame the client sends is
// decoded onto the received channel; tests push updates to the client with
// send and simulate failures with dropConnections.
type testServer struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn

	received chan map[string]any
	connCh   chan *websocket.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ts := &testServer{
		t:        t,
		received: make(chan map[string]any, 128),
		connCh:   make(chan *websocket.Conn, 8),
	}
	ts.srv = httptest.NewServer(http.HandlerFunc(ts.handle))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := ts.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ts.mu.Lock()
	ts.conns = append(ts.conns, conn)
	ts.mu.Unlock()

	select {
	case ts.connCh <- conn:
	default:
	}

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var m map[string]any
			if json.Unmarshal(data, &m) == nil {
				select {
				case ts.received <- m:
				default:
				}
			}
		}
	}()
}

// url returns the ws:// address of the server.
func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

// current returns the most recently accepted connection.
func (ts *testServer) current() *websocket.Conn {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.conns) == 0 {
		return nil
	}
	return ts.conns[len(ts.conns)-1]
}

// send writes v as JSON to the most recent connection.
func (ts *testServer) send(v any) {
	ts.t.Helper()
	conn := ts.current()
	if conn == nil {
		ts.t.Fatal("send: no connection accepted yet")
	}
	if err := conn.WriteJSON(v); err != nil {
		ts.t.Fatalf("send: %v", err)
	}
}

// dropConnections abruptly closes every accepted connection without a close
// handshake, simulating an unexpected network failure.
func (ts *testServer) dropConnections() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, conn := range ts.conns {
		conn.Close()
	}
	ts.conns = nil
}

// waitConn blocks until the server accepts a connection.
func (ts *testServer) waitConn(timeout time.Duration) *websocket.Conn {
	ts.t.Helper()
	select {
	case conn := <-ts.connCh:
		return conn
	case <-time.After(timeout):
		ts.t.Fatal("timed out waiting for connection")
		return nil
	}
}

// waitFrame drains received frames until one with the given type arrives.
func (ts *testServer) waitFrame(typ string, timeout time.Duration) map[string]any {
	ts.t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case m := <-ts.received:
			if m["type"] == typ {
				return m
			}
		case <-deadline:
			ts.t.Fatalf("timed out waiting for %q frame", typ)
			return nil
		}
	}
}

// countFrames drains received frames for the given window and counts those
// with the given type.
func (ts *testServer) countFrames(typ string, window time.Duration) int {
	deadline := time.After(window)
	count := 0
	for {
		select {
		case m := <-ts.received:
			if m["type"] == typ {
				count++
			}
		case <-deadline:
			return count
		}
	}
}

// drainFrames discards everything currently buffered.
func (ts *testServer) drainFrames() {
	for {
		select {
		case <-ts.received:
		default:
			return
		}
	}
}
