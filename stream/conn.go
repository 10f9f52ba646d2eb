package stream

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/elementalcollision/graphmemory-stream/errors"
)

// writeTimeout bounds a single outbound frame so a stalled peer cannot wedge
// the sender.
const writeTimeout = 10 * time.Second

// wsConn wraps a gorilla WebSocket connection with serialized writes.
// gorilla allows at most one concurrent writer; writeMu keeps the heartbeat
// ticker, control frames and the close handshake from interleaving. Reads
// stay unguarded because only the client's receive goroutine reads.
type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	closed  atomic.Bool
}

// dialConn establishes a WebSocket connection. The handshake deadline comes
// from cfg.ConnectTimeout; ctx cancellation also aborts the dial.
func dialConn(ctx context.Context, cfg ConnectionConfig) (*wsConn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.ConnectTimeout,
		Subprotocols:     cfg.Subprotocols,
	}

	ws, resp, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, errors.WrapTransient(err, "Connection", "dial", "websocket handshake")
	}
	if resp != nil {
		resp.Body.Close()
	}

	return &wsConn{ws: ws}, nil
}

// readMessage blocks until the next frame arrives or the connection fails.
func (c *wsConn) readMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		c.closed.Store(true)
		return nil, errors.WrapTransient(err, "Connection", "readMessage", "read frame")
	}
	return data, nil
}

// sendJSON marshals v and writes it as a text frame. Once the connection has
// failed or been closed it silently drops the frame, matching the best-effort
// contract of control messages.
func (c *wsConn) sendJSON(v any) error {
	if c.closed.Load() {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return errors.WrapInvalid(err, "Connection", "sendJSON", "marshal frame")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return nil
	}

	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.closed.Store(true)
		return errors.WrapTransient(err, "Connection", "sendJSON", "write frame")
	}
	return nil
}

// close performs the close handshake and tears down the transport.
// Safe to call more than once.
func (c *wsConn) close(code int, reason string) {
	if !c.closed.Swap(true) {
		c.writeMu.Lock()
		c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason))
		c.writeMu.Unlock()
	}
	c.ws.Close()
}

// isClosed reports whether the transport has failed or been closed.
func (c *wsConn) isClosed() bool {
	return c.closed.Load()
}
