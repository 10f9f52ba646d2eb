package stream

import (
	"log/slog"
	"sync"
	"time"

	"github.com/elementalcollision/graphmemory-stream/pkg/timestamp"
)

// heartbeatMonitor periodically probes the connection so silent failures are
// detected between data updates. Exactly one monitor runs per live connection;
// every close path stops it synchronously, so probes never outlive the
// connection that started them.
type heartbeatMonitor struct {
	conn     *wsConn
	interval time.Duration
	logger   *slog.Logger
	onSent   func()

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// startHeartbeat launches a monitor probing conn every interval.
// Returns nil when interval is 0, the disabled setting.
func startHeartbeat(conn *wsConn, interval time.Duration, logger *slog.Logger, onSent func()) *heartbeatMonitor {
	if interval <= 0 {
		return nil
	}

	m := &heartbeatMonitor{
		conn:     conn,
		interval: interval,
		logger:   logger,
		onSent:   onSent,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *heartbeatMonitor) run() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.probe()
		}
	}
}

// probe sends one heartbeat frame. Send failures are logged, not escalated:
// the receive loop observes the broken transport and drives recovery.
func (m *heartbeatMonitor) probe() {
	frame := controlFrame{
		Type:      msgTypeHeartbeat,
		Timestamp: timestamp.Now(),
	}
	if err := m.conn.sendJSON(frame); err != nil {
		m.logger.Debug("heartbeat send failed", "error", err)
		return
	}
	if m.onSent != nil {
		m.onSent()
	}
}

// stop halts the monitor and waits for the probe goroutine to exit, so no
// heartbeat can be written after stop returns. Safe to call on a nil monitor
// and safe to call more than once.
func (m *heartbeatMonitor) stop() {
	if m == nil {
		return
	}
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	<-m.doneCh
}
