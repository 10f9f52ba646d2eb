package stream

import (
	"log/slog"
	"sync"

	"github.com/elementalcollision/graphmemory-stream/errors"
	"github.com/elementalcollision/graphmemory-stream/metric"
	"github.com/elementalcollision/graphmemory-stream/pkg/buffer"
	"github.com/elementalcollision/graphmemory-stream/pkg/timestamp"
)

// Entry is one retained item of channel history.
type Entry struct {
	// Timestamp is the payload's own timestamp when it carries one, else
	// the arrival time. Unix milliseconds.
	Timestamp int64 `json:"timestamp"`

	// Data is the payload after the subscription's pipeline ran.
	Data any `json:"data"`
}

// TimeRange is an inclusive window over entry timestamps. A zero Start means
// "from the beginning"; a zero End means "until now".
type TimeRange struct {
	Start int64
	End   int64
}

// channelHistory owns the per-channel bounded history buffers. Buffers are
// reference counted by the subscriptions on the channel: the first Subscribe
// creates the buffer (and fixes its capacity), the last Unsubscribe releases
// it and its history.
type channelHistory struct {
	mu      sync.Mutex
	buffers map[string]*channelBuffer

	metrics *metric.Registry // nil disables per-channel buffer metrics
	logger  *slog.Logger
}

type channelBuffer struct {
	buf  buffer.Buffer[Entry]
	refs int
}

func newChannelHistory(metrics *metric.Registry, logger *slog.Logger) *channelHistory {
	return &channelHistory{
		buffers: make(map[string]*channelBuffer),
		metrics: metrics,
		logger:  logger,
	}
}

// retain creates the channel's buffer on first use, or bumps its reference
// count. Later subscriptions share the existing buffer regardless of their
// own BufferSize.
func (h *channelHistory) retain(channel string, size int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cb, ok := h.buffers[channel]; ok {
		cb.refs++
		if cb.buf.Capacity() != size {
			h.logger.Debug("channel buffer already sized",
				"channel", channel,
				"capacity", cb.buf.Capacity(),
				"requested", size)
		}
		return nil
	}

	opts := []buffer.Option[Entry]{
		buffer.WithOverflowPolicy[Entry](buffer.DropOldest),
	}
	if h.metrics != nil {
		opts = append(opts, buffer.WithMetrics[Entry](h.metrics, channel))
	}

	buf, err := buffer.NewRing[Entry](size, opts...)
	if err != nil {
		return errors.Wrap(err, "ChannelHistory", "retain", "create channel buffer")
	}

	h.buffers[channel] = &channelBuffer{buf: buf, refs: 1}
	return nil
}

// release drops one reference. When the last subscription on the channel
// goes away the buffer and its history are discarded.
func (h *channelHistory) release(channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cb, ok := h.buffers[channel]
	if !ok {
		return
	}
	cb.refs--
	if cb.refs > 0 {
		return
	}

	delete(h.buffers, channel)
	cb.buf.Close()
	if h.metrics != nil {
		h.metrics.UnregisterOwner(channel)
	}
}

// append stores a transformed payload in the channel's history. The entry
// timestamp comes from the payload when present, else the current time.
// A missing buffer means no subscription retains the channel; drop silently.
func (h *channelHistory) append(channel string, data any) {
	ts := timestamp.FromPayload(data)
	if ts == 0 {
		ts = timestamp.Now()
	}

	h.mu.Lock()
	cb, ok := h.buffers[channel]
	h.mu.Unlock()
	if !ok {
		return
	}

	if err := cb.buf.Write(Entry{Timestamp: ts, Data: data}); err != nil {
		h.logger.Debug("history write failed", "channel", channel, "error", err)
	}
}

// latest returns the most recent entry on the channel.
// The false return is the no-data case, not an error.
func (h *channelHistory) latest(channel string) (Entry, bool) {
	h.mu.Lock()
	cb, ok := h.buffers[channel]
	h.mu.Unlock()
	if !ok {
		return Entry{}, false
	}
	return cb.buf.Latest()
}

// snapshot returns the channel's retained history oldest first, filtered to
// rng when non-nil. An unknown channel yields nil.
func (h *channelHistory) snapshot(channel string, rng *TimeRange) []Entry {
	h.mu.Lock()
	cb, ok := h.buffers[channel]
	h.mu.Unlock()
	if !ok {
		return nil
	}

	entries := cb.buf.Snapshot()
	if rng == nil {
		return entries
	}

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if timestamp.InRange(e.Timestamp, rng.Start, rng.End) {
			out = append(out, e)
		}
	}
	return out
}

// stats returns per-channel buffer statistics keyed by channel name.
func (h *channelHistory) stats() map[string]buffer.StatsSummary {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string]buffer.StatsSummary, len(h.buffers))
	for channel, cb := range h.buffers {
		out[channel] = cb.buf.Stats().Summary()
	}
	return out
}

// clearAll releases every buffer, used on Disconnect.
func (h *channelHistory) clearAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for channel, cb := range h.buffers {
		cb.buf.Close()
		if h.metrics != nil {
			h.metrics.UnregisterOwner(channel)
		}
		delete(h.buffers, channel)
	}
}
