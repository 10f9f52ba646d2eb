// Package buffer provides a generic, thread-safe bounded ring buffer used for
// per-channel payload history.
//
// Unlike a work queue, a history buffer is never drained: Write appends, the
// overflow policy decides what happens at capacity, and readers take ordered
// snapshots. Statistics are always collected; Prometheus metrics are optional
// via the WithMetrics functional option.
package buffer

// Buffer is a bounded, insertion-ordered history of items of type T.
type Buffer[T any] interface {
	// Write appends an item. When the buffer is full the overflow policy
	// decides whether the oldest or the newest item is dropped.
	Write(item T) error

	// Latest returns the most recently written item.
	// Returns zero value and false if the buffer is empty.
	Latest() (T, bool)

	// Oldest returns the least recently written item still retained.
	// Returns zero value and false if the buffer is empty.
	Oldest() (T, bool)

	// Snapshot returns a copy of the retained items, oldest first.
	Snapshot() []T

	// Size returns the current number of items in the buffer.
	Size() int

	// Capacity returns the maximum number of items the buffer can hold.
	Capacity() int

	// IsFull returns true if the buffer is at maximum capacity.
	IsFull() bool

	// IsEmpty returns true if the buffer contains no items.
	IsEmpty() bool

	// Clear removes all items from the buffer.
	Clear()

	// Stats returns buffer statistics (always available for observability).
	Stats() *Statistics

	// Close shuts down the buffer. Subsequent writes fail.
	Close() error
}

// OverflowPolicy defines how the buffer behaves when it reaches capacity.
type OverflowPolicy int

const (
	// DropOldest removes the oldest item to make room for new items.
	// This is the history semantic: the buffer always holds the most
	// recent Capacity() items in arrival order.
	DropOldest OverflowPolicy = iota

	// DropNewest drops new items when the buffer is full.
	DropNewest
)

// String returns a human-readable representation of the overflow policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is called with each item dropped by the overflow policy.
type DropCallback[T any] func(item T)

// NewRing creates a new ring buffer with the specified capacity and options.
// Stats are always collected; metrics are optional via WithMetrics().
// Returns an error if metrics registration fails when metrics are requested.
func NewRing[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	opts := applyOptions(options...)
	return newRing(capacity, opts)
}
