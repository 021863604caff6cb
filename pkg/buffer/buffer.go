package buffer

import (
	"fmt"

	"github.com/c360/pjstream/errors"
)

// Buffer is a bounded FIFO queue of T. All methods are safe for
// concurrent use.
type Buffer[T any] interface {
	// Write enqueues one item. A full buffer resolves per the overflow
	// policy; a closed buffer fails the write.
	Write(item T) error

	// Read dequeues the oldest item, reporting false when the buffer is
	// empty. Reads still drain a closed buffer.
	Read() (T, bool)

	// ReadBatch dequeues up to max items in FIFO order, nil when the
	// buffer is empty.
	ReadBatch(max int) []T

	// Size returns the current item count.
	Size() int

	// Capacity returns the fixed slot count.
	Capacity() int

	// Clear discards every queued item, feeding each to the drop
	// callback when one is set.
	Clear()

	// Stats returns the buffer's operation counters.
	Stats() *Statistics

	// Close wakes blocked writers and fails subsequent writes. It is
	// idempotent.
	Close() error
}

// OverflowPolicy decides what Write does when the buffer is full.
type OverflowPolicy int

const (
	// DropOldest discards the oldest queued item to admit the new one.
	DropOldest OverflowPolicy = iota

	// DropNewest discards the incoming item.
	DropNewest

	// Block waits for a reader to free a slot.
	Block
)

// String returns the policy name.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	case Block:
		return "Block"
	default:
		return "Unknown"
	}
}

// DropCallback receives each item discarded by a Drop policy or by
// Clear. It runs outside the buffer's lock.
type DropCallback[T any] func(item T)

// NewCircularBuffer builds a fixed-capacity ring buffer. Statistics are
// always collected; Prometheus export is opt-in via WithMetrics.
func NewCircularBuffer[T any](capacity int, options ...Option[T]) (Buffer[T], error) {
	if capacity <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: buffer capacity %d must be positive", errors.ErrInvalidInput, capacity),
			"buffer", "NewCircularBuffer", "validate capacity")
	}
	return newRing(capacity, applyOptions(options...))
}
