package buffer

import (
	"sync"

	"github.com/c360/pjstream/errors"
)

// ring is the circular buffer behind NewCircularBuffer. One mutex
// guards the slots; space is the condition writers wait on under the
// Block policy. Readers never block, so no second condition exists.
type ring[T any] struct {
	mu    sync.Mutex
	space *sync.Cond

	items []T
	head  int // next write slot
	tail  int // next read slot
	size  int

	policy OverflowPolicy
	dropFn DropCallback[T]
	rec    recorder
	closed bool
}

func newRing[T any](capacity int, opts *bufferOptions[T]) (*ring[T], error) {
	rec, err := newRecorder(capacity, opts)
	if err != nil {
		return nil, errors.WrapTransient(err, "buffer", "NewCircularBuffer", "register metrics")
	}
	r := &ring[T]{
		items:  make([]T, capacity),
		policy: opts.overflowPolicy,
		dropFn: opts.dropCallback,
		rec:    rec,
	}
	r.space = sync.NewCond(&r.mu)
	return r, nil
}

func (r *ring[T]) Write(item T) error {
	var dropped *T

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "buffer", "Write", "buffer closed")
	}

	if r.size == len(r.items) {
		r.rec.overflowed()
		switch r.policy {
		case DropNewest:
			r.rec.dropped()
			r.mu.Unlock()
			if r.dropFn != nil {
				r.dropFn(item)
			}
			return nil
		case Block:
			for r.size == len(r.items) && !r.closed {
				r.space.Wait()
			}
			if r.closed {
				r.mu.Unlock()
				return errors.WrapInvalid(errors.ErrAlreadyStopped,
					"buffer", "Write", "buffer closed while blocked")
			}
		default: // DropOldest
			old := r.items[r.tail]
			dropped = &old
			r.discardTail()
			r.rec.dropped()
		}
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % len(r.items)
	r.size++
	r.rec.wrote()
	r.rec.resize(r.size)
	r.mu.Unlock()

	if dropped != nil && r.dropFn != nil {
		r.dropFn(*dropped)
	}
	return nil
}

func (r *ring[T]) Read() (T, bool) {
	r.mu.Lock()
	if r.size == 0 {
		r.mu.Unlock()
		var zero T
		return zero, false
	}

	item := r.items[r.tail]
	r.discardTail()
	r.rec.read(1)
	r.rec.resize(r.size)
	r.space.Signal()
	r.mu.Unlock()
	return item, true
}

func (r *ring[T]) ReadBatch(max int) []T {
	if max <= 0 {
		return nil
	}

	r.mu.Lock()
	if r.size == 0 {
		r.mu.Unlock()
		return nil
	}

	out := make([]T, min(max, r.size))
	for i := range out {
		out[i] = r.items[r.tail]
		r.discardTail()
	}
	r.rec.read(len(out))
	r.rec.resize(r.size)
	r.space.Broadcast()
	r.mu.Unlock()
	return out
}

func (r *ring[T]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

func (r *ring[T]) Capacity() int {
	return len(r.items)
}

func (r *ring[T]) Clear() {
	var cleared []T

	r.mu.Lock()
	if r.dropFn != nil && r.size > 0 {
		cleared = make([]T, 0, r.size)
	}
	for r.size > 0 {
		if cleared != nil {
			cleared = append(cleared, r.items[r.tail])
		}
		r.discardTail()
	}
	r.head = 0
	r.tail = 0
	r.rec.resize(0)
	r.space.Broadcast()
	r.mu.Unlock()

	for _, item := range cleared {
		r.dropFn(item)
	}
}

func (r *ring[T]) Stats() *Statistics {
	return r.rec.stats
}

func (r *ring[T]) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		r.space.Broadcast()
	}
	r.mu.Unlock()
	return nil
}

// discardTail frees the tail slot. Caller holds the lock.
func (r *ring[T]) discardTail() {
	var zero T
	r.items[r.tail] = zero
	r.tail = (r.tail + 1) % len(r.items)
	r.size--
}
