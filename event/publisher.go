package event

import (
	"context"
	"errors"
	"sync"

	cerrors "github.com/c360/pjstream/errors"
)

// Publisher delivers domain events to interested consumers. Both methods
// must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	PublishBatch(ctx context.Context, events []Event) error
}

// MemoryPublisher records events in memory. It backs single-process
// deployments and doubles as the inspection point in tests.
type MemoryPublisher struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryPublisher returns an empty in-memory publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// Publish records the event.
func (p *MemoryPublisher) Publish(_ context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

// PublishBatch records every event in order.
func (p *MemoryPublisher) PublishBatch(_ context.Context, events []Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

// Events returns a copy of the recorded events in publish order.
func (p *MemoryPublisher) Events() []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// ByKind returns the recorded events of one kind, in publish order.
func (p *MemoryPublisher) ByKind(kind Kind) []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Event
	for _, e := range p.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of recorded events.
func (p *MemoryPublisher) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.events)
}

// Reset discards all recorded events.
func (p *MemoryPublisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

// CompositePublisher fans events out to several publishers. Every
// publisher sees every event even when an earlier one fails; failures
// are joined into one error.
type CompositePublisher struct {
	publishers []Publisher
}

// NewCompositePublisher combines publishers into one fan-out publisher.
func NewCompositePublisher(publishers ...Publisher) *CompositePublisher {
	return &CompositePublisher{publishers: publishers}
}

// Publish delivers the event to every underlying publisher.
func (p *CompositePublisher) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, pub := range p.publishers {
		if err := pub.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return cerrors.Wrap(errors.Join(errs...), "CompositePublisher", "Publish", "fan out event")
	}
	return nil
}

// PublishBatch delivers the batch to every underlying publisher.
func (p *CompositePublisher) PublishBatch(ctx context.Context, events []Event) error {
	var errs []error
	for _, pub := range p.publishers {
		if err := pub.PublishBatch(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return cerrors.Wrap(errors.Join(errs...), "CompositePublisher", "PublishBatch", "fan out batch")
	}
	return nil
}
