package worker

import "errors"

// Well-known pool errors. Callers match these with errors.Is; Submit
// failures in particular decide the fallback (run inline, retry, shed).
var (
	// ErrPoolNotStarted reports a submission before Start.
	ErrPoolNotStarted = errors.New("worker pool not started")

	// ErrPoolStopped reports a submission or Start after Stop.
	ErrPoolStopped = errors.New("worker pool stopped")

	// ErrPoolAlreadyStarted reports a second Start.
	ErrPoolAlreadyStarted = errors.New("worker pool already started")

	// ErrQueueFull reports a submission bounced off a full queue.
	ErrQueueFull = errors.New("worker pool queue full")

	// ErrNilProcessor reports a NewPool call without a processor.
	ErrNilProcessor = errors.New("processor function cannot be nil")

	// ErrStopTimeout reports workers still busy when Stop gave up.
	ErrStopTimeout = errors.New("timeout waiting for workers to stop")
)
