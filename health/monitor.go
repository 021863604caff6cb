package health

import (
	"sort"
	"sync"
	"time"
)

// Monitor tracks the health of named subsystems and folds them into a
// single reportable status. A service records one entry per dependency it
// probes (NATS connection, session store, worker pool) and serves the
// aggregate from its health endpoint. The zero value is not usable;
// construct with NewMonitor.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor returns an empty Monitor.
func NewMonitor() *Monitor {
	return &Monitor{statuses: make(map[string]Status)}
}

// Set records the status of one subsystem. The status Component is forced
// to name so aggregates stay keyed consistently, and a zero timestamp is
// stamped with the current time.
func (m *Monitor) Set(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.statuses[name] = status
	m.mu.Unlock()
}

// SetError records the outcome of a subsystem probe. A nil error marks the
// subsystem healthy; anything else is recorded through FromError so the
// message is sanitized before it can reach a health endpoint.
func (m *Monitor) SetError(name string, err error) {
	if err == nil {
		m.Set(name, NewHealthy(name, "Check passed"))
		return
	}
	m.Set(name, FromError(name, err))
}

// Get returns the recorded status for one subsystem.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, ok := m.statuses[name]
	return status, ok
}

// Remove drops a subsystem from the monitor. Used when a dependency is
// torn down at runtime and should stop influencing the aggregate.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	delete(m.statuses, name)
	m.mu.Unlock()
}

// Names returns the monitored subsystem names in sorted order.
func (m *Monitor) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.statuses))
	for name := range m.statuses {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of monitored subsystems.
func (m *Monitor) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.statuses)
}

// Snapshot returns a copy of every recorded status keyed by subsystem name.
func (m *Monitor) Snapshot() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[string]Status, len(m.statuses))
	for name, status := range m.statuses {
		statuses[name] = status
	}
	return statuses
}

// Healthy reports whether every monitored subsystem is healthy. An empty
// monitor is healthy.
func (m *Monitor) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, status := range m.statuses {
		if !status.IsHealthy() {
			return false
		}
	}
	return true
}

// Aggregate folds every recorded status into one status for component,
// following the package Aggregate rules. Sub-statuses are ordered by
// subsystem name so endpoint payloads are stable across calls.
func (m *Monitor) Aggregate(component string) Status {
	m.mu.RLock()
	names := make([]string, 0, len(m.statuses))
	for name := range m.statuses {
		names = append(names, name)
	}
	sort.Strings(names)

	subs := make([]Status, 0, len(names))
	for _, name := range names {
		subs = append(subs, m.statuses[name])
	}
	m.mu.RUnlock()

	return Aggregate(component, subs)
}

// Clear removes every recorded status.
func (m *Monitor) Clear() {
	m.mu.Lock()
	m.statuses = make(map[string]Status)
	m.mu.Unlock()
}
