package health

import (
	"regexp"
	"slices"
	"time"
)

// Canonical values for the Status.Status field. These strings appear
// verbatim in health endpoint payloads.
const (
	stateHealthy   = "healthy"
	stateDegraded  = "degraded"
	stateUnhealthy = "unhealthy"
)

// Status is a snapshot of one component's health. Composite components
// carry their children in SubStatuses; the With* helpers return copies,
// so a built Status can be shared freely.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"` // mirrors Status == "healthy"
	Status      string    `json:"status"`  // one of the state constants above
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics carries operational counters alongside a health status.
type Metrics struct {
	Uptime         time.Duration `json:"uptime"`
	ErrorCount     int           `json:"error_count"`
	ActiveSessions int           `json:"active_sessions,omitempty"`
	ActiveStreams  int           `json:"active_streams,omitempty"`
	LastActivity   time.Time     `json:"last_activity,omitempty"`
}

// IsHealthy reports whether the component is operating normally.
func (s Status) IsHealthy() bool { return s.Status == stateHealthy }

// IsDegraded reports whether the component is up with reduced capacity.
func (s Status) IsDegraded() bool { return s.Status == stateDegraded }

// IsUnhealthy reports whether the component is down.
func (s Status) IsUnhealthy() bool { return s.Status == stateUnhealthy }

// WithMetrics returns a copy of the status with metrics attached.
func (s Status) WithMetrics(metrics *Metrics) Status {
	s.Metrics = metrics
	return s
}

// WithSubStatus returns a copy of the status with subStatus appended. The
// receiver's slice is cloned first, so statuses derived from a common
// parent never append into a shared array.
func (s Status) WithSubStatus(subStatus Status) Status {
	s.SubStatuses = append(slices.Clone(s.SubStatuses), subStatus)
	return s
}

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == stateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy reports a component operating normally.
func NewHealthy(component, message string) Status {
	return newStatus(component, stateHealthy, message)
}

// NewUnhealthy reports a component that is down.
func NewUnhealthy(component, message string) Status {
	return newStatus(component, stateUnhealthy, message)
}

// NewDegraded reports a component that is up with reduced capacity.
func NewDegraded(component, message string) Status {
	return newStatus(component, stateDegraded, message)
}

// FromError builds an unhealthy status from a probe error. The message
// goes through sanitizeErrorMessage, so URLs, paths, addresses and
// credentials embedded in driver errors never reach a health endpoint.
func FromError(component string, err error) Status {
	if err == nil {
		return NewUnhealthy(component, "Component unhealthy")
	}
	return NewUnhealthy(component, sanitizeErrorMessage(err.Error()))
}

// Aggregate folds sub-statuses into one status for component: any
// unhealthy child makes the aggregate unhealthy, otherwise any degraded
// child makes it degraded. An empty input aggregates healthy.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "No sub-components to aggregate")
	}

	worst := stateHealthy
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			worst = stateUnhealthy
		case sub.IsDegraded() && worst == stateHealthy:
			worst = stateDegraded
		}
	}

	var status Status
	switch worst {
	case stateUnhealthy:
		status = NewUnhealthy(component, "One or more sub-components are unhealthy")
	case stateDegraded:
		status = NewDegraded(component, "One or more sub-components are degraded")
	default:
		status = NewHealthy(component, "All sub-components are healthy")
	}
	status.SubStatuses = slices.Clone(subStatuses)
	return status
}

// redactionRules run in order. URL schemes go first so their host and
// path parts are consumed whole; later rules only see what the earlier
// ones left behind.
var redactionRules = []struct {
	pattern *regexp.Regexp
	mask    string
}{
	{regexp.MustCompile(`https?://[^\s]+`), "[URL]"},
	{regexp.MustCompile(`nats://[^\s]+`), "[URL]"},
	{regexp.MustCompile(`wss?://[^\s]+`), "[URL]"},
	{regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`), "[PATH]"},
	{regexp.MustCompile(`[A-Z]:\\[^:\s]+`), "[PATH]"},
	{regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`), "[IP]"},
	{regexp.MustCompile(`:\d{2,5}\b`), "[PORT]"},
	{regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`), "[REDACTED]"},
}

// sanitizeErrorMessage masks anything in msg that looks like connection
// or credential material.
func sanitizeErrorMessage(msg string) string {
	for _, rule := range redactionRules {
		msg = rule.pattern.ReplaceAllString(msg, rule.mask)
	}
	return msg
}
