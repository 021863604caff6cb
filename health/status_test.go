package health

import (
	"errors"
	"testing"
	"time"
)

func TestStatusPredicates(t *testing.T) {
	tests := []struct {
		state     string
		healthy   bool
		degraded  bool
		unhealthy bool
	}{
		{"healthy", true, false, false},
		{"degraded", false, true, false},
		{"unhealthy", false, false, true},
		{"", false, false, false},
	}

	for _, tt := range tests {
		s := Status{Status: tt.state}
		if got := s.IsHealthy(); got != tt.healthy {
			t.Errorf("Status %q: IsHealthy() = %v, want %v", tt.state, got, tt.healthy)
		}
		if got := s.IsDegraded(); got != tt.degraded {
			t.Errorf("Status %q: IsDegraded() = %v, want %v", tt.state, got, tt.degraded)
		}
		if got := s.IsUnhealthy(); got != tt.unhealthy {
			t.Errorf("Status %q: IsUnhealthy() = %v, want %v", tt.state, got, tt.unhealthy)
		}
	}
}

func TestStatusConstructors(t *testing.T) {
	tests := []struct {
		name      string
		build     func(component, message string) Status
		wantState string
	}{
		{"NewHealthy", NewHealthy, "healthy"},
		{"NewDegraded", NewDegraded, "degraded"},
		{"NewUnhealthy", NewUnhealthy, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := tt.build("store", "probe finished")
			if status.Component != "store" {
				t.Errorf("Component = %q, want %q", status.Component, "store")
			}
			if status.Message != "probe finished" {
				t.Errorf("Message = %q, want %q", status.Message, "probe finished")
			}
			if status.Status != tt.wantState {
				t.Errorf("Status = %q, want %q", status.Status, tt.wantState)
			}
			if status.Healthy != (tt.wantState == "healthy") {
				t.Errorf("Healthy = %v for state %q", status.Healthy, tt.wantState)
			}
			if status.Timestamp.IsZero() {
				t.Error("Timestamp should be set")
			}
		})
	}
}

func TestWithMetrics(t *testing.T) {
	base := NewHealthy("streaming", "running")
	metrics := &Metrics{
		Uptime:         time.Hour,
		ErrorCount:     2,
		ActiveSessions: 12,
		ActiveStreams:  3,
	}

	got := base.WithMetrics(metrics)

	if base.Metrics != nil {
		t.Error("WithMetrics should leave the receiver untouched")
	}
	if got.Metrics == nil {
		t.Fatal("WithMetrics should attach the metrics")
	}
	if got.Metrics.ActiveSessions != 12 || got.Metrics.ActiveStreams != 3 {
		t.Errorf("unexpected metrics %+v", got.Metrics)
	}
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil error falls back", nil, "Component unhealthy"},
		{"plain error passes through", errors.New("update conflict"), "update conflict"},
		{"URL is masked", errors.New("cannot connect to nats://localhost:4222"), "cannot connect to [URL]"},
		{"credential is masked", errors.New("auth failed with token=abc123"), "auth failed with [REDACTED]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromError("publisher", tt.err)
			if !got.IsUnhealthy() {
				t.Error("FromError should produce an unhealthy status")
			}
			if got.Component != "publisher" {
				t.Errorf("Component = %q, want %q", got.Component, "publisher")
			}
			if got.Message != tt.want {
				t.Errorf("Message = %q, want %q", got.Message, tt.want)
			}
			if got.Timestamp.IsZero() {
				t.Error("Timestamp should be set")
			}
		})
	}
}

func TestAggregate(t *testing.T) {
	sub := func(state string) Status { return Status{Component: "sub", Status: state} }

	tests := []struct {
		name    string
		subs    []Status
		want    string
		wantMsg string
	}{
		{
			name:    "empty input",
			subs:    nil,
			want:    "healthy",
			wantMsg: "No sub-components to aggregate",
		},
		{
			name:    "all healthy",
			subs:    []Status{sub("healthy"), sub("healthy")},
			want:    "healthy",
			wantMsg: "All sub-components are healthy",
		},
		{
			name:    "one unhealthy",
			subs:    []Status{sub("healthy"), sub("unhealthy")},
			want:    "unhealthy",
			wantMsg: "One or more sub-components are unhealthy",
		},
		{
			name:    "unhealthy first stays unhealthy",
			subs:    []Status{sub("unhealthy"), sub("healthy")},
			want:    "unhealthy",
			wantMsg: "One or more sub-components are unhealthy",
		},
		{
			name:    "degraded with no unhealthy",
			subs:    []Status{sub("healthy"), sub("degraded")},
			want:    "degraded",
			wantMsg: "One or more sub-components are degraded",
		},
		{
			name:    "unhealthy beats degraded",
			subs:    []Status{sub("degraded"), sub("unhealthy")},
			want:    "unhealthy",
			wantMsg: "One or more sub-components are unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("pjstream", tt.subs)
			if got.Component != "pjstream" {
				t.Errorf("Component = %q, want %q", got.Component, "pjstream")
			}
			if got.Status != tt.want {
				t.Errorf("Status = %q, want %q", got.Status, tt.want)
			}
			if got.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", got.Message, tt.wantMsg)
			}
			if len(got.SubStatuses) != len(tt.subs) {
				t.Errorf("len(SubStatuses) = %d, want %d", len(got.SubStatuses), len(tt.subs))
			}
			if got.Timestamp.IsZero() {
				t.Error("Timestamp should be set")
			}
		})
	}
}

func TestAggregateCopiesSubStatuses(t *testing.T) {
	subs := []Status{
		{Status: "healthy", Component: "store"},
		{Status: "unhealthy", Component: "publisher"},
	}

	got := Aggregate("pjstream", subs)

	got.SubStatuses[0].Status = "degraded"
	if subs[0].Status != "healthy" {
		t.Error("mutating the aggregate leaked into the input slice")
	}

	subs[1].Component = "changed"
	if got.SubStatuses[1].Component != "publisher" {
		t.Error("mutating the input slice leaked into the aggregate")
	}
}
