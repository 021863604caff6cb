package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/pjstream/config"
	"github.com/c360/pjstream/health"
	"github.com/c360/pjstream/metric"
	"github.com/c360/pjstream/natsclient"
)

// Status is the lifecycle state of a service.
type Status int32

// Lifecycle states, in the order a service moves through them.
const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
)

var statusNames = [...]string{"stopped", "starting", "running", "stopping"}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// Info is a point-in-time snapshot of a service's runtime counters.
type Info struct {
	Name                string        `json:"name"`
	Status              Status        `json:"status"`
	Uptime              time.Duration `json:"uptime"`
	StartTime           time.Time     `json:"start_time"`
	OperationsProcessed int64         `json:"operations_processed"`
	LastActivity        time.Time     `json:"last_activity"`
	HealthChecks        int64         `json:"health_checks"`
	FailedHealthChecks  int64         `json:"failed_health_checks"`
}

// HealthCheckFunc probes a service dependency. A nil return means healthy.
type HealthCheckFunc func() error

// Option configures a BaseService during construction.
type Option func(*BaseService)

const (
	defaultHealthInterval = 30 * time.Second
	defaultStopTimeout    = 5 * time.Second

	// healthWarmup delays the first probe after Start so embedding
	// services finish their own startup goroutines before being checked.
	healthWarmup = 200 * time.Millisecond
)

// BaseService implements the lifecycle, health and status plumbing shared
// by concrete services. Embed it and override Health or RegisterMetrics
// where a service has more to report. Probe results land in a per-service
// health.Monitor, so Health exposes one sanitized sub-status per checked
// dependency instead of a single boolean.
type BaseService struct {
	name   string
	config *config.Config
	logger *slog.Logger

	nats    *natsclient.Client
	metrics *metric.MetricsRegistry

	status       atomic.Int32 // Status
	healthy      atomic.Bool
	startTime    atomic.Value // time.Time
	lastActivity atomic.Value // time.Time

	opsProcessed       atomic.Int64
	healthChecks       atomic.Int64
	failedHealthChecks atomic.Int64

	monitor *health.Monitor

	healthInterval time.Duration
	healthTicker   *time.Ticker

	mu             sync.RWMutex
	healthFn       HealthCheckFunc
	onHealthChange func(bool)

	done chan struct{}
	wg   sync.WaitGroup
}

// NewBaseServiceWithOptions builds a stopped service named name. Options
// inject the optional collaborators; anything not injected stays nil and
// the related plumbing is skipped.
func NewBaseServiceWithOptions(name string, cfg *config.Config, opts ...Option) *BaseService {
	s := &BaseService{
		name:           name,
		config:         cfg,
		monitor:        health.NewMonitor(),
		healthInterval: defaultHealthInterval,
		logger:         slog.Default().With("service", name),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setStatus(StatusStopped)
	s.startTime.Store(time.Time{})
	s.lastActivity.Store(time.Time{})
	return s
}

// WithNATS injects the shared NATS client. When present, its connection
// state is probed as the "nats" subsystem on every health round.
func WithNATS(client *natsclient.Client) Option {
	return func(s *BaseService) {
		s.nats = client
	}
}

// WithMetrics injects the registry that receives lifecycle gauges.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(s *BaseService) {
		s.metrics = registry
	}
}

// WithLogger replaces the default logger. A nil logger is ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(s *BaseService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHealthCheck registers the probe run under the service's own name.
func WithHealthCheck(fn HealthCheckFunc) Option {
	return func(s *BaseService) {
		s.healthFn = fn
	}
}

// WithHealthInterval overrides how often probes run. Zero disables the
// periodic loop; the warmup probe after Start still runs.
func WithHealthInterval(interval time.Duration) Option {
	return func(s *BaseService) {
		s.healthInterval = interval
	}
}

// OnHealthChange registers a callback invoked whenever the aggregate
// health flips.
func OnHealthChange(fn func(bool)) Option {
	return func(s *BaseService) {
		s.onHealthChange = fn
	}
}

// Name returns the service name.
func (s *BaseService) Name() string {
	return s.name
}

// Status returns the current lifecycle state.
func (s *BaseService) Status() Status {
	return Status(s.status.Load())
}

// IsHealthy reports whether the last round of probes all passed.
func (s *BaseService) IsHealthy() bool {
	return s.healthy.Load()
}

// Monitor returns the subsystem health monitor. Embedding services can
// record their own probes here and they will appear as sub-statuses in
// Health alongside the built-in NATS and custom-check probes.
func (s *BaseService) Monitor() *health.Monitor {
	return s.monitor
}

// Health reports the service health in the standard status shape. While
// running, the monitored probes are aggregated so the payload carries one
// sanitized sub-status per dependency.
func (s *BaseService) Health() health.Status {
	switch s.Status() {
	case StatusStarting:
		return health.NewDegraded(s.name, "Service is starting")
	case StatusStopping:
		return health.NewDegraded(s.name, "Service is stopping")
	case StatusStopped:
		return health.NewUnhealthy(s.name, "Service is stopped")
	}

	if !s.healthy.Load() && s.monitor.Len() == 0 {
		return health.NewUnhealthy(s.name,
			fmt.Sprintf("Service is unhealthy (failed checks: %d)", s.failedHealthChecks.Load()))
	}
	return s.monitor.Aggregate(s.name)
}

// Start transitions the service to running and launches the health and
// context-watch goroutines. Starting a running service is a no-op.
func (s *BaseService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.Status() {
	case StatusRunning, StatusStarting:
		return nil
	}

	s.setStatus(StatusStarting)
	s.done = make(chan struct{})

	now := time.Now()
	s.startTime.Store(now)
	s.lastActivity.Store(now)

	if s.healthInterval > 0 {
		s.healthTicker = time.NewTicker(s.healthInterval)
		s.wg.Add(1)
		go s.healthLoop(s.done, s.healthTicker)
	}

	done := s.done
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-time.After(healthWarmup):
			s.runHealthCheck()
		case <-done:
		}
	}()

	s.wg.Add(1)
	go s.watchContext(ctx, s.done)

	s.setStatus(StatusRunning)
	return nil
}

// Stop stops the service and waits up to timeout for its goroutines to
// drain. A timeout <= 0 uses the default. Stopping an already stopped
// service is a no-op.
func (s *BaseService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.Status() {
	case StatusStopped, StatusStopping:
		return nil
	}

	s.setStatus(StatusStopping)

	if s.done != nil {
		close(s.done)
	}
	if s.healthTicker != nil {
		s.healthTicker.Stop()
		s.healthTicker = nil
	}

	if timeout <= 0 {
		timeout = defaultStopTimeout
	}

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	var err error
	select {
	case <-finished:
	case <-time.After(timeout):
		err = fmt.Errorf("service %s: goroutines still running after %v", s.name, timeout)
		s.logger.Warn("Service stop timed out", "timeout", timeout)
	}

	s.setStatus(StatusStopped)
	s.healthy.Store(false)
	s.monitor.Clear()
	return err
}

// SetHealthCheck replaces the service's own probe. Embedding services
// call this from their constructor, after the options have run.
func (s *BaseService) SetHealthCheck(fn HealthCheckFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthFn = fn
}

// OnHealthChange replaces the health transition callback.
func (s *BaseService) OnHealthChange(callback func(bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onHealthChange = callback
}

// RecordOperation counts one unit of service work and refreshes the
// last-activity timestamp used in status reporting.
func (s *BaseService) RecordOperation() {
	s.opsProcessed.Add(1)
	s.lastActivity.Store(time.Now())
}

// GetStatus snapshots the runtime counters. Uptime is reported only
// while the service is running.
func (s *BaseService) GetStatus() Info {
	start := s.startTime.Load().(time.Time)
	info := Info{
		Name:                s.name,
		Status:              s.Status(),
		StartTime:           start,
		OperationsProcessed: s.opsProcessed.Load(),
		LastActivity:        s.lastActivity.Load().(time.Time),
		HealthChecks:        s.healthChecks.Load(),
		FailedHealthChecks:  s.failedHealthChecks.Load(),
	}
	if info.Status == StatusRunning && !start.IsZero() {
		info.Uptime = time.Since(start)
	}
	return info
}

// RegisterMetrics allows services to register their own domain-specific
// metrics. BaseService has none; concrete services override this.
func (s *BaseService) RegisterMetrics(_ metric.MetricsRegistrar) error {
	return nil
}

// setStatus stores the lifecycle state and mirrors it to the metrics
// registry.
func (s *BaseService) setStatus(st Status) {
	s.status.Store(int32(st))
	if s.metrics != nil {
		s.metrics.CoreMetrics().RecordServiceStatus(s.name, int(st))
	}
}

func (s *BaseService) checkFunc() HealthCheckFunc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.healthFn
}

// healthLoop reruns the probes on every tick until done closes. The
// channel and ticker are passed in so a restart cannot race the loop of a
// previous run.
func (s *BaseService) healthLoop(done <-chan struct{}, ticker *time.Ticker) {
	defer s.wg.Done()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.runHealthCheck()
		}
	}
}

// runHealthCheck executes one round of probes: the custom check, if set,
// under the service's own name, and the NATS connection when a client is
// attached. The aggregate of all monitored probes becomes the service
// health state.
func (s *BaseService) runHealthCheck() {
	if s.Status() != StatusRunning {
		return
	}
	s.healthChecks.Add(1)

	if fn := s.checkFunc(); fn != nil {
		s.monitor.SetError(s.name, fn())
	}
	if s.nats != nil {
		if s.nats.IsHealthy() {
			s.monitor.SetError("nats", nil)
		} else {
			s.monitor.SetError("nats", natsclient.ErrNotConnected)
		}
	}

	healthy := s.monitor.Healthy()
	if !healthy {
		s.failedHealthChecks.Add(1)
	}
	if was := s.healthy.Swap(healthy); was != healthy {
		if healthy {
			s.logger.Info("Service health restored")
		} else {
			s.logger.Warn("Service health check failed",
				"failed_checks", s.failedHealthChecks.Load())
		}
		s.notifyHealthChange(healthy)
	}
}

func (s *BaseService) notifyHealthChange(healthy bool) {
	s.mu.RLock()
	fn := s.onHealthChange
	s.mu.RUnlock()
	if fn != nil {
		go fn(healthy)
	}
}

// watchContext stops the service when the parent context is cancelled so
// deployments that tear down their root context do not leak the health
// loop.
func (s *BaseService) watchContext(ctx context.Context, done <-chan struct{}) {
	defer s.wg.Done()

	select {
	case <-ctx.Done():
		// Stop waits on the group this goroutine belongs to, so it has
		// to run outside of it.
		go func() { _ = s.Stop(0) }()
	case <-done:
	}
}

// Service is what the process runner manages: anything with the
// BaseService lifecycle surface.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
	Status() Status
	IsHealthy() bool
	GetStatus() Info
	Health() health.Status
	RegisterMetrics(registrar metric.MetricsRegistrar) error
}
