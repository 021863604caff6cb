// Package service provides the long-running services of a pjstream
// deployment: lifecycle management, the streaming core, and the
// metrics endpoint.
//
// # Lifecycle
//
// BaseService carries the machinery every service shares. It drives the
// Stopped, Starting, Running and Stopping states, runs the periodic
// health probe, mirrors status into the core metrics registry, and
// stops cleanly on context cancellation or an explicit Stop with
// timeout. Collaborators arrive through functional options, so a
// service only pays for what it injects.
//
// # Building a Service
//
// Concrete services embed BaseService and register a health probe:
//
//	type MyService struct {
//	    *BaseService
//	}
//
//	func NewMyService(cfg *config.Config, deps *Dependencies) (*MyService, error) {
//	    svc := &MyService{BaseService: NewBaseServiceWithOptions("my-service", cfg,
//	        WithLogger(deps.Logger),
//	        WithMetrics(deps.MetricsRegistry),
//	        WithNATS(deps.NATSClient))}
//	    svc.SetHealthCheck(svc.healthCheck)
//	    return svc, nil
//	}
//
// Every Dependencies field is optional. A service built without a NATS
// client keeps sessions in memory and publishes events to a memory
// publisher; one built without a metrics registry records nothing.
//
// # The Streaming Service
//
// StreamingService implements priority JSON streaming end to end:
// session creation, activation, close and idle expiry; document
// analysis into priority-ordered streaming plans; pull-based frame
// delivery with per-stream position tracking; session storage in
// memory, NATS KV, or hybrid (KV + cache) mode; domain event
// publication to per-kind NATS subjects; optional worker pool offload
// for analysis.
//
// Metrics wraps the Prometheus scrape endpoint in the same lifecycle,
// terminating TLS from the platform security config when enabled.
//
// # Session State and Concurrency
//
// All session mutation goes through the repository's Update callback,
// so concurrent transports never race on shared state. Callbacks may
// rerun when a compare-and-swap conflicts, which keeps multi-instance
// deployments over NATS KV consistent without locks. Domain events are
// drained inside the callback and published after the write lands;
// event delivery is advisory and never fails the operation.
//
// # Frame Delivery
//
// OpenStream analyzes the document into a plan: one skeleton frame,
// patch frames in descending priority order, and a terminal complete
// frame carrying the document checksum. PullFrame advances delivery by
// exactly one frame; pulling the terminal frame completes the stream.
// The delivery position is part of the persisted session state, so a
// stream can be drained through any service instance sharing the
// bucket.
//
// # Health
//
// The probe registered with SetHealthCheck runs on the configured
// interval. Failures flip the service unhealthy, count into
// FailedHealthChecks, and fold into the aggregate the gateway serves
// from /healthz. The streaming service reports unhealthy when its
// session repository stops answering queries; the metrics service when
// its HTTP server is not running.
//
// # Metrics
//
// Services record lifecycle counts and durations into the shared
// CoreMetrics registry:
//   - pjstream_service_status - Current service status (gauge)
//   - pjstream_sessions_total - Session transitions by outcome
//   - pjstream_streams_total - Stream transitions by outcome
//   - pjstream_frames_emitted_total - Frames emitted by kind
//   - pjstream_analysis_duration_seconds - Document analysis latency
//   - pjstream_delivery_duration_seconds - Frame pull latency
//
// Frame size metrics are recorded by the transports, which know the
// encoded sizes.
//
// # Errors
//
// Construction rejects bad configuration immediately. At runtime,
// oversized or malformed documents surface as invalid errors
// (errors.IsInvalid), repository and NATS outages as transient ones
// (errors.IsTransient), and other operational failures are logged and
// folded into health rather than returned. Wrapping follows the errors
// package conventions:
//
//	import "github.com/c360/pjstream/errors"
//
//	if err := validate(doc); err != nil {
//	    return errors.WrapInvalid(err, "StreamingService", "OpenStream", "validate document")
//	}
//
// # Example
//
//	cfg, err := config.NewLoader().Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	deps := &service.Dependencies{
//	    NATSClient:      natsClient,
//	    MetricsRegistry: metric.NewMetricsRegistry(),
//	    Logger:          slog.Default(),
//	}
//
//	streaming, err := service.NewStreamingService(cfg, deps)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := streaming.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer streaming.Stop(30 * time.Second)
//
//	sessionID, err := streaming.CreateSession(ctx, session.Config{})
//	streamID, err := streaming.OpenStream(ctx, sessionID, document)
//	for {
//	    frame, ok, err := streaming.PullFrame(ctx, sessionID, streamID)
//	    if err != nil || !ok || frame.Terminal() {
//	        break
//	    }
//	}
//
// # Testing
//
// Unit tests run against memory storage with no external dependencies.
// Integration tests share one NATS container created in TestMain and
// skip unless INTEGRATION_TESTS=1 is set:
//
//	INTEGRATION_TESTS=1 go test ./service/
package service
