// Package metric collects Prometheus metrics for PJStream and serves the
// scrape endpoint.
//
// A MetricsRegistry owns one prometheus.Registry per process. The core
// platform metrics (session and stream lifecycle, frame pipeline, NATS
// health) are registered when the registry is built, transports add their
// own through the MetricsRegistrar interface, and a Server exposes
// everything over HTTP.
//
// # Recording Core Metrics
//
//	registry := metric.NewMetricsRegistry()
//
//	core := registry.CoreMetrics()
//	core.RecordSessionCreated()
//	core.RecordStreamCreated()
//	core.RecordFrameEmitted("skeleton", 512)
//	core.RecordPatchEntries(4)
//	core.ObserveAnalysisDuration(300 * time.Microsecond)
//	core.RecordStreamEnded("completed")
//	core.RecordSessionEnded("expired")
//
// Everything core lives under the pjstream namespace:
//
//	pjstream_sessions_active
//	pjstream_streams_total{status="completed"}
//	pjstream_frames_emitted_total{kind="patch"}
//	pjstream_analysis_duration_seconds
//	pjstream_nats_connected
//
// # Transport Metrics
//
// Transports own their metric objects and register them keyed by
// component and name, so one component's metrics can be dropped as a
// group when it shuts down:
//
//	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
//	    Name: "pjstream_websocket_write_queue_depth",
//	    Help: "Frames buffered towards websocket clients",
//	})
//	if err := registry.RegisterGauge("websocket", "write_queue_depth", queueDepth); err != nil {
//	    return err
//	}
//	defer registry.Unregister("websocket", "write_queue_depth")
//
// Registering the same component and name twice is rejected as an invalid
// error, as is a Prometheus-level name collision. Callers can branch on
// the errors package predicates when they need to tell the two apart from
// an infrastructure failure.
//
// Components should depend on the MetricsRegistrar interface rather than
// the concrete registry, which keeps them testable with a stub registrar.
//
// # Scrape Server
//
// Server binds its listener inside Start, so a nil return means scrapes
// already succeed. Port 0 requests an ephemeral port, which Port reports
// once bound:
//
//	server := metric.NewServer(9090, "/metrics", registry, securityCfg)
//	if err := server.Start(); err != nil {
//	    log.Fatalf("metrics endpoint: %v", err)
//	}
//	defer server.Stop()
//
// Three routes are served: the metrics path in OpenMetrics format, /health
// answering a plain OK, and an index page at / linking the other two. When
// platform TLS is enabled the listener terminates HTTPS with the
// configured server certificate. Stop drains in-flight scrapes before
// closing the listener.
//
// A Prometheus scrape job for this endpoint:
//
//	scrape_configs:
//	  - job_name: 'pjstream'
//	    static_configs:
//	      - targets: ['localhost:9090']
//	    scrape_interval: 15s
//
// All registry methods are safe for concurrent use, and recording through
// the collector types takes no registry locks.
package metric
