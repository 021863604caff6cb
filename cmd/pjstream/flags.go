package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"time"
)

// CLIConfig carries everything parsed from the command line and its
// PJSTREAM_* environment fallbacks.
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Port overrides. Negative keeps the config file value; zero on
	// the metrics port disables the endpoint entirely.
	GatewayPort   int
	WebSocketPort int
	MetricsPort   int

	ShowVersion bool
	ShowHelp    bool
	Validate    bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	configDefault := envOr("PJSTREAM_CONFIG", "configs/pjstream.json")
	flag.StringVar(&cfg.ConfigPath, "config", configDefault,
		"Path to configuration file (env: PJSTREAM_CONFIG)")
	flag.StringVar(&cfg.ConfigPath, "c", configDefault,
		"Path to configuration file (env: PJSTREAM_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level", envOr("PJSTREAM_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: PJSTREAM_LOG_LEVEL)")
	flag.StringVar(&cfg.LogFormat, "log-format", envOr("PJSTREAM_LOG_FORMAT", "json"),
		"Log format: json, text (env: PJSTREAM_LOG_FORMAT)")

	flag.IntVar(&cfg.GatewayPort, "port", -1,
		"Gateway HTTP/SSE port override, -1 keeps the config value")
	flag.IntVar(&cfg.WebSocketPort, "websocket-port", -1,
		"Websocket transport port override, -1 keeps the config value")
	flag.IntVar(&cfg.MetricsPort, "metrics-port", -1,
		"Metrics port override, 0 disables, -1 keeps the config value")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		envDuration("PJSTREAM_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: PJSTREAM_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Print version and exit")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Print version and exit")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Print usage and exit")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Print usage and exit")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = printUsage
	flag.Parse()

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	for name, port := range map[string]int{
		"port":           cfg.GatewayPort,
		"websocket-port": cfg.WebSocketPort,
		"metrics-port":   cfg.MetricsPort,
	} {
		if port < -1 || port > 65535 {
			return fmt.Errorf("invalid %s: %d", name, port)
		}
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}

	return nil
}

func printUsage() {
	_, _ = fmt.Fprintf(os.Stderr, "%s %s - priority JSON streaming server\n\nUsage: %s [options]\n\nOptions:\n",
		appName, Version, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Stream against a local NATS with readable debug output
  %[1]s --config=configs/pjstream.json --log-level=debug --log-format=text

  # Check a config file without starting anything
  %[1]s --config=/etc/pjstream/config.json --validate

  # Serve without the Prometheus endpoint
  %[1]s --metrics-port=0

Environment:
  PJSTREAM_CONFIG, PJSTREAM_LOG_LEVEL, PJSTREAM_LOG_FORMAT and
  PJSTREAM_SHUTDOWN_TIMEOUT override the matching flag defaults.
`, os.Args[0])
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
