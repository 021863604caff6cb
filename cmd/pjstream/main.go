// Package main implements the entry point for the PJStream server.
// PJStream turns JSON documents into priority-ordered frame streams
// served over HTTP/SSE and websocket transports.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/pjstream/config"
	"github.com/c360/pjstream/gateway"
	"github.com/c360/pjstream/metric"
	"github.com/c360/pjstream/natsclient"
	"github.com/c360/pjstream/service"
	"github.com/c360/pjstream/transport/websocket"
)

const (
	appName   = "pjstream"
	Version   = "0.1.0"
	BuildTime = "dev"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			_, _ = fmt.Fprintf(os.Stderr, "panic: %v\n%s", r, debug.Stack())
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("pjstream exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cli := parseFlags()

	// Version and help short-circuit before flag validation so they
	// work without a config file on disk.
	switch {
	case cli.ShowVersion:
		fmt.Printf("%s %s (build %s)\n", appName, Version, BuildTime)
		return nil
	case cli.ShowHelp:
		printUsage()
		return nil
	}

	if err := validateFlags(cli); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	logger := newLogger(cli.LogLevel, cli.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting PJStream (priority JSON streaming)",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cli.ConfigPath)

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	if cli.Validate {
		slog.Info("Configuration is valid", "path", cli.ConfigPath)
		return nil
	}

	ctx := context.Background()

	infra, err := setupInfrastructure(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer infra.close(ctx)

	servers, err := buildServers(cfg, logger, infra)
	if err != nil {
		return err
	}

	return serve(ctx, cli.ShutdownTimeout, servers)
}

// loadConfig reads the config file, lays the CLI port overrides on top,
// and validates the merged result.
func loadConfig(cli *CLIConfig) (*config.Config, error) {
	cfg, err := config.NewLoader().LoadFile(cli.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cli.GatewayPort >= 0 {
		cfg.Server.Port = cli.GatewayPort
	}
	if cli.WebSocketPort >= 0 {
		cfg.Server.WebSocketPort = cli.WebSocketPort
	}
	if cli.MetricsPort >= 0 {
		cfg.Server.MetricsPort = cli.MetricsPort
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// infrastructure bundles the shared process-level dependencies.
type infrastructure struct {
	nats          *natsclient.Client
	registry      *metric.MetricsRegistry
	platform      service.PlatformMeta
	configManager *config.Manager
}

func (i *infrastructure) close(ctx context.Context) {
	if i.configManager != nil {
		_ = i.configManager.Stop(5 * time.Second)
	}
	if i.nats != nil {
		_ = i.nats.Close(ctx)
	}
}

// setupInfrastructure creates the metrics registry and, when NATS is
// configured, the connected client and config manager. Without NATS
// the process runs self-contained on the memory store.
func setupInfrastructure(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*infrastructure, error) {
	infra := &infrastructure{
		registry: metric.NewMetricsRegistry(),
		platform: platformIdentity(cfg),
	}

	if len(cfg.NATS.URLs) == 0 {
		mode := cfg.Streaming.Storage.Mode
		if mode == config.StorageModeKV || mode == config.StorageModeHybrid {
			return nil, fmt.Errorf("storage mode %q requires nats.urls", mode)
		}
		slog.Info("Running without NATS", "storage", "memory", "events", "local")
		return infra, nil
	}

	client, err := dialNATS(ctx, cfg.NATS.URLs[0])
	if err != nil {
		return nil, err
	}
	infra.nats = client

	manager, err := config.NewConfigManager(cfg, client, logger)
	if err != nil {
		_ = client.Close(ctx)
		return nil, fmt.Errorf("create config manager: %w", err)
	}
	if err := manager.Start(ctx); err != nil {
		_ = client.Close(ctx)
		return nil, fmt.Errorf("start config manager: %w", err)
	}
	infra.configManager = manager

	return infra, nil
}

// dialNATS connects and waits until the connection is ready or the ten
// second budget runs out.
func dialNATS(ctx context.Context, url string) (*natsclient.Client, error) {
	slog.Info("Connecting to NATS", "url", url)

	client, err := natsclient.NewClient(url)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(waitCtx); err != nil {
		_ = client.Close(ctx)
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}
	return client, nil
}

// platformIdentity prefers the federation instance id over the bare
// platform id.
func platformIdentity(cfg *config.Config) service.PlatformMeta {
	id := cfg.Platform.InstanceID
	if id == "" {
		id = cfg.Platform.ID
	}

	slog.Info("Platform identity configured",
		"org", cfg.Platform.Org,
		"platform", id,
		"environment", cfg.Platform.Environment)

	return service.PlatformMeta{Org: cfg.Platform.Org, Platform: id}
}

// serverSet holds the runnable pieces of the process.
type serverSet struct {
	streaming *service.StreamingService
	gateway   *gateway.Gateway
	websocket *websocket.Server
	metrics   *metric.Server
}

// buildServers constructs the streaming service and every transport in
// front of it.
func buildServers(cfg *config.Config, logger *slog.Logger, infra *infrastructure) (*serverSet, error) {
	deps := &service.Dependencies{
		NATSClient:      infra.nats,
		MetricsRegistry: infra.registry,
		Logger:          logger,
		Platform:        infra.platform,
		Manager:         infra.configManager,
	}

	streaming, err := service.NewStreamingService(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("create streaming service: %w", err)
	}

	gw, err := gateway.New(cfg, streaming,
		gateway.WithLogger(logger),
		gateway.WithMetricsRegistry(infra.registry),
		gateway.WithSecurity(cfg.Security))
	if err != nil {
		return nil, fmt.Errorf("create gateway: %w", err)
	}

	ws, err := websocket.New(websocket.ConstructorConfig{
		Config:          websocket.FromPlatform(cfg),
		Streaming:       streaming,
		Logger:          logger,
		MetricsRegistry: infra.registry,
		Security:        cfg.Security,
	})
	if err != nil {
		return nil, fmt.Errorf("create websocket transport: %w", err)
	}
	if err := ws.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize websocket transport: %w", err)
	}

	set := &serverSet{streaming: streaming, gateway: gw, websocket: ws}
	if cfg.Server.MetricsPort > 0 {
		set.metrics = metric.NewServer(cfg.Server.MetricsPort, cfg.Server.MetricsPath,
			infra.registry, cfg.Security)
	}

	return set, nil
}

// serve starts everything, waits for a shutdown signal, and stops the
// transports before the service behind them.
func serve(ctx context.Context, shutdownTimeout time.Duration, servers *serverSet) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := servers.streaming.Start(signalCtx); err != nil {
		return fmt.Errorf("start streaming service: %w", err)
	}
	defer func() {
		if err := servers.streaming.Stop(shutdownTimeout); err != nil {
			slog.Error("Streaming service stop failed", "error", err)
		}
	}()

	group, groupCtx := errgroup.WithContext(signalCtx)

	group.Go(func() error {
		if err := servers.gateway.Start(); err != nil {
			return fmt.Errorf("start gateway: %w", err)
		}
		<-groupCtx.Done()
		return servers.gateway.Stop(shutdownTimeout)
	})

	group.Go(func() error {
		if err := servers.websocket.Start(groupCtx); err != nil {
			return fmt.Errorf("start websocket transport: %w", err)
		}
		<-groupCtx.Done()
		return servers.websocket.Stop(shutdownTimeout)
	})

	if servers.metrics != nil {
		group.Go(func() error {
			if err := servers.metrics.Start(); err != nil {
				return fmt.Errorf("start metrics server: %w", err)
			}
			<-groupCtx.Done()
			return servers.metrics.Stop()
		})
	}

	slog.Info("PJStream started",
		"gateway", servers.gateway.Address(),
		"websocket", servers.websocket.Address(),
		"metrics_enabled", servers.metrics != nil)

	if err := group.Wait(); err != nil {
		return err
	}

	slog.Info("PJStream shutdown complete")
	return nil
}
