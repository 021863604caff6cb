package service

import (
	"log/slog"

	"github.com/c360/pjstream/config"
	"github.com/c360/pjstream/metric"
	"github.com/c360/pjstream/natsclient"
)

// PlatformMeta identifies the deployment a service belongs to. It
// decouples platform identity from the config package, so services can
// namespace their event subjects without depending on configuration
// structures.
type PlatformMeta struct {
	Org      string // Organization namespace (e.g., "c360", "acme")
	Platform string // Platform or instance identifier
}

// Dependencies provides the standard dependencies services receive.
// Every field is optional: a service built with nil NATS keeps its
// state in memory, one built without a registry records no metrics.
type Dependencies struct {
	NATSClient      *natsclient.Client
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
	Platform        PlatformMeta    // Platform identity
	Manager         *config.Manager // Centralized configuration management
}
