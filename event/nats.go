package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/c360/pjstream/errors"
	"github.com/c360/pjstream/pkg/retry"
)

// SubjectPrefix roots every event subject; the event kind is appended,
// so consumers subscribe to pjs.events.> or to a single kind.
const SubjectPrefix = "pjs.events"

// Conn is the slice of a NATS client the publisher needs.
type Conn interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NATSPublisher publishes events as JSON to per-kind NATS subjects,
// retrying transient connection failures with exponential backoff.
type NATSPublisher struct {
	conn   Conn
	prefix string
	retry  retry.Config
	logger *slog.Logger
}

// NATSOption configures a NATSPublisher.
type NATSOption func(*NATSPublisher)

// WithRetry overrides the default retry policy.
func WithRetry(cfg retry.Config) NATSOption {
	return func(p *NATSPublisher) {
		p.retry = cfg
	}
}

// WithSubjectNamespace scopes event subjects under an org and platform,
// so multi-tenant deployments partition their subject space:
// {org}.{platform}.pjs.events.{kind}. Either value empty keeps the
// default prefix.
func WithSubjectNamespace(org, platform string) NATSOption {
	return func(p *NATSPublisher) {
		if org != "" && platform != "" {
			p.prefix = org + "." + platform + "." + SubjectPrefix
		}
	}
}

// WithLogger sets the publisher's logger.
func WithLogger(logger *slog.Logger) NATSOption {
	return func(p *NATSPublisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewNATSPublisher wraps a NATS connection in an event publisher.
func NewNATSPublisher(conn Conn, opts ...NATSOption) (*NATSPublisher, error) {
	if conn == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: nats connection required", errors.ErrInvalidConfig),
			"NATSPublisher", "NewNATSPublisher", "validate configuration")
	}
	p := &NATSPublisher{
		conn:   conn,
		prefix: SubjectPrefix,
		retry:  retry.Quick(),
		logger: slog.Default().With("component", "event.nats"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Subject returns the NATS subject for an event kind under the default
// prefix.
func Subject(kind Kind) string {
	return SubjectPrefix + "." + string(kind)
}

func (p *NATSPublisher) subject(kind Kind) string {
	return p.prefix + "." + string(kind)
}

// Publish sends one event. Transient publish failures are retried;
// events that cannot be encoded fail immediately.
func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return errors.WrapInvalid(err, "NATSPublisher", "Publish", "encode event")
	}

	subject := p.subject(e.Kind)
	err = retry.Do(ctx, p.retry, func() error {
		if err := p.conn.Publish(ctx, subject, data); err != nil {
			if errors.IsTransient(err) {
				return err
			}
			return retry.NonRetryable(err)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "NATSPublisher", "Publish", "publish to "+subject)
	}
	return nil
}

// PublishBatch sends events in order. The first failure aborts the
// batch; events already sent stay sent, so consumers must treat event
// delivery as at-least-once.
func (p *NATSPublisher) PublishBatch(ctx context.Context, events []Event) error {
	for i, e := range events {
		if err := p.Publish(ctx, e); err != nil {
			p.logger.Warn("event batch aborted",
				"published", i,
				"total", len(events),
				"kind", e.Kind,
				"error", err)
			return errors.Wrap(err, "NATSPublisher", "PublishBatch",
				fmt.Sprintf("publish event %d of %d", i+1, len(events)))
		}
	}
	return nil
}
