package audit

import (
	"context"
	"log/slog"

	"verdant/internal/audit/metrics"
	id "verdant/pkg/domain"
	"verdant/pkg/requestcontext"
)

// Publisher fans domain events onto a buffered channel so emitting never
// blocks a request. The paired Worker persists them. A full buffer drops the
// event with a warning and a counter bump; the trail is an observability
// surface, not a transactional one.
type Publisher struct {
	inbox   chan Record
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithLogger sets a logger.
func WithLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics sets event counters.
func WithMetrics(m *metrics.Metrics) PublisherOption {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithBufferSize overrides the event buffer.
func WithBufferSize(n int) PublisherOption {
	return func(p *Publisher) {
		p.inbox = make(chan Record, n)
	}
}

const defaultBufferSize = 256

func NewPublisher(opts ...PublisherOption) *Publisher {
	p := &Publisher{
		inbox:  make(chan Record, defaultBufferSize),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish enqueues one trail entry, stamping the request ID and time from
// the context.
func (p *Publisher) Publish(ctx context.Context, action string, actorID id.ActorID, subject string, detail string) {
	rec := Record{
		Timestamp: requestcontext.Now(ctx),
		RequestID: requestcontext.RequestID(ctx),
		ActorID:   actorID,
		Action:    action,
		Subject:   subject,
		Detail:    detail,
	}
	select {
	case p.inbox <- rec:
		p.metrics.IncrementPublished()
	default:
		p.metrics.IncrementDropped()
		p.logger.Warn("audit buffer full, dropping event", "action", action, "subject", subject)
	}
}

// Inbox exposes the channel for the Worker.
func (p *Publisher) Inbox() <-chan Record {
	return p.inbox
}
