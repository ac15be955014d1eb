package service

import (
	"context"
	"log/slog"
)

const auditQueueSize = 256

type auditEvent struct {
	event  string
	detail map[string]any
}

// Auditor writes audit events to the store from its own goroutine so that
// callers on the feed path never wait on the database.
type Auditor struct {
	store  auditLogger
	queue  chan auditEvent
	logger *slog.Logger
}

type auditLogger interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}

// NewAuditor creates an Auditor. A nil store makes Record a no-op.
func NewAuditor(store auditLogger, logger *slog.Logger) *Auditor {
	return &Auditor{
		store:  store,
		queue:  make(chan auditEvent, auditQueueSize),
		logger: logger.With(slog.String("component", "auditor")),
	}
}

// Record queues an event without blocking.
func (a *Auditor) Record(event string, detail map[string]any) {
	if a == nil || a.store == nil {
		return
	}
	select {
	case a.queue <- auditEvent{event: event, detail: detail}:
	default:
		a.logger.Warn("audit queue full, dropping", slog.String("event", event))
	}
}

// Run persists queued events until ctx is cancelled.
func (a *Auditor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-a.queue:
			if err := a.store.Log(ctx, e.event, e.detail); err != nil {
				a.logger.WarnContext(ctx, "audit log failed",
					slog.String("event", e.event),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
