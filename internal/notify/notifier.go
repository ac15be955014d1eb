// Package notify pushes operator alerts to chat channels. Alerts are filtered
// by event type and, on the hot path, queued so a slow webhook never stalls
// trading.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Event types emitted by the bot.
const (
	EventTrade      = "trade"
	EventTarget     = "target"
	EventFeedFailed = "feed_failed"
	EventLockLost   = "lock_lost"
)

const (
	queueSize   = 256
	sendTimeout = 10 * time.Second
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

type notification struct {
	event, title, message string
}

// Notifier dispatches notifications to one or more Senders. Only event types
// in the allowed set are forwarded; an empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	queue   chan notification
	logger  *slog.Logger
}

// NewNotifier creates a Notifier that will deliver to the given senders.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		queue:   make(chan notification, queueSize),
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Enqueue schedules a notification for the Run loop without blocking. It
// drops the notification when the event is filtered or the queue is full.
func (n *Notifier) Enqueue(event, title, message string) {
	if !n.Enabled() || !n.allowed(event) {
		return
	}
	select {
	case n.queue <- notification{event: event, title: title, message: message}:
	default:
		n.logger.Warn("notification queue full, dropping", slog.String("event", event))
	}
}

// Notify delivers synchronously. It is meant for terminal events sent just
// before the process exits.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	if !n.allowed(event) {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return n.dispatch(ctx, title, message)
}

// Run delivers queued notifications until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-n.queue:
			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			_ = n.dispatch(sendCtx, msg.title, msg.message)
			cancel()
		}
	}
}

func (n *Notifier) allowed(event string) bool {
	return len(n.events) == 0 || n.events[event]
}

// dispatch sends to every sender. One failing sender does not prevent
// delivery to the others; failures are combined into one error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
