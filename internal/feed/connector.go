// Package feed keeps the local orderbook in sync with the venue's level-2
// stream, reconnecting until the context ends or credentials are rejected.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/alanyoungcy/volumebot/internal/clock"
	"github.com/alanyoungcy/volumebot/internal/domain"
	"github.com/alanyoungcy/volumebot/internal/platform/arkham"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateStreaming
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Stream is an open subscription-capable connection. *arkham.Session
// satisfies it.
type Stream interface {
	Subscribe(req arkham.SubscribeRequest) error
	ReadMessage() ([]byte, error)
	Close() error
}

// DialFunc opens a new Stream. It is called once per connection attempt and
// is expected to sign a fresh handshake every time.
type DialFunc func(ctx context.Context) (Stream, error)

// BookWriter receives decoded book mutations.
type BookWriter interface {
	ApplySnapshot(bids, asks []domain.PriceLevel)
	ApplyDelta(updates []domain.LevelUpdate)
}

// Observer is notified of every state transition on the feed goroutine. It
// must not block.
type Observer func(from, to State, err error)

// Config holds the subscription and reconnect parameters.
type Config struct {
	Symbol         string
	Group          string
	ConfirmationID string
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	ReconnectDelay time.Duration
}

// Connector drives a single level-2 subscription.
type Connector struct {
	cfg      Config
	dial     DialFunc
	book     BookWriter
	backoff  *Backoff
	observer Observer
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *slog.Logger

	state atomic.Int32
}

// Option configures a Connector.
type Option func(*Connector)

// WithObserver registers a transition observer.
func WithObserver(o Observer) Option {
	return func(c *Connector) { c.observer = o }
}

// WithSleeper replaces the context-aware sleep used between attempts.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Connector) { c.sleep = sleep }
}

// NewConnector creates a Connector in the Disconnected state.
func NewConnector(cfg Config, dial DialFunc, book BookWriter, logger *slog.Logger, opts ...Option) *Connector {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.ConfirmationID == "" {
		cfg.ConfirmationID = "abc123"
	}
	c := &Connector{
		cfg:     cfg,
		dial:    dial,
		book:    book,
		backoff: NewBackoff(cfg.BackoffBase, cfg.BackoffMax),
		sleep:   clock.Sleep,
		logger:  logger.With(slog.String("component", "feed"), slog.String("symbol", cfg.Symbol)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle state. Safe for concurrent use.
func (c *Connector) State() State {
	return State(c.state.Load())
}

// Run connects, subscribes and streams until ctx is cancelled or the venue
// rejects the credentials. In the latter case the state becomes Failed and
// the returned error wraps domain.ErrUnauthorized.
func (c *Connector) Run(ctx context.Context) error {
	req := arkham.NewL2Subscribe(c.cfg.Symbol, c.cfg.Group, c.cfg.ConfirmationID)

	for {
		if err := ctx.Err(); err != nil {
			c.transition(StateDisconnected, nil)
			return err
		}

		c.transition(StateConnecting, nil)
		stream, err := c.connect(ctx, req)
		if err != nil {
			if errors.Is(err, domain.ErrUnauthorized) {
				c.transition(StateFailed, err)
				c.logger.Error("credentials rejected, feed stopped", slog.String("error", err.Error()))
				return fmt.Errorf("feed: %w", err)
			}
			if ctx.Err() != nil {
				c.transition(StateDisconnected, nil)
				return ctx.Err()
			}
			c.transition(StateDisconnected, err)
			delay := c.backoff.Next()
			c.logger.Warn("connect failed, backing off",
				slog.String("error", err.Error()),
				slog.Int("attempt", c.backoff.Attempt()),
				slog.Duration("delay", delay),
			)
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
			continue
		}

		c.transition(StateSubscribed, nil)
		c.backoff.Reset()
		c.logger.Info("subscribed", slog.String("channel", arkham.ChannelL2Updates))

		err = c.consume(ctx, stream)
		_ = stream.Close()
		if ctx.Err() != nil {
			c.transition(StateDisconnected, nil)
			return ctx.Err()
		}
		c.transition(StateDisconnected, err)
		c.logger.Warn("stream ended, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", c.cfg.ReconnectDelay),
		)
		if err := c.sleep(ctx, c.cfg.ReconnectDelay); err != nil {
			return err
		}
	}
}

func (c *Connector) connect(ctx context.Context, req arkham.SubscribeRequest) (Stream, error) {
	stream, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	if err := stream.Subscribe(req); err != nil {
		_ = stream.Close()
		return nil, err
	}
	return stream, nil
}

// consume reads frames until the stream ends. Cancelling ctx closes the
// stream to unblock the read.
func (c *Connector) consume(ctx context.Context, stream Stream) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = stream.Close()
		case <-done:
		}
	}()

	for {
		msg, err := stream.ReadMessage()
		if err != nil {
			return err
		}
		if c.State() == StateSubscribed {
			c.transition(StateStreaming, nil)
		}
		c.handle(msg)
	}
}

func (c *Connector) handle(msg []byte) {
	var env arkham.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		c.logger.Debug("ignoring malformed message", slog.String("error", err.Error()))
		return
	}
	if env.Channel != arkham.ChannelL2Updates || !env.HasData() {
		return
	}

	if env.IsSnapshot() {
		bids, asks, err := arkham.DecodeBook(env.Data)
		if err != nil {
			c.logger.Debug("ignoring malformed snapshot", slog.String("error", err.Error()))
			return
		}
		c.book.ApplySnapshot(bids, asks)
		return
	}

	if updates := arkham.DecodeUpdates(env.Data); len(updates) > 0 {
		c.book.ApplyDelta(updates)
	}
}

func (c *Connector) transition(to State, err error) {
	from := State(c.state.Swap(int32(to)))
	if from == to {
		return
	}
	c.logger.Debug("feed state", slog.String("from", from.String()), slog.String("to", to.String()))
	if c.observer != nil {
		c.observer(from, to, err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
