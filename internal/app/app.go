// Package app provides the top-level application lifecycle management for the
// volume bot. It wires together all dependencies (venue clients, the book,
// optional caches, journals, archives and notifications) and runs the feed,
// the controller and their side workers as one errgroup.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/alanyoungcy/volumebot/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	sessionID string
	closers   []func()

	exit     func(code int)
	exitOnce sync.Once
}

// Option configures an App.
type Option func(*App)

// WithExit replaces os.Exit as the terminal hook used when the volume target
// is reached or the venue rejects the credentials.
func WithExit(fn func(code int)) Option {
	return func(a *App) { a.exit = fn }
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *App {
	a := &App{
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "app")),
		sessionID: uuid.NewString(),
		exit:      os.Exit,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SessionID identifies this process run in journals and archives.
func (a *App) SessionID() string {
	return a.sessionID
}

// Run wires all dependencies, starts the feed, the controller and the side
// workers, and blocks until the context is cancelled or the run terminates.
// On return it runs all registered cleanup functions.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("session_id", a.sessionID),
		slog.String("symbol", a.cfg.Market.Symbol),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	return a.run(ctx, deps)
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
