// Package server exposes a small read-only HTTP API for liveness probes and
// operator status.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/volumebot/internal/server/handler"
	"github.com/alanyoungcy/volumebot/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Addr   string
	APIKey string // if empty, authentication is disabled
}

// Handlers aggregates the HTTP handlers the server registers. Trades may be
// nil when no trade journal is configured.
type Handlers struct {
	Health *handler.HealthHandler
	Status *handler.StatusHandler
	Trades *handler.TradesHandler
}

// Server is the status API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. The health probe is
// never behind authentication.
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	if handlers.Trades != nil {
		mux.HandleFunc("GET /api/trades", handlers.Trades.ListTrades)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	h = middleware.Logging(logger)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens and serves until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.httpServer.Addr, err)
	}
	s.logger.Info("server: listening", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests up to
// the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
