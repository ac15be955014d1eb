package handler

import (
	"context"
	"net/http"
	"sort"
	"time"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// HealthHandler serves the liveness endpoint. Configured dependency checks
// turn a failing dependency into a 503.
type HealthHandler struct {
	checks  map[string]Check
	timeout time.Duration
}

// NewHealthHandler creates a HealthHandler. checks may be nil.
func NewHealthHandler(checks map[string]Check) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 2 * time.Second}
}

// HealthCheck reports "ok" or "degraded" with per-dependency results.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status, code := "ok", http.StatusOK
	deps := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			deps[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	writeJSON(w, code, map[string]any{
		"status":       status,
		"dependencies": deps,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}
