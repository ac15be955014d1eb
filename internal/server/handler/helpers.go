// Package handler implements the HTTP handlers of the status API.
package handler

import (
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/alanyoungcy/volumebot/internal/domain"
)

// writeJSON marshals v as JSON and writes it with the given status code. If
// marshaling fails, it falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts extracts pagination from the query string. Defaults:
// limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, 500)
	}
	offset := 0
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		offset = n
	}
	return domain.ListOpts{Limit: limit, Offset: offset}
}
