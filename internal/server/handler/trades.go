package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/volumebot/internal/domain"
)

// TradesHandler lists journaled trades of a session.
type TradesHandler struct {
	store     domain.TradeStore
	sessionID string
	logger    *slog.Logger
}

// NewTradesHandler creates a TradesHandler for the current session.
func NewTradesHandler(store domain.TradeStore, sessionID string, logger *slog.Logger) *TradesHandler {
	return &TradesHandler{store: store, sessionID: sessionID, logger: logger.With(slog.String("handler", "trades"))}
}

type tradeView struct {
	ID          string    `json:"id"`
	Size        string    `json:"size"`
	BestBid     string    `json:"best_bid"`
	BestAsk     string    `json:"best_ask"`
	QuoteVolume string    `json:"quote_volume"`
	ExecutedAt  time.Time `json:"executed_at"`
}

// ListTrades returns trades newest first. The session defaults to the
// running one and may be overridden with ?session=.
// GET /api/trades
func (h *TradesHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session")
	if session == "" {
		session = h.sessionID
	}

	trades, err := h.store.ListBySession(r.Context(), session, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list trades failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	out := make([]tradeView, 0, len(trades))
	for _, t := range trades {
		out = append(out, tradeView{
			ID:          t.ID,
			Size:        t.Size.String(),
			BestBid:     t.BestBid.String(),
			BestAsk:     t.BestAsk.String(),
			QuoteVolume: t.QuoteVolume.String(),
			ExecutedAt:  t.ExecutedAt.UTC(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": session, "trades": out})
}
