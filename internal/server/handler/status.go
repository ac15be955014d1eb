package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/volumebot/internal/domain"
)

// StatusSource exposes the live state of the bot.
type StatusSource interface {
	FeedState() string
	Quote() domain.Quote
	Depth() (bids, asks int)
	Progress() domain.Progress
}

// StatusHandler serves the operator status view.
type StatusHandler struct {
	symbol    string
	sessionID string
	startedAt time.Time
	src       StatusSource
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(symbol, sessionID string, startedAt time.Time, src StatusSource) *StatusHandler {
	return &StatusHandler{symbol: symbol, sessionID: sessionID, startedAt: startedAt, src: src}
}

type quoteView struct {
	BestBid string `json:"best_bid"`
	BidSize string `json:"bid_size"`
	BestAsk string `json:"best_ask"`
	AskSize string `json:"ask_size"`
	Spread  string `json:"spread"`
}

type progressView struct {
	BaseVolume  string     `json:"base_volume"`
	QuoteVolume string     `json:"quote_volume"`
	Target      string     `json:"target"`
	Trades      int        `json:"trades"`
	LastTradeAt *time.Time `json:"last_trade_at,omitempty"`
	Reached     bool       `json:"reached"`
}

// GetStatus reports feed state, top-of-book, depth and volume progress.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	bids, asks := h.src.Depth()
	p := h.src.Progress()

	pv := progressView{
		BaseVolume:  p.BaseVolume.StringFixed(5),
		QuoteVolume: p.QuoteVolume.StringFixed(2),
		Target:      p.Target.StringFixed(5),
		Trades:      p.Trades,
		Reached:     p.Reached(),
	}
	if !p.LastTradeAt.IsZero() {
		t := p.LastTradeAt.UTC()
		pv.LastTradeAt = &t
	}

	var qv *quoteView
	if q := h.src.Quote(); q.OK {
		qv = &quoteView{
			BestBid: q.BestBid.Price.String(),
			BidSize: q.BestBid.Size.String(),
			BestAsk: q.BestAsk.Price.String(),
			AskSize: q.BestAsk.Size.String(),
			Spread:  q.Spread.String(),
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":     h.symbol,
		"session_id": h.sessionID,
		"uptime":     time.Since(h.startedAt).Round(time.Second).String(),
		"feed_state": h.src.FeedState(),
		"quote":      qv,
		"depth":      map[string]int{"bids": bids, "asks": asks},
		"progress":   pv,
	})
}
