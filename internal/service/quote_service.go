// Package service hosts the side workers that fan book and trade events out
// to logs, caches, journals and alerts. None of them may block the feed or
// the controller.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/goccy/go-json"

	"github.com/alanyoungcy/volumebot/internal/domain"
)

// QuoteReader exposes the current top-of-book.
type QuoteReader interface {
	Snapshot() domain.Quote
}

// QuoteService consumes throttled spread changes, logs them and mirrors the
// quote into the cache and the quote channel when those are configured.
type QuoteService struct {
	symbol string
	book   QuoteReader
	cache  domain.QuoteCache
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewQuoteService creates a QuoteService. cache and bus may be nil.
func NewQuoteService(
	symbol string,
	book QuoteReader,
	cache domain.QuoteCache,
	bus domain.SignalBus,
	logger *slog.Logger,
) *QuoteService {
	return &QuoteService{
		symbol: symbol,
		book:   book,
		cache:  cache,
		bus:    bus,
		logger: logger.With(slog.String("component", "quote_service")),
	}
}

// Run handles spread changes until ctx is cancelled.
func (s *QuoteService) Run(ctx context.Context, changes <-chan domain.SpreadChange) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ch := <-changes:
			s.handle(ctx, ch)
		}
	}
}

func (s *QuoteService) handle(ctx context.Context, ch domain.SpreadChange) {
	s.logger.InfoContext(ctx, "spread",
		slog.String("spread", ch.Spread.String()),
		slog.String("bid", ch.BestBid.String()),
		slog.String("ask", ch.BestAsk.String()),
	)

	if s.cache == nil && s.bus == nil {
		return
	}

	q := s.book.Snapshot()
	if !q.OK {
		return
	}

	if s.cache != nil {
		if err := s.cache.SetQuote(ctx, s.symbol, q, ch.Time); err != nil {
			s.logger.WarnContext(ctx, "quote cache update failed", slog.String("error", err.Error()))
		}
	}

	if s.bus != nil {
		evt, _ := json.Marshal(map[string]any{
			"event":     "spread_change",
			"symbol":    s.symbol,
			"best_bid":  q.BestBid.Price,
			"bid_size":  q.BestBid.Size,
			"best_ask":  q.BestAsk.Price,
			"ask_size":  q.BestAsk.Size,
			"spread":    q.Spread,
			"timestamp": ch.Time.UTC().Format(time.RFC3339Nano),
		})
		if err := s.bus.Publish(ctx, "quotes:"+s.symbol, evt); err != nil {
			s.logger.WarnContext(ctx, "publish quote failed", slog.String("error", err.Error()))
		}
	}
}
