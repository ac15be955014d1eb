package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"

	"github.com/alanyoungcy/volumebot/internal/domain"
)

const (
	recorderQueueSize = 1024
	drainTimeout      = 10 * time.Second
)

// TradeArchive receives trades for batch archival. Record must not block.
type TradeArchive interface {
	Record(t domain.PairedTrade)
}

// Alerter queues operator notifications. Enqueue must not block.
type Alerter interface {
	Enqueue(event, title, message string)
}

// TradeRecorder journals completed trades, appends them to the trade stream,
// hands them to the archive and raises a trade alert. Every sink is optional.
type TradeRecorder struct {
	symbol  string
	store   domain.TradeStore
	bus     domain.SignalBus
	archive TradeArchive
	alerts  Alerter
	logger  *slog.Logger

	queue chan domain.PairedTrade
}

// NewTradeRecorder creates a TradeRecorder. Nil sinks are skipped.
func NewTradeRecorder(
	symbol string,
	store domain.TradeStore,
	bus domain.SignalBus,
	archive TradeArchive,
	alerts Alerter,
	logger *slog.Logger,
) *TradeRecorder {
	return &TradeRecorder{
		symbol:  symbol,
		store:   store,
		bus:     bus,
		archive: archive,
		alerts:  alerts,
		logger:  logger.With(slog.String("component", "trade_recorder")),
		queue:   make(chan domain.PairedTrade, recorderQueueSize),
	}
}

// Record queues a trade without blocking the caller.
func (r *TradeRecorder) Record(t domain.PairedTrade) {
	select {
	case r.queue <- t:
	default:
		r.logger.Warn("trade queue full, dropping", slog.String("trade_id", t.ID))
	}
}

// Run processes queued trades until ctx is cancelled, then drains what is
// left with a bounded timeout.
func (r *TradeRecorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
			for {
				select {
				case t := <-r.queue:
					r.handle(drainCtx, t)
				default:
					return nil
				}
			}
		case t := <-r.queue:
			r.handle(ctx, t)
		}
	}
}

func (r *TradeRecorder) handle(ctx context.Context, t domain.PairedTrade) {
	if r.store != nil {
		if err := r.store.Insert(ctx, t); err != nil {
			r.logger.WarnContext(ctx, "trade journal insert failed",
				slog.String("trade_id", t.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if r.bus != nil {
		if err := r.bus.StreamAppend(ctx, "trades:"+r.symbol, tradeEvent(t)); err != nil {
			r.logger.WarnContext(ctx, "trade stream append failed",
				slog.String("trade_id", t.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if r.archive != nil {
		r.archive.Record(t)
	}

	if r.alerts != nil {
		r.alerts.Enqueue("trade",
			fmt.Sprintf("Volume trade %s", t.Symbol),
			fmt.Sprintf("size %s @ %s/%s, quote volume %s",
				t.Size.String(), t.BestBid.String(), t.BestAsk.String(), t.QuoteVolume.StringFixed(2)),
		)
	}
}

func tradeEvent(t domain.PairedTrade) []byte {
	evt, _ := json.Marshal(map[string]any{
		"event":         "paired_trade",
		"trade_id":      t.ID,
		"session_id":    t.SessionID,
		"symbol":        t.Symbol,
		"size":          t.Size,
		"best_bid":      t.BestBid,
		"best_ask":      t.BestAsk,
		"base_volume":   t.BaseVolume,
		"quote_volume":  t.QuoteVolume,
		"buy_order_id":  t.BuyOrderID,
		"sell_order_id": t.SellOrderID,
		"timestamp":     t.ExecutedAt.UTC().Format(time.RFC3339Nano),
	})
	return evt
}
