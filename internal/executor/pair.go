// Package executor submits the two legs of a volume trade.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/volumebot/internal/domain"
)

// OrderPlacer submits a single order. Implementations report failures in the
// result instead of returning an error.
type OrderPlacer interface {
	Submit(ctx context.Context, req domain.OrderRequest) domain.OrderResult
}

// PairExecutor places a buy and a sell of equal size at the same time and
// waits for both outcomes.
type PairExecutor struct {
	placer OrderPlacer
	logger *slog.Logger
}

// NewPairExecutor creates a PairExecutor.
func NewPairExecutor(placer OrderPlacer, logger *slog.Logger) *PairExecutor {
	return &PairExecutor{
		placer: placer,
		logger: logger.With(slog.String("component", "pair_executor")),
	}
}

// Execute submits both legs concurrently. A failing leg does not cancel the
// other one; each leg is bounded by the placer's own timeout.
func (e *PairExecutor) Execute(ctx context.Context, symbol string, size decimal.Decimal, subaccount int) domain.PairResult {
	var (
		res   domain.PairResult
		g     errgroup.Group
		start = time.Now()
	)

	g.Go(func() error {
		res.Buy = e.placer.Submit(ctx, domain.OrderRequest{
			Symbol: symbol, Side: domain.SideBuy, Size: size, Subaccount: subaccount,
		})
		return nil
	})
	g.Go(func() error {
		res.Sell = e.placer.Submit(ctx, domain.OrderRequest{
			Symbol: symbol, Side: domain.SideSell, Size: size, Subaccount: subaccount,
		})
		return nil
	})
	_ = g.Wait()

	level := slog.LevelDebug
	if !res.Filled() {
		level = slog.LevelWarn
	}
	e.logger.Log(ctx, level, "pair executed",
		slog.String("size", size.String()),
		slog.Bool("buy_ok", res.Buy.Success),
		slog.Bool("sell_ok", res.Sell.Success),
		slog.Duration("latency", time.Since(start)),
	)
	return res
}
