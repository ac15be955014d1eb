// Package strategy decides when to trade and how much. The controller waits
// for the spread to stay inside a threshold for a minimum dwell time, then
// crosses the book with a paired buy and sell until a volume target is met.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/volumebot/internal/clock"
	"github.com/alanyoungcy/volumebot/internal/domain"
)

// Defaults match the production tuning of the volume loop.
var (
	DefaultSpreadThreshold = decimal.RequireFromString("0.0111")
	DefaultFixedLegSize    = decimal.RequireFromString("0.00371")
	DefaultMinTradeSize    = decimal.RequireFromString("0.00006")
	DefaultMinNotional     = decimal.NewFromInt(5)
	DefaultTargetUSD       = decimal.NewFromInt(505000)
	DefaultReferencePrice  = decimal.NewFromInt(105000)
)

const (
	DefaultMinDwell     = 510 * time.Millisecond
	DefaultPollInterval = 131 * time.Millisecond
)

// BookReader exposes a consistent top-of-book.
type BookReader interface {
	Snapshot() domain.Quote
}

// PairPlacer submits both legs of a trade and reports both outcomes.
type PairPlacer interface {
	Execute(ctx context.Context, symbol string, size decimal.Decimal, subaccount int) domain.PairResult
}

// TradeSink receives completed trades. Record must not block.
type TradeSink interface {
	Record(t domain.PairedTrade)
}

// Config holds the trading parameters.
type Config struct {
	Symbol          string
	Subaccount      int
	SessionID       string
	SpreadThreshold decimal.Decimal
	MinDwell        time.Duration
	PollInterval    time.Duration
	FixedLegSize    decimal.Decimal
	MinTradeSize    decimal.Decimal
	MinNotional     decimal.Decimal
	TargetUSD       decimal.Decimal
	ReferencePrice  decimal.Decimal
}

// Outcome is the result of one controller cycle.
type Outcome int

const (
	OutcomeIdle Outcome = iota
	OutcomeArmed
	OutcomeTraded
	OutcomeTradeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIdle:
		return "idle"
	case OutcomeArmed:
		return "armed"
	case OutcomeTraded:
		return "traded"
	case OutcomeTradeFailed:
		return "trade_failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Controller runs the dwell-gated trading loop. Step and Run must be called
// from a single goroutine.
type Controller struct {
	cfg    Config
	book   BookReader
	placer PairPlacer
	sink   TradeSink
	acc    *Accumulator
	logger *slog.Logger

	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	onTarget func(domain.Progress)

	armed     bool
	armedAt   time.Time
	finishOne sync.Once
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithSleeper replaces the context-aware sleep between cycles.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) { c.sleep = sleep }
}

// WithTradeSink registers a sink for completed trades.
func WithTradeSink(s TradeSink) Option {
	return func(c *Controller) { c.sink = s }
}

// WithOnTarget registers the hook invoked once the target is reached. The
// process entrypoint wires it to an immediate exit.
func WithOnTarget(fn func(domain.Progress)) Option {
	return func(c *Controller) { c.onTarget = fn }
}

// NewController creates a Controller. Zero-valued config fields take the
// package defaults.
func NewController(cfg Config, book BookReader, placer PairPlacer, logger *slog.Logger, opts ...Option) *Controller {
	cfg = withDefaults(cfg)
	c := &Controller{
		cfg:    cfg,
		book:   book,
		placer: placer,
		acc:    NewAccumulator(TargetBase(cfg.TargetUSD, cfg.ReferencePrice)),
		logger: logger.With(slog.String("component", "controller"), slog.String("symbol", cfg.Symbol)),
		now:    time.Now,
		sleep:  clock.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func withDefaults(cfg Config) Config {
	if cfg.SpreadThreshold.IsZero() {
		cfg.SpreadThreshold = DefaultSpreadThreshold
	}
	if cfg.MinDwell <= 0 {
		cfg.MinDwell = DefaultMinDwell
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.FixedLegSize.IsZero() {
		cfg.FixedLegSize = DefaultFixedLegSize
	}
	if cfg.MinTradeSize.IsZero() {
		cfg.MinTradeSize = DefaultMinTradeSize
	}
	if cfg.MinNotional.IsZero() {
		cfg.MinNotional = DefaultMinNotional
	}
	if cfg.TargetUSD.IsZero() {
		cfg.TargetUSD = DefaultTargetUSD
	}
	if cfg.ReferencePrice.IsZero() {
		cfg.ReferencePrice = DefaultReferencePrice
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	return cfg
}

// Progress returns the current volume totals. Safe for concurrent use.
func (c *Controller) Progress() domain.Progress {
	return c.acc.Progress()
}

// Run cycles until the target is reached or ctx ends. On reaching the target
// it logs the final totals, calls the OnTarget hook exactly once and returns
// nil.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("controller started",
		slog.String("session_id", c.cfg.SessionID),
		slog.String("target_base", c.acc.Progress().Target.StringFixed(5)),
		slog.String("spread_threshold", c.cfg.SpreadThreshold.String()),
	)
	for {
		if c.acc.Progress().Reached() {
			c.finish()
			return nil
		}
		c.Step(ctx)
		if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
			return err
		}
	}
}

// Step runs one decision cycle against the current book.
func (c *Controller) Step(ctx context.Context) Outcome {
	q := c.book.Snapshot()
	if !q.OK || q.Spread.GreaterThan(c.cfg.SpreadThreshold) {
		c.armed = false
		return OutcomeIdle
	}

	now := c.now()
	if !c.armed {
		c.armed = true
		c.armedAt = now
	}
	if now.Sub(c.armedAt) < c.cfg.MinDwell {
		return OutcomeArmed
	}

	size := SizeLeg(q, c.cfg.FixedLegSize, c.cfg.MinTradeSize, c.cfg.MinNotional)
	res := c.placer.Execute(ctx, c.cfg.Symbol, size, c.cfg.Subaccount)
	if !res.Filled() {
		return OutcomeTradeFailed
	}

	at := c.now()
	p := c.acc.Add(size, q.BestBid.Price, q.BestAsk.Price, at)
	c.armed = false

	c.logger.Info("volume",
		slog.String("usd", p.QuoteVolume.StringFixed(2)),
		slog.String("base", p.BaseVolume.StringFixed(5)),
		slog.String("size", size.String()),
		slog.Int("trades", p.Trades),
	)

	if c.sink != nil {
		c.sink.Record(domain.PairedTrade{
			ID:          uuid.NewString(),
			SessionID:   c.cfg.SessionID,
			Symbol:      c.cfg.Symbol,
			Size:        size,
			BestBid:     q.BestBid.Price,
			BestAsk:     q.BestAsk.Price,
			BaseVolume:  size.Mul(decimal.NewFromInt(2)),
			QuoteVolume: size.Mul(q.BestBid.Price.Add(q.BestAsk.Price)),
			BuyOrderID:  res.Buy.ClientOrderID,
			SellOrderID: res.Sell.ClientOrderID,
			ExecutedAt:  at,
		})
	}
	return OutcomeTraded
}

func (c *Controller) finish() {
	c.finishOne.Do(func() {
		p := c.acc.Progress()
		c.logger.Info("target reached",
			slog.String("base", p.BaseVolume.StringFixed(5)),
			slog.String("usd", p.QuoteVolume.StringFixed(2)),
			slog.Int("trades", p.Trades),
		)
		if c.onTarget != nil {
			c.onTarget(p)
		}
	})
}

