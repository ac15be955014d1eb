package strategy

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/volumebot/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func quote(bid, bidSize, ask, askSize string) domain.Quote {
	return domain.Quote{
		BestBid: domain.PriceLevel{Price: d(bid), Size: d(bidSize)},
		BestAsk: domain.PriceLevel{Price: d(ask), Size: d(askSize)},
		Spread:  d(ask).Sub(d(bid)),
		OK:      true,
	}
}

type fakeBook struct{ q domain.Quote }

func (b *fakeBook) Snapshot() domain.Quote { return b.q }

type fakePlacer struct {
	mu    sync.Mutex
	calls []decimal.Decimal
	fail  bool
}

func (p *fakePlacer) Execute(_ context.Context, _ string, size decimal.Decimal, _ int) domain.PairResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, size)
	return domain.PairResult{
		Buy:  domain.OrderResult{Success: true, ClientOrderID: "b"},
		Sell: domain.OrderResult{Success: !p.fail, ClientOrderID: "s"},
	}
}

type sinkFunc func(domain.PairedTrade)

func (f sinkFunc) Record(t domain.PairedTrade) { f(t) }

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) sleep(ctx context.Context, dur time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.t = c.t.Add(dur)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSizeLeg(t *testing.T) {
	fixed, minSize, minNotional := DefaultFixedLegSize, DefaultMinTradeSize, DefaultMinNotional
	tests := []struct {
		name string
		q    domain.Quote
		want string
	}{
		{"deep book uses fixed size", quote("100000", "5", "100000.01", "5"), "0.00371"},
		{"thin bid caps size", quote("100000", "0.001", "100000.01", "5"), "0.001"},
		{"thin ask caps size", quote("100000", "5", "100000.01", "0.0002"), "0.0002"},
		{"fallback ignores depth", quote("1000", "0.00001", "1000.01", "5"), "0.00006"},
		{"low notional falls back to minimum", quote("1000", "5", "1000.01", "5"), "0.00006"},
		{"exactly min notional keeps size", quote("2000", "0.0025", "2000.01", "5"), "0.0025"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SizeLeg(tt.q, fixed, minSize, minNotional)
			assert.True(t, got.Equal(d(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestStepDwellGating(t *testing.T) {
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	book := &fakeBook{q: quote("100000", "5", "100000.01", "5")}
	placer := &fakePlacer{}
	c := NewController(Config{Symbol: "BTC_USDT_PERP"}, book, placer, quietLogger(), WithClock(clk.now))
	ctx := context.Background()

	assert.Equal(t, OutcomeArmed, c.Step(ctx), "first qualifying cycle arms")
	clk.t = clk.t.Add(509 * time.Millisecond)
	assert.Equal(t, OutcomeArmed, c.Step(ctx))
	assert.Empty(t, placer.calls, "no trade before the dwell elapses")

	// Spread widens: dwell is cleared and must restart.
	book.q = quote("100000", "5", "100000.02", "5")
	assert.Equal(t, OutcomeIdle, c.Step(ctx))
	book.q = quote("100000", "5", "100000.01", "5")
	clk.t = clk.t.Add(10 * time.Millisecond)
	assert.Equal(t, OutcomeArmed, c.Step(ctx))
	clk.t = clk.t.Add(509 * time.Millisecond)
	assert.Equal(t, OutcomeArmed, c.Step(ctx))

	clk.t = clk.t.Add(time.Millisecond)
	assert.Equal(t, OutcomeTraded, c.Step(ctx))
	require.Len(t, placer.calls, 1)
	assert.True(t, placer.calls[0].Equal(d("0.00371")))

	assert.Equal(t, OutcomeArmed, c.Step(ctx), "dwell restarts after a trade")
}

func TestStepNoQuoteIsIdle(t *testing.T) {
	c := NewController(Config{}, &fakeBook{}, &fakePlacer{}, quietLogger())
	assert.Equal(t, OutcomeIdle, c.Step(context.Background()))
}

func TestStepFailedLegKeepsDwell(t *testing.T) {
	clk := &clock{t: time.Unix(0, 0)}
	book := &fakeBook{q: quote("100000", "5", "100000.01", "5")}
	placer := &fakePlacer{fail: true}
	c := NewController(Config{}, book, placer, quietLogger(), WithClock(clk.now))
	ctx := context.Background()

	c.Step(ctx)
	clk.t = clk.t.Add(DefaultMinDwell)
	assert.Equal(t, OutcomeTradeFailed, c.Step(ctx))
	assert.Equal(t, OutcomeTradeFailed, c.Step(ctx), "dwell still satisfied, retries immediately")
	assert.Len(t, placer.calls, 2)
	assert.Zero(t, c.Progress().Trades)

	placer.fail = false
	assert.Equal(t, OutcomeTraded, c.Step(ctx))
}

func TestStepAccumulatesAndRecords(t *testing.T) {
	clk := &clock{t: time.Unix(0, 0)}
	book := &fakeBook{q: quote("100000", "5", "100000.01", "5")}
	var recorded []domain.PairedTrade
	c := NewController(Config{Symbol: "BTC_USDT_PERP", SessionID: "s1"}, book, &fakePlacer{}, quietLogger(),
		WithClock(clk.now),
		WithTradeSink(sinkFunc(func(t domain.PairedTrade) { recorded = append(recorded, t) })),
	)

	c.Step(context.Background())
	clk.t = clk.t.Add(time.Second)
	require.Equal(t, OutcomeTraded, c.Step(context.Background()))

	p := c.Progress()
	assert.True(t, p.BaseVolume.Equal(d("0.00742")), "base %s", p.BaseVolume)
	assert.True(t, p.QuoteVolume.Equal(d("0.00371").Mul(d("200000.01"))), "quote %s", p.QuoteVolume)
	assert.Equal(t, 1, p.Trades)
	assert.Equal(t, clk.t, p.LastTradeAt)

	require.Len(t, recorded, 1)
	assert.Equal(t, "s1", recorded[0].SessionID)
	assert.Equal(t, "b", recorded[0].BuyOrderID)
	assert.Equal(t, "s", recorded[0].SellOrderID)
	assert.True(t, recorded[0].BaseVolume.Equal(d("0.00742")))
}

func TestRunTerminatesExactlyOnce(t *testing.T) {
	clk := &clock{t: time.Unix(0, 0)}
	book := &fakeBook{q: quote("105000", "10", "105000.01", "10")}
	placer := &fakePlacer{}
	hits := 0
	var final domain.Progress

	// 505000 / 105000 ≈ 4.8095 base; legs of 1 give 2 base per trade.
	c := NewController(Config{FixedLegSize: d("1")}, book, placer, quietLogger(),
		WithClock(clk.now),
		WithSleeper(clk.sleep),
		WithOnTarget(func(p domain.Progress) {
			hits++
			final = p
		}),
	)

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, 1, hits)
	assert.Len(t, placer.calls, 3)
	assert.True(t, final.Reached())
	assert.True(t, final.BaseVolume.Equal(d("6")))

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, 1, hits, "hook fires only once")
	assert.Len(t, placer.calls, 3, "no trades after the target")
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	clk := &clock{t: time.Unix(0, 0)}
	c := NewController(Config{}, &fakeBook{}, &fakePlacer{}, quietLogger(), WithSleeper(clk.sleep))
	assert.ErrorIs(t, c.Run(ctx), context.Canceled)
}

func TestTargetBase(t *testing.T) {
	got := TargetBase(DefaultTargetUSD, DefaultReferencePrice)
	assert.True(t, got.GreaterThan(d("4.8095")) && got.LessThan(d("4.8096")), "got %s", got)
	assert.True(t, TargetBase(DefaultTargetUSD, decimal.Zero).IsZero())
}
