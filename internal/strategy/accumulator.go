package strategy

import (
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/volumebot/internal/domain"
)

// Accumulator tracks traded volume. Add is called from the controller
// goroutine only; Progress may be read from anywhere.
type Accumulator struct {
	cur atomic.Pointer[domain.Progress]
}

// NewAccumulator starts an empty accumulator with the given base-volume
// target.
func NewAccumulator(target decimal.Decimal) *Accumulator {
	a := &Accumulator{}
	a.cur.Store(&domain.Progress{
		BaseVolume:  decimal.Zero,
		QuoteVolume: decimal.Zero,
		Target:      target,
	})
	return a
}

// Add books one filled pair: both legs count toward base volume and the
// quote volume is size·bid + size·ask.
func (a *Accumulator) Add(size, bid, ask decimal.Decimal, at time.Time) domain.Progress {
	prev := a.cur.Load()
	next := domain.Progress{
		BaseVolume:  prev.BaseVolume.Add(size.Mul(decimal.NewFromInt(2))),
		QuoteVolume: prev.QuoteVolume.Add(size.Mul(bid.Add(ask))),
		Target:      prev.Target,
		Trades:      prev.Trades + 1,
		LastTradeAt: at,
	}
	a.cur.Store(&next)
	return next
}

// Progress returns a copy of the current totals.
func (a *Accumulator) Progress() domain.Progress {
	return *a.cur.Load()
}

// TargetBase converts a USD volume target into base units at a fixed
// reference price.
func TargetBase(targetUSD, referencePrice decimal.Decimal) decimal.Decimal {
	if referencePrice.IsZero() {
		return decimal.Zero
	}
	return targetUSD.Div(referencePrice)
}
