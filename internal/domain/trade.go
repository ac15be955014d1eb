package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PairedTrade is a completed buy+sell pair of equal size.
type PairedTrade struct {
	ID          string
	SessionID   string
	Symbol      string
	Size        decimal.Decimal // per leg
	BestBid     decimal.Decimal
	BestAsk     decimal.Decimal
	BaseVolume  decimal.Decimal // 2 × Size
	QuoteVolume decimal.Decimal // Size × (BestBid + BestAsk)
	BuyOrderID  string
	SellOrderID string
	ExecutedAt  time.Time
}

// Progress is an immutable copy of the controller's volume accumulator.
type Progress struct {
	BaseVolume  decimal.Decimal
	QuoteVolume decimal.Decimal
	Target      decimal.Decimal
	Trades      int
	LastTradeAt time.Time
}

// Reached reports whether the accumulated base volume met the target.
func (p Progress) Reached() bool {
	return p.BaseVolume.GreaterThanOrEqual(p.Target)
}
