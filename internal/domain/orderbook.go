package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side names a book side using the venue's order side vocabulary: bids are
// resting "buy" interest and asks are resting "sell" interest.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// PriceLevel is a single price+size entry in an orderbook. A zero size means
// the level is no longer present.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// LevelUpdate is an incremental change to one price level on one side.
type LevelUpdate struct {
	Price decimal.Decimal
	Size  decimal.Decimal // 0 means remove level
	Side  Side
}

// Quote is a consistent top-of-book read taken at a single instant. OK is
// false when either side of the book is empty, in which case Spread is not
// meaningful.
type Quote struct {
	BestBid PriceLevel
	BestAsk PriceLevel
	Spread  decimal.Decimal
	OK      bool
}

// SpreadChange is emitted by the book when the derived spread moved and the
// emission throttle allows another event.
type SpreadChange struct {
	Spread  decimal.Decimal
	BestBid decimal.Decimal
	BestAsk decimal.Decimal
	Time    time.Time
}
