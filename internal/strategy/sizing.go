package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/volumebot/internal/domain"
)

// SizeLeg picks the per-leg size for a quote: the smallest of the fixed leg
// size and the size resting at the best bid and best ask. When that size is
// worth less than minNotional at the best bid, minSize is used instead,
// whatever the depth.
func SizeLeg(q domain.Quote, fixed, minSize, minNotional decimal.Decimal) decimal.Decimal {
	size := decimal.Min(fixed, q.BestBid.Size, q.BestAsk.Size)
	if size.Mul(q.BestBid.Price).LessThan(minNotional) {
		return minSize
	}
	return size
}
