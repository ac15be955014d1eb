package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/volumebot/internal/domain"
)

// QuoteCache implements domain.QuoteCache using Redis hashes. The latest
// top-of-book of a symbol lives at "quote:{symbol}".
type QuoteCache struct {
	c *Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{c: c}
}

// SetQuote stores the quote and its observation time.
func (qc *QuoteCache) SetQuote(ctx context.Context, symbol string, q domain.Quote, ts time.Time) error {
	if err := qc.c.rdb.HSet(ctx, qc.c.Key("quote", symbol), encodeQuote(q, ts)).Err(); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", symbol, err)
	}
	return nil
}

// GetQuote returns the cached quote. It returns domain.ErrNotFound when the
// symbol has never been cached.
func (qc *QuoteCache) GetQuote(ctx context.Context, symbol string) (domain.Quote, time.Time, error) {
	vals, err := qc.c.rdb.HGetAll(ctx, qc.c.Key("quote", symbol)).Result()
	if err != nil {
		return domain.Quote{}, time.Time{}, fmt.Errorf("redis: get quote %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.Quote{}, time.Time{}, domain.ErrNotFound
	}
	q, ts, err := decodeQuote(vals)
	if err != nil {
		return domain.Quote{}, time.Time{}, fmt.Errorf("redis: get quote %s: %w", symbol, err)
	}
	return q, ts, nil
}

func encodeQuote(q domain.Quote, ts time.Time) map[string]any {
	return map[string]any{
		"bid":      q.BestBid.Price.String(),
		"bid_size": q.BestBid.Size.String(),
		"ask":      q.BestAsk.Price.String(),
		"ask_size": q.BestAsk.Size.String(),
		"spread":   q.Spread.String(),
		"ts":       strconv.FormatInt(ts.UnixNano(), 10),
	}
}

func decodeQuote(vals map[string]string) (domain.Quote, time.Time, error) {
	fields := [...]string{"bid", "bid_size", "ask", "ask_size", "spread"}
	var parsed [len(fields)]decimal.Decimal
	for i, f := range fields {
		s, ok := vals[f]
		if !ok {
			return domain.Quote{}, time.Time{}, fmt.Errorf("missing field %q: %w", f, domain.ErrNotFound)
		}
		v, err := decimal.NewFromString(s)
		if err != nil {
			return domain.Quote{}, time.Time{}, fmt.Errorf("parse %s: %w", f, err)
		}
		parsed[i] = v
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.Quote{}, time.Time{}, fmt.Errorf("parse ts: %w", err)
	}
	return domain.Quote{
		BestBid: domain.PriceLevel{Price: parsed[0], Size: parsed[1]},
		BestAsk: domain.PriceLevel{Price: parsed[2], Size: parsed[3]},
		Spread:  parsed[4],
		OK:      true,
	}, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)
