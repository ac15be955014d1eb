package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/volumebot/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. Decimal columns
// travel as text so no precision is lost between shopspring and NUMERIC.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id::text, session_id, symbol, size::text, best_bid::text, best_ask::text,
	base_volume::text, quote_volume::text, buy_order_id, sell_order_id, executed_at`

// Insert journals one paired trade. Re-inserting the same id is a no-op.
func (s *TradeStore) Insert(ctx context.Context, t domain.PairedTrade) error {
	const query = `
		INSERT INTO volume_trades (
			id, session_id, symbol, size, best_bid, best_ask,
			base_volume, quote_volume, buy_order_id, sell_order_id, executed_at
		) VALUES (
			$1, $2, $3, $4::numeric, $5::numeric, $6::numeric,
			$7::numeric, $8::numeric, $9, $10, $11
		) ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.SessionID, t.Symbol,
		t.Size.String(), t.BestBid.String(), t.BestAsk.String(),
		t.BaseVolume.String(), t.QuoteVolume.String(),
		t.BuyOrderID, t.SellOrderID, t.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// ListBySession returns the trades of one session, newest first.
func (s *TradeStore) ListBySession(ctx context.Context, sessionID string, opts domain.ListOpts) ([]domain.PairedTrade, error) {
	query, args := listQuery(
		`SELECT `+tradeSelectCols+` FROM volume_trades WHERE session_id = $1`,
		"executed_at", []any{sessionID}, opts,
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades for session %s: %w", sessionID, err)
	}
	return trades, nil
}

func scanTradeRows(rows pgx.Rows) ([]domain.PairedTrade, error) {
	var trades []domain.PairedTrade
	for rows.Next() {
		var (
			t   domain.PairedTrade
			num [5]string
		)
		if err := rows.Scan(
			&t.ID, &t.SessionID, &t.Symbol,
			&num[0], &num[1], &num[2], &num[3], &num[4],
			&t.BuyOrderID, &t.SellOrderID, &t.ExecutedAt,
		); err != nil {
			return nil, err
		}
		dst := [5]*decimal.Decimal{&t.Size, &t.BestBid, &t.BestAsk, &t.BaseVolume, &t.QuoteVolume}
		for i, s := range num {
			v, err := decimal.NewFromString(s)
			if err != nil {
				return nil, fmt.Errorf("parse numeric column %d: %w", i, err)
			}
			*dst[i] = v
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
