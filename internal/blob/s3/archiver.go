package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/volumebot/internal/domain"
)

const (
	defaultFlushInterval = time.Minute
	defaultMaxBatch      = 500
	archiveQueueSize     = 1024
)

// ArchiverConfig configures a TradeArchiver.
type ArchiverConfig struct {
	Symbol        string
	SessionID     string
	FlushInterval time.Duration
	MaxBatch      int
}

// tradeRecord is one JSONL line.
type tradeRecord struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	Symbol      string          `json:"symbol"`
	Size        decimal.Decimal `json:"size"`
	BestBid     decimal.Decimal `json:"best_bid"`
	BestAsk     decimal.Decimal `json:"best_ask"`
	BaseVolume  decimal.Decimal `json:"base_volume"`
	QuoteVolume decimal.Decimal `json:"quote_volume"`
	BuyOrderID  string          `json:"buy_order_id"`
	SellOrderID string          `json:"sell_order_id"`
	ExecutedAt  time.Time       `json:"executed_at"`
}

func newTradeRecord(t domain.PairedTrade) tradeRecord {
	return tradeRecord{
		ID:          t.ID,
		SessionID:   t.SessionID,
		Symbol:      t.Symbol,
		Size:        t.Size,
		BestBid:     t.BestBid,
		BestAsk:     t.BestAsk,
		BaseVolume:  t.BaseVolume,
		QuoteVolume: t.QuoteVolume,
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		ExecutedAt:  t.ExecutedAt.UTC(),
	}
}

// TradeArchiver buffers completed trades and uploads them as numbered JSONL
// objects under trades/{symbol}/{session}/. A batch is flushed on every tick
// of FlushInterval, when it reaches MaxBatch, and once more on shutdown.
type TradeArchiver struct {
	writer domain.BlobWriter
	cfg    ArchiverConfig
	logger *slog.Logger

	in  chan domain.PairedTrade
	buf []tradeRecord
	seq int
}

// NewTradeArchiver creates a TradeArchiver. Run must be started for Record
// to have any effect beyond queueing.
func NewTradeArchiver(writer domain.BlobWriter, cfg ArchiverConfig, logger *slog.Logger) *TradeArchiver {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultMaxBatch
	}
	return &TradeArchiver{
		writer: writer,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "trade_archiver")),
		in:     make(chan domain.PairedTrade, archiveQueueSize),
	}
}

// Record queues a trade without blocking. When the queue is full the trade
// is dropped from the archive (it is still journaled elsewhere).
func (a *TradeArchiver) Record(t domain.PairedTrade) {
	select {
	case a.in <- t:
	default:
		a.logger.Warn("archive queue full, dropping trade", slog.String("trade_id", t.ID))
	}
}

// Run drains the queue until ctx is cancelled, then flushes what remains.
func (a *TradeArchiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.drainQueue()
			flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := a.flush(flushCtx); err != nil {
				a.logger.Error("final archive flush failed", slog.String("error", err.Error()))
			}
			return nil
		case t := <-a.in:
			a.buf = append(a.buf, newTradeRecord(t))
			if len(a.buf) >= a.cfg.MaxBatch {
				a.flushLogged(ctx)
			}
		case <-ticker.C:
			a.flushLogged(ctx)
		}
	}
}

func (a *TradeArchiver) drainQueue() {
	for {
		select {
		case t := <-a.in:
			a.buf = append(a.buf, newTradeRecord(t))
		default:
			return
		}
	}
}

func (a *TradeArchiver) flushLogged(ctx context.Context) {
	if err := a.flush(ctx); err != nil {
		a.logger.Warn("archive flush failed, will retry", slog.String("error", err.Error()), slog.Int("pending", len(a.buf)))
	}
}

// flush uploads the buffered batch. On failure the batch is kept for the
// next attempt.
func (a *TradeArchiver) flush(ctx context.Context) error {
	if len(a.buf) == 0 {
		return nil
	}
	data, err := marshalJSONL(a.buf)
	if err != nil {
		return fmt.Errorf("s3blob: archive marshal: %w", err)
	}
	path := archivePath(a.cfg.Symbol, a.cfg.SessionID, a.seq)
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), "application/x-ndjson"); err != nil {
		return fmt.Errorf("s3blob: archive upload: %w", err)
	}
	a.logger.Info("trades archived", slog.String("path", path), slog.Int("count", len(a.buf)))
	a.seq++
	a.buf = a.buf[:0]
	return nil
}

// archivePath builds the object key of one batch, e.g.
//
//	trades/BTC_USDT_PERP/6f1c.../000003.jsonl
func archivePath(symbol, session string, seq int) string {
	return fmt.Sprintf("trades/%s/%s/%06d.jsonl", symbol, session, seq)
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
