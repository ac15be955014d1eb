package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/volumebot/internal/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streams   map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{published: map[string][][]byte{}, streams: map[string][][]byte{}}
}

func (b *memBus) Publish(_ context.Context, ch string, p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[ch] = append(b.published[ch], p)
	return nil
}

func (b *memBus) StreamAppend(_ context.Context, s string, p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streams[s] = append(b.streams[s], p)
	return nil
}

func (b *memBus) streamLen(s string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams[s])
}

type memQuoteCache struct {
	mu sync.Mutex
	q  map[string]domain.Quote
}

func (c *memQuoteCache) SetQuote(_ context.Context, sym string, q domain.Quote, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.q == nil {
		c.q = map[string]domain.Quote{}
	}
	c.q[sym] = q
	return nil
}

func (c *memQuoteCache) GetQuote(_ context.Context, sym string) (domain.Quote, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.q[sym]
	if !ok {
		return domain.Quote{}, time.Time{}, domain.ErrNotFound
	}
	return q, time.Time{}, nil
}

type staticBook struct{ q domain.Quote }

func (b staticBook) Snapshot() domain.Quote { return b.q }

type failingStore struct {
	mu    sync.Mutex
	calls int
}

func (s *failingStore) Insert(context.Context, domain.PairedTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return errors.New("connection reset")
}

func (s *failingStore) ListBySession(context.Context, string, domain.ListOpts) ([]domain.PairedTrade, error) {
	return nil, nil
}

type memArchive struct {
	mu  sync.Mutex
	ids []string
}

func (a *memArchive) Record(t domain.PairedTrade) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids = append(a.ids, t.ID)
}

type memAlerts struct {
	mu     sync.Mutex
	events []string
}

func (a *memAlerts) Enqueue(event, _, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func sampleQuote() domain.Quote {
	return domain.Quote{
		BestBid: domain.PriceLevel{Price: decimal.RequireFromString("100"), Size: decimal.NewFromInt(1)},
		BestAsk: domain.PriceLevel{Price: decimal.RequireFromString("100.01"), Size: decimal.NewFromInt(2)},
		Spread:  decimal.RequireFromString("0.01"),
		OK:      true,
	}
}

func TestQuoteServiceMirrorsQuote(t *testing.T) {
	cache := &memQuoteCache{}
	bus := newMemBus()
	s := NewQuoteService("BTC_USDT_PERP", staticBook{q: sampleQuote()}, cache, bus, quietLogger())

	s.handle(context.Background(), domain.SpreadChange{Spread: decimal.RequireFromString("0.01"), Time: time.Unix(10, 0)})

	q, _, err := cache.GetQuote(context.Background(), "BTC_USDT_PERP")
	require.NoError(t, err)
	assert.True(t, q.BestAsk.Size.Equal(decimal.NewFromInt(2)))

	require.Len(t, bus.published["quotes:BTC_USDT_PERP"], 1)
	var evt map[string]any
	require.NoError(t, json.Unmarshal(bus.published["quotes:BTC_USDT_PERP"][0], &evt))
	assert.Equal(t, "spread_change", evt["event"])
	assert.Equal(t, "0.01", evt["spread"])
}

func TestQuoteServiceWithoutSinks(t *testing.T) {
	s := NewQuoteService("X", staticBook{}, nil, nil, quietLogger())
	ch := make(chan domain.SpreadChange, 1)
	ch <- domain.SpreadChange{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, ch) }()
	assert.Eventually(t, func() bool { return len(ch) == 0 }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestTradeRecorderFansOut(t *testing.T) {
	store := &failingStore{}
	bus := newMemBus()
	archive := &memArchive{}
	alerts := &memAlerts{}
	r := NewTradeRecorder("BTC_USDT_PERP", store, bus, archive, alerts, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	r.Record(domain.PairedTrade{ID: "t1", Symbol: "BTC_USDT_PERP"})
	r.Record(domain.PairedTrade{ID: "t2", Symbol: "BTC_USDT_PERP"})

	assert.Eventually(t, func() bool { return bus.streamLen("trades:BTC_USDT_PERP") == 2 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 2, store.calls, "journal failures do not stop the other sinks")
	assert.Equal(t, []string{"t1", "t2"}, archive.ids)
	assert.Equal(t, []string{"trade", "trade"}, alerts.events)
}

func TestTradeRecorderDrainsOnShutdown(t *testing.T) {
	archive := &memArchive{}
	r := NewTradeRecorder("X", nil, nil, archive, nil, quietLogger())
	r.Record(domain.PairedTrade{ID: "a"})
	r.Record(domain.PairedTrade{ID: "b"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Run(ctx))
	assert.ElementsMatch(t, []string{"a", "b"}, archive.ids)
}

func TestTradeRecorderRecordNeverBlocks(t *testing.T) {
	r := NewTradeRecorder("X", nil, nil, nil, nil, quietLogger())
	for i := 0; i < recorderQueueSize+10; i++ {
		r.Record(domain.PairedTrade{})
	}
	assert.Len(t, r.queue, recorderQueueSize)
}

type memAudit struct {
	mu     sync.Mutex
	events []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memAudit) list() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

func TestAuditor(t *testing.T) {
	store := &memAudit{}
	a := NewAuditor(store, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()

	a.Record("feed.subscribed", map[string]any{"symbol": "X"})
	assert.Eventually(t, func() bool { return len(store.list()) == 1 }, time.Second, time.Millisecond)

	var nilAuditor *Auditor
	nilAuditor.Record("ignored", nil)
	NewAuditor(nil, quietLogger()).Record("ignored", nil)
}
