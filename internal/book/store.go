// Package book keeps the live two-sided orderbook for a single symbol. The
// feed goroutine is the only writer; any number of goroutines may read a
// consistent top-of-book through Snapshot.
package book

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/volumebot/internal/domain"
)

// DefaultSpreadInterval is the minimum time between two spread-change events.
const DefaultSpreadInterval = time.Second

// spreadBuffer is the capacity of the spread-change channel. Events are
// dropped when the consumer falls this far behind.
const spreadBuffer = 64

// Store owns the bid and ask maps and the derived spread. Mutations are
// serialized by a write lock and full snapshots are swapped in as whole maps,
// so a reader never sees a partially applied snapshot.
type Store struct {
	mu     sync.RWMutex
	bids   map[string]domain.PriceLevel
	asks   map[string]domain.PriceLevel
	spread decimal.Decimal
	quoted bool

	// spread-change throttle state, guarded by mu.
	interval    time.Duration
	lastEmitted decimal.Decimal
	lastEmitAt  time.Time
	emittedOnce bool
	changes     chan domain.SpreadChange
	now         func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithSpreadInterval overrides the spread-change throttle interval.
func WithSpreadInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		bids:     make(map[string]domain.PriceLevel),
		asks:     make(map[string]domain.PriceLevel),
		interval: DefaultSpreadInterval,
		changes:  make(chan domain.SpreadChange, spreadBuffer),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SpreadChanges returns the channel on which throttled spread-change events
// are delivered. The store never blocks on it.
func (s *Store) SpreadChanges() <-chan domain.SpreadChange {
	return s.changes
}

// ApplySnapshot replaces both sides of the book. The new maps are built
// before the lock is taken and installed together.
func (s *Store) ApplySnapshot(bids, asks []domain.PriceLevel) {
	newBids := buildSide(bids)
	newAsks := buildSide(asks)

	s.mu.Lock()
	s.bids = newBids
	s.asks = newAsks
	ev, emit := s.recalcLocked()
	s.mu.Unlock()

	if emit {
		s.publish(ev)
	}
}

// ApplyDelta applies updates in order. A zero size removes the level (a no-op
// when the price is absent); anything else upserts it. The spread is
// recomputed after every entry.
func (s *Store) ApplyDelta(updates []domain.LevelUpdate) {
	for _, u := range updates {
		s.mu.Lock()
		side := s.asks
		if u.Side == domain.SideBuy {
			side = s.bids
		}
		key := priceKey(u.Price)
		if u.Size.IsZero() {
			delete(side, key)
		} else {
			side[key] = domain.PriceLevel{Price: u.Price, Size: u.Size}
		}
		ev, emit := s.recalcLocked()
		s.mu.Unlock()

		if emit {
			s.publish(ev)
		}
	}
}

// Reset clears both sides of the book.
func (s *Store) Reset() {
	s.mu.Lock()
	s.bids = make(map[string]domain.PriceLevel)
	s.asks = make(map[string]domain.PriceLevel)
	s.spread = decimal.Zero
	s.quoted = false
	s.mu.Unlock()
}

// Snapshot returns the best bid, best ask, and spread as of one instant.
func (s *Store) Snapshot() domain.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.quoted {
		return domain.Quote{}
	}
	bid, _ := bestBid(s.bids)
	ask, _ := bestAsk(s.asks)
	return domain.Quote{
		BestBid: bid,
		BestAsk: ask,
		Spread:  s.spread,
		OK:      true,
	}
}

// Depth returns the number of price levels on each side.
func (s *Store) Depth() (bids, asks int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bids), len(s.asks)
}

// recalcLocked recomputes the cached spread and decides whether a
// spread-change event is due. Caller must hold s.mu for writing.
func (s *Store) recalcLocked() (domain.SpreadChange, bool) {
	bid, okBid := bestBid(s.bids)
	ask, okAsk := bestAsk(s.asks)
	if !okBid || !okAsk {
		s.spread = decimal.Zero
		s.quoted = false
		return domain.SpreadChange{}, false
	}
	s.spread = ask.Price.Sub(bid.Price)
	s.quoted = true

	now := s.now()
	if s.emittedOnce && s.spread.Equal(s.lastEmitted) {
		return domain.SpreadChange{}, false
	}
	if s.emittedOnce && now.Sub(s.lastEmitAt) < s.interval {
		return domain.SpreadChange{}, false
	}
	s.emittedOnce = true
	s.lastEmitted = s.spread
	s.lastEmitAt = now
	return domain.SpreadChange{
		Spread:  s.spread,
		BestBid: bid.Price,
		BestAsk: ask.Price,
		Time:    now,
	}, true
}

func (s *Store) publish(ev domain.SpreadChange) {
	select {
	case s.changes <- ev:
	default:
	}
}

func buildSide(levels []domain.PriceLevel) map[string]domain.PriceLevel {
	side := make(map[string]domain.PriceLevel, len(levels))
	for _, lvl := range levels {
		if lvl.Size.IsZero() {
			continue
		}
		side[priceKey(lvl.Price)] = lvl
	}
	return side
}

// priceKey normalizes a price so that 100, 100.0 and "100.00" share a key.
func priceKey(p decimal.Decimal) string {
	return p.String()
}

func bestBid(side map[string]domain.PriceLevel) (domain.PriceLevel, bool) {
	var best domain.PriceLevel
	found := false
	for _, lvl := range side {
		if !found || lvl.Price.GreaterThan(best.Price) {
			best = lvl
			found = true
		}
	}
	return best, found
}

func bestAsk(side map[string]domain.PriceLevel) (domain.PriceLevel, bool) {
	var best domain.PriceLevel
	found := false
	for _, lvl := range side {
		if !found || lvl.Price.LessThan(best.Price) {
			best = lvl
			found = true
		}
	}
	return best, found
}
