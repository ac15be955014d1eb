package domain

import (
	"context"
	"time"
)

// QuoteCache stores the latest top-of-book for external readers.
type QuoteCache interface {
	SetQuote(ctx context.Context, symbol string, q Quote, ts time.Time) error
	GetQuote(ctx context.Context, symbol string) (Quote, time.Time, error)
}

// Lease is a held distributed lock.
type Lease interface {
	// Refresh extends the lease TTL. It returns ErrLockLost if another holder
	// took the key in the meantime.
	Refresh(ctx context.Context) error
	// Release drops the lock. Safe to call more than once.
	Release()
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}
