package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/volumebot/internal/domain"
)

// unlockLua deletes a lock key only if its value matches the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// refreshLua extends a lock's TTL only if the caller still owns it.
const refreshLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager using SET NX with a TTL and
// token-checked Lua scripts for refresh and release.
type LockManager struct {
	c         *Client
	unlockSc  *redis.Script
	refreshSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		c:         c,
		unlockSc:  redis.NewScript(unlockLua),
		refreshSc: redis.NewScript(refreshLua),
	}
}

// Acquire obtains the lock for key with the given TTL. It returns
// domain.ErrLockHeld if another holder owns it.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (domain.Lease, error) {
	token := uuid.NewString()
	lk := lm.c.Key("lock", key)

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, domain.ErrLockHeld)
	}
	return &lease{lm: lm, key: lk, token: token, ttl: ttl}, nil
}

type lease struct {
	lm    *LockManager
	key   string
	token string
	ttl   time.Duration

	once sync.Once
}

// Refresh extends the TTL. It returns domain.ErrLockLost when the key expired
// or now belongs to someone else.
func (l *lease) Refresh(ctx context.Context) error {
	n, err := l.lm.refreshSc.Run(ctx, l.lm.c.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redis: refresh lock %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("redis: refresh lock %s: %w", l.key, domain.ErrLockLost)
	}
	return nil
}

// Release drops the lock if still owned. Safe to call more than once.
func (l *lease) Release() {
	l.once.Do(func() {
		// The caller's context may already be cancelled at shutdown.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.lm.unlockSc.Run(ctx, l.lm.c.rdb, []string{l.key}, l.token).Err()
	})
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
