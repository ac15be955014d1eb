package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/volumebot/internal/domain"
)

// streamMaxLen is the approximate maximum length for Redis streams, enforced
// via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// SignalBus implements domain.SignalBus using Redis Pub/Sub for ephemeral
// quote updates and Redis Streams for the durable trade feed.
type SignalBus struct {
	c *Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{c: c}
}

// Publish sends a payload to the namespaced Pub/Sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.c.rdb.Publish(ctx, sb.c.Key(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// StreamAppend appends a payload to the namespaced stream, trimming it to
// roughly streamMaxLen entries.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: sb.c.Key(stream),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{
			"payload": payload,
		},
	}
	if err := sb.c.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
