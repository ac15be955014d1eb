// Package redis implements the domain cache, lock and bus interfaces with
// go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	// KeyPrefix namespaces every key written by this process, e.g. "volumebot:".
	KeyPrefix string
}

// Client wraps a go-redis Client and applies the key namespace.
type Client struct {
	rdb    redis.UniversalClient
	prefix string
}

// New creates a Client and pings the server. It returns an error if the
// connection cannot be established.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}
	return NewFromUniversal(rdb, cfg.KeyPrefix), nil
}

// NewFromUniversal wraps an existing go-redis client without pinging it.
func NewFromUniversal(rdb redis.UniversalClient, keyPrefix string) *Client {
	return &Client{rdb: rdb, prefix: keyPrefix}
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key joins parts with ':' under the configured prefix.
func (c *Client) Key(parts ...string) string {
	return c.prefix + strings.Join(parts, ":")
}
