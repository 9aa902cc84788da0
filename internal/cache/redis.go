// Package cache is the thin Redis client the cache-invalidation handler
// deletes keys through.
package cache

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Deleter deletes cache keys. The invalidation handler depends on this
// interface so tests can observe deletions without Redis.
type Deleter interface {
	Delete(ctx context.Context, keys ...string) error
}

// Client wraps a Redis connection.
type Client struct {
	rdb *redis.Client
}

// New connects to Redis at addr.
func New(addr, password string, db int) *Client {
	return &Client{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// Delete removes the given keys. Deleting a missing key is not an error.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete cache keys: %w", err)
	}
	return nil
}

// Ping checks connectivity, for readiness probes.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}
