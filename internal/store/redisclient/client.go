// Package redisclient is the production ports.StoreClient, a thin wrapper
// over go-redis that speaks the hash-per-key contract the limiter and the
// breaker rely on.
package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps a *redis.Client to satisfy ports.StoreClient.
type Client struct {
	rdb *redis.Client
}

// Config holds the connection settings for the shared store.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// New dials a Redis client. It does not block on connectivity; the first
// store round trip surfaces connection errors.
func New(cfg Config) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Client{rdb: rdb}
}

// NewFromClient wraps an already-constructed *redis.Client, used by tests
// that point go-redis at a miniredis instance.
func NewFromClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

func (c *Client) ReadAll(ctx context.Context, key string) (map[string]string, error) {
	fields, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", key, err)
	}
	return fields, nil
}

func (c *Client) WriteFields(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	if err := c.rdb.HSet(ctx, key, values).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", key, err)
	}
	return nil
}

func (c *Client) SetTTL(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("redis expire %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks connectivity, used at startup to fail fast on misconfiguration.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
