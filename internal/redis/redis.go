package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"attachflow/internal/config"
)

const pingTimeout = 3 * time.Second

var (
	// ErrCacheMiss mirrors redis.Nil for callers.
	ErrCacheMiss      = redis.Nil
	ErrNotInitialized = errors.New("redis client not initialized")
)

// Client wraps the go-redis client shared by draft storage and dialog notifications.
type Client struct {
	inner *redis.Client
}

// NewRedisClient connects with the configured address and verifies it with a ping.
func NewRedisClient(cfg config.RedisConfig) (*Client, error) {
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port == 0 {
		port = 6379
	}
	return Dial(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Dial connects with explicit options.
func Dial(opts *redis.Options) (*Client, error) {
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return &Client{inner: client}, nil
}

func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c == nil || c.inner == nil {
		return ErrNotInitialized
	}
	return c.inner.Set(ctx, key, value, ttl).Err()
}

// Get returns ErrCacheMiss for absent keys.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	if c == nil || c.inner == nil {
		return nil, ErrNotInitialized
	}
	return c.inner.Get(ctx, key).Bytes()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if c == nil || c.inner == nil {
		return ErrNotInitialized
	}
	if len(keys) == 0 {
		return nil
	}
	return c.inner.Del(ctx, keys...).Err()
}

// Publish sends payload on channel and returns the number of receivers.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	if c == nil || c.inner == nil {
		return 0, ErrNotInitialized
	}
	return c.inner.Publish(ctx, channel, payload).Result()
}

func (c *Client) Close() error {
	if c == nil || c.inner == nil {
		return nil
	}
	return c.inner.Close()
}

// Raw exposes the underlying go-redis client.
func (c *Client) Raw() *redis.Client {
	if c == nil {
		return nil
	}
	return c.inner
}
