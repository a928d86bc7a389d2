// Package redisstore wraps the Redis client used as a shared chunk cache.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cryoscope/itslive/internal/observability"
)

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.WriteTimeout = d }
}

type Client struct {
	rdb *redis.Client
}

func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     32,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Get returns nil with no error for a missing key.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET %q: %w", key, err)
	}
	return b, nil
}

func (c *Client) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, val, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}

// ChunkCache adapts a Client to the chunk cache interface. Every operation is
// bounded by opTimeout so a slow Redis cannot stall a tile download.
type ChunkCache struct {
	cli       *Client
	ttl       time.Duration
	opTimeout time.Duration
}

func NewChunkCache(cli *Client, ttl, opTimeout time.Duration) *ChunkCache {
	return &ChunkCache{cli: cli, ttl: ttl, opTimeout: opTimeout}
}

func (cc *ChunkCache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if cc.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, cc.opTimeout)
}

func (cc *ChunkCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := cc.withTimeout(ctx)
	defer cancel()
	b, err := cc.cli.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if b == nil {
		observability.IncChunkCacheMiss()
		return nil, false, nil
	}
	observability.IncChunkCacheHit()
	return b, true, nil
}

func (cc *ChunkCache) Set(ctx context.Context, key string, val []byte) error {
	ctx, cancel := cc.withTimeout(ctx)
	defer cancel()
	return cc.cli.Set(ctx, key, val, cc.ttl)
}
