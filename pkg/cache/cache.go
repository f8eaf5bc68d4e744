// Package cache stores computed aggregation results. Redis is used when
// configured; otherwise, or when Redis cannot be reached, a process-local
// map serves instead.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-redis/redis/v8"

	"github.com/nicktill/tinylens/pkg/config"
	"github.com/nicktill/tinylens/pkg/logger"
	"github.com/nicktill/tinylens/pkg/metrics"
)

// ErrMiss is returned by Get for absent or expired keys.
var ErrMiss = errors.New("cache miss")

// Cache is a byte cache with per-entry TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// New connects to Redis when cfg.Addr is set and falls back to memory on
// any connection failure.
func New(cfg config.RedisConfig, log logger.Logger) Cache {
	if cfg.Addr == "" {
		return NewMemory()
	}
	c, err := NewRedis(cfg)
	if err != nil {
		log.Warn("redis unavailable, using in-memory aggregation cache", "addr", cfg.Addr, "error", err)
		return NewMemory()
	}
	log.Info("aggregation cache connected", "addr", cfg.Addr, "db", cfg.DB)
	return c
}

// Key hashes parts into a compact key under prefix.
func Key(prefix string, parts ...string) string {
	return fmt.Sprintf("%s:%016x", prefix, xxhash.Sum64String(strings.Join(parts, "\x00")))
}

// RedisCache is a Cache on a single Redis node.
type RedisCache struct {
	client *redis.Client
}

// NewRedis connects and pings the server.
func NewRedis(cfg config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		metrics.AggregationCacheTotal.WithLabelValues("miss").Inc()
		return nil, ErrMiss
	}
	if err != nil {
		metrics.AggregationCacheTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.AggregationCacheTotal.WithLabelValues("hit").Inc()
	return b, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

type entry struct {
	value   []byte
	expires time.Time
}

// MemoryCache is the process-local fallback. Expired entries are dropped
// lazily on read.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]entry
	now   func() time.Time
}

func NewMemory() *MemoryCache {
	return &MemoryCache{items: make(map[string]entry), now: time.Now}
}

func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		metrics.AggregationCacheTotal.WithLabelValues("miss").Inc()
		return nil, ErrMiss
	}
	if !e.expires.IsZero() && c.now().After(e.expires) {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		metrics.AggregationCacheTotal.WithLabelValues("miss").Inc()
		return nil, ErrMiss
	}
	metrics.AggregationCacheTotal.WithLabelValues("hit").Inc()
	return e.value, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.items[key] = e
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
	return nil
}

// Flush drops every entry.
func (c *MemoryCache) Flush() {
	c.mu.Lock()
	c.items = make(map[string]entry)
	c.mu.Unlock()
}

func (c *MemoryCache) Close() error { return nil }
