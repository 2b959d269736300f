package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultTickerTTL bounds ticker staleness. Grid decisions tolerate a few
// seconds of lag but not more.
const DefaultTickerTTL = 5 * time.Second

// TickerCache stores recent ticker snapshots keyed by pair.
type TickerCache interface {
	Get(ctx context.Context, pair string) (*Ticker, bool)
	Set(ctx context.Context, pair string, ticker *Ticker) error
	Close() error
}

// memoryTickerCache is an in-process TTL cache used when no Redis is
// configured.
type memoryTickerCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]memoryEntry
}

type memoryEntry struct {
	ticker    *Ticker
	expiresAt time.Time
}

// NewMemoryTickerCache creates an in-process ticker cache with the given
// TTL. A zero ttl uses DefaultTickerTTL.
func NewMemoryTickerCache(ttl time.Duration) TickerCache {
	if ttl <= 0 {
		ttl = DefaultTickerTTL
	}
	return &memoryTickerCache{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
	}
}

func (c *memoryTickerCache) Get(_ context.Context, pair string) (*Ticker, bool) {
	c.mu.RLock()
	entry, ok := c.entries[pair]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.ticker, true
}

func (c *memoryTickerCache) Set(_ context.Context, pair string, ticker *Ticker) error {
	c.mu.Lock()
	c.entries[pair] = memoryEntry{ticker: ticker, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

func (c *memoryTickerCache) Close() error { return nil }

// RedisTickerCache shares ticker snapshots across processes through Redis.
type RedisTickerCache struct {
	client    *redis.Client
	ttl       time.Duration
	keyPrefix string
}

// NewRedisTickerCache creates a Redis-backed ticker cache.
func NewRedisTickerCache(addr, password string, db int, ttl time.Duration) *RedisTickerCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 500 * time.Millisecond,
	})
	return NewRedisTickerCacheWithClient(client, ttl)
}

// NewRedisTickerCacheWithClient wraps an existing client, which lets tests
// inject a mock.
func NewRedisTickerCacheWithClient(client *redis.Client, ttl time.Duration) *RedisTickerCache {
	if ttl <= 0 {
		ttl = DefaultTickerTTL
	}
	return &RedisTickerCache{
		client:    client,
		ttl:       ttl,
		keyPrefix: "gridrun:ticker:",
	}
}

func (c *RedisTickerCache) Get(ctx context.Context, pair string) (*Ticker, bool) {
	result, err := c.client.Get(ctx, c.keyPrefix+pair).Result()
	if err != nil {
		return nil, false
	}

	var ticker Ticker
	if err := json.Unmarshal([]byte(result), &ticker); err != nil {
		return nil, false
	}
	return &ticker, true
}

func (c *RedisTickerCache) Set(ctx context.Context, pair string, ticker *Ticker) error {
	data, err := json.Marshal(ticker)
	if err != nil {
		return fmt.Errorf("failed to marshal ticker for %s: %w", pair, err)
	}
	if err := c.client.Set(ctx, c.keyPrefix+pair, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache ticker for %s: %w", pair, err)
	}
	return nil
}

// Ping verifies the Redis connection.
func (c *RedisTickerCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisTickerCache) Close() error {
	return c.client.Close()
}
