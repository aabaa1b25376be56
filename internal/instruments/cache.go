package instruments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores resolved instrument tokens keyed by exchange and symbol.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, token string, ttl time.Duration)
}

type memEntry struct {
	token string
	exp   time.Time
}

// MemoryCache is an in-process TTL cache with lazy expiry.
type MemoryCache struct {
	mu sync.RWMutex
	m  map[string]memEntry
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{m: make(map[string]memEntry)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, bool) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		c.mu.Lock()
		delete(c.m, key)
		c.mu.Unlock()
		return "", false
	}
	return e.token, true
}

func (c *MemoryCache) Set(_ context.Context, key, token string, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.m[key] = memEntry{token: token, exp: exp}
	c.mu.Unlock()
}

// RedisCache shares resolved tokens across processes. Cache errors are
// swallowed; a cache miss is always a safe answer.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "signalcast:instruments"
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	v, err := c.client.Get(ctx, c.prefix+":"+key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// treat transient redis failures as misses
			return "", false
		}
		return "", false
	}
	return v, v != ""
}

func (c *RedisCache) Set(ctx context.Context, key, token string, ttl time.Duration) {
	_ = c.client.Set(ctx, c.prefix+":"+key, token, ttl).Err()
}

// LayeredCache checks an in-process L1 before a shared L2, backfilling L1
// on L2 hits.
type LayeredCache struct {
	l1 Cache
	l2 Cache
}

func NewLayeredCache(l1, l2 Cache) *LayeredCache {
	return &LayeredCache{l1: l1, l2: l2}
}

func (c *LayeredCache) Get(ctx context.Context, key string) (string, bool) {
	if v, ok := c.l1.Get(ctx, key); ok {
		return v, true
	}
	if v, ok := c.l2.Get(ctx, key); ok {
		c.l1.Set(ctx, key, v, 0)
		return v, true
	}
	return "", false
}

func (c *LayeredCache) Set(ctx context.Context, key, token string, ttl time.Duration) {
	c.l1.Set(ctx, key, token, ttl)
	c.l2.Set(ctx, key, token, ttl)
}

func cacheKey(exchange, symbol string) string {
	return fmt.Sprintf("%s:%s", exchange, symbol)
}
