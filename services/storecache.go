package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

// StoreCache memoizes tenant -> remote store id. Losing it is harmless: the
// search_stores collection is the source of truth.
type StoreCache interface {
	Get(ctx context.Context, tenantKey string) (string, bool)
	Set(ctx context.Context, tenantKey, storeID string)
	Invalidate(ctx context.Context, tenantKey string)
}

// MemoryStoreCache is a process-local LRU with TTL
type MemoryStoreCache struct {
	lru *expirable.LRU[string, string]
}

func NewMemoryStoreCache(size int, ttl time.Duration) *MemoryStoreCache {
	if size <= 0 {
		size = 1024
	}
	return &MemoryStoreCache{lru: expirable.NewLRU[string, string](size, nil, ttl)}
}

func (c *MemoryStoreCache) Get(_ context.Context, tenantKey string) (string, bool) {
	return c.lru.Get(tenantKey)
}

func (c *MemoryStoreCache) Set(_ context.Context, tenantKey, storeID string) {
	c.lru.Add(tenantKey, storeID)
}

func (c *MemoryStoreCache) Invalidate(_ context.Context, tenantKey string) {
	c.lru.Remove(tenantKey)
}

const storeCachePrefix = "civic-ingest:store:"

// RedisStoreCache shares the mapping between worker processes. Redis errors
// degrade to cache misses.
type RedisStoreCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisStoreCache(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisStoreCache {
	return &RedisStoreCache{rdb: rdb, ttl: ttl, logger: logger}
}

func (c *RedisStoreCache) Get(ctx context.Context, tenantKey string) (string, bool) {
	val, err := c.rdb.Get(ctx, storeCachePrefix+tenantKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Store cache read failed", "tenant", tenantKey, "error", err)
		}
		return "", false
	}
	return val, val != ""
}

func (c *RedisStoreCache) Set(ctx context.Context, tenantKey, storeID string) {
	if err := c.rdb.Set(ctx, storeCachePrefix+tenantKey, storeID, c.ttl).Err(); err != nil {
		c.logger.Warn("Store cache write failed", "tenant", tenantKey, "error", err)
	}
}

func (c *RedisStoreCache) Invalidate(ctx context.Context, tenantKey string) {
	if err := c.rdb.Del(ctx, storeCachePrefix+tenantKey).Err(); err != nil {
		c.logger.Warn("Store cache invalidate failed", "tenant", tenantKey, "error", err)
	}
}
