package cache

import (
	"context"
	"time"
)

// LayeredCache reads through a small memory cache in front of Redis. Writes
// go to Redis first. Entries live in memory for at most LocalTTL so peers
// sharing the Redis keyspace converge.
type LayeredCache struct {
	local    *MemoryCache
	remote   *RedisCache
	localTTL time.Duration
}

func NewLayeredCache(remote *RedisCache, localEntries int, localTTL time.Duration) *LayeredCache {
	if localTTL <= 0 {
		localTTL = 5 * time.Second
	}
	return &LayeredCache{
		local:    NewMemoryCache(MemoryConfig{MaxEntries: localEntries}),
		remote:   remote,
		localTTL: localTTL,
	}
}

func (lc *LayeredCache) localFor(ttl time.Duration) time.Duration {
	if ttl > 0 && ttl < lc.localTTL {
		return ttl
	}
	return lc.localTTL
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	var raw []byte
	if err := lc.local.Get(ctx, key, &raw); err == nil {
		return decode(raw, dest)
	}
	if err := lc.remote.Get(ctx, key, &raw); err != nil {
		return err
	}
	_ = lc.local.Set(ctx, key, raw, lc.localTTL)
	return decode(raw, dest)
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	if err := lc.remote.Set(ctx, key, data, ttl); err != nil {
		_ = lc.local.Delete(ctx, key)
		return err
	}
	return lc.local.Set(ctx, key, data, lc.localFor(ttl))
}

// SetIfAbsent is decided by Redis alone.
func (lc *LayeredCache) SetIfAbsent(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	_ = lc.local.Delete(ctx, key)
	return lc.remote.SetIfAbsent(ctx, key, value, ttl)
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.local.Delete(ctx, keys...)
	return lc.remote.Delete(ctx, keys...)
}

func (lc *LayeredCache) Keys(ctx context.Context, pattern string) ([]string, error) {
	return lc.remote.Keys(ctx, pattern)
}

func (lc *LayeredCache) Close() error {
	_ = lc.local.Close()
	return lc.remote.Close()
}
