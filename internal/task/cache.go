package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ResultCache remembers the result of a successful task under its
// idempotency key. It only short-circuits replays; the store's own
// idempotency lookups stay authoritative.
type ResultCache interface {
	Get(ctx context.Context, task, key string, dst any) (bool, error)
	Put(ctx context.Context, task, key string, v any) error
}

func cacheKey(task, key string) string { return "task:" + task + ":" + key }

// ─── Redis ───────────────────────────────────────────────────────────────────

// RedisResultCache stores JSON results with SET NX EX so the first writer wins.
type RedisResultCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisResultCache(rdb *redis.Client, ttl time.Duration) *RedisResultCache {
	return &RedisResultCache{rdb: rdb, ttl: ttl}
}

func (c *RedisResultCache) Get(ctx context.Context, task, key string, dst any) (bool, error) {
	raw, err := c.rdb.Get(ctx, cacheKey(task, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", cacheKey(task, key), err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode cached %s result: %w", task, err)
	}
	return true, nil
}

func (c *RedisResultCache) Put(ctx context.Context, task, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s result: %w", task, err)
	}
	if err := c.rdb.SetNX(ctx, cacheKey(task, key), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", cacheKey(task, key), err)
	}
	return nil
}

// ─── Memory ──────────────────────────────────────────────────────────────────

type memoryEntry struct {
	raw     []byte
	expires time.Time
}

// MemoryResultCache is the in-process ResultCache used in --memory mode.
type MemoryResultCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

func NewMemoryResultCache(ttl time.Duration, now func() time.Time) *MemoryResultCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryResultCache{ttl: ttl, now: now, entries: make(map[string]memoryEntry)}
}

func (c *MemoryResultCache) Get(_ context.Context, task, key string, dst any) (bool, error) {
	c.mu.Lock()
	e, ok := c.entries[cacheKey(task, key)]
	if ok && c.ttl > 0 && !c.now().Before(e.expires) {
		delete(c.entries, cacheKey(task, key))
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(e.raw, dst); err != nil {
		return false, fmt.Errorf("decode cached %s result: %w", task, err)
	}
	return true, nil
}

func (c *MemoryResultCache) Put(_ context.Context, task, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s result: %w", task, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	k := cacheKey(task, key)
	if e, ok := c.entries[k]; ok && (c.ttl <= 0 || c.now().Before(e.expires)) {
		return nil
	}
	c.entries[k] = memoryEntry{raw: raw, expires: c.now().Add(c.ttl)}
	return nil
}
