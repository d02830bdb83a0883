package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/IgnatG/langextract-api/internal/common/config"
	"github.com/IgnatG/langextract-api/internal/common/database"
	apperrors "github.com/IgnatG/langextract-api/internal/common/errors"
	"github.com/IgnatG/langextract-api/internal/extraction"
)

const keyPrefix = "extraction_result:"

// Cache is the pluggable result store. Get returns (result, true) on
// a live hit and (zero, false) on a miss. Backend failures come back
// as errors; callers treat them as forced misses.
type Cache interface {
	Get(ctx context.Context, key string) (extraction.Result, bool, error)
	Put(ctx context.Context, key string, result extraction.Result, ttl time.Duration) error
	Backend() string
}

// New builds the cache selected by cfg.Backend. The redis backend
// requires rdb; the others ignore it.
func New(cfg config.CacheConfig, rdb *database.RedisClient) (Cache, error) {
	switch cfg.Backend {
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis cache backend requires a redis client")
		}
		return &redisCache{client: rdb.GetClient()}, nil
	case "memory":
		return newMemoryCache(cfg.MaxSize), nil
	case "disk":
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache dir: %w", err)
		}
		return &diskCache{dir: cfg.Dir}, nil
	case "none":
		return noneCache{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// ==========================
// Redis backend
// ==========================

type redisCache struct {
	client *redis.Client
}

func (c *redisCache) Backend() string { return "redis" }

func (c *redisCache) Get(ctx context.Context, key string) (extraction.Result, bool, error) {
	raw, err := c.client.Get(ctx, keyPrefix+key).Result()
	if err == redis.Nil {
		return extraction.Result{}, false, nil
	}
	if err != nil {
		return extraction.Result{}, false, apperrors.NewCacheBackendError("get", err)
	}
	var result extraction.Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		// A corrupt entry is unrecoverable; drop it and miss.
		c.client.Del(ctx, keyPrefix+key)
		return extraction.Result{}, false, nil
	}
	return result, true, nil
}

func (c *redisCache) Put(ctx context.Context, key string, result extraction.Result, ttl time.Duration) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return apperrors.NewCacheBackendError("put", err)
	}
	if err := c.client.Set(ctx, keyPrefix+key, raw, ttl).Err(); err != nil {
		return apperrors.NewCacheBackendError("put", err)
	}
	return nil
}

// ==========================
// In-memory backend
// ==========================

type memoryEntry struct {
	result    extraction.Result
	expiresAt time.Time
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	order   []string
	maxSize int
	now     func() time.Time
}

func newMemoryCache(maxSize int) *memoryCache {
	return &memoryCache{
		entries: make(map[string]memoryEntry),
		maxSize: maxSize,
		now:     time.Now,
	}
}

func (c *memoryCache) Backend() string { return "memory" }

func (c *memoryCache) Get(ctx context.Context, key string) (extraction.Result, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return extraction.Result{}, false, nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return extraction.Result{}, false, nil
	}
	return entry.result, true, nil
}

func (c *memoryCache) Put(ctx context.Context, key string, result extraction.Result, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		// FIFO eviction once the cap is reached.
		for len(c.entries) >= c.maxSize && len(c.order) > 0 {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = memoryEntry{result: result, expiresAt: c.now().Add(ttl)}
	return nil
}

// ==========================
// On-disk backend
// ==========================

type diskEnvelope struct {
	ExpiresAt int64             `json:"expires_at"`
	Result    extraction.Result `json:"result"`
}

type diskCache struct {
	dir string
}

func (c *diskCache) Backend() string { return "disk" }

func (c *diskCache) path(key string) string {
	// Keys are hex digests, safe as filenames.
	return filepath.Join(c.dir, key+".json")
}

func (c *diskCache) Get(ctx context.Context, key string) (extraction.Result, bool, error) {
	raw, err := os.ReadFile(c.path(key))
	if os.IsNotExist(err) {
		return extraction.Result{}, false, nil
	}
	if err != nil {
		return extraction.Result{}, false, apperrors.NewCacheBackendError("get", err)
	}
	var env diskEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		os.Remove(c.path(key))
		return extraction.Result{}, false, nil
	}
	if time.Now().Unix() > env.ExpiresAt {
		os.Remove(c.path(key))
		return extraction.Result{}, false, nil
	}
	return env.Result, true, nil
}

func (c *diskCache) Put(ctx context.Context, key string, result extraction.Result, ttl time.Duration) error {
	env := diskEnvelope{
		ExpiresAt: time.Now().Add(ttl).Unix(),
		Result:    result,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return apperrors.NewCacheBackendError("put", err)
	}
	tmp := c.path(key) + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return apperrors.NewCacheBackendError("put", err)
	}
	if err := os.Rename(tmp, c.path(key)); err != nil {
		return apperrors.NewCacheBackendError("put", err)
	}
	return nil
}

// ==========================
// Disabled backend
// ==========================

type noneCache struct{}

func (noneCache) Backend() string { return "none" }

func (noneCache) Get(ctx context.Context, key string) (extraction.Result, bool, error) {
	return extraction.Result{}, false, nil
}

func (noneCache) Put(ctx context.Context, key string, result extraction.Result, ttl time.Duration) error {
	return nil
}
