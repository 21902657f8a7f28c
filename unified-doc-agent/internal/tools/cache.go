package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrCacheMiss is returned by Cache.Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// Cache stores encoded retrieval results. It is shared across runs and must
// be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CacheObserver is notified of cache hits and misses.
type CacheObserver interface {
	CacheHit()
	CacheMiss()
}

// RedisCache keeps results in Redis.
type RedisCache struct {
	client  *redis.Client
	timeout time.Duration
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, timeout: 2 * time.Second}
}

// DialRedis connects and pings. On failure the caller should fall back to an
// in-memory cache; retrieval works without caching.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return data, err
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.Set(ctx, key, value, ttl).Err()
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	if !e.expires.IsZero() && c.now().After(e.expires) {
		delete(c.entries, key)
		return nil, ErrCacheMiss
	}
	return e.value, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}
	c.entries[key] = memoryEntry{value: append([]byte(nil), value...), expires: exp}
	return nil
}

// CachedRetriever memoizes retrieval results and collapses identical
// in-flight lookups from concurrent runs.
type CachedRetriever struct {
	next     Retriever
	cache    Cache
	ttl      time.Duration
	group    singleflight.Group
	observer CacheObserver
	logger   *zap.Logger
}

// lookupTimeout bounds a shared retrieval once no caller can cancel it.
const lookupTimeout = time.Minute

func NewCachedRetriever(next Retriever, cache Cache, ttl time.Duration, observer CacheObserver, logger *zap.Logger) *CachedRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedRetriever{next: next, cache: cache, ttl: ttl, observer: observer, logger: logger}
}

func cacheKey(query string, k int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s", k, query)))
	return "retrieval:" + hex.EncodeToString(sum[:])
}

func (c *CachedRetriever) Retrieve(ctx context.Context, query string, k int) ([]Record, error) {
	key := cacheKey(query, k)
	if data, err := c.cache.Get(ctx, key); err == nil {
		var records []Record
		if err := json.Unmarshal(data, &records); err == nil {
			if c.observer != nil {
				c.observer.CacheHit()
			}
			return records, nil
		}
		c.logger.Warn("discarding undecodable cache entry", zap.String("key", key))
	} else if !errors.Is(err, ErrCacheMiss) {
		c.logger.Warn("cache read failed", zap.Error(err))
	}
	if c.observer != nil {
		c.observer.CacheMiss()
	}

	// The lookup is shared by every caller waiting on key, so it runs detached
	// from any single caller's cancellation.
	ch := c.group.DoChan(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		records, err := c.next.Retrieve(lctx, query, k)
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(records); err == nil {
			if err := c.cache.Set(lctx, key, data, c.ttl); err != nil {
				c.logger.Warn("failed to cache retrieval results", zap.Error(err))
			}
		}
		return records, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]Record), nil
	}
}
