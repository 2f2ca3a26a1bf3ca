package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache remembers which key fingerprints were recently verified. Only
// successful verifications are cached.
type Cache interface {
	Has(ctx context.Context, fingerprint string) (bool, error)
	Add(ctx context.Context, fingerprint string, ttl time.Duration) error
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]time.Time), now: time.Now}
}

// Has reports whether fingerprint was added and has not expired.
func (c *MemoryCache) Has(_ context.Context, fingerprint string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	exp, ok := c.entries[fingerprint]
	if !ok {
		return false, nil
	}
	if !c.now().Before(exp) {
		delete(c.entries, fingerprint)
		return false, nil
	}
	return true, nil
}

// Add records fingerprint for ttl.
func (c *MemoryCache) Add(_ context.Context, fingerprint string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fingerprint] = c.now().Add(ttl)
	return nil
}

const redisKeyPrefix = "watercrawl-mcp:auth:"

// RedisCache shares verified fingerprints between server replicas.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

// DialRedis connects to addr and checks the connection with PING.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return client, nil
}

// Has implements Cache.
func (c *RedisCache) Has(ctx context.Context, fingerprint string) (bool, error) {
	err := c.client.Get(ctx, redisKeyPrefix+fingerprint).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get verified key: %w", err)
	}
	return true, nil
}

// Add implements Cache.
func (c *RedisCache) Add(ctx context.Context, fingerprint string, ttl time.Duration) error {
	if err := c.client.Set(ctx, redisKeyPrefix+fingerprint, "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis set verified key: %w", err)
	}
	return nil
}
