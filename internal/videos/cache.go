package videos

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"glgapp.org/internal/obs"
)

// Cache holds the upstream listing for a bounded time. A missing key reads as
// expired. Implementations need not be linearizable: two callers that both
// see an expired entry will both refresh.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, expired bool)
	Set(ctx context.Context, key string, value []byte)
}

// MemoryCache is a process-local TTL cache.
type MemoryCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items map[string]memItem
}

type memItem struct {
	value     []byte
	fetchedAt time.Time
}

// NewMemoryCache returns a cache whose entries expire ttl after Set.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: time.Now, items: make(map[string]memItem)}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return nil, true
	}
	if m.now().Sub(it.fetchedAt) >= m.ttl {
		return it.value, true
	}
	return it.value, false
}

func (m *MemoryCache) Set(_ context.Context, key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = memItem{value: value, fetchedAt: m.now()}
}

// RedisCache shares the listing across replicas. Expiry is delegated to the
// key TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			obs.Warn("video cache read failed", map[string]any{"error": err})
		}
		return nil, true
	}
	return b, false
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte) {
	if err := r.client.Set(ctx, key, value, r.ttl).Err(); err != nil {
		obs.Warn("video cache write failed", map[string]any{"error": err})
	}
}

// NewCache uses redis when it answers a ping and falls back to memory.
func NewCache(ctx context.Context, client *redis.Client, ttl time.Duration) Cache {
	if client != nil {
		if err := client.Ping(ctx).Err(); err == nil {
			return NewRedisCache(client, ttl)
		}
		obs.Warn("redis unavailable, using in-memory video cache", nil)
	}
	return NewMemoryCache(ttl)
}
