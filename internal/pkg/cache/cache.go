package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/docsignal/DocSignal/internal/pkg/env"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Store is the minimal key/value surface the cache component needs. The
// production store is Redis; tests use the in-memory store with an
// injected clock.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Incr(ctx context.Context, key string) (int64, error)
}

// Cache wraps a Store with an explicit get-or-fetch / invalidate contract
// so callers never talk to module-level mutable state directly.
type Cache struct {
	store Store
}

func New(store Store) *Cache {
	return &Cache{store: store}
}

func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	return c.store.Get(ctx, key)
}

func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.store.Set(ctx, key, value, ttl)
}

// GetOrFetch returns the cached value for key, invoking fetch and storing
// the result on a miss. Fetch errors are returned without polluting the
// cache.
func (c *Cache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch func(context.Context) (string, error)) (string, error) {
	val, err := c.store.Get(ctx, key)
	if err == nil {
		return val, nil
	}
	if !errors.Is(err, ErrMiss) {
		return "", err
	}

	val, err = fetch(ctx)
	if err != nil {
		return "", err
	}
	if err := c.store.Set(ctx, key, val, ttl); err != nil {
		return "", err
	}
	return val, nil
}

func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	return c.store.Del(ctx, keys...)
}

func (c *Cache) Incr(ctx context.Context, key string) (int64, error) {
	return c.store.Incr(ctx, key)
}

// --- Redis store ---

type redisStore struct {
	client *redis.Client
}

// NewRedisStore wraps a Redis client as a Store.
func NewRedisStore(client *redis.Client) Store {
	return &redisStore{client: client}
}

func (s *redisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrMiss
	}
	return val, err
}

func (s *redisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *redisStore) Del(ctx context.Context, keys ...string) error {
	return s.client.Del(ctx, keys...).Err()
}

func (s *redisStore) Incr(ctx context.Context, key string) (int64, error) {
	return s.client.Incr(ctx, key).Result()
}

// --- In-memory store ---

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore is a Store backed by a map, with an injected clock so TTL
// behavior is deterministic in tests.
type MemoryStore struct {
	mu      sync.Mutex
	clock   func() time.Time
	entries map[string]memoryEntry
}

func NewMemoryStore(clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{
		clock:   clock,
		entries: make(map[string]memoryEntry),
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return "", ErrMiss
	}
	if !entry.expiresAt.IsZero() && !s.clock().Before(entry.expiresAt) {
		delete(s.entries, key)
		return "", ErrMiss
	}
	return entry.value, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = s.clock().Add(ttl)
	}
	s.entries[key] = entry
	return nil
}

func (s *MemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}

func (s *MemoryStore) Incr(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.entries[key]
	var n int64
	if entry.value != "" {
		if _, err := fmt.Sscanf(entry.value, "%d", &n); err != nil {
			return 0, fmt.Errorf("cache: non-numeric value for %s", key)
		}
	}
	n++
	entry.value = fmt.Sprintf("%d", n)
	s.entries[key] = entry
	return n, nil
}

// --- Process-wide setup, mirrors the Redis connection lifecycle ---

var (
	client       *redis.Client
	defaultCache *Cache
)

// SetupCache initializes the connection to the Redis/Dragonfly cache server.
func SetupCache() {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnv("CACHE_PORT", "6379")

	client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: "",
		DB:       0,
	})

	pong, err := client.Ping(context.Background()).Result()
	if err != nil {
		log.Printf("Warning: Could not connect to cache server: %v", err)
	} else {
		log.Printf("Successfully connected to cache server: %s", pong)
	}

	defaultCache = New(NewRedisStore(client))
}

// GetClient returns the Redis client instance.
func GetClient() *redis.Client {
	if client == nil {
		SetupCache()
	}
	return client
}

// Default returns the process-wide cache component.
func Default() *Cache {
	if defaultCache == nil {
		SetupCache()
	}
	return defaultCache
}
