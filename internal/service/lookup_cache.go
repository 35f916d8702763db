package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// LookupCacheStore fronts the admin email scan so repeated sign-in
// attempts for the same address do not re-walk every repository.
type LookupCacheStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type NoopLookupCacheStore struct{}

func NewNoopLookupCacheStore() *NoopLookupCacheStore { return &NoopLookupCacheStore{} }

func (s *NoopLookupCacheStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, nil
}

func (s *NoopLookupCacheStore) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

type lookupCacheEntry struct {
	payload   []byte
	expiresAt time.Time
}

type InMemoryLookupCacheStore struct {
	mu      sync.RWMutex
	entries map[string]lookupCacheEntry
}

func NewInMemoryLookupCacheStore() *InMemoryLookupCacheStore {
	return &InMemoryLookupCacheStore{entries: map[string]lookupCacheEntry{}}
}

func (s *InMemoryLookupCacheStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	now := time.Now().UTC()
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if now.After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false, nil
	}
	return append([]byte(nil), entry.payload...), true, nil
}

func (s *InMemoryLookupCacheStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	s.entries[key] = lookupCacheEntry{payload: append([]byte(nil), value...), expiresAt: time.Now().UTC().Add(ttl)}
	s.mu.Unlock()
	return nil
}

type RedisLookupCacheStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisLookupCacheStore(client redis.UniversalClient, prefix string) *RedisLookupCacheStore {
	if prefix == "" {
		prefix = "account_lookup_cache"
	}
	return &RedisLookupCacheStore{client: client, prefix: prefix}
}

func (s *RedisLookupCacheStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.client == nil {
		return nil, false, nil
	}
	val, err := s.client.Get(ctx, s.dataKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (s *RedisLookupCacheStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.client == nil || ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, s.dataKey(key), value, ttl).Err()
}

func (s *RedisLookupCacheStore) dataKey(key string) string {
	return fmt.Sprintf("%s:%s", s.prefix, key)
}
