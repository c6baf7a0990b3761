package services

import (
	"context"
	"sync"
	"time"
)

// IdempotencyStore remembers purchase results per idempotency key and
// serializes concurrent requests that share a key.
type IdempotencyStore interface {
	// Claim marks key as in flight. It returns false if someone else holds it.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	Remember(ctx context.Context, key string, result PurchaseResult, ttl time.Duration) error
	// Recall returns nil, nil when nothing is remembered for key.
	Recall(ctx context.Context, key string) (*PurchaseResult, error)
}

const (
	idemClaimPrefix  = "idem:claim:"
	idemResultPrefix = "idem:result:"
)

// RedisIdempotencyStore keeps claims and results in Redis.
type RedisIdempotencyStore struct {
	cache *RedisCache
}

func NewRedisIdempotencyStore(cache *RedisCache) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{cache: cache}
}

func (s *RedisIdempotencyStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.cache.SetNX(ctx, idemClaimPrefix+key, time.Now().UTC(), ttl)
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	return s.cache.Delete(ctx, idemClaimPrefix+key)
}

func (s *RedisIdempotencyStore) Remember(ctx context.Context, key string, result PurchaseResult, ttl time.Duration) error {
	return s.cache.Set(ctx, idemResultPrefix+key, result, ttl)
}

func (s *RedisIdempotencyStore) Recall(ctx context.Context, key string) (*PurchaseResult, error) {
	var result PurchaseResult
	if err := s.cache.Get(ctx, idemResultPrefix+key, &result); err != nil {
		if isRedisNil(err) {
			return nil, nil
		}
		return nil, err
	}
	return &result, nil
}

type memoryEntry struct {
	result    *PurchaseResult
	expiresAt time.Time
}

// MemoryIdempotencyStore is the single-process fallback used when Redis is not configured.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	claims  map[string]time.Time
	results map[string]memoryEntry
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		claims:  make(map[string]time.Time),
		results: make(map[string]memoryEntry),
	}
}

func (s *MemoryIdempotencyStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exp, ok := s.claims[key]; ok && time.Now().Before(exp) {
		return false, nil
	}
	s.claims[key] = time.Now().Add(ttl)
	return true, nil
}

func (s *MemoryIdempotencyStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, key)
	return nil
}

func (s *MemoryIdempotencyStore) Remember(ctx context.Context, key string, result PurchaseResult, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[key] = memoryEntry{result: &result, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *MemoryIdempotencyStore) Recall(ctx context.Context, key string) (*PurchaseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.results[key]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(s.results, key)
		return nil, nil
	}
	res := *entry.result
	return &res, nil
}
