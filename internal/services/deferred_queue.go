package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"membership_checkout/internal/models"
)

// DeferredOrder is a gateway-created order whose insert has not succeeded yet.
type DeferredOrder struct {
	Order         models.PaymentOrder `json:"order"`
	ClientSecret  string              `json:"client_secret"`
	Attempts      int                 `json:"attempts"`
	FirstFailedAt time.Time           `json:"first_failed_at"`
	LastError     string              `json:"last_error"`
}

// DeferredOrderQueue holds orders waiting to be persisted.
type DeferredOrderQueue interface {
	Push(ctx context.Context, item DeferredOrder) error
	// Pop returns nil, nil when the queue is empty.
	Pop(ctx context.Context) (*DeferredOrder, error)
	Len(ctx context.Context) (int64, error)
}

const deferredOrdersKey = "orders:deferred"

// RedisDeferredQueue is a FIFO list in Redis.
type RedisDeferredQueue struct {
	cache *RedisCache
}

func NewRedisDeferredQueue(cache *RedisCache) *RedisDeferredQueue {
	return &RedisDeferredQueue{cache: cache}
}

func (q *RedisDeferredQueue) Push(ctx context.Context, item DeferredOrder) error {
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return q.cache.Client().RPush(ctx, deferredOrdersKey, data).Err()
}

func (q *RedisDeferredQueue) Pop(ctx context.Context) (*DeferredOrder, error) {
	data, err := q.cache.Client().LPop(ctx, deferredOrdersKey).Bytes()
	if err != nil {
		if isRedisNil(err) {
			return nil, nil
		}
		return nil, err
	}
	var item DeferredOrder
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (q *RedisDeferredQueue) Len(ctx context.Context) (int64, error) {
	return q.cache.Client().LLen(ctx, deferredOrdersKey).Result()
}

// MemoryDeferredQueue is the single-process fallback used when Redis is not configured.
type MemoryDeferredQueue struct {
	mu    sync.Mutex
	items []DeferredOrder
}

func NewMemoryDeferredQueue() *MemoryDeferredQueue {
	return &MemoryDeferredQueue{}
}

func (q *MemoryDeferredQueue) Push(ctx context.Context, item DeferredOrder) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

func (q *MemoryDeferredQueue) Pop(ctx context.Context) (*DeferredOrder, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, nil
	}
	item := q.items[0]
	q.items = q.items[1:]
	return &item, nil
}

func (q *MemoryDeferredQueue) Len(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}
