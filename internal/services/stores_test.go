package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"membership_checkout/internal/models"
)

func TestMemoryIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdempotencyStore()

	ok, err := store.Claim(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = store.Claim(ctx, "k", time.Minute)
	assert.False(t, ok, "second claim must wait for release")

	require.NoError(t, store.Release(ctx, "k"))
	ok, _ = store.Claim(ctx, "k", time.Minute)
	assert.True(t, ok)

	res, err := store.Recall(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, res)

	require.NoError(t, store.Remember(ctx, "k", PurchaseResult{OrderID: "o1", Amount: 9900}, time.Minute))
	res, err = store.Recall(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "o1", res.OrderID)

	require.NoError(t, store.Remember(ctx, "expired", PurchaseResult{OrderID: "o2"}, -time.Second))
	res, _ = store.Recall(ctx, "expired")
	assert.Nil(t, res)
}

func TestMemoryDeferredQueueIsFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryDeferredQueue()

	item, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Nil(t, item)

	require.NoError(t, q.Push(ctx, DeferredOrder{Order: models.PaymentOrder{OrderID: "a"}}))
	require.NoError(t, q.Push(ctx, DeferredOrder{Order: models.PaymentOrder{OrderID: "b"}}))

	n, _ := q.Len(ctx)
	assert.Equal(t, int64(2), n)

	item, _ = q.Pop(ctx)
	assert.Equal(t, "a", item.Order.OrderID)
	item, _ = q.Pop(ctx)
	assert.Equal(t, "b", item.Order.OrderID)
}
