package services

import (
	"fmt"

	"go.uber.org/zap"

	"membership_checkout/internal/config"
)

// NewGateway builds the adapter selected by GATEWAY_PROVIDER.
func NewGateway(cfg *config.Config, logger *zap.Logger) (Gateway, error) {
	switch cfg.GatewayProvider {
	case "stripe":
		return NewStripeGateway(cfg.StripeSecretKey, cfg.GatewayTimeout, logger.Named("stripe")), nil
	case "midtrans":
		return NewMidtransGateway(cfg.MidtransServerKey, cfg.MidtransIsProduction, cfg.GatewayTimeout, logger.Named("midtrans")), nil
	}
	return nil, fmt.Errorf("unsupported gateway provider %q", cfg.GatewayProvider)
}

// Backing holds the Redis-or-memory stores shared by the server and the worker.
type Backing struct {
	Cache       *RedisCache
	Idempotency IdempotencyStore
	Deferred    DeferredOrderQueue
}

// NewBacking connects to Redis when REDIS_URL is set and falls back to
// process-local stores otherwise.
func NewBacking(cfg *config.Config, logger *zap.Logger) *Backing {
	if cfg.RedisURL != "" {
		cache, err := NewRedisCache(cfg.RedisURL, logger)
		if err == nil {
			return &Backing{
				Cache:       cache,
				Idempotency: NewRedisIdempotencyStore(cache),
				Deferred:    NewRedisDeferredQueue(cache),
			}
		}
		logger.Warn("Redis unavailable, using in-memory stores", zap.Error(err))
	} else {
		logger.Warn("REDIS_URL not set, using in-memory stores")
	}
	return &Backing{
		Idempotency: NewMemoryIdempotencyStore(),
		Deferred:    NewMemoryDeferredQueue(),
	}
}

// Close releases the Redis connection, if any.
func (b *Backing) Close() error {
	if b.Cache == nil {
		return nil
	}
	return b.Cache.Close()
}
