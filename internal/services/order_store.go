package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"membership_checkout/internal/models"
)

// TransitionEffect runs inside the transaction that moves an order to a terminal
// state. It runs only when that transition actually happens, so at most once per order.
type TransitionEffect interface {
	Name() string
	Apply(ctx context.Context, tx *gorm.DB, order *models.PaymentOrder) error
}

// OrderStore owns persisted payment orders.
type OrderStore interface {
	// Insert is idempotent: re-inserting an existing order is a no-op.
	Insert(ctx context.Context, order *models.PaymentOrder) error
	FindByID(ctx context.Context, orderID string) (*models.PaymentOrder, error)
	FindByIntentID(ctx context.Context, intentID string) (*models.PaymentOrder, error)
	FindByIdempotencyKey(ctx context.Context, userUID, key string) (*models.PaymentOrder, error)
	// Transition moves the order for intentID to `to` under a per-order lock.
	// applied is false when the order was already terminal.
	Transition(ctx context.Context, intentID string, to models.OrderStatus, at time.Time, effects ...TransitionEffect) (order *models.PaymentOrder, applied bool, err error)
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.PaymentOrder, error)
}

type gormOrderStore struct {
	db *gorm.DB
}

func NewGormOrderStore(db *gorm.DB) OrderStore {
	return &gormOrderStore{db: db}
}

func (s *gormOrderStore) Insert(ctx context.Context, order *models.PaymentOrder) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(order).Error
	if err != nil {
		return fmt.Errorf("insert order %s: %w", order.OrderID, err)
	}
	return nil
}

func (s *gormOrderStore) FindByID(ctx context.Context, orderID string) (*models.PaymentOrder, error) {
	return s.findOne(ctx, "order_id = ?", orderID)
}

func (s *gormOrderStore) FindByIntentID(ctx context.Context, intentID string) (*models.PaymentOrder, error) {
	return s.findOne(ctx, "gateway_intent_id = ?", intentID)
}

func (s *gormOrderStore) FindByIdempotencyKey(ctx context.Context, userUID, key string) (*models.PaymentOrder, error) {
	return s.findOne(ctx, "user_uid = ? AND idempotency_key = ?", userUID, key)
}

func (s *gormOrderStore) findOne(ctx context.Context, query string, args ...interface{}) (*models.PaymentOrder, error) {
	var order models.PaymentOrder
	if err := s.db.WithContext(ctx).Where(query, args...).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("find order: %w", err)
	}
	return &order, nil
}

func (s *gormOrderStore) Transition(ctx context.Context, intentID string, to models.OrderStatus, at time.Time, effects ...TransitionEffect) (*models.PaymentOrder, bool, error) {
	var (
		order   models.PaymentOrder
		applied bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// SELECT ... FOR UPDATE serializes concurrent reports for one order.
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("gateway_intent_id = ?", intentID).
			First(&order).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return fmt.Errorf("lock order: %w", err)
		}

		if !order.Status.CanTransitionTo(to) {
			return nil
		}

		res := tx.Model(&models.PaymentOrder{}).
			Where("order_id = ? AND status = ?", order.OrderID, models.OrderStatusPending).
			Updates(map[string]interface{}{
				"status":     to,
				"updated_at": at,
			})
		if res.Error != nil {
			return fmt.Errorf("update order status: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}

		order.Status = to
		order.UpdatedAt = at
		for _, effect := range effects {
			if err := effect.Apply(ctx, tx, &order); err != nil {
				return fmt.Errorf("%s: %w", effect.Name(), err)
			}
		}
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &order, applied, nil
}

func (s *gormOrderStore) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.PaymentOrder, error) {
	var orders []models.PaymentOrder
	err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.OrderStatusPending, createdBefore).
		Order("created_at asc").
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("list stale orders: %w", err)
	}
	return orders, nil
}
