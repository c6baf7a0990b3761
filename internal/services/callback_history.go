package services

import (
	"context"

	"gorm.io/gorm"

	"membership_checkout/internal/models"
)

// CallbackRecorder stores raw inbound gateway notifications.
type CallbackRecorder interface {
	Record(ctx context.Context, entry *models.PaymentCallbackHistory) error
}

type gormCallbackRecorder struct {
	db *gorm.DB
}

func NewGormCallbackRecorder(db *gorm.DB) CallbackRecorder {
	return &gormCallbackRecorder{db: db}
}

func (r *gormCallbackRecorder) Record(ctx context.Context, entry *models.PaymentCallbackHistory) error {
	return r.db.WithContext(ctx).Create(entry).Error
}
