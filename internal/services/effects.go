package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"membership_checkout/internal/models"
)

// SendReceiptTaskName is the worker task that e-mails a completed order's receipt.
const SendReceiptTaskName = "send_receipt"

// EntitlementEffect grants the purchased package to the order's user.
type EntitlementEffect struct{}

func (EntitlementEffect) Name() string { return "grant_entitlement" }

func (EntitlementEffect) Apply(ctx context.Context, tx *gorm.DB, order *models.PaymentOrder) error {
	if order.Status != models.OrderStatusComplete {
		return nil
	}
	return tx.Create(&models.Entitlement{
		OrderID:     order.OrderID,
		UserUID:     order.UserUID,
		PackageName: order.PackageName,
		GrantedAt:   order.UpdatedAt,
	}).Error
}

// ReceiptEffect enqueues a one-time receipt task in the same transaction as the transition.
type ReceiptEffect struct{}

func (ReceiptEffect) Name() string { return "enqueue_receipt" }

func (ReceiptEffect) Apply(ctx context.Context, tx *gorm.DB, order *models.PaymentOrder) error {
	if order.Status != models.OrderStatusComplete || order.CustomerEmail == "" {
		return nil
	}
	dedup := "receipt:" + order.OrderID
	return tx.Create(&models.ScheduledTask{
		TaskName:   SendReceiptTaskName,
		DedupKey:   &dedup,
		Arguments:  map[string]interface{}{"order_id": order.OrderID},
		Due:        time.Now(),
		Status:     models.ScheduledTaskStatusActive,
		TaskType:   models.ScheduledTaskTypeOneTime,
		MaxAttempt: 3,
	}).Error
}

// DefaultEffects are applied when an order completes.
func DefaultEffects() []TransitionEffect {
	return []TransitionEffect{EntitlementEffect{}, ReceiptEffect{}}
}
