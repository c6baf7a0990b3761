package models

import "time"

// OrderStatus is the closed set of states a payment order can be in.
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "PENDING"
	OrderStatusComplete OrderStatus = "COMPLETE"
	OrderStatusFailed   OrderStatus = "FAILED"
)

// Valid reports whether s is one of the known statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusComplete, OrderStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed out of s.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusComplete || s == OrderStatusFailed
}

// CanTransitionTo reports whether s -> next is a legal transition.
// Only PENDING -> COMPLETE and PENDING -> FAILED are allowed.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return s == OrderStatusPending && next.IsTerminal()
}

// PaymentOrder is the local record of one gateway intent.
// Rows are never deleted.
type PaymentOrder struct {
	OrderID         string         `gorm:"primaryKey;type:varchar(64)" json:"order_id"`
	GatewayIntentID string         `gorm:"type:varchar(255);uniqueIndex;not null" json:"gateway_intent_id"`
	Gateway         PaymentGateway `gorm:"type:varchar(50);not null" json:"gateway"`

	UserUID           string  `gorm:"type:varchar(128);not null;uniqueIndex:idx_payment_orders_user_idem,priority:1" json:"user_uid"`
	CustomerEmail     string  `gorm:"type:varchar(255)" json:"customer_email"`
	GatewayCustomerID string  `gorm:"type:varchar(255)" json:"gateway_customer_id"`
	IdempotencyKey    *string `gorm:"type:varchar(255);uniqueIndex:idx_payment_orders_user_idem,priority:2" json:"idempotency_key,omitempty"`

	PackageName      string `gorm:"type:varchar(100);not null" json:"package_name"`
	AmountMinorUnits int64  `gorm:"not null" json:"amount_minor_units"`
	Currency         string `gorm:"type:varchar(10);not null" json:"currency"`
	ClientSecret     string `gorm:"type:varchar(512)" json:"-"`

	Status    OrderStatus `gorm:"type:varchar(20);not null;index:idx_payment_orders_status_created,priority:1" json:"status"`
	CreatedAt time.Time   `gorm:"index:idx_payment_orders_status_created,priority:2" json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}
