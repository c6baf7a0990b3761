package models

import (
	"encoding/json"
	"time"
)

type PaymentGateway string

const (
	PaymentGatewayStripe   PaymentGateway = "stripe"
	PaymentGatewayMidtrans PaymentGateway = "midtrans"
)

// PaymentCallbackHistory keeps the raw body of every inbound gateway notification.
type PaymentCallbackHistory struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	PaymentGateway  PaymentGateway  `gorm:"type:varchar(50);not null" json:"payment_gateway"`
	EventID         string          `gorm:"type:varchar(255);index" json:"event_id"`
	EventType       string          `gorm:"type:varchar(100)" json:"event_type"`
	GatewayIntentID string          `gorm:"type:varchar(255);index" json:"gateway_intent_id"`
	Metadata        json.RawMessage `gorm:"type:jsonb" json:"metadata"`
	CreatedAt       time.Time       `json:"created_at"`
}
