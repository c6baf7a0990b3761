package handlers

import (
	"time"

	"membership_checkout/internal/models"
)

type CreateIntentRequest struct {
	PackageName    string `json:"packageName"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type CreateIntentResponse struct {
	OrderID         string `json:"orderId"`
	ClientSecret    string `json:"clientSecret"`
	GatewayIntentID string `json:"gatewayIntentId"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
}

type ReportStatusRequest struct {
	GatewayIntentID string `json:"gatewayIntentId"`
	Outcome         string `json:"outcome"`
}

type ReportStatusResponse struct {
	OK      bool               `json:"ok"`
	Status  models.OrderStatus `json:"status"`
	Applied bool               `json:"applied"`
}

type OrderResponse struct {
	OrderID         string             `json:"orderId"`
	GatewayIntentID string             `json:"gatewayIntentId"`
	Gateway         string             `json:"gateway"`
	PackageName     string             `json:"packageName"`
	Amount          int64              `json:"amount"`
	Currency        string             `json:"currency"`
	Status          models.OrderStatus `json:"status"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

func orderResponse(o *models.PaymentOrder) OrderResponse {
	return OrderResponse{
		OrderID:         o.OrderID,
		GatewayIntentID: o.GatewayIntentID,
		Gateway:         string(o.Gateway),
		PackageName:     o.PackageName,
		Amount:          o.AmountMinorUnits,
		Currency:        o.Currency,
		Status:          o.Status,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

// MidtransNotification is the subset of a Midtrans HTTP notification we act on.
type MidtransNotification struct {
	OrderID           string `json:"order_id"`
	TransactionID     string `json:"transaction_id"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	PaymentType       string `json:"payment_type"`
}
