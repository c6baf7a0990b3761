package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/webhook"
	"go.uber.org/zap"

	"membership_checkout/internal/models"
	"membership_checkout/internal/services"
)

const maxWebhookBody = 65536

// StatusReporter applies a trusted gateway report.
type StatusReporter interface {
	ReportStatus(ctx context.Context, gatewayIntentID string, outcome services.Outcome) (*services.ReportResult, error)
}

// SignatureVerifier checks Midtrans notification signatures.
type SignatureVerifier interface {
	VerifySignature(orderID, statusCode, grossAmount, signatureKey string) bool
}

type WebhookHandler struct {
	reporter     StatusReporter
	recorder     services.CallbackRecorder
	stripeSecret string
	midtrans     SignatureVerifier
	logger       *zap.Logger
}

func NewWebhookHandler(reporter StatusReporter, recorder services.CallbackRecorder, stripeSecret string, midtrans SignatureVerifier, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		reporter:     reporter,
		recorder:     recorder,
		stripeSecret: stripeSecret,
		midtrans:     midtrans,
		logger:       logger,
	}
}

// A failed attempt returns the intent to requires_payment_method and the payer
// may retry on the same client secret, so only cancellation is final.
var stripeEventOutcomes = map[stripe.EventType]services.Outcome{
	"payment_intent.succeeded":      services.OutcomeSucceeded,
	"payment_intent.payment_failed": services.OutcomePending,
	"payment_intent.canceled":       services.OutcomeFailed,
}

// StripeWebhook verifies the Stripe-Signature header and applies payment intent events.
func (h *WebhookHandler) StripeWebhook(c echo.Context) error {
	if h.stripeSecret == "" {
		return echo.NewHTTPError(http.StatusNotFound, "Stripe webhooks are not enabled")
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Unable to read body")
	}

	event, err := webhook.ConstructEventWithOptions(payload, c.Request().Header.Get("Stripe-Signature"), h.stripeSecret,
		webhook.ConstructEventOptions{Tolerance: webhook.DefaultTolerance, IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.logger.Warn("Stripe webhook signature verification failed", zap.Error(err))
		return services.ErrInvalidSignature
	}

	log := h.logger.With(zap.String("event_id", event.ID), zap.String("event_type", string(event.Type)))

	outcome, handled := stripeEventOutcomes[event.Type]
	if !handled {
		log.Info("Unhandled webhook event type")
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil || pi.ID == "" {
		log.Error("Failed to unmarshal payment intent", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid payment intent payload")
	}

	h.record(c.Request().Context(), &models.PaymentCallbackHistory{
		PaymentGateway:  models.PaymentGatewayStripe,
		EventID:         event.ID,
		EventType:       string(event.Type),
		GatewayIntentID: pi.ID,
		Metadata:        json.RawMessage(payload),
	})

	return h.apply(c, pi.ID, outcome, log)
}

// MidtransWebhook verifies signature_key and applies the notification.
func (h *WebhookHandler) MidtransWebhook(c echo.Context) error {
	if h.midtrans == nil {
		return echo.NewHTTPError(http.StatusNotFound, "Midtrans notifications are not enabled")
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Unable to read body")
	}

	var n MidtransNotification
	if err := json.Unmarshal(payload, &n); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid JSON payload")
	}
	if n.OrderID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "order_id is required")
	}

	if !h.midtrans.VerifySignature(n.OrderID, n.StatusCode, n.GrossAmount, n.SignatureKey) {
		h.logger.Warn("Midtrans notification signature mismatch", zap.String("order_id", n.OrderID))
		return services.ErrInvalidSignature
	}

	log := h.logger.With(
		zap.String("order_id", n.OrderID),
		zap.String("transaction_status", n.TransactionStatus),
		zap.String("fraud_status", n.FraudStatus),
	)

	h.record(c.Request().Context(), &models.PaymentCallbackHistory{
		PaymentGateway:  models.PaymentGatewayMidtrans,
		EventID:         n.TransactionID,
		EventType:       n.TransactionStatus,
		GatewayIntentID: n.OrderID,
		Metadata:        json.RawMessage(payload),
	})

	outcome := services.MidtransOutcome(n.TransactionStatus, n.FraudStatus)
	if outcome == services.OutcomePending {
		log.Info("Non-terminal notification acknowledged")
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}

	// The Midtrans order_id is the gateway intent id recorded on the order.
	return h.apply(c, n.OrderID, outcome, log)
}

func (h *WebhookHandler) apply(c echo.Context, intentID string, outcome services.Outcome, log *zap.Logger) error {
	res, err := h.reporter.ReportStatus(c.Request().Context(), intentID, outcome)
	if err != nil {
		if errors.Is(err, services.ErrOrderNotFound) {
			// 404 makes the gateway redeliver; the order may still be in the deferred queue.
			log.Warn("Notification for unknown order", zap.String("gateway_intent_id", intentID))
		}
		return err
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"order":   res.Order.Status,
		"applied": res.Applied,
	})
}

func (h *WebhookHandler) record(ctx context.Context, entry *models.PaymentCallbackHistory) {
	if h.recorder == nil {
		return
	}
	if err := h.recorder.Record(ctx, entry); err != nil {
		h.logger.Warn("Failed to record callback history", zap.Error(err))
	}
}
