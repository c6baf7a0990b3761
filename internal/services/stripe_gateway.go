package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"go.uber.org/zap"

	"membership_checkout/internal/models"
)

// StripeGateway talks to Stripe customers and payment intents.
type StripeGateway struct {
	api     *client.API
	timeout time.Duration
	retry   retryPolicy
	logger  *zap.Logger
}

func NewStripeGateway(secretKey string, timeout time.Duration, logger *zap.Logger) *StripeGateway {
	backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(0),
	})
	return &StripeGateway{
		api:     client.New(secretKey, backends),
		timeout: timeout,
		retry:   gatewayRetry,
		logger:  logger,
	}
}

func (g *StripeGateway) Provider() models.PaymentGateway {
	return models.PaymentGatewayStripe
}

// CreateCustomer creates a Stripe customer for the identity.
func (g *StripeGateway) CreateCustomer(ctx context.Context, identity Identity, idempotencyKey string) (CustomerRef, error) {
	return withRetry(ctx, g.retry, func(ctx context.Context) (CustomerRef, error) {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		params := &stripe.CustomerParams{}
		if identity.Name != "" {
			params.Name = stripe.String(identity.Name)
		}
		if identity.Email != "" {
			params.Email = stripe.String(identity.Email)
		}
		params.AddMetadata("user_uid", identity.UID)
		params.Context = ctx
		if idempotencyKey != "" {
			params.SetIdempotencyKey(idempotencyKey)
		}

		c, err := g.api.Customers.New(params)
		if err != nil {
			return CustomerRef{}, classifyStripeError("create customer", err)
		}
		return CustomerRef{ID: c.ID, Name: c.Name, Email: c.Email}, nil
	})
}

// CreateIntent creates a payment intent with automatic payment methods.
func (g *StripeGateway) CreateIntent(ctx context.Context, req IntentRequest) (IntentRef, error) {
	if req.Metadata["order_id"] == "" {
		return IntentRef{}, fmt.Errorf("%w: order_id metadata is required", ErrGatewayRejected)
	}

	return withRetry(ctx, g.retry, func(ctx context.Context) (IntentRef, error) {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		params := &stripe.PaymentIntentParams{
			Amount:   stripe.Int64(req.Amount),
			Currency: stripe.String(strings.ToLower(req.Currency)),
			AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
				Enabled: stripe.Bool(true),
			},
		}
		if req.Customer.ID != "" {
			params.Customer = stripe.String(req.Customer.ID)
		}
		for k, v := range req.Metadata {
			params.AddMetadata(k, v)
		}
		params.Context = ctx
		if req.IdempotencyKey != "" {
			params.SetIdempotencyKey(req.IdempotencyKey)
		}

		pi, err := g.api.PaymentIntents.New(params)
		if err != nil {
			return IntentRef{}, classifyStripeError("create payment intent", err)
		}
		g.logger.Debug("Stripe payment intent created",
			zap.String("gateway_intent_id", pi.ID),
			zap.String("order_id", req.Metadata["order_id"]),
		)
		return IntentRef{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
	})
}

// RetrieveIntent fetches the current intent status.
func (g *StripeGateway) RetrieveIntent(ctx context.Context, intentID string) (IntentStatus, error) {
	return withRetry(ctx, g.retry, func(ctx context.Context) (IntentStatus, error) {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		params := &stripe.PaymentIntentParams{}
		params.Context = ctx

		pi, err := g.api.PaymentIntents.Get(intentID, params)
		if err != nil {
			return IntentStatus{}, classifyStripeError("retrieve payment intent", err)
		}
		return IntentStatus{
			ID:        pi.ID,
			OrderID:   pi.Metadata["order_id"],
			RawStatus: string(pi.Status),
			Outcome:   stripeOutcome(pi.Status),
		}, nil
	})
}

// stripeOutcome maps a payment intent status onto an Outcome.
// requires_payment_method stays pending: the payer may retry on the same intent.
func stripeOutcome(status stripe.PaymentIntentStatus) Outcome {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return OutcomeSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return OutcomeFailed
	}
	return OutcomePending
}

func classifyStripeError(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		switch {
		case se.HTTPStatusCode == http.StatusNotFound || se.Code == stripe.ErrorCodeResourceMissing:
			if strings.HasPrefix(op, "retrieve") {
				return fmt.Errorf("%w: stripe %s: %s", ErrIntentNotFound, op, se.Msg)
			}
			return fmt.Errorf("%w: stripe %s: %s", ErrGatewayRejected, op, se.Msg)
		case se.HTTPStatusCode == http.StatusTooManyRequests,
			se.HTTPStatusCode >= http.StatusInternalServerError,
			se.Type == stripe.ErrorTypeAPI:
			return fmt.Errorf("%w: stripe %s: %s", ErrGatewayUnavailable, op, se.Msg)
		default:
			return fmt.Errorf("%w: stripe %s: %s", ErrGatewayRejected, op, se.Msg)
		}
	}
	// transport errors and deadlines never reached a Stripe verdict
	return fmt.Errorf("%w: stripe %s: %v", ErrGatewayUnavailable, op, err)
}
