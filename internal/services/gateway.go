package services

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"membership_checkout/internal/models"
)

// Identity is an already-authenticated user as supplied by the identity provider.
type Identity struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// CustomerRef identifies the payer at the gateway.
type CustomerRef struct {
	ID    string
	Name  string
	Email string
}

// IntentRequest is the input of Gateway.CreateIntent.
// Metadata must carry "order_id" so asynchronous reports can be correlated.
type IntentRequest struct {
	Customer       CustomerRef
	Amount         int64 // smallest currency unit
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

// IntentRef is a created gateway intent.
type IntentRef struct {
	ID           string
	ClientSecret string
}

// IntentStatus is the gateway's current view of an intent.
type IntentStatus struct {
	ID        string
	OrderID   string
	RawStatus string
	Outcome   Outcome
}

// Gateway is the external payment gateway. Implementations retry a transient
// network failure at most once; anything beyond that belongs to the caller.
type Gateway interface {
	Provider() models.PaymentGateway
	CreateCustomer(ctx context.Context, identity Identity, idempotencyKey string) (CustomerRef, error)
	CreateIntent(ctx context.Context, req IntentRequest) (IntentRef, error)
	RetrieveIntent(ctx context.Context, intentID string) (IntentStatus, error)
}

// Outcome is a reported payment result. Free-text gateway and client statuses
// are normalized into this set by ParseOutcome.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomePending   Outcome = "pending"
)

// ParseOutcome normalizes a reported status string.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "succeeded", "success", "complete", "completed", "paid", "settlement":
		return OutcomeSucceeded, nil
	case "failed", "failure", "fail", "canceled", "cancelled", "cancel", "deny", "denied", "expire", "expired":
		return OutcomeFailed, nil
	case "pending", "processing", "requires_action", "requires_payment_method", "requires_confirmation", "requires_capture":
		return OutcomePending, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidOutcome, s)
}

// TargetStatus returns the order status an outcome moves a PENDING order to.
// ok is false for non-terminal outcomes.
func (o Outcome) TargetStatus() (models.OrderStatus, bool) {
	switch o {
	case OutcomeSucceeded:
		return models.OrderStatusComplete, true
	case OutcomeFailed:
		return models.OrderStatusFailed, true
	}
	return models.OrderStatusPending, false
}

type retryPolicy struct {
	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration
}

// gatewayRetry is the in-adapter policy: one retry of a transient failure.
var gatewayRetry = retryPolicy{attempts: 2, baseDelay: 200 * time.Millisecond, maxDelay: time.Second}

func (p retryPolicy) backoff(attempt int) time.Duration {
	d := p.baseDelay << attempt
	if p.maxDelay > 0 && d > p.maxDelay {
		d = p.maxDelay
	}
	if d <= 0 {
		return 0
	}
	// full jitter in [d/2, d)
	half := int64(d / 2)
	return time.Duration(half + rand.Int63n(half+1))
}

// withRetry runs fn until it succeeds, returns a non-retryable error,
// or the policy's attempts are used up.
func withRetry[T any](ctx context.Context, p retryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		result T
		err    error
	)
	attempts := p.attempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(p.backoff(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return result, fmt.Errorf("%w: %w", ErrGatewayUnavailable, ctx.Err())
			case <-timer.C:
			}
		}
		result, err = fn(ctx)
		if err == nil || !IsRetryable(err) {
			return result, err
		}
	}
	return result, err
}
