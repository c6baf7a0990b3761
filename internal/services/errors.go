package services

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is an error with a stable code that is safe to show to callers.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError carrying the same code, so wrapped copies compare equal to the sentinels.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

func newAppError(status int, code, message string) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

var (
	ErrUnknownPackage      = newAppError(http.StatusBadRequest, "unknown_package", "Unknown package")
	ErrGatewayUnavailable  = newAppError(http.StatusServiceUnavailable, "gateway_unavailable", "Payment gateway is unavailable, please retry")
	ErrGatewayRejected     = newAppError(http.StatusUnprocessableEntity, "gateway_rejected", "Payment gateway rejected the request")
	ErrIntentNotFound      = newAppError(http.StatusNotFound, "intent_not_found", "Payment intent not found at gateway")
	ErrOrderNotFound       = newAppError(http.StatusNotFound, "order_not_found", "Order not found")
	ErrPaymentSetupFailed  = newAppError(http.StatusBadGateway, "payment_setup_failed", "Payment could not be set up")
	ErrPersistenceDeferred = newAppError(http.StatusAccepted, "persistence_deferred", "Order persistence deferred")
	ErrRequestInProgress   = newAppError(http.StatusConflict, "request_in_progress", "A request with this idempotency key is in progress")
	ErrInvalidOutcome      = newAppError(http.StatusBadRequest, "invalid_outcome", "Unknown payment outcome")
	ErrUnauthenticated     = newAppError(http.StatusUnauthorized, "unauthenticated", "Authentication required")
	ErrInvalidSignature    = newAppError(http.StatusBadRequest, "invalid_signature", "Invalid notification signature")
)

// publicErrors is ordered most specific first.
var publicErrors = []*AppError{
	ErrUnknownPackage,
	ErrGatewayUnavailable,
	ErrGatewayRejected,
	ErrIntentNotFound,
	ErrOrderNotFound,
	ErrRequestInProgress,
	ErrInvalidOutcome,
	ErrUnauthenticated,
	ErrInvalidSignature,
	ErrPaymentSetupFailed,
}

// PublicError maps err to the AppError a caller is allowed to see.
// ok is false when err carries no known code.
func PublicError(err error) (*AppError, bool) {
	for _, known := range publicErrors {
		if errors.Is(err, known) {
			return known, true
		}
	}
	return nil, false
}

// IsRetryable reports whether err is a transient gateway failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable)
}

func setupFailed(err error) error {
	return fmt.Errorf("%w: %w", ErrPaymentSetupFailed, err)
}
