package services

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v80"
	"go.uber.org/zap"
)

func TestParseOutcome(t *testing.T) {
	tests := []struct {
		input    string
		expected Outcome
	}{
		{"succeeded", OutcomeSucceeded},
		{" SUCCESS ", OutcomeSucceeded},
		{"settlement", OutcomeSucceeded},
		{"failed", OutcomeFailed},
		{"canceled", OutcomeFailed},
		{"expire", OutcomeFailed},
		{"processing", OutcomePending},
		{"requires_payment_method", OutcomePending},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseOutcome(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}

	_, err := ParseOutcome("maybe")
	assert.ErrorIs(t, err, ErrInvalidOutcome)
}

func TestWithRetry(t *testing.T) {
	policy := retryPolicy{attempts: 3, baseDelay: time.Millisecond, maxDelay: 2 * time.Millisecond}

	t.Run("retries transient failures", func(t *testing.T) {
		calls := 0
		got, err := withRetry(context.Background(), policy, func(ctx context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", fmt.Errorf("%w: timeout", ErrGatewayUnavailable)
			}
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", got)
		assert.Equal(t, 3, calls)
	})

	t.Run("does not retry rejections", func(t *testing.T) {
		calls := 0
		_, err := withRetry(context.Background(), policy, func(ctx context.Context) (int, error) {
			calls++
			return 0, fmt.Errorf("%w: card declined", ErrGatewayRejected)
		})
		assert.ErrorIs(t, err, ErrGatewayRejected)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after the last attempt", func(t *testing.T) {
		calls := 0
		_, err := withRetry(context.Background(), policy, func(ctx context.Context) (int, error) {
			calls++
			return 0, ErrGatewayUnavailable
		})
		assert.ErrorIs(t, err, ErrGatewayUnavailable)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops when the context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		slow := retryPolicy{attempts: 5, baseDelay: time.Hour, maxDelay: time.Hour}
		calls := 0
		_, err := withRetry(ctx, slow, func(ctx context.Context) (int, error) {
			calls++
			cancel()
			return 0, ErrGatewayUnavailable
		})
		assert.ErrorIs(t, err, ErrGatewayUnavailable)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}

func TestClassifyStripeError(t *testing.T) {
	tests := []struct {
		name     string
		op       string
		err      error
		expected error
	}{
		{"card declined", "create payment intent", &stripe.Error{HTTPStatusCode: http.StatusPaymentRequired, Type: stripe.ErrorTypeCard, Msg: "declined"}, ErrGatewayRejected},
		{"invalid request", "create customer", &stripe.Error{HTTPStatusCode: http.StatusBadRequest, Type: stripe.ErrorTypeInvalidRequest}, ErrGatewayRejected},
		{"rate limited", "create payment intent", &stripe.Error{HTTPStatusCode: http.StatusTooManyRequests}, ErrGatewayUnavailable},
		{"server error", "create payment intent", &stripe.Error{HTTPStatusCode: http.StatusBadGateway}, ErrGatewayUnavailable},
		{"missing intent", "retrieve payment intent", &stripe.Error{HTTPStatusCode: http.StatusNotFound, Code: stripe.ErrorCodeResourceMissing}, ErrIntentNotFound},
		{"missing customer on create", "create payment intent", &stripe.Error{HTTPStatusCode: http.StatusNotFound}, ErrGatewayRejected},
		{"network", "create customer", errors.New("dial tcp: i/o timeout"), ErrGatewayUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classifyStripeError(tt.op, tt.err), tt.expected)
		})
	}
}

func TestStripeOutcome(t *testing.T) {
	assert.Equal(t, OutcomeSucceeded, stripeOutcome(stripe.PaymentIntentStatusSucceeded))
	assert.Equal(t, OutcomeFailed, stripeOutcome(stripe.PaymentIntentStatusCanceled))
	assert.Equal(t, OutcomePending, stripeOutcome(stripe.PaymentIntentStatusProcessing))
	assert.Equal(t, OutcomePending, stripeOutcome(stripe.PaymentIntentStatusRequiresPaymentMethod))
}

func TestStripeCreateIntentRequiresOrderID(t *testing.T) {
	g := NewStripeGateway("sk_test_unused", time.Second, zap.NewNop())

	_, err := g.CreateIntent(context.Background(), IntentRequest{Amount: 100, Currency: "thb"})
	assert.ErrorIs(t, err, ErrGatewayRejected)
}

func TestClassifyMidtransError(t *testing.T) {
	assert.ErrorIs(t, classifyMidtransError("check", &midtrans.Error{StatusCode: http.StatusNotFound}), ErrIntentNotFound)
	assert.ErrorIs(t, classifyMidtransError("create", &midtrans.Error{StatusCode: 0, Message: "timeout"}), ErrGatewayUnavailable)
	assert.ErrorIs(t, classifyMidtransError("create", &midtrans.Error{StatusCode: http.StatusServiceUnavailable}), ErrGatewayUnavailable)
	assert.ErrorIs(t, classifyMidtransError("create", &midtrans.Error{StatusCode: http.StatusBadRequest}), ErrGatewayRejected)
}

func TestMidtransOutcome(t *testing.T) {
	tests := []struct {
		status, fraud string
		expected      Outcome
	}{
		{"settlement", "", OutcomeSucceeded},
		{"capture", "accept", OutcomeSucceeded},
		{"capture", "challenge", OutcomePending},
		{"deny", "", OutcomeFailed},
		{"expire", "", OutcomeFailed},
		{"cancel", "", OutcomeFailed},
		{"pending", "", OutcomePending},
	}
	for _, tt := range tests {
		t.Run(tt.status+"/"+tt.fraud, func(t *testing.T) {
			assert.Equal(t, tt.expected, MidtransOutcome(tt.status, tt.fraud))
		})
	}
}

func TestMidtransVerifySignature(t *testing.T) {
	g := NewMidtransGateway("SB-Mid-server-key", false, time.Second, zap.NewNop())

	sum := sha512.Sum512([]byte("order-1" + "200" + "149.00" + "SB-Mid-server-key"))
	valid := hex.EncodeToString(sum[:])

	assert.True(t, g.VerifySignature("order-1", "200", "149.00", valid))
	assert.False(t, g.VerifySignature("order-1", "200", "1.00", valid))
	assert.False(t, g.VerifySignature("order-1", "200", "149.00", ""))
}

func TestMidtransCreateCustomerIsLocal(t *testing.T) {
	g := NewMidtransGateway("key", false, time.Second, zap.NewNop())

	ref, err := g.CreateCustomer(context.Background(), Identity{UID: "u1", Email: "a@b.c"}, "cus-1")
	require.NoError(t, err)
	assert.Equal(t, "u1", ref.ID)

	_, err = g.CreateCustomer(context.Background(), Identity{}, "cus-2")
	assert.ErrorIs(t, err, ErrGatewayRejected)
}

// snapStub records Snap order ids and answers from a script.
type snapStub struct {
	orderIDs []string
	keys     []string
	answers  []*midtrans.Error
	status   map[string]string
}

var duplicateOrderID = &midtrans.Error{
	StatusCode: http.StatusBadRequest,
	Message:    `Midtrans API is returning API error. HTTP status code: 400  API response: {"error_messages":["transaction_details.order_id has already been taken"]}`,
}

func newStubbedMidtrans(stub *snapStub) *MidtransGateway {
	g := NewMidtransGateway("key", false, time.Second, zap.NewNop())
	g.retry = retryPolicy{attempts: 2, baseDelay: time.Millisecond, maxDelay: time.Millisecond}
	g.createSnap = func(ctx context.Context, req *snap.Request, idempotencyKey string) (*snap.Response, *midtrans.Error) {
		stub.orderIDs = append(stub.orderIDs, req.TransactionDetails.OrderID)
		stub.keys = append(stub.keys, idempotencyKey)
		if len(stub.answers) > 0 {
			answer := stub.answers[0]
			stub.answers = stub.answers[1:]
			if answer != nil {
				return nil, answer
			}
		}
		return &snap.Response{Token: "snap-" + req.TransactionDetails.OrderID}, nil
	}
	g.checkStatus = func(orderID string) (*coreapi.TransactionStatusResponse, *midtrans.Error) {
		if st, ok := stub.status[orderID]; ok {
			return &coreapi.TransactionStatusResponse{StatusCode: "200", OrderID: orderID, TransactionStatus: st}, nil
		}
		return nil, &midtrans.Error{StatusCode: http.StatusNotFound, Message: "Transaction doesn't exist."}
	}
	return g
}

func midtransIntentRequest() IntentRequest {
	return IntentRequest{
		Customer:       CustomerRef{ID: "u1", Name: "U", Email: "u@example.com"},
		Amount:         14900,
		Currency:       "thb",
		Metadata:       map[string]string{"order_id": "order-1", "package_name": "premium", "user_uid": "u1"},
		IdempotencyKey: "pi-order-1",
	}
}

func TestMidtransCreateIntent(t *testing.T) {
	t.Run("first attempt", func(t *testing.T) {
		stub := &snapStub{}
		ref, err := newStubbedMidtrans(stub).CreateIntent(context.Background(), midtransIntentRequest())

		require.NoError(t, err)
		assert.Equal(t, "order-1", ref.ID)
		assert.Equal(t, "snap-order-1", ref.ClientSecret)
	})

	t.Run("retry after lost response reissues under a new id", func(t *testing.T) {
		stub := &snapStub{answers: []*midtrans.Error{
			{StatusCode: 0, Message: "connection reset"},
			duplicateOrderID,
		}}
		ref, err := newStubbedMidtrans(stub).CreateIntent(context.Background(), midtransIntentRequest())

		require.NoError(t, err)
		assert.Equal(t, "order-1-2", ref.ID)
		assert.Equal(t, "snap-order-1-2", ref.ClientSecret)
		assert.Equal(t, []string{"order-1", "order-1", "order-1-2"}, stub.orderIDs)
		assert.Equal(t, "pi-order-1-2", stub.keys[2])
	})

	t.Run("existing transaction is reused", func(t *testing.T) {
		stub := &snapStub{
			answers: []*midtrans.Error{duplicateOrderID},
			status:  map[string]string{"order-1": "pending"},
		}
		ref, err := newStubbedMidtrans(stub).CreateIntent(context.Background(), midtransIntentRequest())

		require.NoError(t, err)
		assert.Equal(t, "order-1", ref.ID)
		assert.Len(t, stub.orderIDs, 1)
	})

	t.Run("other rejections stay permanent", func(t *testing.T) {
		stub := &snapStub{answers: []*midtrans.Error{{StatusCode: http.StatusBadRequest, Message: "gross_amount is invalid"}}}
		_, err := newStubbedMidtrans(stub).CreateIntent(context.Background(), midtransIntentRequest())

		assert.ErrorIs(t, err, ErrGatewayRejected)
		assert.Len(t, stub.orderIDs, 1)
	})

	t.Run("reissue gives up", func(t *testing.T) {
		answers := make([]*midtrans.Error, maxSnapReissue)
		for i := range answers {
			answers[i] = duplicateOrderID
		}
		stub := &snapStub{answers: answers}
		_, err := newStubbedMidtrans(stub).CreateIntent(context.Background(), midtransIntentRequest())

		assert.ErrorIs(t, err, ErrGatewayRejected)
	})
}

func TestIsDuplicateOrderID(t *testing.T) {
	assert.True(t, isDuplicateOrderID(duplicateOrderID))
	assert.True(t, isDuplicateOrderID(&midtrans.Error{StatusCode: 400, Message: `{"error_messages":["transaction_details.order_id sudah digunakan"]}`}))
	assert.False(t, isDuplicateOrderID(&midtrans.Error{StatusCode: 500, Message: "order_id has already been taken"}))
	assert.False(t, isDuplicateOrderID(errors.New("order_id has already been taken")))
}

func TestPublicErrorPrefersSpecificCause(t *testing.T) {
	err := setupFailed(fmt.Errorf("%w: stripe create payment intent: boom", ErrGatewayUnavailable))
	public, ok := PublicError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusServiceUnavailable, public.Status)

	err = setupFailed(errors.New("unexpected"))
	public, ok = PublicError(err)
	require.True(t, ok)
	assert.Equal(t, "payment_setup_failed", public.Code)

	_, ok = PublicError(errors.New("db down"))
	assert.False(t, ok)
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", ErrGatewayUnavailable)))
	assert.False(t, IsRetryable(ErrGatewayRejected))
}
