package services

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"
	"go.uber.org/zap"

	"membership_checkout/internal/models"
)

// MidtransGateway uses Snap for checkout and the Core API for status checks.
// Midtrans has no customer object and keys transactions by our order id,
// so the gateway intent id equals the order id and the Snap token is the client secret.
type MidtransGateway struct {
	createSnap  func(ctx context.Context, req *snap.Request, idempotencyKey string) (*snap.Response, *midtrans.Error)
	checkStatus func(orderID string) (*coreapi.TransactionStatusResponse, *midtrans.Error)
	serverKey   string
	timeout     time.Duration
	retry       retryPolicy
	logger      *zap.Logger
}

// maxSnapReissue bounds the suffixed order ids tried after a duplicate order_id rejection.
const maxSnapReissue = 5

func NewMidtransGateway(serverKey string, production bool, timeout time.Duration, logger *zap.Logger) *MidtransGateway {
	env := midtrans.Sandbox
	if production {
		env = midtrans.Production
	}

	var s snap.Client
	s.New(serverKey, env)

	var c coreapi.Client
	c.New(serverKey, env)

	return &MidtransGateway{
		createSnap: func(ctx context.Context, req *snap.Request, idempotencyKey string) (*snap.Response, *midtrans.Error) {
			client := s
			client.Options = &midtrans.ConfigOptions{}
			client.Options.SetContext(ctx)
			if idempotencyKey != "" {
				client.Options.SetPaymentIdempotencyKey(idempotencyKey)
			}
			return client.CreateTransaction(req)
		},
		checkStatus: c.CheckTransaction,
		serverKey:   serverKey,
		timeout:     timeout,
		retry:       gatewayRetry,
		logger:      logger,
	}
}

func (g *MidtransGateway) Provider() models.PaymentGateway {
	return models.PaymentGatewayMidtrans
}

// CreateCustomer makes no remote call: customer details travel with each transaction.
func (g *MidtransGateway) CreateCustomer(ctx context.Context, identity Identity, idempotencyKey string) (CustomerRef, error) {
	if identity.UID == "" {
		return CustomerRef{}, fmt.Errorf("%w: identity has no uid", ErrGatewayRejected)
	}
	return CustomerRef{ID: identity.UID, Name: identity.Name, Email: identity.Email}, nil
}

// CreateIntent creates a Snap transaction whose order id is metadata["order_id"].
// If Midtrans already holds that order id, from an earlier attempt whose response
// was lost, the existing transaction is reused when the payer has started it;
// otherwise a new transaction is opened under a suffixed order id.
func (g *MidtransGateway) CreateIntent(ctx context.Context, req IntentRequest) (IntentRef, error) {
	orderID := req.Metadata["order_id"]
	if orderID == "" {
		return IntentRef{}, fmt.Errorf("%w: order_id metadata is required", ErrGatewayRejected)
	}

	// Midtrans gross amounts are whole currency units.
	gross := req.Amount / models.MinorUnitFactor(req.Currency)
	packageName := req.Metadata["package_name"]

	snapReq := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  orderID,
			GrossAmt: gross,
		},
		CustomerDetail: &midtrans.CustomerDetails{
			FName: req.Customer.Name,
			Email: req.Customer.Email,
		},
		Items: &[]midtrans.ItemDetails{
			{
				ID:    packageName,
				Name:  fmt.Sprintf("Package %s", packageName),
				Price: gross,
				Qty:   1,
			},
		},
		CustomField1: req.Metadata["user_uid"],
		CustomField2: orderID,
	}

	return withRetry(ctx, g.retry, func(ctx context.Context) (IntentRef, error) {
		ref, err := g.createTransaction(ctx, snapReq, req.IdempotencyKey)
		if err == nil {
			return ref, nil
		}
		if isDuplicateOrderID(err) {
			return g.resumeIntent(ctx, snapReq, req.IdempotencyKey)
		}
		return IntentRef{}, classifyMidtransError("create transaction", err)
	})
}

// createTransaction returns the raw SDK error so callers can inspect it.
func (g *MidtransGateway) createTransaction(ctx context.Context, snapReq *snap.Request, idempotencyKey string) (IntentRef, error) {
	resp, err := callMidtrans(ctx, g.timeout, func() (*snap.Response, *midtrans.Error) {
		return g.createSnap(ctx, snapReq, idempotencyKey)
	})
	if err != nil {
		return IntentRef{}, err
	}
	return IntentRef{ID: snapReq.TransactionDetails.OrderID, ClientSecret: resp.Token}, nil
}

func (g *MidtransGateway) resumeIntent(ctx context.Context, snapReq *snap.Request, idempotencyKey string) (IntentRef, error) {
	orderID := snapReq.TransactionDetails.OrderID
	log := g.logger.With(zap.String("order_id", orderID))

	status, err := g.RetrieveIntent(ctx, orderID)
	switch {
	case err == nil:
		// The payer already opened the first transaction; keep tracking it.
		// Its Snap token cannot be fetched again.
		log.Warn("Reusing existing Midtrans transaction", zap.String("transaction_status", status.RawStatus))
		return IntentRef{ID: orderID}, nil
	case !errors.Is(err, ErrIntentNotFound):
		return IntentRef{}, err
	}

	// Snap reserved the id but nobody received its token.
	for n := 2; n <= maxSnapReissue; n++ {
		reissue := *snapReq
		reissue.TransactionDetails.OrderID = fmt.Sprintf("%s-%d", orderID, n)

		key := idempotencyKey
		if key != "" {
			key = fmt.Sprintf("%s-%d", key, n)
		}

		ref, err := g.createTransaction(ctx, &reissue, key)
		if err == nil {
			log.Info("Midtrans transaction reissued", zap.String("gateway_intent_id", ref.ID))
			return ref, nil
		}
		if !isDuplicateOrderID(err) {
			return IntentRef{}, classifyMidtransError("create transaction", err)
		}
	}
	return IntentRef{}, fmt.Errorf("%w: midtrans order %s reissued %d times", ErrGatewayRejected, orderID, maxSnapReissue)
}

// RetrieveIntent checks the transaction status through the Core API.
func (g *MidtransGateway) RetrieveIntent(ctx context.Context, intentID string) (IntentStatus, error) {
	return withRetry(ctx, g.retry, func(ctx context.Context) (IntentStatus, error) {
		resp, err := callMidtrans(ctx, g.timeout, func() (*coreapi.TransactionStatusResponse, *midtrans.Error) {
			return g.checkStatus(intentID)
		})
		if err != nil {
			return IntentStatus{}, classifyMidtransError("check transaction", err)
		}
		if resp.StatusCode == "404" {
			return IntentStatus{}, fmt.Errorf("%w: midtrans transaction %s", ErrIntentNotFound, intentID)
		}
		return IntentStatus{
			ID:        intentID,
			OrderID:   resp.OrderID,
			RawStatus: resp.TransactionStatus,
			Outcome:   MidtransOutcome(resp.TransactionStatus, resp.FraudStatus),
		}, nil
	})
}

// VerifySignature checks a notification's signature_key:
// SHA512(order_id + status_code + gross_amount + server_key).
func (g *MidtransGateway) VerifySignature(orderID, statusCode, grossAmount, signatureKey string) bool {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + g.serverKey))
	expected := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signatureKey)) == 1
}

// MidtransOutcome maps a Midtrans transaction/fraud status pair onto an Outcome.
func MidtransOutcome(transactionStatus, fraudStatus string) Outcome {
	switch transactionStatus {
	case "settlement":
		return OutcomeSucceeded
	case "capture":
		if fraudStatus == "challenge" {
			return OutcomePending
		}
		return OutcomeSucceeded
	case "deny", "expire", "cancel", "failure":
		return OutcomeFailed
	}
	return OutcomePending
}

type midtransResult[T any] struct {
	resp T
	err  *midtrans.Error
}

// callMidtrans bounds a blocking SDK call by ctx and timeout.
func callMidtrans[T any](ctx context.Context, timeout time.Duration, fn func() (T, *midtrans.Error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan midtransResult[T], 1)
	go func() {
		resp, err := fn()
		done <- midtransResult[T]{resp: resp, err: err}
	}()

	var zero T
	select {
	case <-ctx.Done():
		return zero, fmt.Errorf("%w: midtrans: %w", ErrGatewayUnavailable, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return zero, r.err
		}
		return r.resp, nil
	}
}

// isDuplicateOrderID reports a Snap rejection of an order_id it has seen before.
// The SDK puts the API response body in Message.
func isDuplicateOrderID(err error) bool {
	var me *midtrans.Error
	if !errors.As(err, &me) || me.StatusCode < 400 || me.StatusCode >= 500 {
		return false
	}
	msg := strings.ToLower(me.Message)
	if !strings.Contains(msg, "order_id") {
		return false
	}
	return strings.Contains(msg, "already been taken") ||
		strings.Contains(msg, "already been used") ||
		strings.Contains(msg, "sudah digunakan")
}

func classifyMidtransError(op string, err error) error {
	me, ok := err.(*midtrans.Error)
	if !ok {
		return err
	}
	switch {
	case me.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: midtrans %s: %s", ErrIntentNotFound, op, me.Message)
	case me.StatusCode == 0,
		me.StatusCode == http.StatusTooManyRequests,
		me.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: midtrans %s: %s", ErrGatewayUnavailable, op, me.Message)
	default:
		return fmt.Errorf("%w: midtrans %s: %s", ErrGatewayRejected, op, me.Message)
	}
}
