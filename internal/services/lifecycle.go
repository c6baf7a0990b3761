package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"membership_checkout/internal/models"
)

// orderNamespace scopes UUIDv5 order ids derived from idempotency keys.
var orderNamespace = uuid.MustParse("3f0b9c52-4f7e-4d8a-9a57-0c5d2e3b6a41")

const claimTTL = 2 * time.Minute

// PurchaseRequest starts a purchase. Price never comes from the caller.
type PurchaseRequest struct {
	Identity       Identity
	PackageName    string
	IdempotencyKey string
}

// PurchaseResult is what the caller needs to confirm payment at the gateway.
type PurchaseResult struct {
	OrderID         string             `json:"order_id"`
	GatewayIntentID string             `json:"gateway_intent_id"`
	ClientSecret    string             `json:"client_secret"`
	Amount          int64              `json:"amount"`
	Currency        string             `json:"currency"`
	Status          models.OrderStatus `json:"status"`
	Deferred        bool               `json:"deferred"`
}

// ReportResult is the order after a status report. Applied is true only for
// the call that performed the transition.
type ReportResult struct {
	Order   *models.PaymentOrder
	Applied bool
}

// ReconcileSummary counts the results of a stale-order sweep.
type ReconcileSummary struct {
	Checked   int `json:"checked"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
	Errors    int `json:"errors"`
}

// LifecycleOptions tunes OrderLifecycle. Zero values take defaults.
type LifecycleOptions struct {
	RetryAttempts  int
	RetryBaseDelay time.Duration
	IdempotencyTTL time.Duration
	PersistTimeout time.Duration
	Effects        []TransitionEffect
	Now            func() time.Time
}

// OrderLifecycle creates payment orders and reconciles them with gateway reports.
type OrderLifecycle struct {
	catalog  Catalog
	gateway  Gateway
	store    OrderStore
	idem     IdempotencyStore
	deferred DeferredOrderQueue
	logger   *zap.Logger

	retry          retryPolicy
	idemTTL        time.Duration
	persistTimeout time.Duration
	effects        []TransitionEffect
	now            func() time.Time
}

func NewOrderLifecycle(catalog Catalog, gateway Gateway, store OrderStore, idem IdempotencyStore, deferred DeferredOrderQueue, logger *zap.Logger, opts LifecycleOptions) *OrderLifecycle {
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 250 * time.Millisecond
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 5 * time.Second
	}
	if opts.Effects == nil {
		opts.Effects = DefaultEffects()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &OrderLifecycle{
		catalog:  catalog,
		gateway:  gateway,
		store:    store,
		idem:     idem,
		deferred: deferred,
		logger:   logger,
		retry: retryPolicy{
			attempts:  opts.RetryAttempts,
			baseDelay: opts.RetryBaseDelay,
			maxDelay:  4 * opts.RetryBaseDelay,
		},
		idemTTL:        opts.IdempotencyTTL,
		persistTimeout: opts.PersistTimeout,
		effects:        opts.Effects,
		now:            opts.Now,
	}
}

// InitiatePurchase creates a gateway intent for a catalog package and records a
// PENDING order. A repeated call with the same idempotency key returns the first
// result. Once the gateway has created the intent the call succeeds even if the
// order insert fails; the insert is then queued for retry.
func (l *OrderLifecycle) InitiatePurchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	if req.Identity.UID == "" {
		return nil, ErrUnauthenticated
	}

	pkg, err := l.catalog.Lookup(ctx, req.PackageName)
	if err != nil {
		return nil, err
	}

	log := l.logger.With(zap.String("user_uid", req.Identity.UID), zap.String("package", pkg.Name))

	key := strings.TrimSpace(req.IdempotencyKey)
	orderID := uuid.NewString()
	var scopedKey string

	if key != "" {
		scopedKey = req.Identity.UID + ":" + key
		if prev := l.previousResult(ctx, req.Identity.UID, key, scopedKey); prev != nil {
			log.Info("Returning result of earlier purchase request", zap.String("order_id", prev.OrderID))
			return prev, nil
		}

		claimed, err := l.idem.Claim(ctx, scopedKey, claimTTL)
		switch {
		case err != nil:
			// The gateway idempotency key and the unique index still dedupe.
			log.Warn("Idempotency claim unavailable", zap.Error(err))
		case !claimed:
			return nil, ErrRequestInProgress
		default:
			defer func() {
				if err := l.idem.Release(context.WithoutCancel(ctx), scopedKey); err != nil {
					log.Warn("Failed to release idempotency claim", zap.Error(err))
				}
			}()
			// a concurrent holder may have finished between the lookup and the claim
			if prev := l.previousResult(ctx, req.Identity.UID, key, scopedKey); prev != nil {
				return prev, nil
			}
		}

		// Same key, same order id: a retry after a gateway timeout reuses
		// whatever intent the first attempt created.
		orderID = uuid.NewSHA1(orderNamespace, []byte(req.Identity.UID+"\x00"+key)).String()
	}

	log = log.With(zap.String("order_id", orderID))

	customer, err := withRetry(ctx, l.retry, func(ctx context.Context) (CustomerRef, error) {
		return l.gateway.CreateCustomer(ctx, req.Identity, "cus-"+orderID)
	})
	if err != nil {
		log.Warn("Gateway customer creation failed", zap.Error(err))
		return nil, setupFailed(err)
	}

	amount := pkg.AmountMinor()
	intent, err := withRetry(ctx, l.retry, func(ctx context.Context) (IntentRef, error) {
		return l.gateway.CreateIntent(ctx, IntentRequest{
			Customer: customer,
			Amount:   amount,
			Currency: pkg.Currency,
			Metadata: map[string]string{
				"order_id":     orderID,
				"package_name": pkg.Name,
				"user_uid":     req.Identity.UID,
			},
			IdempotencyKey: "pi-" + orderID,
		})
	})
	if err != nil {
		log.Warn("Gateway intent creation failed", zap.Error(err))
		return nil, setupFailed(err)
	}

	now := l.now().UTC()
	order := &models.PaymentOrder{
		OrderID:           orderID,
		GatewayIntentID:   intent.ID,
		Gateway:           l.gateway.Provider(),
		UserUID:           req.Identity.UID,
		CustomerEmail:     req.Identity.Email,
		GatewayCustomerID: customer.ID,
		PackageName:       pkg.Name,
		AmountMinorUnits:  amount,
		Currency:          pkg.Currency,
		ClientSecret:      intent.ClientSecret,
		Status:            models.OrderStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if key != "" {
		order.IdempotencyKey = &key
	}

	result := resultFromOrder(order)

	// The intent exists at the gateway now; the caller going away must not stop
	// the writes below. Each write gets its own budget so a hung insert cannot
	// starve the deferred queue.
	insertCtx, cancel := l.persistContext(ctx)
	err = l.store.Insert(insertCtx, order)
	cancel()
	if err != nil {
		pushCtx, cancel := l.persistContext(ctx)
		l.deferPersistence(pushCtx, order, err)
		cancel()
		result.Deferred = true
	}

	if scopedKey != "" {
		rememberCtx, cancel := l.persistContext(ctx)
		if err := l.idem.Remember(rememberCtx, scopedKey, *result, l.idemTTL); err != nil {
			log.Warn("Failed to remember purchase result", zap.Error(err))
		}
		cancel()
	}

	log.Info("Purchase initiated",
		zap.String("gateway_intent_id", intent.ID),
		zap.Int64("amount", amount),
		zap.Bool("deferred", result.Deferred),
	)
	return result, nil
}

func (l *OrderLifecycle) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), l.persistTimeout)
}

func (l *OrderLifecycle) previousResult(ctx context.Context, userUID, key, scopedKey string) *PurchaseResult {
	order, err := l.store.FindByIdempotencyKey(ctx, userUID, key)
	if err == nil {
		return resultFromOrder(order)
	}
	if !errors.Is(err, ErrOrderNotFound) {
		l.logger.Warn("Idempotency lookup in order store failed", zap.Error(err))
	}

	// an order whose insert was deferred is only known to the idempotency store
	res, err := l.idem.Recall(ctx, scopedKey)
	if err != nil {
		l.logger.Warn("Idempotency recall failed", zap.Error(err))
		return nil
	}
	return res
}

func (l *OrderLifecycle) deferPersistence(ctx context.Context, order *models.PaymentOrder, cause error) {
	log := l.logger.With(
		zap.String("order_id", order.OrderID),
		zap.String("gateway_intent_id", order.GatewayIntentID),
	)
	log.Error("Order insert failed after gateway intent was created; deferring", zap.Error(cause))

	item := DeferredOrder{
		Order:         *order,
		ClientSecret:  order.ClientSecret,
		Attempts:      1,
		FirstFailedAt: l.now().UTC(),
		LastError:     cause.Error(),
	}
	if err := l.deferred.Push(ctx, item); err != nil {
		// Last resort: the full order is in this log line for manual recovery.
		log.Error("Failed to queue deferred order",
			zap.Error(err),
			zap.Any("order", order),
		)
	}
}

// FlushDeferred retries up to max deferred inserts. It stops at the first
// failure, leaving that item queued.
func (l *OrderLifecycle) FlushDeferred(ctx context.Context, max int) (int, error) {
	flushed := 0
	for i := 0; i < max; i++ {
		item, err := l.deferred.Pop(ctx)
		if err != nil {
			return flushed, fmt.Errorf("pop deferred order: %w", err)
		}
		if item == nil {
			break
		}

		order := item.Order
		order.ClientSecret = item.ClientSecret
		if err := l.store.Insert(ctx, &order); err != nil {
			item.Attempts++
			item.LastError = err.Error()
			if pushErr := l.deferred.Push(context.WithoutCancel(ctx), *item); pushErr != nil {
				l.logger.Error("Failed to requeue deferred order",
					zap.String("order_id", order.OrderID),
					zap.Error(pushErr),
					zap.Any("order", order),
				)
			}
			return flushed, fmt.Errorf("%w: %w", ErrPersistenceDeferred, err)
		}

		l.logger.Info("Deferred order persisted",
			zap.String("order_id", order.OrderID),
			zap.String("gateway_intent_id", order.GatewayIntentID),
			zap.Int("attempt", item.Attempts+1),
		)
		flushed++
	}
	return flushed, nil
}

// ReportStatus applies a reported outcome to the order for gatewayIntentID.
// Reports for unknown intents fail with ErrOrderNotFound and never create orders.
// Reports for terminal orders, and non-terminal outcomes, change nothing.
func (l *OrderLifecycle) ReportStatus(ctx context.Context, gatewayIntentID string, outcome Outcome) (*ReportResult, error) {
	if gatewayIntentID == "" {
		return nil, ErrOrderNotFound
	}

	target, terminal := outcome.TargetStatus()
	if !terminal {
		if outcome != OutcomePending {
			return nil, fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
		}
		order, err := l.store.FindByIntentID(ctx, gatewayIntentID)
		if err != nil {
			return nil, err
		}
		return &ReportResult{Order: order}, nil
	}

	var effects []TransitionEffect
	if target == models.OrderStatusComplete {
		effects = l.effects
	}

	order, applied, err := l.store.Transition(ctx, gatewayIntentID, target, l.now().UTC(), effects...)
	if err != nil {
		if !errors.Is(err, ErrOrderNotFound) {
			l.logger.Error("Order transition failed",
				zap.String("gateway_intent_id", gatewayIntentID),
				zap.String("outcome", string(outcome)),
				zap.Error(err),
			)
		}
		return nil, err
	}

	log := l.logger.With(
		zap.String("order_id", order.OrderID),
		zap.String("gateway_intent_id", gatewayIntentID),
		zap.String("status", string(order.Status)),
	)
	if applied {
		log.Info("Order transitioned", zap.String("outcome", string(outcome)))
	} else {
		log.Info("Duplicate or late status report ignored", zap.String("outcome", string(outcome)))
	}
	return &ReportResult{Order: order, Applied: applied}, nil
}

// CheckStatus handles a client-initiated status report. The claimed outcome is
// confirmed against the gateway, and the gateway's answer is what gets applied.
func (l *OrderLifecycle) CheckStatus(ctx context.Context, identity Identity, gatewayIntentID string, claimed Outcome) (*ReportResult, error) {
	order, err := l.store.FindByIntentID(ctx, gatewayIntentID)
	if err != nil {
		return nil, err
	}
	if order.UserUID != identity.UID {
		return nil, ErrOrderNotFound
	}
	if order.Status.IsTerminal() {
		return &ReportResult{Order: order}, nil
	}

	status, err := withRetry(ctx, l.retry, func(ctx context.Context) (IntentStatus, error) {
		return l.gateway.RetrieveIntent(ctx, gatewayIntentID)
	})
	if err != nil {
		return nil, err
	}
	if status.Outcome != claimed {
		l.logger.Warn("Client-reported outcome differs from gateway",
			zap.String("order_id", order.OrderID),
			zap.String("claimed", string(claimed)),
			zap.String("gateway", status.RawStatus),
		)
	}
	return l.ReportStatus(ctx, gatewayIntentID, status.Outcome)
}

// Reconcile polls the gateway for a PENDING order and applies the result.
func (l *OrderLifecycle) Reconcile(ctx context.Context, orderID string) (*ReportResult, error) {
	order, err := l.store.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		return &ReportResult{Order: order}, nil
	}

	status, err := withRetry(ctx, l.retry, func(ctx context.Context) (IntentStatus, error) {
		return l.gateway.RetrieveIntent(ctx, order.GatewayIntentID)
	})
	if err != nil {
		l.logger.Warn("Reconcile could not retrieve intent",
			zap.String("order_id", orderID),
			zap.String("gateway_intent_id", order.GatewayIntentID),
			zap.Error(err),
		)
		return nil, err
	}
	return l.ReportStatus(ctx, order.GatewayIntentID, status.Outcome)
}

// ReconcileStale reconciles up to limit PENDING orders created more than olderThan ago.
func (l *OrderLifecycle) ReconcileStale(ctx context.Context, olderThan time.Duration, limit int) (ReconcileSummary, error) {
	var summary ReconcileSummary

	orders, err := l.store.ListStalePending(ctx, l.now().UTC().Add(-olderThan), limit)
	if err != nil {
		return summary, err
	}

	for _, order := range orders {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Checked++

		res, err := l.Reconcile(ctx, order.OrderID)
		if err != nil {
			summary.Errors++
			continue
		}
		switch res.Order.Status {
		case models.OrderStatusComplete:
			summary.Completed++
		case models.OrderStatusFailed:
			summary.Failed++
		default:
			summary.Pending++
		}
	}

	l.logger.Info("Stale order sweep finished",
		zap.Int("checked", summary.Checked),
		zap.Int("completed", summary.Completed),
		zap.Int("failed", summary.Failed),
		zap.Int("errors", summary.Errors),
	)
	return summary, nil
}

// GetOrder returns an order owned by identity.
func (l *OrderLifecycle) GetOrder(ctx context.Context, identity Identity, orderID string) (*models.PaymentOrder, error) {
	order, err := l.store.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserUID != identity.UID {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func resultFromOrder(order *models.PaymentOrder) *PurchaseResult {
	return &PurchaseResult{
		OrderID:         order.OrderID,
		GatewayIntentID: order.GatewayIntentID,
		ClientSecret:    order.ClientSecret,
		Amount:          order.AmountMinorUnits,
		Currency:        order.Currency,
		Status:          order.Status,
	}
}
