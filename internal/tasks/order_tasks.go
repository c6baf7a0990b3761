package tasks

import (
	"context"
	"time"

	"membership_checkout/internal/models"
	"membership_checkout/internal/services"
)

const (
	ReconcileStaleOrdersTaskID = "reconcile_stale_orders"
	FlushDeferredOrdersTaskID  = "flush_deferred_orders"
)

// OrderSweeper is the part of the order lifecycle used by background tasks.
type OrderSweeper interface {
	ReconcileStale(ctx context.Context, olderThan time.Duration, limit int) (services.ReconcileSummary, error)
	FlushDeferred(ctx context.Context, max int) (int, error)
}

// ReconcileStaleOrdersTaskDef polls the gateway for orders stuck in PENDING.
// Arguments: older_than (duration string), limit (number).
type ReconcileStaleOrdersTaskDef struct {
	orders     OrderSweeper
	staleAfter time.Duration
}

func (t *ReconcileStaleOrdersTaskDef) TaskID() string {
	return ReconcileStaleOrdersTaskID
}

func (t *ReconcileStaleOrdersTaskDef) HandleExecution(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
	olderThan := durationArg(task.Arguments, "older_than", t.staleAfter)
	limit := intArg(task.Arguments, "limit", 100)

	summary, err := t.orders.ReconcileStale(ctx, olderThan, limit)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"checked":   summary.Checked,
		"completed": summary.Completed,
		"failed":    summary.Failed,
		"pending":   summary.Pending,
		"errors":    summary.Errors,
	}, nil
}

// FlushDeferredOrdersTaskDef retries order inserts that failed after intent creation.
// It only runs when the deferred queue is shared with the server.
// Arguments: max (number).
type FlushDeferredOrdersTaskDef struct {
	orders OrderSweeper
	shared bool
}

func (t *FlushDeferredOrdersTaskDef) TaskID() string {
	return FlushDeferredOrdersTaskID
}

func (t *FlushDeferredOrdersTaskDef) HandleExecution(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
	if !t.shared {
		return map[string]interface{}{"status": "skipped", "reason": "deferred queue is local to the server"}, nil
	}
	flushed, err := t.orders.FlushDeferred(ctx, intArg(task.Arguments, "max", 50))
	result := map[string]interface{}{"flushed": flushed}
	if err != nil {
		return result, err
	}
	return result, nil
}
