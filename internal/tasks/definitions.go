package tasks

import (
	"time"

	"go.uber.org/zap"

	"membership_checkout/internal/services"
)

// Deps are the collaborators task handlers need.
type Deps struct {
	Orders     OrderSweeper
	Finder     OrderFinder
	Mailer     services.Mailer
	StaleAfter time.Duration
	Logger     *zap.Logger

	// SharedQueue is true when the deferred-order queue lives in Redis.
	SharedQueue bool
}

// DefineTasks registers all available tasks
func DefineTasks(r *Registry, deps Deps) {
	logInfo := &LogInfoTaskDef{logger: deps.Logger}
	r.Register(logInfo.TaskID(), logInfo.HandleExecution)

	reconcile := &ReconcileStaleOrdersTaskDef{orders: deps.Orders, staleAfter: deps.StaleAfter}
	r.Register(reconcile.TaskID(), reconcile.HandleExecution)

	flush := &FlushDeferredOrdersTaskDef{orders: deps.Orders, shared: deps.SharedQueue}
	r.Register(flush.TaskID(), flush.HandleExecution)

	if deps.Mailer != nil {
		receipt := &SendReceiptTaskDef{orders: deps.Finder, mailer: deps.Mailer, logger: deps.Logger}
		r.Register(receipt.TaskID(), receipt.HandleExecution)
	}
}

// RecurringTasks are enqueued by the worker on start.
var RecurringTasks = []struct {
	Name string
	Rule string
}{
	{Name: ReconcileStaleOrdersTaskID, Rule: "FREQ=MINUTELY;INTERVAL=5"},
	{Name: FlushDeferredOrdersTaskID, Rule: "FREQ=MINUTELY;INTERVAL=1"},
}
