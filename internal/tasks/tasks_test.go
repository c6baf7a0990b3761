package tasks

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"membership_checkout/internal/models"
	"membership_checkout/internal/services"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)
	return gormDB, mock
}

type fakeSweeper struct {
	olderThan time.Duration
	limit     int
	flushMax  int
	flushErr  error
}

func (f *fakeSweeper) ReconcileStale(ctx context.Context, olderThan time.Duration, limit int) (services.ReconcileSummary, error) {
	f.olderThan, f.limit = olderThan, limit
	return services.ReconcileSummary{Checked: 3, Completed: 1, Failed: 1, Pending: 1}, nil
}

func (f *fakeSweeper) FlushDeferred(ctx context.Context, max int) (int, error) {
	f.flushMax = max
	return 2, f.flushErr
}

type fakeFinder map[string]*models.PaymentOrder

func (f fakeFinder) FindByID(ctx context.Context, orderID string) (*models.PaymentOrder, error) {
	if o, ok := f[orderID]; ok {
		return o, nil
	}
	return nil, services.ErrOrderNotFound
}

type fakeMailer struct {
	to      []string
	subject string
	err     error
}

func (m *fakeMailer) SendEmail(to []string, subject, body string) error {
	m.to, m.subject = to, subject
	return m.err
}

func newTestRegistry(sweeper *fakeSweeper, finder fakeFinder, mailer *fakeMailer) *Registry {
	r := NewRegistry()
	DefineTasks(r, Deps{
		Orders:      sweeper,
		Finder:      finder,
		Mailer:      mailer,
		StaleAfter:  30 * time.Minute,
		Logger:      zap.NewNop(),
		SharedQueue: true,
	})
	return r
}

func TestDefineTasksRegistersAll(t *testing.T) {
	r := newTestRegistry(&fakeSweeper{}, fakeFinder{}, &fakeMailer{})

	assert.ElementsMatch(t, []string{
		"log_info",
		ReconcileStaleOrdersTaskID,
		FlushDeferredOrdersTaskID,
		services.SendReceiptTaskName,
	}, r.Names())
}

func TestReconcileStaleOrdersTask(t *testing.T) {
	sweeper := &fakeSweeper{}
	r := newTestRegistry(sweeper, fakeFinder{}, &fakeMailer{})
	handler, ok := r.Get(ReconcileStaleOrdersTaskID)
	require.True(t, ok)

	result, err := handler(context.Background(), models.ScheduledTask{Arguments: map[string]interface{}{}})
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, sweeper.olderThan)
	assert.Equal(t, 100, sweeper.limit)
	assert.Equal(t, 3, result["checked"])

	_, err = handler(context.Background(), models.ScheduledTask{Arguments: map[string]interface{}{
		"older_than": "2h",
		"limit":      float64(5),
	}})
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, sweeper.olderThan)
	assert.Equal(t, 5, sweeper.limit)
}

func TestFlushDeferredOrdersTask(t *testing.T) {
	sweeper := &fakeSweeper{flushErr: services.ErrPersistenceDeferred}
	r := newTestRegistry(sweeper, fakeFinder{}, &fakeMailer{})
	handler, _ := r.Get(FlushDeferredOrdersTaskID)

	result, err := handler(context.Background(), models.ScheduledTask{})
	assert.ErrorIs(t, err, services.ErrPersistenceDeferred)
	assert.Equal(t, 2, result["flushed"])
	assert.Equal(t, 50, sweeper.flushMax)
}

func TestFlushDeferredOrdersTask_LocalQueueSkipped(t *testing.T) {
	sweeper := &fakeSweeper{}
	r := NewRegistry()
	DefineTasks(r, Deps{Orders: sweeper, Logger: zap.NewNop()})
	handler, ok := r.Get(FlushDeferredOrdersTaskID)
	require.True(t, ok)

	result, err := handler(context.Background(), models.ScheduledTask{})
	require.NoError(t, err)
	assert.Equal(t, "skipped", result["status"])
	assert.Zero(t, sweeper.flushMax, "local queue must not be drained")
}

func TestSendReceiptTask(t *testing.T) {
	finder := fakeFinder{
		"done":    {OrderID: "done", PackageName: "premium", CustomerEmail: "u@example.com", Status: models.OrderStatusComplete, AmountMinorUnits: 14900, Currency: "thb"},
		"pending": {OrderID: "pending", CustomerEmail: "u@example.com", Status: models.OrderStatusPending},
	}
	mailer := &fakeMailer{}
	r := newTestRegistry(&fakeSweeper{}, finder, mailer)
	handler, _ := r.Get(services.SendReceiptTaskName)

	result, err := handler(context.Background(), models.ScheduledTask{Arguments: map[string]interface{}{"order_id": "done"}})
	require.NoError(t, err)
	assert.Equal(t, "sent", result["status"])
	assert.Equal(t, []string{"u@example.com"}, mailer.to)
	assert.Contains(t, mailer.subject, "premium")

	result, err = handler(context.Background(), models.ScheduledTask{Arguments: map[string]interface{}{"order_id": "pending"}})
	require.NoError(t, err)
	assert.Equal(t, "skipped", result["status"])

	_, err = handler(context.Background(), models.ScheduledTask{Arguments: map[string]interface{}{}})
	assert.Error(t, err)

	mailer.err = errors.New("smtp down")
	_, err = handler(context.Background(), models.ScheduledTask{Arguments: map[string]interface{}{"order_id": "done"}})
	assert.Error(t, err)
}

func TestNextTaskState(t *testing.T) {
	due := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := due.Add(2 * time.Minute)
	rule := "FREQ=MINUTELY;INTERVAL=5"

	oneTime := models.ScheduledTask{TaskType: models.ScheduledTaskTypeOneTime, Due: due}
	status, next := nextTaskState(oneTime, true, now)
	assert.Equal(t, models.ScheduledTaskStatusDone, status)
	assert.Equal(t, due, next)

	status, _ = nextTaskState(oneTime, false, now)
	assert.Equal(t, models.ScheduledTaskStatusFailure, status)

	recurring := models.ScheduledTask{TaskType: models.ScheduledTaskTypeRecurring, Due: due, RecurringInterval: &rule}
	status, next = nextTaskState(recurring, true, now)
	assert.Equal(t, models.ScheduledTaskStatusActive, status)
	assert.Equal(t, due.Add(5*time.Minute), next)

	status, next = nextTaskState(recurring, false, now)
	assert.Equal(t, models.ScheduledTaskStatusActive, status, "failed sweeps still run next time")
	assert.Equal(t, due.Add(5*time.Minute), next)

	broken := "nonsense"
	bad := models.ScheduledTask{TaskType: models.ScheduledTaskTypeRecurring, Due: due, RecurringInterval: &broken}
	status, _ = nextTaskState(bad, false, now)
	assert.Equal(t, models.ScheduledTaskStatusFailure, status)
}

func TestEnqueueWithDedupKey(t *testing.T) {
	gormDB, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "scheduled_tasks"`) + ".*" + regexp.QuoteMeta(`ON CONFLICT ("dedup_key") DO NOTHING RETURNING "id"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	created, err := EnsureRecurring(context.Background(), gormDB, ReconcileStaleOrdersTaskID, "FREQ=MINUTELY;INTERVAL=5", map[string]interface{}{}, time.Now())
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildScheduledTask(t *testing.T) {
	due := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	task, err := BuildScheduledTask("log_info", struct {
		Message string `json:"message"`
	}{"hello"}, due, nil, models.ScheduledTaskTypeOneTime, 2)
	require.NoError(t, err)

	assert.Equal(t, "hello", task.Arguments["message"])
	assert.Equal(t, models.ScheduledTaskStatusActive, task.Status)
	assert.Equal(t, 2, task.MaxAttempt)
	assert.Nil(t, task.DedupKey)
}
