package services

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"membership_checkout/internal/models"
)

func completedOrder(email string) *models.PaymentOrder {
	return &models.PaymentOrder{
		OrderID:       "order-1",
		UserUID:       "user-1",
		CustomerEmail: email,
		PackageName:   "premium",
		Status:        models.OrderStatusComplete,
		UpdatedAt:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestEntitlementEffect(t *testing.T) {
	gormDB, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "entitlements"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	err := EntitlementEffect{}.Apply(context.Background(), gormDB, completedOrder(""))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReceiptEffect(t *testing.T) {
	gormDB, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "scheduled_tasks"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectCommit()

	err := ReceiptEffect{}.Apply(context.Background(), gormDB, completedOrder("u@example.com"))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEffectsSkipWhenNotApplicable(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	ctx := context.Background()

	failed := completedOrder("u@example.com")
	failed.Status = models.OrderStatusFailed

	assert.NoError(t, EntitlementEffect{}.Apply(ctx, gormDB, failed))
	assert.NoError(t, ReceiptEffect{}.Apply(ctx, gormDB, failed))
	assert.NoError(t, ReceiptEffect{}.Apply(ctx, gormDB, completedOrder("")))
	assert.NoError(t, mock.ExpectationsWereMet())
}
