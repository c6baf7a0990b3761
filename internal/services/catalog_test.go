package services

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"membership_checkout/internal/models"
)

func TestStaticCatalogLookup(t *testing.T) {
	catalog := NewStaticCatalog(append(DefaultPackages, models.Package{Name: "legacy", Price: 10, Currency: "thb"})...)

	pkg, err := catalog.Lookup(context.Background(), "  Premium ")
	require.NoError(t, err)
	assert.Equal(t, int64(149), pkg.Price)
	assert.Equal(t, int64(14900), pkg.AmountMinor())

	_, err = catalog.Lookup(context.Background(), "platinum")
	assert.ErrorIs(t, err, ErrUnknownPackage)

	_, err = catalog.Lookup(context.Background(), "legacy")
	assert.ErrorIs(t, err, ErrUnknownPackage, "inactive packages cannot be bought")
}

func TestGormCatalogLookup(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	catalog := NewGormCatalog(gormDB, nil, 0)

	mock.ExpectQuery(`SELECT \* FROM "packages" WHERE .*name = \$1 AND is_active = \$2`).
		WithArgs("vip", true, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "price", "currency", "is_active"}).
			AddRow(3, "vip", 299, "thb", true))

	pkg, err := catalog.Lookup(context.Background(), "VIP")
	require.NoError(t, err)
	assert.Equal(t, int64(29900), pkg.AmountMinor())

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "packages"`)).
		WithArgs("gold", true, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = catalog.Lookup(context.Background(), "gold")
	assert.ErrorIs(t, err, ErrUnknownPackage)

	_, err = catalog.Lookup(context.Background(), " ")
	assert.ErrorIs(t, err, ErrUnknownPackage)
	assert.NoError(t, mock.ExpectationsWereMet())
}
