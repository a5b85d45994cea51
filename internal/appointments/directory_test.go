package appointments

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-webhooks/internal/dispatch"
)

func TestDirectoryGet(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT id, tenant_id, customer_id, establishment_id").
		WithArgs("tenant-1", "appt-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "tenant_id", "customer_id", "establishment_id"}).
			AddRow("appt-1", "tenant-1", "cust-1", "est-1"))
	mock.ExpectQuery("SELECT service_id, price").
		WithArgs("appt-1").
		WillReturnRows(pgxmock.NewRows([]string{"service_id", "price"}).
			AddRow("svc-cut", decimal.RequireFromString("80.00")).
			AddRow("svc-color", decimal.RequireFromString("120.50")))

	appt, err := NewDirectoryWithDB(mock).Get(context.Background(), "tenant-1", "appt-1")
	require.NoError(t, err)
	assert.Equal(t, "cust-1", appt.CustomerID)
	assert.Len(t, appt.Services, 2)
	assert.Equal(t, "200.5", appt.Total().String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectoryGetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT id, tenant_id, customer_id, establishment_id").
		WithArgs("tenant-1", "missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = NewDirectoryWithDB(mock).Get(context.Background(), "tenant-1", "missing")
	assert.ErrorIs(t, err, dispatch.ErrReferencedEntityNotFound)
}

func TestDirectoryProductUsageKeepsDuplicates(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("FROM appointment_services aps").
		WithArgs("tenant-1", "appt-1").
		WillReturnRows(pgxmock.NewRows([]string{"service_id", "product_id", "quantity"}).
			AddRow("svc-cut", "prod-shampoo", decimal.RequireFromString("1")).
			AddRow("svc-color", "prod-shampoo", decimal.RequireFromString("2")).
			AddRow("svc-color", "prod-dye", decimal.Zero))

	uses, err := NewDirectoryWithDB(mock).ProductUsage(context.Background(), "tenant-1", "appt-1")
	require.NoError(t, err)
	require.Len(t, uses, 3)
	assert.Equal(t, "prod-shampoo", uses[0].ProductID)
	assert.Equal(t, "prod-shampoo", uses[1].ProductID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
