package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-webhooks/internal/appointments"
	"github.com/wolfman30/clinic-webhooks/internal/dispatch"
	"github.com/wolfman30/clinic-webhooks/pkg/logging"
)

func completedEvent(t *testing.T, appointmentID string) dispatch.Event {
	t.Helper()
	raw, err := json.Marshal(map[string]string{"appointmentId": appointmentID, "customerId": "cust-1"})
	require.NoError(t, err)
	return dispatch.Event{Type: dispatch.EventAppointmentCompleted, ID: "evt-1", TenantID: "tenant-1", Data: raw}
}

func expectAppointment(mock pgxmock.PgxPoolIface) {
	mock.ExpectQuery("SELECT id, tenant_id, customer_id, establishment_id").
		WithArgs("tenant-1", "appt-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "tenant_id", "customer_id", "establishment_id"}).
			AddRow("appt-1", "tenant-1", "cust-1", "est-1"))
	mock.ExpectQuery("SELECT service_id, price").
		WithArgs("appt-1").
		WillReturnRows(pgxmock.NewRows([]string{"service_id", "price"}).
			AddRow("svc-cut", decimal.RequireFromString("80")).
			AddRow("svc-color", decimal.RequireFromString("120")))
}

func TestStockConsumer_OneMovementPerServiceProduct(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	expectAppointment(mock)
	mock.ExpectQuery("FROM appointment_services aps").
		WithArgs("tenant-1", "appt-1").
		WillReturnRows(pgxmock.NewRows([]string{"service_id", "product_id", "quantity"}).
			AddRow("svc-cut", "prod-shampoo", decimal.RequireFromString("1")).
			AddRow("svc-color", "prod-shampoo", decimal.RequireFromString("2")).
			AddRow("svc-color", "prod-gloves", decimal.Zero))
	mock.ExpectExec("INSERT INTO stock_movements").
		WithArgs(pgxmock.AnyArg(), "tenant-1", "est-1", "prod-shampoo", decimal.RequireFromString("1"), MovementOut, ReasonServiceConsumption, pgxmock.AnyArg(), "appt-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO stock_movements").
		WithArgs(pgxmock.AnyArg(), "tenant-1", "est-1", "prod-shampoo", decimal.RequireFromString("2"), MovementOut, ReasonServiceConsumption, pgxmock.AnyArg(), "appt-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	dir := appointments.NewDirectoryWithDB(mock)
	consumer := newStockConsumer(mock, dir, logging.Discard())
	require.NoError(t, consumer.Handle(context.Background(), completedEvent(t, "appt-1")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStockConsumer_InsertFailureRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	expectAppointment(mock)
	mock.ExpectQuery("FROM appointment_services aps").
		WithArgs("tenant-1", "appt-1").
		WillReturnRows(pgxmock.NewRows([]string{"service_id", "product_id", "quantity"}).
			AddRow("svc-cut", "prod-shampoo", decimal.RequireFromString("1")))
	mock.ExpectExec("INSERT INTO stock_movements").WillReturnError(errors.New("fk violation"))
	mock.ExpectRollback()

	consumer := newStockConsumer(mock, appointments.NewDirectoryWithDB(mock), logging.Discard())
	err = consumer.Handle(context.Background(), completedEvent(t, "appt-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prod-shampoo")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStockConsumer_MissingAppointmentID(t *testing.T) {
	consumer := newStockConsumer(nil, nil, logging.Discard())
	err := consumer.Handle(context.Background(), completedEvent(t, ""))
	assert.ErrorIs(t, err, appointments.ErrMissingAppointmentID)
}
