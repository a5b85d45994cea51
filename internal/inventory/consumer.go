package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/clinic-webhooks/internal/appointments"
	"github.com/wolfman30/clinic-webhooks/internal/dispatch"
	"github.com/wolfman30/clinic-webhooks/pkg/logging"
)

const (
	MovementOut              = "OUT"
	ReasonServiceConsumption = "SERVICE_CONSUMPTION"
)

type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// StockConsumer writes OUT movements for the products consumed by an appointment's services.
type StockConsumer struct {
	db        beginner
	directory *appointments.Directory
	logger    *logging.Logger
}

func NewStockConsumer(pool *pgxpool.Pool, directory *appointments.Directory, logger *logging.Logger) *StockConsumer {
	if pool == nil {
		panic("inventory: pgx pool required")
	}
	return newStockConsumer(pool, directory, logger)
}

func newStockConsumer(db beginner, directory *appointments.Directory, logger *logging.Logger) *StockConsumer {
	if logger == nil {
		logger = logging.Default()
	}
	return &StockConsumer{db: db, directory: directory, logger: logger}
}

// Handle consumes stock for an appointment.completed event.
func (c *StockConsumer) Handle(ctx context.Context, evt dispatch.Event) error {
	data, err := appointments.DecodeCompleted(evt)
	if err != nil {
		return err
	}
	tx, err := c.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("inventory: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	n, err := c.ConsumeWithin(ctx, tx, evt.TenantID, data.AppointmentID)
	if err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("inventory: commit tx: %w", err)
	}
	c.logger.Info("stock consumed for completed appointment",
		"event_id", evt.ID, "tenant_id", evt.TenantID, "appointment_id", data.AppointmentID, "movements", n)
	return nil
}

// ConsumeWithin inserts one OUT movement per (service, product) pairing with a positive
// quantity, inside tx. Products repeated across services produce separate movements.
func (c *StockConsumer) ConsumeWithin(ctx context.Context, tx pgx.Tx, tenantID, appointmentID string) (int, error) {
	dir := c.directory.WithTx(tx)
	appt, err := dir.Get(ctx, tenantID, appointmentID)
	if err != nil {
		return 0, err
	}
	uses, err := dir.ProductUsage(ctx, tenantID, appointmentID)
	if err != nil {
		return 0, err
	}

	inserted := 0
	for _, use := range uses {
		if !use.Quantity.IsPositive() {
			continue
		}
		notes := fmt.Sprintf("appointment %s, service %s", appointmentID, use.ServiceID)
		_, err := tx.Exec(ctx, `
			INSERT INTO stock_movements (id, tenant_id, establishment_id, product_id, quantity, type, reason, notes, appointment_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			uuid.New(), tenantID, appt.EstablishmentID, use.ProductID, use.Quantity, MovementOut, ReasonServiceConsumption, notes, appointmentID)
		if err != nil {
			return inserted, fmt.Errorf("inventory: insert movement for product %s: %w", use.ProductID, err)
		}
		inserted++
	}
	return inserted, nil
}
