package appointments

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/wolfman30/clinic-webhooks/internal/dispatch"
)

var ErrAppointmentNotFound = fmt.Errorf("appointments: appointment %w", dispatch.ErrReferencedEntityNotFound)

// Appointment is the read model the business-rule handlers need.
type Appointment struct {
	ID              string
	TenantID        string
	CustomerID      string
	EstablishmentID string
	Services        []ServiceLine
}

// ServiceLine is one service performed during an appointment.
type ServiceLine struct {
	ServiceID string
	Price     decimal.Decimal
}

// Total sums the service prices.
func (a *Appointment) Total() decimal.Decimal {
	total := decimal.Zero
	for _, s := range a.Services {
		total = total.Add(s.Price)
	}
	return total
}

// ProductUse is a configured product consumption for one service line.
type ProductUse struct {
	ServiceID string
	ProductID string
	Quantity  decimal.Decimal
}

// DB is the subset of pgx used here; satisfied by pgxpool.Pool, pgx.Tx and pgxmock.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Directory reads appointments and their service/product configuration.
type Directory struct {
	db DB
}

func NewDirectory(pool *pgxpool.Pool) *Directory {
	if pool == nil {
		panic("appointments: pgx pool required")
	}
	return &Directory{db: pool}
}

// NewDirectoryWithDB allows injecting a mock database for testing.
func NewDirectoryWithDB(db DB) *Directory {
	return &Directory{db: db}
}

// WithTx returns a directory reading through tx.
func (d *Directory) WithTx(tx pgx.Tx) *Directory {
	return &Directory{db: tx}
}

// Get loads the tenant's appointment with its service lines.
func (d *Directory) Get(ctx context.Context, tenantID, appointmentID string) (*Appointment, error) {
	var appt Appointment
	err := d.db.QueryRow(ctx, `
		SELECT id, tenant_id, customer_id, establishment_id
		FROM appointments
		WHERE tenant_id = $1 AND id = $2`, tenantID, appointmentID,
	).Scan(&appt.ID, &appt.TenantID, &appt.CustomerID, &appt.EstablishmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("appointments: get: %w", err)
	}

	rows, err := d.db.Query(ctx, `
		SELECT service_id, price
		FROM appointment_services
		WHERE appointment_id = $1
		ORDER BY id`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("appointments: list services: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var line ServiceLine
		if err := rows.Scan(&line.ServiceID, &line.Price); err != nil {
			return nil, fmt.Errorf("appointments: scan service: %w", err)
		}
		appt.Services = append(appt.Services, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("appointments: list services: %w", err)
	}
	return &appt, nil
}

// ProductUsage lists the product consumption configured for every service line of
// the appointment, one entry per (service line, product).
func (d *Directory) ProductUsage(ctx context.Context, tenantID, appointmentID string) ([]ProductUse, error) {
	rows, err := d.db.Query(ctx, `
		SELECT aps.service_id, sp.product_id, sp.quantity
		FROM appointment_services aps
		JOIN service_products sp ON sp.service_id = aps.service_id AND sp.tenant_id = $1
		WHERE aps.appointment_id = $2
		ORDER BY aps.id, sp.product_id`, tenantID, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("appointments: product usage: %w", err)
	}
	defer rows.Close()

	var uses []ProductUse
	for rows.Next() {
		var u ProductUse
		if err := rows.Scan(&u.ServiceID, &u.ProductID, &u.Quantity); err != nil {
			return nil, fmt.Errorf("appointments: scan product usage: %w", err)
		}
		uses = append(uses, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("appointments: product usage: %w", err)
	}
	return uses, nil
}
