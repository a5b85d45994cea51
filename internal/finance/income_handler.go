package finance

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/clinic-webhooks/internal/appointments"
	"github.com/wolfman30/clinic-webhooks/internal/dispatch"
	"github.com/wolfman30/clinic-webhooks/pkg/logging"
)

// ErrNoActiveAccount means the tenant has no active financial account to book income into.
var ErrNoActiveAccount = fmt.Errorf("finance: no active financial account: %w", dispatch.ErrReferencedEntityNotFound)

const (
	TypeIncome    = "INCOME"
	StatusPending = "PENDING"
)

type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AppointmentIncomeHandler books a pending INCOME transaction for a completed appointment.
type AppointmentIncomeHandler struct {
	db        db
	directory *appointments.Directory
	logger    *logging.Logger
}

func NewAppointmentIncomeHandler(pool *pgxpool.Pool, directory *appointments.Directory, logger *logging.Logger) *AppointmentIncomeHandler {
	if pool == nil {
		panic("finance: pgx pool required")
	}
	return newAppointmentIncomeHandler(pool, directory, logger)
}

func newAppointmentIncomeHandler(q db, directory *appointments.Directory, logger *logging.Logger) *AppointmentIncomeHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AppointmentIncomeHandler{db: q, directory: directory, logger: logger}
}

func (h *AppointmentIncomeHandler) Handle(ctx context.Context, evt dispatch.Event) error {
	data, err := appointments.DecodeCompleted(evt)
	if err != nil {
		return err
	}
	logger := h.logger.With("event_id", evt.ID, "tenant_id", evt.TenantID, "appointment_id", data.AppointmentID)

	// Fast path only; the partial unique index decides.
	var exists bool
	if err := h.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM financial_transactions
			WHERE tenant_id = $1 AND appointment_id = $2 AND type = 'INCOME'
		)`, evt.TenantID, data.AppointmentID).Scan(&exists); err != nil {
		return fmt.Errorf("finance: check existing income: %w", err)
	}
	if exists {
		logger.Debug("income already recorded for appointment")
		return nil
	}

	appt, err := h.directory.Get(ctx, evt.TenantID, data.AppointmentID)
	if err != nil {
		return err
	}

	accountID, err := h.activeAccount(ctx, evt.TenantID)
	if err != nil {
		if errors.Is(err, ErrNoActiveAccount) {
			logger.Error("cannot record appointment income: tenant has no active financial account")
		}
		return err
	}

	customerID := appt.CustomerID
	if customerID == "" {
		customerID = data.CustomerID
	}
	amount := appt.Total()
	tag, err := h.db.Exec(ctx, `
		INSERT INTO financial_transactions (id, tenant_id, customer_id, appointment_id, account_id, type, amount, status, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (appointment_id) WHERE type = 'INCOME' DO NOTHING`,
		uuid.New(), evt.TenantID, customerID, appt.ID, accountID, TypeIncome, amount, StatusPending,
		fmt.Sprintf("Appointment %s", appt.ID))
	if err != nil {
		return fmt.Errorf("finance: insert income: %w", err)
	}
	if tag.RowsAffected() == 0 {
		logger.Info("income for appointment recorded concurrently; skipping")
		return nil
	}
	logger.Info("appointment income recorded", "account_id", accountID, "amount", amount.StringFixed(2))
	return nil
}

func (h *AppointmentIncomeHandler) activeAccount(ctx context.Context, tenantID string) (string, error) {
	var id string
	err := h.db.QueryRow(ctx, `
		SELECT id FROM financial_accounts
		WHERE tenant_id = $1 AND is_active
		ORDER BY created_at, id
		LIMIT 1`, tenantID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNoActiveAccount
		}
		return "", fmt.Errorf("finance: resolve active account: %w", err)
	}
	return id, nil
}
