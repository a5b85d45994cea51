package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/wolfman30/clinic-webhooks/internal/dispatch"
)

var (
	ErrInvoiceNotFound      = fmt.Errorf("payments: invoice %w", dispatch.ErrReferencedEntityNotFound)
	ErrSubscriptionNotFound = fmt.Errorf("payments: subscription %w", dispatch.ErrReferencedEntityNotFound)
)

// Invoice mirrors a row of the invoices table.
type Invoice struct {
	ID                string
	TenantID          string
	CustomerID        string
	SubscriptionID    *string
	AppointmentID     *string
	ProviderInvoiceID string
	Amount            decimal.Decimal
	Status            InvoiceStatus
	PaymentMethod     *string
	PaidDate          *time.Time
}

// Subscription mirrors a row of the subscriptions table.
type Subscription struct {
	ID                     string
	TenantID               string
	CustomerID             string
	PlanID                 string
	ProviderSubscriptionID string
	Status                 SubscriptionStatus
	CanceledAt             *time.Time
}

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxDB is a DB that can open transactions (pgxpool.Pool, pgxmock pool).
type TxDB interface {
	DB
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository persists invoice and subscription status transitions.
type Repository struct {
	pool TxDB
}

// NewRepository creates a repository backed by pgx.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("payments: pgx pool required")
	}
	return &Repository{pool: pool}
}

// NewRepositoryWithDB allows injecting a mocked pool for tests.
func NewRepositoryWithDB(db TxDB) *Repository {
	return &Repository{pool: db}
}

// Queries runs statements against a pool or an open transaction.
type Queries struct {
	db DB
	tx pgx.Tx
}

// Tx returns the transaction the queries run in, nil outside InTx.
func (q *Queries) Tx() pgx.Tx {
	return q.tx
}

// InTx runs fn inside a transaction, committing when fn returns nil.
func (r *Repository) InTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("payments: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&Queries{db: tx, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("payments: commit tx: %w", err)
	}
	return nil
}

// LockInvoiceByProviderID loads the tenant's invoice for a provider id and locks the row.
func (q *Queries) LockInvoiceByProviderID(ctx context.Context, tenantID, providerInvoiceID string) (*Invoice, error) {
	var inv Invoice
	var status string
	err := q.db.QueryRow(ctx, `
		SELECT id, tenant_id, customer_id, subscription_id, appointment_id, provider_invoice_id, amount, status, payment_method, paid_date
		FROM invoices
		WHERE tenant_id = $1 AND provider_invoice_id = $2
		FOR UPDATE`, tenantID, providerInvoiceID,
	).Scan(&inv.ID, &inv.TenantID, &inv.CustomerID, &inv.SubscriptionID, &inv.AppointmentID, &inv.ProviderInvoiceID,
		&inv.Amount, &status, &inv.PaymentMethod, &inv.PaidDate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("payments: load invoice: %w", err)
	}
	inv.Status = InvoiceStatus(status)
	return &inv, nil
}

// SetInvoiceStatus writes a new status. Paid stamps paid_date and payment_method;
// an existing paid_date is kept.
func (q *Queries) SetInvoiceStatus(ctx context.Context, id string, status InvoiceStatus, paymentMethod string, paidAt time.Time) error {
	var method *string
	if paymentMethod != "" {
		method = &paymentMethod
	}
	_, err := q.db.Exec(ctx, `
		UPDATE invoices
		SET status = $2,
		    paid_date = CASE WHEN $2::text = 'paid' THEN COALESCE(paid_date, $3) ELSE paid_date END,
		    payment_method = CASE WHEN $2::text = 'paid' THEN COALESCE($4, payment_method) ELSE payment_method END,
		    updated_at = now()
		WHERE id = $1`, id, string(status), paidAt, method)
	if err != nil {
		return fmt.Errorf("payments: update invoice status: %w", err)
	}
	return nil
}

// LockSubscriptionByProviderID loads the tenant's subscription for a provider id and locks the row.
func (q *Queries) LockSubscriptionByProviderID(ctx context.Context, tenantID, providerSubscriptionID string) (*Subscription, error) {
	var sub Subscription
	var status string
	err := q.db.QueryRow(ctx, `
		SELECT id, tenant_id, customer_id, plan_id, provider_subscription_id, status, canceled_at
		FROM subscriptions
		WHERE tenant_id = $1 AND provider_subscription_id = $2
		FOR UPDATE`, tenantID, providerSubscriptionID,
	).Scan(&sub.ID, &sub.TenantID, &sub.CustomerID, &sub.PlanID, &sub.ProviderSubscriptionID, &status, &sub.CanceledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("payments: load subscription: %w", err)
	}
	sub.Status = SubscriptionStatus(status)
	return &sub, nil
}

// SetSubscriptionStatus writes a new status; canceled stamps canceled_at once.
func (q *Queries) SetSubscriptionStatus(ctx context.Context, id string, status SubscriptionStatus, at time.Time) error {
	_, err := q.db.Exec(ctx, `
		UPDATE subscriptions
		SET status = $2,
		    canceled_at = CASE WHEN $2::text = 'canceled' THEN COALESCE(canceled_at, $3) ELSE canceled_at END,
		    updated_at = now()
		WHERE id = $1`, id, string(status), at)
	if err != nil {
		return fmt.Errorf("payments: update subscription status: %w", err)
	}
	return nil
}
