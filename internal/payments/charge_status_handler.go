package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/clinic-webhooks/internal/dispatch"
	"github.com/wolfman30/clinic-webhooks/internal/events"
	"github.com/wolfman30/clinic-webhooks/pkg/logging"
)

var errMissingProviderID = errors.New("payments: provider id missing from event data")

// StockContinuation consumes stock for an appointment inside the invoice transaction.
// Running it in the same transaction means a failure rolls back the paid transition and
// the replay repeats both steps.
type StockContinuation interface {
	ConsumeWithin(ctx context.Context, tx pgx.Tx, tenantID, appointmentID string) (int, error)
}

type outboxWriter interface {
	Insert(ctx context.Context, tenantID string, eventType string, payload any) (uuid.UUID, error)
}

type chargeStatusData struct {
	ID            string     `json:"id"`
	Status        string     `json:"status"`
	PaymentMethod string     `json:"payment_method"`
	PaidAt        *time.Time `json:"paid_at"`
}

// ChargeStatusHandler applies charge.status_updated to the matching invoice.
type ChargeStatusHandler struct {
	repo   *Repository
	stock  StockContinuation
	outbox outboxWriter
	logger *logging.Logger
	now    func() time.Time
}

func NewChargeStatusHandler(repo *Repository, stock StockContinuation, outbox outboxWriter, logger *logging.Logger) *ChargeStatusHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ChargeStatusHandler{
		repo:   repo,
		stock:  stock,
		outbox: outbox,
		logger: logger,
		now:    time.Now,
	}
}

func (h *ChargeStatusHandler) Handle(ctx context.Context, evt dispatch.Event) error {
	var data chargeStatusData
	if err := evt.Decode(&data); err != nil {
		return err
	}
	if data.ID == "" {
		return errMissingProviderID
	}
	target := MapInvoiceStatus(data.Status)
	logger := h.logger.With("event_id", evt.ID, "tenant_id", evt.TenantID, "provider_invoice_id", data.ID)

	var paid *Invoice
	err := h.repo.InTx(ctx, func(q *Queries) error {
		inv, err := q.LockInvoiceByProviderID(ctx, evt.TenantID, data.ID)
		if err != nil {
			return err
		}
		if inv.Status == target {
			logger.Debug("invoice already in target status", "status", target)
			return nil
		}
		if !InvoiceTransitionAllowed(inv.Status, target) {
			logger.Warn("ignoring out-of-order invoice transition", "from", inv.Status, "to", target, "provider_status", data.Status)
			return nil
		}

		paidAt := h.now().UTC()
		if data.PaidAt != nil {
			paidAt = data.PaidAt.UTC()
		}
		if err := q.SetInvoiceStatus(ctx, inv.ID, target, data.PaymentMethod, paidAt); err != nil {
			return err
		}
		logger.Info("invoice status updated", "invoice_id", inv.ID, "from", inv.Status, "to", target)

		if target != InvoicePaid {
			return nil
		}
		paid = inv
		if inv.AppointmentID != nil && *inv.AppointmentID != "" && h.stock != nil {
			n, err := h.stock.ConsumeWithin(ctx, q.Tx(), evt.TenantID, *inv.AppointmentID)
			if err != nil {
				return fmt.Errorf("payments: stock consumption for appointment %s: %w", *inv.AppointmentID, err)
			}
			logger.Info("stock consumed after invoice payment", "appointment_id", *inv.AppointmentID, "movements", n)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if paid != nil && h.outbox != nil {
		req := events.NotificationRequestedV1{
			TenantID:    evt.TenantID,
			CustomerID:  paid.CustomerID,
			Template:    "invoice_paid",
			SourceEvent: evt.ID,
			Params:      map[string]string{"invoice_id": paid.ID, "amount": paid.Amount.StringFixed(2)},
			RequestedAt: h.now().UTC(),
		}
		if _, err := h.outbox.Insert(ctx, evt.TenantID, events.NotificationRequestedType, req); err != nil {
			logger.Warn("failed to request payment notification", "error", err)
		}
	}
	return nil
}
