package loyalty

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wolfman30/clinic-webhooks/internal/appointments"
	"github.com/wolfman30/clinic-webhooks/internal/dispatch"
	"github.com/wolfman30/clinic-webhooks/internal/events"
	"github.com/wolfman30/clinic-webhooks/pkg/logging"
)

var errMissingCustomer = errors.New("loyalty: customerId missing from event data")

type outboxWriter interface {
	Insert(ctx context.Context, tenantID string, eventType string, payload any) (uuid.UUID, error)
}

type paymentCompleted struct {
	ID            string          `json:"id"`
	CustomerID    string          `json:"customerId"`
	Amount        decimal.Decimal `json:"amount"`
	AppointmentID string          `json:"appointmentId"`
}

// Handlers adapts the engine to payment.completed and appointment.completed events.
type Handlers struct {
	engine    *Engine
	directory *appointments.Directory
	outbox    outboxWriter
	logger    *logging.Logger
	now       func() time.Time
}

func NewHandlers(engine *Engine, directory *appointments.Directory, outbox outboxWriter, logger *logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handlers{engine: engine, directory: directory, outbox: outbox, logger: logger, now: time.Now}
}

// PaymentCompleted accrues purchase points.
func (h *Handlers) PaymentCompleted(ctx context.Context, evt dispatch.Event) error {
	var data paymentCompleted
	if err := evt.Decode(&data); err != nil {
		return err
	}
	if data.CustomerID == "" {
		return errMissingCustomer
	}
	accrual, err := h.engine.AccrueForTransaction(ctx, data.CustomerID, evt.TenantID, data.Amount, data.AppointmentID)
	if err != nil {
		return err
	}
	h.notify(ctx, evt, data.CustomerID, accrual)
	return nil
}

// AppointmentCompleted accrues visit points.
func (h *Handlers) AppointmentCompleted(ctx context.Context, evt dispatch.Event) error {
	data, err := appointments.DecodeCompleted(evt)
	if err != nil {
		return err
	}
	customerID := data.CustomerID
	if customerID == "" {
		if h.directory == nil {
			return errMissingCustomer
		}
		appt, err := h.directory.Get(ctx, evt.TenantID, data.AppointmentID)
		if err != nil {
			return err
		}
		customerID = appt.CustomerID
	}
	accrual, err := h.engine.AccrueForVisit(ctx, customerID, evt.TenantID, data.AppointmentID)
	if err != nil {
		return err
	}
	h.notify(ctx, evt, customerID, accrual)
	return nil
}

func (h *Handlers) notify(ctx context.Context, evt dispatch.Event, customerID string, accrual Accrual) {
	if h.outbox == nil || accrual.Points <= 0 {
		return
	}
	req := events.NotificationRequestedV1{
		TenantID:    evt.TenantID,
		CustomerID:  customerID,
		Template:    "loyalty_points_earned",
		SourceEvent: evt.ID,
		Params: map[string]string{
			"card_id": accrual.CardID,
			"points":  strconv.FormatInt(accrual.Points, 10),
		},
		RequestedAt: h.now().UTC(),
	}
	if _, err := h.outbox.Insert(ctx, evt.TenantID, events.NotificationRequestedType, req); err != nil {
		h.logger.Warn("failed to request loyalty notification", "event_id", evt.ID, "tenant_id", evt.TenantID, "error", err)
	}
}
