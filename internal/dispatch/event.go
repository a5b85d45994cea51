package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types consumed by the registered business handlers.
const (
	EventAppointmentCompleted = "appointment.completed"
	EventPaymentCompleted     = "payment.completed"
	EventChargeStatusUpdated  = "charge.status_updated"
	EventSubscriptionCreated  = "subscription.created"
	EventSubscriptionUpdated  = "subscription.updated"
	EventSubscriptionCanceled = "subscription.canceled"
)

// ErrReferencedEntityNotFound marks a handler failure caused by a missing invoice,
// subscription, account or appointment. The event is marked failed and replayed later.
var ErrReferencedEntityNotFound = errors.New("referenced entity not found")

// Event is a verified, recorded webhook delivery handed to the registered handlers.
type Event struct {
	Ref        uuid.UUID
	Provider   string
	Type       string
	ID         string
	TenantID   string
	Data       json.RawMessage
	ReceivedAt time.Time
}

// Decode unmarshals the event data into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("dispatch: event %s has no data", e.ID)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("dispatch: decode %s data: %w", e.Type, err)
	}
	return nil
}

// HandlerFault is returned in place of a handler's result when the handler panicked.
type HandlerFault struct {
	Handler string
	Value   any
}

func (f *HandlerFault) Error() string {
	return fmt.Sprintf("dispatch: handler %s panicked: %v", f.Handler, f.Value)
}
