package appointments

import (
	"errors"

	"github.com/wolfman30/clinic-webhooks/internal/dispatch"
)

var ErrMissingAppointmentID = errors.New("appointments: appointmentId missing from event data")

// Completed is the data of an appointment.completed event.
type Completed struct {
	AppointmentID string `json:"appointmentId"`
	CustomerID    string `json:"customerId"`
}

// DecodeCompleted reads appointment.completed data, falling back to data.id for the appointment.
func DecodeCompleted(evt dispatch.Event) (Completed, error) {
	var data struct {
		Completed
		ID string `json:"id"`
	}
	if err := evt.Decode(&data); err != nil {
		return Completed{}, err
	}
	out := data.Completed
	if out.AppointmentID == "" {
		out.AppointmentID = data.ID
	}
	if out.AppointmentID == "" {
		return Completed{}, ErrMissingAppointmentID
	}
	return out, nil
}
