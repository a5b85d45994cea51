package webhooks

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/clinic-webhooks/internal/dispatch"
)

var (
	ErrInvalidSignature = errors.New("webhooks: invalid signature")
	ErrMalformedPayload = errors.New("webhooks: malformed payload")
)

// envelope is the wire shape {event, data, event_id}. Internal events may omit event_id
// and carry the id in data.id instead; provider events must send event_id.
type envelope struct {
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
	EventID string          `json:"event_id"`
}

func parseEnvelope(body []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return envelope{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	env.Event = strings.TrimSpace(env.Event)
	if env.Event == "" {
		return envelope{}, fmt.Errorf("%w: missing event", ErrMalformedPayload)
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || data[0] != '{' {
		return envelope{}, fmt.Errorf("%w: data must be an object", ErrMalformedPayload)
	}

	if strings.TrimSpace(env.EventID) == "" && internalEvent(env.Event) {
		var withID struct {
			ID json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal(data, &withID); err != nil {
			return envelope{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		env.EventID = rawID(withID.ID)
	}
	env.EventID = strings.TrimSpace(env.EventID)
	if env.EventID == "" {
		return envelope{}, fmt.Errorf("%w: missing event_id", ErrMalformedPayload)
	}
	return env, nil
}

// internalEvent reports whether the event is emitted by the clinic system itself
// rather than a payment provider.
func internalEvent(eventType string) bool {
	switch eventType {
	case dispatch.EventAppointmentCompleted, dispatch.EventPaymentCompleted:
		return true
	}
	return false
}

// rawID accepts string or numeric ids.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
