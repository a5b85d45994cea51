package events

import "time"

// NotificationRequestedType is the outbox type for customer notification requests.
const NotificationRequestedType = "notification.requested.v1"

// NotificationRequestedV1 asks the messaging side to notify a customer. Delivery is not
// performed here; the request is recorded in the outbox and forwarded to the queue.
type NotificationRequestedV1 struct {
	TenantID    string            `json:"tenant_id"`
	CustomerID  string            `json:"customer_id"`
	Template    string            `json:"template"`
	Channel     string            `json:"channel,omitempty"`
	SourceEvent string            `json:"source_event"`
	Params      map[string]string `json:"params,omitempty"`
	RequestedAt time.Time         `json:"requested_at"`
}
