package billing

import "encoding/json"

// EventType is a payment processor event name.
type EventType string

const (
	EventOrderPaid             EventType = "order.paid"
	EventOrderApproved         EventType = "order.approved"
	EventOrderRefunded         EventType = "order.refunded"
	EventOrderChargeback       EventType = "order.chargeback"
	EventSubscriptionRenewed   EventType = "subscription.renewed"
	EventSubscriptionCancelled EventType = "subscription.cancelled"
)

// Recognized reports whether the event type maps to a lifecycle
// transition. Unrecognized events are acknowledged without effect.
func (t EventType) Recognized() bool {
	switch t {
	case EventOrderPaid, EventOrderApproved, EventOrderRefunded,
		EventOrderChargeback, EventSubscriptionRenewed, EventSubscriptionCancelled:
		return true
	}
	return false
}

// Customer identifies the buyer as reported by the payment processor.
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Payment carries the monetary detail of an order event.
type Payment struct {
	Amount int64  `json:"amount"` // minor units
	Method string `json:"method"`
	Status string `json:"status"`
}

// Event is a validated, authenticated payment processor event as
// handed to the lifecycle service by the webhook gateway.
type Event struct {
	Type      EventType
	OrderID   string
	ProductID string
	Currency  string
	Customer  Customer
	Payment   Payment
	Raw       json.RawMessage // original data object, persisted for audit
}
