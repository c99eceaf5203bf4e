package fulfillment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventOrderPlaced         EventKind = "order.placed"
	EventOrderConfirmed      EventKind = "order.confirmed"
	EventOrderReady          EventKind = "order.ready"
	EventOrderCompleted      EventKind = "order.completed"
	EventOrderCancelled      EventKind = "order.cancelled"
	EventQueueEntryCreated   EventKind = "queue.entry.created"
	EventQueueEntryClaimed   EventKind = "queue.entry.claimed"
	EventQueueEntryPreparing EventKind = "queue.entry.preparing"
	EventQueueEntryReleased  EventKind = "queue.entry.released"
	EventPickupRedeemed      EventKind = "pickup.redeemed"
	EventCourierAssigned     EventKind = "delivery.courier_assigned"
	EventDeliveryInTransit   EventKind = "delivery.in_transit"
	EventDeliveryLocation    EventKind = "delivery.location"
	EventDeliveryDelivered   EventKind = "delivery.delivered"
	EventDeliveryCodeIssued  EventKind = "delivery.code_issued"
	EventCounterSession      EventKind = "counter.session"
	EventLowStock            EventKind = "inventory.low_stock"
)

// Event is a structured notification produced by a committed transition.
type Event struct {
	ID         string         `json:"id"`
	Kind       EventKind      `json:"kind"`
	ProviderID string         `json:"providerId,omitempty"`
	OrderID    string         `json:"orderId,omitempty"`
	Recipient  string         `json:"recipient,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// EventSink receives events after commit. Emit must not block the caller.
type EventSink interface {
	Emit(ctx context.Context, evt Event)
}

type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}

// eventBatch collects events inside a transaction; they are emitted only
// after the transaction commits.
type eventBatch struct {
	now    time.Time
	events []Event
}

func (b *eventBatch) add(kind EventKind, providerID, orderID, recipient string, payload map[string]any) {
	b.events = append(b.events, Event{
		ID:         uuid.NewString(),
		Kind:       kind,
		ProviderID: providerID,
		OrderID:    orderID,
		Recipient:  recipient,
		Payload:    payload,
		OccurredAt: b.now,
	})
}

var secretPayloadKeys = []string{"qrToken", "verificationCode", "confirmationCode"}

// Redacted returns a copy of e without one-time codes, for channels that fan
// out beyond the recipient.
func (e Event) Redacted() Event {
	if len(e.Payload) == 0 {
		return e
	}
	payload := make(map[string]any, len(e.Payload))
	for k, v := range e.Payload {
		payload[k] = v
	}
	for _, k := range secretPayloadKeys {
		delete(payload, k)
	}
	e.Payload = payload
	return e
}
