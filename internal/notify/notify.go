// Package notify pushes real-time scheduling events to connected clinic
// dashboards. Delivery is fire-and-forget, at most once.
package notify

import "context"

// Event names published on an org's room.
const (
	EventSlotResolved   = "slot.resolved"
	EventNeedsAttention = "slot.needs_attention"
	EventSlotsReordered = "slots.reordered"
)

// Publisher broadcasts an event to everyone subscribed to the org room.
// Implementations must never block the caller on slow consumers.
type Publisher interface {
	Publish(ctx context.Context, orgRoom, event string, payload any)
}

// NopPublisher drops every event; used where no channel is wired.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, orgRoom, event string, payload any) {}
