package wsession

import (
	"context"
)

// Client is what application code needs from a live session: lifecycle control, sending,
// subscribing and a read-only status surface.
type Client interface {
	// Connect starts the session; ctx bounds its lifetime.
	Connect(ctx context.Context)
	// Disconnect closes the session without scheduling a reconnect.
	Disconnect()
	// Reconnect forces a fresh connection cycle, bypassing remaining backoff.
	Reconnect()
	// Send writes or queues an event for the server.
	Send(eventType string, payload any) error
	Subscriber
	// Watch observes status transitions.
	Watch(fn func(StatusChange)) (unsubscribe func())
	// Status returns a snapshot of the connection record.
	Status() ConnectionRecord
}

var _ Client = (*Manager)(nil)
