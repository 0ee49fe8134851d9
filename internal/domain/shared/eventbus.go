package shared

import "context"

// EventHandler consumes domain events delivered by the bus.
type EventHandler interface {
	Handle(ctx context.Context, event DomainEvent) error
	// EventTypes lists the event types the handler wants. Empty means
	// every event.
	EventTypes() []string
}

// EventPublisher is the write side of the bus.
type EventPublisher interface {
	Publish(ctx context.Context, events ...DomainEvent) error
}

// EventBus delivers committed domain events to subscribed handlers.
// Delivery is at-least-once; handlers must tolerate duplicates.
type EventBus interface {
	EventPublisher
	// Subscribe registers a handler for the given event types, or for
	// all events when none are named.
	Subscribe(handler EventHandler, eventTypes ...string)
	Unsubscribe(handler EventHandler)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// OutboxEventSaver appends domain events to the outbox inside the
// transaction that persists the aggregate, so an event exists only if
// the state change it announces committed. txProvider is the *gorm.DB
// transaction of the surrounding write.
type OutboxEventSaver interface {
	SaveEvents(ctx context.Context, txProvider interface{}, events ...DomainEvent) error
}
