// Package eventbus carries status events between nodes and the controller.
package eventbus

import (
	"context"

	"github.com/dukex/conduit/pkg/events"
)

// Event is a status report that can travel on the bus.
type Event interface {
	GetType() events.EventType
}

// EventPublisher sends events. The key partitions events so reports for one
// plan instance stay ordered on brokers that honour it.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

// EventSubscriber routes received events to the handler registered for their
// type. Handlers must be registered before Subscribe.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives the decoded event. Returning an error nacks the
// message for redelivery.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
}
