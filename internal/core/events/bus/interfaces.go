package bus

import "time"

// EventBus is an in-process pub/sub bus connecting the prefab tooling to whatever front end
// drives it.
//
// Handlers subscribe by Event.Type(). Publish delivers synchronously in the caller
// goroutine, in subscription order, and joins handler errors. All methods are safe for
// concurrent use.
type EventBus interface {
	// Publish delivers the event to every active subscriber of event.Type().
	Publish(event Event) error
	// Subscribe registers a handler for an event type.
	Subscribe(eventType string, handler EventHandler) (Subscription, error)
	// Unsubscribe cancels the given Subscription. A nil subscription is ignored.
	Unsubscribe(Subscription) error

	// PublishAsync publishes in a separate goroutine. The returned channel receives the
	// joined handler error (or nil) and is then closed.
	PublishAsync(event Event) <-chan error
	// PublishBatch publishes events in order and joins errors across them.
	PublishBatch(events ...Event) error

	// Subscribers returns the number of active subscriptions for an event type.
	Subscribers(eventType string) int
}

// Event is an immutable message transported by the EventBus.
type Event interface {
	Type() string
	Source() string
	Timestamp() time.Time
	Data() any
}

type (
	// EventHandler is invoked once per delivered event.
	EventHandler func(event Event) error
)

// Subscription is a registered handler bound to an event type.
type Subscription interface {
	ID() string
	EventType() string
	IsActive() bool
	// Cancel de-registers the handler. Multiple calls are safe.
	Cancel() error
}
