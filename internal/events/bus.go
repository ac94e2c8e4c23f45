package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers.
// kelindar/event dispatches on the static type, so each event is listed.
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case SessionStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case SessionReconfiguredEvent:
		event.Publish(b.dispatcher, e)
	case DeliveryFailedEvent:
		event.Publish(b.dispatcher, e)
	case HighlightCapturedEvent:
		event.Publish(b.dispatcher, e)
	case PipelineMetricsEvent:
		event.Publish(b.dispatcher, e)
	case LogEntryEvent:
		event.Publish(b.dispatcher, e)
	case RecorderStateEvent:
		event.Publish(b.dispatcher, e)
	case RecorderMetricsEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes a typed handler and returns an unsubscribe function.
// Usage: unsub := bus.Subscribe(func(e SessionStateChangedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(SessionStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(SessionReconfiguredEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DeliveryFailedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(HighlightCapturedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(PipelineMetricsEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEntryEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(RecorderStateEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(RecorderMetricsEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// Return a no-op function if handler type is not recognized
		return func() {}
	}
}
