// Package notifier implements the Notifier Fan-in: it subscribes to a
// store.Bus on behalf of live subscriptions and turns each Notification
// into a notify_events call on the matching FSM, preserving the bus's
// per-topic delivery order.
package notifier

import (
	"context"

	"github.com/arborly/eventsub/es"
	"github.com/arborly/eventsub/es/store"
)

// Subscriber receives live notifications. *subscription.FSM implements
// this with its NotifyEvents method.
type Subscriber interface {
	NotifyEvents(ctx context.Context, events []es.PersistedEvent) error
}

// FanIn routes store.Bus notifications to registered subscribers, one bus
// subscription per registered FSM, keyed by the same selector the FSM was
// started with (a single stream_uuid, or es.AllStreams).
type FanIn struct {
	bus    store.Bus
	logger es.Logger
}

// New creates a FanIn over bus.
func New(bus store.Bus, logger es.Logger) *FanIn {
	if logger == nil {
		logger = es.NoOpLogger{}
	}
	return &FanIn{bus: bus, logger: logger}
}

// Register subscribes sub to every Notification matching selector. The
// returned unregister function stops further delivery; it does not block
// on any in-flight notify_events call.
func (f *FanIn) Register(ctx context.Context, selector es.Selector, sub Subscriber) (unregister func(), err error) {
	return f.bus.Subscribe(ctx, selector.StreamUUID(), func(n store.Notification) {
		if err := sub.NotifyEvents(context.Background(), n.Events); err != nil {
			f.logger.Error(context.Background(), "notifier: notify_events failed",
				"stream_uuid", n.StreamUUID, "error", err)
		}
	})
}
