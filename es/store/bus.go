package store

import (
	"context"

	"github.com/arborly/eventsub/es"
)

// Notification is what a committed append publishes to the Bus: the
// stream it landed in and the events that were appended, in commit order.
type Notification struct {
	StreamUUID string
	Events     []es.PersistedEvent
}

// Bus is the publish/subscribe transport the Notifier Fan-in consumes.
// An implementation must preserve, for any one subscriber, the commit
// order of notifications published for a stream it is subscribed to.
type Bus interface {
	// Publish announces a committed append. Implementations that wrap a
	// real transport (e.g. LISTEN/NOTIFY) call this only after the
	// publishing transaction has committed.
	Publish(ctx context.Context, n Notification) error

	// Subscribe registers handler to receive every Notification whose
	// StreamUUID equals selector, or every Notification when selector is
	// es.AllStreams. Subscribe returns an unsubscribe function.
	Subscribe(ctx context.Context, selector string, handler func(Notification)) (unsubscribe func(), err error)
}
