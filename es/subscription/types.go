package subscription

import (
	"context"
	"time"

	"github.com/arborly/eventsub/es"
)

// Phase is the top-level FSM state. Subscribed additionally carries an
// "overflowing" flag tracked on the FSM itself (max_in_flight_exceeded is
// a sub-state of Subscribed: same transitions, pushes are suppressed).
type Phase int

const (
	PhaseInitial Phase = iota
	PhaseSubscribeToEvents
	PhaseCatchingUp
	PhaseSubscribed
	PhaseUnsubscribed
)

func (p Phase) String() string {
	switch p {
	case PhaseInitial:
		return "initial"
	case PhaseSubscribeToEvents:
		return "subscribe_to_events"
	case PhaseCatchingUp:
		return "catching_up"
	case PhaseSubscribed:
		return "subscribed"
	case PhaseUnsubscribed:
		return "unsubscribed"
	default:
		return "unknown"
	}
}

// Mapper transforms a persisted event into the value actually delivered to
// the subscriber. It must be pure and must not be used for filtering or
// reordering: every event is still delivered, just possibly projected.
type Mapper func(es.PersistedEvent) any

// identityMapper is the default Mapper.
func identityMapper(e es.PersistedEvent) any { return e }

// DeliveredEvent pairs a persisted event with its mapped value so the
// subscriber can ack using the event's real cursor even when Mapped
// projects away everything else.
type DeliveredEvent struct {
	Event  es.PersistedEvent
	Mapped any
}

// Subscriber is the outbound delivery port: a batch push and a
// catch-up-complete control signal. Both may block; returning an error
// from either terminates the subscription with ErrSubscriberDown.
type Subscriber interface {
	OnEvents(ctx context.Context, events []DeliveredEvent) error
	OnCaughtUp(ctx context.Context, cursor int64) error
}

// Clock is a time source seam. It is carried in Options; no code in this
// module reads it.
type Clock interface {
	Now() time.Time
}

// RealClock uses time.Now.
type RealClock struct{}

// Now implements Clock.
func (RealClock) Now() time.Time { return time.Now() }

// Options configures a subscribe call: the start positions, Mapper and
// MaxInFlight, plus the pending-buffer, batch-size and clock settings.
type Options struct {
	// StartFromEventNumber is the initial cursor for an all-streams
	// subscription. Default 0.
	StartFromEventNumber int64

	// StartFromStreamVersion is the initial cursor for a single-stream
	// subscription. Default 0.
	StartFromStreamVersion int64

	// Mapper transforms each event before delivery. Default identity.
	Mapper Mapper

	// MaxInFlight bounds delivered-but-unacked events. Default 1000.
	MaxInFlight int

	// PendingBufferLimit bounds the in-memory buffer of live events
	// accumulated while catching up or overflowing. Exceeding it is a
	// fatal BufferOverflow. Default 10000.
	PendingBufferLimit int

	// BatchSize bounds how many historical events the Catch-Up Worker
	// reads per round trip. Default 1000.
	BatchSize int

	// Clock is the time source carried with the subscription. Default
	// RealClock. The FSM does not read it.
	Clock Clock
}

// DefaultOptions returns the specification's documented defaults.
func DefaultOptions() Options {
	return Options{
		Mapper:             identityMapper,
		MaxInFlight:        1000,
		PendingBufferLimit: 10000,
		BatchSize:          1000,
		Clock:              RealClock{},
	}
}

func (o Options) normalized() Options {
	if o.Mapper == nil {
		o.Mapper = identityMapper
	}
	if o.MaxInFlight <= 0 {
		o.MaxInFlight = 1000
	}
	if o.PendingBufferLimit <= 0 {
		o.PendingBufferLimit = 10000
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 1000
	}
	if o.Clock == nil {
		o.Clock = RealClock{}
	}
	return o
}

// startFrom returns the option-supplied starting cursor for sel's active
// field.
func (o Options) startFrom(sel es.Selector) int64 {
	if sel.IsAllStreams() {
		return o.StartFromEventNumber
	}
	return o.StartFromStreamVersion
}

// Snapshot is a point-in-time, read-only copy of a subscription's runtime
// state, returned by FSM.Snapshot for observability and tests.
type Snapshot struct {
	ID          int64
	Phase       Phase
	Overflowing bool
	Selector    es.Selector
	Name        string
	LastSeen    int64
	LastAck     int64
	Pending     int
}
