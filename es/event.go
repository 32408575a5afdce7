// Package es provides the core types and ports of the event store and its
// subscription engine.
package es

import (
	"time"

	"github.com/google/uuid"
)

// AllStreams is the sentinel stream selector meaning "the union of all
// streams" rather than a single stream. It is never a real stream UUID.
const AllStreams = "$all"

// Event represents an immutable record appended to a stream.
// Events have no identity until persisted: EventNumber and StreamVersion are
// assigned by the store on append.
type Event struct {
	// CreatedAt is when the event was recorded.
	CreatedAt time.Time

	// StreamUUID identifies the logical stream this event belongs to.
	StreamUUID string

	// EventType identifies the type of event.
	EventType string

	// Data contains the event payload. Stored as opaque bytes so callers
	// choose their own serialization.
	Data []byte

	// Metadata contains additional, opaque event metadata.
	Metadata []byte

	// EventVersion is the schema version of this event type's payload.
	// It is informational only: it never affects ordering or cursor
	// arithmetic.
	EventVersion int

	// EventNumber is the globally dense, monotonic position assigned by
	// the store on append. Read-only; set after a successful append.
	EventNumber int64

	// StreamVersion is the per-stream dense, monotonic position (starting
	// at 1) assigned by the store on append.
	StreamVersion int64

	// CausationID identifies the event or command that caused this event
	// (optional).
	CausationID uuid.NullUUID

	// CorrelationID links related events across streams (optional).
	CorrelationID uuid.NullUUID

	// EventID is a unique identifier for this event, assigned by the
	// caller before append.
	EventID uuid.UUID
}

// PersistedEvent is an Event that has been durably stored. EventNumber and
// StreamVersion are guaranteed to be set.
type PersistedEvent struct {
	Event
}

// Cursor returns the value to compare against a subscription's last-seen
// position for the given selector kind: EventNumber for $all selectors,
// StreamVersion for single-stream selectors.
func (e PersistedEvent) Cursor(sel Selector) int64 {
	if sel.IsAllStreams() {
		return e.EventNumber
	}
	return e.StreamVersion
}
