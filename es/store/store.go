// Package store declares the storage ports the subscription engine
// consumes. Concrete implementations live in es/adapters/*; this package
// stays database-agnostic.
package store

import (
	"context"
	"errors"

	"github.com/arborly/eventsub/es"
)

var (
	// ErrNoEvents indicates an attempt to append zero events.
	ErrNoEvents = errors.New("store: no events to append")

	// ErrStreamVersionConflict indicates a concurrent append raced this
	// one for the same stream.
	ErrStreamVersionConflict = errors.New("store: stream version conflict")
)

// EventStore appends events to a stream.
type EventStore interface {
	// Append atomically appends one or more events, all belonging to
	// streamUUID, within the caller-supplied transaction. The store
	// assigns dense, monotonic EventNumber (global) and StreamVersion
	// (per-stream, starting at 1) values and returns the resulting
	// persisted events in append order.
	//
	// Returns ErrNoEvents if events is empty, or
	// ErrStreamVersionConflict if another transaction committed to the
	// same stream concurrently.
	Append(ctx context.Context, tx es.DBTX, streamUUID string, events []es.Event) ([]es.PersistedEvent, error)
}

// EventSource provides the two forward-only, bounded read iterators the
// Catch-Up Worker and ad hoc readers use.
type EventSource interface {
	// ReadStreamForward returns up to count events from streamUUID with
	// StreamVersion >= fromVersion+1, ordered by ascending StreamVersion.
	// Fewer than count events means the tail has been reached.
	ReadStreamForward(ctx context.Context, tx es.DBTX, streamUUID string, fromVersion int64, count int) ([]es.PersistedEvent, error)

	// ReadAllForward returns up to count events across all streams with
	// EventNumber >= fromEventNumber+1, ordered by ascending EventNumber.
	// Fewer than count events means the tail has been reached.
	ReadAllForward(ctx context.Context, tx es.DBTX, fromEventNumber int64, count int) ([]es.PersistedEvent, error)
}
