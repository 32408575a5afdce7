package store

import (
	"context"
	"time"

	"github.com/arborly/eventsub/es"
)

// SubscriptionRow is the durable subscription record: (stream_uuid,
// subscription_name) unique, carrying the persisted cursor pair.
type SubscriptionRow struct {
	// ID is the internal numeric identity, used as the advisory lock key.
	ID int64

	StreamUUID            string
	SubscriptionName      string
	LastSeenEventNumber   int64
	LastSeenStreamVersion int64
	CreatedAt             time.Time
}

// CursorStore manages the durable (stream_uuid, subscription_name)
// cursor row.
type CursorStore interface {
	// LocateOrCreate returns the existing row for (streamUUID, name) if
	// one exists, unchanged -- the provided starting position is
	// ignored in that case. Otherwise it inserts a new row starting at
	// (startEventNumber, startStreamVersion), defaulting to (0, 0)
	// meaning "from the beginning".
	LocateOrCreate(ctx context.Context, tx es.DBTX, streamUUID, name string, startEventNumber, startStreamVersion int64) (SubscriptionRow, error)

	// UpdateCursor persists the new cursor position for (streamUUID,
	// name). Called on every ack.
	UpdateCursor(ctx context.Context, tx es.DBTX, streamUUID, name string, eventNumber, streamVersion int64) error

	// Delete removes the subscription row, e.g. on explicit unsubscribe.
	Delete(ctx context.Context, tx es.DBTX, streamUUID, name string) error
}
