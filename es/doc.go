// Package es provides the append-only event store's core types and ports:
// an immutable Event, the storage ports consumed by the subscription
// engine, and the optional Logger seam.
//
// # Overview
//
//   - Event / PersistedEvent: immutable records appended to a stream
//   - Selector: identifies a single stream or the union of all streams
//   - DBTX: database transaction abstraction shared by every adapter
//   - Logger: optional, zero-overhead-when-unset observability seam
//
// The subscription engine itself lives in es/subscription; it consumes the
// ports declared in es/store and is storage-agnostic. Concrete storage is
// isolated in es/adapters/*.
//
// # Quick Start
//
// 1. Generate database migrations:
//
//	go run github.com/arborly/eventsub/cmd/migrate-gen -output migrations
//
// 2. Apply migrations to your database.
//
// 3. Create a store and append events:
//
//	import (
//	    "github.com/arborly/eventsub/es"
//	    "github.com/arborly/eventsub/es/adapters/postgres"
//	)
//
//	store := postgres.NewStore(postgres.DefaultStoreConfig())
//
//	tx, _ := db.BeginTx(ctx, nil)
//	defer tx.Rollback()
//
//	events := []es.Event{
//	    {
//	        StreamUUID: streamID.String(),
//	        EventID:    uuid.New(),
//	        EventType:  "OrderPlaced",
//	        Data:       payload,
//	        Metadata:   []byte(`{}`),
//	        CreatedAt:  time.Now(),
//	    },
//	}
//
//	persisted, err := store.Append(ctx, tx, streamID.String(), events)
//	tx.Commit()
//
// 4. Subscribe and ack:
//
//	import (
//	    "github.com/arborly/eventsub/es/notifier"
//	    "github.com/arborly/eventsub/es/subscription"
//	    "github.com/arborly/eventsub/es/supervisor"
//	)
//
//	sup := supervisor.New(supervisor.Config{
//	    DB:          db,
//	    CursorStore: cursorStore,
//	    Source:      store,
//	    Lock:        lock,
//	    FanIn:       notifier.New(bus, nil),
//	})
//	handle, err := sup.Subscribe(ctx, es.StreamSelector(streamID.String()), "my-consumer", subscriber, subscription.DefaultOptions())
//
// # Design Decisions
//
// Opaque payload bytes: Data and Metadata are stored as BYTEA/opaque,
// supporting any serialization. Callers choose their own encoding.
//
// DBTX interface: works with *sql.DB, *sql.Tx and *sql.Conn, so the
// library never manages transaction boundaries itself.
//
// Pull-based catch-up: historical replay reads events in bounded batches
// and waits on ack before the next batch, which is simpler than push
// delivery and composes cleanly with durable, resumable cursors.
package es
