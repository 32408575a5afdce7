// Package eventsub provides the top-level entry point for the event store
// subscription engine.
//
// For the core functionality, see the es package and its subpackages:
//
//	es               - Core types, errors, and the Selector/Event model
//	es/store         - EventStore/EventSource/CursorStore/Bus/ExclusiveLock ports
//	es/subscription  - the subscription FSM: catch-up, ack, backpressure
//	es/notifier      - routes live Bus notifications into running FSMs
//	es/supervisor    - process-level orchestration of subscriptions
//	es/adapters/postgres - Postgres implementation of every port
//	es/adapters/mysql    - MySQL implementation of EventStore/EventSource
//	es/adapters/sqlite   - SQLite implementation of EventStore/EventSource
//	es/migrations    - migration DDL generation
//
// Quick start:
//
//  1. Generate migrations:
//     go run github.com/arborly/eventsub/cmd/migrate-gen -output migrations
//
//  2. Append events and subscribe:
//     store := postgres.NewStore(postgres.DefaultStoreConfig())
//     tx, _ := db.BeginTx(ctx, nil)
//     persisted, err := store.Append(ctx, tx, streamUUID, events)
//     tx.Commit()
//
//     fsm := subscription.New(ctx, db, cursors, store, logger)
//     fsm.Subscribe(ctx, db, es.AllStreamsSelector(), "my-subscriber", subscriber, subscription.Options{})
//
// See cmd/subctl for a command-line demo that appends events and tails a
// stream or all streams.
package eventsub

// Version returns the current version of the library.
func Version() string {
	return "0.1.0-dev"
}
