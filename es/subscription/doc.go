// Package subscription implements the subscription engine: the state
// machine and ack/backpressure protocol that delivers persisted events to
// a subscriber exactly in order, catches up from a durable cursor, and
// transitions between historical replay and live notification without
// duplication or gaps.
//
// # States
//
//	initial -> subscribe_to_events -> catching_up -> subscribed -> unsubscribed
//
// subscribed has an overflowing sub-state (max_in_flight_exceeded in the
// specification this package implements): same transitions, pushes are
// suppressed and events accumulate in the pending buffer until acks free
// up room.
//
// # Actor model
//
// Each FSM owns a single goroutine draining one mailbox channel, so every
// state transition is processed to completion before the next message is
// dequeued. This serializes all transitions per subscription and removes
// intra-FSM races without a mutex; distinct subscriptions run fully
// concurrently. The Catch-Up Worker runs as a second goroutine per FSM and
// talks to the actor purely through the same mailbox.
//
// # Ownership
//
// This package is storage-agnostic: it consumes the ports in es/store
// (CursorStore, EventSource) and has no knowledge of advisory locks or the
// notification bus. es/supervisor wires a concrete adapter's lock and bus
// around an FSM; es/notifier routes live notifications into it.
package subscription
