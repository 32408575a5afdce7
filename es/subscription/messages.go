package subscription

import "github.com/arborly/eventsub/es"

// request is one message in an FSM's mailbox. apply runs on the FSM's own
// goroutine and has exclusive access to its fields: it computes the next
// state, performs any suspending I/O, and only then mutates f, so every
// later message in the mailbox observes a fully committed state.
type request interface {
	apply(f *FSM)
}

// subscribeReq is the *subscribe()* transition: initial -> subscribe_to_events.
type subscribeReq struct {
	tx         es.DBTX
	selector   es.Selector
	name       string
	subscriber Subscriber
	opts       Options
	reply      chan error
}

// subscribedReq is the *subscribed()* transition: the caller (supervisor)
// has acquired the advisory lock; subscribe_to_events -> catching_up.
type subscribedReq struct {
	reply chan error
}

// ackReq is the *ack()* transition, valid from any active state.
type ackReq struct {
	eventNumber   int64
	streamVersion int64
	reply         chan error
}

// unsubscribeReq is the *unsubscribe()* transition, valid from any state.
type unsubscribeReq struct {
	reply chan error
}

// notifyReq is *notify_events()*: a live append notification routed here
// by the Notifier Fan-in.
type notifyReq struct {
	events []es.PersistedEvent
}

// snapshotReq is a read-only diagnostic query processed like any other
// message, so it always observes fully committed state.
type snapshotReq struct {
	reply chan Snapshot
}

// workerBatchReq delivers one historical batch read by the Catch-Up
// Worker. It is internal plumbing equivalent to the Catch-Up Worker
// "pushing a batch to the subscriber" in the specification: centralizing
// the push here, rather than in the worker goroutine, keeps all subscriber
// I/O single-writer.
type workerBatchReq struct {
	gen    uint64
	events []es.PersistedEvent
}

// workerDoneReq is the Catch-Up Worker's on_done(cursor) callback: the
// source returned an empty batch, meaning the tail has been reached.
type workerDoneReq struct {
	gen    uint64
	cursor int64
}

// workerErrReq reports a Catch-Up Worker read failure.
type workerErrReq struct {
	gen uint64
	err error
}

func reply(ch chan error, err error) {
	if ch == nil {
		return
	}
	ch <- err
}
