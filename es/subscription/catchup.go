package subscription

import (
	"context"

	"github.com/arborly/eventsub/es"
	"github.com/arborly/eventsub/es/store"
)

// catchUpWorker is the per-FSM goroutine that replays historical events
// from the EventSource while the subscription is in the catching_up
// phase. It only ever talks to its FSM through the mailbox: it pushes one
// batch, then blocks until the FSM signals that the ack protocol has
// caught up to that batch's cursor, preserving strict per-batch
// sequencing without the worker touching subscriber state directly.
type catchUpWorker struct {
	db        es.DBTX
	source    store.EventSource
	selector  es.Selector
	batchSize   int
	startCursor int64
	gen         uint64
	mailbox     chan request

	resumeCh chan struct{}
}

func newCatchUpWorker(db es.DBTX, source store.EventSource, selector es.Selector, batchSize int, from int64, gen uint64, mailbox chan request) *catchUpWorker {
	return &catchUpWorker{
		db:          db,
		source:      source,
		selector:    selector,
		batchSize:   batchSize,
		startCursor: from,
		gen:         gen,
		mailbox:     mailbox,
		resumeCh:    make(chan struct{}, 1),
	}
}

// resume wakes the worker to read its next batch. Non-blocking: a resume
// signal issued before the worker reaches its wait point is not lost.
func (w *catchUpWorker) resume() {
	select {
	case w.resumeCh <- struct{}{}:
	default:
	}
}

func (w *catchUpWorker) read(ctx context.Context, from int64) ([]es.PersistedEvent, error) {
	if w.selector.IsAllStreams() {
		return w.source.ReadAllForward(ctx, w.db, from, w.batchSize)
	}
	return w.source.ReadStreamForward(ctx, w.db, w.selector.StreamUUID(), from, w.batchSize)
}

func (w *catchUpWorker) send(ctx context.Context, req request) bool {
	select {
	case w.mailbox <- req:
		return true
	case <-ctx.Done():
		return false
	}
}

// run drives the read/push/wait loop until it reaches the tail, the
// subscription is torn down (ctx cancelled), or a read fails.
func (w *catchUpWorker) run(ctx context.Context) {
	cursor := w.startCursor
	for {
		events, err := w.read(ctx, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.send(ctx, &workerErrReq{gen: w.gen, err: err})
			return
		}
		if len(events) == 0 {
			w.send(ctx, &workerDoneReq{gen: w.gen, cursor: cursor})
			return
		}
		if !w.send(ctx, &workerBatchReq{gen: w.gen, events: events}) {
			return
		}
		cursor = events[len(events)-1].Cursor(w.selector)

		select {
		case <-w.resumeCh:
		case <-ctx.Done():
			return
		}
	}
}
