package subscription

import (
	"context"

	"github.com/arborly/eventsub/es"
	"github.com/arborly/eventsub/es/store"
)

// FSM is one subscription's actor: a single goroutine draining a mailbox,
// plus (while catching up) a Catch-Up Worker goroutine that talks to it
// through the same mailbox. All exported methods are safe to call from any
// goroutine; they each send one message and wait for its reply.
type FSM struct {
	ctx context.Context

	db          es.DBTX
	cursorStore store.CursorStore
	source      store.EventSource
	logger      es.Logger

	mailbox chan request
	done    chan struct{}

	// terminalErr is set exactly once, before done is closed, by the actor
	// goroutine. Reading it after <-done is race-free.
	terminalErr error

	// fields below are only ever touched on the actor goroutine.
	phase      Phase
	selector   es.Selector
	name       string
	subscriber Subscriber
	opts       Options

	rowID    int64
	lastSeen int64
	lastAck  int64

	overflowing      bool
	pending          []es.PersistedEvent
	deferredCaughtUp *int64

	worker         *catchUpWorker
	workerGen      uint64
	workerCancel   context.CancelFunc
	awaitingResume bool
	resumeTarget   int64
}

// New constructs an FSM in the initial phase and starts its actor
// goroutine. ctx bounds the subscription's entire lifetime: cancelling it
// stops the Catch-Up Worker, moves the FSM to the unsubscribed phase and
// makes Err report ctx's error. Unlike Unsubscribe, it leaves the cursor
// row in place.
func New(ctx context.Context, db es.DBTX, cursorStore store.CursorStore, source store.EventSource, logger es.Logger) *FSM {
	if logger == nil {
		logger = es.NoOpLogger{}
	}
	f := &FSM{
		ctx:         ctx,
		db:          db,
		cursorStore: cursorStore,
		source:      source,
		logger:      logger,
		mailbox:     make(chan request, 256),
		done:        make(chan struct{}),
		phase:       PhaseInitial,
	}
	go f.run()
	return f
}

// Done is closed once the subscription reaches the unsubscribed phase,
// whether by explicit Unsubscribe or by fatal termination.
func (f *FSM) Done() <-chan struct{} {
	return f.done
}

// Err returns the error that caused fatal termination, or nil if the
// subscription is still active or ended via an explicit Unsubscribe. It
// blocks until Done is closed.
func (f *FSM) Err() error {
	<-f.done
	return f.terminalErr
}

func (f *FSM) send(ctx context.Context, req request) error {
	// Checked first: once done is closed nothing drains the mailbox, so a
	// request enqueued then would never get its reply.
	select {
	case <-f.done:
		return es.ErrUnsubscribed
	default:
	}
	select {
	case f.mailbox <- req:
	case <-f.done:
		return es.ErrUnsubscribed
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Subscribe performs the subscribe() transition: locates or creates the
// durable cursor row and moves initial -> subscribe_to_events. tx is used
// for the single LocateOrCreate statement; callers typically pass their
// shared *sql.DB.
func (f *FSM) Subscribe(ctx context.Context, tx es.DBTX, selector es.Selector, name string, subscriber Subscriber, opts Options) error {
	reply := make(chan error, 1)
	if err := f.send(ctx, &subscribeReq{tx: tx, selector: selector, name: name, subscriber: subscriber, opts: opts.normalized(), reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribed signals that the supervisor has acquired the exclusive
// advisory lock for this subscription's identity: subscribe_to_events ->
// catching_up, and starts the Catch-Up Worker.
func (f *FSM) Subscribed(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := f.send(ctx, &subscribedReq{reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ack records that the subscriber has durably processed through
// (eventNumber, streamVersion). A cursor that does not advance the active
// field beyond the last acknowledged value (initially the subscription's
// starting cursor) is silently ignored.
func (f *FSM) Ack(ctx context.Context, eventNumber, streamVersion int64) error {
	reply := make(chan error, 1)
	if err := f.send(ctx, &ackReq{eventNumber: eventNumber, streamVersion: streamVersion, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unsubscribe performs the unsubscribe() transition from any state.
func (f *FSM) Unsubscribe(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := f.send(ctx, &unsubscribeReq{reply: reply}); err != nil {
		if err == es.ErrUnsubscribed {
			return nil
		}
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NotifyEvents is the notify_events() transition: the Notifier Fan-in
// delivers a live append here. It does not block on delivery to the
// subscriber; it only enqueues onto the mailbox.
func (f *FSM) NotifyEvents(ctx context.Context, events []es.PersistedEvent) error {
	return f.send(ctx, &notifyReq{events: events})
}

// Snapshot returns a point-in-time view of the subscription's state.
func (f *FSM) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := f.send(ctx, &snapshotReq{reply: reply}); err != nil {
		return Snapshot{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// run is the actor loop: one goroutine, one mailbox, strict sequential
// processing. It exits once a message drives the FSM into the
// unsubscribed phase.
func (f *FSM) run() {
	for {
		select {
		case req := <-f.mailbox:
			req.apply(f)
			if f.phase == PhaseUnsubscribed {
				close(f.done)
				return
			}
		case <-f.ctx.Done():
			f.terminate(f.ctx.Err())
			close(f.done)
			return
		}
	}
}

func activeValue(sel es.Selector, eventNumber, streamVersion int64) int64 {
	if sel.IsAllStreams() {
		return eventNumber
	}
	return streamVersion
}

func rowActiveValue(sel es.Selector, row store.SubscriptionRow) int64 {
	if sel.IsAllStreams() {
		return row.LastSeenEventNumber
	}
	return row.LastSeenStreamVersion
}

// terminate is the fatal-termination path shared by OrderingViolation,
// BufferOverflow, SubscriberDown and TransientStorage errors: stop the
// worker, drop buffered state, record the cause for Err().
func (f *FSM) terminate(err error) {
	if f.workerCancel != nil {
		f.workerCancel()
		f.workerCancel = nil
	}
	f.pending = nil
	f.phase = PhaseUnsubscribed
	f.terminalErr = err
	f.logger.Error(f.ctx, "subscription terminated", "name", f.name, "selector", f.selector.String(), "error", err)
}

func (f *FSM) mapBatch(events []es.PersistedEvent) []DeliveredEvent {
	out := make([]DeliveredEvent, len(events))
	for i, e := range events {
		out[i] = DeliveredEvent{Event: e, Mapped: f.opts.Mapper(e)}
	}
	return out
}

// apply: subscribe()
func (r *subscribeReq) apply(f *FSM) {
	if f.phase != PhaseInitial {
		reply(r.reply, es.ErrAlreadyActive)
		return
	}
	row, err := f.cursorStore.LocateOrCreate(f.ctx, r.tx, r.selector.StreamUUID(), r.name, r.opts.StartFromEventNumber, r.opts.StartFromStreamVersion)
	if err != nil {
		reply(r.reply, es.NewTransientStorageError("locate_or_create_cursor", err))
		return
	}
	f.selector = r.selector
	f.name = r.name
	f.subscriber = r.subscriber
	f.opts = r.opts
	f.rowID = row.ID

	start := rowActiveValue(r.selector, row)
	if opt := r.opts.startFrom(r.selector); opt > start {
		start = opt
	}
	f.lastSeen = start
	f.lastAck = start
	f.phase = PhaseSubscribeToEvents
	reply(r.reply, nil)
}

// apply: subscribed() -- lock acquired, begin catch-up.
func (r *subscribedReq) apply(f *FSM) {
	if f.phase != PhaseSubscribeToEvents {
		reply(r.reply, es.ErrUnsubscribed)
		return
	}
	f.phase = PhaseCatchingUp
	f.startCatchUp()
	reply(r.reply, nil)
}

func (f *FSM) startCatchUp() {
	f.workerGen++
	gen := f.workerGen
	ctx, cancel := context.WithCancel(f.ctx)
	f.workerCancel = cancel
	f.worker = newCatchUpWorker(f.db, f.source, f.selector, f.opts.BatchSize, f.lastSeen, gen, f.mailbox)
	go f.worker.run(ctx)
}

// apply: ack()
func (r *ackReq) apply(f *FSM) {
	if f.phase == PhaseInitial || f.phase == PhaseUnsubscribed {
		reply(r.reply, es.ErrUnsubscribed)
		return
	}
	active := activeValue(f.selector, r.eventNumber, r.streamVersion)
	if active <= f.lastAck {
		// CursorRegression: silently ignored.
		reply(r.reply, nil)
		return
	}
	if err := f.cursorStore.UpdateCursor(f.ctx, f.db, f.selector.StreamUUID(), f.name, r.eventNumber, r.streamVersion); err != nil {
		f.terminate(es.NewTransientStorageError("update_cursor", err))
		reply(r.reply, f.terminalErr)
		return
	}
	f.lastAck = active

	if f.phase == PhaseCatchingUp {
		if f.awaitingResume && f.lastAck >= f.resumeTarget {
			f.awaitingResume = false
			f.worker.resume()
		}
		if f.deferredCaughtUp != nil && f.lastAck >= *f.deferredCaughtUp {
			cursor := *f.deferredCaughtUp
			f.deferredCaughtUp = nil
			f.enterSubscribed(cursor)
			reply(r.reply, nil)
			return
		}
	}

	if f.phase == PhaseSubscribed && f.overflowing && f.lastSeen-f.lastAck < int64(f.opts.MaxInFlight) {
		f.overflowing = false
		f.flushPending()
	}
	reply(r.reply, nil)
}

// apply: unsubscribe(). Always runs to completion per the cancellation
// model: a failure deleting the row is logged, not propagated, since the
// in-memory subscription must still tear down.
func (r *unsubscribeReq) apply(f *FSM) {
	if f.phase == PhaseUnsubscribed {
		reply(r.reply, nil)
		return
	}
	if f.workerCancel != nil {
		f.workerCancel()
		f.workerCancel = nil
	}
	if f.phase != PhaseInitial {
		if err := f.cursorStore.Delete(f.ctx, f.db, f.selector.StreamUUID(), f.name); err != nil {
			f.logger.Error(f.ctx, "failed to delete subscription row on unsubscribe", "name", f.name, "selector", f.selector.String(), "error", err)
		}
	}
	f.pending = nil
	f.phase = PhaseUnsubscribed
	reply(r.reply, nil)
}

// apply: notify_events()
func (r *notifyReq) apply(f *FSM) {
	switch f.phase {
	case PhaseCatchingUp:
		f.pending = append(f.pending, r.events...)
		if len(f.pending) > f.opts.PendingBufferLimit {
			f.terminate(es.ErrBufferOverflow)
		}
	case PhaseSubscribed:
		if f.overflowing {
			f.pending = append(f.pending, r.events...)
			if len(f.pending) > f.opts.PendingBufferLimit {
				f.terminate(es.ErrBufferOverflow)
			}
			return
		}
		f.deliverLive(r.events)
	default:
		// not yet catching up or already torn down: drop.
	}
}

// apply: snapshot query.
func (r *snapshotReq) apply(f *FSM) {
	r.reply <- Snapshot{
		ID:          f.rowID,
		Phase:       f.phase,
		Overflowing: f.overflowing,
		Selector:    f.selector,
		Name:        f.name,
		LastSeen:    f.lastSeen,
		LastAck:     f.lastAck,
		Pending:     len(f.pending),
	}
}

// apply: a historical batch from the Catch-Up Worker.
func (r *workerBatchReq) apply(f *FSM) {
	if f.phase != PhaseCatchingUp || r.gen != f.workerGen {
		return
	}
	fresh := make([]es.PersistedEvent, 0, len(r.events))
	for _, e := range r.events {
		cur := e.Cursor(f.selector)
		if cur <= f.lastSeen {
			f.terminate(es.ErrOrderingViolation)
			return
		}
		f.lastSeen = cur
		fresh = append(fresh, e)
	}
	if err := f.subscriber.OnEvents(f.ctx, f.mapBatch(fresh)); err != nil {
		f.terminate(es.ErrSubscriberDown)
		return
	}
	if f.lastAck >= f.lastSeen {
		// already acked up to this batch (e.g. trivial or duplicate ack race).
		f.worker.resume()
		return
	}
	f.resumeTarget = f.lastSeen
	f.awaitingResume = true
}

// apply: the Catch-Up Worker reached the tail.
func (r *workerDoneReq) apply(f *FSM) {
	if f.phase != PhaseCatchingUp || r.gen != f.workerGen {
		return
	}
	switch {
	case r.cursor <= f.lastAck:
		f.enterSubscribed(f.lastAck)
	default:
		f.deferredCaughtUp = &r.cursor
		// guard: cursor > last_ack, remain catching_up until ack() catches up.
	}
}

// apply: the Catch-Up Worker hit a storage error.
func (r *workerErrReq) apply(f *FSM) {
	if f.phase != PhaseCatchingUp || r.gen != f.workerGen {
		return
	}
	f.terminate(es.NewTransientStorageError("catch_up_read", r.err))
}

// enterSubscribed finishes catch-up: catching_up -> subscribed.
func (f *FSM) enterSubscribed(cursor int64) {
	if f.workerCancel != nil {
		f.workerCancel()
		f.workerCancel = nil
	}
	f.worker = nil
	f.phase = PhaseSubscribed
	f.overflowing = false
	if cursor > f.lastSeen {
		f.lastSeen = cursor
	}
	if err := f.subscriber.OnCaughtUp(f.ctx, cursor); err != nil {
		f.terminate(es.ErrSubscriberDown)
		return
	}
	f.flushPending()
}

// flushPending drains the pending buffer through the live-delivery path,
// the same one notify_events() uses once subscribed. Both catch-up
// completion and overflow recovery funnel through it.
func (f *FSM) flushPending() {
	if len(f.pending) == 0 {
		return
	}
	batch := f.pending
	f.pending = nil
	f.deliverLive(batch)
}

// deliverLive pushes a live batch to the subscriber, skipping any event
// whose cursor does not exceed last_seen (already seen, or predates the
// subscription's starting cursor) and entering the overflowing sub-state
// if the in-flight window is now exceeded.
func (f *FSM) deliverLive(events []es.PersistedEvent) {
	fresh := make([]es.PersistedEvent, 0, len(events))
	for _, e := range events {
		cur := e.Cursor(f.selector)
		if cur <= f.lastSeen {
			continue
		}
		f.lastSeen = cur
		fresh = append(fresh, e)
	}
	if len(fresh) == 0 {
		return
	}
	if err := f.subscriber.OnEvents(f.ctx, f.mapBatch(fresh)); err != nil {
		f.terminate(es.ErrSubscriberDown)
		return
	}
	if f.lastSeen-f.lastAck >= int64(f.opts.MaxInFlight) {
		f.overflowing = true
	}
}
