package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/arborly/eventsub/es"
	"github.com/arborly/eventsub/es/notifier"
	"github.com/arborly/eventsub/es/store"
	"github.com/arborly/eventsub/es/subscription"
)

// fakeCursorStore is an in-memory store.CursorStore, mirroring the one in
// es/subscription's own test suite.
type fakeCursorStore struct {
	mu   sync.Mutex
	rows map[string]store.SubscriptionRow
}

func newFakeCursorStore() *fakeCursorStore {
	return &fakeCursorStore{rows: make(map[string]store.SubscriptionRow)}
}

func cursorKey(streamUUID, name string) string { return streamUUID + "|" + name }

func (c *fakeCursorStore) LocateOrCreate(_ context.Context, _ es.DBTX, streamUUID, name string, startEventNumber, startStreamVersion int64) (store.SubscriptionRow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := cursorKey(streamUUID, name)
	if row, ok := c.rows[k]; ok {
		return row, nil
	}
	row := store.SubscriptionRow{
		ID:                    int64(len(c.rows) + 1),
		StreamUUID:            streamUUID,
		SubscriptionName:      name,
		LastSeenEventNumber:   startEventNumber,
		LastSeenStreamVersion: startStreamVersion,
		CreatedAt:             time.Now(),
	}
	c.rows[k] = row
	return row, nil
}

func (c *fakeCursorStore) UpdateCursor(_ context.Context, _ es.DBTX, streamUUID, name string, eventNumber, streamVersion int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := cursorKey(streamUUID, name)
	row := c.rows[k]
	row.LastSeenEventNumber = eventNumber
	row.LastSeenStreamVersion = streamVersion
	c.rows[k] = row
	return nil
}

func (c *fakeCursorStore) Delete(_ context.Context, _ es.DBTX, streamUUID, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rows, cursorKey(streamUUID, name))
	return nil
}

// fakeSource is an empty EventSource: every subscription in these tests
// catches up to an empty tail immediately.
type fakeSource struct{}

func (fakeSource) ReadStreamForward(context.Context, es.DBTX, string, int64, int) ([]es.PersistedEvent, error) {
	return nil, nil
}

func (fakeSource) ReadAllForward(context.Context, es.DBTX, int64, int) ([]es.PersistedEvent, error) {
	return nil, nil
}

// fakeLock is an in-memory store.ExclusiveLock keyed by id.
type fakeLock struct {
	mu     sync.Mutex
	locked map[int64]*fakeHeld
}

func newFakeLock() *fakeLock {
	return &fakeLock{locked: make(map[int64]*fakeHeld)}
}

func (l *fakeLock) TryAcquire(context.Context, int64) (store.Held, bool, error) {
	panic("use tryAcquire")
}

func (l *fakeLock) tryAcquire(id int64) (store.Held, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.locked[id]; ok {
		return nil, false
	}
	h := &fakeHeld{lock: l, id: id, lost: make(chan struct{})}
	l.locked[id] = h
	return h, true
}

type fakeHeld struct {
	lock *fakeLock
	id   int64
	lost chan struct{}
}

func (h *fakeHeld) Release(context.Context) error {
	h.lock.mu.Lock()
	defer h.lock.mu.Unlock()
	delete(h.lock.locked, h.id)
	return nil
}

func (h *fakeHeld) Lost() <-chan struct{} { return h.lost }

// wrappedLock adapts fakeLock.tryAcquire to the store.ExclusiveLock
// interface signature, which returns three values.
type wrappedLock struct{ *fakeLock }

func (w wrappedLock) TryAcquire(_ context.Context, id int64) (store.Held, bool, error) {
	h, ok := w.tryAcquire(id)
	return h, ok, nil
}

// fakeBus is a minimal store.Bus: Subscribe accepts and discards the
// handler, Publish is unused by these tests (the supervisor only needs
// FanIn.Register to succeed).
type fakeBus struct{}

func (fakeBus) Publish(context.Context, store.Notification) error { return nil }

func (fakeBus) Subscribe(context.Context, string, func(store.Notification)) (func(), error) {
	return func() {}, nil
}

// fakeSubscriber is a no-op subscription.Subscriber.
type fakeSubscriber struct{}

func (fakeSubscriber) OnEvents(context.Context, []subscription.DeliveredEvent) error { return nil }
func (fakeSubscriber) OnCaughtUp(context.Context, int64) error                       { return nil }

func newTestSupervisor() (*Supervisor, *wrappedLock) {
	lock := wrappedLock{newFakeLock()}
	sup := New(Config{
		DB:          nil,
		CursorStore: newFakeCursorStore(),
		Source:      fakeSource{},
		Lock:        lock,
		FanIn:       notifier.New(fakeBus{}, es.NoOpLogger{}),
	})
	return sup, &lock
}

func TestSupervisor_SubscribeAndUnsubscribe(t *testing.T) {
	sup, _ := newTestSupervisor()
	ctx := context.Background()

	handle, err := sup.Subscribe(ctx, es.StreamSelector("s1"), "sub1", fakeSubscriber{}, subscription.DefaultOptions())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := sup.Unsubscribe(ctx, es.StreamSelector("s1"), "sub1"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}

	select {
	case err := <-handle.Result:
		if err != nil {
			t.Fatalf("expected nil terminal error on explicit unsubscribe, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestSupervisor_DuplicateSubscribeRejected(t *testing.T) {
	sup, _ := newTestSupervisor()
	ctx := context.Background()

	handle, err := sup.Subscribe(ctx, es.StreamSelector("s1"), "sub1", fakeSubscriber{}, subscription.DefaultOptions())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer func() {
		_ = sup.Unsubscribe(ctx, es.StreamSelector("s1"), "sub1")
		<-handle.Result
	}()

	if _, err := sup.Subscribe(ctx, es.StreamSelector("s1"), "sub1", fakeSubscriber{}, subscription.DefaultOptions()); err != es.ErrAlreadyActive {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
}

func TestSupervisor_LockContestedAcrossProcesses(t *testing.T) {
	lock := wrappedLock{newFakeLock()}
	cursors := newFakeCursorStore()

	sup1 := New(Config{CursorStore: cursors, Source: fakeSource{}, Lock: lock, FanIn: notifier.New(fakeBus{}, es.NoOpLogger{})})
	sup2 := New(Config{CursorStore: cursors, Source: fakeSource{}, Lock: lock, FanIn: notifier.New(fakeBus{}, es.NoOpLogger{})})

	ctx := context.Background()
	handle1, err := sup1.Subscribe(ctx, es.StreamSelector("s1"), "sub1", fakeSubscriber{}, subscription.DefaultOptions())
	if err != nil {
		t.Fatalf("first subscribe: %v", err)
	}
	defer func() {
		_ = sup1.Unsubscribe(ctx, es.StreamSelector("s1"), "sub1")
		<-handle1.Result
	}()

	if _, err := sup2.Subscribe(ctx, es.StreamSelector("s1"), "sub1", fakeSubscriber{}, subscription.DefaultOptions()); err != es.ErrLockContested {
		t.Fatalf("expected ErrLockContested from a second process, got %v", err)
	}
}

func TestSupervisor_SubscribeMany(t *testing.T) {
	sup, _ := newTestSupervisor()
	ctx := context.Background()

	specs := []Spec{
		{Selector: es.StreamSelector("a"), Name: "sub", Subscriber: fakeSubscriber{}, Options: subscription.DefaultOptions()},
		{Selector: es.StreamSelector("b"), Name: "sub", Subscriber: fakeSubscriber{}, Options: subscription.DefaultOptions()},
		{Selector: es.StreamSelector("c"), Name: "sub", Subscriber: fakeSubscriber{}, Options: subscription.DefaultOptions()},
	}

	handles, err := sup.SubscribeMany(ctx, specs)
	if err != nil {
		t.Fatalf("subscribe many: %v", err)
	}
	if len(handles) != 3 {
		t.Fatalf("expected 3 handles, got %d", len(handles))
	}

	for i, h := range handles {
		if h == nil {
			t.Fatalf("handle %d is nil", i)
		}
	}
	for _, spec := range specs {
		_ = sup.Unsubscribe(ctx, spec.Selector, spec.Name)
	}
	for _, h := range handles {
		<-h.Result
	}
}
