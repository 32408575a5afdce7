// Package supervisor orchestrates subscription.FSM instances for a single
// process: advisory-lock acquisition, a registry that rejects a second
// concurrent Subscribe for an identity already active in this process, and
// wiring into the Notifier Fan-in so live notifications reach the FSM.
//
// It is grounded on the teacher's projection/runner.Runner -- one
// goroutine per active unit of work, fan-out cancellation, a result
// channel per unit -- generalized from "run N projections to completion or
// first error" to "run N subscriptions until each unsubscribes or fails".
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/arborly/eventsub/es"
	"github.com/arborly/eventsub/es/notifier"
	"github.com/arborly/eventsub/es/store"
	"github.com/arborly/eventsub/es/subscription"
)

// Config wires the ports a Supervisor needs to run subscriptions.
type Config struct {
	DB          es.DBTX
	CursorStore store.CursorStore
	Source      store.EventSource
	Lock        store.ExclusiveLock
	FanIn       *notifier.FanIn
	Logger      es.Logger
}

type identity struct {
	streamUUID string
	name       string
}

// Handle is returned by Subscribe: the running FSM and a channel that
// receives the subscription's terminal error (nil for an explicit
// Unsubscribe) exactly once, when it stops.
type Handle struct {
	FSM    *subscription.FSM
	Result <-chan error
}

// Supervisor runs subscription.FSM instances on behalf of a process.
type Supervisor struct {
	cfg Config

	mu       sync.Mutex
	reserved map[identity]struct{}
	active   map[identity]*subscription.FSM
}

// New creates a Supervisor over cfg.
func New(cfg Config) *Supervisor {
	if cfg.Logger == nil {
		cfg.Logger = es.NoOpLogger{}
	}
	return &Supervisor{
		cfg:      cfg,
		reserved: make(map[identity]struct{}),
		active:   make(map[identity]*subscription.FSM),
	}
}

// Subscribe starts a new subscription for (selector, name). It returns
// ErrAlreadyActive if this process already runs a subscription for that
// identity, and ErrLockContested if another process holds the advisory
// lock for it. Both are returned without attempting the other check, the
// local registry first since it is the cheaper short-circuit.
func (s *Supervisor) Subscribe(ctx context.Context, selector es.Selector, name string, subscriber subscription.Subscriber, opts subscription.Options) (*Handle, error) {
	id := identity{streamUUID: selector.StreamUUID(), name: name}

	s.mu.Lock()
	if _, ok := s.reserved[id]; ok {
		s.mu.Unlock()
		return nil, es.ErrAlreadyActive
	}
	if _, ok := s.active[id]; ok {
		s.mu.Unlock()
		return nil, es.ErrAlreadyActive
	}
	s.reserved[id] = struct{}{}
	s.mu.Unlock()

	unreserve := func() {
		s.mu.Lock()
		delete(s.reserved, id)
		s.mu.Unlock()
	}

	fsmCtx, cancel := context.WithCancel(context.Background())
	fsm := subscription.New(fsmCtx, s.cfg.DB, s.cfg.CursorStore, s.cfg.Source, s.cfg.Logger)

	if err := fsm.Subscribe(ctx, s.cfg.DB, selector, name, subscriber, opts); err != nil {
		cancel()
		unreserve()
		return nil, err
	}

	snap, err := fsm.Snapshot(ctx)
	if err != nil {
		cancel()
		unreserve()
		return nil, err
	}

	held, ok, err := s.cfg.Lock.TryAcquire(ctx, snap.ID)
	if err != nil {
		_ = fsm.Unsubscribe(context.Background())
		cancel()
		unreserve()
		return nil, fmt.Errorf("supervisor: acquire advisory lock: %w", err)
	}
	if !ok {
		_ = fsm.Unsubscribe(context.Background())
		cancel()
		unreserve()
		return nil, es.ErrLockContested
	}

	if err := fsm.Subscribed(ctx); err != nil {
		_ = held.Release(context.Background())
		_ = fsm.Unsubscribe(context.Background())
		cancel()
		unreserve()
		return nil, err
	}

	unregister, err := s.cfg.FanIn.Register(ctx, selector, fsm)
	if err != nil {
		_ = held.Release(context.Background())
		_ = fsm.Unsubscribe(context.Background())
		cancel()
		unreserve()
		return nil, fmt.Errorf("supervisor: register with notifier: %w", err)
	}

	s.mu.Lock()
	delete(s.reserved, id)
	s.active[id] = fsm
	s.mu.Unlock()

	result := make(chan error, 1)
	go s.watch(id, fsm, held, unregister, cancel, result)

	return &Handle{FSM: fsm, Result: result}, nil
}

// Spec bundles the arguments of a single Subscribe call, for SubscribeMany.
type Spec struct {
	Selector   es.Selector
	Name       string
	Subscriber subscription.Subscriber
	Options    subscription.Options
}

// SubscribeMany starts every spec concurrently and waits for them all to
// either start successfully or fail. The first failure cancels the
// in-flight attempts for the rest and SubscribeMany returns that error;
// handles already started for other specs are torn down before returning.
func (s *Supervisor) SubscribeMany(ctx context.Context, specs []Spec) ([]*Handle, error) {
	handles := make([]*Handle, len(specs))

	group, gctx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		i, spec := i, spec
		group.Go(func() error {
			h, err := s.Subscribe(gctx, spec.Selector, spec.Name, spec.Subscriber, spec.Options)
			if err != nil {
				return fmt.Errorf("supervisor: subscribe %q: %w", spec.Name, err)
			}
			handles[i] = h
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		for _, h := range handles {
			if h != nil {
				_ = h.FSM.Unsubscribe(context.Background())
			}
		}
		return nil, err
	}
	return handles, nil
}

// Unsubscribe stops the subscription registered for (selector, name) in
// this process, if any.
func (s *Supervisor) Unsubscribe(ctx context.Context, selector es.Selector, name string) error {
	s.mu.Lock()
	fsm, ok := s.active[identity{streamUUID: selector.StreamUUID(), name: name}]
	s.mu.Unlock()
	if !ok {
		return es.ErrUnsubscribed
	}
	return fsm.Unsubscribe(ctx)
}

// watch waits for the subscription to stop, either because it finished
// (explicit unsubscribe or fatal error) or because the advisory lock
// session was lost out from under it, and tears down the registry entry,
// the fan-in registration, and the lock accordingly.
func (s *Supervisor) watch(id identity, fsm *subscription.FSM, held store.Held, unregister func(), cancel context.CancelFunc, result chan<- error) {
	var terminal error
	select {
	case <-fsm.Done():
		terminal = fsm.Err()
		_ = held.Release(context.Background())
	case <-held.Lost():
		s.cfg.Logger.Error(context.Background(), "supervisor: advisory lock session lost, stopping subscription",
			"stream_uuid", id.streamUUID, "name", id.name)
		_ = fsm.Unsubscribe(context.Background())
		terminal = es.NewTransientStorageError("advisory_lock", errors.New("lock session lost"))
	}

	unregister()
	cancel()

	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()

	result <- terminal
}
