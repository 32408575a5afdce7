package postgres

import (
	"context"
	"database/sql"
	"strconv"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/arborly/eventsub/es"
	"github.com/arborly/eventsub/es/store"
)

// Bus is the Notify Bus adapter: a single pq.Listener per process
// receives every commit's NOTIFY, re-reads the committed rows by
// event_number (rather than trusting the notification payload to carry
// the full event bodies, which NOTIFY payloads are too small for), and
// fans the resulting Notifications out to registered subscribers. This
// mirrors the teacher's separation between the storage adapter (Store)
// and in-process orchestration (its Processor/Runner).
type Bus struct {
	db       *sql.DB
	source   store.EventSource
	listener *pq.Listener
	channel  string
	logger   es.Logger

	mu            sync.Mutex
	lastPublished int64
	subscribers   map[string][]func(store.Notification)
}

// NewBus creates a Bus listening on channel over dsn. source is used to
// re-read committed event rows once a notification arrives; it is
// typically the same *Store the Append path writes through.
func NewBus(dsn, channel string, source store.EventSource, db *sql.DB, logger es.Logger) (*Bus, error) {
	if logger == nil {
		logger = es.NoOpLogger{}
	}
	b := &Bus{
		db:          db,
		source:      source,
		channel:     channel,
		logger:      logger,
		subscribers: make(map[string][]func(store.Notification)),
	}

	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			b.logger.Error(context.Background(), "postgres listener event", "error", err)
		}
	})
	if err := listener.Listen(channel); err != nil {
		_ = listener.Close()
		return nil, err
	}
	b.listener = listener

	go b.run()
	return b, nil
}

// Publish implements store.Bus by issuing pg_notify directly; Store.Append
// calls this same primitive inside its own transaction instead, since
// NOTIFY must be issued on the committing connection to only become
// visible after commit.
func (b *Bus) Publish(ctx context.Context, n store.Notification) error {
	if len(n.Events) == 0 {
		return nil
	}
	last := n.Events[len(n.Events)-1].EventNumber
	_, err := b.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, b.channel, strconv.FormatInt(last, 10))
	return err
}

// Subscribe implements store.Bus. selector is either a stream_uuid or
// es.AllStreams.
func (b *Bus) Subscribe(_ context.Context, selector string, handler func(store.Notification)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[selector] = append(b.subscribers[selector], handler)
	idx := len(b.subscribers[selector]) - 1

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		handlers := b.subscribers[selector]
		if idx < len(handlers) {
			handlers[idx] = nil
		}
	}
	return unsubscribe, nil
}

// Close stops the listener.
func (b *Bus) Close() error {
	return b.listener.Close()
}

func (b *Bus) run() {
	for n := range b.listener.Notify {
		if n == nil {
			continue
		}
		b.deliver(context.Background())
	}
}

// deliver re-reads up to 1000 events committed after the last one it
// delivered and routes each to its per-stream and $all subscribers,
// preserving commit order since ReadAllForward is ordered by ascending
// event_number.
func (b *Bus) deliver(ctx context.Context) {
	b.mu.Lock()
	from := b.lastPublished
	b.mu.Unlock()

	events, err := b.source.ReadAllForward(ctx, b.db, from, 1000)
	if err != nil {
		b.logger.Error(ctx, "notify bus: re-read after notification failed", "error", err)
		return
	}
	if len(events) == 0 {
		return
	}

	byStream := make(map[string][]es.PersistedEvent)
	for _, e := range events {
		byStream[e.StreamUUID] = append(byStream[e.StreamUUID], e)
	}

	b.mu.Lock()
	b.lastPublished = events[len(events)-1].EventNumber
	allHandlers := append([]func(store.Notification){}, b.subscribers[es.AllStreams]...)
	streamHandlers := make(map[string][]func(store.Notification), len(byStream))
	for streamUUID := range byStream {
		streamHandlers[streamUUID] = append([]func(store.Notification){}, b.subscribers[streamUUID]...)
	}
	b.mu.Unlock()

	for _, handler := range allHandlers {
		if handler == nil {
			continue
		}
		handler(store.Notification{StreamUUID: es.AllStreams, Events: events})
	}
	for streamUUID, streamEvents := range byStream {
		for _, handler := range streamHandlers[streamUUID] {
			if handler == nil {
				continue
			}
			handler(store.Notification{StreamUUID: streamUUID, Events: streamEvents})
		}
	}
}
