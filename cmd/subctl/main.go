// Command subctl is a small command-line demo of the subscription engine
// against a Postgres database: append events to a stream, or tail a
// stream (or all streams) live, printing and acking each delivered event.
//
// Usage:
//
//	subctl append -stream <uuid> -type UserCreated -data '{"email":"a@b.com"}'
//	subctl tail -stream <uuid> -name my-subscriber
//	subctl tail -all -name my-subscriber
//
// Connection parameters are read from environment variables (see
// loadConfig), falling back to local defaults suitable for development.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/arborly/eventsub/es"
	"github.com/arborly/eventsub/es/adapters/postgres"
	"github.com/arborly/eventsub/es/notifier"
	"github.com/arborly/eventsub/es/subscription"
	"github.com/arborly/eventsub/es/supervisor"
)

// config holds the connection parameters subctl needs, read from the
// environment so the same binary works against dev/staging/prod without
// recompiling.
type config struct {
	dsn     string
	channel string
}

func loadConfig() config {
	dsn := os.Getenv("EVENTSUB_DSN")
	if dsn == "" {
		dsn = "host=localhost port=5432 user=postgres password=postgres dbname=eventsub sslmode=disable"
	}
	channel := os.Getenv("EVENTSUB_NOTIFY_CHANNEL")
	if channel == "" {
		channel = "eventsub_events"
	}
	return config{dsn: dsn, channel: channel}
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg := loadConfig()
	var err error
	switch os.Args[1] {
	case "append":
		err = runAppend(cfg, os.Args[2:])
	case "tail":
		err = runTail(cfg, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "subctl: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: subctl <append|tail> [flags]")
}

func runAppend(cfg config, args []string) error {
	fs := flag.NewFlagSet("append", flag.ExitOnError)
	stream := fs.String("stream", "", "stream UUID to append to (required)")
	eventType := fs.String("type", "", "event type (required)")
	data := fs.String("data", "{}", "JSON event payload")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *stream == "" || *eventType == "" {
		return fmt.Errorf("append requires -stream and -type")
	}

	db, err := sql.Open("postgres", cfg.dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	store := postgres.NewStore(postgres.DefaultStoreConfig())

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	persisted, err := store.Append(ctx, tx, *stream, []es.Event{{
		EventID:      uuid.New(),
		EventType:    *eventType,
		EventVersion: 1,
		Data:         json.RawMessage(*data),
		Metadata:     []byte(`{}`),
		CreatedAt:    time.Now(),
	}})
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("append: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	fmt.Printf("appended %s at event_number=%d stream_version=%d\n", *eventType, persisted[0].EventNumber, persisted[0].StreamVersion)
	return nil
}

// tailSubscriber prints each delivered event to stdout and acks
// immediately, achieving at-most-once-unacked delivery.
type tailSubscriber struct {
	fsm *subscription.FSM
}

func (t *tailSubscriber) OnEvents(ctx context.Context, events []subscription.DeliveredEvent) error {
	for _, de := range events {
		e := de.Event
		fmt.Printf("%-20s stream=%s event_number=%d stream_version=%d data=%s\n",
			e.EventType, e.StreamUUID, e.EventNumber, e.StreamVersion, string(e.Data))
	}
	last := events[len(events)-1].Event
	return t.fsm.Ack(ctx, last.EventNumber, last.StreamVersion)
}

func (t *tailSubscriber) OnCaughtUp(_ context.Context, cursor int64) error {
	fmt.Printf("-- caught up to %d, now live --\n", cursor)
	return nil
}

func runTail(cfg config, args []string) error {
	fs := flag.NewFlagSet("tail", flag.ExitOnError)
	stream := fs.String("stream", "", "stream UUID to tail")
	all := fs.Bool("all", false, "tail all streams instead of a single one")
	name := fs.String("name", "subctl", "subscriber name (identifies the cursor row)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*all && *stream == "" {
		return fmt.Errorf("tail requires -stream or -all")
	}

	db, err := sql.Open("postgres", cfg.dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer db.Close()

	store := postgres.NewStore(postgres.DefaultStoreConfig())
	bus, err := postgres.NewBus(cfg.dsn, cfg.channel, store, db, es.NoOpLogger{})
	if err != nil {
		return fmt.Errorf("create bus: %w", err)
	}
	defer bus.Close() //nolint:errcheck

	sup := supervisor.New(supervisor.Config{
		DB:          db,
		CursorStore: postgres.NewCursorStore(postgres.DefaultCursorStoreConfig()),
		Source:      store,
		Lock:        postgres.NewLock(db, es.NoOpLogger{}),
		FanIn:       notifier.New(bus, es.NoOpLogger{}),
	})

	selector := es.StreamSelector(*stream)
	if *all {
		selector = es.AllStreamsSelector()
	}

	sub := &tailSubscriber{}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := sup.Subscribe(ctx, selector, *name, sub, subscription.DefaultOptions())
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	sub.fsm = handle.FSM

	<-ctx.Done()
	fmt.Println("-- shutting down --")
	if err := sup.Unsubscribe(context.Background(), selector, *name); err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	return <-handle.Result
}
