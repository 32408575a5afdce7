// Package integration_test contains integration tests for the Postgres
// adapter. These tests require a running PostgreSQL instance.
//
// Run with: go test -tags=integration ./es/adapters/postgres/integration_test/...
//
//go:build integration

package integration_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/arborly/eventsub/es"
	"github.com/arborly/eventsub/es/adapters/postgres"
	"github.com/arborly/eventsub/es/migrations"
)

func getTestDB(t *testing.T) *sql.DB {
	t.Helper()

	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		host = "localhost"
	}
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	user := os.Getenv("POSTGRES_USER")
	if user == "" {
		user = "postgres"
	}
	password := os.Getenv("POSTGRES_PASSWORD")
	if password == "" {
		password = "postgres"
	}
	dbname := os.Getenv("POSTGRES_DB")
	if dbname == "" {
		dbname = "eventsub_test"
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}
	return db
}

func setupTestTables(t *testing.T, db *sql.DB) {
	t.Helper()

	_, err := db.Exec(`
		DROP TABLE IF EXISTS subscriptions CASCADE;
		DROP TABLE IF EXISTS stream_heads CASCADE;
		DROP TABLE IF EXISTS events CASCADE;
	`)
	if err != nil {
		t.Fatalf("failed to drop tables: %v", err)
	}

	tmpDir := t.TempDir()
	config := migrations.Config{
		OutputFolder:       tmpDir,
		OutputFilename:     "test.sql",
		EventsTable:        "events",
		StreamHeadsTable:   "stream_heads",
		SubscriptionsTable: "subscriptions",
	}
	if err := migrations.GeneratePostgres(&config); err != nil {
		t.Fatalf("failed to generate migration: %v", err)
	}

	migrationSQL, err := os.ReadFile(fmt.Sprintf("%s/%s", tmpDir, config.OutputFilename))
	if err != nil {
		t.Fatalf("failed to read migration: %v", err)
	}
	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("failed to execute migration: %v", err)
	}
}

func newEvent(streamUUID, eventType string) es.Event {
	return es.Event{
		StreamUUID:   streamUUID,
		EventID:      uuid.New(),
		EventType:    eventType,
		EventVersion: 1,
		Data:         []byte(`{"ok":true}`),
		Metadata:     []byte(`{}`),
		CreatedAt:    time.Now(),
	}
}

func TestStore_Append(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	setupTestTables(t, db)

	ctx := context.Background()
	str := postgres.NewStore(postgres.DefaultStoreConfig())
	streamUUID := uuid.NewString()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback() //nolint:errcheck

	persisted, err := str.Append(ctx, tx, streamUUID, []es.Event{
		newEvent(streamUUID, "Created"),
		newEvent(streamUUID, "Updated"),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(persisted) != 2 {
		t.Fatalf("expected 2 persisted events, got %d", len(persisted))
	}
	if persisted[0].StreamVersion != 1 || persisted[1].StreamVersion != 2 {
		t.Errorf("unexpected stream versions: %d, %d", persisted[0].StreamVersion, persisted[1].StreamVersion)
	}
	if persisted[1].EventNumber <= persisted[0].EventNumber {
		t.Errorf("event numbers not monotonic: %d, %d", persisted[0].EventNumber, persisted[1].EventNumber)
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestStore_Append_StreamVersionConflict(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	setupTestTables(t, db)

	ctx := context.Background()
	str := postgres.NewStore(postgres.DefaultStoreConfig())
	streamUUID := uuid.NewString()

	tx1, _ := db.BeginTx(ctx, nil)
	if _, err := str.Append(ctx, tx1, streamUUID, []es.Event{newEvent(streamUUID, "Created")}); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := tx1.Commit(); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	// Manually insert a colliding stream_version to simulate two
	// concurrent appenders racing for the same slot.
	tx2, _ := db.BeginTx(ctx, nil)
	defer tx2.Rollback() //nolint:errcheck

	e := newEvent(streamUUID, "Updated")
	_, err := tx2.ExecContext(ctx, `
		INSERT INTO events (stream_uuid, stream_version, event_id, event_type, event_version, data, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, streamUUID, int64(1), e.EventID, e.EventType, e.EventVersion, e.Data, e.Metadata, e.CreatedAt)
	if err == nil {
		t.Fatal("expected unique constraint violation, got nil")
	}
}

func TestStore_ReadStreamForward(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	setupTestTables(t, db)

	ctx := context.Background()
	str := postgres.NewStore(postgres.DefaultStoreConfig())
	streamUUID := uuid.NewString()

	tx, _ := db.BeginTx(ctx, nil)
	if _, err := str.Append(ctx, tx, streamUUID, []es.Event{
		newEvent(streamUUID, "A"),
		newEvent(streamUUID, "B"),
		newEvent(streamUUID, "C"),
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	events, err := str.ReadStreamForward(ctx, db, streamUUID, 0, 2)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].StreamVersion != 1 || events[1].StreamVersion != 2 {
		t.Errorf("unexpected ordering: %d, %d", events[0].StreamVersion, events[1].StreamVersion)
	}

	rest, err := str.ReadStreamForward(ctx, db, streamUUID, events[1].StreamVersion, 10)
	if err != nil {
		t.Fatalf("read rest: %v", err)
	}
	if len(rest) != 1 || rest[0].StreamVersion != 3 {
		t.Fatalf("expected one remaining event at version 3, got %+v", rest)
	}
}

func TestStore_ReadAllForward(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	setupTestTables(t, db)

	ctx := context.Background()
	str := postgres.NewStore(postgres.DefaultStoreConfig())

	for i := 0; i < 5; i++ {
		streamUUID := uuid.NewString()
		tx, _ := db.BeginTx(ctx, nil)
		if _, err := str.Append(ctx, tx, streamUUID, []es.Event{newEvent(streamUUID, "E")}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit %d: %v", i, err)
		}
	}

	batch1, err := str.ReadAllForward(ctx, db, 0, 2)
	if err != nil {
		t.Fatalf("read batch1: %v", err)
	}
	if len(batch1) != 2 {
		t.Fatalf("expected 2 events, got %d", len(batch1))
	}

	batch2, err := str.ReadAllForward(ctx, db, batch1[len(batch1)-1].EventNumber, 10)
	if err != nil {
		t.Fatalf("read batch2: %v", err)
	}
	if len(batch2) != 3 {
		t.Fatalf("expected 3 remaining events, got %d", len(batch2))
	}
	for _, e1 := range batch1 {
		for _, e2 := range batch2 {
			if e1.EventNumber == e2.EventNumber {
				t.Error("batches overlap")
			}
		}
	}
}

func TestCursorStore_LocateOrCreateAndUpdate(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	setupTestTables(t, db)

	ctx := context.Background()
	cursors := postgres.NewCursorStore(postgres.DefaultCursorStoreConfig())
	streamUUID := uuid.NewString()

	row, err := cursors.LocateOrCreate(ctx, db, streamUUID, "projector", 0, 0)
	if err != nil {
		t.Fatalf("locate_or_create: %v", err)
	}
	if row.LastSeenStreamVersion != 0 {
		t.Errorf("expected fresh row to start at 0, got %d", row.LastSeenStreamVersion)
	}

	again, err := cursors.LocateOrCreate(ctx, db, streamUUID, "projector", 5, 5)
	if err != nil {
		t.Fatalf("second locate_or_create: %v", err)
	}
	if again.ID != row.ID {
		t.Errorf("expected same row identity, got %d vs %d", again.ID, row.ID)
	}
	if again.LastSeenStreamVersion != 0 {
		t.Errorf("existing row must not be reset by a later start position, got %d", again.LastSeenStreamVersion)
	}

	if err := cursors.UpdateCursor(ctx, db, streamUUID, "projector", 3, 3); err != nil {
		t.Fatalf("update_cursor: %v", err)
	}
	updated, err := cursors.LocateOrCreate(ctx, db, streamUUID, "projector", 0, 0)
	if err != nil {
		t.Fatalf("locate after update: %v", err)
	}
	if updated.LastSeenStreamVersion != 3 {
		t.Errorf("expected cursor 3, got %d", updated.LastSeenStreamVersion)
	}

	if err := cursors.Delete(ctx, db, streamUUID, "projector"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	fresh, err := cursors.LocateOrCreate(ctx, db, streamUUID, "projector", 0, 0)
	if err != nil {
		t.Fatalf("locate after delete: %v", err)
	}
	if fresh.LastSeenStreamVersion != 0 {
		t.Errorf("expected a fresh row after delete, got %d", fresh.LastSeenStreamVersion)
	}
}

func TestLock_TryAcquireAndRelease(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	setupTestTables(t, db)

	ctx := context.Background()
	lock := postgres.NewLock(db, es.NoOpLogger{})

	held, ok, err := lock.TryAcquire(ctx, 42)
	if err != nil {
		t.Fatalf("try_acquire: %v", err)
	}
	if !ok {
		t.Fatal("expected to acquire uncontested lock")
	}

	_, ok2, err := lock.TryAcquire(ctx, 42)
	if err != nil {
		t.Fatalf("second try_acquire: %v", err)
	}
	if ok2 {
		t.Error("expected second try_acquire for the same id to be contested")
	}

	if err := held.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	held2, ok3, err := lock.TryAcquire(ctx, 42)
	if err != nil {
		t.Fatalf("try_acquire after release: %v", err)
	}
	if !ok3 {
		t.Fatal("expected lock to be acquirable after release")
	}
	_ = held2.Release(ctx)
}
