// Package postgres provides a PostgreSQL adapter for the event store, its
// cursor store, its exclusive advisory lock, and its notification bus.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/lib/pq"

	"github.com/arborly/eventsub/es"
	"github.com/arborly/eventsub/es/store"
)

// StoreConfig names the tables the adapter reads and writes. Configuration
// is immutable after construction.
type StoreConfig struct {
	// EventsTable holds one row per persisted event.
	EventsTable string

	// StreamHeadsTable tracks the latest assigned stream_version per stream_uuid for
	// O(1) version assignment, the same upsert idiom the teacher uses for
	// aggregate heads.
	StreamHeadsTable string

	// NotifyChannel is the Postgres NOTIFY channel the Notify Bus listens
	// on after every committed append.
	NotifyChannel string
}

// DefaultStoreConfig returns the default table and channel names.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		EventsTable:      "events",
		StreamHeadsTable: "stream_heads",
		NotifyChannel:    "eventsub_events",
	}
}

// Store is a PostgreSQL-backed implementation of store.EventStore and
// store.EventSource.
type Store struct {
	config StoreConfig
}

// NewStore creates a new Postgres event store with the given configuration.
func NewStore(config StoreConfig) *Store {
	return &Store{config: config}
}

// Append implements store.EventStore. It assigns stream_version using the
// stream_heads table for O(1) lookup and lets the events table's
// BIGSERIAL primary key assign event_number. The unique constraint on
// (stream_uuid, stream_version) is the optimistic-concurrency backstop: if
// another transaction committed to the same stream first, the insert fails
// and Append returns store.ErrStreamVersionConflict. The commit is
// announced via pg_notify on the same transaction so the Notify Bus only
// observes it after commit.
func (s *Store) Append(ctx context.Context, tx es.DBTX, streamUUID string, events []es.Event) ([]es.PersistedEvent, error) {
	if len(events) == 0 {
		return nil, store.ErrNoEvents
	}

	var currentVersion sql.NullInt64
	headQuery := fmt.Sprintf(`SELECT stream_version FROM %s WHERE stream_uuid = $1`, s.config.StreamHeadsTable)
	if err := tx.QueryRowContext(ctx, headQuery, streamUUID).Scan(&currentVersion); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("postgres: check stream head: %w", err)
	}

	nextVersion := int64(1)
	if currentVersion.Valid {
		nextVersion = currentVersion.Int64 + 1
	}

	insertQuery := fmt.Sprintf(`
		INSERT INTO %s (
			stream_uuid, stream_version, event_id, event_type, event_version,
			data, metadata, causation_id, correlation_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING event_number
	`, s.config.EventsTable)

	persisted := make([]es.PersistedEvent, len(events))
	for i := range events {
		e := events[i]
		e.StreamUUID = streamUUID
		e.StreamVersion = nextVersion + int64(i)

		err := tx.QueryRowContext(ctx, insertQuery,
			e.StreamUUID,
			e.StreamVersion,
			e.EventID,
			e.EventType,
			e.EventVersion,
			e.Data,
			e.Metadata,
			e.CausationID,
			e.CorrelationID,
			e.CreatedAt,
		).Scan(&e.EventNumber)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, store.ErrStreamVersionConflict
			}
			return nil, fmt.Errorf("postgres: insert event %d: %w", i, err)
		}
		persisted[i] = es.PersistedEvent{Event: e}
	}

	latestVersion := nextVersion + int64(len(events)) - 1
	upsertQuery := fmt.Sprintf(`
		INSERT INTO %s (stream_uuid, stream_version)
		VALUES ($1, $2)
		ON CONFLICT (stream_uuid) DO UPDATE SET stream_version = $2
	`, s.config.StreamHeadsTable)
	if _, err := tx.ExecContext(ctx, upsertQuery, streamUUID, latestVersion); err != nil {
		return nil, fmt.Errorf("postgres: update stream head: %w", err)
	}

	last := persisted[len(persisted)-1].EventNumber
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, s.config.NotifyChannel, strconv.FormatInt(last, 10)); err != nil {
		return nil, fmt.Errorf("postgres: notify: %w", err)
	}

	return persisted, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// ReadStreamForward implements store.EventSource.
func (s *Store) ReadStreamForward(ctx context.Context, tx es.DBTX, streamUUID string, fromVersion int64, count int) ([]es.PersistedEvent, error) {
	query := fmt.Sprintf(`
		SELECT event_number, stream_uuid, stream_version, event_id, event_type,
			event_version, data, metadata, causation_id, correlation_id, created_at
		FROM %s
		WHERE stream_uuid = $1 AND stream_version > $2
		ORDER BY stream_version ASC
		LIMIT $3
	`, s.config.EventsTable)
	return s.scanEvents(ctx, tx, query, streamUUID, fromVersion, count)
}

// ReadAllForward implements store.EventSource.
func (s *Store) ReadAllForward(ctx context.Context, tx es.DBTX, fromEventNumber int64, count int) ([]es.PersistedEvent, error) {
	query := fmt.Sprintf(`
		SELECT event_number, stream_uuid, stream_version, event_id, event_type,
			event_version, data, metadata, causation_id, correlation_id, created_at
		FROM %s
		WHERE event_number > $1
		ORDER BY event_number ASC
		LIMIT $2
	`, s.config.EventsTable)
	return s.scanEvents(ctx, tx, query, fromEventNumber, count)
}

func (s *Store) scanEvents(ctx context.Context, tx es.DBTX, query string, args ...any) ([]es.PersistedEvent, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query events: %w", err)
	}
	defer rows.Close()

	var events []es.PersistedEvent
	for rows.Next() {
		var e es.PersistedEvent
		if err := rows.Scan(
			&e.EventNumber,
			&e.StreamUUID,
			&e.StreamVersion,
			&e.EventID,
			&e.EventType,
			&e.EventVersion,
			&e.Data,
			&e.Metadata,
			&e.CausationID,
			&e.CorrelationID,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows: %w", err)
	}
	return events, nil
}
