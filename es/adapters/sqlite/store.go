// Package sqlite provides a SQLite adapter for the event store:
// store.EventStore and store.EventSource only, the same reduced scope as
// the MySQL adapter -- SQLite has no LISTEN/NOTIFY or cross-process
// advisory lock, so store.Bus and store.ExclusiveLock are not implemented
// here.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arborly/eventsub/es"
	"github.com/arborly/eventsub/es/store"
)

const sqliteDateTimeFormat = "2006-01-02 15:04:05.999999"

// StoreConfig names the tables the adapter reads and writes.
type StoreConfig struct {
	EventsTable      string
	StreamHeadsTable string
}

// DefaultStoreConfig returns the default table names.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		EventsTable:      "events",
		StreamHeadsTable: "stream_heads",
	}
}

// Store is a SQLite-backed implementation of store.EventStore and
// store.EventSource.
type Store struct {
	config StoreConfig
}

// NewStore creates a new SQLite event store with the given configuration.
func NewStore(config StoreConfig) *Store {
	return &Store{config: config}
}

// Append implements store.EventStore.
func (s *Store) Append(ctx context.Context, tx es.DBTX, streamUUID string, events []es.Event) ([]es.PersistedEvent, error) {
	if len(events) == 0 {
		return nil, store.ErrNoEvents
	}

	var currentVersion sql.NullInt64
	headQuery := fmt.Sprintf(`SELECT stream_version FROM %s WHERE stream_uuid = ?`, s.config.StreamHeadsTable)
	if err := tx.QueryRowContext(ctx, headQuery, streamUUID).Scan(&currentVersion); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: check stream head: %w", err)
	}

	nextVersion := int64(1)
	if currentVersion.Valid {
		nextVersion = currentVersion.Int64 + 1
	}

	insertQuery := fmt.Sprintf(`
		INSERT INTO %s (
			stream_uuid, stream_version, event_id, event_type, event_version,
			data, metadata, causation_id, correlation_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.config.EventsTable)

	persisted := make([]es.PersistedEvent, len(events))
	for i := range events {
		e := events[i]
		e.StreamUUID = streamUUID
		e.StreamVersion = nextVersion + int64(i)

		var causationID, correlationID interface{}
		if e.CausationID.Valid {
			causationID = e.CausationID.UUID.String()
		}
		if e.CorrelationID.Valid {
			correlationID = e.CorrelationID.UUID.String()
		}

		result, err := tx.ExecContext(ctx, insertQuery,
			e.StreamUUID, e.StreamVersion, e.EventID.String(), e.EventType, e.EventVersion,
			e.Data, e.Metadata, causationID, correlationID, e.CreatedAt.Format(sqliteDateTimeFormat),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, store.ErrStreamVersionConflict
			}
			return nil, fmt.Errorf("sqlite: insert event %d: %w", i, err)
		}

		eventNumber, err := result.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("sqlite: last insert id: %w", err)
		}
		e.EventNumber = eventNumber
		persisted[i] = es.PersistedEvent{Event: e}
	}

	latestVersion := nextVersion + int64(len(events)) - 1
	upsertQuery := fmt.Sprintf(`
		INSERT INTO %s (stream_uuid, stream_version)
		VALUES (?, ?)
		ON CONFLICT (stream_uuid) DO UPDATE SET stream_version = excluded.stream_version
	`, s.config.StreamHeadsTable)
	if _, err := tx.ExecContext(ctx, upsertQuery, streamUUID, latestVersion); err != nil {
		return nil, fmt.Errorf("sqlite: update stream head: %w", err)
	}

	return persisted, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed")
}

// ReadStreamForward implements store.EventSource.
func (s *Store) ReadStreamForward(ctx context.Context, tx es.DBTX, streamUUID string, fromVersion int64, count int) ([]es.PersistedEvent, error) {
	query := fmt.Sprintf(`
		SELECT event_number, stream_uuid, stream_version, event_id, event_type,
			event_version, data, metadata, causation_id, correlation_id, created_at
		FROM %s
		WHERE stream_uuid = ? AND stream_version > ?
		ORDER BY stream_version ASC
		LIMIT ?
	`, s.config.EventsTable)
	return s.scanEvents(ctx, tx, query, streamUUID, fromVersion, count)
}

// ReadAllForward implements store.EventSource.
func (s *Store) ReadAllForward(ctx context.Context, tx es.DBTX, fromEventNumber int64, count int) ([]es.PersistedEvent, error) {
	query := fmt.Sprintf(`
		SELECT event_number, stream_uuid, stream_version, event_id, event_type,
			event_version, data, metadata, causation_id, correlation_id, created_at
		FROM %s
		WHERE event_number > ?
		ORDER BY event_number ASC
		LIMIT ?
	`, s.config.EventsTable)
	return s.scanEvents(ctx, tx, query, fromEventNumber, count)
}

func (s *Store) scanEvents(ctx context.Context, tx es.DBTX, query string, args ...any) ([]es.PersistedEvent, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query events: %w", err)
	}
	defer rows.Close()

	var events []es.PersistedEvent
	for rows.Next() {
		var e es.PersistedEvent
		var eventID string
		var causationID, correlationID sql.NullString
		var createdAt string

		if err := rows.Scan(
			&e.EventNumber, &e.StreamUUID, &e.StreamVersion, &eventID, &e.EventType,
			&e.EventVersion, &e.Data, &e.Metadata, &causationID, &correlationID, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan event: %w", err)
		}

		if e.EventID, err = uuid.Parse(eventID); err != nil {
			return nil, fmt.Errorf("sqlite: parse event id: %w", err)
		}
		if causationID.Valid {
			if e.CausationID.UUID, err = uuid.Parse(causationID.String); err != nil {
				return nil, fmt.Errorf("sqlite: parse causation id: %w", err)
			}
			e.CausationID.Valid = true
		}
		if correlationID.Valid {
			if e.CorrelationID.UUID, err = uuid.Parse(correlationID.String); err != nil {
				return nil, fmt.Errorf("sqlite: parse correlation id: %w", err)
			}
			e.CorrelationID.Valid = true
		}
		if e.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: parse created_at: %w", err)
		}

		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows: %w", err)
	}
	return events, nil
}

var sqliteDateTimeFormats = []string{
	sqliteDateTimeFormat,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999Z",
	"2006-01-02T15:04:05Z",
	time.RFC3339,
	time.RFC3339Nano,
}

func parseTimestamp(s string) (time.Time, error) {
	for _, format := range sqliteDateTimeFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", s)
}
