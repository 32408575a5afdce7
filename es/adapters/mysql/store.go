// Package mysql provides a MySQL/MariaDB adapter for the event store:
// store.EventStore and store.EventSource only. MySQL has no LISTEN/NOTIFY
// or advisory-lock primitive equivalent to Postgres's, so this adapter
// does not implement store.Bus or store.ExclusiveLock; an embedder on
// MySQL needs an external lock/notification transport for those ports.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/arborly/eventsub/es"
	"github.com/arborly/eventsub/es/store"
)

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

// Store is a MySQL-backed implementation of store.EventStore and
// store.EventSource.
type Store struct {
	config StoreConfig
}

// NewStore creates a new MySQL event store with the given configuration.
func NewStore(config StoreConfig) *Store {
	return &Store{config: config}
}

// Append implements store.EventStore. stream_version is assigned the same
// way as the Postgres adapter: a lookup against stream_heads followed by
// an upsert, with the unique constraint on (stream_uuid, stream_version)
// as the concurrency backstop.
func (s *Store) Append(ctx context.Context, tx es.DBTX, streamUUID string, events []es.Event) ([]es.PersistedEvent, error) {
	if len(events) == 0 {
		return nil, store.ErrNoEvents
	}

	var currentVersion sql.NullInt64
	headQuery := fmt.Sprintf(`SELECT stream_version FROM %s WHERE stream_uuid = ?`, s.config.StreamHeadsTable)
	if err := tx.QueryRowContext(ctx, headQuery, streamUUID).Scan(&currentVersion); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mysql: check stream head: %w", err)
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

		eventIDBytes, err := e.EventID.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("mysql: marshal event id: %w", err)
		}

		var causationID, correlationID interface{}
		if e.CausationID.Valid {
			b, merr := e.CausationID.UUID.MarshalBinary()
			if merr != nil {
				return nil, fmt.Errorf("mysql: marshal causation id: %w", merr)
			}
			causationID = b
		}
		if e.CorrelationID.Valid {
			b, merr := e.CorrelationID.UUID.MarshalBinary()
			if merr != nil {
				return nil, fmt.Errorf("mysql: marshal correlation id: %w", merr)
			}
			correlationID = b
		}

		result, err := tx.ExecContext(ctx, insertQuery,
			e.StreamUUID, e.StreamVersion, eventIDBytes, e.EventType, e.EventVersion,
			e.Data, e.Metadata, causationID, correlationID, e.CreatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, store.ErrStreamVersionConflict
			}
			return nil, fmt.Errorf("mysql: insert event %d: %w", i, err)
		}

		eventNumber, err := result.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("mysql: last insert id: %w", err)
		}
		e.EventNumber = eventNumber
		persisted[i] = es.PersistedEvent{Event: e}
	}

	latestVersion := nextVersion + int64(len(events)) - 1
	upsertQuery := fmt.Sprintf(`
		INSERT INTO %s (stream_uuid, stream_version)
		VALUES (?, ?)
		ON DUPLICATE KEY UPDATE stream_version = VALUES(stream_version)
	`, s.config.StreamHeadsTable)
	if _, err := tx.ExecContext(ctx, upsertQuery, streamUUID, latestVersion); err != nil {
		return nil, fmt.Errorf("mysql: update stream head: %w", err)
	}

	return persisted, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062 // ER_DUP_ENTRY
	}
	return strings.Contains(err.Error(), "Duplicate entry")
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
		return nil, fmt.Errorf("mysql: query events: %w", err)
	}
	defer rows.Close()

	var events []es.PersistedEvent
	for rows.Next() {
		var e es.PersistedEvent
		var eventIDBytes []byte
		var causationID, correlationID []byte
		if err := rows.Scan(
			&e.EventNumber, &e.StreamUUID, &e.StreamVersion, &eventIDBytes, &e.EventType,
			&e.EventVersion, &e.Data, &e.Metadata, &causationID, &correlationID, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("mysql: scan event: %w", err)
		}
		if err := e.EventID.UnmarshalBinary(eventIDBytes); err != nil {
			return nil, fmt.Errorf("mysql: parse event id: %w", err)
		}
		if causationID != nil {
			if err := e.CausationID.UUID.UnmarshalBinary(causationID); err != nil {
				return nil, fmt.Errorf("mysql: parse causation id: %w", err)
			}
			e.CausationID.Valid = true
		}
		if correlationID != nil {
			if err := e.CorrelationID.UUID.UnmarshalBinary(correlationID); err != nil {
				return nil, fmt.Errorf("mysql: parse correlation id: %w", err)
			}
			e.CorrelationID.Valid = true
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mysql: rows: %w", err)
	}
	return events, nil
}
