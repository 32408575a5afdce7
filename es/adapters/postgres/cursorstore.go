package postgres

import (
	"context"
	"fmt"

	"github.com/arborly/eventsub/es"
	"github.com/arborly/eventsub/es/store"
)

// CursorStoreConfig names the subscriptions table.
type CursorStoreConfig struct {
	SubscriptionsTable string
}

// DefaultCursorStoreConfig returns the default table name.
func DefaultCursorStoreConfig() CursorStoreConfig {
	return CursorStoreConfig{SubscriptionsTable: "subscriptions"}
}

// CursorStore is a PostgreSQL-backed implementation of store.CursorStore.
type CursorStore struct {
	config CursorStoreConfig
}

// NewCursorStore creates a new Postgres cursor store.
func NewCursorStore(config CursorStoreConfig) *CursorStore {
	return &CursorStore{config: config}
}

// LocateOrCreate implements store.CursorStore with an INSERT ... ON
// CONFLICT DO NOTHING followed by a SELECT, the same upsert-then-read
// idiom the teacher uses for aggregate heads and projection checkpoints.
func (c *CursorStore) LocateOrCreate(ctx context.Context, tx es.DBTX, streamUUID, name string, startEventNumber, startStreamVersion int64) (store.SubscriptionRow, error) {
	insertQuery := fmt.Sprintf(`
		INSERT INTO %s (stream_uuid, subscription_name, last_seen_event_number, last_seen_stream_version, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (stream_uuid, subscription_name) DO NOTHING
	`, c.config.SubscriptionsTable)
	if _, err := tx.ExecContext(ctx, insertQuery, streamUUID, name, startEventNumber, startStreamVersion); err != nil {
		return store.SubscriptionRow{}, fmt.Errorf("postgres: insert subscription row: %w", err)
	}

	selectQuery := fmt.Sprintf(`
		SELECT id, stream_uuid, subscription_name, last_seen_event_number, last_seen_stream_version, created_at
		FROM %s
		WHERE stream_uuid = $1 AND subscription_name = $2
	`, c.config.SubscriptionsTable)
	var row store.SubscriptionRow
	err := tx.QueryRowContext(ctx, selectQuery, streamUUID, name).Scan(
		&row.ID, &row.StreamUUID, &row.SubscriptionName,
		&row.LastSeenEventNumber, &row.LastSeenStreamVersion, &row.CreatedAt,
	)
	if err != nil {
		return store.SubscriptionRow{}, fmt.Errorf("postgres: locate subscription row: %w", err)
	}
	return row, nil
}

// UpdateCursor implements store.CursorStore.
func (c *CursorStore) UpdateCursor(ctx context.Context, tx es.DBTX, streamUUID, name string, eventNumber, streamVersion int64) error {
	query := fmt.Sprintf(`
		UPDATE %s SET last_seen_event_number = $3, last_seen_stream_version = $4
		WHERE stream_uuid = $1 AND subscription_name = $2
	`, c.config.SubscriptionsTable)
	_, err := tx.ExecContext(ctx, query, streamUUID, name, eventNumber, streamVersion)
	if err != nil {
		return fmt.Errorf("postgres: update cursor: %w", err)
	}
	return nil
}

// Delete implements store.CursorStore.
func (c *CursorStore) Delete(ctx context.Context, tx es.DBTX, streamUUID, name string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE stream_uuid = $1 AND subscription_name = $2`, c.config.SubscriptionsTable)
	_, err := tx.ExecContext(ctx, query, streamUUID, name)
	if err != nil {
		return fmt.Errorf("postgres: delete subscription row: %w", err)
	}
	return nil
}
