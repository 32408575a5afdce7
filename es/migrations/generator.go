// Package migrations provides SQL migration generation for the event
// store's schema: the events table, the stream_heads version-assignment
// table, and the subscriptions cursor table.
package migrations

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config configures migration generation.
type Config struct {
	// OutputFolder is the directory where the migration file will be written.
	OutputFolder string

	// OutputFilename is the name of the migration file.
	OutputFilename string

	// EventsTable is the name of the events table.
	EventsTable string

	// StreamHeadsTable is the name of the per-stream version table.
	StreamHeadsTable string

	// SubscriptionsTable is the name of the subscription cursor table.
	SubscriptionsTable string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	timestamp := time.Now().Format("20060102150405")
	return Config{
		OutputFolder:       "migrations",
		OutputFilename:     fmt.Sprintf("%s_init_eventsub.sql", timestamp),
		EventsTable:        "events",
		StreamHeadsTable:   "stream_heads",
		SubscriptionsTable: "subscriptions",
	}
}

func writeMigration(config *Config, sql string) error {
	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}
	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	if err := os.WriteFile(outputPath, []byte(sql), 0o600); err != nil {
		return fmt.Errorf("failed to write migration file: %w", err)
	}
	return nil
}

// GeneratePostgres generates a PostgreSQL migration file.
func GeneratePostgres(config *Config) error {
	return writeMigration(config, generatePostgresSQL(config))
}

func generatePostgresSQL(config *Config) string {
	return fmt.Sprintf(`-- eventsub schema migration
-- Generated: %s

-- Events table stores all stream events in append-only fashion.
CREATE TABLE IF NOT EXISTS %s (
    event_number BIGSERIAL PRIMARY KEY,
    stream_uuid TEXT NOT NULL,
    stream_version BIGINT NOT NULL,
    event_id UUID NOT NULL UNIQUE,
    event_type TEXT NOT NULL,
    event_version INT NOT NULL DEFAULT 1,
    data BYTEA NOT NULL,
    metadata BYTEA,
    causation_id UUID,
    correlation_id UUID,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    UNIQUE (stream_uuid, stream_version)
);

-- stream_heads tracks the latest stream_version assigned per stream,
-- giving append an O(1) lookup instead of a COUNT or MAX scan.
CREATE TABLE IF NOT EXISTS %s (
    stream_uuid TEXT PRIMARY KEY,
    stream_version BIGINT NOT NULL
);

-- subscriptions is the durable cursor per (stream_uuid, subscription_name).
CREATE TABLE IF NOT EXISTS %s (
    id BIGSERIAL PRIMARY KEY,
    stream_uuid TEXT NOT NULL,
    subscription_name TEXT NOT NULL,
    last_seen_event_number BIGINT NOT NULL DEFAULT 0,
    last_seen_stream_version BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    UNIQUE (stream_uuid, subscription_name)
);
`,
		time.Now().Format(time.RFC3339),
		config.EventsTable,
		config.StreamHeadsTable,
		config.SubscriptionsTable,
	)
}

// GenerateSQLite generates a SQLite migration file.
func GenerateSQLite(config *Config) error {
	return writeMigration(config, generateSQLiteSQL(config))
}

func generateSQLiteSQL(config *Config) string {
	return fmt.Sprintf(`-- eventsub schema migration for SQLite
-- Generated: %s

CREATE TABLE IF NOT EXISTS %s (
    event_number INTEGER PRIMARY KEY AUTOINCREMENT,
    stream_uuid TEXT NOT NULL,
    stream_version INTEGER NOT NULL,
    event_id TEXT NOT NULL UNIQUE,
    event_type TEXT NOT NULL,
    event_version INTEGER NOT NULL DEFAULT 1,
    data BLOB NOT NULL,
    metadata BLOB,
    causation_id TEXT,
    correlation_id TEXT,
    created_at TEXT NOT NULL DEFAULT (strftime('%%Y-%%m-%%dT%%H:%%M:%%fZ', 'now')),

    UNIQUE (stream_uuid, stream_version)
);

CREATE TABLE IF NOT EXISTS %s (
    stream_uuid TEXT PRIMARY KEY,
    stream_version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS %s (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    stream_uuid TEXT NOT NULL,
    subscription_name TEXT NOT NULL,
    last_seen_event_number INTEGER NOT NULL DEFAULT 0,
    last_seen_stream_version INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL DEFAULT (strftime('%%Y-%%m-%%dT%%H:%%M:%%fZ', 'now')),

    UNIQUE (stream_uuid, subscription_name)
);
`,
		time.Now().Format(time.RFC3339),
		config.EventsTable,
		config.StreamHeadsTable,
		config.SubscriptionsTable,
	)
}

// GenerateMySQL generates a MySQL/MariaDB migration file.
func GenerateMySQL(config *Config) error {
	return writeMigration(config, generateMySQLSQL(config))
}

func generateMySQLSQL(config *Config) string {
	return fmt.Sprintf(`-- eventsub schema migration for MySQL/MariaDB
-- Generated: %s

CREATE TABLE IF NOT EXISTS %s (
    event_number BIGINT AUTO_INCREMENT PRIMARY KEY,
    stream_uuid VARCHAR(255) NOT NULL,
    stream_version BIGINT NOT NULL,
    event_id BINARY(16) NOT NULL UNIQUE,
    event_type VARCHAR(255) NOT NULL,
    event_version INT NOT NULL DEFAULT 1,
    data BLOB NOT NULL,
    metadata JSON,
    causation_id BINARY(16),
    correlation_id BINARY(16),
    created_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),

    UNIQUE KEY unique_stream_version (stream_uuid, stream_version)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

CREATE TABLE IF NOT EXISTS %s (
    stream_uuid VARCHAR(255) PRIMARY KEY,
    stream_version BIGINT NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

CREATE TABLE IF NOT EXISTS %s (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    stream_uuid VARCHAR(255) NOT NULL,
    subscription_name VARCHAR(255) NOT NULL,
    last_seen_event_number BIGINT NOT NULL DEFAULT 0,
    last_seen_stream_version BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),

    UNIQUE KEY unique_subscription (stream_uuid, subscription_name)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`,
		time.Now().Format(time.RFC3339),
		config.EventsTable,
		config.StreamHeadsTable,
		config.SubscriptionsTable,
	)
}
