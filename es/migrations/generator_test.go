package migrations

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGeneratePostgres(t *testing.T) {
	tmpDir := t.TempDir()

	config := Config{
		OutputFolder:       tmpDir,
		OutputFilename:     "test_migration.sql",
		EventsTable:        "events",
		StreamHeadsTable:   "stream_heads",
		SubscriptionsTable: "subscriptions",
	}

	if err := GeneratePostgres(&config); err != nil {
		t.Fatalf("GeneratePostgres failed: %v", err)
	}

	sql := readMigration(t, tmpDir, config.OutputFilename)

	requiredStrings := []string{
		"CREATE TABLE IF NOT EXISTS events",
		"event_number BIGSERIAL PRIMARY KEY",
		"stream_uuid TEXT NOT NULL",
		"stream_version BIGINT NOT NULL",
		"event_id UUID NOT NULL UNIQUE",
		"UNIQUE (stream_uuid, stream_version)",
		"CREATE TABLE IF NOT EXISTS stream_heads",
		"CREATE TABLE IF NOT EXISTS subscriptions",
		"last_seen_event_number BIGINT NOT NULL DEFAULT 0",
		"last_seen_stream_version BIGINT NOT NULL DEFAULT 0",
		"UNIQUE (stream_uuid, subscription_name)",
	}
	for _, required := range requiredStrings {
		if !strings.Contains(sql, required) {
			t.Errorf("generated SQL missing required string: %s", required)
		}
	}
}

func TestGeneratePostgres_CustomTableNames(t *testing.T) {
	tmpDir := t.TempDir()

	config := Config{
		OutputFolder:       tmpDir,
		OutputFilename:     "custom_migration.sql",
		EventsTable:        "custom_events",
		StreamHeadsTable:   "custom_stream_heads",
		SubscriptionsTable: "custom_subscriptions",
	}

	if err := GeneratePostgres(&config); err != nil {
		t.Fatalf("GeneratePostgres failed: %v", err)
	}

	sql := readMigration(t, tmpDir, config.OutputFilename)

	for _, table := range []string{"custom_events", "custom_stream_heads", "custom_subscriptions"} {
		if !strings.Contains(sql, "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("custom table name %s not used", table)
		}
	}
}

func TestGenerateSQLite(t *testing.T) {
	tmpDir := t.TempDir()

	config := DefaultConfig()
	config.OutputFolder = tmpDir
	config.OutputFilename = "sqlite_migration.sql"

	if err := GenerateSQLite(&config); err != nil {
		t.Fatalf("GenerateSQLite failed: %v", err)
	}

	sql := readMigration(t, tmpDir, config.OutputFilename)
	if !strings.Contains(sql, "INTEGER PRIMARY KEY AUTOINCREMENT") {
		t.Error("expected SQLite autoincrement primary key")
	}
	if !strings.Contains(sql, "UNIQUE (stream_uuid, stream_version)") {
		t.Error("expected unique stream_uuid/stream_version constraint")
	}
}

func TestGenerateMySQL(t *testing.T) {
	tmpDir := t.TempDir()

	config := DefaultConfig()
	config.OutputFolder = tmpDir
	config.OutputFilename = "mysql_migration.sql"

	if err := GenerateMySQL(&config); err != nil {
		t.Fatalf("GenerateMySQL failed: %v", err)
	}

	sql := readMigration(t, tmpDir, config.OutputFilename)
	if !strings.Contains(sql, "ENGINE=InnoDB") {
		t.Error("expected InnoDB engine clause")
	}
	if !strings.Contains(sql, "UNIQUE KEY unique_stream_version") {
		t.Error("expected named unique key for stream version")
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	if config.EventsTable != "events" {
		t.Errorf("expected default events table name, got %s", config.EventsTable)
	}
	if !strings.HasSuffix(config.OutputFilename, "_init_eventsub.sql") {
		t.Errorf("unexpected default filename: %s", config.OutputFilename)
	}
}

func readMigration(t *testing.T, dir, filename string) string {
	t.Helper()
	content, err := os.ReadFile(filepath.Join(dir, filename))
	if err != nil {
		t.Fatalf("failed to read generated file: %v", err)
	}
	return string(content)
}
