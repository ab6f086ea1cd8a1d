package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

var clientSchema = []string{
	`CREATE TABLE IF NOT EXISTS client_info (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS pending_operations (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		id          TEXT NOT NULL UNIQUE,
		kind        TEXT NOT NULL,
		event_id    TEXT NOT NULL,
		payload     TEXT NOT NULL,
		device_id   TEXT NOT NULL,
		created_at  INTEGER NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error  TEXT NOT NULL DEFAULT '',
		failed      INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS event_cache (
		id         TEXT PRIMARY KEY,
		data       TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
}

// OpenClientStore opens (creating if needed) the client's SQLite database in
// dataDir.
func OpenClientStore(dataDir string) (*sql.DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dsn := "file:" + filepath.Join(dataDir, "eventsync.db") + "?_journal_mode=WAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open client store: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)

	for _, stmt := range clientSchema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize client store: %w", err)
		}
	}
	return db, nil
}
