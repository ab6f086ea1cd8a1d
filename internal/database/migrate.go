package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS devices (
		id           TEXT PRIMARY KEY,
		name         TEXT NOT NULL DEFAULT '',
		platform     TEXT NOT NULL DEFAULT '',
		last_seen_at TIMESTAMPTZ,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category    TEXT NOT NULL,
		venue       TEXT NOT NULL DEFAULT '',
		address     TEXT NOT NULL DEFAULT '',
		latitude    DOUBLE PRECISION NOT NULL CHECK (latitude BETWEEN -90 AND 90),
		longitude   DOUBLE PRECISION NOT NULL CHECK (longitude BETWEEN -180 AND 180),
		start_time  TIMESTAMPTZ NOT NULL,
		created_by  TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		deleted_at  TIMESTAMPTZ,
		version     BIGINT NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_live_start ON events (start_time) WHERE deleted_at IS NULL`,
	`CREATE TABLE IF NOT EXISTS offline_queue (
		id            BIGSERIAL PRIMARY KEY,
		operation     TEXT NOT NULL,
		event_data    JSONB NOT NULL,
		device_id     TEXT NOT NULL,
		timestamp     TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp(),
		processed     BOOLEAN NOT NULL DEFAULT FALSE,
		claimed_at    TIMESTAMPTZ,
		error_message TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_offline_queue_device_pending
		ON offline_queue (device_id, timestamp, id) WHERE processed = FALSE`,
	`CREATE TABLE IF NOT EXISTS sync_log (
		id         BIGSERIAL PRIMARY KEY,
		device_id  TEXT NOT NULL,
		action     TEXT NOT NULL,
		event_id   TEXT,
		status     TEXT NOT NULL,
		details    JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_log_device ON sync_log (device_id, created_at DESC)`,
}

// Migrate creates the sync tables if they do not exist. It runs in a single
// transaction so a partially created schema is never left behind.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to apply schema: %w", err)
			}
		}
		return nil
	})
}
