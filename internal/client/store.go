package client

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/eventsync/internal/models"
)

const deviceIDKey = "device_id"

// EnsureDeviceID returns the device id stored in db, generating and saving
// one on first use.
func EnsureDeviceID(ctx context.Context, db *sql.DB) (string, error) {
	var id string
	err := db.QueryRowContext(ctx, `SELECT value FROM client_info WHERE key = ?`, deviceIDKey).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}

	id = uuid.NewString()
	// OR IGNORE keeps the first id if two processes race here.
	if _, err := db.ExecContext(ctx, `INSERT OR IGNORE INTO client_info (key, value) VALUES (?, ?)`, deviceIDKey, id); err != nil {
		return "", fmt.Errorf("failed to save device id: %w", err)
	}
	if err := db.QueryRowContext(ctx, `SELECT value FROM client_info WHERE key = ?`, deviceIDKey).Scan(&id); err != nil {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}
	return id, nil
}

// EventStore is the device's local read model of events. Optimistic writes
// and remote notifications both land here.
type EventStore struct {
	db *sql.DB
}

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

func (s *EventStore) Put(ctx context.Context, event *models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO event_cache (id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		event.ID, string(data), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to cache event: %w", err)
	}
	return nil
}

func (s *EventStore) Remove(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM event_cache WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove cached event: %w", err)
	}
	return nil
}

func (s *EventStore) Get(ctx context.Context, id string) (*models.Event, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM event_cache WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached event: %w", err)
	}
	var event models.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached event: %w", err)
	}
	return &event, nil
}

func (s *EventStore) List(ctx context.Context) ([]*models.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM event_cache ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cached events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan cached event: %w", err)
		}
		var event models.Event
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal cached event: %w", err)
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}

// ReplaceAll swaps the cache for a fresh server snapshot.
func (s *EventStore) ReplaceAll(ctx context.Context, events []*models.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM event_cache`); err != nil {
		return fmt.Errorf("failed to clear event cache: %w", err)
	}
	now := time.Now().UnixMilli()
	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO event_cache (id, data, updated_at) VALUES (?, ?, ?)`, event.ID, string(data), now); err != nil {
			return fmt.Errorf("failed to cache event: %w", err)
		}
	}
	return tx.Commit()
}
