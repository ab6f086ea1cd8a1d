package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/eventsync/internal/models"
)

type PostgresSyncLogRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresSyncLogRepository(pool *pgxpool.Pool) *PostgresSyncLogRepository {
	return &PostgresSyncLogRepository{pool: pool}
}

func (r *PostgresSyncLogRepository) Append(ctx context.Context, entry *models.SyncLog) error {
	query := `INSERT INTO sync_log (device_id, action, event_id, status, details)
	          VALUES ($1, $2, $3, $4, $5)
	          RETURNING id, created_at`

	err := r.pool.QueryRow(ctx, query,
		entry.DeviceID,
		entry.Action,
		entry.EventID,
		entry.Status,
		entry.Details,
	).Scan(&entry.ID, &entry.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to append sync log: %w", err)
	}
	return nil
}

// LastSync returns when the device's queue was last processed, or nil if never.
func (r *PostgresSyncLogRepository) LastSync(ctx context.Context, deviceID string) (*time.Time, error) {
	query := `SELECT MAX(created_at) FROM sync_log
	          WHERE device_id = $1 AND action = $2`

	var last *time.Time
	if err := r.pool.QueryRow(ctx, query, deviceID, models.SyncActionProcess).Scan(&last); err != nil {
		return nil, fmt.Errorf("failed to get last sync: %w", err)
	}
	return last, nil
}

func (r *PostgresSyncLogRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]*models.SyncLog, error) {
	query := `SELECT id, device_id, action, event_id, status, details, created_at
	          FROM sync_log
	          WHERE device_id = $1
	          ORDER BY created_at DESC, id DESC
	          LIMIT $2`

	rows, err := r.pool.Query(ctx, query, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync log: %w", err)
	}
	defer rows.Close()

	var entries []*models.SyncLog
	for rows.Next() {
		var entry models.SyncLog
		if err := rows.Scan(
			&entry.ID,
			&entry.DeviceID,
			&entry.Action,
			&entry.EventID,
			&entry.Status,
			&entry.Details,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync log: %w", err)
	}
	return entries, nil
}
