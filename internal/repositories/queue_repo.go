package repositories

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/eventsync/internal/models"
)

type PostgresQueueRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresQueueRepository(pool *pgxpool.Pool) *PostgresQueueRepository {
	return &PostgresQueueRepository{pool: pool}
}

func (r *PostgresQueueRepository) Enqueue(ctx context.Context, entry *models.QueueEntry) error {
	query := `INSERT INTO offline_queue (operation, event_data, device_id)
	          VALUES ($1, $2, $3)
	          RETURNING id, timestamp, processed`

	err := r.pool.QueryRow(ctx, query,
		entry.Operation,
		entry.EventData,
		entry.DeviceID,
	).Scan(&entry.ID, &entry.Timestamp, &entry.Processed)

	if err != nil {
		return fmt.Errorf("failed to enqueue operation: %w", err)
	}
	return nil
}

// ClaimPending marks the device's unprocessed rows as claimed in a single
// statement and returns them in enqueue order. SKIP LOCKED keeps a concurrent
// claimer from blocking on or re-reading rows this call is taking.
func (r *PostgresQueueRepository) ClaimPending(ctx context.Context, deviceID string, staleAfter time.Duration) ([]*models.QueueEntry, error) {
	query := `UPDATE offline_queue
	          SET claimed_at = NOW()
	          WHERE id IN (
	              SELECT id FROM offline_queue
	              WHERE device_id = $1
	                AND processed = FALSE
	                AND (claimed_at IS NULL OR claimed_at < $2)
	              ORDER BY timestamp ASC, id ASC
	              FOR UPDATE SKIP LOCKED
	          )
	          RETURNING id, operation, event_data, device_id, timestamp, processed, claimed_at, error_message`

	rows, err := r.pool.Query(ctx, query, deviceID, time.Now().Add(-staleAfter))
	if err != nil {
		return nil, fmt.Errorf("failed to claim queue entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.QueueEntry
	for rows.Next() {
		var entry models.QueueEntry
		err := rows.Scan(
			&entry.ID,
			&entry.Operation,
			&entry.EventData,
			&entry.DeviceID,
			&entry.Timestamp,
			&entry.Processed,
			&entry.ClaimedAt,
			&entry.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue entries: %w", err)
	}

	// RETURNING order is unspecified
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})

	return entries, nil
}

func (r *PostgresQueueRepository) MarkProcessed(ctx context.Context, id int64, errMsg *string) error {
	query := `UPDATE offline_queue
	          SET processed = TRUE, error_message = $2
	          WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id, errMsg)
	if err != nil {
		return fmt.Errorf("failed to mark queue entry processed: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresQueueRepository) Stats(ctx context.Context, deviceID string) (*models.QueueStats, error) {
	query := `SELECT COUNT(*),
	                 COUNT(*) FILTER (WHERE processed),
	                 COUNT(*) FILTER (WHERE NOT processed),
	                 COUNT(*) FILTER (WHERE processed AND error_message IS NOT NULL)
	          FROM offline_queue
	          WHERE device_id = $1`

	var stats models.QueueStats
	err := r.pool.QueryRow(ctx, query, deviceID).Scan(
		&stats.Total,
		&stats.Processed,
		&stats.Pending,
		&stats.Errors,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}
	return &stats, nil
}
