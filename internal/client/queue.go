// Package client is the device side of event sync: a durable operation
// queue, connectivity monitoring, the HTTP and socket transports and the
// Syncer that ties them together.
package client

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prudhvinik1/eventsync/internal/models"
)

const DefaultMaxRetries = 5

var ErrOperationNotFound = errors.New("operation not found")

type QueueStats struct {
	Pending int `json:"pending"`
	Failed  int `json:"failed"`
}

// Queue is the device's FIFO of unconfirmed operations. Every change is
// written to SQLite before the call returns, so the queue survives restarts.
type Queue struct {
	db         *sql.DB
	deviceID   string
	maxRetries int
	logger     *slog.Logger
	now        func() time.Time
}

func NewQueue(db *sql.DB, deviceID string, maxRetries int, logger *slog.Logger) *Queue {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Queue{
		db:         db,
		deviceID:   deviceID,
		maxRetries: maxRetries,
		logger:     logger,
		now:        time.Now,
	}
}

// Enqueue appends an operation. Each call creates a distinct entry; repeated
// edits of one event are not collapsed.
func (q *Queue) Enqueue(ctx context.Context, payload models.OperationPayload) (*models.SyncOperation, error) {
	raw, err := models.EncodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode operation: %w", err)
	}

	op := &models.SyncOperation{
		ID:        ulid.Make().String(),
		Payload:   payload,
		DeviceID:  q.deviceID,
		CreatedAt: q.now().UTC(),
	}

	_, err = q.db.ExecContext(ctx,
		`INSERT INTO pending_operations (id, kind, event_id, payload, device_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		op.ID, string(payload.Kind()), payload.TargetID(), string(raw), op.DeviceID, op.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue operation: %w", err)
	}

	q.logger.Debug("operation queued", "op_id", op.ID, "kind", payload.Kind(), "event_id", payload.TargetID())
	return op, nil
}

// Dequeue removes a confirmed operation and reports whether it was present.
func (q *Queue) Dequeue(ctx context.Context, id string) (bool, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM pending_operations WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to dequeue operation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to dequeue operation: %w", err)
	}
	return n > 0, nil
}

// List returns every queued operation in enqueue order, failed ones included.
func (q *Queue) List(ctx context.Context) ([]*models.SyncOperation, error) {
	return q.query(ctx, `SELECT id, kind, payload, device_id, created_at, retry_count, last_error, failed
	                     FROM pending_operations ORDER BY seq ASC`)
}

// Pending returns the operations still eligible for automatic retry, in
// enqueue order.
func (q *Queue) Pending(ctx context.Context) ([]*models.SyncOperation, error) {
	return q.query(ctx, `SELECT id, kind, payload, device_id, created_at, retry_count, last_error, failed
	                     FROM pending_operations WHERE failed = 0 ORDER BY seq ASC`)
}

// Restore reloads the persisted queue, typically at start-up or after the
// network comes back.
func (q *Queue) Restore(ctx context.Context) ([]*models.SyncOperation, error) {
	ops, err := q.List(ctx)
	if err != nil {
		return nil, err
	}
	failed := 0
	for _, op := range ops {
		if op.Failed {
			failed++
		}
	}
	q.logger.Info("operation queue restored", "operations", len(ops), "failed", failed)
	return ops, nil
}

// MarkRetry records a transient failure. Once the retry budget is spent the
// operation is flagged failed and reported as such.
func (q *Queue) MarkRetry(ctx context.Context, id string, cause error) (bool, error) {
	var failed bool
	err := q.db.QueryRowContext(ctx,
		`UPDATE pending_operations
		 SET retry_count = retry_count + 1,
		     last_error = ?,
		     failed = CASE WHEN retry_count + 1 >= ? THEN 1 ELSE 0 END
		 WHERE id = ?
		 RETURNING failed`,
		errString(cause), q.maxRetries, id,
	).Scan(&failed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrOperationNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to record retry: %w", err)
	}
	if failed {
		q.logger.Warn("operation exhausted retries", "op_id", id, "error", cause)
	}
	return failed, nil
}

// MarkFailed takes an operation off the automatic retry path, e.g. after the
// server rejected it as invalid.
func (q *Queue) MarkFailed(ctx context.Context, id string, cause error) error {
	return q.exec(ctx, `UPDATE pending_operations SET failed = 1, last_error = ? WHERE id = ?`, errString(cause), id)
}

// Retry re-arms a failed operation with a fresh retry budget.
func (q *Queue) Retry(ctx context.Context, id string) error {
	return q.exec(ctx, `UPDATE pending_operations SET failed = 0, retry_count = 0, last_error = '' WHERE id = ?`, id)
}

func (q *Queue) Stats(ctx context.Context) (*QueueStats, error) {
	var stats QueueStats
	err := q.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(CASE WHEN failed = 0 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN failed = 1 THEN 1 ELSE 0 END), 0)
		 FROM pending_operations`,
	).Scan(&stats.Pending, &stats.Failed)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}
	return &stats, nil
}

func (q *Queue) exec(ctx context.Context, query string, args ...any) error {
	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update operation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrOperationNotFound
	}
	return nil
}

func (q *Queue) query(ctx context.Context, query string) ([]*models.SyncOperation, error) {
	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	var ops []*models.SyncOperation
	for rows.Next() {
		var (
			op        models.SyncOperation
			kind      string
			payload   string
			createdAt int64
		)
		err := rows.Scan(&op.ID, &kind, &payload, &op.DeviceID, &createdAt, &op.RetryCount, &op.LastError, &op.Failed)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}

		k, err := models.ParseOperationKind(kind)
		if err != nil {
			return nil, err
		}
		op.Payload, err = models.DecodePayload(k, []byte(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to decode operation %s: %w", op.ID, err)
		}
		op.CreatedAt = time.UnixMilli(createdAt).UTC()
		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}
	return ops, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
