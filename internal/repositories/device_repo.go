package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/eventsync/internal/models"
)

type PostgresDeviceRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresDeviceRepository(pool *pgxpool.Pool) *PostgresDeviceRepository {
	return &PostgresDeviceRepository{pool: pool}
}

// Touch registers the device on first contact and refreshes last_seen_at.
// Empty name/platform keep the stored values.
func (r *PostgresDeviceRepository) Touch(ctx context.Context, device *models.Device) error {
	query := `INSERT INTO devices (id, name, platform, last_seen_at)
	          VALUES ($1, $2, $3, NOW())
	          ON CONFLICT (id) DO UPDATE
	          SET name = COALESCE(NULLIF(EXCLUDED.name, ''), devices.name),
	              platform = COALESCE(NULLIF(EXCLUDED.platform, ''), devices.platform),
	              last_seen_at = NOW()
	          RETURNING name, platform, last_seen_at, created_at`

	err := r.pool.QueryRow(ctx, query,
		device.ID,
		device.Name,
		device.Platform,
	).Scan(&device.Name, &device.Platform, &device.LastSeenAt, &device.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to touch device: %w", err)
	}
	return nil
}

func (r *PostgresDeviceRepository) GetByID(ctx context.Context, id string) (*models.Device, error) {
	query := `SELECT id, name, platform, last_seen_at, created_at
	          FROM devices
	          WHERE id = $1`

	var device models.Device
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&device.ID,
		&device.Name,
		&device.Platform,
		&device.LastSeenAt,
		&device.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return &device, nil
}
