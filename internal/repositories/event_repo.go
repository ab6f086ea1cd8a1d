package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/eventsync/internal/models"
)

const eventColumns = `id, name, description, category, venue, address, latitude, longitude,
	start_time, created_by, created_at, updated_at, deleted_at, version`

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

type PostgresEventRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresEventRepository(pool *pgxpool.Pool) *PostgresEventRepository {
	return &PostgresEventRepository{pool: pool}
}

func scanEvent(row pgx.Row) (*models.Event, error) {
	var event models.Event
	err := row.Scan(
		&event.ID,
		&event.Name,
		&event.Description,
		&event.Category,
		&event.Venue,
		&event.Address,
		&event.Latitude,
		&event.Longitude,
		&event.StartTime,
		&event.CreatedBy,
		&event.CreatedAt,
		&event.UpdatedAt,
		&event.DeletedAt,
		&event.Version,
	)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *PostgresEventRepository) Create(ctx context.Context, event *models.Event) error {
	query := `INSERT INTO events (id, name, description, category, venue, address,
	                              latitude, longitude, start_time, created_by, version)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1)
	          RETURNING created_at, updated_at, version`

	err := r.pool.QueryRow(ctx, query,
		event.ID,
		event.Name,
		event.Description,
		event.Category,
		event.Venue,
		event.Address,
		event.Latitude,
		event.Longitude,
		event.StartTime,
		event.CreatedBy,
	).Scan(&event.CreatedAt, &event.UpdatedAt, &event.Version)

	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	event.DeletedAt = nil
	return nil
}

func (r *PostgresEventRepository) GetByID(ctx context.Context, id string) (*models.Event, error) {
	query := `SELECT ` + eventColumns + `
	          FROM events
	          WHERE id = $1 AND deleted_at IS NULL`

	event, err := scanEvent(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event by ID: %w", err)
	}
	return event, nil
}

func (r *PostgresEventRepository) List(ctx context.Context, filter models.EventFilter) ([]*models.Event, error) {
	var (
		sb   strings.Builder
		args []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	sb.WriteString(`SELECT ` + eventColumns + ` FROM events WHERE deleted_at IS NULL`)
	if filter.Category != "" {
		sb.WriteString(" AND category = " + arg(filter.Category))
	}
	if filter.Venue != "" {
		sb.WriteString(" AND venue ILIKE " + arg("%"+filter.Venue+"%"))
	}
	if filter.Latitude != nil && filter.Longitude != nil && filter.RadiusKm > 0 {
		lat, lng := arg(*filter.Latitude), arg(*filter.Longitude)
		// great-circle distance in km; LEAST guards acos against rounding above 1
		sb.WriteString(` AND 6371 * acos(LEAST(1, cos(radians(` + lat + `)) * cos(radians(latitude))
			* cos(radians(longitude) - radians(` + lng + `))
			+ sin(radians(` + lat + `)) * sin(radians(latitude)))) <= ` + arg(filter.RadiusKm))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	sb.WriteString(" ORDER BY start_time ASC, id ASC LIMIT " + arg(limit))
	if filter.Offset > 0 {
		sb.WriteString(" OFFSET " + arg(filter.Offset))
	}

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.Event, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// Update overwrites the mutable fields of a live event and bumps its version.
// On success event carries the stored row.
func (r *PostgresEventRepository) Update(ctx context.Context, event *models.Event, expectedVersion int64) error {
	query := `UPDATE events
	          SET name = $1,
	              description = $2,
	              category = $3,
	              venue = $4,
	              address = $5,
	              latitude = $6,
	              longitude = $7,
	              start_time = $8,
	              version = version + 1,
	              updated_at = NOW()
	          WHERE id = $9 AND deleted_at IS NULL AND ($10::bigint = 0 OR version = $10::bigint)
	          RETURNING ` + eventColumns

	updated, err := scanEvent(r.pool.QueryRow(ctx, query,
		event.Name,
		event.Description,
		event.Category,
		event.Venue,
		event.Address,
		event.Latitude,
		event.Longitude,
		event.StartTime,
		event.ID,
		expectedVersion,
	))

	if errors.Is(err, pgx.ErrNoRows) {
		return r.missReason(ctx, event.ID, expectedVersion != 0)
	}
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}

	*event = *updated
	return nil
}

func (r *PostgresEventRepository) SoftDelete(ctx context.Context, id string) (time.Time, error) {
	query := `UPDATE events
	          SET deleted_at = NOW(), updated_at = NOW()
	          WHERE id = $1 AND deleted_at IS NULL
	          RETURNING deleted_at`

	var deletedAt time.Time
	err := r.pool.QueryRow(ctx, query, id).Scan(&deletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, r.missReason(ctx, id, false)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to delete event: %w", err)
	}
	return deletedAt, nil
}

// missReason explains why a guarded write touched no rows.
func (r *PostgresEventRepository) missReason(ctx context.Context, id string, versioned bool) error {
	var deleted bool
	err := r.pool.QueryRow(ctx, `SELECT deleted_at IS NOT NULL FROM events WHERE id = $1`, id).Scan(&deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to inspect event: %w", err)
	}
	if deleted {
		return ErrEventDeleted
	}
	if versioned {
		return ErrVersionConflict
	}
	return ErrNotFound
}
