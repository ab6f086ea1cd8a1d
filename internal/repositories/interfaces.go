package repositories

import (
	"context"
	"time"

	"github.com/prudhvinik1/eventsync/internal/models"
)

type EventRepository interface {
	Create(ctx context.Context, event *models.Event) error
	GetByID(ctx context.Context, id string) (*models.Event, error)
	List(ctx context.Context, filter models.EventFilter) ([]*models.Event, error)
	// Update overwrites the mutable fields. expectedVersion 0 skips the
	// optimistic check (last write wins).
	Update(ctx context.Context, event *models.Event, expectedVersion int64) error
	SoftDelete(ctx context.Context, id string) (time.Time, error)
}

type QueueRepository interface {
	Enqueue(ctx context.Context, entry *models.QueueEntry) error
	// ClaimPending atomically claims the device's unprocessed rows so that
	// concurrent processors never apply the same entry twice. Claims older
	// than staleAfter are taken over.
	ClaimPending(ctx context.Context, deviceID string, staleAfter time.Duration) ([]*models.QueueEntry, error)
	MarkProcessed(ctx context.Context, id int64, errMsg *string) error
	Stats(ctx context.Context, deviceID string) (*models.QueueStats, error)
}

type DeviceRepository interface {
	Touch(ctx context.Context, device *models.Device) error
	GetByID(ctx context.Context, id string) (*models.Device, error)
}

type SyncLogRepository interface {
	Append(ctx context.Context, entry *models.SyncLog) error
	LastSync(ctx context.Context, deviceID string) (*time.Time, error)
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]*models.SyncLog, error)
}

type PresenceRepository interface {
	SetPresence(ctx context.Context, presence *models.Presence) error
	GetPresence(ctx context.Context, deviceID string) (*models.Presence, error)
	DeletePresence(ctx context.Context, deviceID string) error
	GetBulkPresence(ctx context.Context, deviceIDs []string) (map[string]models.Presence, error)
}

// EventCache caches event list query results. Any mutation invalidates all
// cached lists by moving to a new generation.
type EventCache interface {
	// Get also returns the generation it looked in, hit or miss. A result
	// read from the database after a miss is stored with Set under that
	// generation, so it is unreachable if an invalidation happened since.
	// A negative generation means the cache is unusable.
	Get(ctx context.Context, key string) (events []*models.Event, generation int64, ok bool)
	Set(ctx context.Context, generation int64, key string, events []*models.Event)
	Invalidate(ctx context.Context)
}
