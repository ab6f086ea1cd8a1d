// Package testutil holds in-memory repositories and fixtures shared by
// package tests.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prudhvinik1/eventsync/internal/models"
	"github.com/prudhvinik1/eventsync/internal/repositories"
)

func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MemEventRepo mirrors the guarded-write behaviour of PostgresEventRepository.
type MemEventRepo struct {
	mu     sync.Mutex
	events map[string]*models.Event
}

func NewMemEventRepo() *MemEventRepo {
	return &MemEventRepo{events: make(map[string]*models.Event)}
}

func (r *MemEventRepo) Create(_ context.Context, event *models.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[event.ID]; ok {
		return &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint \"events_pkey\""}
	}
	now := time.Now()
	event.CreatedAt, event.UpdatedAt, event.Version = now, now, 1
	stored := *event
	r.events[event.ID] = &stored
	return nil
}

func (r *MemEventRepo) GetByID(_ context.Context, id string) (*models.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[id]
	if !ok || ev.IsDeleted() {
		return nil, repositories.ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (r *MemEventRepo) List(_ context.Context, filter models.EventFilter) ([]*models.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Event
	for _, ev := range r.events {
		if ev.IsDeleted() {
			continue
		}
		if filter.Category != "" && ev.Category != filter.Category {
			continue
		}
		cp := *ev
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemEventRepo) Update(_ context.Context, event *models.Event, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[event.ID]
	if !ok {
		return repositories.ErrNotFound
	}
	if ev.IsDeleted() {
		return repositories.ErrEventDeleted
	}
	if expectedVersion != 0 && ev.Version != expectedVersion {
		return repositories.ErrVersionConflict
	}
	ev.CopyMutable(event)
	ev.Version++
	ev.UpdatedAt = time.Now()
	*event = *ev
	return nil
}

func (r *MemEventRepo) SoftDelete(_ context.Context, id string) (time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[id]
	if !ok {
		return time.Time{}, repositories.ErrNotFound
	}
	if ev.IsDeleted() {
		return time.Time{}, repositories.ErrEventDeleted
	}
	now := time.Now()
	ev.DeletedAt = &now
	return now, nil
}

// Raw returns the stored row including soft-deleted ones.
func (r *MemEventRepo) Raw(id string) *models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[id]
	if !ok {
		return nil
	}
	cp := *ev
	return &cp
}

type MemQueueRepo struct {
	mu      sync.Mutex
	nextID  int64
	entries []*models.QueueEntry
}

func (r *MemQueueRepo) Enqueue(_ context.Context, entry *models.QueueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	entry.ID = r.nextID
	entry.Timestamp = time.Now()
	cp := *entry
	r.entries = append(r.entries, &cp)
	return nil
}

func (r *MemQueueRepo) ClaimPending(_ context.Context, deviceID string, staleAfter time.Duration) ([]*models.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-staleAfter)
	now := time.Now()
	var out []*models.QueueEntry
	for _, e := range r.entries {
		if e.DeviceID != deviceID || e.Processed {
			continue
		}
		if e.ClaimedAt != nil && !e.ClaimedAt.Before(cutoff) {
			continue
		}
		e.ClaimedAt = &now
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (r *MemQueueRepo) MarkProcessed(_ context.Context, id int64, errMsg *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.ID == id {
			e.Processed = true
			e.ErrorMessage = errMsg
			return nil
		}
	}
	return repositories.ErrNotFound
}

func (r *MemQueueRepo) Stats(_ context.Context, deviceID string) (*models.QueueStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s models.QueueStats
	for _, e := range r.entries {
		if e.DeviceID != deviceID {
			continue
		}
		s.Total++
		if e.Processed {
			s.Processed++
			if e.ErrorMessage != nil {
				s.Errors++
			}
		} else {
			s.Pending++
		}
	}
	return &s, nil
}

type MemSyncLog struct {
	mu      sync.Mutex
	entries []*models.SyncLog
}

func (r *MemSyncLog) Append(_ context.Context, entry *models.SyncLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = int64(len(r.entries) + 1)
	entry.CreatedAt = time.Now()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *MemSyncLog) LastSync(_ context.Context, deviceID string) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var last *time.Time
	for _, e := range r.entries {
		if e.DeviceID == deviceID && e.Action == models.SyncActionProcess {
			t := e.CreatedAt
			last = &t
		}
	}
	return last, nil
}

func (r *MemSyncLog) ListByDevice(_ context.Context, deviceID string, limit int) ([]*models.SyncLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SyncLog
	for i := len(r.entries) - 1; i >= 0; i-- {
		if e := r.entries[i]; e.DeviceID == deviceID {
			out = append(out, e)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *MemSyncLog) Actions(deviceID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.entries {
		if e.DeviceID == deviceID {
			out = append(out, e.Action)
		}
	}
	return out
}

type MemDeviceRepo struct {
	mu      sync.Mutex
	devices map[string]*models.Device
}

func (r *MemDeviceRepo) Touch(_ context.Context, device *models.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.devices == nil {
		r.devices = make(map[string]*models.Device)
	}
	now := time.Now()
	stored, ok := r.devices[device.ID]
	if !ok {
		stored = &models.Device{ID: device.ID, CreatedAt: now}
		r.devices[device.ID] = stored
	}
	if device.Name != "" {
		stored.Name = device.Name
	}
	if device.Platform != "" {
		stored.Platform = device.Platform
	}
	stored.LastSeenAt = &now
	*device = *stored
	return nil
}

func (r *MemDeviceRepo) GetByID(_ context.Context, id string) (*models.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

type BroadcastCall struct {
	Event        models.SocketEvent
	Notification models.EventNotification
	Exclude      string
}

type RecordingBroadcaster struct {
	mu    sync.Mutex
	calls []BroadcastCall
}

func (b *RecordingBroadcaster) Calls() []BroadcastCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]BroadcastCall(nil), b.calls...)
}

func (b *RecordingBroadcaster) Broadcast(event models.SocketEvent, n models.EventNotification, exclude string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, BroadcastCall{Event: event, Notification: n, Exclude: exclude})
}

type StaticPresence map[string]bool

func (p StaticPresence) IsOnline(_ context.Context, deviceID string) (bool, error) {
	return p[deviceID], nil
}

func (p StaticPresence) Presence(_ context.Context, deviceIDs []string) (map[string]models.Presence, error) {
	out := make(map[string]models.Presence, len(deviceIDs))
	for _, id := range deviceIDs {
		if p[id] {
			out[id] = *models.OnlinePresence(id)
		} else {
			out[id] = *models.OfflinePresence(id)
		}
	}
	return out, nil
}

func SampleEvent(id string) *models.Event {
	return &models.Event{
		ID:          id,
		Name:        "Jazz Night",
		Description: "Live jazz downtown",
		Category:    models.CategoryMusic,
		Venue:       "Blue Room",
		Address:     "1 Main St",
		Latitude:    40.7,
		Longitude:   -74.0,
		StartTime:   time.Date(2026, 11, 1, 20, 0, 0, 0, time.UTC),
	}
}
