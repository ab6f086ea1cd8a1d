package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/eventsync/internal/models"
	"github.com/prudhvinik1/eventsync/internal/repositories"
)

// Broadcaster fans a confirmed mutation out to every connected device except
// the one that made it.
type Broadcaster interface {
	Broadcast(event models.SocketEvent, notification models.EventNotification, excludeDeviceID string)
}

type noopBroadcaster struct{}

func (noopBroadcaster) Broadcast(models.SocketEvent, models.EventNotification, string) {}

type EventService struct {
	events      repositories.EventRepository
	syncLog     repositories.SyncLogRepository
	cache       repositories.EventCache
	broadcaster Broadcaster
	logger      *slog.Logger
	now         func() time.Time
}

func NewEventService(
	events repositories.EventRepository,
	syncLog repositories.SyncLogRepository,
	cache repositories.EventCache,
	broadcaster Broadcaster,
	logger *slog.Logger,
) *EventService {
	if broadcaster == nil {
		broadcaster = noopBroadcaster{}
	}
	return &EventService{
		events:      events,
		syncLog:     syncLog,
		cache:       cache,
		broadcaster: broadcaster,
		logger:      logger,
		now:         time.Now,
	}
}

func (s *EventService) List(ctx context.Context, filter models.EventFilter) ([]*models.Event, error) {
	key := repositories.EventListCacheKey(filter)
	generation := int64(-1)
	if s.cache != nil {
		cached, gen, ok := s.cache.Get(ctx, key)
		if ok {
			return cached, nil
		}
		generation = gen
	}

	events, err := s.events.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && generation >= 0 {
		s.cache.Set(ctx, generation, key, events)
	}
	return events, nil
}

func (s *EventService) Get(ctx context.Context, id string) (*models.Event, error) {
	return s.events.GetByID(ctx, id)
}

// Create stores a new event. A missing id is generated; a missing creator
// defaults to the device.
func (s *EventService) Create(ctx context.Context, deviceID string, event *models.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedBy == "" {
		event.CreatedBy = deviceID
	}
	if err := ValidateEvent(event); err != nil {
		return err
	}

	if err := s.events.Create(ctx, event); err != nil {
		s.audit(ctx, deviceID, models.SyncActionCreate, event.ID, err)
		return err
	}

	s.afterWrite(ctx, deviceID, models.OperationCreate, event.ID, event)
	return nil
}

// Update overwrites an event's mutable fields. expectedVersion 0 means last
// write wins.
func (s *EventService) Update(ctx context.Context, deviceID string, event *models.Event, expectedVersion int64) error {
	if err := ValidateEvent(event); err != nil {
		return err
	}

	if err := s.events.Update(ctx, event, expectedVersion); err != nil {
		s.audit(ctx, deviceID, models.SyncActionUpdate, event.ID, err)
		return err
	}

	s.afterWrite(ctx, deviceID, models.OperationUpdate, event.ID, event)
	return nil
}

func (s *EventService) Delete(ctx context.Context, deviceID, id string) (time.Time, error) {
	deletedAt, err := s.events.SoftDelete(ctx, id)
	if err != nil {
		s.audit(ctx, deviceID, models.SyncActionDelete, id, err)
		return time.Time{}, err
	}

	s.afterWrite(ctx, deviceID, models.OperationDelete, id, nil)
	return deletedAt, nil
}

// Apply executes one queued operation on behalf of deviceID.
func (s *EventService) Apply(ctx context.Context, deviceID string, payload models.OperationPayload) (*models.Event, error) {
	switch p := payload.(type) {
	case models.CreatePayload:
		event := p.Event
		if err := s.Create(ctx, deviceID, &event); err != nil {
			return nil, err
		}
		return &event, nil
	case models.UpdatePayload:
		event := p.Event
		if err := s.Update(ctx, deviceID, &event, 0); err != nil {
			return nil, err
		}
		return &event, nil
	case models.DeletePayload:
		if _, err := s.Delete(ctx, deviceID, p.EventID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %T", models.ErrUnknownOperation, payload)
}

func (s *EventService) afterWrite(ctx context.Context, deviceID string, kind models.OperationKind, eventID string, event *models.Event) {
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}

	s.audit(ctx, deviceID, actionFor(kind), eventID, nil)

	s.broadcaster.Broadcast(models.SocketEventFor(kind), models.EventNotification{
		EventID:   eventID,
		EventData: event,
		DeviceID:  deviceID,
		Timestamp: s.now().UTC(),
	}, deviceID)
}

func (s *EventService) audit(ctx context.Context, deviceID, action, eventID string, cause error) {
	if s.syncLog == nil || deviceID == "" {
		return
	}
	entry := &models.SyncLog{
		DeviceID: deviceID,
		Action:   action,
		Status:   models.SyncStatusSuccess,
	}
	if eventID != "" {
		entry.EventID = &eventID
	}
	if cause != nil {
		entry.Status = models.SyncStatusFailure
		entry.Details, _ = json.Marshal(map[string]string{"error": cause.Error()})
	}
	if err := s.syncLog.Append(ctx, entry); err != nil {
		s.logger.Warn("failed to write sync log", "error", err, "device_id", deviceID, "action", action)
	}
}

func actionFor(kind models.OperationKind) string {
	switch kind {
	case models.OperationCreate:
		return models.SyncActionCreate
	case models.OperationDelete:
		return models.SyncActionDelete
	}
	return models.SyncActionUpdate
}

// IsClientError reports whether err stems from the request rather than the
// server, so it must not be retried.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidOperation) ||
		errors.Is(err, ErrInvalidResolution) ||
		errors.Is(err, repositories.ErrNotFound) ||
		errors.Is(err, repositories.ErrEventDeleted) ||
		errors.Is(err, repositories.ErrVersionConflict) ||
		errors.Is(err, models.ErrUnknownOperation) ||
		repositories.IsConstraintViolation(err)
}
