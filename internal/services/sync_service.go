package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prudhvinik1/eventsync/internal/models"
	"github.com/prudhvinik1/eventsync/internal/repositories"
)

var ErrInvalidOperation = errors.New("invalid sync operation")

const (
	recentActivityLimit = 10
	maxPresenceDevices  = 100
)

// PresenceChecker reports whether devices currently hold a live socket.
type PresenceChecker interface {
	IsOnline(ctx context.Context, deviceID string) (bool, error)
	Presence(ctx context.Context, deviceIDs []string) (map[string]models.Presence, error)
}

// SyncService backs the /api/sync endpoints.
type SyncService struct {
	queue     repositories.QueueRepository
	devices   repositories.DeviceRepository
	syncLog   repositories.SyncLogRepository
	events    repositories.EventRepository
	eventSvc  *EventService
	processor *QueueProcessor
	resolver  *ConflictResolver
	presence  PresenceChecker
	logger    *slog.Logger
}

func NewSyncService(
	queue repositories.QueueRepository,
	devices repositories.DeviceRepository,
	syncLog repositories.SyncLogRepository,
	events repositories.EventRepository,
	eventSvc *EventService,
	processor *QueueProcessor,
	resolver *ConflictResolver,
	presence PresenceChecker,
	logger *slog.Logger,
) *SyncService {
	return &SyncService{
		queue:     queue,
		devices:   devices,
		syncLog:   syncLog,
		events:    events,
		eventSvc:  eventSvc,
		processor: processor,
		resolver:  resolver,
		presence:  presence,
		logger:    logger,
	}
}

// TouchDevice records that a device has been seen.
func (s *SyncService) TouchDevice(ctx context.Context, deviceID string) error {
	if s.devices == nil {
		return nil
	}
	return s.devices.Touch(ctx, &models.Device{ID: deviceID})
}

// QueueOperation validates and stores one operation for later processing.
// Bad input is rejected before anything is written.
func (s *SyncService) QueueOperation(ctx context.Context, req *models.QueueRequest) (*models.QueueEntry, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	kind, err := models.ParseOperationKind(req.Operation)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOperation, err)
	}
	if _, err := models.DecodePayload(kind, req.EventData); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOperation, err)
	}

	entry := &models.QueueEntry{
		Operation: string(kind),
		EventData: req.EventData,
		DeviceID:  req.DeviceID,
	}
	if err := s.queue.Enqueue(ctx, entry); err != nil {
		return nil, err
	}

	s.audit(ctx, req.DeviceID, models.SyncActionQueue, nil, models.SyncStatusSuccess, map[string]any{
		"entry_id":  entry.ID,
		"operation": entry.Operation,
	})

	return entry, nil
}

func (s *SyncService) ProcessQueue(ctx context.Context, deviceID string) (*models.ProcessResult, error) {
	return s.processor.Process(ctx, deviceID)
}

func (s *SyncService) Status(ctx context.Context, deviceID string) (*models.SyncStatus, error) {
	stats, err := s.queue.Stats(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	status := &models.SyncStatus{Queue: *stats}

	if s.syncLog != nil {
		status.LastSync, err = s.syncLog.LastSync(ctx, deviceID)
		if err != nil {
			return nil, err
		}
		status.RecentActivity, err = s.syncLog.ListByDevice(ctx, deviceID, recentActivityLimit)
		if err != nil {
			return nil, err
		}
	}
	if status.RecentActivity == nil {
		status.RecentActivity = []*models.SyncLog{}
	}

	if s.devices != nil {
		device, err := s.devices.GetByID(ctx, deviceID)
		switch {
		case err == nil:
			status.Device = device
		case !errors.Is(err, repositories.ErrNotFound):
			return nil, err
		}
	}

	if s.presence != nil {
		online, err := s.presence.IsOnline(ctx, deviceID)
		if err != nil {
			s.logger.Warn("failed to read presence", "device_id", deviceID, "error", err)
		}
		status.IsOnline = online
	}

	return status, nil
}

// Presence reports the presence of up to maxPresenceDevices devices.
func (s *SyncService) Presence(ctx context.Context, deviceIDs []string) (map[string]models.Presence, error) {
	if len(deviceIDs) == 0 || len(deviceIDs) > maxPresenceDevices {
		return nil, fmt.Errorf("%w: between 1 and %d device ids required", ErrInvalidOperation, maxPresenceDevices)
	}
	if s.presence == nil {
		out := make(map[string]models.Presence, len(deviceIDs))
		for _, id := range deviceIDs {
			out[id] = *models.OfflinePresence(id)
		}
		return out, nil
	}
	return s.presence.Presence(ctx, deviceIDs)
}

// ResolveConflicts resolves each conflict against the current server row and
// persists the outcome. One failing conflict does not affect the others.
func (s *SyncService) ResolveConflicts(ctx context.Context, deviceID string, batch *models.ConflictBatch) (*models.ConflictBatchResult, error) {
	if err := validateStruct(batch); err != nil {
		return nil, err
	}

	out := &models.ConflictBatchResult{Results: make([]models.ConflictResult, 0, len(batch.Conflicts))}
	for i := range batch.Conflicts {
		res := s.resolveOne(ctx, deviceID, &batch.Conflicts[i], MergePreference(batch.MergePreference))
		if res.Success {
			out.Resolved++
		} else {
			out.Failed++
		}
		out.Results = append(out.Results, res)
	}
	return out, nil
}

func (s *SyncService) resolveOne(ctx context.Context, deviceID string, c *models.Conflict, pref MergePreference) models.ConflictResult {
	res := models.ConflictResult{EventID: c.EventID, Resolution: c.Resolution}

	event, err := s.applyResolution(ctx, deviceID, c, pref)
	if err != nil {
		res.Error = err.Error()
		s.logger.Warn("conflict resolution failed", "event_id", c.EventID, "resolution", c.Resolution, "error", err)
	} else {
		res.Success = true
		res.Event = event
	}

	status := models.SyncStatusSuccess
	if err != nil {
		status = models.SyncStatusFailure
	}
	eventID := c.EventID
	s.audit(ctx, deviceID, models.SyncActionConflict, &eventID, status, map[string]any{
		"resolution": c.Resolution,
		"error":      res.Error,
	})
	return res
}

func (s *SyncService) applyResolution(ctx context.Context, deviceID string, c *models.Conflict, pref MergePreference) (*models.Event, error) {
	// The client's serverVersion is informational; always resolve against
	// the row as it is now.
	server, err := s.events.GetByID(ctx, c.EventID)
	if err != nil {
		return nil, err
	}

	local := c.LocalVersion
	if local != nil && local.ID == "" {
		local.ID = c.EventID
	}

	resolved, write, err := s.resolver.Resolve(local, server, c.Resolution, pref)
	if err != nil {
		return nil, err
	}
	if !write {
		return resolved, nil
	}

	if err := s.eventSvc.Update(ctx, deviceID, resolved, server.Version); err != nil {
		return nil, err
	}
	return resolved, nil
}

func (s *SyncService) audit(ctx context.Context, deviceID, action string, eventID *string, status string, details map[string]any) {
	if s.syncLog == nil {
		return
	}
	raw, _ := json.Marshal(details)
	err := s.syncLog.Append(ctx, &models.SyncLog{
		DeviceID: deviceID,
		Action:   action,
		EventID:  eventID,
		Status:   status,
		Details:  raw,
	})
	if err != nil {
		s.logger.Warn("failed to write sync log", "error", err, "device_id", deviceID, "action", action)
	}
}
