package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/prudhvinik1/eventsync/internal/models"
	"github.com/prudhvinik1/eventsync/internal/repositories"
)

// DefaultClaimTimeout is how long a claimed queue entry stays reserved
// before another processor may take it over.
const DefaultClaimTimeout = 5 * time.Minute

// QueueProcessor drains a device's server-side queue in enqueue order. Each
// entry is applied independently; a failing entry is recorded and does not
// stop the rest.
type QueueProcessor struct {
	queue        repositories.QueueRepository
	events       *EventService
	syncLog      repositories.SyncLogRepository
	claimTimeout time.Duration
	logger       *slog.Logger
}

func NewQueueProcessor(
	queue repositories.QueueRepository,
	events *EventService,
	syncLog repositories.SyncLogRepository,
	claimTimeout time.Duration,
	logger *slog.Logger,
) *QueueProcessor {
	if claimTimeout <= 0 {
		claimTimeout = DefaultClaimTimeout
	}
	return &QueueProcessor{
		queue:        queue,
		events:       events,
		syncLog:      syncLog,
		claimTimeout: claimTimeout,
		logger:       logger,
	}
}

func (p *QueueProcessor) Process(ctx context.Context, deviceID string) (*models.ProcessResult, error) {
	entries, err := p.queue.ClaimPending(ctx, deviceID, p.claimTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending entries: %w", err)
	}

	result := &models.ProcessResult{
		Results: make([]models.EntryResult, 0, len(entries)),
		Errors:  []models.EntryResult{},
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			// Unapplied claims expire and are picked up by the next run.
			return result, err
		}

		res := p.processEntry(ctx, entry)
		result.Results = append(result.Results, res)
		if res.Success {
			result.Processed++
		} else {
			result.Failed++
			result.Errors = append(result.Errors, res)
		}
	}

	p.logger.Info("queue processed",
		"device_id", deviceID,
		"claimed", len(entries),
		"processed", result.Processed,
		"failed", result.Failed,
	)
	p.auditRun(ctx, deviceID, result)

	return result, nil
}

func (p *QueueProcessor) processEntry(ctx context.Context, entry *models.QueueEntry) models.EntryResult {
	res := models.EntryResult{ID: entry.ID, Operation: entry.Operation}

	event, applyErr := p.apply(ctx, entry, &res)

	var errMsg *string
	if applyErr != nil {
		msg := applyErr.Error()
		errMsg = &msg
		res.Error = msg
		p.logger.Warn("queue entry failed",
			"entry_id", entry.ID,
			"device_id", entry.DeviceID,
			"operation", entry.Operation,
			"error", applyErr,
		)
	} else {
		res.Success = true
		res.Event = event
	}

	if err := p.queue.MarkProcessed(ctx, entry.ID, errMsg); err != nil {
		p.logger.Error("failed to mark queue entry", "entry_id", entry.ID, "error", err)
		if res.Success {
			// The write landed but the row stays claimed; report it so the
			// client knows the outcome is uncertain.
			res.Error = err.Error()
		}
	}

	return res
}

func (p *QueueProcessor) apply(ctx context.Context, entry *models.QueueEntry, res *models.EntryResult) (*models.Event, error) {
	kind, err := models.ParseOperationKind(entry.Operation)
	if err != nil {
		return nil, err
	}

	payload, err := models.DecodePayload(kind, entry.EventData)
	if err != nil {
		return nil, err
	}
	res.EventID = payload.TargetID()

	return p.events.Apply(ctx, entry.DeviceID, payload)
}

func (p *QueueProcessor) auditRun(ctx context.Context, deviceID string, result *models.ProcessResult) {
	if p.syncLog == nil {
		return
	}
	details, _ := json.Marshal(map[string]int{
		"processed": result.Processed,
		"failed":    result.Failed,
	})
	status := models.SyncStatusSuccess
	if result.Failed > 0 {
		status = models.SyncStatusFailure
	}
	err := p.syncLog.Append(ctx, &models.SyncLog{
		DeviceID: deviceID,
		Action:   models.SyncActionProcess,
		Status:   status,
		Details:  details,
	})
	if err != nil {
		p.logger.Warn("failed to write sync log", "error", err, "device_id", deviceID)
	}
}
