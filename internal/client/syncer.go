package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prudhvinik1/eventsync/internal/models"
)

const DefaultFlushInterval = 30 * time.Second

// Status is what the host app shows about sync.
type Status struct {
	PendingOperations int        `json:"pendingOperations"`
	FailedOperations  int        `json:"failedOperations"`
	IsOnline          bool       `json:"isOnline"`
	LastSyncAt        *time.Time `json:"lastSyncAt,omitempty"`
	Socket            string     `json:"socket"`
	PeriodicFlush     bool       `json:"periodicFlush"`
}

type FlushResult struct {
	Uploaded  int `json:"uploaded"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}

// Syncer applies local writes optimistically and makes sure each one reaches
// the server exactly once and in order.
type Syncer struct {
	deviceID      string
	queue         *Queue
	store         *EventStore
	transport     *Transport
	socket        *Socket
	monitor       *NetworkMonitor
	flushInterval time.Duration
	logger        *slog.Logger
	notes         notifier

	flushMu sync.Mutex

	mu             sync.Mutex
	lastSyncAt     *time.Time
	processPending bool
	stopTimer      context.CancelFunc
}

func NewSyncer(
	deviceID string,
	queue *Queue,
	store *EventStore,
	transport *Transport,
	socket *Socket,
	monitor *NetworkMonitor,
	flushInterval time.Duration,
	logger *slog.Logger,
) *Syncer {
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	s := &Syncer{
		deviceID:      deviceID,
		queue:         queue,
		store:         store,
		transport:     transport,
		socket:        socket,
		monitor:       monitor,
		flushInterval: flushInterval,
		logger:        logger,
	}
	if socket != nil {
		socket.OnNotification(s.handleRemote)
	}
	return s
}

// Subscribe returns a channel of notifications and a function that ends the
// subscription.
func (s *Syncer) Subscribe(buffer int) (<-chan Notification, func()) {
	return s.notes.subscribe(buffer)
}

// Run watches connectivity and keeps the queue draining until ctx is done.
func (s *Syncer) Run(ctx context.Context) error {
	if _, err := s.queue.Restore(ctx); err != nil {
		return err
	}

	s.monitor.Subscribe(func(t Transition) { s.onTransition(ctx, t) })
	if s.socket != nil {
		s.socket.Start(ctx)
		defer s.socket.Close()
	}

	s.monitor.Run(ctx)
	s.stopFlushTimer()
	return nil
}

func (s *Syncer) onTransition(ctx context.Context, t Transition) {
	switch t {
	case Restored:
		if _, err := s.queue.Restore(ctx); err != nil {
			s.logger.Error("failed to restore queue", "error", err)
		}
		if _, err := s.Flush(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("flush after reconnect failed", "error", err)
		}
		s.startFlushTimer(ctx)
		if s.socket != nil && s.monitor.IsOnline() {
			s.socket.Reconnect()
		}
	case Lost:
		s.stopFlushTimer()
	}
}

// startFlushTimer starts the periodic flush unless it is already running or
// the connection dropped while the reconnect flush was in progress. The
// online check happens under mu so a concurrent Lost either sees the timer
// and stops it, or has already made this call a no-op.
func (s *Syncer) startFlushTimer(ctx context.Context) {
	s.mu.Lock()
	if s.stopTimer != nil || !s.monitor.IsOnline() {
		s.mu.Unlock()
		return
	}
	timerCtx, cancel := context.WithCancel(ctx)
	s.stopTimer = cancel
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-timerCtx.Done():
				return
			case <-ticker.C:
				if !s.monitor.IsOnline() {
					continue
				}
				if _, err := s.Flush(timerCtx); err != nil && timerCtx.Err() == nil {
					s.logger.Warn("periodic flush failed", "error", err)
				}
			}
		}
	}()
}

func (s *Syncer) flushTimerRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopTimer != nil
}

func (s *Syncer) stopFlushTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopTimer != nil {
		s.stopTimer()
		s.stopTimer = nil
	}
}

// CreateEvent records a new event locally and sends it, or queues it when
// the server cannot be reached.
func (s *Syncer) CreateEvent(ctx context.Context, event *models.Event) (*models.Event, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedBy == "" {
		event.CreatedBy = s.deviceID
	}
	return s.write(ctx, models.CreatePayload{Event: *event}, func(ctx context.Context) (*models.Event, error) {
		return s.transport.Create(ctx, event)
	})
}

// UpdateEvent overwrites an event's fields (last write wins).
func (s *Syncer) UpdateEvent(ctx context.Context, event *models.Event) (*models.Event, error) {
	ev := *event
	ev.Version = 0
	return s.write(ctx, models.UpdatePayload{Event: ev}, func(ctx context.Context) (*models.Event, error) {
		return s.transport.Update(ctx, &ev)
	})
}

func (s *Syncer) DeleteEvent(ctx context.Context, id string) error {
	_, err := s.write(ctx, models.DeletePayload{EventID: id}, func(ctx context.Context) (*models.Event, error) {
		return nil, s.transport.Delete(ctx, id)
	})
	return err
}

// write applies payload to the local store, then either sends it directly or
// queues it. Direct sends only happen when nothing is queued locally or
// waiting on the server, so the server always sees operations in the order
// they were made.
func (s *Syncer) write(ctx context.Context, payload models.OperationPayload, send func(context.Context) (*models.Event, error)) (*models.Event, error) {
	// Held so a direct send cannot land between a flush's upload and its
	// process call.
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	previous, err := s.store.Get(ctx, payload.TargetID())
	if err != nil {
		return nil, err
	}
	if err := s.applyLocal(ctx, payload); err != nil {
		return nil, err
	}

	if s.monitor.IsOnline() {
		stats, err := s.queue.Stats(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		serverBacklog := s.processPending
		s.mu.Unlock()
		if stats.Pending == 0 && !serverBacklog {
			confirmed, err := send(ctx)
			switch {
			case err == nil:
				if confirmed != nil {
					if err := s.store.Put(ctx, confirmed); err != nil {
						s.logger.Warn("failed to cache confirmed event", "error", err)
					}
				}
				return confirmed, nil
			case IsRejected(err):
				s.revertLocal(ctx, payload.TargetID(), previous)
				return nil, err
			}
			s.logger.Info("server unreachable, queueing operation", "kind", payload.Kind(), "event_id", payload.TargetID(), "error", err)
		}
	}

	if _, err := s.queue.Enqueue(ctx, payload); err != nil {
		return nil, err
	}
	return localResult(payload), nil
}

func localResult(payload models.OperationPayload) *models.Event {
	switch p := payload.(type) {
	case models.CreatePayload:
		return &p.Event
	case models.UpdatePayload:
		return &p.Event
	}
	return nil
}

func (s *Syncer) applyLocal(ctx context.Context, payload models.OperationPayload) error {
	switch p := payload.(type) {
	case models.CreatePayload:
		ev := p.Event
		return s.store.Put(ctx, &ev)
	case models.UpdatePayload:
		ev := p.Event
		return s.store.Put(ctx, &ev)
	case models.DeletePayload:
		return s.store.Remove(ctx, p.EventID)
	}
	return models.ErrUnknownOperation
}

func (s *Syncer) revertLocal(ctx context.Context, id string, previous *models.Event) {
	var err error
	if previous != nil {
		err = s.store.Put(ctx, previous)
	} else {
		err = s.store.Remove(ctx, id)
	}
	if err != nil {
		s.logger.Warn("failed to revert optimistic write", "event_id", id, "error", err)
	}
}

// Flush uploads pending operations in order and asks the server to apply
// them. An operation is dropped from the local queue as soon as the server
// has accepted it, so it is never sent twice. A transient failure stops the
// flush so later operations cannot overtake it.
func (s *Syncer) Flush(ctx context.Context) (*FlushResult, error) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	ops, err := s.queue.Pending(ctx)
	if err != nil {
		return nil, err
	}

	result := &FlushResult{}
	var flushErr error
	for _, op := range ops {
		if _, err := s.transport.QueueOperation(ctx, op); err != nil {
			if IsRejected(err) {
				s.rejectOperation(ctx, op, err)
				continue
			}
			if exhausted, mErr := s.queue.MarkRetry(ctx, op.ID, err); mErr != nil {
				s.logger.Error("failed to record retry", "op_id", op.ID, "error", mErr)
			} else if exhausted {
				s.notes.publish(Notification{Kind: NotifyOperationFailed, EventID: op.EventID(), Error: err.Error()})
			}
			flushErr = err
			break
		}

		if _, err := s.queue.Dequeue(ctx, op.ID); err != nil {
			// The server has it; leaving it queued would resubmit it.
			return result, fmt.Errorf("failed to dequeue uploaded operation %s: %w", op.ID, err)
		}
		result.Uploaded++
	}

	s.mu.Lock()
	if result.Uploaded > 0 {
		s.processPending = true
	}
	process := s.processPending
	s.mu.Unlock()

	if process {
		if err := s.process(ctx, result); err != nil && flushErr == nil {
			flushErr = err
		}
	}

	if stats, err := s.queue.Stats(ctx); err == nil {
		result.Remaining = stats.Pending
	}

	s.logger.Info("flush finished",
		"uploaded", result.Uploaded,
		"processed", result.Processed,
		"failed", result.Failed,
		"remaining", result.Remaining,
	)
	return result, flushErr
}

func (s *Syncer) process(ctx context.Context, result *FlushResult) error {
	pr, err := s.transport.ProcessQueue(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	s.mu.Lock()
	s.processPending = false
	s.lastSyncAt = &now
	s.mu.Unlock()

	result.Processed += pr.Processed
	result.Failed += pr.Failed

	for _, r := range pr.Results {
		if r.Success && r.Event != nil {
			if err := s.store.Put(ctx, r.Event); err != nil {
				s.logger.Warn("failed to cache processed event", "event_id", r.EventID, "error", err)
			}
		}
	}
	for _, r := range pr.Errors {
		s.logger.Warn("server could not apply operation", "event_id", r.EventID, "operation", r.Operation, "error", r.Error)
		s.notes.publish(Notification{Kind: NotifyOperationFailed, EventID: r.EventID, Error: r.Error})
	}
	s.notes.publish(Notification{Kind: NotifySyncCompleted, DeviceID: s.deviceID})
	return nil
}

func (s *Syncer) rejectOperation(ctx context.Context, op *models.SyncOperation, cause error) {
	s.logger.Warn("server rejected operation", "op_id", op.ID, "event_id", op.EventID(), "error", cause)
	if err := s.queue.MarkFailed(ctx, op.ID, cause); err != nil {
		s.logger.Error("failed to mark operation failed", "op_id", op.ID, "error", err)
	}
	s.notes.publish(Notification{Kind: NotifyOperationFailed, EventID: op.EventID(), Error: cause.Error()})
}

// RetryOperation re-arms a failed operation and flushes.
func (s *Syncer) RetryOperation(ctx context.Context, id string) (*FlushResult, error) {
	if err := s.queue.Retry(ctx, id); err != nil {
		return nil, err
	}
	return s.Flush(ctx)
}

// Refresh replaces the local read model with the server's events. It is
// skipped while local operations are still queued.
func (s *Syncer) Refresh(ctx context.Context) error {
	stats, err := s.queue.Stats(ctx)
	if err != nil {
		return err
	}
	if stats.Pending > 0 {
		return errors.New("refresh skipped: operations still queued")
	}
	events, err := s.transport.FetchAll(ctx, models.EventFilter{})
	if err != nil {
		return err
	}
	return s.store.ReplaceAll(ctx, events)
}

// ResolveConflicts sends conflicts to the server and caches the outcome.
func (s *Syncer) ResolveConflicts(ctx context.Context, batch *models.ConflictBatch) (*models.ConflictBatchResult, error) {
	result, err := s.transport.ResolveConflicts(ctx, batch)
	if err != nil {
		return nil, err
	}
	for _, r := range result.Results {
		if r.Success && r.Event != nil {
			if err := s.store.Put(ctx, r.Event); err != nil {
				s.logger.Warn("failed to cache resolved event", "event_id", r.EventID, "error", err)
			}
		}
	}
	return result, nil
}

func (s *Syncer) Status(ctx context.Context) (*Status, error) {
	stats, err := s.queue.Stats(ctx)
	if err != nil {
		return nil, err
	}
	status := &Status{
		PendingOperations: stats.Pending,
		FailedOperations:  stats.Failed,
		IsOnline:          s.monitor.IsOnline(),
		Socket:            SocketDisconnected.String(),
	}
	if s.socket != nil {
		status.Socket = s.socket.State().String()
	}
	status.PeriodicFlush = s.flushTimerRunning()
	s.mu.Lock()
	status.LastSyncAt = s.lastSyncAt
	s.mu.Unlock()
	return status, nil
}

func (s *Syncer) handleRemote(event models.SocketEvent, n models.EventNotification) {
	kind, ok := notificationKindFor(event)
	if !ok || n.DeviceID == s.deviceID {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	switch {
	case kind == NotifyEventDeleted:
		err = s.store.Remove(ctx, n.EventID)
	case n.EventData != nil:
		err = s.store.Put(ctx, n.EventData)
	}
	if err != nil {
		s.logger.Warn("failed to apply remote change", "event_id", n.EventID, "error", err)
	}

	s.notes.publish(Notification{
		Kind:      kind,
		EventID:   n.EventID,
		Event:     n.EventData,
		DeviceID:  n.DeviceID,
		Remote:    true,
		Timestamp: n.Timestamp,
	})
}
