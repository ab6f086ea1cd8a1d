package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prudhvinik1/eventsync/internal/models"
)

const (
	DefaultHTTPTimeout = 10 * time.Second
	deviceHeader       = "X-Device-ID"
)

// TransportError describes a failed server call. StatusCode is 0 when the
// request never got a response.
type TransportError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
	Details    map[string]string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: server returned %d (%s): %s", e.Op, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: server returned %d", e.Op, e.StatusCode)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the same request later may succeed.
func (e *TransportError) Temporary() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode == http.StatusRequestTimeout:
		return true
	}
	return false
}

// IsTemporary reports whether err is a transport failure worth retrying.
func IsTemporary(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Temporary()
}

// IsRejected reports whether the server refused the request as invalid.
func IsRejected(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && !te.Temporary()
}

// Transport talks to the sync server's REST API on behalf of one device.
type Transport struct {
	baseURL  string
	deviceID string
	http     *http.Client
	logger   *slog.Logger
}

func NewTransport(baseURL, deviceID string, timeout time.Duration, logger *slog.Logger) *Transport {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &Transport{
		baseURL:  strings.TrimRight(baseURL, "/"),
		deviceID: deviceID,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type eventEnvelope[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
	Count   int  `json:"count"`
}

func (t *Transport) Create(ctx context.Context, event *models.Event) (*models.Event, error) {
	var out eventEnvelope[*models.Event]
	if err := t.do(ctx, "create event", http.MethodPost, "/api/events", event, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (t *Transport) Update(ctx context.Context, event *models.Event) (*models.Event, error) {
	var out eventEnvelope[*models.Event]
	path := "/api/events/" + url.PathEscape(event.ID)
	if err := t.do(ctx, "update event", http.MethodPut, path, event, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (t *Transport) Delete(ctx context.Context, id string) error {
	return t.do(ctx, "delete event", http.MethodDelete, "/api/events/"+url.PathEscape(id), nil, nil)
}

func (t *Transport) FetchAll(ctx context.Context, filter models.EventFilter) ([]*models.Event, error) {
	q := url.Values{}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		q.Set("offset", strconv.Itoa(filter.Offset))
	}
	if filter.Category != "" {
		q.Set("category", string(filter.Category))
	}
	if filter.Venue != "" {
		q.Set("venue", filter.Venue)
	}
	if filter.Latitude != nil && filter.Longitude != nil {
		q.Set("lat", strconv.FormatFloat(*filter.Latitude, 'f', -1, 64))
		q.Set("long", strconv.FormatFloat(*filter.Longitude, 'f', -1, 64))
		if filter.RadiusKm > 0 {
			q.Set("radius", strconv.FormatFloat(filter.RadiusKm, 'f', -1, 64))
		}
	}

	path := "/api/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out eventEnvelope[[]*models.Event]
	if err := t.do(ctx, "fetch events", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// QueueOperation uploads one queued operation to the server's queue.
func (t *Transport) QueueOperation(ctx context.Context, op *models.SyncOperation) (*models.QueueEntry, error) {
	raw, err := models.EncodePayload(op.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode operation: %w", err)
	}
	req := models.QueueRequest{
		Operation: string(op.Kind()),
		EventData: raw,
		DeviceID:  t.deviceID,
	}
	var entry models.QueueEntry
	if err := t.do(ctx, "queue operation", http.MethodPost, "/api/sync/queue", req, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (t *Transport) ProcessQueue(ctx context.Context) (*models.ProcessResult, error) {
	var result models.ProcessResult
	body := map[string]string{"deviceId": t.deviceID}
	if err := t.do(ctx, "process queue", http.MethodPost, "/api/sync/process", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (t *Transport) Status(ctx context.Context) (*models.SyncStatus, error) {
	var status models.SyncStatus
	path := "/api/sync/status?deviceId=" + url.QueryEscape(t.deviceID)
	if err := t.do(ctx, "sync status", http.MethodGet, path, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (t *Transport) ResolveConflicts(ctx context.Context, batch *models.ConflictBatch) (*models.ConflictBatchResult, error) {
	var result models.ConflictBatchResult
	if err := t.do(ctx, "resolve conflicts", http.MethodPost, "/api/sync/conflicts", batch, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (t *Transport) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to marshal request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: failed to build request: %w", op, err)
	}
	req.Header.Set(deviceHeader, t.deviceID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		te := &TransportError{Op: op, StatusCode: resp.StatusCode}
		var apiErr struct {
			Error   string            `json:"error"`
			Message string            `json:"message"`
			Details map[string]string `json:"details"`
		}
		if data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024)); json.Unmarshal(data, &apiErr) == nil {
			te.Code, te.Message, te.Details = apiErr.Error, apiErr.Message, apiErr.Details
		}
		t.logger.Debug("server rejected request", "op", op, "status", resp.StatusCode, "code", te.Code)
		return te
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Message: "undecodable response", Err: err}
	}
	return nil
}
