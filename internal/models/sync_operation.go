package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type OperationKind string

const (
	OperationCreate OperationKind = "CREATE"
	OperationUpdate OperationKind = "UPDATE"
	OperationDelete OperationKind = "DELETE"
)

var ErrUnknownOperation = errors.New("unknown operation kind")

func ParseOperationKind(s string) (OperationKind, error) {
	switch k := OperationKind(strings.ToUpper(strings.TrimSpace(s))); k {
	case OperationCreate, OperationUpdate, OperationDelete:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOperation, s)
}

// OperationPayload is the kind-specific body of a queued mutation.
// CREATE and UPDATE carry a full event, DELETE only the target id.
type OperationPayload interface {
	Kind() OperationKind
	TargetID() string
}

type CreatePayload struct {
	Event Event
}

func (p CreatePayload) Kind() OperationKind { return OperationCreate }
func (p CreatePayload) TargetID() string    { return p.Event.ID }

type UpdatePayload struct {
	Event Event
}

func (p UpdatePayload) Kind() OperationKind { return OperationUpdate }
func (p UpdatePayload) TargetID() string    { return p.Event.ID }

type DeletePayload struct {
	EventID string `json:"id"`
}

func (p DeletePayload) Kind() OperationKind { return OperationDelete }
func (p DeletePayload) TargetID() string    { return p.EventID }

// EncodePayload produces the eventData JSON stored in queues.
func EncodePayload(p OperationPayload) (json.RawMessage, error) {
	switch v := p.(type) {
	case CreatePayload:
		return json.Marshal(v.Event)
	case UpdatePayload:
		return json.Marshal(v.Event)
	case DeletePayload:
		return json.Marshal(v)
	}
	return nil, ErrUnknownOperation
}

// DecodePayload validates raw eventData against the operation kind.
func DecodePayload(kind OperationKind, raw json.RawMessage) (OperationPayload, error) {
	if len(raw) == 0 {
		return nil, errors.New("missing event data")
	}
	switch kind {
	case OperationCreate, OperationUpdate:
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("malformed event data: %w", err)
		}
		if ev.ID == "" {
			return nil, errors.New("event data has no id")
		}
		if kind == OperationCreate {
			return CreatePayload{Event: ev}, nil
		}
		return UpdatePayload{Event: ev}, nil
	case OperationDelete:
		var p DeletePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("malformed event data: %w", err)
		}
		if p.EventID == "" {
			return nil, errors.New("event data has no id")
		}
		return p, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, kind)
}

// SyncOperation is a mutation captured on a device that the server has not
// confirmed yet.
type SyncOperation struct {
	ID         string           `json:"id"`
	Payload    OperationPayload `json:"-"`
	DeviceID   string           `json:"device_id"`
	CreatedAt  time.Time        `json:"created_at"`
	RetryCount int              `json:"retry_count"`
	LastError  string           `json:"last_error,omitempty"`
	Failed     bool             `json:"failed"`
}

func (op *SyncOperation) Kind() OperationKind {
	return op.Payload.Kind()
}

func (op *SyncOperation) EventID() string {
	return op.Payload.TargetID()
}
