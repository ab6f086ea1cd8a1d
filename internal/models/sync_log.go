package models

import (
	"encoding/json"
	"time"
)

const (
	SyncActionQueue    = "queue"
	SyncActionProcess  = "process"
	SyncActionConflict = "conflict"
	SyncActionCreate   = "create"
	SyncActionUpdate   = "update"
	SyncActionDelete   = "delete"

	SyncStatusSuccess = "success"
	SyncStatusFailure = "failure"
)

type SyncLog struct {
	ID        int64           `json:"id"`
	DeviceID  string          `json:"device_id"`
	Action    string          `json:"action"`
	EventID   *string         `json:"event_id,omitempty"`
	Status    string          `json:"status"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
