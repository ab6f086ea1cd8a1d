package models

import (
	"encoding/json"
	"time"
)

// Request and response bodies of the /api/sync endpoints.

type QueueRequest struct {
	Operation string          `json:"operation" validate:"required"`
	EventData json.RawMessage `json:"eventData" validate:"required"`
	DeviceID  string          `json:"deviceId" validate:"required,max=128"`
}

type EntryResult struct {
	ID        int64  `json:"id"`
	Operation string `json:"operation"`
	EventID   string `json:"eventId,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Event     *Event `json:"event,omitempty"`
}

type ProcessResult struct {
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Results   []EntryResult `json:"results"`
	Errors    []EntryResult `json:"errors"`
}

type SyncStatus struct {
	Queue          QueueStats `json:"queue"`
	LastSync       *time.Time `json:"lastSync"`
	IsOnline       bool       `json:"isOnline"`
	Device         *Device    `json:"device,omitempty"`
	RecentActivity []*SyncLog `json:"recentActivity"`
}

type ConflictBatch struct {
	Conflicts       []Conflict `json:"conflicts" validate:"required,min=1,dive"`
	MergePreference string     `json:"mergePreference,omitempty" validate:"omitempty,oneof=local server"`
}

type ConflictBatchResult struct {
	Resolved int              `json:"resolved"`
	Failed   int              `json:"failed"`
	Results  []ConflictResult `json:"results"`
}
