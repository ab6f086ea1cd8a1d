package models

import (
	"encoding/json"
	"time"
)

// QueueEntry is a row of the server-side offline_queue. Operation is kept as
// the raw submitted string so unknown kinds can be recorded as failures.
type QueueEntry struct {
	ID           int64           `json:"id"`
	Operation    string          `json:"operation"`
	EventData    json.RawMessage `json:"eventData"`
	DeviceID     string          `json:"deviceId"`
	Timestamp    time.Time       `json:"timestamp"`
	Processed    bool            `json:"processed"`
	ClaimedAt    *time.Time      `json:"claimedAt,omitempty"`
	ErrorMessage *string         `json:"errorMessage,omitempty"`
}

type QueueStats struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Pending   int `json:"pending"`
	Errors    int `json:"errors"`
}
