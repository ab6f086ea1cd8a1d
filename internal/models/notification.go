package models

import (
	"encoding/json"
	"time"
)

// SocketEvent names the messages exchanged on the live broadcast channel.
type SocketEvent string

const (
	SocketJoinDevice   SocketEvent = "join-device"
	SocketEventCreated SocketEvent = "event-created"
	SocketEventUpdated SocketEvent = "event-updated"
	SocketEventDeleted SocketEvent = "event-deleted"
)

func (e SocketEvent) IsMutation() bool {
	return e == SocketEventCreated || e == SocketEventUpdated || e == SocketEventDeleted
}

// SocketEventFor maps an operation kind to its broadcast name.
func SocketEventFor(kind OperationKind) SocketEvent {
	switch kind {
	case OperationCreate:
		return SocketEventCreated
	case OperationDelete:
		return SocketEventDeleted
	default:
		return SocketEventUpdated
	}
}

type SocketEnvelope struct {
	Event SocketEvent     `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type JoinDevice struct {
	DeviceID string `json:"deviceId"`
}

type EventNotification struct {
	EventID   string    `json:"eventId"`
	EventData *Event    `json:"eventData,omitempty"`
	DeviceID  string    `json:"deviceId"`
	Timestamp time.Time `json:"timestamp"`
}
