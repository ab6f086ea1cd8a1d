package models

import (
	"time"
)

// Presence records that a device holds a live socket on some server
// instance. A missing record means offline.
type Presence struct {
	DeviceID string    `json:"device_id"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

func OnlinePresence(deviceID string) *Presence {
	return &Presence{DeviceID: deviceID, Status: string(StatusOnline)}
}

func OfflinePresence(deviceID string) *Presence {
	return &Presence{DeviceID: deviceID, Status: string(StatusOffline)}
}

func (p *Presence) IsOnline() bool {
	return p.Status == string(StatusOnline)
}
