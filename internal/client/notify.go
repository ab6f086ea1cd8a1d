package client

import (
	"sync"
	"time"

	"github.com/prudhvinik1/eventsync/internal/models"
)

type NotificationKind string

const (
	NotifyEventCreated    NotificationKind = "event-created"
	NotifyEventUpdated    NotificationKind = "event-updated"
	NotifyEventDeleted    NotificationKind = "event-deleted"
	NotifySyncCompleted   NotificationKind = "sync-completed"
	NotifyOperationFailed NotificationKind = "operation-failed"
)

func notificationKindFor(event models.SocketEvent) (NotificationKind, bool) {
	switch event {
	case models.SocketEventCreated:
		return NotifyEventCreated, true
	case models.SocketEventUpdated:
		return NotifyEventUpdated, true
	case models.SocketEventDeleted:
		return NotifyEventDeleted, true
	}
	return "", false
}

// Notification tells the host app that something it may be displaying
// changed. Remote is set for changes made by other devices.
type Notification struct {
	Kind      NotificationKind
	EventID   string
	Event     *models.Event
	DeviceID  string
	Remote    bool
	Error     string
	Timestamp time.Time
}

// notifier fans notifications out to subscribers. Slow subscribers miss
// notifications instead of blocking the sender.
type notifier struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Notification
}

func (n *notifier) subscribe(buffer int) (<-chan Notification, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Notification, buffer)

	n.mu.Lock()
	if n.subs == nil {
		n.subs = make(map[int]chan Notification)
	}
	id := n.next
	n.next++
	n.subs[id] = ch
	n.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
			close(ch)
		})
	}
}

func (n *notifier) publish(note Notification) {
	if note.Timestamp.IsZero() {
		note.Timestamp = time.Now()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- note:
		default:
		}
	}
}
