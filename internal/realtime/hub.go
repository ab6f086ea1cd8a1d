// Package realtime pushes confirmed event mutations to connected devices over
// WebSockets.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prudhvinik1/eventsync/internal/models"
	"github.com/prudhvinik1/eventsync/internal/repositories"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Publisher forwards a broadcast to other server instances.
type Publisher interface {
	Publish(ctx context.Context, payload []byte, excludeDeviceID string) error
}

// Hub tracks live sockets grouped by device. A connection only receives
// broadcasts after it has sent join-device.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]struct{}
	devices  map[string]map[*client]struct{}
	closed   bool
	upgrader websocket.Upgrader

	presence  repositories.PresenceRepository
	publisher Publisher
	logger    *slog.Logger
}

type client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	deviceID string
}

// NewHub creates a hub. presence may be nil, in which case online status is
// answered from local connections only.
func NewHub(presence repositories.PresenceRepository, logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		devices: make(map[string]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		presence: presence,
		logger:   logger,
	}
}

// SetPublisher enables cross-instance fan-out.
func (h *Hub) SetPublisher(p Publisher) {
	h.mu.Lock()
	h.publisher = p
	h.mu.Unlock()
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go c.writePump()
	go c.readPump()
}

// Broadcast sends a mutation notification to every joined device except
// excludeDeviceID, here and on peer instances.
func (h *Hub) Broadcast(event models.SocketEvent, notification models.EventNotification, excludeDeviceID string) {
	msg, err := encodeEnvelope(event, notification)
	if err != nil {
		h.logger.Error("failed to encode broadcast", "error", err, "event", event)
		return
	}

	h.Deliver(msg, excludeDeviceID)

	h.mu.RLock()
	publisher := h.publisher
	h.mu.RUnlock()
	if publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	if err := publisher.Publish(ctx, msg, excludeDeviceID); err != nil {
		h.logger.Warn("failed to publish broadcast", "error", err, "event", event)
	}
}

// Deliver writes an encoded envelope to local joined connections only.
func (h *Hub) Deliver(msg []byte, excludeDeviceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for deviceID, group := range h.devices {
		if deviceID == excludeDeviceID {
			continue
		}
		for c := range group {
			select {
			case c.send <- msg:
				delivered++
			default:
				// slow consumer
				h.logger.Warn("dropping slow websocket client", "device_id", deviceID)
				h.removeLocked(c)
			}
		}
	}
	h.logger.Debug("broadcast delivered", "recipients", delivered, "excluded", excludeDeviceID)
}

// IsOnline reports whether the device holds a socket on any instance.
func (h *Hub) IsOnline(ctx context.Context, deviceID string) (bool, error) {
	h.mu.RLock()
	_, local := h.devices[deviceID]
	h.mu.RUnlock()
	if local || h.presence == nil {
		return local, nil
	}

	p, err := h.presence.GetPresence(ctx, deviceID)
	if err != nil {
		return false, err
	}
	return p.IsOnline(), nil
}

// Presence reports each device's presence. Devices connected to this
// instance are online; the rest are looked up in the shared presence store
// in one round trip.
func (h *Hub) Presence(ctx context.Context, deviceIDs []string) (map[string]models.Presence, error) {
	out := make(map[string]models.Presence, len(deviceIDs))
	var remote []string

	h.mu.RLock()
	for _, id := range deviceIDs {
		if _, ok := h.devices[id]; ok {
			p := models.OnlinePresence(id)
			p.LastSeen = time.Now()
			out[id] = *p
		} else {
			remote = append(remote, id)
		}
	}
	h.mu.RUnlock()

	if h.presence == nil {
		for _, id := range remote {
			out[id] = *models.OfflinePresence(id)
		}
		return out, nil
	}

	bulk, err := h.presence.GetBulkPresence(ctx, remote)
	if err != nil {
		return nil, err
	}
	for id, p := range bulk {
		out[id] = p
	}
	return out, nil
}

func (h *Hub) ConnectedDevices() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.devices)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.removeLocked(c)
	}
}

func (h *Hub) join(c *client, deviceID string) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	if c.deviceID != "" && c.deviceID != deviceID {
		h.leaveLocked(c)
	}
	c.deviceID = deviceID
	group, ok := h.devices[deviceID]
	if !ok {
		group = make(map[*client]struct{})
		h.devices[deviceID] = group
	}
	group[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Info("device joined", "device_id", deviceID)
	h.touchPresence(deviceID)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	deviceID := c.deviceID
	h.removeLocked(c)
	_, stillOnline := h.devices[deviceID]
	h.mu.Unlock()

	if deviceID != "" && !stillOnline {
		h.logger.Info("device left", "device_id", deviceID)
		if h.presence != nil {
			ctx, cancel := context.WithTimeout(context.Background(), writeWait)
			defer cancel()
			if err := h.presence.DeletePresence(ctx, deviceID); err != nil {
				h.logger.Warn("failed to clear presence", "error", err, "device_id", deviceID)
			}
		}
	}
}

func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	h.leaveLocked(c)
	close(c.send)
}

func (h *Hub) leaveLocked(c *client) {
	if group, ok := h.devices[c.deviceID]; ok {
		delete(group, c)
		if len(group) == 0 {
			delete(h.devices, c.deviceID)
		}
	}
}

func (h *Hub) touchPresence(deviceID string) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	err := h.presence.SetPresence(ctx, models.OnlinePresence(deviceID))
	if err != nil {
		h.logger.Warn("failed to set presence", "error", err, "device_id", deviceID)
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if id := c.currentDevice(); id != "" {
			c.hub.touchPresence(id)
		}
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		c.handle(message)
	}
}

func (c *client) handle(message []byte) {
	var env models.SocketEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.hub.logger.Debug("invalid socket message", "error", err)
		return
	}

	switch {
	case env.Event == models.SocketJoinDevice:
		var join models.JoinDevice
		if err := json.Unmarshal(env.Data, &join); err != nil || join.DeviceID == "" {
			c.hub.logger.Debug("join-device without device id")
			return
		}
		c.hub.join(c, join.DeviceID)

	case env.Event.IsMutation():
		// A device announcing its own write; pass it on to the others.
		sender := c.currentDevice()
		if sender == "" {
			return
		}
		var n models.EventNotification
		if err := json.Unmarshal(env.Data, &n); err != nil || n.EventID == "" {
			return
		}
		n.DeviceID = sender
		c.hub.Broadcast(env.Event, n, sender)

	default:
		c.hub.logger.Debug("ignoring socket event", "event", env.Event)
	}
}

func (c *client) currentDevice() string {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	return c.deviceID
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func encodeEnvelope(event models.SocketEvent, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(models.SocketEnvelope{Event: event, Data: raw})
}
