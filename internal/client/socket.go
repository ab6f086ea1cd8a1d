package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prudhvinik1/eventsync/internal/models"
)

const (
	DefaultSocketBackoff     = time.Second
	DefaultSocketBackoffMax  = 30 * time.Second
	DefaultSocketMaxAttempts = 5

	socketPongWait  = 60 * time.Second
	socketWriteWait = 10 * time.Second
)

// ErrSocketFailed is reported once reconnect attempts are exhausted.
var ErrSocketFailed = errors.New("socket disconnected")

type SocketState int

const (
	SocketDisconnected SocketState = iota
	SocketConnecting
	SocketConnected
	SocketFailed
)

func (s SocketState) String() string {
	switch s {
	case SocketConnecting:
		return "connecting"
	case SocketConnected:
		return "connected"
	case SocketFailed:
		return "failed"
	}
	return "disconnected"
}

type SocketOptions struct {
	Backoff     time.Duration
	BackoffMax  time.Duration
	MaxAttempts int
}

// Socket keeps a live broadcast channel to the server. Dropped connections
// are retried with exponential backoff; after MaxAttempts consecutive
// failures it stays Failed until Reconnect is called.
type Socket struct {
	url      string
	deviceID string
	opts     SocketOptions
	dialer   *websocket.Dialer
	logger   *slog.Logger

	mu        sync.Mutex
	state     SocketState
	running   bool
	parent    context.Context
	cancel    context.CancelFunc
	conn      *websocket.Conn
	handler   func(models.SocketEvent, models.EventNotification)
	listeners []func(SocketState)
}

func NewSocket(serverURL, deviceID string, opts SocketOptions, logger *slog.Logger) *Socket {
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultSocketBackoff
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = DefaultSocketBackoffMax
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultSocketMaxAttempts
	}
	return &Socket{
		url:      socketURL(serverURL),
		deviceID: deviceID,
		opts:     opts,
		dialer:   &websocket.Dialer{HandshakeTimeout: socketWriteWait},
		logger:   logger,
	}
}

func socketURL(serverURL string) string {
	u := strings.TrimRight(serverURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

// OnNotification sets the callback for mutation broadcasts. It runs on the
// socket's read goroutine.
func (s *Socket) OnNotification(fn func(models.SocketEvent, models.EventNotification)) {
	s.mu.Lock()
	s.handler = fn
	s.mu.Unlock()
}

// OnStateChange registers fn for every state change.
func (s *Socket) OnStateChange(fn func(SocketState)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *Socket) State() SocketState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins connecting in the background. It is a no-op while a
// connection loop is already running.
func (s *Socket) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parent = ctx
	s.startLocked()
}

// Reconnect leaves the Failed state and starts over with a fresh attempt
// budget.
func (s *Socket) Reconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.parent == nil || s.parent.Err() != nil {
		return
	}
	s.startLocked()
}

// Close stops the connection loop and closes any open connection.
func (s *Socket) Close() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
}

func (s *Socket) startLocked() {
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(s.parent)
	s.running = true
	s.cancel = cancel
	go s.run(ctx)
}

func (s *Socket) run(ctx context.Context) {
	failures := 0
	for {
		s.setState(SocketConnecting)
		conn, _, err := s.dialer.DialContext(ctx, s.url, http.Header{deviceHeader: []string{s.deviceID}})
		if err == nil {
			failures = 0
			err = s.serve(ctx, conn)
		}
		if ctx.Err() != nil {
			s.finish(SocketDisconnected)
			return
		}

		failures++
		if failures >= s.opts.MaxAttempts {
			s.logger.Warn("socket giving up", "attempts", failures, "error", err)
			s.finish(SocketFailed)
			return
		}

		s.setState(SocketDisconnected)
		delay := s.backoff(failures)
		s.logger.Debug("socket reconnecting", "attempt", failures, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			s.finish(SocketDisconnected)
			return
		case <-time.After(delay):
		}
	}
}

// backoff returns the delay before retry number attempt (1-based).
func (s *Socket) backoff(attempt int) time.Duration {
	d := s.opts.Backoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.opts.BackoffMax {
			return s.opts.BackoffMax
		}
	}
	return d
}

func (s *Socket) serve(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	join, err := encodeSocketMessage(models.SocketJoinDevice, models.JoinDevice{DeviceID: s.deviceID})
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, join); err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(socketPongWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(socketPongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(socketWriteWait))
	})

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	s.setState(SocketConnected)
	s.logger.Info("socket connected", "url", s.url)

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.dispatch(data)
	}
}

func (s *Socket) dispatch(data []byte) {
	var env models.SocketEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Debug("invalid socket message", "error", err)
		return
	}
	if !env.Event.IsMutation() {
		return
	}
	var n models.EventNotification
	if err := json.Unmarshal(env.Data, &n); err != nil {
		s.logger.Debug("invalid notification payload", "event", env.Event, "error", err)
		return
	}

	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler != nil {
		handler(env.Event, n)
	}
}

func (s *Socket) setState(state SocketState) {
	s.transition(state, false)
}

// finish records the loop's final state and marks it stopped in one step so
// a concurrent Reconnect never sees a stale running loop.
func (s *Socket) finish(state SocketState) {
	s.transition(state, true)
}

func (s *Socket) transition(state SocketState, stopped bool) {
	s.mu.Lock()
	if stopped {
		s.running = false
	}
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	listeners := append([]func(SocketState){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(state)
	}
}

func encodeSocketMessage(event models.SocketEvent, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(models.SocketEnvelope{Event: event, Data: raw})
}
