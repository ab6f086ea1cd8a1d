package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	DefaultProbeInterval = 5 * time.Second
	probeTimeout         = 5 * time.Second
)

// Transition is a change in connectivity. The monitor emits only these two.
type Transition int

const (
	Restored Transition = iota + 1
	Lost
)

func (t Transition) String() string {
	switch t {
	case Restored:
		return "restored"
	case Lost:
		return "lost"
	}
	return "unknown"
}

// Probe checks whether the sync server is reachable.
type Probe interface {
	Check(ctx context.Context) error
}

type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Check(ctx context.Context) error { return f(ctx) }

// HTTPProbe treats a 2xx from the server's /health endpoint as online.
type HTTPProbe struct {
	url    string
	client *http.Client
}

func NewHTTPProbe(serverURL string) *HTTPProbe {
	return &HTTPProbe{
		url:    strings.TrimRight(serverURL, "/") + "/health",
		client: &http.Client{Timeout: probeTimeout},
	}
}

func (p *HTTPProbe) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}

// NetworkMonitor samples connectivity and notifies observers when it
// changes. The first observation always produces a transition.
type NetworkMonitor struct {
	probe    Probe
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	known     bool
	online    bool
	observers []func(Transition)
}

func NewNetworkMonitor(probe Probe, interval time.Duration, logger *slog.Logger) *NetworkMonitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &NetworkMonitor{probe: probe, interval: interval, logger: logger}
}

// Subscribe registers fn for future transitions. fn runs on its own
// goroutine and may block.
func (m *NetworkMonitor) Subscribe(fn func(Transition)) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

func (m *NetworkMonitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// SetOnline lets the host push a connectivity change directly.
func (m *NetworkMonitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.known && m.online == online {
		m.mu.Unlock()
		return
	}
	m.known = true
	m.online = online
	observers := append([]func(Transition){}, m.observers...)
	m.mu.Unlock()

	t := Lost
	if online {
		t = Restored
	}
	m.logger.Info("network transition", "state", t.String())
	for _, fn := range observers {
		go fn(t)
	}
}

// CheckNow runs the probe once and applies the result.
func (m *NetworkMonitor) CheckNow(ctx context.Context) bool {
	if m.probe == nil {
		return m.IsOnline()
	}
	err := m.probe.Check(ctx)
	if ctx.Err() != nil {
		return m.IsOnline()
	}
	if err != nil {
		m.logger.Debug("connectivity probe failed", "error", err)
	}
	m.SetOnline(err == nil)
	return err == nil
}

// Run probes on every interval until ctx is done.
func (m *NetworkMonitor) Run(ctx context.Context) {
	m.CheckNow(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckNow(ctx)
		}
	}
}
