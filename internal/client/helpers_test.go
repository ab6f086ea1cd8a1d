package client

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prudhvinik1/eventsync/internal/database"
	"github.com/prudhvinik1/eventsync/internal/handlers"
	"github.com/prudhvinik1/eventsync/internal/realtime"
	"github.com/prudhvinik1/eventsync/internal/services"
	"github.com/prudhvinik1/eventsync/internal/testutil"
	"github.com/stretchr/testify/require"
)

// backend is an in-process sync server backed by in-memory repositories.
// Setting down makes every request fail with 503; rejectQueue answers that
// many queue uploads with 400. failProcess makes only /api/sync/process
// fail and queueDelay slows down queue uploads.
type backend struct {
	srv         *httptest.Server
	events      *testutil.MemEventRepo
	queue       *testutil.MemQueueRepo
	hub         *realtime.Hub
	eventSvc    *services.EventService
	down        atomic.Bool
	failProcess atomic.Bool
	queueDelay  atomic.Int64
	rejectQueue atomic.Int32
	requests    atomic.Int64
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	logger := testutil.DiscardLogger()
	b := &backend{
		events: testutil.NewMemEventRepo(),
		queue:  &testutil.MemQueueRepo{},
		hub:    realtime.NewHub(nil, logger),
	}
	syncLog := &testutil.MemSyncLog{}
	b.eventSvc = services.NewEventService(b.events, syncLog, nil, b.hub, logger)
	processor := services.NewQueueProcessor(b.queue, b.eventSvc, syncLog, 0, logger)
	syncSvc := services.NewSyncService(b.queue, &testutil.MemDeviceRepo{}, syncLog, b.events, b.eventSvc, processor,
		services.NewConflictResolver(services.PreferLocal, logger), b.hub, logger)
	router := handlers.NewRouter(handlers.NewEventHandlers(b.eventSvc, logger), handlers.NewSyncHandlers(syncSvc, logger), b.hub)

	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.down.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		if r.URL.Path != "/health" {
			b.requests.Add(1)
		}
		if r.URL.Path == "/api/sync/process" && b.failProcess.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		if r.URL.Path == "/api/sync/queue" {
			time.Sleep(time.Duration(b.queueDelay.Load()))
		}
		if r.URL.Path == "/api/sync/queue" && b.rejectQueue.Add(-1) >= 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"success":false,"error":"validation","message":"rejected"}`))
			return
		}
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(func() {
		b.hub.Close()
		b.srv.Close()
	})
	return b
}

type testClient struct {
	db        *sql.DB
	deviceID  string
	queue     *Queue
	store     *EventStore
	transport *Transport
	monitor   *NetworkMonitor
	syncer    *Syncer
}

func newTestClient(t *testing.T, b *backend, socket bool) *testClient {
	t.Helper()
	db := openStore(t, t.TempDir())
	return newTestClientWithDB(t, b, db, socket)
}

func newTestClientWithDB(t *testing.T, b *backend, db *sql.DB, socket bool) *testClient {
	t.Helper()
	logger := testutil.DiscardLogger()
	deviceID, err := EnsureDeviceID(context.Background(), db)
	require.NoError(t, err)

	c := &testClient{
		db:        db,
		deviceID:  deviceID,
		queue:     NewQueue(db, deviceID, 3, logger),
		store:     NewEventStore(db),
		transport: NewTransport(b.srv.URL, deviceID, time.Second, logger),
		monitor:   NewNetworkMonitor(NewHTTPProbe(b.srv.URL), time.Hour, logger),
	}
	var sock *Socket
	if socket {
		sock = NewSocket(b.srv.URL, deviceID, SocketOptions{Backoff: 10 * time.Millisecond, BackoffMax: 50 * time.Millisecond, MaxAttempts: 3}, logger)
		t.Cleanup(sock.Close)
	}
	c.syncer = NewSyncer(deviceID, c.queue, c.store, c.transport, sock, c.monitor, time.Hour, logger)
	return c
}

func openStore(t *testing.T, dir string) *sql.DB {
	t.Helper()
	db, err := database.OpenClientStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}
