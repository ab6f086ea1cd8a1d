package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/prudhvinik1/eventsync/internal/models"
	"github.com/prudhvinik1/eventsync/internal/repositories"
	"github.com/prudhvinik1/eventsync/internal/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T, hub *Hub) string {
	t.Helper()
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialAndJoin(t *testing.T, hub *Hub, url, deviceID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	msg, err := encodeEnvelope(models.SocketJoinDevice, models.JoinDevice{DeviceID: deviceID})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, msg))

	require.Eventually(t, func() bool {
		online, _ := hub.IsOnline(context.Background(), deviceID)
		return online
	}, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) (models.SocketEnvelope, models.EventNotification) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env models.SocketEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	var n models.EventNotification
	require.NoError(t, json.Unmarshal(env.Data, &n))
	return env, n
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "no message expected")
}

func TestHub_BroadcastExcludesOriginDevice(t *testing.T) {
	// ARRANGE
	hub := NewHub(nil, testutil.DiscardLogger())
	url := startHub(t, hub)
	origin := dialAndJoin(t, hub, url, "device-a")
	other := dialAndJoin(t, hub, url, "device-b")

	// ACT
	hub.Broadcast(models.SocketEventUpdated, models.EventNotification{
		EventID:   "evt-1",
		EventData: testutil.SampleEvent("evt-1"),
		DeviceID:  "device-a",
		Timestamp: time.Now(),
	}, "device-a")

	// ASSERT
	env, n := readEnvelope(t, other)
	assert.Equal(t, models.SocketEventUpdated, env.Event)
	assert.Equal(t, "evt-1", n.EventID)
	assert.Equal(t, "device-a", n.DeviceID)
	require.NotNil(t, n.EventData)
	assert.Equal(t, "Jazz Night", n.EventData.Name)

	expectSilence(t, origin)
}

func TestHub_UnjoinedConnectionsReceiveNothing(t *testing.T) {
	hub := NewHub(nil, testutil.DiscardLogger())
	url := startHub(t, hub)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	hub.Broadcast(models.SocketEventCreated, models.EventNotification{EventID: "evt-1"}, "")

	expectSilence(t, conn)
}

func TestHub_RelaysClientMutations(t *testing.T) {
	hub := NewHub(nil, testutil.DiscardLogger())
	url := startHub(t, hub)
	sender := dialAndJoin(t, hub, url, "device-a")
	receiver := dialAndJoin(t, hub, url, "device-b")

	msg, err := encodeEnvelope(models.SocketEventDeleted, models.EventNotification{EventID: "evt-9", DeviceID: "spoofed"})
	require.NoError(t, err)
	require.NoError(t, sender.WriteMessage(websocket.TextMessage, msg))

	env, n := readEnvelope(t, receiver)
	assert.Equal(t, models.SocketEventDeleted, env.Event)
	assert.Equal(t, "evt-9", n.EventID)
	assert.Equal(t, "device-a", n.DeviceID, "sender is taken from the joined connection")
	expectSilence(t, sender)
}

func TestHub_PresenceFollowsConnection(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	presence := repositories.NewRedisPresenceRepository(rdb)

	hub := NewHub(presence, testutil.DiscardLogger())
	url := startHub(t, hub)
	conn := dialAndJoin(t, hub, url, "device-a")

	p, err := presence.GetPresence(context.Background(), "device-a")
	require.NoError(t, err)
	assert.Equal(t, string(models.StatusOnline), p.Status)

	conn.Close()

	require.Eventually(t, func() bool {
		p, err := presence.GetPresence(context.Background(), "device-a")
		return err == nil && !p.IsOnline()
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, hub.ConnectedDevices())
}

func TestHub_PresenceCombinesLocalAndShared(t *testing.T) {
	// ARRANGE: device-a is local, device-b is on another instance
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	presence := repositories.NewRedisPresenceRepository(rdb)
	ctx := context.Background()

	hub := NewHub(presence, testutil.DiscardLogger())
	url := startHub(t, hub)
	dialAndJoin(t, hub, url, "device-a")
	require.NoError(t, presence.SetPresence(ctx, models.OnlinePresence("device-b")))

	// ACT
	got, err := hub.Presence(ctx, []string{"device-a", "device-b", "device-c"})

	// ASSERT
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, id := range []string{"device-a", "device-b"} {
		p := got[id]
		assert.True(t, p.IsOnline(), id)
	}
	c := got["device-c"]
	assert.False(t, c.IsOnline())
}

func TestHub_PresenceWithoutSharedStore(t *testing.T) {
	hub := NewHub(nil, testutil.DiscardLogger())
	url := startHub(t, hub)
	dialAndJoin(t, hub, url, "device-a")

	got, err := hub.Presence(context.Background(), []string{"device-a", "device-b"})

	require.NoError(t, err)
	a, b := got["device-a"], got["device-b"]
	assert.True(t, a.IsOnline())
	assert.False(t, b.IsOnline())
}

func TestRedisRelay_FansOutAcrossInstances(t *testing.T) {
	// ARRANGE: two hubs sharing one Redis
	mr := miniredis.RunT(t)
	rdbA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rdbB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdbA.Close()
	defer rdbB.Close()

	logger := testutil.DiscardLogger()
	hubA := NewHub(nil, logger)
	hubB := NewHub(nil, logger)
	relayA := NewRedisRelay(rdbA, hubA, logger)
	relayB := NewRedisRelay(rdbB, hubB, logger)
	hubA.SetPublisher(relayA)
	hubB.SetPublisher(relayB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relayA.Run(ctx)
	go relayB.Run(ctx)
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(relayChannel)[relayChannel] == 2
	}, 2*time.Second, 10*time.Millisecond)

	urlA := startHub(t, hubA)
	urlB := startHub(t, hubB)
	local := dialAndJoin(t, hubA, urlA, "device-a")
	remote := dialAndJoin(t, hubB, urlB, "device-b")
	excluded := dialAndJoin(t, hubB, urlB, "device-c")

	// ACT
	hubA.Broadcast(models.SocketEventCreated, models.EventNotification{EventID: "evt-1", DeviceID: "device-c"}, "device-c")

	// ASSERT: delivered once locally and once via the peer, never to the origin device
	_, n := readEnvelope(t, local)
	assert.Equal(t, "evt-1", n.EventID)
	_, n = readEnvelope(t, remote)
	assert.Equal(t, "evt-1", n.EventID)
	expectSilence(t, excluded)
	expectSilence(t, local)
}
