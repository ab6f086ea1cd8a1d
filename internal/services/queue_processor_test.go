package services

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/prudhvinik1/eventsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func enqueue(t *testing.T, env *testEnv, deviceID string, kind models.OperationKind, raw json.RawMessage) {
	t.Helper()
	_, err := env.sync.QueueOperation(context.Background(), &models.QueueRequest{
		Operation: string(kind),
		EventData: raw,
		DeviceID:  deviceID,
	})
	require.NoError(t, err)
}

func eventJSON(t *testing.T, ev *models.Event) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	return raw
}

func TestQueueProcessor_AppliesInEnqueueOrder(t *testing.T) {
	// ARRANGE: create then two updates for the same event
	env := newTestEnv(PreferLocal)
	ctx := context.Background()
	ev := sampleEvent("evt-1")
	enqueue(t, env, "device-a", models.OperationCreate, eventJSON(t, ev))
	for _, venue := range []string{"First", "Second"} {
		upd := *ev
		upd.Venue = venue
		enqueue(t, env, "device-a", models.OperationUpdate, eventJSON(t, &upd))
	}

	// ACT
	result, err := env.processor.Process(ctx, "device-a")

	// ASSERT: last update wins because entries ran in order
	require.NoError(t, err)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 0, result.Failed)
	stored, err := env.events.GetByID(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, "Second", stored.Venue)
	assert.Equal(t, int64(3), stored.Version)
}

func TestQueueProcessor_CreateThenUpdateYieldsOneRecord(t *testing.T) {
	env := newTestEnv(PreferLocal)
	ctx := context.Background()
	ev := sampleEvent("evt-1")
	enqueue(t, env, "device-a", models.OperationCreate, eventJSON(t, ev))
	upd := *ev
	upd.Name = "Renamed"
	enqueue(t, env, "device-a", models.OperationUpdate, eventJSON(t, &upd))

	result, err := env.processor.Process(ctx, "device-a")

	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	all, err := env.events.List(ctx, models.EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Renamed", all[0].Name)
}

func TestQueueProcessor_OneMalformedAmongNine(t *testing.T) {
	env := newTestEnv(PreferLocal)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if i == 4 {
			enqueue(t, env, "device-a", models.OperationCreate, json.RawMessage(`{"id":"bad","name":""}`))
			continue
		}
		enqueue(t, env, "device-a", models.OperationCreate, eventJSON(t, sampleEvent(fmt.Sprintf("evt-%d", i))))
	}

	result, err := env.processor.Process(ctx, "device-a")

	require.NoError(t, err)
	assert.Equal(t, 9, result.Processed)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "bad", result.Errors[0].EventID)
	assert.Contains(t, result.Errors[0].Error, "name")

	stats, err := env.queue.Stats(ctx, "device-a")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 10, stats.Processed)
	assert.Equal(t, 1, stats.Errors)
}

func TestQueueProcessor_UnknownKindIsRecordedFailure(t *testing.T) {
	env := newTestEnv(PreferLocal)
	ctx := context.Background()
	// bypass QueueOperation validation to simulate a legacy row
	require.NoError(t, env.queue.Enqueue(ctx, &models.QueueEntry{
		Operation: "UPSERT",
		EventData: eventJSON(t, sampleEvent("evt-1")),
		DeviceID:  "device-a",
	}))

	result, err := env.processor.Process(ctx, "device-a")

	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Equal(t, 1, result.Failed)
	assert.Contains(t, result.Errors[0].Error, "unknown operation kind")
}

func TestQueueProcessor_DeleteHidesEvent(t *testing.T) {
	env := newTestEnv(PreferLocal)
	ctx := context.Background()
	require.NoError(t, env.eventSvc.Create(ctx, "device-b", sampleEvent("evt-1")))
	enqueue(t, env, "device-a", models.OperationDelete, json.RawMessage(`{"id":"evt-1"}`))

	result, err := env.processor.Process(ctx, "device-a")

	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.NotNil(t, env.events.Raw("evt-1").DeletedAt)
	list, err := env.eventSvc.List(ctx, models.EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestQueueProcessor_OfflineEditAndDeleteScenario(t *testing.T) {
	// ARRANGE: E1 and E2 exist on the server
	env := newTestEnv(PreferLocal)
	ctx := context.Background()
	e1 := sampleEvent("E1")
	e1.Venue = "A"
	require.NoError(t, env.eventSvc.Create(ctx, "device-b", e1))
	require.NoError(t, env.eventSvc.Create(ctx, "device-b", sampleEvent("E2")))
	startVersion := env.events.Raw("E1").Version

	edited := *e1
	edited.Venue = "B"
	enqueue(t, env, "device-a", models.OperationUpdate, eventJSON(t, &edited))
	enqueue(t, env, "device-a", models.OperationDelete, json.RawMessage(`{"id":"E2"}`))

	// ACT
	result, err := env.processor.Process(ctx, "device-a")

	// ASSERT
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	stored := env.events.Raw("E1")
	assert.Equal(t, "B", stored.Venue)
	assert.Equal(t, startVersion+1, stored.Version)
	assert.NotNil(t, env.events.Raw("E2").DeletedAt)
}

func TestQueueProcessor_ClaimedEntriesAreNotReapplied(t *testing.T) {
	env := newTestEnv(PreferLocal)
	ctx := context.Background()
	enqueue(t, env, "device-a", models.OperationCreate, eventJSON(t, sampleEvent("evt-1")))

	first, err := env.processor.Process(ctx, "device-a")
	require.NoError(t, err)
	second, err := env.processor.Process(ctx, "device-a")
	require.NoError(t, err)

	assert.Equal(t, 1, first.Processed)
	assert.Equal(t, 0, second.Processed+second.Failed, "a processed entry must never run twice")
}

func TestQueueProcessor_BroadcastsToOtherDevicesAndAudits(t *testing.T) {
	env := newTestEnv(PreferLocal)
	ctx := context.Background()
	enqueue(t, env, "device-a", models.OperationCreate, eventJSON(t, sampleEvent("evt-1")))

	_, err := env.processor.Process(ctx, "device-a")
	require.NoError(t, err)

	require.Len(t, env.broadcaster.Calls(), 1)
	call := env.broadcaster.Calls()[0]
	assert.Equal(t, models.SocketEventCreated, call.Event)
	assert.Equal(t, "device-a", call.Exclude)
	assert.Equal(t, "evt-1", call.Notification.EventID)
	assert.Equal(t, []string{models.SyncActionQueue, models.SyncActionCreate, models.SyncActionProcess}, env.syncLog.Actions("device-a"))
}
