package repositories_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/prudhvinik1/eventsync/internal/models"
	"github.com/prudhvinik1/eventsync/internal/repositories"
	"github.com/prudhvinik1/eventsync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncLogRepository_LastSync(t *testing.T) {
	pool := testutil.PostgresPool(t)
	repo := repositories.NewPostgresSyncLogRepository(pool)
	ctx := context.Background()

	last, err := repo.LastSync(ctx, "device-a")
	require.NoError(t, err)
	assert.Nil(t, last, "never synced")

	eventID := "evt-1"
	require.NoError(t, repo.Append(ctx, &models.SyncLog{DeviceID: "device-a", Action: models.SyncActionQueue, Status: models.SyncStatusSuccess}))
	require.NoError(t, repo.Append(ctx, &models.SyncLog{DeviceID: "device-a", Action: models.SyncActionUpdate, EventID: &eventID, Status: models.SyncStatusSuccess}))
	last, err = repo.LastSync(ctx, "device-a")
	require.NoError(t, err)
	assert.Nil(t, last, "only process runs count")

	run := &models.SyncLog{
		DeviceID: "device-a",
		Action:   models.SyncActionProcess,
		Status:   models.SyncStatusSuccess,
		Details:  json.RawMessage(`{"processed":1}`),
	}
	require.NoError(t, repo.Append(ctx, run))

	last, err = repo.LastSync(ctx, "device-a")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.Equal(run.CreatedAt))

	entries, err := repo.ListByDevice(ctx, "device-a", 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, models.SyncActionProcess, entries[0].Action, "newest first")
	assert.Equal(t, &eventID, entries[1].EventID)
	assert.JSONEq(t, `{"processed":1}`, string(entries[0].Details))
}

func TestDeviceRepository_Touch(t *testing.T) {
	pool := testutil.PostgresPool(t)
	repo := repositories.NewPostgresDeviceRepository(pool)
	ctx := context.Background()

	_, err := repo.GetByID(ctx, "device-a")
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	require.NoError(t, repo.Touch(ctx, &models.Device{ID: "device-a", Name: "Phone", Platform: "ios"}))
	// a bare touch keeps the stored name
	device := &models.Device{ID: "device-a"}
	require.NoError(t, repo.Touch(ctx, device))

	assert.Equal(t, "Phone", device.Name)
	assert.Equal(t, "ios", device.Platform)
	assert.NotNil(t, device.LastSeenAt)

	got, err := repo.GetByID(ctx, "device-a")
	require.NoError(t, err)
	assert.Equal(t, "Phone", got.Name)
}
