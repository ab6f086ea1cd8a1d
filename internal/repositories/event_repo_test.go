package repositories_test

import (
	"context"
	"testing"
	"time"

	"github.com/prudhvinik1/eventsync/internal/models"
	"github.com/prudhvinik1/eventsync/internal/repositories"
	"github.com/prudhvinik1/eventsync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventRepository_CreateAndGet(t *testing.T) {
	// ARRANGE
	pool := testutil.PostgresPool(t)
	repo := repositories.NewPostgresEventRepository(pool)
	ctx := context.Background()

	// ACT
	ev := testutil.SampleEvent("evt-1")
	err := repo.Create(ctx, ev)

	// ASSERT
	require.NoError(t, err)
	assert.Equal(t, int64(1), ev.Version, "New event should start at version 1")
	assert.False(t, ev.CreatedAt.IsZero(), "CreatedAt should be set")

	got, err := repo.GetByID(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, "Jazz Night", got.Name)
	assert.Equal(t, models.CategoryMusic, got.Category)
	assert.True(t, ev.StartTime.Equal(got.StartTime))
}

func TestEventRepository_CreateDuplicate(t *testing.T) {
	pool := testutil.PostgresPool(t)
	repo := repositories.NewPostgresEventRepository(pool)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, testutil.SampleEvent("evt-1")))

	err := repo.Create(ctx, testutil.SampleEvent("evt-1"))

	require.Error(t, err)
	assert.True(t, repositories.IsConstraintViolation(err))
}

func TestEventRepository_CreateOutOfRangeLatitude(t *testing.T) {
	pool := testutil.PostgresPool(t)
	repo := repositories.NewPostgresEventRepository(pool)

	ev := testutil.SampleEvent("evt-1")
	ev.Latitude = 91
	err := repo.Create(context.Background(), ev)

	require.Error(t, err)
	assert.True(t, repositories.IsConstraintViolation(err), "check constraint is class 23")
}

func TestEventRepository_Update(t *testing.T) {
	pool := testutil.PostgresPool(t)
	repo := repositories.NewPostgresEventRepository(pool)
	ctx := context.Background()
	ev := testutil.SampleEvent("evt-1")
	require.NoError(t, repo.Create(ctx, ev))

	// ACT: optimistic update with the current version
	ev.Venue = "Green Room"
	err := repo.Update(ctx, ev, 1)

	// ASSERT
	require.NoError(t, err)
	assert.Equal(t, int64(2), ev.Version)
	assert.Equal(t, "Green Room", ev.Venue)

	// stale version
	stale := testutil.SampleEvent("evt-1")
	err = repo.Update(ctx, stale, 1)
	assert.ErrorIs(t, err, repositories.ErrVersionConflict)

	// version 0 skips the check
	lww := testutil.SampleEvent("evt-1")
	lww.Venue = "Red Room"
	require.NoError(t, repo.Update(ctx, lww, 0))
	assert.Equal(t, int64(3), lww.Version)
}

func TestEventRepository_UpdateMissing(t *testing.T) {
	pool := testutil.PostgresPool(t)
	repo := repositories.NewPostgresEventRepository(pool)

	err := repo.Update(context.Background(), testutil.SampleEvent("nope"), 0)

	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestEventRepository_SoftDelete(t *testing.T) {
	pool := testutil.PostgresPool(t)
	repo := repositories.NewPostgresEventRepository(pool)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, testutil.SampleEvent("evt-1")))

	deletedAt, err := repo.SoftDelete(ctx, "evt-1")

	require.NoError(t, err)
	assert.False(t, deletedAt.IsZero())

	_, err = repo.GetByID(ctx, "evt-1")
	assert.ErrorIs(t, err, repositories.ErrNotFound, "deleted events are hidden")

	events, err := repo.List(ctx, models.EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = repo.SoftDelete(ctx, "evt-1")
	assert.ErrorIs(t, err, repositories.ErrEventDeleted)

	err = repo.Update(ctx, testutil.SampleEvent("evt-1"), 0)
	assert.ErrorIs(t, err, repositories.ErrEventDeleted)

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM events WHERE id = 'evt-1'`).Scan(&count))
	assert.Equal(t, 1, count, "row is kept")
}

func TestEventRepository_ListFilters(t *testing.T) {
	pool := testutil.PostgresPool(t)
	repo := repositories.NewPostgresEventRepository(pool)
	ctx := context.Background()

	nyc := testutil.SampleEvent("nyc")
	nyc.StartTime = time.Date(2026, 11, 2, 18, 0, 0, 0, time.UTC)
	boston := testutil.SampleEvent("boston")
	boston.Category = models.CategorySports
	boston.Venue = "Fenway Park"
	boston.Latitude, boston.Longitude = 42.35, -71.06
	early := testutil.SampleEvent("early")
	early.StartTime = time.Date(2026, 10, 30, 18, 0, 0, 0, time.UTC)
	for _, ev := range []*models.Event{nyc, boston, early} {
		require.NoError(t, repo.Create(ctx, ev))
	}

	all, err := repo.List(ctx, models.EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "early", all[0].ID, "ordered by start time")

	sports, err := repo.List(ctx, models.EventFilter{Category: models.CategorySports})
	require.NoError(t, err)
	require.Len(t, sports, 1)
	assert.Equal(t, "boston", sports[0].ID)

	venue, err := repo.List(ctx, models.EventFilter{Venue: "fenway"})
	require.NoError(t, err)
	require.Len(t, venue, 1)

	lat, lng := 40.7, -74.0
	near, err := repo.List(ctx, models.EventFilter{Latitude: &lat, Longitude: &lng, RadiusKm: 10})
	require.NoError(t, err)
	assert.Len(t, near, 2, "Boston is ~300km away")

	page, err := repo.List(ctx, models.EventFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, all[1].ID, page[0].ID)
}
