package repositories_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prudhvinik1/eventsync/internal/models"
	"github.com/prudhvinik1/eventsync/internal/repositories"
	"github.com/prudhvinik1/eventsync/internal/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTestRedisClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestPresenceRepository_SetAndExpire(t *testing.T) {
	// ARRANGE
	client, mr := getTestRedisClient(t)
	repo := repositories.NewRedisPresenceRepository(client)
	ctx := context.Background()

	// ACT
	err := repo.SetPresence(ctx, models.OnlinePresence("device-a"))

	// ASSERT
	require.NoError(t, err)
	presence, err := repo.GetPresence(ctx, "device-a")
	require.NoError(t, err)
	assert.True(t, presence.IsOnline())

	mr.FastForward(repositories.PresenceTTL + time.Second)

	presence, err = repo.GetPresence(ctx, "device-a")
	require.NoError(t, err)
	assert.False(t, presence.IsOnline(), "presence lapses without a refresh")
}

func TestPresenceRepository_DeleteAndBulk(t *testing.T) {
	client, _ := getTestRedisClient(t)
	repo := repositories.NewRedisPresenceRepository(client)
	ctx := context.Background()
	for _, id := range []string{"device-a", "device-b"} {
		require.NoError(t, repo.SetPresence(ctx, models.OnlinePresence(id)))
	}

	require.NoError(t, repo.DeletePresence(ctx, "device-b"))
	bulk, err := repo.GetBulkPresence(ctx, []string{"device-a", "device-b", "device-c"})

	require.NoError(t, err)
	presence := bulk["device-a"]
	assert.True(t, presence.IsOnline())
	assert.Equal(t, string(models.StatusOffline), bulk["device-b"].Status)
	assert.Equal(t, string(models.StatusOffline), bulk["device-c"].Status)
	assert.False(t, bulk["device-a"].LastSeen.IsZero())
}

func TestRedisEventCache_InvalidateDropsAllLists(t *testing.T) {
	client, _ := getTestRedisClient(t)
	cache := repositories.NewRedisEventCache(client, time.Minute, testutil.DiscardLogger())
	ctx := context.Background()
	allKey := repositories.EventListCacheKey(models.EventFilter{})
	musicKey := repositories.EventListCacheKey(models.EventFilter{Category: models.CategoryMusic})

	_, gen, ok := cache.Get(ctx, allKey)
	assert.False(t, ok)
	assert.Equal(t, int64(0), gen)

	cache.Set(ctx, gen, allKey, []*models.Event{testutil.SampleEvent("evt-1")})
	cache.Set(ctx, gen, musicKey, []*models.Event{})

	got, _, ok := cache.Get(ctx, allKey)
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, "evt-1", got[0].ID)

	cache.Invalidate(ctx)

	_, gen, ok = cache.Get(ctx, allKey)
	assert.False(t, ok)
	assert.Equal(t, int64(1), gen)
	_, _, ok = cache.Get(ctx, musicKey)
	assert.False(t, ok)
}

// A list read before an invalidation must not be served after it.
func TestEventCache_StaleSetIsUnreachable(t *testing.T) {
	client, _ := getTestRedisClient(t)
	memCache := repositories.NewMemoryEventCache(time.Minute)
	defer memCache.Stop()

	caches := map[string]repositories.EventCache{
		"redis":  repositories.NewRedisEventCache(client, time.Minute, testutil.DiscardLogger()),
		"memory": memCache,
	}
	for name, cache := range caches {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := repositories.EventListCacheKey(models.EventFilter{Limit: 10})

			// ARRANGE: miss, then the list is read
			_, gen, ok := cache.Get(ctx, key)
			require.False(t, ok)
			stale := []*models.Event{testutil.SampleEvent("evt-1"), testutil.SampleEvent("evt-2")}

			// ACT: a delete invalidates before the read result is stored
			cache.Invalidate(ctx)
			cache.Set(ctx, gen, key, stale)

			// ASSERT
			_, newGen, ok := cache.Get(ctx, key)
			assert.False(t, ok)
			assert.Greater(t, newGen, gen)
		})
	}
}

func TestMemoryEventCache(t *testing.T) {
	cache := repositories.NewMemoryEventCache(time.Minute)
	defer cache.Stop()
	ctx := context.Background()
	key := repositories.EventListCacheKey(models.EventFilter{Limit: 10})

	_, gen, _ := cache.Get(ctx, key)
	cache.Set(ctx, gen, key, []*models.Event{testutil.SampleEvent("evt-1")})
	got, _, ok := cache.Get(ctx, key)
	require.True(t, ok)
	assert.Len(t, got, 1)

	cache.Invalidate(ctx)
	_, _, ok = cache.Get(ctx, key)
	assert.False(t, ok)
}

func TestEventListCacheKey(t *testing.T) {
	lat, lng := 40.7, -74.0
	plain := repositories.EventListCacheKey(models.EventFilter{RadiusKm: 10})
	located := repositories.EventListCacheKey(models.EventFilter{RadiusKm: 10, Latitude: &lat, Longitude: &lng})

	assert.NotEqual(t, plain, located)
	assert.Equal(t, located, repositories.EventListCacheKey(models.EventFilter{RadiusKm: 10, Latitude: &lat, Longitude: &lng}))
}
