package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/prudhvinik1/eventsync/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	eventCacheGenerationKey = "events:list:generation"
	eventCachePrefix        = "events:list:"
	DefaultEventCacheTTL    = 30 * time.Second
)

// EventListCacheKey derives a stable cache key from a list filter.
func EventListCacheKey(f models.EventFilter) string {
	key := fmt.Sprintf("l=%d|o=%d|c=%s|v=%s|r=%g", f.Limit, f.Offset, f.Category, f.Venue, f.RadiusKm)
	if f.Latitude != nil && f.Longitude != nil {
		key += fmt.Sprintf("|lat=%g|lng=%g", *f.Latitude, *f.Longitude)
	}
	return key
}

// RedisEventCache stores list results under a generation number. Invalidate
// bumps the generation so every older entry becomes unreachable and expires
// on its own TTL.
type RedisEventCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisEventCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisEventCache {
	return &RedisEventCache{client: client, ttl: ttl, logger: logger}
}

func (c *RedisEventCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, eventCacheGenerationKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return gen, err
}

func cacheEntryKey(generation int64, key string) string {
	return eventCachePrefix + strconv.FormatInt(generation, 10) + ":" + key
}

func (c *RedisEventCache) Get(ctx context.Context, key string) ([]*models.Event, int64, bool) {
	gen, err := c.generation(ctx)
	if err != nil {
		c.logger.Warn("event cache generation lookup failed", "error", err)
		return nil, -1, false
	}

	data, err := c.client.Get(ctx, cacheEntryKey(gen, key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("event cache read failed", "error", err)
		}
		return nil, gen, false
	}

	var events []*models.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, gen, false
	}
	return events, gen, true
}

func (c *RedisEventCache) Set(ctx context.Context, generation int64, key string, events []*models.Event) {
	data, err := json.Marshal(events)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheEntryKey(generation, key), data, c.ttl).Err(); err != nil {
		c.logger.Warn("event cache write failed", "error", err)
	}
}

func (c *RedisEventCache) Invalidate(ctx context.Context) {
	if err := c.client.Incr(ctx, eventCacheGenerationKey).Err(); err != nil {
		c.logger.Warn("event cache invalidation failed", "error", err)
	}
}

// MemoryEventCache is the in-process fallback used when Redis is not
// configured. It keys entries by generation the same way RedisEventCache does.
type MemoryEventCache struct {
	cache      *ttlcache.Cache[string, []*models.Event]
	generation atomic.Int64
}

func NewMemoryEventCache(ttl time.Duration) *MemoryEventCache {
	cache := ttlcache.New[string, []*models.Event](
		ttlcache.WithTTL[string, []*models.Event](ttl),
		ttlcache.WithCapacity[string, []*models.Event](1024),
	)
	go cache.Start()
	return &MemoryEventCache{cache: cache}
}

func (c *MemoryEventCache) Get(_ context.Context, key string) ([]*models.Event, int64, bool) {
	gen := c.generation.Load()
	item := c.cache.Get(cacheEntryKey(gen, key))
	if item == nil {
		return nil, gen, false
	}
	return item.Value(), gen, true
}

func (c *MemoryEventCache) Set(_ context.Context, generation int64, key string, events []*models.Event) {
	if generation != c.generation.Load() {
		return
	}
	c.cache.Set(cacheEntryKey(generation, key), events, ttlcache.DefaultTTL)
}

func (c *MemoryEventCache) Invalidate(_ context.Context) {
	c.generation.Add(1)
	c.cache.DeleteAll()
}

// Stop ends the expiration loop.
func (c *MemoryEventCache) Stop() {
	c.cache.Stop()
}
