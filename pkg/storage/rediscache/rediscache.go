// Package rediscache wraps an analytics.Store with a Redis TTL cache
// over the aggregate read queries that back dashboards. Writes pass
// straight through; staleness is bounded by the TTL rather than by
// active invalidation, which keeps the hot ingestion path free of
// cache round-trips.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/shellquest/telemetry/pkg/analytics"
	"github.com/shellquest/telemetry/pkg/observability"
)

const keyPrefix = "telemetry:"

// Cache decorates a Store. Methods not overridden here hit the
// underlying store directly.
type Cache struct {
	analytics.Store
	client  *redis.Client
	ttl     time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
}

// New wraps store with a Redis cache. A zero ttl defaults to 30
// seconds. logger and metrics may be nil.
func New(store analytics.Store, client *redis.Client, ttl time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	if metrics == nil {
		metrics = observability.NopMetrics()
	}
	return &Cache{
		Store:   store,
		client:  client,
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
	}
}

// EventTypeCountsForUser caches the per-player histogram.
func (c *Cache) EventTypeCountsForUser(ctx context.Context, userID string) (map[analytics.EventKind]int64, error) {
	key := keyPrefix + "counts:" + userID

	var counts map[analytics.EventKind]int64
	if c.get(ctx, key, &counts) {
		return counts, nil
	}

	counts, err := c.Store.EventTypeCountsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, counts)
	return counts, nil
}

// TopEventTypes caches the global histogram.
func (c *Cache) TopEventTypes(ctx context.Context, n int) ([]analytics.EventTypeCount, error) {
	key := fmt.Sprintf("%stop:%d", keyPrefix, n)

	var top []analytics.EventTypeCount
	if c.get(ctx, key, &top) {
		return top, nil
	}

	top, err := c.Store.TopEventTypes(ctx, n)
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, top)
	return top, nil
}

// CountEventsOfKind caches the global per-kind count.
func (c *Cache) CountEventsOfKind(ctx context.Context, kind analytics.EventKind) (int64, error) {
	key := keyPrefix + "kind:" + string(kind)

	var count int64
	if c.get(ctx, key, &count) {
		return count, nil
	}

	count, err := c.Store.CountEventsOfKind(ctx, kind)
	if err != nil {
		return 0, err
	}
	c.set(ctx, key, count)
	return count, nil
}

// CountDistinctUsers caches the profile count.
func (c *Cache) CountDistinctUsers(ctx context.Context) (int64, error) {
	key := keyPrefix + "users"

	var count int64
	if c.get(ctx, key, &count) {
		return count, nil
	}

	count, err := c.Store.CountDistinctUsers(ctx)
	if err != nil {
		return 0, err
	}
	c.set(ctx, key, count)
	return count, nil
}

// get loads and decodes key into dst, reporting whether it was a hit.
// Redis failures count as misses so reads fall through to the store.
func (c *Cache) get(ctx context.Context, key string, dst interface{}) bool {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.WithError(err).Debugf("cache read failed for %s", key)
		}
		c.metrics.CacheMissesTotal.WithLabelValues("redis").Inc()
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.WithError(err).Warnf("cache entry corrupt for %s", key)
		c.client.Del(ctx, key)
		c.metrics.CacheMissesTotal.WithLabelValues("redis").Inc()
		return false
	}
	c.metrics.CacheHitsTotal.WithLabelValues("redis").Inc()
	return true
}

// set stores v under key with the cache TTL. Failures are logged only.
func (c *Cache) set(ctx context.Context, key string, v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.logger.WithError(err).Warnf("failed to encode cache entry for %s", key)
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.WithError(err).Debugf("cache write failed for %s", key)
	}
}
