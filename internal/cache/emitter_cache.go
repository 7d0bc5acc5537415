// Package cache implements the read-through layer in front of the
// emitter store's get-many path. A process-local LRU absorbs repeated
// lookups of the same hot emitter within one instance; Redis absorbs
// them across instances. Both are invalidated by internal/invalidation
// when a worker upserts a key elsewhere.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dogwalking/geoloc-service/internal/domain"
	"github.com/dogwalking/geoloc-service/internal/metrics"
)

// Loader fetches the authoritative aggregates for a set of keys on a
// cache miss, normally repository.PgEmitterStore.GetMany.
type Loader func(ctx context.Context, kind domain.EmitterKind, keys []string) (map[string]domain.EmitterAggregate, error)

// EmitterCache is a two-tier (process LRU, then Redis) read-through
// cache keyed by "<kind>:<key>".
type EmitterCache struct {
	local   *lru.Cache[string, domain.EmitterAggregate]
	redis   *redis.Client
	ttl     time.Duration
	load    Loader
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func New(redisClient *redis.Client, ttl time.Duration, localSize int, load Loader, m *metrics.Metrics, logger *zap.Logger) (*EmitterCache, error) {
	local, err := lru.New[string, domain.EmitterAggregate](localSize)
	if err != nil {
		return nil, fmt.Errorf("building local emitter cache: %w", err)
	}
	return &EmitterCache{
		local:   local,
		redis:   redisClient,
		ttl:     ttl,
		load:    load,
		metrics: m,
		logger:  logger,
	}, nil
}

func cacheKey(kind domain.EmitterKind, key string) string {
	return fmt.Sprintf("%s:%s", kind, key)
}

// GetMany resolves every key against the local LRU, then Redis for
// whatever remains, then the loader for whatever is still missing.
// Results found only at a lower tier are back-filled into the tiers
// above it (spec-adjacent: cache_hits/cache_miss are counted per tier
// via the CacheHits metric).
func (c *EmitterCache) GetMany(ctx context.Context, kind domain.EmitterKind, keys []string) (map[string]domain.EmitterAggregate, error) {
	result := make(map[string]domain.EmitterAggregate, len(keys))
	var missLocal []string

	for _, k := range keys {
		if agg, ok := c.local.Get(cacheKey(kind, k)); ok {
			result[k] = agg
			c.metrics.CacheHits.WithLabelValues("local_hit").Inc()
			continue
		}
		missLocal = append(missLocal, k)
	}
	if len(missLocal) == 0 {
		return result, nil
	}

	missRedis, err := c.getManyRedis(ctx, kind, missLocal, result)
	if err != nil {
		c.logger.Warn("redis get_many failed, falling through to loader", zap.Error(err))
		missRedis = missLocal
	}
	if len(missRedis) == 0 {
		return result, nil
	}

	loaded, err := c.load(ctx, kind, missRedis)
	if err != nil {
		return nil, err
	}
	c.metrics.CacheHits.WithLabelValues("miss").Add(float64(len(missRedis)))
	for k, agg := range loaded {
		result[k] = agg
		c.local.Add(cacheKey(kind, k), agg)
	}
	c.setManyRedis(ctx, kind, loaded)
	return result, nil
}

func (c *EmitterCache) getManyRedis(ctx context.Context, kind domain.EmitterKind, keys []string, result map[string]domain.EmitterAggregate) ([]string, error) {
	if c.redis == nil {
		return keys, nil
	}
	redisKeys := make([]string, len(keys))
	for i, k := range keys {
		redisKeys[i] = cacheKey(kind, k)
	}
	vals, err := c.redis.MGet(ctx, redisKeys...).Result()
	if err != nil {
		return nil, err
	}

	var miss []string
	for i, v := range vals {
		if v == nil {
			miss = append(miss, keys[i])
			continue
		}
		s, ok := v.(string)
		if !ok {
			miss = append(miss, keys[i])
			continue
		}
		var agg domain.EmitterAggregate
		if err := json.Unmarshal([]byte(s), &agg); err != nil {
			miss = append(miss, keys[i])
			continue
		}
		result[keys[i]] = agg
		c.local.Add(cacheKey(kind, keys[i]), agg)
		c.metrics.CacheHits.WithLabelValues("redis_hit").Inc()
	}
	return miss, nil
}

func (c *EmitterCache) setManyRedis(ctx context.Context, kind domain.EmitterKind, loaded map[string]domain.EmitterAggregate) {
	if c.redis == nil || len(loaded) == 0 {
		return
	}
	_, err := c.redis.Pipelined(ctx, func(p redis.Pipeliner) error {
		for k, agg := range loaded {
			b, err := json.Marshal(agg)
			if err != nil {
				continue
			}
			p.Set(ctx, cacheKey(kind, k), b, c.ttl)
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("redis set_many failed", zap.Error(err))
	}
}

// Invalidate drops a key from both tiers. Called by internal/invalidation
// on receipt of a broadcast event; the aggregation worker does not call
// it directly, it only publishes the event.
func (c *EmitterCache) Invalidate(ctx context.Context, kind domain.EmitterKind, key string) {
	ck := cacheKey(kind, key)
	c.local.Remove(ck)
	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, ck).Err(); err != nil {
		c.logger.Warn("redis invalidate failed", zap.String("key", ck), zap.Error(err))
	}
}
