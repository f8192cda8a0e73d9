package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"referralhub/pkg/rediskey"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	cacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "read_cache_hits_total"}, []string{"resource"})
	cacheMiss = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "read_cache_miss_total"}, []string{"resource"})
)

func init() {
	prometheus.MustRegister(cacheHits, cacheMiss)
}

// Key identifies one cached value: the owning client (scope), the resource
// type and the resource id.
type Key struct {
	Scope    string
	Resource string
	ID       string
}

func (k Key) String() string {
	return rediskey.BuildResourceKey(k.Scope, k.Resource, k.ID)
}

// Loader fetches the authoritative value. A nil value is never cached.
type Loader[T any] func(ctx context.Context) (*T, error)

// ReadThrough is a redis-backed read-through cache with a fixed TTL.
// Concurrent misses for the same key share one load.
type ReadThrough[T any] struct {
	rdb   *redis.Client
	ttl   time.Duration
	group singleflight.Group
}

// New returns a cache; with a nil client or a non-positive ttl every Get
// goes straight to the loader.
func New[T any](rdb *redis.Client, ttl time.Duration) *ReadThrough[T] {
	return &ReadThrough[T]{rdb: rdb, ttl: ttl}
}

func (c *ReadThrough[T]) enabled() bool {
	return c != nil && c.rdb != nil && c.ttl > 0
}

func (c *ReadThrough[T]) Get(ctx context.Context, key Key, load Loader[T]) (*T, error) {
	if !c.enabled() {
		return load(ctx)
	}

	k := key.String()
	raw, err := c.rdb.Get(ctx, k).Bytes()
	switch {
	case err == nil:
		var v T
		if jsonErr := json.Unmarshal(raw, &v); jsonErr == nil {
			cacheHits.WithLabelValues(key.Resource).Inc()
			return &v, nil
		}
		zap.L().Warn("dropping undecodable cache entry", zap.String("key", k))
	case errors.Is(err, redis.Nil):
	default:
		zap.L().Warn("cache read failed, loading from source", zap.String("key", k), zap.Error(err))
	}
	cacheMiss.WithLabelValues(key.Resource).Inc()

	v, err, _ := c.group.Do(k, func() (interface{}, error) {
		val, err := load(ctx)
		if err != nil || val == nil {
			return val, err
		}

		if b, err := json.Marshal(val); err == nil {
			if err := c.rdb.Set(ctx, k, b, c.ttl).Err(); err != nil {
				zap.L().Warn("cache write failed", zap.String("key", k), zap.Error(err))
			}
		}
		return val, nil
	})
	if err != nil {
		return nil, err
	}

	out, _ := v.(*T)
	return out, nil
}

func (c *ReadThrough[T]) Invalidate(ctx context.Context, keys ...Key) error {
	if !c.enabled() || len(keys) == 0 {
		return nil
	}

	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, k.String())
	}
	return c.rdb.Del(ctx, names...).Err()
}
