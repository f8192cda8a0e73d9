package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type item struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

func TestReadThroughCachesLoadedValue(t *testing.T) {
	rdb, mr := setupRedis(t)
	c := New[item](rdb, time.Minute)
	key := Key{Scope: "client-1", Resource: "campaign", ID: "c1"}

	var loads int32
	load := func(ctx context.Context) (*item, error) {
		atomic.AddInt32(&loads, 1)
		return &item{ID: "c1", Name: "Spring"}, nil
	}

	first, err := c.Get(context.Background(), key, load)
	require.NoError(t, err)
	second, err := c.Get(context.Background(), key, load)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, int32(1), atomic.LoadInt32(&loads))
	require.True(t, mr.Exists("cache:client-1:campaign:c1"))

	mr.FastForward(2 * time.Minute)
	_, err = c.Get(context.Background(), key, load)
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&loads))
}

func TestReadThroughDoesNotCacheMissesOrErrors(t *testing.T) {
	rdb, mr := setupRedis(t)
	c := New[item](rdb, time.Minute)
	key := Key{Resource: "campaign", ID: "missing"}

	v, err := c.Get(context.Background(), key, func(ctx context.Context) (*item, error) { return nil, nil })
	require.NoError(t, err)
	require.Nil(t, v)
	require.False(t, mr.Exists(key.String()))

	boom := errors.New("db down")
	_, err = c.Get(context.Background(), key, func(ctx context.Context) (*item, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
}

func TestInvalidate(t *testing.T) {
	rdb, mr := setupRedis(t)
	c := New[item](rdb, time.Minute)
	key := Key{Scope: "client-1", Resource: "campaign", ID: "c1"}

	_, err := c.Get(context.Background(), key, func(ctx context.Context) (*item, error) { return &item{ID: "c1"}, nil })
	require.NoError(t, err)
	require.True(t, mr.Exists(key.String()))

	require.NoError(t, c.Invalidate(context.Background(), key))
	require.False(t, mr.Exists(key.String()))
}

func TestDisabledCacheAlwaysLoads(t *testing.T) {
	c := New[item](nil, time.Minute)

	var loads int32
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Get(context.Background(), Key{Resource: "x", ID: "1"}, func(ctx context.Context) (*item, error) {
				atomic.AddInt32(&loads, 1)
				return &item{}, nil
			})
		}()
	}
	wg.Wait()

	require.Equal(t, int32(3), atomic.LoadInt32(&loads))
	require.NoError(t, c.Invalidate(context.Background(), Key{Resource: "x", ID: "1"}))
}
