package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisBackend(t *testing.T) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisBackendWithClient(client), mr
}

// TestLocalBackend_RoundTrip tests set, get and delete against the in-memory
// backend
func TestLocalBackend_RoundTrip(t *testing.T) {
	backend := NewLocalBackend()
	ctx := context.Background()

	_, ok, err := backend.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, backend.Set(ctx, "k", []byte("v"), time.Minute))
	data, ok, err := backend.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), data)

	require.NoError(t, backend.Delete(ctx, "k"))
	_, ok, err = backend.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestRedisBackend_RoundTrip tests the shared backend against miniredis
func TestRedisBackend_RoundTrip(t *testing.T) {
	backend, _ := newTestRedisBackend(t)
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "k", []byte("v"), time.Minute))
	data, ok, err := backend.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), data)

	require.NoError(t, backend.Delete(ctx, "k"))
	_, ok, err = backend.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestRedisBackend_TTLExpiry tests that entries expire
func TestRedisBackend_TTLExpiry(t *testing.T) {
	backend, mr := newTestRedisBackend(t)
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "k", []byte("v"), time.Minute))
	mr.FastForward(2 * time.Minute)

	_, ok, err := backend.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestCache_GetOrLoad tests the load-on-miss path and that the loader is not
// called again on a hit
func TestCache_GetOrLoad(t *testing.T) {
	c := NewCache[SeriesLocations](NewLocalBackend(), "instance-locations", TTLInstanceLocations)
	ctx := context.Background()

	loads := 0
	load := func(ctx context.Context) (SeriesLocations, error) {
		loads++
		return SeriesLocations{
			SeriesID:  7,
			SeriesUID: "1.2.1.1",
			Instances: []InstanceLocation{{InstanceID: 1, SOPInstanceUID: "1.2.1.1.1"}},
		}, nil
	}

	value, err := c.GetOrLoad(ctx, TenantKey("acme", "1.2.1.1"), load)
	require.NoError(t, err)
	assert.Equal(t, int64(7), value.SeriesID)
	assert.Equal(t, 1, loads)

	value, err = c.GetOrLoad(ctx, TenantKey("acme", "1.2.1.1"), load)
	require.NoError(t, err)
	require.Len(t, value.Instances, 1)
	assert.Equal(t, 1, loads)
}

// TestCache_GetOrLoad_LoaderError tests that a failed load is not cached
func TestCache_GetOrLoad_LoaderError(t *testing.T) {
	c := NewCache[[]string](NewLocalBackend(), "active-tenants", TTLActiveTenants)
	ctx := context.Background()

	loads := 0
	_, err := c.GetOrLoad(ctx, "all", func(ctx context.Context) ([]string, error) {
		loads++
		return nil, errors.New("db down")
	})
	require.Error(t, err)

	value, err := c.GetOrLoad(ctx, "all", func(ctx context.Context) ([]string, error) {
		loads++
		return []string{"acme"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"acme"}, value)
	assert.Equal(t, 2, loads)
}

// TestCaches_EvictSeries tests that a committed batch eviction clears every
// derived entry
func TestCaches_EvictSeries(t *testing.T) {
	caches := NewCaches(NewLocalBackend())
	ctx := context.Background()

	require.NoError(t, caches.InstanceLocations.Set(ctx, TenantKey("acme", "1.2.1.1"),
		SeriesLocations{SeriesID: 7}))
	require.NoError(t, caches.SeriesByStudy.Set(ctx, TenantKey("acme", "1.2.1"),
		[]string{"1.2.1.1"}))

	require.NoError(t, caches.EvictSeries(ctx, "acme", "1.2.1", "1.2.1.1"))

	_, ok, err := caches.InstanceLocations.Get(ctx, TenantKey("acme", "1.2.1.1"))
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = caches.SeriesByStudy.Get(ctx, TenantKey("acme", "1.2.1"))
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestCache_CorruptPayloadIsMiss tests that an undecodable entry is dropped
// instead of surfacing an error
func TestCache_CorruptPayloadIsMiss(t *testing.T) {
	backend := NewLocalBackend()
	ctx := context.Background()
	require.NoError(t, backend.Set(ctx, "instance-locations:acme|1.2.1.1", []byte("{broken"), time.Minute))

	c := NewCache[SeriesLocations](backend, "instance-locations", TTLInstanceLocations)
	_, ok, err := c.Get(ctx, "acme|1.2.1.1")
	require.NoError(t, err)
	assert.False(t, ok)
}
