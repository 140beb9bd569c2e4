// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/phtran-dev/spax/pkg/errors"
)

// Named cache TTLs. Entries are also evicted explicitly when the indexer
// commits a batch touching the cached series.
const (
	TTLInstanceLocations = 30 * time.Minute
	TTLSeriesMetadata    = time.Hour
	TTLSeriesByStudy     = time.Hour
	TTLActiveTenants     = time.Minute
	TTLLifecycleRules    = 6 * time.Hour
)

// Cache is a named, typed view over a backend. Values round-trip through
// JSON.
type Cache[T any] struct {
	backend Backend
	name    string
	ttl     time.Duration
}

func NewCache[T any](backend Backend, name string, ttl time.Duration) *Cache[T] {
	return &Cache[T]{
		backend: backend,
		name:    name,
		ttl:     ttl,
	}
}

func (c *Cache[T]) key(key string) string {
	return c.name + ":" + key
}

func (c *Cache[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	data, ok, err := c.backend.Get(ctx, c.key(key))
	if err != nil || !ok {
		return zero, false, err
	}
	var value T
	if err := json.Unmarshal(data, &value); err != nil {
		// stale or foreign payload; drop it and treat as a miss
		_ = c.backend.Delete(ctx, c.key(key))
		return zero, false, nil
	}
	return value, true, nil
}

func (c *Cache[T]) Set(ctx context.Context, key string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.NewError().
			WithCode(errors.InternalError).
			WithMessage("cache encode failed").
			WithError(err)
	}
	return c.backend.Set(ctx, c.key(key), data, c.ttl)
}

func (c *Cache[T]) Evict(ctx context.Context, keys ...string) error {
	namespaced := make([]string, len(keys))
	for i, key := range keys {
		namespaced[i] = c.key(key)
	}
	return c.backend.Delete(ctx, namespaced...)
}

// GetOrLoad returns the cached value or runs the loader and caches its
// result. A load error is returned without caching, so the next call
// retries.
func (c *Cache[T]) GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) (T, error)) (T, error) {
	value, ok, err := c.Get(ctx, key)
	if err != nil {
		return value, err
	}
	if ok {
		return value, nil
	}
	value, err = load(ctx)
	if err != nil {
		return value, err
	}
	if err := c.Set(ctx, key, value); err != nil {
		return value, err
	}
	return value, nil
}

// TenantKey scopes a cache key to one tenant.
func TenantKey(tenantCode, key string) string {
	return tenantCode + "|" + key
}
