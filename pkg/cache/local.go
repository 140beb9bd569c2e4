// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const localCleanupInterval = 10 * time.Minute

// LocalBackend keeps entries in process memory. Suitable for single-replica
// deployments; replicas would each hold an independent copy.
type LocalBackend struct {
	store *gocache.Cache
}

func NewLocalBackend() *LocalBackend {
	return &LocalBackend{
		store: gocache.New(gocache.NoExpiration, localCleanupInterval),
	}
}

func (b *LocalBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := b.store.Get(key)
	if !ok {
		return nil, false, nil
	}
	return v.([]byte), true, nil
}

func (b *LocalBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.store.Set(key, value, ttl)
	return nil
}

func (b *LocalBackend) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		b.store.Delete(key)
	}
	return nil
}

func (b *LocalBackend) Close() error {
	return nil
}
