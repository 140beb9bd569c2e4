// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package cache

import (
	"context"
	"time"

	"github.com/phtran-dev/spax/pkg/config"
	"github.com/phtran-dev/spax/pkg/errors"
)

// Backend is the byte-level cache store. The local variant keeps entries in
// process memory; the shared variant puts them in Redis so every replica sees
// the same state.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// NewBackend builds the backend selected by configuration.
func NewBackend(cfg config.CacheConfig) (Backend, error) {
	switch cfg.GetBackend() {
	case config.CacheBackendLocal:
		return NewLocalBackend(), nil
	case config.CacheBackendShared:
		return NewRedisBackend(cfg.Redis)
	default:
		return nil, errors.NewError().
			WithCode(errors.CodeLackOfConfig).
			WithMessagef("unknown cache backend %q", cfg.Backend)
	}
}
