// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package cache

import (
	"context"
	"time"

	"github.com/phtran-dev/spax/pkg/config"
	"github.com/phtran-dev/spax/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const redisNamespace = "spax:cache:"

// RedisBackend stores entries in Redis with native TTL expiry.
type RedisBackend struct {
	client *redis.Client
}

func NewRedisBackend(cfg config.RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.NewError().
			WithCode(errors.CodeInitializeError).
			WithMessage("redis ping failed").
			WithError(err)
	}
	return &RedisBackend{client: client}, nil
}

// NewRedisBackendWithClient wraps an existing client; used by tests.
func NewRedisBackendWithClient(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := b.client.Get(ctx, redisNamespace+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.NewError().
			WithCode(errors.InternalError).
			WithMessage("cache get failed").
			WithError(err)
	}
	return data, true, nil
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := b.client.Set(ctx, redisNamespace+key, value, ttl).Err()
	if err != nil {
		return errors.NewError().
			WithCode(errors.InternalError).
			WithMessage("cache set failed").
			WithError(err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	namespaced := make([]string, len(keys))
	for i, key := range keys {
		namespaced[i] = redisNamespace + key
	}
	err := b.client.Del(ctx, namespaced...).Err()
	if err != nil {
		return errors.NewError().
			WithCode(errors.InternalError).
			WithMessage("cache delete failed").
			WithError(err)
	}
	return nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
