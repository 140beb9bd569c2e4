// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package ingest

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phtran-dev/spax/pkg/config"
	"github.com/phtran-dev/spax/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	streamKeyPrefix = "ingest:"
	consumerGroup   = "indexer-group"
	readBlock       = 2 * time.Second
)

// StreamQueue backs the queue with one Redis stream per tenant and a single
// consumer group. Unacked entries stay on the consumer's pending list and are
// drained on the first read after a restart.
type StreamQueue struct {
	client   *redis.Client
	consumer string

	mu        sync.Mutex
	groups    map[string]bool // streams with the group created
	recovered map[string]bool // tenants whose pending list was drained
}

func NewStreamQueue(cfg config.RedisConfig) (*StreamQueue, error) {
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
	return NewStreamQueueWithClient(client), nil
}

// NewStreamQueueWithClient wraps an existing client; used by tests.
func NewStreamQueueWithClient(client *redis.Client) *StreamQueue {
	host, _ := os.Hostname()
	return &StreamQueue{
		client:    client,
		consumer:  host + "-" + uuid.NewString()[:8],
		groups:    map[string]bool{},
		recovered: map[string]bool{},
	}
}

func streamKey(tenantCode string) string {
	return streamKeyPrefix + tenantCode
}

func (q *StreamQueue) Publish(ctx context.Context, msg Message) error {
	err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(msg.TenantCode),
		Values: map[string]interface{}{
			"file_path":   msg.FilePath,
			"tenant_code": msg.TenantCode,
			"received_at": msg.ReceivedAt.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return errors.NewError().
			WithCode(errors.InternalError).
			WithMessage("queue publish failed").
			WithError(err)
	}
	return nil
}

// ensureGroup creates the consumer group once per stream, tolerating the
// group already existing.
func (q *StreamQueue) ensureGroup(ctx context.Context, stream string) error {
	q.mu.Lock()
	done := q.groups[stream]
	q.mu.Unlock()
	if done {
		return nil
	}
	err := q.client.XGroupCreateMkStream(ctx, stream, consumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return errors.NewError().
			WithCode(errors.InternalError).
			WithMessage("consumer group create failed").
			WithError(err)
	}
	q.mu.Lock()
	q.groups[stream] = true
	q.mu.Unlock()
	return nil
}

// readID returns "0" for the recovery read (this consumer's pending list)
// and ">" afterwards (new entries).
func (q *StreamQueue) readID(tenantCode string) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.recovered[tenantCode] {
		return "0"
	}
	return ">"
}

func (q *StreamQueue) markRecovered(tenantCode string) {
	q.mu.Lock()
	q.recovered[tenantCode] = true
	q.mu.Unlock()
}

func (q *StreamQueue) ConsumeForTenant(ctx context.Context, tenantCode string, batchSize int, handler Handler) error {
	stream := streamKey(tenantCode)
	if err := q.ensureGroup(ctx, stream); err != nil {
		return err
	}

	var batch []Message
	var ids []string
	fromRecovery := false
	for {
		readID := q.readID(tenantCode)
		res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: q.consumer,
			Streams:  []string{stream, readID},
			Count:    int64(batchSize),
			Block:    readBlock,
		}).Result()
		if err != nil && err != redis.Nil {
			return errors.NewError().
				WithCode(errors.InternalError).
				WithMessage("queue read failed").
				WithError(err)
		}
		for _, s := range res {
			for _, entry := range s.Messages {
				batch = append(batch, decodeEntry(tenantCode, entry))
				ids = append(ids, entry.ID)
			}
		}
		if len(batch) > 0 {
			fromRecovery = readID == "0"
			break
		}
		// an empty recovery read means nothing was in flight; switch to new
		// entries and read once more
		if readID == "0" {
			q.markRecovered(tenantCode)
			continue
		}
		return nil
	}

	if err := handler(ctx, batch); err != nil {
		// leave unacked; the pending list redelivers
		return err
	}
	if err := q.client.XAck(ctx, stream, consumerGroup, ids...).Err(); err != nil {
		return errors.NewError().
			WithCode(errors.InternalError).
			WithMessage("queue ack failed").
			WithError(err)
	}
	// trim acked entries so the stream length reflects queue depth
	q.client.XDel(ctx, stream, ids...)
	// a recovery read shorter than the batch cap drained the pending list
	if fromRecovery && len(batch) < batchSize {
		q.markRecovered(tenantCode)
	}
	return nil
}

func decodeEntry(tenantCode string, entry redis.XMessage) Message {
	msg := Message{TenantCode: tenantCode}
	if v, ok := entry.Values["file_path"].(string); ok {
		msg.FilePath = v
	}
	if v, ok := entry.Values["received_at"].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			msg.ReceivedAt = ts
		}
	}
	return msg
}

func (q *StreamQueue) PendingCount(ctx context.Context, tenantCode string) (int64, error) {
	n, err := q.client.XLen(ctx, streamKey(tenantCode)).Result()
	if err != nil {
		return 0, errors.NewError().
			WithCode(errors.InternalError).
			WithMessage("queue length failed").
			WithError(err)
	}
	return n, nil
}

func (q *StreamQueue) Close() error {
	return q.client.Close()
}
