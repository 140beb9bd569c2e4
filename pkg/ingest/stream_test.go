package ingest

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

func newTestStreamQueue(t *testing.T) (*StreamQueue, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewStreamQueueWithClient(client), client
}

func publishN(t *testing.T, q *StreamQueue, tenantCode string, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		require.NoError(t, q.Publish(ctx, Message{
			TenantCode: tenantCode,
			FilePath:   "/spool/f" + string(rune('0'+i)),
			ReceivedAt: time.Now(),
		}))
	}
}

// TestStreamQueue_PublishConsumeAck tests the happy path: a consumed batch is
// acknowledged and not redelivered
func TestStreamQueue_PublishConsumeAck(t *testing.T) {
	q, _ := newTestStreamQueue(t)
	ctx := context.Background()
	publishN(t, q, "acme", 3)

	var got []Message
	err := q.ConsumeForTenant(ctx, "acme", 10, func(ctx context.Context, batch []Message) error {
		got = batch
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "acme", got[0].TenantCode)
	assert.Equal(t, "/spool/f0", got[0].FilePath)

	n, err := q.PendingCount(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

// TestStreamQueue_HandlerErrorRedelivers tests that a failed handler leaves
// the batch pending for the same consumer identity
func TestStreamQueue_HandlerErrorRedelivers(t *testing.T) {
	q, client := newTestStreamQueue(t)
	ctx := context.Background()
	publishN(t, q, "acme", 2)

	err := q.ConsumeForTenant(ctx, "acme", 10, func(ctx context.Context, batch []Message) error {
		return errors.New("index down")
	})
	require.Error(t, err)

	// a restarted worker with the same identity drains the pending list first
	q2 := NewStreamQueueWithClient(client)
	q2.consumer = q.consumer

	var got []Message
	err = q2.ConsumeForTenant(ctx, "acme", 10, func(ctx context.Context, batch []Message) error {
		got = batch
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

// TestStreamQueue_BatchSizeCap tests that a read returns at most batchSize
// messages
func TestStreamQueue_BatchSizeCap(t *testing.T) {
	q, _ := newTestStreamQueue(t)
	ctx := context.Background()
	publishN(t, q, "acme", 5)

	var sizes []int
	for i := 0; i < 3; i++ {
		err := q.ConsumeForTenant(ctx, "acme", 2, func(ctx context.Context, batch []Message) error {
			sizes = append(sizes, len(batch))
			return nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, []int{2, 2, 1}, sizes)
}

// TestStreamQueue_TenantIsolation tests that streams do not leak across
// tenants
func TestStreamQueue_TenantIsolation(t *testing.T) {
	q, _ := newTestStreamQueue(t)
	ctx := context.Background()
	publishN(t, q, "acme", 2)
	publishN(t, q, "beta", 1)

	var acme, beta int
	require.NoError(t, q.ConsumeForTenant(ctx, "acme", 10, func(ctx context.Context, batch []Message) error {
		acme = len(batch)
		return nil
	}))
	require.NoError(t, q.ConsumeForTenant(ctx, "beta", 10, func(ctx context.Context, batch []Message) error {
		beta = len(batch)
		return nil
	}))
	assert.Equal(t, 2, acme)
	assert.Equal(t, 1, beta)
}
