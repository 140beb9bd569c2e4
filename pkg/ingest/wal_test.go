package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/phtran-dev/spax/pkg/database"
	"github.com/phtran-dev/spax/pkg/database/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWalQueue_PublishConsumeAck tests that an acked batch is deleted from
// the table
func TestWalQueue_PublishConsumeAck(t *testing.T) {
	helper := database.NewTestHelper(t)
	defer helper.Cleanup()

	q := NewWalQueue()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Publish(ctx, Message{
			TenantCode: "acme",
			FilePath:   "/spool/f",
			ReceivedAt: time.Now(),
		}))
	}

	var got []Message
	err := q.ConsumeForTenant(ctx, "acme", 10, func(ctx context.Context, batch []Message) error {
		got = batch
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	n, err := q.PendingCount(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

// TestWalQueue_HandlerErrorReleasesClaim tests that a failed batch becomes
// claimable again
func TestWalQueue_HandlerErrorReleasesClaim(t *testing.T) {
	helper := database.NewTestHelper(t)
	defer helper.Cleanup()

	q := NewWalQueue()
	ctx := context.Background()

	require.NoError(t, q.Publish(ctx, Message{TenantCode: "acme", FilePath: "/spool/f", ReceivedAt: time.Now()}))

	err := q.ConsumeForTenant(ctx, "acme", 10, func(ctx context.Context, batch []Message) error {
		return errors.New("index down")
	})
	require.Error(t, err)

	var got []Message
	err = q.ConsumeForTenant(ctx, "acme", 10, func(ctx context.Context, batch []Message) error {
		got = batch
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

// TestWalQueue_ClaimedRowsNotRedelivered tests that a live claim shields rows
// from other workers until it goes stale
func TestWalQueue_ClaimedRowsNotRedelivered(t *testing.T) {
	helper := database.NewTestHelper(t)
	defer helper.Cleanup()

	q := NewWalQueue()
	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, Message{TenantCode: "acme", FilePath: "/spool/f", ReceivedAt: time.Now()}))

	claimed := time.Now()
	require.NoError(t, helper.DB.Model(&model.IngestWal{}).
		Where("tenant_code = ?", "acme").
		Updates(map[string]interface{}{"claimed_by": "other-worker", "claimed_at": claimed}).Error)

	delivered := false
	err := q.ConsumeForTenant(ctx, "acme", 10, func(ctx context.Context, batch []Message) error {
		delivered = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, delivered)

	// stale claims are taken over
	stale := time.Now().Add(-10 * time.Minute)
	require.NoError(t, helper.DB.Model(&model.IngestWal{}).
		Where("tenant_code = ?", "acme").
		Update("claimed_at", stale).Error)

	err = q.ConsumeForTenant(ctx, "acme", 10, func(ctx context.Context, batch []Message) error {
		delivered = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, delivered)
}

// TestWalQueue_TenantIsolation tests that tenants only see their own rows
func TestWalQueue_TenantIsolation(t *testing.T) {
	helper := database.NewTestHelper(t)
	defer helper.Cleanup()

	q := NewWalQueue()
	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, Message{TenantCode: "acme", FilePath: "/spool/a", ReceivedAt: time.Now()}))
	require.NoError(t, q.Publish(ctx, Message{TenantCode: "beta", FilePath: "/spool/b", ReceivedAt: time.Now()}))

	var got []Message
	err := q.ConsumeForTenant(ctx, "beta", 10, func(ctx context.Context, batch []Message) error {
		got = batch
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "/spool/b", got[0].FilePath)
}
