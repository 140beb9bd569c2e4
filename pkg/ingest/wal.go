// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package ingest

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/phtran-dev/spax/pkg/database/model"
	sqlconn "github.com/phtran-dev/spax/pkg/sql"
	dal "github.com/phtran-dev/spax/pkg/sql/util"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// staleClaimAge is how long a claim may sit before another worker takes the
// row back, covering consumers that died mid-batch.
const staleClaimAge = 5 * time.Minute

// WalQueue backs the queue with the shared ingest_wal table. Rows are claimed
// under FOR UPDATE SKIP LOCKED so concurrent workers never double-deliver,
// and deleted on ack.
type WalQueue struct {
	consumer string
}

func NewWalQueue() *WalQueue {
	host, _ := os.Hostname()
	return &WalQueue{
		consumer: host + "-" + uuid.NewString()[:8],
	}
}

func (q *WalQueue) db() *gorm.DB {
	return sqlconn.GetDefaultDB()
}

func (q *WalQueue) Publish(ctx context.Context, msg Message) error {
	row := &model.IngestWal{
		TenantCode: msg.TenantCode,
		FilePath:   msg.FilePath,
		ReceivedAt: msg.ReceivedAt,
	}
	return dal.CheckErr(q.db().WithContext(ctx).Create(row).Error, false)
}

func (q *WalQueue) ConsumeForTenant(ctx context.Context, tenantCode string, batchSize int, handler Handler) error {
	var claimed []*model.IngestWal
	err := q.db().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stale := time.Now().Add(-staleClaimAge)
		query := tx
		// SKIP LOCKED keeps concurrent workers off each other's rows; sqlite
		// (tests) has no row locks and single-writer semantics already
		if tx.Dialector.Name() == "postgres" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		var rows []*model.IngestWal
		err := query.
			Where("tenant_code = ? AND (claimed_at IS NULL OR claimed_at < ?)", tenantCode, stale).
			Order("id").
			Limit(batchSize).
			Find(&rows).Error
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]int64, 0, len(rows))
		for _, r := range rows {
			ids = append(ids, r.ID)
		}
		now := time.Now()
		err = tx.Model(&model.IngestWal{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"claimed_by": q.consumer,
				"claimed_at": now,
			}).Error
		if err != nil {
			return err
		}
		claimed = rows
		return nil
	})
	if err != nil {
		return dal.CheckErr(err, false)
	}
	if len(claimed) == 0 {
		// the wal has no blocking read; pace the poll like the stream block
		select {
		case <-ctx.Done():
		case <-time.After(readBlock):
		}
		return nil
	}

	batch := make([]Message, 0, len(claimed))
	ids := make([]int64, 0, len(claimed))
	for _, r := range claimed {
		batch = append(batch, Message{
			TenantCode: r.TenantCode,
			FilePath:   r.FilePath,
			ReceivedAt: r.ReceivedAt,
		})
		ids = append(ids, r.ID)
	}

	if err := handler(ctx, batch); err != nil {
		// release the claim so the batch is redelivered
		q.db().WithContext(ctx).Model(&model.IngestWal{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"claimed_by": "",
				"claimed_at": nil,
			})
		return err
	}

	return dal.CheckErr(q.db().WithContext(ctx).
		Where("id IN ?", ids).
		Delete(&model.IngestWal{}).Error, false)
}

func (q *WalQueue) PendingCount(ctx context.Context, tenantCode string) (int64, error) {
	var count int64
	err := q.db().WithContext(ctx).
		Model(&model.IngestWal{}).
		Where("tenant_code = ?", tenantCode).
		Count(&count).Error
	return count, dal.CheckErr(err, false)
}

func (q *WalQueue) Close() error {
	return nil
}
