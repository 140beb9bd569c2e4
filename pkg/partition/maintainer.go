// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

// Package partition pre-creates the monthly instance partitions so an insert
// never lands in a month without a backing table.
package partition

import (
	"context"
	"fmt"
	"time"

	"github.com/phtran-dev/spax/pkg/config"
	"github.com/phtran-dev/spax/pkg/database"
	"github.com/phtran-dev/spax/pkg/logger/log"
	"github.com/phtran-dev/spax/pkg/sql"
	"github.com/phtran-dev/spax/pkg/tenant"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// Maintainer runs a daily pass creating the next months_ahead monthly
// partitions in every active tenant schema. Partitioned tables are a
// Postgres feature; on any other dialect the pass is a no-op.
type Maintainer struct {
	tenants database.TenantFacadeInterface
	cfg     config.PartitionConfig

	cron *cron.Cron
}

func NewMaintainer(cfg config.PartitionConfig) *Maintainer {
	return &Maintainer{
		tenants: database.NewTenantFacade(),
		cfg:     cfg,
	}
}

// Start schedules the daily pass. The returned stop function waits for a
// running pass to finish.
func (m *Maintainer) Start() (func(), error) {
	m.cron = cron.New()
	_, err := m.cron.AddFunc(m.cfg.GetCron(), func() {
		if err := m.RunOnce(context.Background()); err != nil {
			log.Errorf("Partition maintenance failed: %v", err)
		}
	})
	if err != nil {
		return nil, err
	}
	m.cron.Start()
	return func() { <-m.cron.Stop().Done() }, nil
}

func (m *Maintainer) RunOnce(ctx context.Context) error {
	db := sql.GetDefaultDB()
	if db == nil {
		return fmt.Errorf("no default database pool")
	}
	if db.Dialector.Name() != "postgres" {
		log.Debugf("Partition maintenance skipped: dialect %s has no partitioned tables", db.Dialector.Name())
		return nil
	}

	codes, err := m.tenants.ListActiveTenantCodes(ctx)
	if err != nil {
		return err
	}
	for _, code := range codes {
		if err := EnsurePartitions(ctx, db, code, time.Now(), m.cfg.GetMonthsAhead()); err != nil {
			log.Errorf("Partition maintenance tenant %s: %v", code, err)
		}
	}
	return nil
}

// EnsurePartitions creates the partition for the month containing from and
// the following months covering the window. Existing partitions are left
// alone. The migrate CLI calls this directly for a fresh tenant schema.
func EnsurePartitions(ctx context.Context, db *gorm.DB, tenantCode string, from time.Time, months int) error {
	if err := tenant.ValidateCode(tenantCode); err != nil {
		return err
	}
	start := monthStart(from)
	for i := 0; i <= months; i++ {
		lower := start.AddDate(0, i, 0)
		if err := db.WithContext(ctx).Exec(partitionDDL(tenantCode, lower)).Error; err != nil {
			return err
		}
	}
	return nil
}

func monthStart(t time.Time) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// partitionDDL builds the CREATE statement for one monthly range partition.
// The tenant code is validated against [a-z0-9_]+ before it reaches this
// point, so splicing it into identifiers is safe.
func partitionDDL(tenantCode string, lower time.Time) string {
	upper := lower.AddDate(0, 1, 0)
	schema := tenant.SchemaName(tenantCode)
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s.%s PARTITION OF %s.instance FOR VALUES FROM ('%s') TO ('%s')",
		schema, PartitionName(lower), schema,
		lower.Format("2006-01-02"), upper.Format("2006-01-02"))
}

// PartitionName returns the table name of the partition holding a month.
func PartitionName(month time.Time) string {
	return fmt.Sprintf("instance_y%04dm%02d", month.Year(), int(month.Month()))
}
