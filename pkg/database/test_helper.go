package database

import (
	"context"
	"testing"

	"github.com/phtran-dev/spax/pkg/database/model"
	sqlconn "github.com/phtran-dev/spax/pkg/sql"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestHelper provides common test utilities for database tests
type TestHelper struct {
	DB *gorm.DB
	T  *testing.T
}

// NewTestHelper creates a new TestHelper with an in-memory SQLite database.
// The database is registered as both the default pool and the pool for the
// given tenant codes, so facades built with WithTenant resolve to it.
func NewTestHelper(t *testing.T, tenantCodes ...string) *TestHelper {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // Silent mode to reduce noise
	})
	require.NoError(t, err, "Failed to open SQLite database")

	// Auto-migrate all models
	err = db.AutoMigrate(
		&model.Tenant{},
		&model.StorageVolume{},
		&model.LifecycleRule{},
		&model.MigrationTask{},
		&model.IngestWal{},
		&model.Patient{},
		&model.Study{},
		&model.Series{},
		&model.Instance{},
		&model.AuditLog{},
		&model.FileCorrectionTask{},
		&model.CompressionTask{},
	)
	require.NoError(t, err, "Failed to auto-migrate models")

	sqlconn.RegisterDefaultDB(db)
	for _, code := range tenantCodes {
		sqlconn.RegisterTenantDB(code, db)
	}

	return &TestHelper{
		DB: db,
		T:  t,
	}
}

// Cleanup closes the database connection
func (h *TestHelper) Cleanup() {
	sqlDB, err := h.DB.DB()
	if err == nil {
		sqlDB.Close()
	}
}

// CreateTestContext creates a test context
func (h *TestHelper) CreateTestContext() context.Context {
	return context.Background()
}

// Count returns the number of records in a table
func (h *TestHelper) Count(tableName string) int64 {
	var count int64
	h.DB.Table(tableName).Count(&count)
	return count
}
