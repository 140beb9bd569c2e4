// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

// spax-migrate provisions the database: the shared public tables, one schema
// per tenant with its scoped tables, and the monthly instance partitions.
// Run it before first start and again whenever a tenant is added.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/phtran-dev/spax/pkg/database/model"
	"github.com/phtran-dev/spax/pkg/partition"
	"github.com/phtran-dev/spax/pkg/tenant"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

var (
	dbName      = flag.String("dbName", "spax", "The name of the database")
	dbUser      = flag.String("dbUser", "postgres", "The user of the database")
	dbPass      = flag.String("dbPass", "", "The password of the database")
	dbHost      = flag.String("dbHost", "localhost", "The host of the database")
	dbPort      = flag.String("dbPort", "5432", "The port of the database")
	sslMode     = flag.String("sslMode", "disable", "The ssl mode of the database")
	tenantList  = flag.String("tenants", "", "Comma-separated tenant codes to provision")
	monthsAhead = flag.Int("months-ahead", 12, "Instance partitions to pre-create per tenant")
)

var sharedModels = []interface{}{
	&model.Tenant{},
	&model.StorageVolume{},
	&model.LifecycleRule{},
	&model.MigrationTask{},
	&model.IngestWal{},
}

// Instance is partitioned, so it is created with raw DDL instead of
// AutoMigrate; the remaining tenant tables are plain.
var tenantModels = []interface{}{
	&model.Patient{},
	&model.Study{},
	&model.Series{},
	&model.AuditLog{},
	&model.FileCorrectionTask{},
	&model.CompressionTask{},
}

func main() {
	flag.Parse()

	fmt.Println("SPAX schema migration")
	fmt.Printf("  host=%s:%s db=%s user=%s\n\n", *dbHost, *dbPort, *dbName, *dbUser)

	dsn := fmt.Sprintf("host=%s port=%s user=%s dbname=%s password=%s sslmode=%s",
		*dbHost, *dbPort, *dbUser, *dbName, *dbPass, *sslMode)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
	})
	if err != nil {
		fmt.Printf("Database connection failed: %v\n", err)
		os.Exit(1)
	}
	sqlDB, err := db.DB()
	if err != nil {
		fmt.Printf("Failed to get sql.DB: %v\n", err)
		os.Exit(1)
	}
	defer sqlDB.Close()

	ctx := context.Background()

	fmt.Println("Migrating shared tables in public...")
	if err := db.WithContext(ctx).AutoMigrate(sharedModels...); err != nil {
		fmt.Printf("Shared migration failed: %v\n", err)
		os.Exit(1)
	}

	codes := splitCodes(*tenantList)
	for _, code := range codes {
		if err := provisionTenant(ctx, db, code, *monthsAhead); err != nil {
			fmt.Printf("Tenant %s failed: %v\n", code, err)
			os.Exit(1)
		}
	}

	fmt.Printf("\nDone: shared tables plus %d tenant schema(s)\n", len(codes))
}

func splitCodes(list string) []string {
	var codes []string
	for _, code := range strings.Split(list, ",") {
		code = strings.TrimSpace(code)
		if code != "" {
			codes = append(codes, code)
		}
	}
	return codes
}

func provisionTenant(ctx context.Context, db *gorm.DB, code string, months int) error {
	if err := tenant.ValidateCode(code); err != nil {
		return err
	}
	schemaName := tenant.SchemaName(code)
	fmt.Printf("Provisioning tenant %s (schema %s)...\n", code, schemaName)

	if err := db.WithContext(ctx).
		Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schemaName)).Error; err != nil {
		return err
	}

	// AutoMigrate runs against the session search_path, so scope this
	// connection to the tenant schema for the table creation.
	scoped, err := gorm.Open(postgres.New(postgres.Config{Conn: mustSQLDB(db)}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			TablePrefix:   schemaName + ".",
			SingularTable: true,
		},
	})
	if err != nil {
		return err
	}
	if err := scoped.WithContext(ctx).AutoMigrate(tenantModels...); err != nil {
		return err
	}

	if err := db.WithContext(ctx).Exec(instanceDDL(schemaName)).Error; err != nil {
		return err
	}
	for _, ddl := range instanceIndexDDL(schemaName) {
		if err := db.WithContext(ctx).Exec(ddl).Error; err != nil {
			return err
		}
	}
	if err := db.WithContext(ctx).Exec(fmt.Sprintf(
		"CREATE SEQUENCE IF NOT EXISTS %s.instance_id_seq OWNED BY %s.instance.id",
		schemaName, schemaName)).Error; err != nil {
		return err
	}
	// re-runs against a populated schema must keep the sequence ahead of the rows
	if err := db.WithContext(ctx).Exec(fmt.Sprintf(
		"SELECT setval('%s.instance_id_seq', COALESCE((SELECT MAX(id) FROM %s.instance), 0) + 1, false)",
		schemaName, schemaName)).Error; err != nil {
		return err
	}
	if err := partition.EnsurePartitions(ctx, db, code, time.Now(), months); err != nil {
		return err
	}
	fmt.Printf("  created tables and %d monthly partition(s)\n", months+1)
	return nil
}

func mustSQLDB(db *gorm.DB) *sql.DB {
	sqlDB, err := db.DB()
	if err != nil {
		panic(err)
	}
	return sqlDB
}

// instanceDDL creates the partitioned instance parent. The composite primary
// key must include the partition key, and every per-month child is created by
// EnsurePartitions. Ids come from the schema's instance_id_seq, allocated by
// the indexer, never from a column default.
func instanceDDL(schemaName string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.instance (
	id BIGINT NOT NULL,
	created_date DATE NOT NULL,
	sop_instance_uid VARCHAR(128) NOT NULL,
	sop_class_uid VARCHAR(128),
	instance_number INT NOT NULL DEFAULT 0,
	transfer_syntax_uid VARCHAR(64),
	num_frames INT NOT NULL DEFAULT 1,
	file_size BIGINT NOT NULL DEFAULT 0,
	volume_id BIGINT NOT NULL,
	storage_path VARCHAR(1024) NOT NULL,
	series_fk BIGINT NOT NULL,
	series_uid VARCHAR(128),
	study_uid VARCHAR(128),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (id, created_date)
) PARTITION BY RANGE (created_date)`, schemaName)
}

func instanceIndexDDL(schemaName string) []string {
	return []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_instance_sop ON %s.instance (sop_instance_uid)", schemaName),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_instance_series ON %s.instance (series_fk)", schemaName),
	}
}
