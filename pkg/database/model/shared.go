// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package model

import (
	"time"
)

// Shared-scope tables live in the public schema and are visible from every
// tenant pool.

const (
	TableNameTenant        = "tenant"
	TableNameStorageVolume = "storage_volume"
	TableNameLifecycleRule = "lifecycle_rule"
	TableNameMigrationTask = "migration_task"
	TableNameIngestWal     = "ingest_wal"
)

const (
	TaskStatusPending    = "PENDING"
	TaskStatusInProgress = "IN_PROGRESS"
	TaskStatusCompleted  = "COMPLETED"
	TaskStatusFailed     = "FAILED"

	ActionMigrate  = "MIGRATE"
	ActionCompress = "COMPRESS"

	ConditionStudyAgeDays   = "STUDY_AGE_DAYS"
	ConditionLastAccessDays = "LAST_ACCESS_DAYS"
)

// Tenant mapped from table <tenant>
type Tenant struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Code        string    `gorm:"column:code;not null;uniqueIndex;size:64" json:"code"`
	DisplayName string    `gorm:"column:display_name;size:256" json:"display_name"`
	Active      bool      `gorm:"column:active;not null" json:"active"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (*Tenant) TableName() string {
	return TableNameTenant
}

// StorageVolume mapped from table <storage_volume>
type StorageVolume struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Code         string    `gorm:"column:code;not null;uniqueIndex;size:64" json:"code"`
	Kind         string    `gorm:"column:kind;not null;size:32" json:"kind"`
	Tier         string    `gorm:"column:tier;not null;size:16" json:"tier"`
	Status       string    `gorm:"column:status;not null;size:16" json:"status"`
	Priority     int       `gorm:"column:priority;not null;default:0" json:"priority"`
	BasePath     string    `gorm:"column:base_path;size:1024" json:"base_path"`
	PathTemplate string    `gorm:"column:path_template;size:1024" json:"path_template"`
	Bucket       string    `gorm:"column:bucket;size:256" json:"bucket"`
	Endpoint     string    `gorm:"column:endpoint;size:512" json:"endpoint"`
	Region       string    `gorm:"column:region;size:64" json:"region"`
	AccessKey    string    `gorm:"column:access_key;size:256" json:"access_key"`
	SecretKey    string    `gorm:"column:secret_key;size:256" json:"-"`
	UseSSL       bool      `gorm:"column:use_ssl;not null;default:false" json:"use_ssl"`
	CreatedAt    time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (*StorageVolume) TableName() string {
	return TableNameStorageVolume
}

// LifecycleRule mapped from table <lifecycle_rule>
type LifecycleRule struct {
	ID              int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Enabled         bool      `gorm:"column:enabled;not null" json:"enabled"`
	Action          string    `gorm:"column:action;not null;size:16" json:"action"`
	SourceTier      string    `gorm:"column:source_tier;not null;size:16" json:"source_tier"`
	TargetTier      string    `gorm:"column:target_tier;size:16" json:"target_tier"`
	ConditionKind   string    `gorm:"column:condition_kind;not null;size:32" json:"condition_kind"`
	ConditionDays   int       `gorm:"column:condition_days;not null" json:"condition_days"`
	DeleteSource    bool      `gorm:"column:delete_source;not null;default:false" json:"delete_source"`
	CompressionType string    `gorm:"column:compression_type;size:64" json:"compression_type"`
	TenantCode      string    `gorm:"column:tenant_code;size:64" json:"tenant_code"`
	CreatedAt       time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (*LifecycleRule) TableName() string {
	return TableNameLifecycleRule
}

// MigrationTask mapped from table <migration_task>
type MigrationTask struct {
	ID             int64      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	RuleID         int64      `gorm:"column:rule_id;index" json:"rule_id"`
	TenantCode     string     `gorm:"column:tenant_code;not null;size:64;uniqueIndex:idx_migration_dedup,priority:1" json:"tenant_code"`
	InstanceID     int64      `gorm:"column:instance_id;not null;uniqueIndex:idx_migration_dedup,priority:2" json:"instance_id"`
	CreatedDate    time.Time  `gorm:"column:created_date;not null" json:"created_date"`
	SeriesUID      string     `gorm:"column:series_uid;size:128" json:"series_uid"`
	SourceVolumeID int64      `gorm:"column:source_volume_id;not null" json:"source_volume_id"`
	TargetVolumeID int64      `gorm:"column:target_volume_id;not null" json:"target_volume_id"`
	DeleteSource   bool       `gorm:"column:delete_source;not null;default:false" json:"delete_source"`
	Status         string     `gorm:"column:status;not null;size:16;index" json:"status"`
	ErrorMessage   string     `gorm:"column:error_message;size:2048" json:"error_message"`
	StartedAt      *time.Time `gorm:"column:started_at" json:"started_at"`
	FinishedAt     *time.Time `gorm:"column:finished_at" json:"finished_at"`
	CreatedAt      time.Time  `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (*MigrationTask) TableName() string {
	return TableNameMigrationTask
}

// IngestWal backs the database queue variant. Rows are claimed with
// SELECT FOR UPDATE SKIP LOCKED and deleted on ack.
type IngestWal struct {
	ID         int64      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	TenantCode string     `gorm:"column:tenant_code;not null;size:64;index" json:"tenant_code"`
	FilePath   string     `gorm:"column:file_path;not null;size:2048" json:"file_path"`
	ReceivedAt time.Time  `gorm:"column:received_at;not null" json:"received_at"`
	ClaimedBy  string     `gorm:"column:claimed_by;size:128" json:"claimed_by"`
	ClaimedAt  *time.Time `gorm:"column:claimed_at" json:"claimed_at"`
	CreatedAt  time.Time  `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (*IngestWal) TableName() string {
	return TableNameIngestWal
}
