// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package model

import (
	"time"
)

// Tenant-scope tables resolve through the pool's schema search path, so the
// same model maps onto tenant_{code}.patient and friends.

const (
	TableNamePatient            = "patient"
	TableNameStudy              = "study"
	TableNameSeries             = "series"
	TableNameInstance           = "instance"
	TableNameAuditLog           = "audit_log"
	TableNameFileCorrectionTask = "file_correction_task"
	TableNameCompressionTask    = "compression_task"
)

// Patient mapped from table <patient>
type Patient struct {
	ID            int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	PublicID      string    `gorm:"column:public_id;not null;uniqueIndex;size:40" json:"public_id"`
	PatientID     string    `gorm:"column:patient_id;not null;size:128" json:"patient_id"`
	Name          string    `gorm:"column:name;size:256" json:"name"`
	BirthDate     string    `gorm:"column:birth_date;size:16" json:"birth_date"`
	Sex           string    `gorm:"column:sex;size:8" json:"sex"`
	IsProvisional bool      `gorm:"column:is_provisional;not null;default:false" json:"is_provisional"`
	NumStudies    int       `gorm:"column:num_studies;not null;default:0" json:"num_studies"`
	Version       int64     `gorm:"column:version;not null;default:0" json:"version"`
	CreatedAt     time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (*Patient) TableName() string {
	return TableNamePatient
}

// Study mapped from table <study>
type Study struct {
	ID                 int64      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	PublicID           string     `gorm:"column:public_id;not null;uniqueIndex;size:40" json:"public_id"`
	StudyUID           string     `gorm:"column:study_uid;not null;index;size:128" json:"study_uid"`
	PatientFK          int64      `gorm:"column:patient_fk;not null;index" json:"patient_fk"`
	StudyDate          string     `gorm:"column:study_date;size:16" json:"study_date"`
	StudyTime          string     `gorm:"column:study_time;size:16" json:"study_time"`
	Description        string     `gorm:"column:description;size:512" json:"description"`
	AccessionNumber    string     `gorm:"column:accession_number;size:64" json:"accession_number"`
	ReferringPhysician string     `gorm:"column:referring_physician;size:256" json:"referring_physician"`
	NumSeries          int        `gorm:"column:num_series;not null;default:0" json:"num_series"`
	NumInstances       int        `gorm:"column:num_instances;not null;default:0" json:"num_instances"`
	StudySize          int64      `gorm:"column:study_size;not null;default:0" json:"study_size"`
	Version            int64      `gorm:"column:version;not null;default:0" json:"version"`
	LastAccessedAt     *time.Time `gorm:"column:last_accessed_at" json:"last_accessed_at"`
	CreatedAt          time.Time  `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (*Study) TableName() string {
	return TableNameStudy
}

// Series mapped from table <series>
type Series struct {
	ID                 int64      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	SeriesUID          string     `gorm:"column:series_uid;not null;size:128;uniqueIndex:uk_series_study_uid,priority:2" json:"series_uid"`
	StudyFK            int64      `gorm:"column:study_fk;not null;uniqueIndex:uk_series_study_uid,priority:1;index" json:"study_fk"`
	Modality           string     `gorm:"column:modality;size:16" json:"modality"`
	SeriesNumber       string     `gorm:"column:series_number;size:16" json:"series_number"`
	Description        string     `gorm:"column:description;size:512" json:"description"`
	BodyPart           string     `gorm:"column:body_part;size:64" json:"body_part"`
	Institution        string     `gorm:"column:institution;size:256" json:"institution"`
	StationName        string     `gorm:"column:station_name;size:128" json:"station_name"`
	SendingAET         string     `gorm:"column:sending_aet;size:64" json:"sending_aet"`
	NumInstances       int        `gorm:"column:num_instances;not null;default:0" json:"num_instances"`
	SeriesSize         int64      `gorm:"column:series_size;not null;default:0" json:"series_size"`
	CompressTsuid      string     `gorm:"column:compress_tsuid;size:64" json:"compress_tsuid"`
	CompressTime       *time.Time `gorm:"column:compress_time" json:"compress_time"`
	MetadataVolumeID   *int64     `gorm:"column:metadata_volume_id" json:"metadata_volume_id"`
	MetadataPath       string     `gorm:"column:metadata_path;size:1024" json:"metadata_path"`
	CreatedAt          time.Time  `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (*Series) TableName() string {
	return TableNameSeries
}

// Instance mapped from table <instance>. The physical table is range
// partitioned monthly on created_date, which is part of the primary key.
// Uniqueness on (series_fk, sop_instance_uid) is enforced by the repository,
// not by an index, because an index would have to include the partition key.
type Instance struct {
	ID                int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	CreatedDate       time.Time `gorm:"column:created_date;primaryKey;type:date" json:"created_date"`
	SOPInstanceUID    string    `gorm:"column:sop_instance_uid;not null;index;size:128" json:"sop_instance_uid"`
	SOPClassUID       string    `gorm:"column:sop_class_uid;size:128" json:"sop_class_uid"`
	InstanceNumber    int       `gorm:"column:instance_number;not null;default:0" json:"instance_number"`
	TransferSyntaxUID string    `gorm:"column:transfer_syntax_uid;size:64" json:"transfer_syntax_uid"`
	NumFrames         int       `gorm:"column:num_frames;not null;default:1" json:"num_frames"`
	FileSize          int64     `gorm:"column:file_size;not null;default:0" json:"file_size"`
	VolumeID          int64     `gorm:"column:volume_id;not null" json:"volume_id"`
	StoragePath       string    `gorm:"column:storage_path;not null;size:1024" json:"storage_path"`
	SeriesFK          int64     `gorm:"column:series_fk;not null;index" json:"series_fk"`
	SeriesUID         string    `gorm:"column:series_uid;size:128" json:"series_uid"`
	StudyUID          string    `gorm:"column:study_uid;size:128" json:"study_uid"`
	CreatedAt         time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (*Instance) TableName() string {
	return TableNameInstance
}

// AuditLog mapped from table <audit_log>
type AuditLog struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Actor     string    `gorm:"column:actor;size:128" json:"actor"`
	Action    string    `gorm:"column:action;not null;size:64" json:"action"`
	Target    string    `gorm:"column:target;size:512" json:"target"`
	Detail    string    `gorm:"column:detail;size:4096" json:"detail"`
	CreatedAt time.Time `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

func (*AuditLog) TableName() string {
	return TableNameAuditLog
}

// FileCorrectionTask mapped from table <file_correction_task>
type FileCorrectionTask struct {
	ID           int64      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Kind         string     `gorm:"column:kind;not null;size:32" json:"kind"`
	PatientFK    int64      `gorm:"column:patient_fk;index" json:"patient_fk"`
	StudyFK      int64      `gorm:"column:study_fk;index" json:"study_fk"`
	NewValue     string     `gorm:"column:new_value;size:512" json:"new_value"`
	TriggeredBy  string     `gorm:"column:triggered_by;size:128" json:"triggered_by"`
	Status       string     `gorm:"column:status;not null;size:16;index" json:"status"`
	ErrorMessage string     `gorm:"column:error_message;size:2048" json:"error_message"`
	FinishedAt   *time.Time `gorm:"column:finished_at" json:"finished_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (*FileCorrectionTask) TableName() string {
	return TableNameFileCorrectionTask
}

// CompressionTask mapped from table <compression_task>. One task per study.
type CompressionTask struct {
	ID              int64      `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	RuleID          int64      `gorm:"column:rule_id;index" json:"rule_id"`
	StudyFK         int64      `gorm:"column:study_fk;not null;index" json:"study_fk"`
	CompressionType string     `gorm:"column:compression_type;not null;size:64" json:"compression_type"`
	TargetTsuid     string     `gorm:"column:target_tsuid;not null;size:64" json:"target_tsuid"`
	Status          string     `gorm:"column:status;not null;size:16;index" json:"status"`
	ErrorMessage    string     `gorm:"column:error_message;size:2048" json:"error_message"`
	StartedAt       *time.Time `gorm:"column:started_at" json:"started_at"`
	FinishedAt      *time.Time `gorm:"column:finished_at" json:"finished_at"`
	CreatedAt       time.Time  `gorm:"column:created_at;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (*CompressionTask) TableName() string {
	return TableNameCompressionTask
}
