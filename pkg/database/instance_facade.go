// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package database

import (
	"context"
	"errors"
	"time"

	"github.com/phtran-dev/spax/pkg/database/model"
	errors2 "github.com/phtran-dev/spax/pkg/errors"
	dal "github.com/phtran-dev/spax/pkg/sql/util"
	"gorm.io/gorm"
)

// InstanceFacadeInterface defines the tenant-scope instance interface. Every
// per-series query carries the created_date predicate so it prunes to one
// partition.
type InstanceFacadeInterface interface {
	ListBySeries(ctx context.Context, seriesFK int64, createdDate time.Time) ([]*model.Instance, error)
	ListByStudyUID(ctx context.Context, studyUID string) ([]*model.Instance, error)
	GetBySOP(ctx context.Context, seriesFK int64, createdDate time.Time, sopUID string) (*model.Instance, error)
	GetByID(ctx context.Context, id int64, createdDate time.Time) (*model.Instance, error)
	CountOnVolume(ctx context.Context, seriesFK int64, createdDate time.Time, volumeID int64) (int64, error)
	UpdateVolume(ctx context.Context, id int64, createdDate time.Time, volumeID int64) error
	UpdateTransferSyntax(ctx context.Context, id int64, createdDate time.Time, tsuid string, fileSize int64) error
	ListMigrationCandidates(ctx context.Context, cond MigrationCondition) ([]*model.Instance, error)
	WithTenant(tenantCode string) InstanceFacadeInterface
}

// MigrationCondition selects instances for a MIGRATE rule pass.
type MigrationCondition struct {
	VolumeIDs     []int64 // volumes in the rule's source tier
	ConditionKind string
	OlderThan     time.Time
	Limit         int
}

// InstanceFacade implements InstanceFacadeInterface
type InstanceFacade struct {
	BaseFacade
}

func NewInstanceFacade() InstanceFacadeInterface {
	return &InstanceFacade{}
}

func (f *InstanceFacade) WithTenant(tenantCode string) InstanceFacadeInterface {
	return &InstanceFacade{
		BaseFacade: f.withTenant(tenantCode),
	}
}

func (f *InstanceFacade) ListBySeries(ctx context.Context, seriesFK int64, createdDate time.Time) ([]*model.Instance, error) {
	var instances []*model.Instance
	err := f.getDB().WithContext(ctx).
		Where("series_fk = ? AND created_date = ?", seriesFK, createdDate).
		Order("instance_number, id").
		Find(&instances).Error
	return instances, dal.CheckErr(err, false)
}

// ListByStudyUID serves the WADO whole-study path via the denormalised
// study_uid column.
func (f *InstanceFacade) ListByStudyUID(ctx context.Context, studyUID string) ([]*model.Instance, error) {
	var instances []*model.Instance
	err := f.getDB().WithContext(ctx).
		Where("study_uid = ?", studyUID).
		Order("series_fk, instance_number, id").
		Find(&instances).Error
	return instances, dal.CheckErr(err, false)
}

func (f *InstanceFacade) GetBySOP(ctx context.Context, seriesFK int64, createdDate time.Time, sopUID string) (*model.Instance, error) {
	instance := &model.Instance{}
	err := f.getDB().WithContext(ctx).
		Where("series_fk = ? AND created_date = ? AND sop_instance_uid = ?", seriesFK, createdDate, sopUID).
		First(instance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors2.NewError().
				WithCode(errors2.NotFound).
				WithMessagef("instance %s not found", sopUID)
		}
		return nil, dal.CheckErr(err, false)
	}
	return instance, nil
}

func (f *InstanceFacade) GetByID(ctx context.Context, id int64, createdDate time.Time) (*model.Instance, error) {
	instance := &model.Instance{}
	err := f.getDB().WithContext(ctx).
		Where("id = ? AND created_date = ?", id, createdDate).
		First(instance).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors2.NewError().
				WithCode(errors2.NotFound).
				WithMessagef("instance %d not found", id)
		}
		return nil, dal.CheckErr(err, false)
	}
	return instance, nil
}

// CountOnVolume reports how many of the series' instances still live on the
// volume; zero means a migration finished moving the series.
func (f *InstanceFacade) CountOnVolume(ctx context.Context, seriesFK int64, createdDate time.Time, volumeID int64) (int64, error) {
	var count int64
	err := f.getDB().WithContext(ctx).
		Model(&model.Instance{}).
		Where("series_fk = ? AND created_date = ? AND volume_id = ?", seriesFK, createdDate, volumeID).
		Count(&count).Error
	return count, dal.CheckErr(err, false)
}

func (f *InstanceFacade) UpdateVolume(ctx context.Context, id int64, createdDate time.Time, volumeID int64) error {
	return dal.CheckErr(f.getDB().WithContext(ctx).
		Model(&model.Instance{}).
		Where("id = ? AND created_date = ?", id, createdDate).
		Update("volume_id", volumeID).Error, false)
}

func (f *InstanceFacade) UpdateTransferSyntax(ctx context.Context, id int64, createdDate time.Time, tsuid string, fileSize int64) error {
	return dal.CheckErr(f.getDB().WithContext(ctx).
		Model(&model.Instance{}).
		Where("id = ? AND created_date = ?", id, createdDate).
		Updates(map[string]interface{}{
			"transfer_syntax_uid": tsuid,
			"file_size":           fileSize,
		}).Error, false)
}

// ListMigrationCandidates finds instances on the rule's source volumes whose
// owning study satisfies the age condition. Instances that already carry a
// migration task are filtered later by the dedup index at task creation.
func (f *InstanceFacade) ListMigrationCandidates(ctx context.Context, cond MigrationCondition) ([]*model.Instance, error) {
	if len(cond.VolumeIDs) == 0 {
		return nil, nil
	}
	ageColumn := "study.created_at"
	if cond.ConditionKind == model.ConditionLastAccessDays {
		ageColumn = "study.last_accessed_at"
	}
	var instances []*model.Instance
	err := f.getDB().WithContext(ctx).
		Table(model.TableNameInstance).
		Joins("JOIN series ON series.id = instance.series_fk").
		Joins("JOIN study ON study.id = series.study_fk").
		Where("instance.volume_id IN ?", cond.VolumeIDs).
		Where(ageColumn+" <= ?", cond.OlderThan).
		Limit(cond.Limit).
		Find(&instances).Error
	return instances, dal.CheckErr(err, false)
}
