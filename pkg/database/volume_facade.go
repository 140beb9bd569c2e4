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
	"github.com/phtran-dev/spax/pkg/storage"
	"gorm.io/gorm"
)

// VolumeFacadeInterface defines the database operation interface for the
// shared storage volume registry.
type VolumeFacadeInterface interface {
	CreateVolume(ctx context.Context, volume *model.StorageVolume) error
	UpdateVolume(ctx context.Context, volume *model.StorageVolume) error
	DeleteVolume(ctx context.Context, id int64) error
	GetVolumeByID(ctx context.Context, id int64) (*model.StorageVolume, error)
	ListVolumes(ctx context.Context) ([]*model.StorageVolume, error)
	LoadVolumes(ctx context.Context) ([]*storage.Volume, error)
}

// VolumeFacade implements VolumeFacadeInterface
type VolumeFacade struct {
	BaseFacade
}

func NewVolumeFacade() VolumeFacadeInterface {
	return &VolumeFacade{}
}

func (f *VolumeFacade) CreateVolume(ctx context.Context, volume *model.StorageVolume) error {
	return dal.CheckErr(f.getDB().WithContext(ctx).Create(volume).Error, false)
}

func (f *VolumeFacade) UpdateVolume(ctx context.Context, volume *model.StorageVolume) error {
	volume.UpdatedAt = time.Now()
	return dal.CheckErr(f.getDB().WithContext(ctx).Save(volume).Error, false)
}

func (f *VolumeFacade) DeleteVolume(ctx context.Context, id int64) error {
	return dal.CheckErr(f.getDB().WithContext(ctx).
		Where("id = ?", id).
		Delete(&model.StorageVolume{}).Error, false)
}

func (f *VolumeFacade) GetVolumeByID(ctx context.Context, id int64) (*model.StorageVolume, error) {
	volume := &model.StorageVolume{}
	err := f.getDB().WithContext(ctx).Where("id = ?", id).First(volume).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors2.NewError().
				WithCode(errors2.UnknownVolume).
				WithMessagef("volume %d not found", id)
		}
		return nil, dal.CheckErr(err, false)
	}
	return volume, nil
}

func (f *VolumeFacade) ListVolumes(ctx context.Context) ([]*model.StorageVolume, error) {
	var volumes []*model.StorageVolume
	err := f.getDB().WithContext(ctx).Order("tier, priority desc").Find(&volumes).Error
	return volumes, dal.CheckErr(err, false)
}

// LoadVolumes adapts the registry rows into the volume manager's in-memory
// shape; it is the manager's VolumeLoader.
func (f *VolumeFacade) LoadVolumes(ctx context.Context) ([]*storage.Volume, error) {
	rows, err := f.ListVolumes(ctx)
	if err != nil {
		return nil, err
	}
	volumes := make([]*storage.Volume, 0, len(rows))
	for _, r := range rows {
		volumes = append(volumes, &storage.Volume{
			ID:           r.ID,
			Code:         r.Code,
			Kind:         r.Kind,
			Tier:         r.Tier,
			Status:       r.Status,
			Priority:     r.Priority,
			BasePath:     r.BasePath,
			PathTemplate: r.PathTemplate,
			Bucket:       r.Bucket,
			Endpoint:     r.Endpoint,
			Region:       r.Region,
			AccessKey:    r.AccessKey,
			SecretKey:    r.SecretKey,
			UseSSL:       r.UseSSL,
		})
	}
	return volumes, nil
}
