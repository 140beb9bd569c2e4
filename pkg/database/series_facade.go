// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package database

import (
	"context"
	"time"

	"github.com/phtran-dev/spax/pkg/database/model"
	dal "github.com/phtran-dev/spax/pkg/sql/util"
	"gorm.io/gorm"
)

// SeriesFacadeInterface defines the tenant-scope series query interface.
type SeriesFacadeInterface interface {
	ListSeriesByStudyUID(ctx context.Context, studyUID string) ([]*model.Series, error)
	ListSeriesByStudyFK(ctx context.Context, studyFK int64) ([]*model.Series, error)
	ListSeriesByUID(ctx context.Context, seriesUID string) ([]*model.Series, error)
	GetSeriesKey(ctx context.Context, seriesUID string) (*SeriesKey, error)
	UpdateMetadataLocation(ctx context.Context, seriesID int64, volumeID *int64, path string) error
	UpdateCompression(ctx context.Context, seriesID int64, tsuid string) error
	RecomputeStudySize(ctx context.Context, studyFK int64) error
	WithTenant(tenantCode string) SeriesFacadeInterface
}

// SeriesKey is the series→partition lookup step: the id plus the created
// date every instance of the series was filed under.
type SeriesKey struct {
	SeriesID    int64
	SeriesUID   string
	CreatedDate time.Time
}

// SeriesFacade implements SeriesFacadeInterface
type SeriesFacade struct {
	BaseFacade
}

func NewSeriesFacade() SeriesFacadeInterface {
	return &SeriesFacade{}
}

func (f *SeriesFacade) WithTenant(tenantCode string) SeriesFacadeInterface {
	return &SeriesFacade{
		BaseFacade: f.withTenant(tenantCode),
	}
}

func (f *SeriesFacade) ListSeriesByStudyUID(ctx context.Context, studyUID string) ([]*model.Series, error) {
	var series []*model.Series
	err := f.getDB().WithContext(ctx).
		Joins("JOIN study ON study.id = series.study_fk").
		Where("study.study_uid = ?", studyUID).
		Order("series.id").
		Find(&series).Error
	return series, dal.CheckErr(err, false)
}

func (f *SeriesFacade) ListSeriesByStudyFK(ctx context.Context, studyFK int64) ([]*model.Series, error) {
	var series []*model.Series
	err := f.getDB().WithContext(ctx).
		Where("study_fk = ?", studyFK).
		Order("id").
		Find(&series).Error
	return series, dal.CheckErr(err, false)
}

// ListSeriesByUID returns every series row with the UID; like study UIDs,
// series UIDs may collide across studies.
func (f *SeriesFacade) ListSeriesByUID(ctx context.Context, seriesUID string) ([]*model.Series, error) {
	var series []*model.Series
	err := f.getDB().WithContext(ctx).
		Where("series_uid = ?", seriesUID).
		Order("id").
		Find(&series).Error
	return series, dal.CheckErr(err, false)
}

// GetSeriesKey resolves a series UID to (id, created_date) so downstream
// instance queries prune to a single partition. Nil when unknown.
func (f *SeriesFacade) GetSeriesKey(ctx context.Context, seriesUID string) (*SeriesKey, error) {
	rows, err := f.ListSeriesByUID(ctx, seriesUID)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	s := rows[0]
	return &SeriesKey{
		SeriesID:    s.ID,
		SeriesUID:   s.SeriesUID,
		CreatedDate: TruncateToDate(s.CreatedAt),
	}, nil
}

func (f *SeriesFacade) UpdateMetadataLocation(ctx context.Context, seriesID int64, volumeID *int64, path string) error {
	return dal.CheckErr(f.getDB().WithContext(ctx).
		Model(&model.Series{}).
		Where("id = ?", seriesID).
		Updates(map[string]interface{}{
			"metadata_volume_id": volumeID,
			"metadata_path":      path,
		}).Error, false)
}

func (f *SeriesFacade) UpdateCompression(ctx context.Context, seriesID int64, tsuid string) error {
	return dal.CheckErr(f.getDB().WithContext(ctx).
		Model(&model.Series{}).
		Where("id = ?", seriesID).
		Updates(map[string]interface{}{
			"compress_tsuid": tsuid,
			"compress_time":  time.Now(),
		}).Error, false)
}

// RecomputeStudySize re-aggregates series_size and study_size from the
// instance rows after per-instance file sizes changed out of band, e.g. a
// compression pass rewriting files in place.
func (f *SeriesFacade) RecomputeStudySize(ctx context.Context, studyFK int64) error {
	return f.getDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var seriesList []*model.Series
		if err := tx.Where("study_fk = ?", studyFK).Find(&seriesList).Error; err != nil {
			return dal.CheckErr(err, false)
		}
		for _, s := range seriesList {
			var size int64
			err := tx.Model(&model.Instance{}).
				Select("COALESCE(SUM(file_size), 0)").
				Where("series_fk = ? AND created_date = ?", s.ID, TruncateToDate(s.CreatedAt)).
				Scan(&size).Error
			if err != nil {
				return dal.CheckErr(err, false)
			}
			err = tx.Model(&model.Series{}).
				Where("id = ?", s.ID).
				Update("series_size", size).Error
			if err != nil {
				return dal.CheckErr(err, false)
			}
		}

		var total int64
		err := tx.Model(&model.Series{}).
			Select("COALESCE(SUM(series_size), 0)").
			Where("study_fk = ?", studyFK).
			Scan(&total).Error
		if err != nil {
			return dal.CheckErr(err, false)
		}
		return dal.CheckErr(tx.Model(&model.Study{}).
			Where("id = ?", studyFK).
			Update("study_size", total).Error, false)
	})
}

// TruncateToDate drops the time-of-day component, producing the canonical
// partition-key value for a series.
func TruncateToDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
