// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package database

import (
	"context"
	"time"

	"github.com/phtran-dev/spax/pkg/database/filter"
	"github.com/phtran-dev/spax/pkg/database/model"
	dal "github.com/phtran-dev/spax/pkg/sql/util"
	"gorm.io/gorm"
)

// StudyWithPatient is the QIDO study-level projection: one study row joined
// with its owning patient's demographics.
type StudyWithPatient struct {
	model.Study
	PatientID        string `gorm:"column:q_patient_id"`
	PatientName      string `gorm:"column:q_patient_name"`
	PatientBirthDate string `gorm:"column:q_patient_birth_date"`
	PatientSex       string `gorm:"column:q_patient_sex"`
}

// StudyFacadeInterface defines the tenant-scope study query interface.
type StudyFacadeInterface interface {
	SearchStudies(ctx context.Context, f filter.StudyFilter) ([]*StudyWithPatient, error)
	ListStudiesByUID(ctx context.Context, studyUID string) ([]*model.Study, error)
	ListStudiesOlderThan(ctx context.Context, conditionKind string, olderThan time.Time, limit int) ([]*model.Study, error)
	TouchLastAccessed(ctx context.Context, studyIDs []int64) error
	WithTenant(tenantCode string) StudyFacadeInterface
}

// StudyFacade implements StudyFacadeInterface
type StudyFacade struct {
	BaseFacade
}

func NewStudyFacade() StudyFacadeInterface {
	return &StudyFacade{}
}

func (f *StudyFacade) WithTenant(tenantCode string) StudyFacadeInterface {
	return &StudyFacade{
		BaseFacade: f.withTenant(tenantCode),
	}
}

// SearchStudies builds the predicate list from the filter, translating DICOM
// wildcards and binding every value positionally.
func (f *StudyFacade) SearchStudies(ctx context.Context, sf filter.StudyFilter) ([]*StudyWithPatient, error) {
	query := f.getDB().WithContext(ctx).
		Table(model.TableNameStudy).
		Select("study.*, patient.patient_id AS q_patient_id, patient.name AS q_patient_name, " +
			"patient.birth_date AS q_patient_birth_date, patient.sex AS q_patient_sex").
		Joins("JOIN patient ON patient.id = study.patient_fk")

	query = applyTextPredicate(query, "patient.name", sf.PatientName)
	query = applyTextPredicate(query, "patient.patient_id", sf.PatientID)
	query = applyTextPredicate(query, "study.description", sf.Description)
	if sf.AccessionNumber != "" {
		query = query.Where("study.accession_number = ?", sf.AccessionNumber)
	}
	if sf.StudyUID != "" {
		query = query.Where("study.study_uid = ?", sf.StudyUID)
	}
	if from, to := sf.DateRange(); from != "" {
		query = query.Where("study.study_date >= ? AND study.study_date <= ?", from, to)
	}

	var rows []*StudyWithPatient
	err := query.
		Order("study.study_date DESC, study.id DESC").
		Limit(sf.EffectiveLimit()).
		Offset(sf.Offset).
		Scan(&rows).Error
	return rows, dal.CheckErr(err, false)
}

func applyTextPredicate(query *gorm.DB, column, value string) *gorm.DB {
	if value == "" {
		return query
	}
	if filter.HasWildcards(value) {
		return query.Where(column+" LIKE ?", filter.TranslateWildcards(value))
	}
	return query.Where(column+" = ?", value)
}

// ListStudiesByUID returns every study row carrying the UID. Study UIDs are
// not unique across patients, so callers must tolerate multiple rows.
func (f *StudyFacade) ListStudiesByUID(ctx context.Context, studyUID string) ([]*model.Study, error) {
	var studies []*model.Study
	err := f.getDB().WithContext(ctx).
		Where("study_uid = ?", studyUID).
		Find(&studies).Error
	return studies, dal.CheckErr(err, false)
}

// ListStudiesOlderThan finds studies whose age column passed the cutoff;
// feeds the compression evaluation pass.
func (f *StudyFacade) ListStudiesOlderThan(ctx context.Context, conditionKind string, olderThan time.Time, limit int) ([]*model.Study, error) {
	ageColumn := "created_at"
	if conditionKind == model.ConditionLastAccessDays {
		ageColumn = "last_accessed_at"
	}
	var studies []*model.Study
	err := f.getDB().WithContext(ctx).
		Where(ageColumn+" <= ?", olderThan).
		Order("id").
		Limit(limit).
		Find(&studies).Error
	return studies, dal.CheckErr(err, false)
}

// TouchLastAccessed stamps the studies returned by a QIDO query; feeds the
// LAST_ACCESS_DAYS lifecycle condition.
func (f *StudyFacade) TouchLastAccessed(ctx context.Context, studyIDs []int64) error {
	if len(studyIDs) == 0 {
		return nil
	}
	return dal.CheckErr(f.getDB().WithContext(ctx).
		Model(&model.Study{}).
		Where("id IN ?", studyIDs).
		Update("last_accessed_at", time.Now()).Error, false)
}
