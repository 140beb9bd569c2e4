// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package database

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/phtran-dev/spax/pkg/database/model"
	"github.com/phtran-dev/spax/pkg/errors"
	dal "github.com/phtran-dev/spax/pkg/sql/util"
	"gorm.io/gorm"
)

const (
	CorrectionKindPatientID   = "PATIENT_ID"
	CorrectionKindPatientName = "PATIENT_NAME"
	CorrectionKindStudyDesc   = "STUDY_DESCRIPTION"
)

// CorrectionFacadeInterface applies administrative edits to indexed metadata.
// Every update is guarded by an optimistic version check; a stale version
// yields a Conflict error and no change.
type CorrectionFacadeInterface interface {
	CorrectPatient(ctx context.Context, req PatientCorrection) (*model.Patient, error)
	CorrectStudyDescription(ctx context.Context, studyID, version int64, description, actor string) (*model.Study, error)
	CreateTask(ctx context.Context, task *model.FileCorrectionTask) error
	ClaimPendingTasks(ctx context.Context, limit int) ([]*model.FileCorrectionTask, error)
	UpdateTaskStatus(ctx context.Context, id int64, status, errorMessage string) error
	ListTasks(ctx context.Context, status string, limit int) ([]*model.FileCorrectionTask, error)
	RecomputeStudyPublicIDs(ctx context.Context, patientFK int64) ([]string, error)
	WithTenant(tenantCode string) CorrectionFacadeInterface
}

// PatientCorrection is a demographics edit against one patient row.
type PatientCorrection struct {
	PatientID int64
	Version   int64
	Kind      string
	NewValue  string
	Actor     string
}

// CorrectionFacade implements CorrectionFacadeInterface
type CorrectionFacade struct {
	BaseFacade
}

func NewCorrectionFacade() CorrectionFacadeInterface {
	return &CorrectionFacade{}
}

func (f *CorrectionFacade) WithTenant(tenantCode string) CorrectionFacadeInterface {
	return &CorrectionFacade{
		BaseFacade: f.withTenant(tenantCode),
	}
}

// CorrectPatient updates one demographic field. Changing the patient ID also
// recomputes public_id and clears the provisional flag, since the identity is
// now authoritative. A file correction task is queued so stored files get the
// new value stamped in.
func (f *CorrectionFacade) CorrectPatient(ctx context.Context, req PatientCorrection) (*model.Patient, error) {
	var updated *model.Patient
	err := f.getDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fields := map[string]interface{}{
			"version":    req.Version + 1,
			"updated_at": time.Now(),
		}
		switch req.Kind {
		case CorrectionKindPatientID:
			fields["patient_id"] = req.NewValue
			fields["public_id"] = PublicID(req.NewValue)
			fields["is_provisional"] = false
		case CorrectionKindPatientName:
			fields["name"] = req.NewValue
		default:
			return errors.NewError().
				WithCode(errors.RequestParameterInvalid).
				WithMessagef("unknown correction kind %s", req.Kind)
		}

		res := tx.Model(&model.Patient{}).
			Where("id = ? AND version = ?", req.PatientID, req.Version).
			Updates(fields)
		if res.Error != nil {
			return dal.CheckErr(res.Error, false)
		}
		if res.RowsAffected == 0 {
			return errors.NewError().
				WithCode(errors.Conflict).
				WithMessagef("patient %d was modified concurrently", req.PatientID)
		}

		task := &model.FileCorrectionTask{
			Kind:        req.Kind,
			PatientFK:   req.PatientID,
			NewValue:    req.NewValue,
			TriggeredBy: req.Actor,
			Status:      model.TaskStatusPending,
		}
		if err := tx.Create(task).Error; err != nil {
			return dal.CheckErr(err, false)
		}

		updated = &model.Patient{}
		return dal.CheckErr(tx.First(updated, "id = ?", req.PatientID).Error, false)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (f *CorrectionFacade) CorrectStudyDescription(ctx context.Context, studyID, version int64, description, actor string) (*model.Study, error) {
	var updated *model.Study
	err := f.getDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Study{}).
			Where("id = ? AND version = ?", studyID, version).
			Updates(map[string]interface{}{
				"description": description,
				"version":     version + 1,
				"updated_at":  time.Now(),
			})
		if res.Error != nil {
			return dal.CheckErr(res.Error, false)
		}
		if res.RowsAffected == 0 {
			return errors.NewError().
				WithCode(errors.Conflict).
				WithMessagef("study %d was modified concurrently", studyID)
		}

		task := &model.FileCorrectionTask{
			Kind:        CorrectionKindStudyDesc,
			StudyFK:     studyID,
			NewValue:    description,
			TriggeredBy: actor,
			Status:      model.TaskStatusPending,
		}
		if err := tx.Create(task).Error; err != nil {
			return dal.CheckErr(err, false)
		}

		updated = &model.Study{}
		return dal.CheckErr(tx.First(updated, "id = ?", studyID).Error, false)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (f *CorrectionFacade) CreateTask(ctx context.Context, task *model.FileCorrectionTask) error {
	return dal.CheckErr(f.getDB().WithContext(ctx).Create(task).Error, false)
}

func (f *CorrectionFacade) ClaimPendingTasks(ctx context.Context, limit int) ([]*model.FileCorrectionTask, error) {
	var tasks []*model.FileCorrectionTask
	err := f.getDB().WithContext(ctx).
		Where("status = ?", model.TaskStatusPending).
		Order("id").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, dal.CheckErr(err, false)
	}
	for _, t := range tasks {
		err := f.getDB().WithContext(ctx).
			Model(&model.FileCorrectionTask{}).
			Where("id = ? AND status = ?", t.ID, model.TaskStatusPending).
			Update("status", model.TaskStatusInProgress).Error
		if err != nil {
			return nil, dal.CheckErr(err, false)
		}
		t.Status = model.TaskStatusInProgress
	}
	return tasks, nil
}

func (f *CorrectionFacade) ListTasks(ctx context.Context, status string, limit int) ([]*model.FileCorrectionTask, error) {
	query := f.getDB().WithContext(ctx).Order("id DESC").Limit(limit)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var tasks []*model.FileCorrectionTask
	err := query.Find(&tasks).Error
	return tasks, dal.CheckErr(err, false)
}

// RecomputeStudyPublicIDs rewrites public_id on every study owned by the
// patient after its raw id changed. Series and instance rows reference the
// study by numeric FK, so the rewrite stops here. Returns the affected study
// UIDs for cache eviction.
func (f *CorrectionFacade) RecomputeStudyPublicIDs(ctx context.Context, patientFK int64) ([]string, error) {
	var studyUIDs []string
	err := f.getDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		patient := &model.Patient{}
		if err := tx.First(patient, "id = ?", patientFK).Error; err != nil {
			if stderrors.Is(err, gorm.ErrRecordNotFound) {
				return errors.NewError().
					WithCode(errors.NotFound).
					WithMessagef("patient %d not found", patientFK)
			}
			return dal.CheckErr(err, false)
		}

		var studies []*model.Study
		if err := tx.Where("patient_fk = ?", patientFK).Find(&studies).Error; err != nil {
			return dal.CheckErr(err, false)
		}
		for _, study := range studies {
			err := tx.Model(&model.Study{}).
				Where("id = ?", study.ID).
				Updates(map[string]interface{}{
					"public_id":  StudyPublicID(patient.PatientID, study.StudyUID),
					"updated_at": time.Now(),
				}).Error
			if err != nil {
				return dal.CheckErr(err, false)
			}
			studyUIDs = append(studyUIDs, study.StudyUID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return studyUIDs, nil
}

func (f *CorrectionFacade) UpdateTaskStatus(ctx context.Context, id int64, status, errorMessage string) error {
	fields := map[string]interface{}{
		"status":        status,
		"error_message": errorMessage,
		"updated_at":    time.Now(),
	}
	if status == model.TaskStatusCompleted || status == model.TaskStatusFailed {
		fields["finished_at"] = time.Now()
	}
	return dal.CheckErr(f.getDB().WithContext(ctx).
		Model(&model.FileCorrectionTask{}).
		Where("id = ?", id).
		Updates(fields).Error, false)
}
