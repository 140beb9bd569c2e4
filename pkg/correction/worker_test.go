// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package correction

import (
	"context"
	"testing"

	"github.com/phtran-dev/spax/pkg/cache"
	"github.com/phtran-dev/spax/pkg/config"
	"github.com/phtran-dev/spax/pkg/database"
	"github.com/phtran-dev/spax/pkg/database/model"
	"github.com/phtran-dev/spax/pkg/dicom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type correctionFixture struct {
	helper  *database.TestHelper
	caches  *cache.Caches
	patient *model.Patient
	study   *model.Study
}

// newCorrectionFixture indexes one instance for an active tenant so a patient
// and study row exist to correct.
func newCorrectionFixture(t *testing.T) *correctionFixture {
	t.Helper()
	helper := database.NewTestHelper(t, "acme")
	t.Cleanup(helper.Cleanup)

	ctx := context.Background()
	require.NoError(t, database.NewTenantFacade().CreateTenant(ctx, &model.Tenant{Code: "acme", Active: true}))

	_, err := database.NewIndexFacade().WithTenant("acme").UpsertBatch(ctx, []database.IndexItem{{
		Meta: &dicom.Metadata{
			PatientID:         "P1",
			PatientName:       "DOE^JOHN",
			StudyUID:          "1.2.1",
			SeriesUID:         "1.2.1.1",
			SOPInstanceUID:    "1.2.1.1.1",
			TransferSyntaxUID: "1.2.840.10008.1.2.1",
		},
		VolumeID:    1,
		StoragePath: "acme/obj/1.dcm",
		FileSize:    10,
	}})
	require.NoError(t, err)

	patient := &model.Patient{}
	require.NoError(t, helper.DB.First(patient, "patient_id = ?", "P1").Error)
	study := &model.Study{}
	require.NoError(t, helper.DB.First(study, "study_uid = ?", "1.2.1").Error)

	return &correctionFixture{
		helper:  helper,
		caches:  cache.NewCaches(cache.NewLocalBackend()),
		patient: patient,
		study:   study,
	}
}

// TestWorker_PatientIDCorrection tests that a queued patient-id task rewrites
// the owned studies' public ids and finishes COMPLETED
func TestWorker_PatientIDCorrection(t *testing.T) {
	fx := newCorrectionFixture(t)
	ctx := context.Background()

	_, err := database.NewCorrectionFacade().WithTenant("acme").CorrectPatient(ctx, database.PatientCorrection{
		PatientID: fx.patient.ID,
		Version:   fx.patient.Version,
		Kind:      database.CorrectionKindPatientID,
		NewValue:  "P1-FIXED",
		Actor:     "tester",
	})
	require.NoError(t, err)

	worker := NewWorker(fx.caches, config.CorrectionConfig{})
	require.NoError(t, worker.RunOnce(ctx))

	study := &model.Study{}
	require.NoError(t, fx.helper.DB.First(study, "id = ?", fx.study.ID).Error)
	assert.Equal(t, database.StudyPublicID("P1-FIXED", "1.2.1"), study.PublicID)

	task := &model.FileCorrectionTask{}
	require.NoError(t, fx.helper.DB.First(task, "kind = ?", database.CorrectionKindPatientID).Error)
	assert.Equal(t, model.TaskStatusCompleted, task.Status)
	assert.NotNil(t, task.FinishedAt)
}

// TestWorker_NameCorrectionIsNoOp tests that a patient-name task completes
// without touching study rows
func TestWorker_NameCorrectionIsNoOp(t *testing.T) {
	fx := newCorrectionFixture(t)
	ctx := context.Background()

	_, err := database.NewCorrectionFacade().WithTenant("acme").CorrectPatient(ctx, database.PatientCorrection{
		PatientID: fx.patient.ID,
		Version:   fx.patient.Version,
		Kind:      database.CorrectionKindPatientName,
		NewValue:  "ROE^JANE",
		Actor:     "tester",
	})
	require.NoError(t, err)

	worker := NewWorker(fx.caches, config.CorrectionConfig{})
	require.NoError(t, worker.RunOnce(ctx))

	study := &model.Study{}
	require.NoError(t, fx.helper.DB.First(study, "id = ?", fx.study.ID).Error)
	assert.Equal(t, fx.study.PublicID, study.PublicID)

	task := &model.FileCorrectionTask{}
	require.NoError(t, fx.helper.DB.First(task, "kind = ?", database.CorrectionKindPatientName).Error)
	assert.Equal(t, model.TaskStatusCompleted, task.Status)
}

// TestWorker_MissingPatientFails tests that a task pointing at a deleted
// patient lands in FAILED with its error recorded
func TestWorker_MissingPatientFails(t *testing.T) {
	fx := newCorrectionFixture(t)
	ctx := context.Background()

	require.NoError(t, database.NewCorrectionFacade().WithTenant("acme").CreateTask(ctx, &model.FileCorrectionTask{
		Kind:      database.CorrectionKindPatientID,
		PatientFK: fx.patient.ID + 1000,
		NewValue:  "GHOST",
		Status:    model.TaskStatusPending,
	}))

	worker := NewWorker(fx.caches, config.CorrectionConfig{})
	require.NoError(t, worker.RunOnce(ctx))

	task := &model.FileCorrectionTask{}
	require.NoError(t, fx.helper.DB.First(task, "new_value = ?", "GHOST").Error)
	assert.Equal(t, model.TaskStatusFailed, task.Status)
	assert.NotEmpty(t, task.ErrorMessage)
}

// TestWorker_SkipsInactiveTenants tests that pending tasks of a deactivated
// tenant are left untouched
func TestWorker_SkipsInactiveTenants(t *testing.T) {
	fx := newCorrectionFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.helper.DB.Model(&model.Tenant{}).
		Where("code = ?", "acme").Update("active", false).Error)

	require.NoError(t, database.NewCorrectionFacade().WithTenant("acme").CreateTask(ctx, &model.FileCorrectionTask{
		Kind:      database.CorrectionKindPatientID,
		PatientFK: fx.patient.ID,
		NewValue:  "P1-FIXED",
		Status:    model.TaskStatusPending,
	}))

	worker := NewWorker(fx.caches, config.CorrectionConfig{})
	require.NoError(t, worker.RunOnce(ctx))

	task := &model.FileCorrectionTask{}
	require.NoError(t, fx.helper.DB.First(task, "new_value = ?", "P1-FIXED").Error)
	assert.Equal(t, model.TaskStatusPending, task.Status)
}
