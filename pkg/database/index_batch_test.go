package database

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/phtran-dev/spax/pkg/database/model"
	"github.com/phtran-dev/spax/pkg/dicom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testItem(patientID, studyUID, seriesUID, sopUID string) IndexItem {
	return IndexItem{
		Meta: &dicom.Metadata{
			PatientID:      patientID,
			PatientName:    "DOE^JOHN",
			StudyUID:       studyUID,
			SeriesUID:      seriesUID,
			SOPInstanceUID: sopUID,
			SOPClassUID:    "1.2.840.10008.5.1.4.1.1.4",
			Modality:       "MR",
			NumberOfFrames: 1,
		},
		VolumeID:    1,
		StoragePath: "acme/2026/01/01/" + sopUID,
		FileSize:    1000,
	}
}

// TestIndexFacade_UpsertBatch_NewStudy tests that one batch builds the full
// patient/study/series/instance hierarchy with correct counters
func TestIndexFacade_UpsertBatch_NewStudy(t *testing.T) {
	helper := NewTestHelper(t, "acme")
	defer helper.Cleanup()

	facade := NewIndexFacade().WithTenant("acme")
	ctx := helper.CreateTestContext()

	items := []IndexItem{
		testItem("P1", "1.2.1", "1.2.1.1", "1.2.1.1.1"),
		testItem("P1", "1.2.1", "1.2.1.1", "1.2.1.1.2"),
		testItem("P1", "1.2.1", "1.2.1.2", "1.2.1.2.1"),
	}
	result, err := facade.UpsertBatch(ctx, items)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Inserted)
	assert.Equal(t, 0, result.Deduplicated)
	assert.Len(t, result.Series, 2)

	assert.Equal(t, int64(1), helper.Count(model.TableNamePatient))
	assert.Equal(t, int64(1), helper.Count(model.TableNameStudy))
	assert.Equal(t, int64(2), helper.Count(model.TableNameSeries))
	assert.Equal(t, int64(3), helper.Count(model.TableNameInstance))

	var study model.Study
	require.NoError(t, helper.DB.First(&study, "study_uid = ?", "1.2.1").Error)
	assert.Equal(t, 2, study.NumSeries)
	assert.Equal(t, 3, study.NumInstances)
	assert.Equal(t, int64(3000), study.StudySize)

	var patient model.Patient
	require.NoError(t, helper.DB.First(&patient, "patient_id = ?", "P1").Error)
	assert.Equal(t, 1, patient.NumStudies)
	assert.Equal(t, PublicID("P1"), patient.PublicID)
}

// TestIndexFacade_UpsertBatch_ResendDedup tests that resending the same batch
// dedups every instance and leaves counters unchanged
func TestIndexFacade_UpsertBatch_ResendDedup(t *testing.T) {
	helper := NewTestHelper(t, "acme")
	defer helper.Cleanup()

	facade := NewIndexFacade().WithTenant("acme")
	ctx := helper.CreateTestContext()

	items := []IndexItem{
		testItem("P1", "1.2.1", "1.2.1.1", "1.2.1.1.1"),
		testItem("P1", "1.2.1", "1.2.1.1", "1.2.1.1.2"),
	}
	_, err := facade.UpsertBatch(ctx, items)
	require.NoError(t, err)

	result, err := facade.UpsertBatch(ctx, items)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Inserted)
	assert.Equal(t, 2, result.Deduplicated)

	assert.Equal(t, int64(2), helper.Count(model.TableNameInstance))

	var series model.Series
	require.NoError(t, helper.DB.First(&series, "series_uid = ?", "1.2.1.1").Error)
	assert.Equal(t, 2, series.NumInstances)
}

// TestIndexFacade_InstanceIDAllocation tests that instance ids come from a
// reserved block, stay unique across batches with dedup gaps, and that the
// allocator hands out exactly the requested count
func TestIndexFacade_InstanceIDAllocation(t *testing.T) {
	helper := NewTestHelper(t, "acme")
	defer helper.Cleanup()

	facade := NewIndexFacade().WithTenant("acme")
	ctx := helper.CreateTestContext()

	_, err := facade.UpsertBatch(ctx, []IndexItem{
		testItem("P1", "1.2.1", "1.2.1.1", "1.2.1.1.1"),
		testItem("P1", "1.2.1", "1.2.1.1", "1.2.1.1.2"),
	})
	require.NoError(t, err)

	// second batch resends one instance; the dedup must not recycle its id
	result, err := facade.UpsertBatch(ctx, []IndexItem{
		testItem("P1", "1.2.1", "1.2.1.1", "1.2.1.1.2"),
		testItem("P1", "1.2.1", "1.2.1.1", "1.2.1.1.3"),
		testItem("P2", "1.2.2", "1.2.2.1", "1.2.2.1.1"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, 1, result.Deduplicated)

	var ids []int64
	require.NoError(t, helper.DB.Model(&model.Instance{}).Order("id").Pluck("id", &ids).Error)
	require.Len(t, ids, 4)
	seen := map[int64]bool{}
	for _, id := range ids {
		assert.False(t, seen[id], "instance id %d allocated twice", id)
		seen[id] = true
	}

	block, err := allocateInstanceIDs(helper.DB, 3)
	require.NoError(t, err)
	require.Len(t, block, 3)
	for i, id := range block {
		assert.Greater(t, id, ids[len(ids)-1])
		if i > 0 {
			assert.Greater(t, id, block[i-1])
		}
	}
}

// TestIndexFacade_UpsertBatch_StudyUIDCollision tests that the same study UID
// under two different patients yields two study rows
func TestIndexFacade_UpsertBatch_StudyUIDCollision(t *testing.T) {
	helper := NewTestHelper(t, "acme")
	defer helper.Cleanup()

	facade := NewIndexFacade().WithTenant("acme")
	ctx := helper.CreateTestContext()

	items := []IndexItem{
		testItem("P1", "1.2.1", "1.2.1.1", "1.2.1.1.1"),
		testItem("P2", "1.2.1", "1.2.1.2", "1.2.1.2.1"),
	}
	result, err := facade.UpsertBatch(ctx, items)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Inserted)

	var studies []model.Study
	require.NoError(t, helper.DB.Where("study_uid = ?", "1.2.1").Find(&studies).Error)
	require.Len(t, studies, 2)
	assert.NotEqual(t, studies[0].PublicID, studies[1].PublicID)
	assert.NotEqual(t, studies[0].PatientFK, studies[1].PatientFK)
}

// TestIndexFacade_UpsertBatch_ProvisionalPatient tests that a synthesised
// patient identity still derives a stable public id
func TestIndexFacade_UpsertBatch_ProvisionalPatient(t *testing.T) {
	helper := NewTestHelper(t, "acme")
	defer helper.Cleanup()

	facade := NewIndexFacade().WithTenant("acme")
	ctx := helper.CreateTestContext()

	item := testItem("NOPID_1.2.840.99999.1", "1.2.840.99999.1.123", "1.2.1.1", "1.2.1.1.1")
	item.Meta.ProvisionalPatient = true
	_, err := facade.UpsertBatch(ctx, []IndexItem{item})
	require.NoError(t, err)

	var patient model.Patient
	require.NoError(t, helper.DB.First(&patient, "patient_id = ?", "NOPID_1.2.840.99999.1").Error)
	assert.True(t, patient.IsProvisional)

	sum := sha1.Sum([]byte("NOPID_1.2.840.99999.1"))
	assert.Equal(t, hex.EncodeToString(sum[:]), patient.PublicID)
}

// TestIndexFacade_UpsertBatch_CreatedDateFollowsSeries tests that a later
// batch against an existing series files its instances under the series'
// original creation date, not the current date
func TestIndexFacade_UpsertBatch_CreatedDateFollowsSeries(t *testing.T) {
	helper := NewTestHelper(t, "acme")
	defer helper.Cleanup()

	facade := NewIndexFacade().WithTenant("acme")
	ctx := helper.CreateTestContext()

	_, err := facade.UpsertBatch(ctx, []IndexItem{
		testItem("P1", "1.2.1", "1.2.1.1", "1.2.1.1.1"),
	})
	require.NoError(t, err)

	// age the series row by two days
	require.NoError(t, helper.DB.Exec(
		"UPDATE series SET created_at = datetime(created_at, '-2 days')").Error)

	var series model.Series
	require.NoError(t, helper.DB.First(&series, "series_uid = ?", "1.2.1.1").Error)
	wantDate := TruncateToDate(series.CreatedAt)

	result, err := facade.UpsertBatch(ctx, []IndexItem{
		testItem("P1", "1.2.1", "1.2.1.1", "1.2.1.1.2"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)
	require.Len(t, result.Series, 1)
	assert.Equal(t, wantDate, result.Series[0].CreatedDate)

	var instance model.Instance
	require.NoError(t, helper.DB.First(&instance, "sop_instance_uid = ?", "1.2.1.1.2").Error)
	assert.Equal(t, wantDate.Format("2006-01-02"), instance.CreatedDate.Format("2006-01-02"))
}

// TestIndexFacade_UpsertBatch_MergeKeepsKnownValues tests that a resend with
// empty demographics does not erase previously indexed values
func TestIndexFacade_UpsertBatch_MergeKeepsKnownValues(t *testing.T) {
	helper := NewTestHelper(t, "acme")
	defer helper.Cleanup()

	facade := NewIndexFacade().WithTenant("acme")
	ctx := helper.CreateTestContext()

	first := testItem("P1", "1.2.1", "1.2.1.1", "1.2.1.1.1")
	first.Meta.PatientBirthDate = "19800101"
	_, err := facade.UpsertBatch(ctx, []IndexItem{first})
	require.NoError(t, err)

	second := testItem("P1", "1.2.1", "1.2.1.1", "1.2.1.1.2")
	second.Meta.PatientName = ""
	second.Meta.PatientBirthDate = ""
	_, err = facade.UpsertBatch(ctx, []IndexItem{second})
	require.NoError(t, err)

	var patient model.Patient
	require.NoError(t, helper.DB.First(&patient, "patient_id = ?", "P1").Error)
	assert.Equal(t, "DOE^JOHN", patient.Name)
	assert.Equal(t, "19800101", patient.BirthDate)
}

// TestIndexFacade_UpsertBatch_LargeBatchCounters tests counter integrity over
// a batch spanning several studies
func TestIndexFacade_UpsertBatch_LargeBatchCounters(t *testing.T) {
	helper := NewTestHelper(t, "acme")
	defer helper.Cleanup()

	facade := NewIndexFacade().WithTenant("acme")
	ctx := helper.CreateTestContext()

	var items []IndexItem
	for s := 0; s < 3; s++ {
		for i := 0; i < 5; i++ {
			items = append(items, testItem(
				"P1",
				fmt.Sprintf("1.2.%d", s),
				fmt.Sprintf("1.2.%d.1", s),
				fmt.Sprintf("1.2.%d.1.%d", s, i)))
		}
	}
	result, err := facade.UpsertBatch(ctx, items)
	require.NoError(t, err)
	assert.Equal(t, 15, result.Inserted)

	var patient model.Patient
	require.NoError(t, helper.DB.First(&patient, "patient_id = ?", "P1").Error)
	assert.Equal(t, 3, patient.NumStudies)

	var studies []model.Study
	require.NoError(t, helper.DB.Find(&studies).Error)
	for _, st := range studies {
		assert.Equal(t, 1, st.NumSeries)
		assert.Equal(t, 5, st.NumInstances)
		assert.Equal(t, int64(5000), st.StudySize)
	}
}

func TestPublicID(t *testing.T) {
	assert.Len(t, PublicID("P1"), 40)
	assert.Equal(t, PublicID("P1"), PublicID("P1"))
	assert.NotEqual(t, PublicID("P1"), PublicID("P2"))
	assert.NotEqual(t, StudyPublicID("P1", "1.2.1"), StudyPublicID("P2", "1.2.1"))
}
