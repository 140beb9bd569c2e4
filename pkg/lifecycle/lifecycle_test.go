package lifecycle

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/phtran-dev/spax/pkg/cache"
	"github.com/phtran-dev/spax/pkg/config"
	"github.com/phtran-dev/spax/pkg/database"
	"github.com/phtran-dev/spax/pkg/database/model"
	"github.com/phtran-dev/spax/pkg/dicom"
	"github.com/phtran-dev/spax/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lifecycleFixture struct {
	helper  *database.TestHelper
	manager *storage.Manager
	hotDir  string
	warmDir string
}

// newLifecycleFixture wires an active tenant, a two-tier volume registry and
// one indexed instance stored on the hot volume, with its study aged past any
// small condition window.
func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()
	helper := database.NewTestHelper(t, "acme")
	t.Cleanup(helper.Cleanup)

	hotDir := t.TempDir()
	warmDir := t.TempDir()
	loader := func(ctx context.Context) ([]*storage.Volume, error) {
		return []*storage.Volume{
			{ID: 1, Code: "hot-a", Kind: storage.KindLocal, Tier: storage.TierHot,
				Status: storage.StatusActive, Priority: 10, BasePath: hotDir},
			{ID: 2, Code: "warm-a", Kind: storage.KindLocal, Tier: storage.TierWarm,
				Status: storage.StatusActive, Priority: 10, BasePath: warmDir},
		}, nil
	}
	manager := storage.NewManager(loader, storage.NewPathResolver())
	require.NoError(t, manager.Reload(context.Background()))

	ctx := context.Background()
	require.NoError(t, database.NewTenantFacade().CreateTenant(ctx, &model.Tenant{Code: "acme", Active: true}))

	payload := []byte("dicom payload bytes")
	storagePath := "acme/obj/1.dcm"
	require.NoError(t, os.MkdirAll(filepath.Join(hotDir, "acme/obj"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(hotDir, storagePath), payload, 0o644))

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
		StoragePath: storagePath,
		FileSize:    int64(len(payload)),
	}})
	require.NoError(t, err)

	// age the study so a small condition window matches it
	require.NoError(t, helper.DB.Exec("UPDATE study SET created_at = datetime(created_at, '-30 days')").Error)

	return &lifecycleFixture{helper: helper, manager: manager, hotDir: hotDir, warmDir: warmDir}
}

type recordingRebuilder struct {
	calls []database.AffectedSeries
}

func (r *recordingRebuilder) ScheduleRebuild(tenantCode string, series database.AffectedSeries) {
	r.calls = append(r.calls, series)
}

// TestEvaluator_MigrateRule tests that a pass materialises one task per
// matching instance and that a re-run creates nothing new
func TestEvaluator_MigrateRule(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()

	require.NoError(t, database.NewLifecycleFacade().CreateRule(ctx, &model.LifecycleRule{
		Enabled:       true,
		Action:        model.ActionMigrate,
		SourceTier:    storage.TierHot,
		TargetTier:    storage.TierWarm,
		ConditionKind: model.ConditionStudyAgeDays,
		ConditionDays: 7,
		DeleteSource:  true,
	}))

	evaluator := NewEvaluator(fx.manager, cache.NewCaches(cache.NewLocalBackend()), config.LifecycleConfig{})
	require.NoError(t, evaluator.RunOnce(ctx))

	var tasks []*model.MigrationTask
	require.NoError(t, fx.helper.DB.Find(&tasks).Error)
	require.Len(t, tasks, 1)
	assert.Equal(t, model.TaskStatusPending, tasks[0].Status)
	assert.Equal(t, "acme", tasks[0].TenantCode)
	assert.Equal(t, int64(1), tasks[0].SourceVolumeID)
	assert.Equal(t, int64(2), tasks[0].TargetVolumeID)
	assert.True(t, tasks[0].DeleteSource)

	require.NoError(t, evaluator.RunOnce(ctx))
	assert.Equal(t, int64(1), fx.helper.Count(model.TableNameMigrationTask))
}

// TestEvaluator_MigrateRule_ConditionNotMet tests that a young study produces
// no tasks
func TestEvaluator_MigrateRule_ConditionNotMet(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()

	require.NoError(t, database.NewLifecycleFacade().CreateRule(ctx, &model.LifecycleRule{
		Enabled:       true,
		Action:        model.ActionMigrate,
		SourceTier:    storage.TierHot,
		TargetTier:    storage.TierWarm,
		ConditionKind: model.ConditionStudyAgeDays,
		ConditionDays: 90,
	}))

	require.NoError(t, NewEvaluator(fx.manager, cache.NewCaches(cache.NewLocalBackend()), config.LifecycleConfig{}).RunOnce(ctx))
	assert.Equal(t, int64(0), fx.helper.Count(model.TableNameMigrationTask))
}

// TestMigrationWorker_MovesFile tests the full move: copy, verify, repoint,
// source delete, metadata rebuild trigger, COMPLETED status
func TestMigrationWorker_MovesFile(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()

	require.NoError(t, database.NewLifecycleFacade().CreateRule(ctx, &model.LifecycleRule{
		Enabled:       true,
		Action:        model.ActionMigrate,
		SourceTier:    storage.TierHot,
		TargetTier:    storage.TierWarm,
		ConditionKind: model.ConditionStudyAgeDays,
		ConditionDays: 7,
		DeleteSource:  true,
	}))
	require.NoError(t, NewEvaluator(fx.manager, cache.NewCaches(cache.NewLocalBackend()), config.LifecycleConfig{}).RunOnce(ctx))

	rebuilder := &recordingRebuilder{}
	worker := NewMigrationWorker(fx.manager, rebuilder, cache.NewCaches(cache.NewLocalBackend()), config.LifecycleConfig{})
	require.NoError(t, worker.RunOnce(ctx))

	var task model.MigrationTask
	require.NoError(t, fx.helper.DB.First(&task).Error)
	assert.Equal(t, model.TaskStatusCompleted, task.Status)
	require.NotNil(t, task.FinishedAt)

	var instance model.Instance
	require.NoError(t, fx.helper.DB.First(&instance, "sop_instance_uid = ?", "1.2.1.1.1").Error)
	assert.Equal(t, int64(2), instance.VolumeID)

	data, err := os.ReadFile(filepath.Join(fx.warmDir, instance.StoragePath))
	require.NoError(t, err)
	assert.Equal(t, []byte("dicom payload bytes"), data)
	_, err = os.Stat(filepath.Join(fx.hotDir, instance.StoragePath))
	assert.True(t, os.IsNotExist(err))

	// last instance left the hot volume, so the series document is rebuilt
	require.Len(t, rebuilder.calls, 1)
	assert.Equal(t, "1.2.1.1", rebuilder.calls[0].SeriesUID)
	assert.Equal(t, int64(2), rebuilder.calls[0].VolumeID)
}

// TestMigrationWorker_EvictsRetrieveCache tests that a completed move drops
// the cached instance locations, so the next retrieve reloads the new volume
// instead of serving the deleted source path
func TestMigrationWorker_EvictsRetrieveCache(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()

	require.NoError(t, database.NewLifecycleFacade().CreateRule(ctx, &model.LifecycleRule{
		Enabled:       true,
		Action:        model.ActionMigrate,
		SourceTier:    storage.TierHot,
		TargetTier:    storage.TierWarm,
		ConditionKind: model.ConditionStudyAgeDays,
		ConditionDays: 7,
		DeleteSource:  true,
	}))
	caches := cache.NewCaches(cache.NewLocalBackend())
	require.NoError(t, NewEvaluator(fx.manager, caches, config.LifecycleConfig{}).RunOnce(ctx))

	// a retrieve before the move leaves the hot-volume location cached
	require.NoError(t, caches.InstanceLocations.Set(ctx, cache.TenantKey("acme", "1.2.1.1"), cache.SeriesLocations{
		SeriesUID: "1.2.1.1",
		StudyUID:  "1.2.1",
		Instances: []cache.InstanceLocation{{
			SOPInstanceUID: "1.2.1.1.1",
			VolumeID:       1,
			StoragePath:    "acme/obj/1.dcm",
		}},
	}))

	worker := NewMigrationWorker(fx.manager, &recordingRebuilder{}, caches, config.LifecycleConfig{})
	require.NoError(t, worker.RunOnce(ctx))

	var task model.MigrationTask
	require.NoError(t, fx.helper.DB.First(&task).Error)
	require.Equal(t, model.TaskStatusCompleted, task.Status)

	_, ok, err := caches.InstanceLocations.Get(ctx, cache.TenantKey("acme", "1.2.1.1"))
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestMigrationWorker_SizeMismatchFails tests that a copy whose byte count
// disagrees with the index marks the task FAILED and keeps the instance on
// the source volume
func TestMigrationWorker_SizeMismatchFails(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()

	require.NoError(t, database.NewLifecycleFacade().CreateRule(ctx, &model.LifecycleRule{
		Enabled:       true,
		Action:        model.ActionMigrate,
		SourceTier:    storage.TierHot,
		TargetTier:    storage.TierWarm,
		ConditionKind: model.ConditionStudyAgeDays,
		ConditionDays: 7,
	}))
	require.NoError(t, NewEvaluator(fx.manager, cache.NewCaches(cache.NewLocalBackend()), config.LifecycleConfig{}).RunOnce(ctx))

	// corrupt the indexed size so verification trips
	require.NoError(t, fx.helper.DB.Exec("UPDATE instance SET file_size = 999999").Error)

	worker := NewMigrationWorker(fx.manager, &recordingRebuilder{}, cache.NewCaches(cache.NewLocalBackend()), config.LifecycleConfig{})
	require.NoError(t, worker.RunOnce(ctx))

	var task model.MigrationTask
	require.NoError(t, fx.helper.DB.First(&task).Error)
	assert.Equal(t, model.TaskStatusFailed, task.Status)
	assert.Contains(t, task.ErrorMessage, "size mismatch")

	var instance model.Instance
	require.NoError(t, fx.helper.DB.First(&instance, "sop_instance_uid = ?", "1.2.1.1.1").Error)
	assert.Equal(t, int64(1), instance.VolumeID)
}

// TestEvaluator_CompressRule tests that compression tasks dedup on the open
// task per study and compression type
func TestEvaluator_CompressRule(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()

	require.NoError(t, database.NewLifecycleFacade().CreateRule(ctx, &model.LifecycleRule{
		Enabled:         true,
		Action:          model.ActionCompress,
		ConditionKind:   model.ConditionStudyAgeDays,
		ConditionDays:   7,
		CompressionType: "JPEG2000_LOSSLESS",
	}))

	evaluator := NewEvaluator(fx.manager, cache.NewCaches(cache.NewLocalBackend()), config.LifecycleConfig{})
	require.NoError(t, evaluator.RunOnce(ctx))

	var tasks []*model.CompressionTask
	require.NoError(t, fx.helper.DB.Find(&tasks).Error)
	require.Len(t, tasks, 1)
	assert.Equal(t, model.TaskStatusPending, tasks[0].Status)
	assert.Equal(t, "1.2.840.10008.1.2.4.90", tasks[0].TargetTsuid)

	require.NoError(t, evaluator.RunOnce(ctx))
	assert.Equal(t, int64(1), fx.helper.Count(model.TableNameCompressionTask))
}

type fakeTranscoder struct {
	calls   int
	payload []byte
}

func (f *fakeTranscoder) Transcode(ctx context.Context, src io.Reader, targetTsuid string) (io.ReadCloser, int64, error) {
	f.calls++
	return io.NopCloser(bytes.NewReader(f.payload)), int64(len(f.payload)), nil
}

// TestCompressionWorker tests the in-place rewrite: file content replaced,
// instance tsuid and size updated, series compression stamped, task finished
func TestCompressionWorker(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()

	require.NoError(t, database.NewLifecycleFacade().CreateRule(ctx, &model.LifecycleRule{
		Enabled:         true,
		Action:          model.ActionCompress,
		ConditionKind:   model.ConditionStudyAgeDays,
		ConditionDays:   7,
		CompressionType: "JPEG2000_LOSSLESS",
	}))
	require.NoError(t, NewEvaluator(fx.manager, cache.NewCaches(cache.NewLocalBackend()), config.LifecycleConfig{}).RunOnce(ctx))

	transcoder := &fakeTranscoder{payload: []byte("j2k")}
	worker := NewCompressionWorker(fx.manager, transcoder, config.LifecycleConfig{})
	require.NoError(t, worker.RunOnce(ctx))
	assert.Equal(t, 1, transcoder.calls)

	var task model.CompressionTask
	require.NoError(t, fx.helper.DB.First(&task).Error)
	assert.Equal(t, model.TaskStatusCompleted, task.Status)

	var instance model.Instance
	require.NoError(t, fx.helper.DB.First(&instance, "sop_instance_uid = ?", "1.2.1.1.1").Error)
	assert.Equal(t, "1.2.840.10008.1.2.4.90", instance.TransferSyntaxUID)
	assert.Equal(t, int64(3), instance.FileSize)

	data, err := os.ReadFile(filepath.Join(fx.hotDir, instance.StoragePath))
	require.NoError(t, err)
	assert.Equal(t, []byte("j2k"), data)

	var series model.Series
	require.NoError(t, fx.helper.DB.First(&series, "series_uid = ?", "1.2.1.1").Error)
	assert.Equal(t, "1.2.840.10008.1.2.4.90", series.CompressTsuid)
	require.NotNil(t, series.CompressTime)
	assert.Equal(t, int64(3), series.SeriesSize)

	var study model.Study
	require.NoError(t, fx.helper.DB.First(&study, "study_uid = ?", "1.2.1").Error)
	assert.Equal(t, int64(3), study.StudySize)
}

// TestCompressionWorker_SkipsConverted tests that an instance already at the
// target transfer syntax is not transcoded again
func TestCompressionWorker_SkipsConverted(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.helper.DB.Exec(
		"UPDATE instance SET transfer_syntax_uid = ?", "1.2.840.10008.1.2.4.90").Error)
	require.NoError(t, database.NewLifecycleFacade().CreateRule(ctx, &model.LifecycleRule{
		Enabled:         true,
		Action:          model.ActionCompress,
		ConditionKind:   model.ConditionStudyAgeDays,
		ConditionDays:   7,
		CompressionType: "JPEG2000_LOSSLESS",
	}))
	require.NoError(t, NewEvaluator(fx.manager, cache.NewCaches(cache.NewLocalBackend()), config.LifecycleConfig{}).RunOnce(ctx))

	transcoder := &fakeTranscoder{payload: []byte("j2k")}
	require.NoError(t, NewCompressionWorker(fx.manager, transcoder, config.LifecycleConfig{}).RunOnce(ctx))
	assert.Equal(t, 0, transcoder.calls)

	var task model.CompressionTask
	require.NoError(t, fx.helper.DB.First(&task).Error)
	assert.Equal(t, model.TaskStatusCompleted, task.Status)
}
