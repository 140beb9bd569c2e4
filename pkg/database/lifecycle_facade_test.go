package database

import (
	"testing"
	"time"

	"github.com/phtran-dev/spax/pkg/database/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMigrationTask(tenantCode string, instanceID int64) *model.MigrationTask {
	return &model.MigrationTask{
		RuleID:         1,
		TenantCode:     tenantCode,
		InstanceID:     instanceID,
		CreatedDate:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		SeriesUID:      "1.2.1.1",
		SourceVolumeID: 1,
		TargetVolumeID: 2,
		Status:         model.TaskStatusPending,
	}
}

// TestLifecycleFacade_CreateMigrationTasks_Dedup tests that re-running an
// evaluation pass creates no duplicate tasks
func TestLifecycleFacade_CreateMigrationTasks_Dedup(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Cleanup()

	facade := NewLifecycleFacade()
	ctx := helper.CreateTestContext()

	created, err := facade.CreateMigrationTasks(ctx, []*model.MigrationTask{
		testMigrationTask("acme", 1),
		testMigrationTask("acme", 2),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	created, err = facade.CreateMigrationTasks(ctx, []*model.MigrationTask{
		testMigrationTask("acme", 1),
		testMigrationTask("acme", 3),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, created)
	assert.Equal(t, int64(3), helper.Count(model.TableNameMigrationTask))
}

// TestLifecycleFacade_ClaimPendingMigrationTasks tests that claiming flips
// status and a second claim finds nothing
func TestLifecycleFacade_ClaimPendingMigrationTasks(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Cleanup()

	facade := NewLifecycleFacade()
	ctx := helper.CreateTestContext()

	_, err := facade.CreateMigrationTasks(ctx, []*model.MigrationTask{
		testMigrationTask("acme", 1),
		testMigrationTask("acme", 2),
	})
	require.NoError(t, err)

	tasks, err := facade.ClaimPendingMigrationTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.Equal(t, model.TaskStatusInProgress, task.Status)
	}

	tasks, err = facade.ClaimPendingMigrationTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

// TestLifecycleFacade_UpdateMigrationTaskStatus tests terminal status stamps
// finished_at
func TestLifecycleFacade_UpdateMigrationTaskStatus(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Cleanup()

	facade := NewLifecycleFacade()
	ctx := helper.CreateTestContext()

	_, err := facade.CreateMigrationTasks(ctx, []*model.MigrationTask{
		testMigrationTask("acme", 1),
	})
	require.NoError(t, err)

	tasks, err := facade.ListMigrationTasks(ctx, model.TaskStatusPending, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	err = facade.UpdateMigrationTaskStatus(ctx, tasks[0].ID, model.TaskStatusCompleted, "")
	require.NoError(t, err)

	tasks, err = facade.ListMigrationTasks(ctx, model.TaskStatusCompleted, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.NotNil(t, tasks[0].FinishedAt)
}

// TestLifecycleFacade_ListEnabledRulesByAction tests filtering by action and
// enabled flag
func TestLifecycleFacade_ListEnabledRulesByAction(t *testing.T) {
	helper := NewTestHelper(t)
	defer helper.Cleanup()

	facade := NewLifecycleFacade()
	ctx := helper.CreateTestContext()

	require.NoError(t, facade.CreateRule(ctx, &model.LifecycleRule{
		Enabled:       true,
		Action:        model.ActionMigrate,
		SourceTier:    "HOT",
		TargetTier:    "COLD",
		ConditionKind: model.ConditionStudyAgeDays,
		ConditionDays: 90,
	}))
	require.NoError(t, facade.CreateRule(ctx, &model.LifecycleRule{
		Enabled:       false,
		Action:        model.ActionMigrate,
		SourceTier:    "HOT",
		ConditionKind: model.ConditionStudyAgeDays,
		ConditionDays: 30,
	}))
	require.NoError(t, facade.CreateRule(ctx, &model.LifecycleRule{
		Enabled:         true,
		Action:          model.ActionCompress,
		SourceTier:      "HOT",
		ConditionKind:   model.ConditionStudyAgeDays,
		ConditionDays:   7,
		CompressionType: "JPEG2000_LOSSLESS",
	}))

	rules, err := facade.ListEnabledRulesByAction(ctx, model.ActionMigrate)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, 90, rules[0].ConditionDays)
}

// TestLifecycleFacade_HasOpenCompressionTask tests that a failed task does
// not block re-evaluation but pending and completed tasks do
func TestLifecycleFacade_HasOpenCompressionTask(t *testing.T) {
	helper := NewTestHelper(t, "acme")
	defer helper.Cleanup()

	facade := NewLifecycleFacade().WithTenant("acme")
	ctx := helper.CreateTestContext()

	require.NoError(t, facade.CreateCompressionTask(ctx, &model.CompressionTask{
		StudyFK:         1,
		CompressionType: "JPEG2000_LOSSLESS",
		TargetTsuid:     "1.2.840.10008.1.2.4.90",
		Status:          model.TaskStatusFailed,
	}))
	open, err := facade.HasOpenCompressionTask(ctx, 1, "JPEG2000_LOSSLESS")
	require.NoError(t, err)
	assert.False(t, open)

	require.NoError(t, facade.CreateCompressionTask(ctx, &model.CompressionTask{
		StudyFK:         1,
		CompressionType: "JPEG2000_LOSSLESS",
		TargetTsuid:     "1.2.840.10008.1.2.4.90",
		Status:          model.TaskStatusPending,
	}))
	open, err = facade.HasOpenCompressionTask(ctx, 1, "JPEG2000_LOSSLESS")
	require.NoError(t, err)
	assert.True(t, open)

	open, err = facade.HasOpenCompressionTask(ctx, 2, "JPEG2000_LOSSLESS")
	require.NoError(t, err)
	assert.False(t, open)
}
