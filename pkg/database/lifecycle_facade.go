// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package database

import (
	"context"
	"time"

	"github.com/phtran-dev/spax/pkg/database/model"
	dal "github.com/phtran-dev/spax/pkg/sql/util"
	"gorm.io/gorm/clause"
)

// LifecycleFacadeInterface covers lifecycle rules, migration tasks (shared
// scope) and compression tasks (tenant scope via WithTenant).
type LifecycleFacadeInterface interface {
	CreateRule(ctx context.Context, rule *model.LifecycleRule) error
	UpdateRule(ctx context.Context, rule *model.LifecycleRule) error
	DeleteRule(ctx context.Context, id int64) error
	ListRules(ctx context.Context) ([]*model.LifecycleRule, error)
	ListEnabledRulesByAction(ctx context.Context, action string) ([]*model.LifecycleRule, error)

	CreateMigrationTasks(ctx context.Context, tasks []*model.MigrationTask) (int, error)
	ClaimPendingMigrationTasks(ctx context.Context, limit int) ([]*model.MigrationTask, error)
	UpdateMigrationTaskStatus(ctx context.Context, id int64, status, errorMessage string) error
	ListMigrationTasks(ctx context.Context, status string, limit int) ([]*model.MigrationTask, error)
	CountMigrationTasksForInstance(ctx context.Context, tenantCode string, instanceID int64) (int64, error)

	CreateCompressionTask(ctx context.Context, task *model.CompressionTask) error
	HasOpenCompressionTask(ctx context.Context, studyFK int64, compressionType string) (bool, error)
	ClaimPendingCompressionTasks(ctx context.Context, limit int) ([]*model.CompressionTask, error)
	UpdateCompressionTaskStatus(ctx context.Context, id int64, status, errorMessage string) error
	ListCompressionTasks(ctx context.Context, status string, limit int) ([]*model.CompressionTask, error)

	WithTenant(tenantCode string) LifecycleFacadeInterface
}

// LifecycleFacade implements LifecycleFacadeInterface
type LifecycleFacade struct {
	BaseFacade
}

func NewLifecycleFacade() LifecycleFacadeInterface {
	return &LifecycleFacade{}
}

func (f *LifecycleFacade) WithTenant(tenantCode string) LifecycleFacadeInterface {
	return &LifecycleFacade{
		BaseFacade: f.withTenant(tenantCode),
	}
}

func (f *LifecycleFacade) CreateRule(ctx context.Context, rule *model.LifecycleRule) error {
	return dal.CheckErr(f.getDB().WithContext(ctx).Create(rule).Error, false)
}

func (f *LifecycleFacade) UpdateRule(ctx context.Context, rule *model.LifecycleRule) error {
	rule.UpdatedAt = time.Now()
	return dal.CheckErr(f.getDB().WithContext(ctx).Save(rule).Error, false)
}

func (f *LifecycleFacade) DeleteRule(ctx context.Context, id int64) error {
	return dal.CheckErr(f.getDB().WithContext(ctx).
		Where("id = ?", id).
		Delete(&model.LifecycleRule{}).Error, false)
}

func (f *LifecycleFacade) ListRules(ctx context.Context) ([]*model.LifecycleRule, error) {
	var rules []*model.LifecycleRule
	err := f.getDB().WithContext(ctx).Order("id").Find(&rules).Error
	return rules, dal.CheckErr(err, false)
}

func (f *LifecycleFacade) ListEnabledRulesByAction(ctx context.Context, action string) ([]*model.LifecycleRule, error) {
	var rules []*model.LifecycleRule
	err := f.getDB().WithContext(ctx).
		Where("enabled = ? AND action = ?", true, action).
		Order("id").
		Find(&rules).Error
	return rules, dal.CheckErr(err, false)
}

// CreateMigrationTasks inserts task rows, silently skipping instances that
// already have a task. Re-running an evaluation pass is therefore a no-op.
func (f *LifecycleFacade) CreateMigrationTasks(ctx context.Context, tasks []*model.MigrationTask) (int, error) {
	if len(tasks) == 0 {
		return 0, nil
	}
	res := f.getDB().WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_code"}, {Name: "instance_id"}},
		DoNothing: true,
	}).Create(&tasks)
	return int(res.RowsAffected), dal.CheckErr(res.Error, false)
}

// ClaimPendingMigrationTasks flips up to limit PENDING tasks to IN_PROGRESS
// and returns them.
func (f *LifecycleFacade) ClaimPendingMigrationTasks(ctx context.Context, limit int) ([]*model.MigrationTask, error) {
	var tasks []*model.MigrationTask
	err := f.getDB().WithContext(ctx).
		Where("status = ?", model.TaskStatusPending).
		Order("id").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, dal.CheckErr(err, false)
	}
	now := time.Now()
	for _, t := range tasks {
		res := f.getDB().WithContext(ctx).
			Model(&model.MigrationTask{}).
			Where("id = ? AND status = ?", t.ID, model.TaskStatusPending).
			Updates(map[string]interface{}{
				"status":     model.TaskStatusInProgress,
				"started_at": now,
				"updated_at": now,
			})
		if res.Error != nil {
			return nil, dal.CheckErr(res.Error, false)
		}
		t.Status = model.TaskStatusInProgress
	}
	return tasks, nil
}

func (f *LifecycleFacade) UpdateMigrationTaskStatus(ctx context.Context, id int64, status, errorMessage string) error {
	fields := map[string]interface{}{
		"status":        status,
		"error_message": errorMessage,
		"updated_at":    time.Now(),
	}
	if status == model.TaskStatusCompleted || status == model.TaskStatusFailed {
		fields["finished_at"] = time.Now()
	}
	return dal.CheckErr(f.getDB().WithContext(ctx).
		Model(&model.MigrationTask{}).
		Where("id = ?", id).
		Updates(fields).Error, false)
}

func (f *LifecycleFacade) ListMigrationTasks(ctx context.Context, status string, limit int) ([]*model.MigrationTask, error) {
	query := f.getDB().WithContext(ctx).Order("id DESC").Limit(limit)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var tasks []*model.MigrationTask
	err := query.Find(&tasks).Error
	return tasks, dal.CheckErr(err, false)
}

func (f *LifecycleFacade) CountMigrationTasksForInstance(ctx context.Context, tenantCode string, instanceID int64) (int64, error) {
	var count int64
	err := f.getDB().WithContext(ctx).
		Model(&model.MigrationTask{}).
		Where("tenant_code = ? AND instance_id = ?", tenantCode, instanceID).
		Count(&count).Error
	return count, dal.CheckErr(err, false)
}

func (f *LifecycleFacade) CreateCompressionTask(ctx context.Context, task *model.CompressionTask) error {
	return dal.CheckErr(f.getDB().WithContext(ctx).Create(task).Error, false)
}

// HasOpenCompressionTask reports whether the study already carries a
// non-terminal or completed task of the same compression type.
func (f *LifecycleFacade) HasOpenCompressionTask(ctx context.Context, studyFK int64, compressionType string) (bool, error) {
	var count int64
	err := f.getDB().WithContext(ctx).
		Model(&model.CompressionTask{}).
		Where("study_fk = ? AND compression_type = ? AND status <> ?",
			studyFK, compressionType, model.TaskStatusFailed).
		Count(&count).Error
	return count > 0, dal.CheckErr(err, false)
}

func (f *LifecycleFacade) ClaimPendingCompressionTasks(ctx context.Context, limit int) ([]*model.CompressionTask, error) {
	var tasks []*model.CompressionTask
	err := f.getDB().WithContext(ctx).
		Where("status = ?", model.TaskStatusPending).
		Order("id").
		Limit(limit).
		Find(&tasks).Error
	if err != nil {
		return nil, dal.CheckErr(err, false)
	}
	now := time.Now()
	for _, t := range tasks {
		err := f.getDB().WithContext(ctx).
			Model(&model.CompressionTask{}).
			Where("id = ? AND status = ?", t.ID, model.TaskStatusPending).
			Updates(map[string]interface{}{
				"status":     model.TaskStatusInProgress,
				"started_at": now,
				"updated_at": now,
			}).Error
		if err != nil {
			return nil, dal.CheckErr(err, false)
		}
		t.Status = model.TaskStatusInProgress
	}
	return tasks, nil
}

func (f *LifecycleFacade) ListCompressionTasks(ctx context.Context, status string, limit int) ([]*model.CompressionTask, error) {
	query := f.getDB().WithContext(ctx).Order("id DESC").Limit(limit)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var tasks []*model.CompressionTask
	err := query.Find(&tasks).Error
	return tasks, dal.CheckErr(err, false)
}

func (f *LifecycleFacade) UpdateCompressionTaskStatus(ctx context.Context, id int64, status, errorMessage string) error {
	fields := map[string]interface{}{
		"status":        status,
		"error_message": errorMessage,
		"updated_at":    time.Now(),
	}
	if status == model.TaskStatusCompleted || status == model.TaskStatusFailed {
		fields["finished_at"] = time.Now()
	}
	return dal.CheckErr(f.getDB().WithContext(ctx).
		Model(&model.CompressionTask{}).
		Where("id = ?", id).
		Updates(fields).Error, false)
}
