// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/phtran-dev/spax/pkg/cache"
	"github.com/phtran-dev/spax/pkg/config"
	"github.com/phtran-dev/spax/pkg/database"
	"github.com/phtran-dev/spax/pkg/database/model"
	"github.com/phtran-dev/spax/pkg/logger/log"
	"github.com/phtran-dev/spax/pkg/storage"
)

// MetadataRebuilder regenerates a series metadata document after its files
// moved.
type MetadataRebuilder interface {
	ScheduleRebuild(tenantCode string, series database.AffectedSeries)
}

// MigrationWorker drains migration tasks: copy the file to the target
// volume, verify the byte count, repoint the instance row, then drop the
// source copy when the rule says so.
type MigrationWorker struct {
	manager   *storage.Manager
	lifecycle database.LifecycleFacadeInterface
	instances database.InstanceFacadeInterface
	rebuilder MetadataRebuilder
	caches    *cache.Caches
	cfg       config.LifecycleConfig
}

func NewMigrationWorker(manager *storage.Manager, rebuilder MetadataRebuilder, caches *cache.Caches, cfg config.LifecycleConfig) *MigrationWorker {
	return &MigrationWorker{
		manager:   manager,
		lifecycle: database.NewLifecycleFacade(),
		instances: database.NewInstanceFacade(),
		rebuilder: rebuilder,
		caches:    caches,
		cfg:       cfg,
	}
}

// Run polls for claimable tasks until ctx is cancelled.
func (w *MigrationWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.GetWorkerInterval())
	defer ticker.Stop()
	for {
		if err := w.RunOnce(ctx); err != nil {
			log.Errorf("Migration worker pass failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce claims one batch and processes it to completion. Tasks fail
// individually; one broken file does not stall the batch.
func (w *MigrationWorker) RunOnce(ctx context.Context) error {
	tasks, err := w.lifecycle.ClaimPendingMigrationTasks(ctx, w.cfg.GetTaskBatch())
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.processTask(ctx, task); err != nil {
			log.Errorf("Migration task %d: %v", task.ID, err)
			if uerr := w.lifecycle.UpdateMigrationTaskStatus(ctx, task.ID, model.TaskStatusFailed, err.Error()); uerr != nil {
				log.Errorf("Migration task %d status update: %v", task.ID, uerr)
			}
			tasksFinished.Inc(model.ActionMigrate, model.TaskStatusFailed)
			continue
		}
		if err := w.lifecycle.UpdateMigrationTaskStatus(ctx, task.ID, model.TaskStatusCompleted, ""); err != nil {
			log.Errorf("Migration task %d status update: %v", task.ID, err)
		}
		tasksFinished.Inc(model.ActionMigrate, model.TaskStatusCompleted)
	}
	return nil
}

func (w *MigrationWorker) processTask(ctx context.Context, task *model.MigrationTask) error {
	instances := w.instances.WithTenant(task.TenantCode)
	instance, err := instances.GetByID(ctx, task.InstanceID, task.CreatedDate)
	if err != nil {
		return err
	}
	if instance.VolumeID == task.TargetVolumeID {
		// already moved by an earlier run
		return nil
	}
	if instance.VolumeID != task.SourceVolumeID {
		return fmt.Errorf("instance %d moved to volume %d since evaluation", instance.ID, instance.VolumeID)
	}

	source, err := w.manager.Provider(task.SourceVolumeID)
	if err != nil {
		return err
	}
	target, err := w.manager.Provider(task.TargetVolumeID)
	if err != nil {
		return err
	}

	if err := target.CopyFrom(ctx, source, instance.StoragePath, instance.StoragePath); err != nil {
		return err
	}
	size, err := target.Size(ctx, instance.StoragePath)
	if err != nil {
		return err
	}
	if size != instance.FileSize {
		return fmt.Errorf("size mismatch after copy: copied %d, indexed %d", size, instance.FileSize)
	}

	if err := instances.UpdateVolume(ctx, instance.ID, task.CreatedDate, task.TargetVolumeID); err != nil {
		return err
	}
	// cached retrieve locations still point at the source volume
	if err := w.caches.EvictSeries(ctx, task.TenantCode, instance.StudyUID, instance.SeriesUID); err != nil {
		log.Warnf("Migration task %d: cache eviction failed: %v", task.ID, err)
	}
	if task.DeleteSource {
		if err := source.Delete(ctx, instance.StoragePath); err != nil {
			// the row already points at the target; the leftover source copy
			// is an orphan, not a correctness problem
			log.Warnf("Migration task %d: source delete failed: %v", task.ID, err)
		}
	}

	// once nothing of the series remains on the source volume its metadata
	// document is rebuilt on the new one
	remaining, err := w.instances.WithTenant(task.TenantCode).
		CountOnVolume(ctx, instance.SeriesFK, task.CreatedDate, task.SourceVolumeID)
	if err == nil && remaining == 0 && w.rebuilder != nil {
		w.rebuilder.ScheduleRebuild(task.TenantCode, database.AffectedSeries{
			SeriesID:    instance.SeriesFK,
			SeriesUID:   instance.SeriesUID,
			StudyUID:    instance.StudyUID,
			CreatedDate: task.CreatedDate,
			VolumeID:    task.TargetVolumeID,
		})
	}
	return nil
}
