// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

// Package correction drains the file-correction task queue. Metadata edits
// commit synchronously in the index; the tasks created alongside them carry
// the derived work that can run late, like rewriting study public ids after
// a patient id change.
package correction

import (
	"context"
	"time"

	"github.com/phtran-dev/spax/pkg/cache"
	"github.com/phtran-dev/spax/pkg/config"
	"github.com/phtran-dev/spax/pkg/database"
	"github.com/phtran-dev/spax/pkg/database/model"
	"github.com/phtran-dev/spax/pkg/logger/log"
	"github.com/phtran-dev/spax/pkg/metrics"
)

var correctionTasksProcessed = metrics.NewCounterVec(
	"correction_tasks_processed_total", "Correction tasks finished, by tenant and outcome", []string{"tenant", "status"})

// Worker claims pending correction tasks for every active tenant and applies
// their derived effects.
type Worker struct {
	tenants     database.TenantFacadeInterface
	corrections database.CorrectionFacadeInterface
	caches      *cache.Caches
	cfg         config.CorrectionConfig
}

func NewWorker(caches *cache.Caches, cfg config.CorrectionConfig) *Worker {
	return &Worker{
		tenants:     database.NewTenantFacade(),
		corrections: database.NewCorrectionFacade(),
		caches:      caches,
		cfg:         cfg,
	}
}

// Run processes immediately and then on the configured interval until ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) {
	if err := w.RunOnce(ctx); err != nil {
		log.Errorf("Correction pass failed: %v", err)
	}
	ticker := time.NewTicker(w.cfg.GetInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				log.Errorf("Correction pass failed: %v", err)
			}
		}
	}
}

// RunOnce drains up to one batch of pending tasks per active tenant.
func (w *Worker) RunOnce(ctx context.Context) error {
	codes, err := w.caches.ActiveTenants.GetOrLoad(ctx, "all", w.tenants.ListActiveTenantCodes)
	if err != nil {
		return err
	}
	for _, code := range codes {
		if err := w.runTenant(ctx, code); err != nil {
			log.Errorf("Correction pass for tenant %s failed: %v", code, err)
		}
	}
	return nil
}

func (w *Worker) runTenant(ctx context.Context, tenantCode string) error {
	facade := w.corrections.WithTenant(tenantCode)
	tasks, err := facade.ClaimPendingTasks(ctx, w.cfg.GetTaskBatch())
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if err := w.processTask(ctx, tenantCode, facade, task); err != nil {
			log.Errorf("Correction task %d (%s) for tenant %s failed: %v", task.ID, task.Kind, tenantCode, err)
			correctionTasksProcessed.Inc(tenantCode, model.TaskStatusFailed)
			if err := facade.UpdateTaskStatus(ctx, task.ID, model.TaskStatusFailed, err.Error()); err != nil {
				log.Errorf("Correction task %d status update failed: %v", task.ID, err)
			}
			continue
		}
		correctionTasksProcessed.Inc(tenantCode, model.TaskStatusCompleted)
		if err := facade.UpdateTaskStatus(ctx, task.ID, model.TaskStatusCompleted, ""); err != nil {
			log.Errorf("Correction task %d status update failed: %v", task.ID, err)
		}
	}
	return nil
}

// processTask applies the part of a correction that runs after the
// synchronous edit. A patient-id change renames the identity every study
// public id is derived from, so those are recomputed here and the affected
// study caches dropped. Name and description edits already landed in the
// index row; their task exists only as an audit trail of completion.
func (w *Worker) processTask(ctx context.Context, tenantCode string, facade database.CorrectionFacadeInterface, task *model.FileCorrectionTask) error {
	switch task.Kind {
	case database.CorrectionKindPatientID:
		studyUIDs, err := facade.RecomputeStudyPublicIDs(ctx, task.PatientFK)
		if err != nil {
			return err
		}
		for _, uid := range studyUIDs {
			if err := w.caches.SeriesByStudy.Evict(ctx, cache.TenantKey(tenantCode, uid)); err != nil {
				log.Warnf("Study cache evict for %s failed: %v", uid, err)
			}
		}
		return nil
	case database.CorrectionKindPatientName, database.CorrectionKindStudyDesc:
		return nil
	default:
		log.Warnf("Correction task %d has unknown kind %s, completing as no-op", task.ID, task.Kind)
		return nil
	}
}
