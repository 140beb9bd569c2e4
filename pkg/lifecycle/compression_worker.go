// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package lifecycle

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/phtran-dev/spax/pkg/config"
	"github.com/phtran-dev/spax/pkg/database"
	"github.com/phtran-dev/spax/pkg/database/model"
	"github.com/phtran-dev/spax/pkg/logger/log"
	"github.com/phtran-dev/spax/pkg/storage"
)

// Transcoder converts a DICOM file to the target transfer syntax. The codec
// itself lives outside this service; production deployments plug in an
// external converter.
type Transcoder interface {
	Transcode(ctx context.Context, src io.Reader, targetTsuid string) (io.ReadCloser, int64, error)
}

// CompressionWorker drains per-tenant compression tasks: every instance of
// the study is transcoded and rewritten in place, then the instance and
// series rows pick up the new transfer syntax.
type CompressionWorker struct {
	manager    *storage.Manager
	transcoder Transcoder
	tenants    database.TenantFacadeInterface
	lifecycle  database.LifecycleFacadeInterface
	series     database.SeriesFacadeInterface
	instances  database.InstanceFacadeInterface
	cfg        config.LifecycleConfig
}

func NewCompressionWorker(manager *storage.Manager, transcoder Transcoder, cfg config.LifecycleConfig) *CompressionWorker {
	return &CompressionWorker{
		manager:    manager,
		transcoder: transcoder,
		tenants:    database.NewTenantFacade(),
		lifecycle:  database.NewLifecycleFacade(),
		series:     database.NewSeriesFacade(),
		instances:  database.NewInstanceFacade(),
		cfg:        cfg,
	}
}

// Run polls every active tenant's task table until ctx is cancelled.
func (w *CompressionWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.GetWorkerInterval())
	defer ticker.Stop()
	for {
		if err := w.RunOnce(ctx); err != nil {
			log.Errorf("Compression worker pass failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CompressionWorker) RunOnce(ctx context.Context) error {
	codes, err := w.tenants.ListActiveTenantCodes(ctx)
	if err != nil {
		return err
	}
	for _, tenantCode := range codes {
		if err := w.runTenant(ctx, tenantCode); err != nil {
			log.Errorf("Compression pass tenant %s: %v", tenantCode, err)
		}
	}
	return nil
}

func (w *CompressionWorker) runTenant(ctx context.Context, tenantCode string) error {
	lifecycle := w.lifecycle.WithTenant(tenantCode)
	tasks, err := lifecycle.ClaimPendingCompressionTasks(ctx, w.cfg.GetTaskBatch())
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.processTask(ctx, tenantCode, task); err != nil {
			log.Errorf("Compression task %d tenant %s: %v", task.ID, tenantCode, err)
			if uerr := lifecycle.UpdateCompressionTaskStatus(ctx, task.ID, model.TaskStatusFailed, err.Error()); uerr != nil {
				log.Errorf("Compression task %d status update: %v", task.ID, uerr)
			}
			tasksFinished.Inc(model.ActionCompress, model.TaskStatusFailed)
			continue
		}
		if err := lifecycle.UpdateCompressionTaskStatus(ctx, task.ID, model.TaskStatusCompleted, ""); err != nil {
			log.Errorf("Compression task %d status update: %v", task.ID, err)
		}
		tasksFinished.Inc(model.ActionCompress, model.TaskStatusCompleted)
	}
	return nil
}

func (w *CompressionWorker) processTask(ctx context.Context, tenantCode string, task *model.CompressionTask) error {
	seriesList, err := w.series.WithTenant(tenantCode).ListSeriesByStudyFK(ctx, task.StudyFK)
	if err != nil {
		return err
	}
	instances := w.instances.WithTenant(tenantCode)
	seriesFacade := w.series.WithTenant(tenantCode)

	anyConverted := false
	for _, series := range seriesList {
		createdDate := database.TruncateToDate(series.CreatedAt)
		rows, err := instances.ListBySeries(ctx, series.ID, createdDate)
		if err != nil {
			return err
		}
		converted := 0
		for _, instance := range rows {
			if instance.TransferSyntaxUID == task.TargetTsuid {
				// already converted; resumed tasks land here
				continue
			}
			if err := w.transcodeInstance(ctx, instances, instance, task.TargetTsuid); err != nil {
				return fmt.Errorf("instance %s: %w", instance.SOPInstanceUID, err)
			}
			converted++
		}
		if converted > 0 {
			if err := seriesFacade.UpdateCompression(ctx, series.ID, task.TargetTsuid); err != nil {
				return err
			}
			anyConverted = true
		}
	}
	if anyConverted {
		// transcoding changed per-instance file sizes; roll the new totals up
		return seriesFacade.RecomputeStudySize(ctx, task.StudyFK)
	}
	return nil
}

// transcodeInstance rewrites one file in place. The converted payload is
// buffered before the write so a transcoder failure never truncates the
// stored object.
func (w *CompressionWorker) transcodeInstance(ctx context.Context, instances database.InstanceFacadeInterface, instance *model.Instance, targetTsuid string) error {
	provider, err := w.manager.Provider(instance.VolumeID)
	if err != nil {
		return err
	}
	src, err := provider.Read(ctx, instance.StoragePath)
	if err != nil {
		return err
	}
	out, size, err := w.transcoder.Transcode(ctx, src, targetTsuid)
	src.Close()
	if err != nil {
		return err
	}
	defer out.Close()

	buf := &bytes.Buffer{}
	if size > 0 {
		buf.Grow(int(size))
	}
	n, err := io.Copy(buf, out)
	if err != nil {
		return err
	}
	if err := provider.Write(ctx, instance.StoragePath, buf, n); err != nil {
		return err
	}
	return instances.UpdateTransferSyntax(ctx, instance.ID, instance.CreatedDate, targetTsuid, n)
}
