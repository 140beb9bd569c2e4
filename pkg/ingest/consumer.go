// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package ingest

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/phtran-dev/spax/pkg/cache"
	"github.com/phtran-dev/spax/pkg/config"
	"github.com/phtran-dev/spax/pkg/database"
	"github.com/phtran-dev/spax/pkg/dicom"
	"github.com/phtran-dev/spax/pkg/logger/log"
	"github.com/phtran-dev/spax/pkg/metrics"
	"github.com/phtran-dev/spax/pkg/utils/goroutineUtil"
)

const errorBackoff = 5 * time.Second

var (
	ingestFilesTotal = metrics.NewCounterVec(
		"ingest_files", "Files processed by the ingest consumer", []string{"tenant", "outcome"})
	ingestBatchSeconds = metrics.NewHistogramVec(
		"ingest_batch_duration", "Wall time of one indexed batch", []string{"tenant"})
)

// Indexer commits one parsed batch for a tenant.
type Indexer interface {
	UpsertBatch(ctx context.Context, tenantCode string, items []database.IndexItem) (*database.IndexResult, error)
}

// FacadeIndexer routes batches through the tenant-scoped index facade.
type FacadeIndexer struct{}

func (FacadeIndexer) UpsertBatch(ctx context.Context, tenantCode string, items []database.IndexItem) (*database.IndexResult, error) {
	return database.NewIndexFacade().WithTenant(tenantCode).UpsertBatch(ctx, items)
}

// MetadataRebuilder is notified after a commit so series metadata documents
// can be rebuilt off the request path.
type MetadataRebuilder interface {
	ScheduleRebuild(tenantCode string, series database.AffectedSeries)
}

// Consumer drains the ingest queue: parse, store, index, ack, evict. One
// instance runs a pool of workers; each worker round-robins the active
// tenants.
type Consumer struct {
	queue     Queue
	storer    FileStorer
	indexer   Indexer
	caches    *cache.Caches
	tenants   database.TenantFacadeInterface
	rebuilder MetadataRebuilder
	cfg       config.IngestConfig

	crashed atomic.Int64
}

func NewConsumer(queue Queue, storer FileStorer, indexer Indexer, caches *cache.Caches,
	tenants database.TenantFacadeInterface, rebuilder MetadataRebuilder, cfg config.IngestConfig) *Consumer {
	return &Consumer{
		queue:     queue,
		storer:    storer,
		indexer:   indexer,
		caches:    caches,
		tenants:   tenants,
		rebuilder: rebuilder,
		cfg:       cfg,
	}
}

// Run starts the worker pool and a watchdog that restarts crashed workers.
// It returns when ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) {
	for i := 0; i < c.cfg.GetConsumerThreads(); i++ {
		c.startWorker(ctx, i)
	}
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	worker := c.cfg.GetConsumerThreads()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for c.crashed.Load() > 0 {
				c.crashed.Add(-1)
				log.Warnf("Restarting crashed ingest worker as %d", worker)
				c.startWorker(ctx, worker)
				worker++
			}
		}
	}
}

func (c *Consumer) startWorker(ctx context.Context, id int) {
	goroutineUtil.SafeGoroutine(func() {
		c.workerLoop(ctx, id)
	}, func(r interface{}) {
		c.crashed.Add(1)
	})
}

func (c *Consumer) workerLoop(ctx context.Context, id int) {
	log.Infof("Ingest worker %d started", id)
	for {
		if ctx.Err() != nil {
			log.Infof("Ingest worker %d stopped", id)
			return
		}
		codes, err := c.activeTenants(ctx)
		if err != nil {
			log.Errorf("Ingest worker %d: tenant list failed: %v", id, err)
			c.sleep(ctx, errorBackoff)
			continue
		}
		for _, tenantCode := range codes {
			if ctx.Err() != nil {
				return
			}
			err := c.queue.ConsumeForTenant(ctx, tenantCode, c.cfg.GetBatchSize(), c.batchHandler(tenantCode))
			if err != nil {
				log.Errorf("Ingest worker %d: tenant %s batch failed: %v", id, tenantCode, err)
				c.sleep(ctx, errorBackoff)
			}
		}
	}
}

func (c *Consumer) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (c *Consumer) activeTenants(ctx context.Context) ([]string, error) {
	return c.caches.ActiveTenants.GetOrLoad(ctx, "all", func(ctx context.Context) ([]string, error) {
		return c.tenants.ListActiveTenantCodes(ctx)
	})
}

// batchHandler parses and stores each file, quarantining failures, then
// commits the survivors as one batch. A commit error leaves the queue batch
// unacknowledged.
func (c *Consumer) batchHandler(tenantCode string) Handler {
	return func(ctx context.Context, batch []Message) error {
		start := time.Now()
		items := make([]database.IndexItem, 0, len(batch))
		paths := make([]string, 0, len(batch))
		for _, msg := range batch {
			item, err := c.processFile(ctx, tenantCode, msg.FilePath)
			if err != nil {
				log.Warnf("Ingest %s: file %s rejected: %v", tenantCode, msg.FilePath, err)
				ingestFilesTotal.Inc(tenantCode, "rejected")
				c.quarantine(tenantCode, msg.FilePath)
				continue
			}
			items = append(items, *item)
			paths = append(paths, msg.FilePath)
		}
		if len(items) == 0 {
			return nil
		}

		result, err := c.indexer.UpsertBatch(ctx, tenantCode, items)
		if err != nil {
			ingestFilesTotal.Add(float64(len(items)), tenantCode, "failed")
			return err
		}

		for _, p := range paths {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				log.Warnf("Ingest %s: spool cleanup of %s failed: %v", tenantCode, p, err)
			}
		}
		for _, s := range result.Series {
			if err := c.caches.EvictSeries(ctx, tenantCode, s.StudyUID, s.SeriesUID); err != nil {
				log.Warnf("Ingest %s: cache evict for series %s failed: %v", tenantCode, s.SeriesUID, err)
			}
			if c.rebuilder != nil {
				c.rebuilder.ScheduleRebuild(tenantCode, s)
			}
		}

		ingestFilesTotal.Add(float64(result.Inserted), tenantCode, "indexed")
		ingestFilesTotal.Add(float64(result.Deduplicated), tenantCode, "deduplicated")
		ingestBatchSeconds.Observe(time.Since(start).Seconds(), tenantCode)
		log.Infof("Ingest %s: batch committed inserted=%d deduplicated=%d series=%d",
			tenantCode, result.Inserted, result.Deduplicated, len(result.Series))
		return nil
	}
}

// processFile parses the header, rewinds, and hands the full byte stream to
// the storer.
func (c *Consumer) processFile(ctx context.Context, tenantCode, filePath string) (*database.IndexItem, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	meta, err := dicom.ParseHeader(f)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	volumeID, storagePath, err := c.storer.StoreIncoming(ctx, tenantCode, meta, f, info.Size())
	if err != nil {
		return nil, err
	}
	return &database.IndexItem{
		Meta:        meta,
		VolumeID:    volumeID,
		StoragePath: storagePath,
		FileSize:    info.Size(),
	}, nil
}

// quarantine moves a rejected file under error/{tenant}/ so operators can
// inspect or resubmit it.
func (c *Consumer) quarantine(tenantCode, filePath string) {
	dir := filepath.Join(c.cfg.GetErrorDir(), tenantCode)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Errorf("Quarantine dir %s: %v", dir, err)
		return
	}
	target := filepath.Join(dir, filepath.Base(filePath))
	if err := os.Rename(filePath, target); err != nil {
		log.Errorf("Quarantine move %s -> %s: %v", filePath, target, err)
	}
}
