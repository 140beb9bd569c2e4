// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

// Package metadata builds and serves per-series metadata documents: one JSON
// array of DICOM-JSON datasets, one element per instance in instance-number
// order. The document is persisted next to the pixel data so a series-level
// metadata request costs one object read instead of N.
package metadata

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/phtran-dev/spax/pkg/database"
	"github.com/phtran-dev/spax/pkg/database/model"
	"github.com/phtran-dev/spax/pkg/dicom"
	"github.com/phtran-dev/spax/pkg/errors"
	"github.com/phtran-dev/spax/pkg/logger/log"
	"github.com/phtran-dev/spax/pkg/storage"
	"github.com/phtran-dev/spax/pkg/utils/goroutineUtil"
)

const rebuildQueueDepth = 1024

type rebuildJob struct {
	tenantCode string
	series     database.AffectedSeries
}

// Builder materialises series metadata documents and schedules asynchronous
// rebuilds after index or migration changes.
type Builder struct {
	manager   *storage.Manager
	series    database.SeriesFacadeInterface
	instances database.InstanceFacadeInterface

	jobs chan rebuildJob
}

func NewBuilder(manager *storage.Manager) *Builder {
	return &Builder{
		manager:   manager,
		series:    database.NewSeriesFacade(),
		instances: database.NewInstanceFacade(),
		jobs:      make(chan rebuildJob, rebuildQueueDepth),
	}
}

// DocumentPath is where a series' metadata document lives on its volume.
func DocumentPath(tenantCode, seriesUID string) string {
	a, b := "00", "00"
	if len(seriesUID) >= 2 {
		a = seriesUID[0:2]
	}
	if len(seriesUID) >= 4 {
		b = seriesUID[2:4]
	}
	return fmt.Sprintf("%s/series-meta/%s/%s/%s.json", tenantCode, a, b, seriesUID)
}

// Run drains the rebuild queue until ctx is cancelled.
func (b *Builder) Run(ctx context.Context) {
	goroutineUtil.SafeGoroutine(func() {
		for {
			select {
			case <-ctx.Done():
				return
			case job := <-b.jobs:
				if err := b.Rebuild(ctx, job.tenantCode, job.series); err != nil {
					log.Errorf("Metadata rebuild %s/%s: %v", job.tenantCode, job.series.SeriesUID, err)
				}
			}
		}
	})
}

// ScheduleRebuild enqueues a rebuild; a full queue drops the job (the next
// index commit or metadata request rebuilds it anyway).
func (b *Builder) ScheduleRebuild(tenantCode string, series database.AffectedSeries) {
	select {
	case b.jobs <- rebuildJob{tenantCode: tenantCode, series: series}:
	default:
		log.Warnf("Metadata rebuild queue full, dropping %s/%s", tenantCode, series.SeriesUID)
	}
}

// BuildDocument assembles the JSON array by re-reading every instance header
// from storage, ordered by instance number.
func (b *Builder) BuildDocument(ctx context.Context, tenantCode string, seriesID int64, createdDate time.Time) ([]byte, error) {
	rows, err := b.instances.WithTenant(tenantCode).ListBySeries(ctx, seriesID, createdDate)
	if err != nil {
		return nil, err
	}

	buf := &bytes.Buffer{}
	buf.WriteByte('[')
	for i, instance := range rows {
		ds, err := b.instanceDataset(ctx, instance)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		encoded, err := ds.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(encoded)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func (b *Builder) instanceDataset(ctx context.Context, instance *model.Instance) (*dicom.Dataset, error) {
	provider, err := b.manager.Provider(instance.VolumeID)
	if err != nil {
		return nil, err
	}
	rc, err := provider.Read(ctx, instance.StoragePath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	meta, err := dicom.ParseHeader(rc)
	if err != nil {
		return nil, err
	}
	return dicom.NewDataset().FromAttributes(meta.Attributes), nil
}

// Rebuild builds the document, persists it on the series' current volume and
// records the location on the series row.
func (b *Builder) Rebuild(ctx context.Context, tenantCode string, series database.AffectedSeries) error {
	doc, err := b.BuildDocument(ctx, tenantCode, series.SeriesID, series.CreatedDate)
	if err != nil {
		return err
	}
	provider, err := b.manager.Provider(series.VolumeID)
	if err != nil {
		return err
	}
	path := DocumentPath(tenantCode, series.SeriesUID)
	if err := provider.Write(ctx, path, bytes.NewReader(doc), int64(len(doc))); err != nil {
		return err
	}
	volumeID := series.VolumeID
	return b.series.WithTenant(tenantCode).UpdateMetadataLocation(ctx, series.SeriesID, &volumeID, path)
}

// Serve writes the series metadata document to w. A persisted document is
// streamed as is. Without one, the fallback depends on the volume kind:
// local files are cheap to re-read, so the document is built inline and a
// persist is scheduled; object stores are not, so the document is persisted
// synchronously first.
func (b *Builder) Serve(ctx context.Context, w io.Writer, tenantCode, seriesUID string) error {
	key, err := b.series.WithTenant(tenantCode).GetSeriesKey(ctx, seriesUID)
	if err != nil {
		return err
	}
	if key == nil {
		return errors.NewError().
			WithCode(errors.NotFound).
			WithMessagef("series %s not found", seriesUID)
	}
	rows, err := b.series.WithTenant(tenantCode).ListSeriesByUID(ctx, seriesUID)
	if err != nil {
		return err
	}
	series := rows[0]

	if series.MetadataVolumeID != nil && series.MetadataPath != "" {
		provider, err := b.manager.Provider(*series.MetadataVolumeID)
		if err == nil {
			rc, err := provider.Read(ctx, series.MetadataPath)
			if err == nil {
				defer rc.Close()
				_, err = io.Copy(w, rc)
				return err
			}
			// fall through and rebuild when the document went missing
			log.Warnf("Metadata document %s missing, rebuilding", series.MetadataPath)
		}
	}

	affected, err := b.affectedFromInstances(ctx, tenantCode, series, key)
	if err != nil {
		return err
	}

	volume, err := b.manager.Volume(affected.VolumeID)
	if err != nil {
		return err
	}
	if volume.Kind == storage.KindLocal {
		doc, err := b.BuildDocument(ctx, tenantCode, key.SeriesID, key.CreatedDate)
		if err != nil {
			return err
		}
		b.ScheduleRebuild(tenantCode, affected)
		_, err = w.Write(doc)
		return err
	}

	if err := b.Rebuild(ctx, tenantCode, affected); err != nil {
		return err
	}
	provider, err := b.manager.Provider(affected.VolumeID)
	if err != nil {
		return err
	}
	rc, err := provider.Read(ctx, DocumentPath(tenantCode, seriesUID))
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(w, rc)
	return err
}

// affectedFromInstances derives the rebuild target from the series' current
// instance placement.
func (b *Builder) affectedFromInstances(ctx context.Context, tenantCode string, series *model.Series, key *database.SeriesKey) (database.AffectedSeries, error) {
	affected := database.AffectedSeries{
		SeriesID:    key.SeriesID,
		SeriesUID:   key.SeriesUID,
		StudyID:     series.StudyFK,
		CreatedDate: key.CreatedDate,
	}
	rows, err := b.instances.WithTenant(tenantCode).ListBySeries(ctx, key.SeriesID, key.CreatedDate)
	if err != nil {
		return affected, err
	}
	if len(rows) == 0 {
		return affected, errors.NewError().
			WithCode(errors.NotFound).
			WithMessagef("series %s has no instances", key.SeriesUID)
	}
	affected.StudyUID = rows[0].StudyUID
	affected.VolumeID = rows[0].VolumeID
	return affected, nil
}
