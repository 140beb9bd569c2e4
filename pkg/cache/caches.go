// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package cache

import (
	"context"
	"time"

	"github.com/phtran-dev/spax/pkg/database/model"
)

// InstanceLocation is the cached projection a WADO retrieve needs to open a
// stored file without touching the database.
type InstanceLocation struct {
	InstanceID        int64  `json:"instance_id"`
	SOPInstanceUID    string `json:"sop_instance_uid"`
	SOPClassUID       string `json:"sop_class_uid"`
	InstanceNumber    int    `json:"instance_number"`
	TransferSyntaxUID string `json:"transfer_syntax_uid"`
	NumFrames         int    `json:"num_frames"`
	FileSize          int64  `json:"file_size"`
	VolumeID          int64  `json:"volume_id"`
	StoragePath       string `json:"storage_path"`
}

// SeriesLocations is one series' instance-location set keyed by series UID.
type SeriesLocations struct {
	SeriesID    int64              `json:"series_id"`
	SeriesUID   string             `json:"series_uid"`
	StudyUID    string             `json:"study_uid"`
	CreatedDate time.Time          `json:"created_date"`
	Instances   []InstanceLocation `json:"instances"`
}

// SeriesMetadataLocation points at a persisted series metadata document.
type SeriesMetadataLocation struct {
	SeriesID     int64  `json:"series_id"`
	VolumeID     *int64 `json:"volume_id"`
	MetadataPath string `json:"metadata_path"`
	NumInstances int    `json:"num_instances"`
}

// Caches bundles the named caches the request and worker paths share.
type Caches struct {
	backend Backend

	InstanceLocations *Cache[SeriesLocations]
	SeriesMetadata    *Cache[SeriesMetadataLocation]
	SeriesByStudy     *Cache[[]string]
	ActiveTenants     *Cache[[]string]
	LifecycleRules    *Cache[[]model.LifecycleRule]
}

func NewCaches(backend Backend) *Caches {
	return &Caches{
		backend:           backend,
		InstanceLocations: NewCache[SeriesLocations](backend, "instance-locations", TTLInstanceLocations),
		SeriesMetadata:    NewCache[SeriesMetadataLocation](backend, "series-metadata-lookup", TTLSeriesMetadata),
		SeriesByStudy:     NewCache[[]string](backend, "series-by-study", TTLSeriesByStudy),
		ActiveTenants:     NewCache[[]string](backend, "active-tenants", TTLActiveTenants),
		LifecycleRules:    NewCache[[]model.LifecycleRule](backend, "lifecycle-rules", TTLLifecycleRules),
	}
}

// EvictSeries drops every entry derived from one series after its index state
// changed.
func (c *Caches) EvictSeries(ctx context.Context, tenantCode, studyUID, seriesUID string) error {
	if err := c.InstanceLocations.Evict(ctx, TenantKey(tenantCode, seriesUID)); err != nil {
		return err
	}
	if err := c.SeriesMetadata.Evict(ctx, TenantKey(tenantCode, seriesUID)); err != nil {
		return err
	}
	return c.SeriesByStudy.Evict(ctx, TenantKey(tenantCode, studyUID))
}

// EvictLifecycleRules drops both per-action rule lists after rule CRUD.
func (c *Caches) EvictLifecycleRules(ctx context.Context) error {
	return c.LifecycleRules.Evict(ctx, model.ActionMigrate, model.ActionCompress)
}

func (c *Caches) Close() error {
	return c.backend.Close()
}
