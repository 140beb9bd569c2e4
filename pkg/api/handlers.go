// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

// Package api holds the HTTP surface: the ingest accept paths, the DICOMweb
// QIDO/WADO/STOW endpoints and the admin CRUD routes. Handlers attach domain
// errors to the gin context; the router's error middleware renders them.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/phtran-dev/spax/pkg/cache"
	"github.com/phtran-dev/spax/pkg/config"
	"github.com/phtran-dev/spax/pkg/database"
	"github.com/phtran-dev/spax/pkg/diskmon"
	"github.com/phtran-dev/spax/pkg/ingest"
	"github.com/phtran-dev/spax/pkg/lifecycle"
	"github.com/phtran-dev/spax/pkg/metadata"
	"github.com/phtran-dev/spax/pkg/partition"
	"github.com/phtran-dev/spax/pkg/router"
	"github.com/phtran-dev/spax/pkg/router/middleware"
	"github.com/phtran-dev/spax/pkg/storage"
)

// Deps carries the long-lived components the handlers delegate to. Worker
// references may be nil when the corresponding background job is not running;
// the manual trigger endpoints then report a configuration error.
type Deps struct {
	Cfg               *config.Config
	Queue             ingest.Queue
	Monitor           *diskmon.Monitor
	Manager           *storage.Manager
	Caches            *cache.Caches
	Storer            ingest.FileStorer
	Indexer           ingest.Indexer
	Metadata          *metadata.Builder
	Evaluator         *lifecycle.Evaluator
	MigrationWorker   *lifecycle.MigrationWorker
	CompressionWorker *lifecycle.CompressionWorker
	Maintainer        *partition.Maintainer
}

// Handlers binds the HTTP surface to the facades and shared components.
type Handlers struct {
	deps Deps

	tenants     database.TenantFacadeInterface
	volumes     database.VolumeFacadeInterface
	studies     database.StudyFacadeInterface
	series      database.SeriesFacadeInterface
	instances   database.InstanceFacadeInterface
	rules       database.LifecycleFacadeInterface
	corrections database.CorrectionFacadeInterface
	audit       database.AuditFacadeInterface
}

func NewHandlers(deps Deps) *Handlers {
	return &Handlers{
		deps:        deps,
		tenants:     database.NewTenantFacade(),
		volumes:     database.NewVolumeFacade(),
		studies:     database.NewStudyFacade(),
		series:      database.NewSeriesFacade(),
		instances:   database.NewInstanceFacade(),
		rules:       database.NewLifecycleFacade(),
		corrections: database.NewCorrectionFacade(),
		audit:       database.NewAuditFacade(),
	}
}

// Register mounts every route group on the shared router.
func (h *Handlers) Register() {
	router.RegisterGroup(h.registerIngestGroup)
	router.RegisterGroup(h.registerDicomWebGroup)
	router.RegisterGroup(h.registerAdminGroup)
}

// tenantMiddleware builds the per-request tenant resolver shared by the
// tenant-scoped groups.
func (h *Handlers) tenantMiddleware() gin.HandlerFunc {
	return middleware.HandleTenant(h.tenants, h.deps.Caches)
}
