// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/phtran-dev/spax/pkg/database"
	"github.com/phtran-dev/spax/pkg/database/model"
	"github.com/phtran-dev/spax/pkg/errors"
	"github.com/phtran-dev/spax/pkg/lifecycle"
	"github.com/phtran-dev/spax/pkg/logger/log"
	"github.com/phtran-dev/spax/pkg/model/rest"
	"github.com/phtran-dev/spax/pkg/router/middleware"
	"github.com/phtran-dev/spax/pkg/sql"
	"github.com/phtran-dev/spax/pkg/tenant"
	"github.com/phtran-dev/spax/pkg/utils/goroutineUtil"
)

const defaultTaskListLimit = 100

func (h *Handlers) registerAdminGroup(root *gin.RouterGroup) error {
	admin := root.Group("/api/v1/admin")

	admin.GET("/tenants", h.handleListTenants)
	admin.POST("/tenants", h.handleCreateTenant)
	admin.PUT("/tenants/:code", h.handleUpdateTenant)
	admin.DELETE("/tenants/:code", h.handleDeleteTenant)

	admin.GET("/volumes", h.handleListVolumes)
	admin.POST("/volumes", h.handleCreateVolume)
	admin.PUT("/volumes/:id", h.handleUpdateVolume)
	admin.DELETE("/volumes/:id", h.handleDeleteVolume)
	admin.POST("/volumes/reload", h.handleReloadVolumes)

	admin.GET("/lifecycle/rules", h.handleListRules)
	admin.POST("/lifecycle/rules", h.handleCreateRule)
	admin.PUT("/lifecycle/rules/:id", h.handleUpdateRule)
	admin.DELETE("/lifecycle/rules/:id", h.handleDeleteRule)
	admin.POST("/lifecycle/evaluate", h.handleRunEvaluation)
	admin.POST("/lifecycle/migrate", h.handleRunMigration)
	admin.POST("/lifecycle/compress", h.handleRunCompression)
	admin.GET("/tasks/migration", h.handleListMigrationTasks)
	admin.POST("/partitions/run", h.handleRunPartitions)

	scoped := root.Group("/api/v1/:tenant/admin", h.tenantMiddleware())
	scoped.POST("/corrections/patient", h.handleCorrectPatient)
	scoped.POST("/corrections/study", h.handleCorrectStudy)
	scoped.GET("/tasks/correction", h.handleListCorrectionTasks)
	scoped.POST("/compression/trigger", h.handleTriggerCompression)
	scoped.GET("/tasks/compression", h.handleListCompressionTasks)
	scoped.GET("/audit", h.handleListAudit)
	return nil
}

func (h *Handlers) handleListTenants(c *gin.Context) {
	rows, err := h.tenants.ListTenants(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rest.SuccessResp(rest.NewListData(rows, len(rows))))
}

func (h *Handlers) handleCreateTenant(c *gin.Context) {
	var row model.Tenant
	if err := c.ShouldBindJSON(&row); err != nil {
		c.Error(errors.NewError().
			WithCode(errors.RequestParameterInvalid).
			WithMessage("invalid tenant body").
			WithError(err))
		return
	}
	if err := tenant.ValidateCode(row.Code); err != nil {
		c.Error(err)
		return
	}
	if err := h.tenants.CreateTenant(c.Request.Context(), &row); err != nil {
		c.Error(err)
		return
	}
	// Open the tenant pool up front so the first scoped request does not pay
	// for connection setup. The schema itself is provisioned by spax-migrate.
	if _, err := sql.InitTenantDB(row.Code, h.deps.Cfg.Database); err != nil {
		log.Errorf("Tenant %s created but pool init failed: %v", row.Code, err)
	}
	h.evictActiveTenants(c.Request.Context())
	c.JSON(http.StatusCreated, rest.SuccessResp(row))
}

func (h *Handlers) handleUpdateTenant(c *gin.Context) {
	var row model.Tenant
	if err := c.ShouldBindJSON(&row); err != nil {
		c.Error(errors.NewError().
			WithCode(errors.RequestParameterInvalid).
			WithMessage("invalid tenant body").
			WithError(err))
		return
	}
	row.Code = c.Param("code")
	if err := h.tenants.UpdateTenant(c.Request.Context(), &row); err != nil {
		c.Error(err)
		return
	}
	h.evictActiveTenants(c.Request.Context())
	c.JSON(http.StatusOK, rest.SuccessResp(row))
}

func (h *Handlers) handleDeleteTenant(c *gin.Context) {
	code := c.Param("code")
	if err := h.tenants.DeleteTenant(c.Request.Context(), code); err != nil {
		c.Error(err)
		return
	}
	if err := sql.CloseTenantDB(code); err != nil {
		log.Warnf("Tenant %s pool close failed: %v", code, err)
	}
	h.evictActiveTenants(c.Request.Context())
	c.JSON(http.StatusOK, rest.SuccessResp(nil))
}

func (h *Handlers) evictActiveTenants(ctx context.Context) {
	if err := h.deps.Caches.ActiveTenants.Evict(ctx, "all"); err != nil {
		log.Warnf("Active-tenant cache evict failed: %v", err)
	}
}

func (h *Handlers) handleListVolumes(c *gin.Context) {
	rows, err := h.volumes.ListVolumes(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rest.SuccessResp(rest.NewListData(rows, len(rows))))
}

func (h *Handlers) handleCreateVolume(c *gin.Context) {
	var row model.StorageVolume
	if err := c.ShouldBindJSON(&row); err != nil {
		c.Error(errors.NewError().
			WithCode(errors.RequestParameterInvalid).
			WithMessage("invalid volume body").
			WithError(err))
		return
	}
	if err := h.volumes.CreateVolume(c.Request.Context(), &row); err != nil {
		c.Error(err)
		return
	}
	h.reloadVolumeRegistry(c)
	c.JSON(http.StatusCreated, rest.SuccessResp(row))
}

func (h *Handlers) handleUpdateVolume(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.Error(errors.NewError().
			WithCode(errors.RequestParameterInvalid).
			WithMessagef("invalid volume id %q", c.Param("id")))
		return
	}
	var row model.StorageVolume
	if err := c.ShouldBindJSON(&row); err != nil {
		c.Error(errors.NewError().
			WithCode(errors.RequestParameterInvalid).
			WithMessage("invalid volume body").
			WithError(err))
		return
	}
	row.ID = id
	if err := h.volumes.UpdateVolume(c.Request.Context(), &row); err != nil {
		c.Error(err)
		return
	}
	h.reloadVolumeRegistry(c)
	c.JSON(http.StatusOK, rest.SuccessResp(row))
}

func (h *Handlers) handleDeleteVolume(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.Error(errors.NewError().
			WithCode(errors.RequestParameterInvalid).
			WithMessagef("invalid volume id %q", c.Param("id")))
		return
	}
	if err := h.volumes.DeleteVolume(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}
	h.reloadVolumeRegistry(c)
	c.JSON(http.StatusOK, rest.SuccessResp(nil))
}

func (h *Handlers) handleReloadVolumes(c *gin.Context) {
	if err := h.deps.Manager.Reload(c.Request.Context()); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rest.SuccessResp(nil))
}

func (h *Handlers) reloadVolumeRegistry(c *gin.Context) {
	if err := h.deps.Manager.Reload(c.Request.Context()); err != nil {
		log.Errorf("Volume registry reload after CRUD failed: %v", err)
	}
}

func (h *Handlers) handleListRules(c *gin.Context) {
	rows, err := h.rules.ListRules(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rest.SuccessResp(rest.NewListData(rows, len(rows))))
}

func validateRule(rule *model.LifecycleRule) error {
	switch rule.Action {
	case model.ActionMigrate:
		if rule.TargetTier == "" {
			return errors.NewError().
				WithCode(errors.RequestParameterInvalid).
				WithMessage("MIGRATE rule requires a target tier")
		}
	case model.ActionCompress:
		if rule.CompressionType == "" {
			return errors.NewError().
				WithCode(errors.RequestParameterInvalid).
				WithMessage("COMPRESS rule requires a compression type")
		}
	default:
		return errors.NewError().
			WithCode(errors.RequestParameterInvalid).
			WithMessagef("unknown rule action %q", rule.Action)
	}
	switch rule.ConditionKind {
	case model.ConditionStudyAgeDays, model.ConditionLastAccessDays:
	default:
		return errors.NewError().
			WithCode(errors.RequestParameterInvalid).
			WithMessagef("unknown condition kind %q", rule.ConditionKind)
	}
	return nil
}

func (h *Handlers) handleCreateRule(c *gin.Context) {
	var rule model.LifecycleRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.Error(errors.NewError().
			WithCode(errors.RequestParameterInvalid).
			WithMessage("invalid rule body").
			WithError(err))
		return
	}
	if err := validateRule(&rule); err != nil {
		c.Error(err)
		return
	}
	if err := h.rules.CreateRule(c.Request.Context(), &rule); err != nil {
		c.Error(err)
		return
	}
	h.evictLifecycleRules(c.Request.Context())
	c.JSON(http.StatusCreated, rest.SuccessResp(rule))
}

func (h *Handlers) handleUpdateRule(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.Error(errors.NewError().
			WithCode(errors.RequestParameterInvalid).
			WithMessagef("invalid rule id %q", c.Param("id")))
		return
	}
	var rule model.LifecycleRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.Error(errors.NewError().
			WithCode(errors.RequestParameterInvalid).
			WithMessage("invalid rule body").
			WithError(err))
		return
	}
	rule.ID = id
	if err := validateRule(&rule); err != nil {
		c.Error(err)
		return
	}
	if err := h.rules.UpdateRule(c.Request.Context(), &rule); err != nil {
		c.Error(err)
		return
	}
	h.evictLifecycleRules(c.Request.Context())
	c.JSON(http.StatusOK, rest.SuccessResp(rule))
}

func (h *Handlers) handleDeleteRule(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.Error(errors.NewError().
			WithCode(errors.RequestParameterInvalid).
			WithMessagef("invalid rule id %q", c.Param("id")))
		return
	}
	if err := h.rules.DeleteRule(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}
	h.evictLifecycleRules(c.Request.Context())
	c.JSON(http.StatusOK, rest.SuccessResp(nil))
}

func (h *Handlers) evictLifecycleRules(ctx context.Context) {
	if err := h.deps.Caches.EvictLifecycleRules(ctx); err != nil {
		log.Warnf("Lifecycle-rule cache evict failed: %v", err)
	}
}

// Manual triggers run the same pass the schedulers run, detached from the
// request. 202 means started, not finished.
func (h *Handlers) handleRunEvaluation(c *gin.Context) {
	h.runDetached(c, "lifecycle evaluation", h.deps.Evaluator == nil, func(ctx context.Context) error {
		return h.deps.Evaluator.RunOnce(ctx)
	})
}

func (h *Handlers) handleRunMigration(c *gin.Context) {
	h.runDetached(c, "migration pass", h.deps.MigrationWorker == nil, func(ctx context.Context) error {
		return h.deps.MigrationWorker.RunOnce(ctx)
	})
}

func (h *Handlers) handleRunCompression(c *gin.Context) {
	h.runDetached(c, "compression pass", h.deps.CompressionWorker == nil, func(ctx context.Context) error {
		return h.deps.CompressionWorker.RunOnce(ctx)
	})
}

func (h *Handlers) handleRunPartitions(c *gin.Context) {
	h.runDetached(c, "partition maintenance", h.deps.Maintainer == nil, func(ctx context.Context) error {
		return h.deps.Maintainer.RunOnce(ctx)
	})
}

func (h *Handlers) runDetached(c *gin.Context, name string, missing bool, run func(ctx context.Context) error) {
	if missing {
		c.Error(errors.NewError().
			WithCode(errors.CodeLackOfConfig).
			WithMessagef("%s is not configured on this node", name))
		return
	}
	goroutineUtil.SafeGoroutine(func() {
		if err := run(context.Background()); err != nil {
			log.Errorf("Manual %s failed: %v", name, err)
		}
	})
	c.JSON(http.StatusAccepted, rest.SuccessResp(gin.H{"started": name}))
}

func (h *Handlers) handleListMigrationTasks(c *gin.Context) {
	rows, err := h.rules.ListMigrationTasks(c.Request.Context(), c.Query("status"), listLimit(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rest.SuccessResp(rest.NewListData(rows, len(rows))))
}

type patientCorrectionRequest struct {
	PatientID int64  `json:"patientId"`
	Version   int64  `json:"version"`
	Kind      string `json:"kind"`
	NewValue  string `json:"newValue"`
}

func (h *Handlers) handleCorrectPatient(c *gin.Context) {
	tenantCode := middleware.TenantCode(c)
	var req patientCorrectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewError().
			WithCode(errors.RequestParameterInvalid).
			WithMessage("invalid correction body").
			WithError(err))
		return
	}
	updated, err := h.corrections.WithTenant(tenantCode).CorrectPatient(c.Request.Context(), database.PatientCorrection{
		PatientID: req.PatientID,
		Version:   req.Version,
		Kind:      req.Kind,
		NewValue:  req.NewValue,
		Actor:     actorFrom(c),
	})
	if err != nil {
		c.Error(err)
		return
	}
	h.recordAudit(c, tenantCode, "CORRECT_PATIENT",
		fmt.Sprintf("patient/%d", req.PatientID), req.Kind)
	c.JSON(http.StatusOK, rest.SuccessResp(updated))
}

type studyCorrectionRequest struct {
	StudyID     int64  `json:"studyId"`
	Version     int64  `json:"version"`
	Description string `json:"description"`
}

func (h *Handlers) handleCorrectStudy(c *gin.Context) {
	tenantCode := middleware.TenantCode(c)
	var req studyCorrectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewError().
			WithCode(errors.RequestParameterInvalid).
			WithMessage("invalid correction body").
			WithError(err))
		return
	}
	updated, err := h.corrections.WithTenant(tenantCode).
		CorrectStudyDescription(c.Request.Context(), req.StudyID, req.Version, req.Description, actorFrom(c))
	if err != nil {
		c.Error(err)
		return
	}
	h.recordAudit(c, tenantCode, "CORRECT_STUDY",
		fmt.Sprintf("study/%d", req.StudyID), "description")
	c.JSON(http.StatusOK, rest.SuccessResp(updated))
}

func (h *Handlers) handleListCorrectionTasks(c *gin.Context) {
	tenantCode := middleware.TenantCode(c)
	rows, err := h.corrections.WithTenant(tenantCode).
		ListTasks(c.Request.Context(), c.Query("status"), listLimit(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rest.SuccessResp(rest.NewListData(rows, len(rows))))
}

type compressionTriggerRequest struct {
	StudyID         int64  `json:"studyId"`
	CompressionType string `json:"compressionType"`
}

// handleTriggerCompression queues a compression task for one study outside
// rule evaluation.
func (h *Handlers) handleTriggerCompression(c *gin.Context) {
	tenantCode := middleware.TenantCode(c)
	var req compressionTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.StudyID == 0 || req.CompressionType == "" {
		c.Error(errors.NewError().
			WithCode(errors.RequestParameterInvalid).
			WithMessage("invalid compression trigger body").
			WithError(err))
		return
	}
	rules := h.rules.WithTenant(tenantCode)
	open, err := rules.HasOpenCompressionTask(c.Request.Context(), req.StudyID, req.CompressionType)
	if err != nil {
		c.Error(err)
		return
	}
	if open {
		c.Error(errors.NewError().
			WithCode(errors.Conflict).
			WithMessagef("study %d already has a %s task", req.StudyID, req.CompressionType))
		return
	}
	task := &model.CompressionTask{
		StudyFK:         req.StudyID,
		CompressionType: req.CompressionType,
		TargetTsuid:     lifecycle.TargetTransferSyntax(req.CompressionType),
		Status:          model.TaskStatusPending,
	}
	if err := rules.CreateCompressionTask(c.Request.Context(), task); err != nil {
		c.Error(err)
		return
	}
	h.recordAudit(c, tenantCode, "COMPRESS_TRIGGER",
		fmt.Sprintf("study/%d", req.StudyID), req.CompressionType)
	c.JSON(http.StatusAccepted, rest.SuccessResp(task))
}

func (h *Handlers) handleListCompressionTasks(c *gin.Context) {
	tenantCode := middleware.TenantCode(c)
	rows, err := h.rules.WithTenant(tenantCode).
		ListCompressionTasks(c.Request.Context(), c.Query("status"), listLimit(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rest.SuccessResp(rest.NewListData(rows, len(rows))))
}

func (h *Handlers) handleListAudit(c *gin.Context) {
	tenantCode := middleware.TenantCode(c)
	rows, err := h.audit.WithTenant(tenantCode).ListRecent(c.Request.Context(), listLimit(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rest.SuccessResp(rest.NewListData(rows, len(rows))))
}

func listLimit(c *gin.Context) int {
	limit, _ := strconv.Atoi(c.Query("limit"))
	if limit <= 0 || limit > 1000 {
		return defaultTaskListLimit
	}
	return limit
}
