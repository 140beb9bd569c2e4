// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package api

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/phtran-dev/spax/pkg/database/model"
	"github.com/phtran-dev/spax/pkg/errors"
	"github.com/phtran-dev/spax/pkg/ingest"
	"github.com/phtran-dev/spax/pkg/logger/log"
	"github.com/phtran-dev/spax/pkg/model/rest"
	"github.com/phtran-dev/spax/pkg/router/middleware"
	"github.com/phtran-dev/spax/pkg/tenant"
)

func (h *Handlers) registerIngestGroup(root *gin.RouterGroup) error {
	api := root.Group("/api/v1")
	api.POST("/:tenant/ingest", h.tenantMiddleware(), h.handleIngest)
	api.POST("/transfer/commit", h.handleTransferCommit)
	return nil
}

// handleIngest accepts multipart uploads under the files field, spools them
// to the incoming directory and enqueues one message per file. Indexing is
// asynchronous; a 200 means the files are durably queued, not yet searchable.
func (h *Handlers) handleIngest(c *gin.Context) {
	tenantCode := middleware.TenantCode(c)
	if h.deps.Monitor != nil && h.deps.Monitor.IngestBlocked() {
		c.Error(errors.NewError().
			WithCode(errors.DiskLow).
			WithMessage("ingest refused: archive volumes low on disk space"))
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.Error(errors.NewError().
			WithCode(errors.RequestParameterInvalid).
			WithMessage("expected multipart/form-data").
			WithError(err))
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		c.Error(errors.NewError().
			WithCode(errors.RequestParameterInvalid).
			WithMessage("no files field in upload"))
		return
	}

	dir := filepath.Join(h.deps.Cfg.Ingest.GetIncomingDir(), tenantCode)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		c.Error(errors.NewError().
			WithCode(errors.StorageUnavailable).
			WithMessagef("spool directory %s unavailable", dir).
			WithError(err))
		return
	}

	queued := 0
	for _, fh := range files {
		dst := filepath.Join(dir, uuid.NewString()+".dcm")
		if err := c.SaveUploadedFile(fh, dst); err != nil {
			c.Error(errors.NewError().
				WithCode(errors.StorageUnavailable).
				WithMessagef("spooling %s failed", fh.Filename).
				WithError(err))
			return
		}
		err := h.deps.Queue.Publish(c.Request.Context(), ingest.Message{
			TenantCode: tenantCode,
			FilePath:   dst,
			ReceivedAt: time.Now(),
		})
		if err != nil {
			c.Error(err)
			return
		}
		queued++
	}

	h.recordAudit(c, tenantCode, "INGEST", tenantCode, fmt.Sprintf("%d files accepted", queued))
	c.JSON(http.StatusOK, gin.H{"received": len(files), "queued": queued})
}

// handleTransferCommit enqueues files already present on shared storage, the
// handoff used by store-and-forward receivers that write directly to the
// spool.
func (h *Handlers) handleTransferCommit(c *gin.Context) {
	var req struct {
		TenantCode string   `json:"tenantCode"`
		Files      []string `json:"files"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewError().
			WithCode(errors.RequestParameterInvalid).
			WithMessage("invalid commit body").
			WithError(err))
		return
	}
	if err := tenant.ValidateCode(req.TenantCode); err != nil {
		c.Error(errors.NewError().
			WithCode(errors.TenantNotFound).
			WithMessagef("invalid tenant %q", req.TenantCode).
			WithError(err))
		return
	}
	row, err := h.tenants.GetTenantByCode(c.Request.Context(), req.TenantCode)
	if err != nil {
		c.Error(err)
		return
	}
	if !row.Active {
		c.Error(errors.NewError().
			WithCode(errors.TenantNotFound).
			WithMessagef("tenant %q not found", req.TenantCode))
		return
	}
	if h.deps.Monitor != nil && h.deps.Monitor.IngestBlocked() {
		c.Error(errors.NewError().
			WithCode(errors.DiskLow).
			WithMessage("ingest refused: archive volumes low on disk space"))
		return
	}

	queued := 0
	for _, path := range req.Files {
		err := h.deps.Queue.Publish(c.Request.Context(), ingest.Message{
			TenantCode: req.TenantCode,
			FilePath:   path,
			ReceivedAt: time.Now(),
		})
		if err != nil {
			c.Error(err)
			return
		}
		queued++
	}

	h.recordAudit(c, req.TenantCode, "TRANSFER_COMMIT", req.TenantCode, fmt.Sprintf("%d files committed", queued))
	c.JSON(http.StatusOK, rest.SuccessResp(gin.H{"queued": queued}))
}

func (h *Handlers) recordAudit(c *gin.Context, tenantCode, action, target, detail string) {
	entry := &model.AuditLog{
		Actor:  actorFrom(c),
		Action: action,
		Target: target,
		Detail: detail,
	}
	if err := h.audit.WithTenant(tenantCode).Record(c.Request.Context(), entry); err != nil {
		log.Warnf("Audit record %s/%s failed: %v", tenantCode, action, err)
	}
}

func actorFrom(c *gin.Context) string {
	if actor := c.GetHeader("X-Actor"); actor != "" {
		return actor
	}
	return "anonymous"
}
