// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package api

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/phtran-dev/spax/pkg/database"
	"github.com/phtran-dev/spax/pkg/dicom"
	"github.com/phtran-dev/spax/pkg/errors"
	"github.com/phtran-dev/spax/pkg/logger/log"
	"github.com/phtran-dev/spax/pkg/router/middleware"
)

// stowFailureProcessing is the PS3.18 failure reason for objects the archive
// could not parse or store.
const stowFailureProcessing = 0x0110

type stowResult struct {
	item *database.IndexItem
	meta *dicom.Metadata
}

type stowFailure struct {
	sopClassUID    string
	sopInstanceUID string
}

// handleStow is STOW-RS: a multipart/related request of application/dicom
// parts, stored and indexed synchronously. Unlike the ingest endpoint the
// caller gets per-object results; 200 when everything landed, 202 for a mixed
// outcome, 409 when nothing did.
func (h *Handlers) handleStow(c *gin.Context) {
	tenantCode := middleware.TenantCode(c)
	if h.deps.Monitor != nil && h.deps.Monitor.IngestBlocked() {
		c.Error(errors.NewError().
			WithCode(errors.DiskLow).
			WithMessage("store refused: archive volumes low on disk space"))
		return
	}

	mediaType, params, err := mime.ParseMediaType(c.GetHeader("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		c.Error(errors.NewError().
			WithCode(errors.RequestParameterInvalid).
			WithMessage("expected multipart/related with a boundary").
			WithError(err))
		return
	}

	var stored []stowResult
	var failed []stowFailure
	reader := multipart.NewReader(c.Request.Body, params["boundary"])
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			c.Error(errors.NewError().
				WithCode(errors.RequestParameterInvalid).
				WithMessage("malformed multipart body").
				WithError(err))
			return
		}
		result, failure := h.stowOnePart(c, tenantCode, part)
		if result != nil {
			stored = append(stored, *result)
		} else {
			failed = append(failed, *failure)
		}
	}
	if len(stored) == 0 && len(failed) == 0 {
		c.Error(errors.NewError().
			WithCode(errors.RequestParameterInvalid).
			WithMessage("empty multipart body"))
		return
	}

	if len(stored) > 0 {
		items := make([]database.IndexItem, 0, len(stored))
		for _, r := range stored {
			items = append(items, *r.item)
		}
		result, err := h.deps.Indexer.UpsertBatch(c.Request.Context(), tenantCode, items)
		if err != nil {
			log.Errorf("STOW %s: index commit failed: %v", tenantCode, err)
			for _, r := range stored {
				failed = append(failed, stowFailure{
					sopClassUID:    r.meta.SOPClassUID,
					sopInstanceUID: r.meta.SOPInstanceUID,
				})
			}
			stored = nil
		} else {
			for _, s := range result.Series {
				if err := h.deps.Caches.EvictSeries(c.Request.Context(), tenantCode, s.StudyUID, s.SeriesUID); err != nil {
					log.Warnf("STOW %s: cache evict for series %s failed: %v", tenantCode, s.SeriesUID, err)
				}
				if h.deps.Metadata != nil {
					h.deps.Metadata.ScheduleRebuild(tenantCode, s)
				}
			}
		}
	}

	h.recordAudit(c, tenantCode, "STOW", tenantCode,
		fmt.Sprintf("%d stored, %d failed", len(stored), len(failed)))

	status := http.StatusOK
	switch {
	case len(stored) == 0:
		status = http.StatusConflict
	case len(failed) > 0:
		status = http.StatusAccepted
	}
	body, err := stowResponse(c, tenantCode, stored, failed).MarshalJSON()
	if err != nil {
		c.Error(err)
		return
	}
	c.Data(status, contentTypeDicomJSON, body)
}

// stowOnePart buffers one part, parses its header and places the bytes on
// the write volume. STOW objects arrive whole, so buffering one file is the
// price of parsing before placement.
func (h *Handlers) stowOnePart(c *gin.Context, tenantCode string, part *multipart.Part) (*stowResult, *stowFailure) {
	defer part.Close()
	data, err := io.ReadAll(part)
	if err != nil {
		log.Warnf("STOW %s: part read failed: %v", tenantCode, err)
		return nil, &stowFailure{}
	}
	meta, err := dicom.ParseHeader(bytes.NewReader(data))
	if err != nil {
		log.Warnf("STOW %s: part rejected: %v", tenantCode, err)
		return nil, &stowFailure{}
	}
	volumeID, storagePath, err := h.deps.Storer.StoreIncoming(
		c.Request.Context(), tenantCode, meta, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		log.Warnf("STOW %s: store of %s failed: %v", tenantCode, meta.SOPInstanceUID, err)
		return nil, &stowFailure{sopClassUID: meta.SOPClassUID, sopInstanceUID: meta.SOPInstanceUID}
	}
	return &stowResult{
		item: &database.IndexItem{
			Meta:        meta,
			VolumeID:    volumeID,
			StoragePath: storagePath,
			FileSize:    int64(len(data)),
		},
		meta: meta,
	}, nil
}

// stowResponse builds the PS3.18 store response dataset with the referenced
// and failed SOP sequences.
func stowResponse(c *gin.Context, tenantCode string, stored []stowResult, failed []stowFailure) *dicom.Dataset {
	ds := dicom.NewDataset()

	referenced := make([]*dicom.Dataset, 0, len(stored))
	for _, r := range stored {
		referenced = append(referenced, dicom.NewDataset().
			AddString(dicom.TagReferencedSOPClassUID, "UI", r.meta.SOPClassUID).
			AddString(dicom.TagReferencedSOPInstanceUID, "UI", r.meta.SOPInstanceUID).
			AddString(dicom.TagRetrieveURL, "UR", retrieveURL(c, tenantCode, r.meta)))
	}
	if len(referenced) > 0 {
		ds.AddSequence(dicom.TagReferencedSOPSequence, referenced...)
	}

	failures := make([]*dicom.Dataset, 0, len(failed))
	for _, f := range failed {
		failures = append(failures, dicom.NewDataset().
			AddString(dicom.TagReferencedSOPClassUID, "UI", f.sopClassUID).
			AddString(dicom.TagReferencedSOPInstanceUID, "UI", f.sopInstanceUID).
			AddInt(dicom.TagFailureReason, "US", stowFailureProcessing))
	}
	if len(failures) > 0 {
		ds.AddSequence(dicom.TagFailedSOPSequence, failures...)
	}
	return ds
}

func retrieveURL(c *gin.Context, tenantCode string, meta *dicom.Metadata) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/dicomweb/%s/studies/%s/series/%s/instances/%s",
		scheme, c.Request.Host, tenantCode, meta.StudyUID, meta.SeriesUID, meta.SOPInstanceUID)
}
