// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/phtran-dev/spax/pkg/cache"
	"github.com/phtran-dev/spax/pkg/dicom"
	"github.com/phtran-dev/spax/pkg/errors"
	"github.com/phtran-dev/spax/pkg/logger/log"
	"github.com/phtran-dev/spax/pkg/router/middleware"
)

// seriesLocations resolves every instance location of a series through the
// instance-locations cache. A miss loads the whole series in two queries
// (series to partition key, then one partition-pruned instance scan), which
// is what keeps N frame requests at one database round-trip.
func (h *Handlers) seriesLocations(ctx context.Context, tenantCode, seriesUID string) (cache.SeriesLocations, error) {
	return h.deps.Caches.InstanceLocations.GetOrLoad(ctx, cache.TenantKey(tenantCode, seriesUID),
		func(ctx context.Context) (cache.SeriesLocations, error) {
			var locs cache.SeriesLocations
			key, err := h.series.WithTenant(tenantCode).GetSeriesKey(ctx, seriesUID)
			if err != nil {
				return locs, err
			}
			if key == nil {
				return locs, errors.NewError().
					WithCode(errors.NotFound).
					WithMessagef("series %s not found", seriesUID)
			}
			rows, err := h.instances.WithTenant(tenantCode).ListBySeries(ctx, key.SeriesID, key.CreatedDate)
			if err != nil {
				return locs, err
			}
			locs.SeriesID = key.SeriesID
			locs.SeriesUID = key.SeriesUID
			locs.CreatedDate = key.CreatedDate
			for _, row := range rows {
				locs.StudyUID = row.StudyUID
				locs.Instances = append(locs.Instances, cache.InstanceLocation{
					InstanceID:        row.ID,
					SOPInstanceUID:    row.SOPInstanceUID,
					SOPClassUID:       row.SOPClassUID,
					InstanceNumber:    row.InstanceNumber,
					TransferSyntaxUID: row.TransferSyntaxUID,
					NumFrames:         row.NumFrames,
					FileSize:          row.FileSize,
					VolumeID:          row.VolumeID,
					StoragePath:       row.StoragePath,
				})
			}
			return locs, nil
		})
}

func findLocation(locs cache.SeriesLocations, sopUID string) (cache.InstanceLocation, bool) {
	for _, loc := range locs.Instances {
		if loc.SOPInstanceUID == sopUID {
			return loc, true
		}
	}
	return cache.InstanceLocation{}, false
}

// relatedWriter emits a multipart/related body byte for byte: each part is
// introduced by "\r\n--{boundary}\r\n" and a single Content-Type header, and
// the body ends with the "--" terminated boundary. Viewers parse this layout
// literally, so no multipart library sits in between.
type relatedWriter struct {
	w        io.Writer
	boundary string
}

func newRelatedWriter(w io.Writer) *relatedWriter {
	return &relatedWriter{w: w, boundary: strings.ReplaceAll(uuid.NewString(), "-", "")}
}

// contentType renders the top-level header value. extra is appended verbatim
// after the boundary parameter.
func (rw *relatedWriter) contentType(partType, extra string) string {
	return fmt.Sprintf("multipart/related; type=%q; boundary=%s%s", partType, rw.boundary, extra)
}

func (rw *relatedWriter) startPart(partType string) error {
	_, err := fmt.Fprintf(rw.w, "\r\n--%s\r\nContent-Type: %s\r\n\r\n", rw.boundary, partType)
	return err
}

func (rw *relatedWriter) finish() error {
	_, err := fmt.Fprintf(rw.w, "\r\n--%s--\r\n", rw.boundary)
	return err
}

// handleWadoInstance streams one stored file as application/dicom.
func (h *Handlers) handleWadoInstance(c *gin.Context) {
	tenantCode := middleware.TenantCode(c)
	seriesUID := c.Param("seriesUID")
	sopUID := c.Param("sopUID")

	locs, err := h.seriesLocations(c.Request.Context(), tenantCode, seriesUID)
	if err != nil {
		c.Error(err)
		return
	}
	loc, ok := findLocation(locs, sopUID)
	if !ok {
		c.Error(errors.NewError().
			WithCode(errors.NotFound).
			WithMessagef("instance %s not found", sopUID))
		return
	}

	provider, err := h.deps.Manager.Provider(loc.VolumeID)
	if err != nil {
		c.Error(err)
		return
	}
	rc, err := provider.Read(c.Request.Context(), loc.StoragePath)
	if err != nil {
		c.Error(err)
		return
	}
	defer rc.Close()

	c.Header("Content-Type", contentTypeDicom)
	c.Header("Content-Length", strconv.FormatInt(loc.FileSize, 10))
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		log.Warnf("WADO instance %s/%s stream aborted: %v", tenantCode, sopUID, err)
	}
}

// handleWadoSeries streams every instance of a series as a multipart/related
// body of application/dicom parts.
func (h *Handlers) handleWadoSeries(c *gin.Context) {
	tenantCode := middleware.TenantCode(c)
	seriesUID := c.Param("seriesUID")

	locs, err := h.seriesLocations(c.Request.Context(), tenantCode, seriesUID)
	if err != nil {
		c.Error(err)
		return
	}
	if len(locs.Instances) == 0 {
		c.Error(errors.NewError().
			WithCode(errors.NotFound).
			WithMessagef("series %s not found", seriesUID))
		return
	}
	h.streamDicomParts(c, tenantCode, locs.Instances)
}

// handleWadoStudy streams every instance of a study. Study UIDs are not
// unique, so this may span several study rows; the caller navigated in from a
// worklist and gets the union.
func (h *Handlers) handleWadoStudy(c *gin.Context) {
	tenantCode := middleware.TenantCode(c)
	studyUID := c.Param("studyUID")

	rows, err := h.instances.WithTenant(tenantCode).ListByStudyUID(c.Request.Context(), studyUID)
	if err != nil {
		c.Error(err)
		return
	}
	if len(rows) == 0 {
		c.Error(errors.NewError().
			WithCode(errors.NotFound).
			WithMessagef("study %s not found", studyUID))
		return
	}
	locations := make([]cache.InstanceLocation, 0, len(rows))
	for _, row := range rows {
		locations = append(locations, cache.InstanceLocation{
			SOPInstanceUID: row.SOPInstanceUID,
			VolumeID:       row.VolumeID,
			StoragePath:    row.StoragePath,
		})
	}
	h.streamDicomParts(c, tenantCode, locations)
}

func (h *Handlers) streamDicomParts(c *gin.Context, tenantCode string, locations []cache.InstanceLocation) {
	rw := newRelatedWriter(c.Writer)
	c.Header("Content-Type", rw.contentType(contentTypeDicom, ""))
	c.Status(http.StatusOK)
	for _, loc := range locations {
		if err := h.streamOnePart(c.Request.Context(), rw, tenantCode, loc); err != nil {
			log.Warnf("WADO multipart to %s aborted at %s: %v", c.ClientIP(), loc.SOPInstanceUID, err)
			return
		}
	}
	if err := rw.finish(); err != nil {
		log.Warnf("WADO multipart to %s aborted at terminator: %v", c.ClientIP(), err)
	}
}

func (h *Handlers) streamOnePart(ctx context.Context, rw *relatedWriter, tenantCode string, loc cache.InstanceLocation) error {
	provider, err := h.deps.Manager.Provider(loc.VolumeID)
	if err != nil {
		return err
	}
	rc, err := provider.Read(ctx, loc.StoragePath)
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := rw.startPart(contentTypeDicom); err != nil {
		return err
	}
	_, err = io.Copy(rw.w, rc)
	return err
}

// handleSeriesMetadata serves the per-series DICOM-JSON projection through
// the metadata builder: a persisted document when one exists, otherwise the
// provider-kind dependent fallback.
func (h *Handlers) handleSeriesMetadata(c *gin.Context) {
	tenantCode := middleware.TenantCode(c)
	seriesUID := c.Param("seriesUID")

	body := &deferredBody{c: c, contentType: contentTypeDicomJSON}
	err := h.deps.Metadata.Serve(c.Request.Context(), body, tenantCode, seriesUID)
	if err != nil {
		if !body.started {
			c.Error(err)
			return
		}
		log.Warnf("Series metadata %s/%s stream aborted: %v", tenantCode, seriesUID, err)
	}
}

// deferredBody holds the status line back until the first payload byte, so
// lookup errors can still render as a proper error response.
type deferredBody struct {
	c           *gin.Context
	contentType string
	started     bool
}

func (b *deferredBody) Write(p []byte) (int, error) {
	if !b.started {
		b.c.Header("Content-Type", b.contentType)
		b.c.Status(http.StatusOK)
		b.started = true
	}
	return b.c.Writer.Write(p)
}

// handleFrames serves selected pixel-data frames as multipart/related
// octet-stream parts, one part per requested frame in ascending order. Frames
// are delivered at their stored transfer syntax; compressed responses carry
// it as a transfer-syntax content-type parameter.
func (h *Handlers) handleFrames(c *gin.Context) {
	tenantCode := middleware.TenantCode(c)
	seriesUID := c.Param("seriesUID")
	sopUID := c.Param("sopUID")

	frames, err := parseFrameList(c.Param("frameList"))
	if err != nil {
		c.Error(err)
		return
	}

	locs, err := h.seriesLocations(c.Request.Context(), tenantCode, seriesUID)
	if err != nil {
		c.Error(err)
		return
	}
	loc, ok := findLocation(locs, sopUID)
	if !ok {
		c.Error(errors.NewError().
			WithCode(errors.NotFound).
			WithMessagef("instance %s not found", sopUID))
		return
	}

	numFrames := loc.NumFrames
	if numFrames < 1 {
		numFrames = 1
	}
	if frames[len(frames)-1] > numFrames {
		c.Error(errors.NewError().
			WithCode(errors.FrameOutOfRange).
			WithMessagef("frame %d out of range, instance has %d", frames[len(frames)-1], numFrames))
		return
	}

	provider, err := h.deps.Manager.Provider(loc.VolumeID)
	if err != nil {
		c.Error(err)
		return
	}

	kind := dicom.ClassifyFrameKind(loc.TransferSyntaxUID, numFrames)
	partType := "application/octet-stream"
	var tsParam string
	if !dicom.IsUncompressed(loc.TransferSyntaxUID) {
		tsParam = "; transfer-syntax=" + loc.TransferSyntaxUID
		partType += tsParam
	}

	rw := newRelatedWriter(c.Writer)
	c.Header("Content-Type", rw.contentType("application/octet-stream", tsParam))
	c.Status(http.StatusOK)

	// One fresh stream per frame. Viewers overwhelmingly request one frame
	// per call, so the re-read cost stays negligible.
	for _, frame := range frames {
		if err := rw.startPart(partType); err != nil {
			log.Warnf("Frame response to %s aborted: %v", c.ClientIP(), err)
			return
		}
		if err := h.streamOneFrame(c.Request.Context(), provider.Read, loc.StoragePath, frame, kind, rw.w); err != nil {
			log.Warnf("Frame %d of %s/%s aborted: %v", frame, tenantCode, sopUID, err)
			return
		}
	}
	if err := rw.finish(); err != nil {
		log.Warnf("Frame response to %s aborted at terminator: %v", c.ClientIP(), err)
	}
}

func (h *Handlers) streamOneFrame(ctx context.Context, open func(context.Context, string) (io.ReadCloser, error),
	path string, frame int, kind dicom.FrameKind, w io.Writer) error {
	rc, err := open(ctx, path)
	if err != nil {
		return err
	}
	defer rc.Close()
	return dicom.ExtractFrame(rc, frame, kind, w)
}

// parseFrameList parses the comma separated 1-based frame numbers of the
// request path and returns them sorted ascending.
func parseFrameList(raw string) ([]int, error) {
	parts := strings.Split(raw, ",")
	frames := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 1 {
			return nil, errors.NewError().
				WithCode(errors.BadFrameList).
				WithMessagef("invalid frame list %q", raw)
		}
		frames = append(frames, n)
	}
	sort.Ints(frames)
	return frames, nil
}
