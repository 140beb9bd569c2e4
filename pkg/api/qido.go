// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/phtran-dev/spax/pkg/database"
	"github.com/phtran-dev/spax/pkg/database/filter"
	"github.com/phtran-dev/spax/pkg/database/model"
	"github.com/phtran-dev/spax/pkg/dicom"
	"github.com/phtran-dev/spax/pkg/logger/log"
	"github.com/phtran-dev/spax/pkg/router/middleware"
	"github.com/phtran-dev/spax/pkg/utils/goroutineUtil"
)

const (
	contentTypeDicomJSON = "application/dicom+json"
	contentTypeDicom     = "application/dicom"
)

func (h *Handlers) registerDicomWebGroup(root *gin.RouterGroup) error {
	dw := root.Group("/dicomweb/:tenant", h.tenantMiddleware())
	dw.GET("/studies", h.handleQidoStudies)
	dw.POST("/studies", h.handleStow)
	dw.GET("/studies/:studyUID", h.handleWadoStudy)
	dw.GET("/studies/:studyUID/series", h.handleQidoSeries)
	dw.GET("/studies/:studyUID/series/:seriesUID", h.handleWadoSeries)
	dw.GET("/studies/:studyUID/series/:seriesUID/metadata", h.handleSeriesMetadata)
	dw.GET("/studies/:studyUID/series/:seriesUID/instances", h.handleQidoInstances)
	dw.GET("/studies/:studyUID/series/:seriesUID/instances/:sopUID", h.handleWadoInstance)
	dw.GET("/studies/:studyUID/series/:seriesUID/instances/:sopUID/frames/:frameList", h.handleFrames)
	return nil
}

// qidoStudyFilter reads the study-level query parameters, accepting both the
// keyword and the tag-hex form of each attribute.
func qidoStudyFilter(c *gin.Context) filter.StudyFilter {
	q := func(names ...string) string {
		for _, n := range names {
			if v := c.Query(n); v != "" {
				return v
			}
		}
		return ""
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	return filter.StudyFilter{
		PatientName:     q("PatientName", "00100010"),
		PatientID:       q("PatientID", "00100020"),
		StudyDate:       q("StudyDate", "00080020"),
		AccessionNumber: q("AccessionNumber", "00080050"),
		Description:     q("StudyDescription", "00081030"),
		StudyUID:        q("StudyInstanceUID", "0020000D"),
		Limit:           limit,
		Offset:          offset,
	}
}

func (h *Handlers) handleQidoStudies(c *gin.Context) {
	tenantCode := middleware.TenantCode(c)
	rows, err := h.studies.WithTenant(tenantCode).SearchStudies(c.Request.Context(), qidoStudyFilter(c))
	if err != nil {
		c.Error(err)
		return
	}

	datasets := make([]*dicom.Dataset, 0, len(rows))
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		datasets = append(datasets, studyDataset(row))
		ids = append(ids, row.ID)
	}
	if err := writeDatasetArray(c, datasets); err != nil {
		log.Warnf("QIDO study response to %s aborted: %v", c.ClientIP(), err)
		return
	}

	// off the request path; feeds the LAST_ACCESS_DAYS lifecycle condition
	studies := h.studies.WithTenant(tenantCode)
	goroutineUtil.SafeGoroutine(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := studies.TouchLastAccessed(ctx, ids); err != nil {
			log.Warnf("QIDO last-accessed touch failed: %v", err)
		}
	})
}

func (h *Handlers) handleQidoSeries(c *gin.Context) {
	tenantCode := middleware.TenantCode(c)
	studyUID := c.Param("studyUID")
	rows, err := h.series.WithTenant(tenantCode).ListSeriesByStudyUID(c.Request.Context(), studyUID)
	if err != nil {
		c.Error(err)
		return
	}
	datasets := make([]*dicom.Dataset, 0, len(rows))
	for _, row := range rows {
		datasets = append(datasets, seriesDataset(studyUID, row))
	}
	if err := writeDatasetArray(c, datasets); err != nil {
		log.Warnf("QIDO series response to %s aborted: %v", c.ClientIP(), err)
	}
}

func (h *Handlers) handleQidoInstances(c *gin.Context) {
	tenantCode := middleware.TenantCode(c)
	seriesUID := c.Param("seriesUID")

	key, err := h.series.WithTenant(tenantCode).GetSeriesKey(c.Request.Context(), seriesUID)
	if err != nil {
		c.Error(err)
		return
	}
	var rows []*model.Instance
	if key != nil {
		rows, err = h.instances.WithTenant(tenantCode).ListBySeries(c.Request.Context(), key.SeriesID, key.CreatedDate)
		if err != nil {
			c.Error(err)
			return
		}
	}
	datasets := make([]*dicom.Dataset, 0, len(rows))
	for _, row := range rows {
		datasets = append(datasets, instanceDataset(row))
	}
	if err := writeDatasetArray(c, datasets); err != nil {
		log.Warnf("QIDO instance response to %s aborted: %v", c.ClientIP(), err)
	}
}

// writeDatasetArray streams the records as one JSON array, one element
// encoded at a time. Errors after the status line can only be logged.
func writeDatasetArray(c *gin.Context, datasets []*dicom.Dataset) error {
	c.Header("Content-Type", contentTypeDicomJSON)
	c.Status(http.StatusOK)
	w := c.Writer
	if _, err := w.Write([]byte{'['}); err != nil {
		return err
	}
	for i, ds := range datasets {
		if i > 0 {
			if _, err := w.Write([]byte{','}); err != nil {
				return err
			}
		}
		encoded, err := ds.MarshalJSON()
		if err != nil {
			return err
		}
		if _, err := w.Write(encoded); err != nil {
			return err
		}
	}
	_, err := w.Write([]byte{']'})
	return err
}

func studyDataset(row *database.StudyWithPatient) *dicom.Dataset {
	return dicom.NewDataset().
		AddString(dicom.TagPatientName, "PN", row.PatientName).
		AddString(dicom.TagPatientID, "LO", row.PatientID).
		AddString(dicom.TagPatientBirthDate, "DA", row.PatientBirthDate).
		AddString(dicom.TagPatientSex, "CS", row.PatientSex).
		AddString(dicom.TagStudyInstanceUID, "UI", row.StudyUID).
		AddString(dicom.TagStudyDate, "DA", row.StudyDate).
		AddString(dicom.TagStudyTime, "TM", row.StudyTime).
		AddString(dicom.TagAccessionNumber, "SH", row.AccessionNumber).
		AddString(dicom.TagStudyDescription, "LO", row.Description).
		AddString(dicom.TagReferringPhysician, "PN", row.ReferringPhysician).
		AddInt(dicom.TagNumberOfStudyRelatedSeries, "IS", row.NumSeries).
		AddInt(dicom.TagNumberOfStudyRelatedInstances, "IS", row.NumInstances)
}

func seriesDataset(studyUID string, row *model.Series) *dicom.Dataset {
	return dicom.NewDataset().
		AddString(dicom.TagStudyInstanceUID, "UI", studyUID).
		AddString(dicom.TagSeriesInstanceUID, "UI", row.SeriesUID).
		AddString(dicom.TagModality, "CS", row.Modality).
		AddString(dicom.TagSeriesNumber, "IS", row.SeriesNumber).
		AddString(dicom.TagSeriesDescription, "LO", row.Description).
		AddString(dicom.TagBodyPartExamined, "CS", row.BodyPart).
		AddString(dicom.TagInstitutionName, "LO", row.Institution).
		AddString(dicom.TagStationName, "SH", row.StationName).
		AddInt(dicom.TagNumberOfSeriesRelatedInstances, "IS", row.NumInstances)
}

func instanceDataset(row *model.Instance) *dicom.Dataset {
	return dicom.NewDataset().
		AddString(dicom.TagSOPClassUID, "UI", row.SOPClassUID).
		AddString(dicom.TagSOPInstanceUID, "UI", row.SOPInstanceUID).
		AddString(dicom.TagStudyInstanceUID, "UI", row.StudyUID).
		AddString(dicom.TagSeriesInstanceUID, "UI", row.SeriesUID).
		AddInt(dicom.TagInstanceNumber, "IS", row.InstanceNumber).
		AddInt(dicom.TagNumberOfFrames, "IS", row.NumFrames)
}
