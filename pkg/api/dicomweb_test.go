// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package api

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"testing"

	"github.com/phtran-dev/spax/pkg/database/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStow_StoresAndIndexes tests that a single-part STOW lands the file on
// the hot volume, indexes it and answers with a ReferencedSOPSequence
func TestStow_StoresAndIndexes(t *testing.T) {
	fx := newAPIFixture(t)
	obj := defaultObject()

	w := fx.stow(t, http.StatusOK, buildDicom(obj))
	assert.Equal(t, contentTypeDicomJSON, w.Header().Get("Content-Type"))

	var resp map[string]struct {
		VR    string            `json:"vr"`
		Value []json.RawMessage `json:"Value"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	referenced, ok := resp["00081199"]
	require.True(t, ok, "missing ReferencedSOPSequence")
	assert.Equal(t, "SQ", referenced.VR)
	require.Len(t, referenced.Value, 1)
	assert.Contains(t, string(referenced.Value[0]),
		fmt.Sprintf("/dicomweb/acme/studies/%s/series/%s/instances/%s", obj.studyUID, obj.seriesUID, obj.sopUID))
	_, failed := resp["00081198"]
	assert.False(t, failed, "unexpected FailedSOPSequence")

	instance := &model.Instance{}
	require.NoError(t, fx.helper.DB.First(instance, "sop_instance_uid = ?", obj.sopUID).Error)
	assert.Equal(t, int64(1), instance.VolumeID)
	assert.Equal(t, 1, instance.NumFrames)
}

// TestStow_PartialFailure tests that a batch with one unparsable part stores
// the rest and reports 202 with both sequences
func TestStow_PartialFailure(t *testing.T) {
	fx := newAPIFixture(t)
	obj := defaultObject()

	w := fx.stow(t, http.StatusAccepted, buildDicom(obj), []byte("not a dicom file"))

	var resp map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp, "00081199")
	assert.Contains(t, resp, "00081198")

	assert.Equal(t, int64(1), fx.helper.Count(model.TableNameInstance))
}

// TestStow_AllFailed tests that a batch of garbage indexes nothing and
// answers 409
func TestStow_AllFailed(t *testing.T) {
	fx := newAPIFixture(t)
	fx.stow(t, http.StatusConflict, []byte("garbage"))
	assert.Equal(t, int64(0), fx.helper.Count(model.TableNameInstance))
}

// TestStow_RejectsNonMultipart tests the content-type guard
func TestStow_RejectsNonMultipart(t *testing.T) {
	fx := newAPIFixture(t)
	w := fx.do(t, http.MethodPost, "/dicomweb/acme/studies", "application/json", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestQidoStudies tests the study search after a store, by keyword and by tag
// hex
func TestQidoStudies(t *testing.T) {
	fx := newAPIFixture(t)
	obj := defaultObject()
	fx.stow(t, http.StatusOK, buildDicom(obj))

	for _, query := range []string{"PatientID=P1", "00100020=P1"} {
		w := fx.do(t, http.MethodGet, "/dicomweb/acme/studies?"+query, "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, contentTypeDicomJSON, w.Header().Get("Content-Type"))

		var datasets []map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &datasets))
		require.Len(t, datasets, 1)
		study := datasets[0]["0020000D"].(map[string]interface{})
		assert.Equal(t, obj.studyUID, study["Value"].([]interface{})[0])
	}

	w := fx.do(t, http.MethodGet, "/dicomweb/acme/studies?PatientID=NOBODY", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", w.Body.String())
}

// TestQidoSeriesAndInstances tests the series and instance levels
func TestQidoSeriesAndInstances(t *testing.T) {
	fx := newAPIFixture(t)
	obj := defaultObject()
	fx.stow(t, http.StatusOK, buildDicom(obj))

	w := fx.do(t, http.MethodGet, "/dicomweb/acme/studies/"+obj.studyUID+"/series", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var series []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &series))
	require.Len(t, series, 1)

	w = fx.do(t, http.MethodGet,
		"/dicomweb/acme/studies/"+obj.studyUID+"/series/"+obj.seriesUID+"/instances", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var instances []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &instances))
	require.Len(t, instances, 1)
	sop := instances[0]["00080018"].(map[string]interface{})
	assert.Equal(t, obj.sopUID, sop["Value"].([]interface{})[0])
}

// TestUnknownTenant tests that an unregistered tenant code renders 404 before
// any tenant-scope query
func TestUnknownTenant(t *testing.T) {
	fx := newAPIFixture(t)
	w := fx.do(t, http.MethodGet, "/dicomweb/ghost/studies", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestWadoInstance tests that retrieval returns the stored bytes unchanged
func TestWadoInstance(t *testing.T) {
	fx := newAPIFixture(t)
	obj := defaultObject()
	raw := buildDicom(obj)
	fx.stow(t, http.StatusOK, raw)

	w := fx.do(t, http.MethodGet, fmt.Sprintf(
		"/dicomweb/acme/studies/%s/series/%s/instances/%s", obj.studyUID, obj.seriesUID, obj.sopUID), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, contentTypeDicom, w.Header().Get("Content-Type"))
	assert.Equal(t, raw, w.Body.Bytes())
}

// TestWadoInstance_NotFound tests the miss path
func TestWadoInstance_NotFound(t *testing.T) {
	fx := newAPIFixture(t)
	obj := defaultObject()
	fx.stow(t, http.StatusOK, buildDicom(obj))

	w := fx.do(t, http.MethodGet, fmt.Sprintf(
		"/dicomweb/acme/studies/%s/series/%s/instances/9.9.9", obj.studyUID, obj.seriesUID), "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// TestWadoSeries_MultipartLayout tests the exact byte layout of the
// multipart/related response
func TestWadoSeries_MultipartLayout(t *testing.T) {
	fx := newAPIFixture(t)
	obj := defaultObject()
	raw := buildDicom(obj)
	fx.stow(t, http.StatusOK, raw)

	w := fx.do(t, http.MethodGet, fmt.Sprintf(
		"/dicomweb/acme/studies/%s/series/%s", obj.studyUID, obj.seriesUID), "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	mediaType, params, err := mime.ParseMediaType(w.Header().Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/related", mediaType)
	assert.Equal(t, contentTypeDicom, params["type"])
	boundary := params["boundary"]
	require.NotEmpty(t, boundary)

	expected := fmt.Sprintf("\r\n--%s\r\nContent-Type: %s\r\n\r\n", boundary, contentTypeDicom) +
		string(raw) +
		fmt.Sprintf("\r\n--%s--\r\n", boundary)
	assert.Equal(t, expected, w.Body.String())
}

// TestWadoStudy tests study-level retrieval spanning two series
func TestWadoStudy(t *testing.T) {
	fx := newAPIFixture(t)
	first := defaultObject()
	second := defaultObject()
	second.seriesUID = "1.2.1.2"
	second.sopUID = "1.2.1.2.1"
	fx.stow(t, http.StatusOK, buildDicom(first), buildDicom(second))

	w := fx.do(t, http.MethodGet, "/dicomweb/acme/studies/"+first.studyUID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	_, params, err := mime.ParseMediaType(w.Header().Get("Content-Type"))
	require.NoError(t, err)
	boundary := params["boundary"]
	parts := 0
	for i := 0; i+len(boundary) <= w.Body.Len(); i++ {
		if w.Body.String()[i:i+len(boundary)] == boundary {
			parts++
		}
	}
	// two part headers plus the terminator
	assert.Equal(t, 3, parts)
}

// TestFrames tests single-frame retrieval: one octet-stream part holding
// exactly the pixel data bytes
func TestFrames(t *testing.T) {
	fx := newAPIFixture(t)
	obj := defaultObject()
	fx.stow(t, http.StatusOK, buildDicom(obj))

	w := fx.do(t, http.MethodGet, fmt.Sprintf(
		"/dicomweb/acme/studies/%s/series/%s/instances/%s/frames/1",
		obj.studyUID, obj.seriesUID, obj.sopUID), "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	mediaType, params, err := mime.ParseMediaType(w.Header().Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/related", mediaType)
	assert.Equal(t, "application/octet-stream", params["type"])
	boundary := params["boundary"]

	expected := fmt.Sprintf("\r\n--%s\r\nContent-Type: application/octet-stream\r\n\r\n", boundary) +
		string(obj.pixels) +
		fmt.Sprintf("\r\n--%s--\r\n", boundary)
	assert.Equal(t, expected, w.Body.String())
}

// TestFrames_Validation tests the frame list guards
func TestFrames_Validation(t *testing.T) {
	fx := newAPIFixture(t)
	obj := defaultObject()
	fx.stow(t, http.StatusOK, buildDicom(obj))

	base := fmt.Sprintf("/dicomweb/acme/studies/%s/series/%s/instances/%s/frames/",
		obj.studyUID, obj.seriesUID, obj.sopUID)

	for _, list := range []string{"0", "abc", "1,x", "-2"} {
		w := fx.do(t, http.MethodGet, base+list, "", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, "frame list %q", list)
	}

	// past the last frame of a single-frame object
	w := fx.do(t, http.MethodGet, base+"2", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestSeriesMetadata tests the fallback document built from the stored file
func TestSeriesMetadata(t *testing.T) {
	fx := newAPIFixture(t)
	obj := defaultObject()
	fx.stow(t, http.StatusOK, buildDicom(obj))

	w := fx.do(t, http.MethodGet, fmt.Sprintf(
		"/dicomweb/acme/studies/%s/series/%s/metadata", obj.studyUID, obj.seriesUID), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, contentTypeDicomJSON, w.Header().Get("Content-Type"))

	var datasets []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &datasets))
	require.Len(t, datasets, 1)
	assert.Contains(t, datasets[0], "00080018")
}

// TestSeriesMetadata_NotFound tests that a missing series still renders a
// proper error response
func TestSeriesMetadata_NotFound(t *testing.T) {
	fx := newAPIFixture(t)
	w := fx.do(t, http.MethodGet, "/dicomweb/acme/studies/1.2.1/series/9.9.9/metadata", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
