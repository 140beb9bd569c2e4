// Copyright (C) 2025-2026, SPAX contributors. All rights reserved.
// See LICENSE for license information.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (fx *apiFixture) uploadFiles(t *testing.T, path string, payloads ...[]byte) *bytes.Buffer {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for _, payload := range payloads {
		part, err := mw.CreateFormFile("files", "object.dcm")
		require.NoError(t, err)
		_, err = part.Write(payload)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	w := fx.do(t, http.MethodPost, path, mw.FormDataContentType(), body)
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())
	return w.Body
}

// TestIngest_QueuesUploads tests that uploaded files are spooled and one
// message per file lands on the queue
func TestIngest_QueuesUploads(t *testing.T) {
	fx := newAPIFixture(t)
	obj := buildDicom(defaultObject())

	body := fx.uploadFiles(t, "/api/v1/acme/ingest", obj, obj)

	var resp struct {
		Received int `json:"received"`
		Queued   int `json:"queued"`
	}
	require.NoError(t, json.Unmarshal(body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Received)
	assert.Equal(t, 2, resp.Queued)

	count, err := fx.queue.PendingCount(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestIngest_NoFilesField(t *testing.T) {
	fx := newAPIFixture(t)
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	require.NoError(t, mw.WriteField("note", "nothing attached"))
	require.NoError(t, mw.Close())

	w := fx.do(t, http.MethodPost, "/api/v1/acme/ingest", mw.FormDataContentType(), body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIngest_UnknownTenant(t *testing.T) {
	fx := newAPIFixture(t)
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("files", "object.dcm")
	require.NoError(t, err)
	_, err = part.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w := fx.do(t, http.MethodPost, "/api/v1/ghost/ingest", mw.FormDataContentType(), body)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTransferCommit(t *testing.T) {
	fx := newAPIFixture(t)

	w, resp := fx.doJSON(t, http.MethodPost, "/api/v1/transfer/commit", gin.H{
		"tenantCode": "acme",
		"files":      []string{"/spool/acme/a.dcm", "/spool/acme/b.dcm"},
	})
	require.Equal(t, http.StatusOK, w.Code, "body: %s", w.Body.String())

	var data struct {
		Queued int `json:"queued"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, 2, data.Queued)

	count, err := fx.queue.PendingCount(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestTransferCommit_InactiveTenant(t *testing.T) {
	fx := newAPIFixture(t)
	require.NoError(t, fx.helper.DB.Table("tenant").
		Where("code = ?", "acme").
		Update("active", false).Error)

	w, _ := fx.doJSON(t, http.MethodPost, "/api/v1/transfer/commit", gin.H{
		"tenantCode": "acme", "files": []string{"/spool/acme/a.dcm"},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
