// Copyright (C) 2025 Nora Labs (engineering@noralabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noralabs/nora/services/orchestrator/datatypes"
	"github.com/noralabs/nora/services/orchestrator/pipeline"
)

// recordingClassifier captures the exact text handed to Classify.
type recordingClassifier struct {
	queries []string
}

func (r *recordingClassifier) Classify(ctx context.Context, query string) (datatypes.Classification, error) {
	r.queries = append(r.queries, query)
	return datatypes.DefaultClassification("ok"), nil
}

// flakyClassifier fails for queries containing a marker string.
type flakyClassifier struct{}

func (flakyClassifier) Classify(ctx context.Context, query string) (datatypes.Classification, error) {
	if bytes.Contains([]byte(query), []byte("EXPLODE")) {
		return datatypes.Classification{}, errors.New("model unavailable")
	}
	return datatypes.DefaultClassification("ok"), nil
}

func bulkRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	p := pipeline.New(flakyClassifier{}, nil, nil, 0)
	router.POST("/bulk", NewBulkHandler(p).HandleBulkClassify)
	return router
}

// uploadRequest builds a multipart POST with one file field.
func uploadRequest(t *testing.T, filename string, contents []byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(ticketFileField, filename)
	require.NoError(t, err)
	_, err = fw.Write(contents)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/bulk", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// =============================================================================
// Tests
// =============================================================================

func TestHandleBulkClassify_StreamsPerTicketResults(t *testing.T) {
	router := bulkRouter()

	file := []byte(`[
		{"id": "T-1", "body": "connector failing"},
		{"id": "T-2", "body": "how do I use the api"},
		{"id": "T-3", "body": "sso question"}
	]`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "tickets.json", file))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	frames := sseFrames(t, rec.Body.String())
	require.Len(t, frames, 4, "three results plus sentinel")
	assert.Equal(t, DoneSentinel, frames[3])

	wantIDs := []string{"T-1", "T-2", "T-3"}
	for i, want := range wantIDs {
		var res datatypes.TicketResult
		require.NoError(t, json.Unmarshal([]byte(frames[i]), &res))
		assert.Equal(t, want, res.ID, "results arrive in file order")
		require.NotNil(t, res.Classification)
		assert.Empty(t, res.Error)
	}
}

func TestHandleBulkClassify_FoldsSubjectIntoClassifierInput(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	classifier := &recordingClassifier{}
	router.POST("/bulk", NewBulkHandler(pipeline.New(classifier, nil, nil, 0)).HandleBulkClassify)

	file := []byte(`[
		{"id": "T-1", "subject": "Sync failing", "body": "The nightly job errors out."},
		{"id": "T-2", "body": "how do I use the api"}
	]`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "tickets.json", file))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, classifier.queries, 2)
	assert.Equal(t, "Sync failing\n\nThe nightly job errors out.", classifier.queries[0])
	assert.Equal(t, "how do I use the api", classifier.queries[1])
}

func TestHandleBulkClassify_FailedTicketDoesNotAbortStream(t *testing.T) {
	router := bulkRouter()

	file := []byte(`[
		{"id": "T-1", "body": "fine"},
		{"id": "T-2", "body": "EXPLODE"},
		{"id": "T-3", "body": "also fine"}
	]`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "tickets.json", file))

	frames := sseFrames(t, rec.Body.String())
	require.Len(t, frames, 4)

	var failed datatypes.TicketResult
	require.NoError(t, json.Unmarshal([]byte(frames[1]), &failed))
	assert.Equal(t, "T-2", failed.ID)
	assert.NotEmpty(t, failed.Error)
	assert.Nil(t, failed.Classification)

	var last datatypes.TicketResult
	require.NoError(t, json.Unmarshal([]byte(frames[2]), &last))
	assert.Equal(t, "T-3", last.ID)
	assert.Empty(t, last.Error)
}

func TestHandleBulkClassify_RejectsBadFileType(t *testing.T) {
	router := bulkRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "tickets.csv", []byte("id,body\n")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "file type")
}

func TestHandleBulkClassify_RejectsInvalidTickets(t *testing.T) {
	router := bulkRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "tickets.json", []byte(`[{"body": "no id"}]`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleBulkClassify_RejectsMissingFile(t *testing.T) {
	router := bulkRouter()

	req := httptest.NewRequest(http.MethodPost, "/bulk", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
