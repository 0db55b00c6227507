// Copyright (C) 2025 Nora Labs (engineering@noralabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

func newTestService(t *testing.T) Service {
	t.Helper()
	svc, err := New(Config{LLMBackend: "keyword", GinMode: gin.TestMode})
	require.NoError(t, err)
	return svc
}

// =============================================================================
// Config Tests
// =============================================================================

func TestApplyConfigDefaults_AllDefaults(t *testing.T) {
	result := applyConfigDefaults(Config{})

	assert.Equal(t, 8000, result.Port, "default port should be 8000")
	assert.Equal(t, "keyword", result.LLMBackend, "default backend should be keyword")
	assert.Equal(t, "SupportDocument", result.SupportClass)
	assert.Equal(t, 4, result.TopK)
	assert.Equal(t, "nora-otel-collector:4317", result.OTelEndpoint)
	assert.False(t, result.LegacyFinalShape, "legacy shape is opt-in")
}

func TestApplyConfigDefaults_PreservesCustomValues(t *testing.T) {
	result := applyConfigDefaults(Config{
		Port:         9000,
		LLMBackend:   "openai",
		TopK:         8,
		OTelEndpoint: "collector:4317",
	})

	assert.Equal(t, 9000, result.Port)
	assert.Equal(t, "openai", result.LLMBackend)
	assert.Equal(t, 8, result.TopK)
	assert.Equal(t, "collector:4317", result.OTelEndpoint)
}

// =============================================================================
// Service Tests
// =============================================================================

func TestNew_KeywordBackend(t *testing.T) {
	svc := newTestService(t)
	require.NotNil(t, svc.Router())
}

func TestService_HealthEndpoint(t *testing.T) {
	svc := newTestService(t)

	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestService_MetricsEndpoint(t *testing.T) {
	svc := newTestService(t)

	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestService_ChatEndpointStreams(t *testing.T) {
	svc := newTestService(t)

	req := httptest.NewRequest(http.MethodPost, "/chat",
		strings.NewReader(`{"query": "how do I configure lineage?"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "data: [DONE]")
}

func TestService_V1Alias(t *testing.T) {
	svc := newTestService(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat",
		strings.NewReader(`{"query": "what is a glossary term?"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestService_RequestIDHeader(t *testing.T) {
	svc := newTestService(t)

	rec := httptest.NewRecorder()
	svc.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}
