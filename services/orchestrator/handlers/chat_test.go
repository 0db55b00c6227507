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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noralabs/nora/services/orchestrator/datatypes"
	"github.com/noralabs/nora/services/orchestrator/pipeline"
)

// =============================================================================
// Test Doubles
// =============================================================================

type fixedClassifier struct {
	result datatypes.Classification
}

func (f *fixedClassifier) Classify(context.Context, string) (datatypes.Classification, error) {
	return f.result, nil
}

func escalatingPipeline() *pipeline.Pipeline {
	return pipeline.New(&fixedClassifier{result: datatypes.Classification{
		TopicTags: []datatypes.TopicTag{datatypes.TopicIssueReport},
		Sentiment: datatypes.SentimentNeutral,
		Priority:  datatypes.PriorityP2,
		Reasoning: "bug report",
	}}, nil, nil, 0)
}

func chatRouter(legacyFinal bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/chat", NewChatHandler(escalatingPipeline(), legacyFinal).HandleChat)
	return router
}

// sseFrames splits a response body into the JSON payloads of its frames.
func sseFrames(t *testing.T, body string) []string {
	t.Helper()
	var frames []string
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		require.True(t, strings.HasPrefix(block, "data: "), "unexpected frame %q", block)
		frames = append(frames, strings.TrimPrefix(block, "data: "))
	}
	return frames
}

// =============================================================================
// Tests
// =============================================================================

func TestHandleChat_StreamsEventsAndTerminal(t *testing.T) {
	router := chatRouter(false)

	req := httptest.NewRequest(http.MethodPost, "/chat",
		strings.NewReader(`{"query": "the connector is broken"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	frames := sseFrames(t, rec.Body.String())
	require.GreaterOrEqual(t, len(frames), 4, "expected node frames, terminal, and sentinel")

	// Last frame is the sentinel; the one before it is the terminal.
	assert.Equal(t, DoneSentinel, frames[len(frames)-1])

	var terminal struct {
		Type string                `json:"type"`
		Data datatypes.FinalResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(frames[len(frames)-2]), &terminal))
	assert.Equal(t, "final_result", terminal.Type)
	assert.Equal(t, datatypes.ResponseTypeRouting, terminal.Data.FinalResponse.ResponseType)
	require.NotNil(t, terminal.Data.FinalResponse.RoutingResponse)

	// Earlier frames are progress events only.
	terminalCount := 0
	for _, f := range frames[:len(frames)-1] {
		var probe struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal([]byte(f), &probe))
		if probe.Type == "final_result" {
			terminalCount++
		}
	}
	assert.Equal(t, 1, terminalCount, "exactly one terminal frame per stream")
}

func TestHandleChat_NodeEventOrder(t *testing.T) {
	router := chatRouter(false)

	req := httptest.NewRequest(http.MethodPost, "/chat",
		strings.NewReader(`{"query": "please fix this bug"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var nodes []string
	for _, f := range sseFrames(t, rec.Body.String()) {
		var ev datatypes.PipelineEvent
		if json.Unmarshal([]byte(f), &ev) == nil && ev.Type == datatypes.EventNodeStart {
			nodes = append(nodes, ev.Node)
		}
	}

	require.Equal(t, []string{
		datatypes.NodeClassify,
		datatypes.NodeRoutingMessage,
		datatypes.NodeFinalize,
	}, nodes)
}

func TestHandleChat_LegacyFinalShape(t *testing.T) {
	router := chatRouter(true)

	req := httptest.NewRequest(http.MethodPost, "/chat",
		strings.NewReader(`{"query": "the connector is broken"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	frames := sseFrames(t, rec.Body.String())
	terminal := frames[len(frames)-2]

	var flat map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(terminal), &flat))
	assert.Contains(t, flat, "internal_analysis")
	assert.Contains(t, flat, "final_response")
	assert.NotContains(t, flat, "type")
}

func TestHandleChat_RejectsMissingQuery(t *testing.T) {
	router := chatRouter(false)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestHandleChat_RejectsOversizedQuery(t *testing.T) {
	router := chatRouter(false)

	body, err := json.Marshal(map[string]string{
		"query": strings.Repeat("a", datatypes.MaxQueryBytes+1),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleChat_RejectsMalformedJSON(t *testing.T) {
	router := chatRouter(false)

	req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"query":`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
