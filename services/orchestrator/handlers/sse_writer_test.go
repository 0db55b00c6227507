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
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noralabs/nora/services/orchestrator/datatypes"
)

func sampleResult() datatypes.FinalResult {
	return datatypes.FinalResult{
		InternalAnalysis: datatypes.InternalAnalysis{
			Classification: datatypes.Classification{
				TopicTags: []datatypes.TopicTag{datatypes.TopicHowTo},
				Sentiment: datatypes.SentimentCurious,
				Priority:  datatypes.PriorityP2,
			},
		},
		FinalResponse: datatypes.FinalResponse{
			ResponseType: datatypes.ResponseTypeRAG,
			RAGResponse: &datatypes.RAGResponse{
				Answer:     "Use the connector settings page.",
				Sources:    []datatypes.Source{{Title: "Guide", URL: "https://docs/g"}},
				Confidence: datatypes.DefaultConfidence,
			},
		},
	}
}

func TestStreamWriter_EventFrameFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewStreamWriter(rec, false)
	require.NoError(t, err)

	require.NoError(t, w.WriteEvent(datatypes.NodeStartEvent(datatypes.NodeClassify)))

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "data: {"), "frame must start with data: prefix")
	assert.True(t, strings.HasSuffix(body, "\n\n"), "frame must end with a blank line")

	var ev datatypes.PipelineEvent
	payload := strings.TrimSuffix(strings.TrimPrefix(body, "data: "), "\n\n")
	require.NoError(t, json.Unmarshal([]byte(payload), &ev))
	assert.Equal(t, datatypes.EventNodeStart, ev.Type)
	assert.Equal(t, datatypes.NodeClassify, ev.Node)
	assert.Equal(t, "Processing classify...", ev.Message)
}

func TestStreamWriter_WrappedFinalShape(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewStreamWriter(rec, false)
	require.NoError(t, err)

	require.NoError(t, w.WriteFinal(sampleResult()))

	payload := strings.TrimSuffix(strings.TrimPrefix(rec.Body.String(), "data: "), "\n\n")
	var frame map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(payload), &frame))

	var typ string
	require.NoError(t, json.Unmarshal(frame["type"], &typ))
	assert.Equal(t, "final_result", typ)

	var data datatypes.FinalResult
	require.NoError(t, json.Unmarshal(frame["data"], &data))
	assert.Equal(t, datatypes.ResponseTypeRAG, data.FinalResponse.ResponseType)
	require.NotNil(t, data.FinalResponse.RAGResponse)
	assert.Equal(t, "Use the connector settings page.", data.FinalResponse.RAGResponse.Answer)
}

func TestStreamWriter_FlattenedFinalShape(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewStreamWriter(rec, true)
	require.NoError(t, err)

	require.NoError(t, w.WriteFinal(sampleResult()))

	payload := strings.TrimSuffix(strings.TrimPrefix(rec.Body.String(), "data: "), "\n\n")
	var frame map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(payload), &frame))

	assert.NotContains(t, frame, "type", "flattened shape has no event envelope")
	assert.Contains(t, frame, "internal_analysis")
	assert.Contains(t, frame, "final_response")
}

func TestStreamWriter_DoneSentinel(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewStreamWriter(rec, false)
	require.NoError(t, err)

	require.NoError(t, w.WriteDone())
	assert.Equal(t, "data: [DONE]\n\n", rec.Body.String())
}

func TestStreamWriter_TicketResultFrame(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := NewStreamWriter(rec, false)
	require.NoError(t, err)

	c := datatypes.DefaultClassification("")
	require.NoError(t, w.WriteTicketResult(datatypes.TicketResult{ID: "T-1", Classification: &c}))

	payload := strings.TrimSuffix(strings.TrimPrefix(rec.Body.String(), "data: "), "\n\n")
	var res datatypes.TicketResult
	require.NoError(t, json.Unmarshal([]byte(payload), &res))
	assert.Equal(t, "T-1", res.ID)
	require.NotNil(t, res.Classification)
	assert.Empty(t, res.Error)
}

func TestSetSSEHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSSEHeaders(rec)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
}
