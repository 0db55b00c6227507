// Copyright (C) 2025 Nora Labs (engineering@noralabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP endpoints of the orchestrator:
// streaming chat, bulk ticket classification, and service health.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noralabs/nora/services/orchestrator/datatypes"
	"github.com/noralabs/nora/services/orchestrator/observability"
	"github.com/noralabs/nora/services/orchestrator/pipeline"
)

// =============================================================================
// Chat Handler
// =============================================================================

// ChatHandler serves POST /chat as a server-sent event stream.
//
// # Description
//
//	Each request runs the full pipeline. Progress frames stream as the
//	nodes execute; the terminal frame carries the final result in the
//	shape selected by legacyFinal; the stream always ends with the
//	[DONE] sentinel, including after downgrades and fallbacks.
type ChatHandler struct {
	pipeline    *pipeline.Pipeline
	legacyFinal bool
	tracer      trace.Tracer
}

// NewChatHandler creates a ChatHandler. The pipeline must be non-nil.
func NewChatHandler(p *pipeline.Pipeline, legacyFinal bool) *ChatHandler {
	if p == nil {
		panic("handlers: NewChatHandler requires a non-nil pipeline")
	}
	return &ChatHandler{
		pipeline:    p,
		legacyFinal: legacyFinal,
		tracer:      otel.Tracer("orchestrator/handlers"),
	}
}

// HandleChat processes one streaming chat request.
//
// # Inputs
//
//	c - gin context carrying a datatypes.QueryRequest body.
//
// # Outputs
//
//	SSE stream of PipelineEvent frames, one terminal frame, [DONE].
//	400 with a JSON error body when validation fails before streaming.
func (h *ChatHandler) HandleChat(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "chat.stream")
	defer span.End()

	metrics := observability.DefaultMetrics
	start := time.Now()
	success := false

	// 1. Bind and validate before committing to a stream.
	var req datatypes.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if metrics != nil {
			metrics.RecordError(observability.EndpointChatStream, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		if metrics != nil {
			metrics.RecordError(observability.EndpointChatStream, observability.ErrorCodeValidation)
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "query failed validation"})
		return
	}

	// 2. Assign a session when the client did not send one.
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.Int("query.bytes", len(req.Query)),
	)

	// 3. Switch the response to SSE.
	SetSSEHeaders(c.Writer)
	writer, err := NewStreamWriter(c.Writer, h.legacyFinal)
	if err != nil {
		slog.Error("Streaming unsupported by response writer", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	if metrics != nil {
		metrics.StreamStarted(observability.EndpointChatStream)
		defer func() {
			metrics.StreamEnded(observability.EndpointChatStream)
			metrics.RecordRequest(observability.EndpointChatStream, success)
			metrics.RecordStreamDuration(observability.EndpointChatStream, success,
				time.Since(start).Seconds())
		}()
	}

	// 4. Run the pipeline, forwarding events as they happen.
	result, runErr := h.pipeline.Run(ctx, req.Query, func(ev datatypes.PipelineEvent) error {
		if metrics != nil && ev.Type == datatypes.EventNodeStart {
			metrics.RecordNode(ev.Node)
		}
		return writer.WriteEvent(ev)
	})
	if runErr != nil {
		// The client is usually gone at this point. Try the fallback
		// terminal anyway so well-behaved consumers still get closure.
		slog.Warn("Pipeline run interrupted",
			"session_id", sessionID, "error", runErr)
		if metrics != nil {
			if ctx.Err() != nil {
				metrics.RecordClientDisconnect(observability.EndpointChatStream)
			} else {
				metrics.RecordError(observability.EndpointChatStream, observability.ErrorCodeInternal)
			}
		}
	}

	// 5. Exactly one terminal frame, then the sentinel.
	if err := writer.WriteFinal(result); err != nil {
		slog.Debug("Failed to write terminal frame", "session_id", sessionID, "error", err)
		return
	}
	if err := writer.WriteDone(); err != nil {
		slog.Debug("Failed to write completion sentinel", "session_id", sessionID, "error", err)
		return
	}

	if metrics != nil {
		metrics.RecordOutcome(string(result.FinalResponse.ResponseType))
	}
	success = runErr == nil

	slog.Info("Chat stream completed",
		"session_id", sessionID,
		"response_type", result.FinalResponse.ResponseType,
		"duration_ms", time.Since(start).Milliseconds())
}
