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
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noralabs/nora/pkg/validation"
	"github.com/noralabs/nora/services/orchestrator/datatypes"
	"github.com/noralabs/nora/services/orchestrator/observability"
	"github.com/noralabs/nora/services/orchestrator/pipeline"
)

// =============================================================================
// Bulk Handler
// =============================================================================

// ticketFileField is the multipart form field carrying the ticket file.
const ticketFileField = "file"

// BulkHandler serves POST /bulk: classify a file of tickets and stream
// one result frame per ticket.
//
// # Description
//
//	The upload is validated with the same rules the CLI applies before
//	sending, so a well-behaved client never sees a validation error
//	here. Classification runs ticket by ticket; a ticket that fails
//	yields an error frame and the stream continues with the rest.
type BulkHandler struct {
	pipeline *pipeline.Pipeline
	tracer   trace.Tracer
}

// NewBulkHandler creates a BulkHandler. The pipeline must be non-nil.
func NewBulkHandler(p *pipeline.Pipeline) *BulkHandler {
	if p == nil {
		panic("handlers: NewBulkHandler requires a non-nil pipeline")
	}
	return &BulkHandler{
		pipeline: p,
		tracer:   otel.Tracer("orchestrator/handlers"),
	}
}

// HandleBulkClassify processes one bulk classification upload.
//
// # Outputs
//
//	SSE stream of datatypes.TicketResult frames, then [DONE].
//	400 with a JSON error body when the file fails validation.
func (h *BulkHandler) HandleBulkClassify(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "bulk.classify")
	defer span.End()

	metrics := observability.DefaultMetrics
	start := time.Now()
	success := false

	// 1. Pull the upload out of the multipart form, bounded.
	fileHeader, err := c.FormFile(ticketFileField)
	if err != nil {
		h.rejectUpload(c, metrics, "missing file field")
		return
	}
	if err := validation.ValidateTicketFilename(fileHeader.Filename); err != nil {
		h.rejectUpload(c, metrics, err.Error())
		return
	}
	if fileHeader.Size > validation.MaxTicketFileBytes {
		h.rejectUpload(c, metrics, "ticket file exceeds size limit")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read upload"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, validation.MaxTicketFileBytes+1))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read upload"})
		return
	}

	// 2. Re-validate server-side. Client-side checks are advisory only.
	tickets, err := validation.ParseTicketFile(data)
	if err != nil {
		h.rejectUpload(c, metrics, err.Error())
		return
	}
	span.SetAttributes(attribute.Int("tickets.count", len(tickets)))

	// 3. Stream results as classification progresses.
	SetSSEHeaders(c.Writer)
	writer, err := NewStreamWriter(c.Writer, false)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	if metrics != nil {
		metrics.StreamStarted(observability.EndpointBulkClassify)
		defer func() {
			metrics.StreamEnded(observability.EndpointBulkClassify)
			metrics.RecordRequest(observability.EndpointBulkClassify, success)
			metrics.RecordStreamDuration(observability.EndpointBulkClassify, success,
				time.Since(start).Seconds())
		}()
	}

	classified := 0
	for _, tk := range tickets {
		if ctx.Err() != nil {
			slog.Info("Bulk classification canceled mid-stream",
				"classified", classified, "total", len(tickets))
			if metrics != nil {
				metrics.RecordClientDisconnect(observability.EndpointBulkClassify)
			}
			return
		}

		result := h.classifyTicket(ctx, tk)
		if metrics != nil {
			metrics.RecordTicket(result.Error == "")
		}
		if result.Error == "" {
			classified++
		}

		if err := writer.WriteTicketResult(result); err != nil {
			slog.Debug("Bulk result write failed, client likely gone", "error", err)
			return
		}
	}

	if err := writer.WriteDone(); err != nil {
		return
	}
	success = true

	slog.Info("Bulk classification completed",
		"total", len(tickets),
		"classified", classified,
		"duration_ms", time.Since(start).Milliseconds())
}

// classifyTicket classifies one ticket, capturing failure as a result
// frame instead of aborting the stream.
func (h *BulkHandler) classifyTicket(ctx context.Context, tk validation.Ticket) datatypes.TicketResult {
	classification, err := h.pipeline.Classify(ctx, tk.Text())
	if err != nil {
		return datatypes.TicketResult{ID: tk.ID, Error: "classification failed"}
	}
	return datatypes.TicketResult{ID: tk.ID, Classification: &classification}
}

// rejectUpload answers a pre-stream validation failure.
func (h *BulkHandler) rejectUpload(c *gin.Context, metrics *observability.PipelineMetrics, reason string) {
	if metrics != nil {
		metrics.RecordError(observability.EndpointBulkClassify, observability.ErrorCodeValidation)
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": reason})
}
