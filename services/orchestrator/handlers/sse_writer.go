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
	"fmt"
	"net/http"
	"sync"

	"github.com/noralabs/nora/services/orchestrator/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// DoneSentinel is the literal completion frame terminating every stream.
const DoneSentinel = "[DONE]"

// StreamWriter writes the support-chat SSE protocol to an HTTP response.
//
// # Description
//
//	Every frame is one JSON payload in the form "data: <json>\n\n". The
//	stream ends with the literal "data: [DONE]\n\n" sentinel. Terminal
//	frames take one of two shapes selected at construction time:
//
//	  wrapped:   {"type":"final_result","data":{...}}
//	  flattened: {"internal_analysis":{...},"final_response":{...}}
//
//	The flattened shape exists for older consumers that predate the
//	typed event envelope.
//
// # Thread Safety
//
//	Implementations must be safe for concurrent use. Streaming handlers
//	may interleave pipeline events with keep-alive writes.
//
// # Limitations
//
//   - Must be used with an http.Flusher-compatible ResponseWriter.
//   - Callers set SSE headers (SetSSEHeaders) before the first write.
type StreamWriter interface {
	// WriteEvent writes one progress frame.
	WriteEvent(ev datatypes.PipelineEvent) error

	// WriteFinal writes the terminal payload in the configured shape.
	WriteFinal(res datatypes.FinalResult) error

	// WriteError writes a stream-level error frame.
	WriteError(message string) error

	// WriteTicketResult writes one bulk classification result frame.
	WriteTicketResult(r datatypes.TicketResult) error

	// WriteDone writes the completion sentinel. Always the last frame.
	WriteDone() error
}

// =============================================================================
// Implementation
// =============================================================================

type streamWriter struct {
	writer      http.ResponseWriter
	flusher     http.Flusher
	legacyFinal bool
	mu          sync.Mutex
}

var _ StreamWriter = (*streamWriter)(nil)

// NewStreamWriter creates a StreamWriter over w.
//
// # Inputs
//
//	w - HTTP ResponseWriter. Must implement http.Flusher.
//	legacyFinal - emit the flattened terminal shape instead of the
//	              wrapped one.
//
// # Outputs
//
//	StreamWriter - ready to write frames.
//	error - non-nil if w does not support flushing.
func NewStreamWriter(w http.ResponseWriter, legacyFinal bool) (StreamWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &streamWriter{writer: w, flusher: flusher, legacyFinal: legacyFinal}, nil
}

// WriteEvent writes one progress frame and flushes immediately.
func (s *streamWriter) WriteEvent(ev datatypes.PipelineEvent) error {
	return s.writeJSON(ev)
}

// WriteFinal writes the terminal payload in the configured shape.
func (s *streamWriter) WriteFinal(res datatypes.FinalResult) error {
	if s.legacyFinal {
		return s.writeJSON(res)
	}
	return s.writeJSON(struct {
		Type datatypes.EventType   `json:"type"`
		Data datatypes.FinalResult `json:"data"`
	}{
		Type: datatypes.EventFinalResult,
		Data: res,
	})
}

// WriteError writes a stream-level error frame.
func (s *streamWriter) WriteError(message string) error {
	return s.writeJSON(datatypes.ErrorEvent(message))
}

// WriteTicketResult writes one bulk classification result frame.
func (s *streamWriter) WriteTicketResult(r datatypes.TicketResult) error {
	return s.writeJSON(r)
}

// WriteDone writes the completion sentinel.
func (s *streamWriter) WriteDone() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintf(s.writer, "data: %s\n\n", DoneSentinel); err != nil {
		return fmt.Errorf("failed to write completion sentinel: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// writeJSON serializes v and writes it as one SSE data frame.
func (s *streamWriter) writeJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal stream frame: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintf(s.writer, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("failed to write stream frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// SetSSEHeaders configures the response for server-sent events.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
