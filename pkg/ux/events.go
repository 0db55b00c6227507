// Copyright (C) 2025 Nora Labs (engineering@noralabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides the consumer side of the Nora chat stream: SSE line
// parsing, terminal-shape normalization, and the turn reducer that rebuilds
// conversation state from a chunked byte stream.
//
// Single Responsibility:
//
//	This file defines the client-side event model and the normalization of
//	the historical terminal payload shapes into one FinalResult. Shape
//	branching happens here, exactly once, at the stream boundary. Nothing
//	deeper in the call chain inspects raw payload maps.
package ux

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/noralabs/nora/services/orchestrator/datatypes"
)

// =============================================================================
// Stream Event Model
// =============================================================================

// StreamEventType classifies a parsed line from the chat stream.
type StreamEventType string

const (
	// StreamEventNodeStart is a progress frame announcing a node began.
	StreamEventNodeStart StreamEventType = "node_start"

	// StreamEventNodeComplete is a progress frame announcing a node finished.
	StreamEventNodeComplete StreamEventType = "node_complete"

	// StreamEventFinal is a terminal payload in any of the accepted shapes.
	StreamEventFinal StreamEventType = "final"

	// StreamEventError is a server-reported stream error.
	StreamEventError StreamEventType = "error"

	// StreamEventDone is the literal completion sentinel.
	StreamEventDone StreamEventType = "done"
)

// StreamEvent is one parsed unit of the chat stream.
//
// # Description
//
// A StreamEvent is produced by the SSE parser for every meaningful data
// line. Progress frames carry Node and Message; terminal frames carry the
// already-normalized Final payload. Empty lines and comments never become
// events.
//
// # Fields
//
//   - Type: Discriminator for the union below.
//   - Node: Pipeline node name (progress frames only).
//   - Message: Human-readable progress or error text.
//   - Final: Normalized terminal payload (terminal frames only).
type StreamEvent struct {
	Type    StreamEventType
	Node    string
	Message string
	Final   *datatypes.FinalResult
}

// IsTerminal reports whether this event concludes the turn.
func (e *StreamEvent) IsTerminal() bool {
	return e.Type == StreamEventFinal || e.Type == StreamEventDone || e.Type == StreamEventError
}

// =============================================================================
// Conversation State
// =============================================================================

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one entry in the session's message list.
type ChatMessage struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Advisory  bool      `json:"advisory,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AnalysisSnapshot captures the classification attached to a terminal
// payload, with the time it was received. It is stored for optional
// display and never rendered by default.
type AnalysisSnapshot struct {
	Classification datatypes.Classification `json:"classification"`
	ReceivedAt     time.Time                `json:"received_at"`
}

// =============================================================================
// Terminal Shape Normalization
// =============================================================================

// rawFrame is the superset of every payload shape the server has ever
// emitted on the chat stream. One struct, decoded once per line.
type rawFrame struct {
	Type    string          `json:"type"`
	Node    string          `json:"node"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`

	// Flattened terminal shape.
	InternalAnalysis *datatypes.InternalAnalysis `json:"internal_analysis"`
	FinalResponse    *datatypes.FinalResponse    `json:"final_response"`

	// Legacy generic shape.
	Response *legacyResponse `json:"response"`
}

// legacyResponse is the oldest terminal shape still accepted:
// {"response": {"data": "...", "citations": [...]}}.
type legacyResponse struct {
	Data      string             `json:"data"`
	Citations []datatypes.Source `json:"citations"`
}

// NormalizeTerminal decodes a raw JSON payload and, if it matches one of
// the accepted terminal shapes, returns the equivalent FinalResult.
//
// # Description
//
// Three shapes are recognized:
//
//  1. Wrapped:   {"type": "final_result", "data": FinalResult}
//  2. Flattened: {"internal_analysis": ..., "final_response": ...}
//  3. Legacy:    {"response": {"data": ..., "citations": [...]}}
//
// A node_complete frame is never terminal, even when its data field looks
// like a final payload. Anything else returns (nil, false).
//
// # Inputs
//
//   - payload: One JSON object from a data line, without the SSE prefix.
//
// # Outputs
//
//   - *datatypes.FinalResult: The normalized terminal payload, or nil.
//   - bool: True when the payload matched a terminal shape.
func NormalizeTerminal(payload []byte) (*datatypes.FinalResult, bool) {
	var frame rawFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return nil, false
	}
	return normalizeFrame(&frame)
}

func normalizeFrame(frame *rawFrame) (*datatypes.FinalResult, bool) {
	// Progress and error frames are never terminal payloads, whatever
	// their data field contains.
	switch frame.Type {
	case string(datatypes.EventNodeStart), string(datatypes.EventNodeComplete), string(datatypes.EventError):
		return nil, false
	}

	if frame.Type == string(datatypes.EventFinalResult) {
		var final datatypes.FinalResult
		if err := json.Unmarshal(frame.Data, &final); err != nil {
			return nil, false
		}
		return &final, true
	}

	if frame.InternalAnalysis != nil && frame.FinalResponse != nil {
		return &datatypes.FinalResult{
			InternalAnalysis: *frame.InternalAnalysis,
			FinalResponse:    *frame.FinalResponse,
		}, true
	}

	if frame.Response != nil {
		return &datatypes.FinalResult{
			FinalResponse: datatypes.FinalResponse{
				ResponseType: datatypes.ResponseTypeRAG,
				RAGResponse: &datatypes.RAGResponse{
					Answer:  frame.Response.Data,
					Sources: frame.Response.Citations,
				},
			},
		}, true
	}

	return nil, false
}

// AnswerOf extracts the user-visible answer text from a terminal payload.
//
// Precedence: RAG answer first, then routing message, then empty. The
// routing team is appended when present so the handoff notice names who
// will follow up.
func AnswerOf(final *datatypes.FinalResult) string {
	if final == nil {
		return ""
	}
	if rag := final.FinalResponse.RAGResponse; rag != nil && strings.TrimSpace(rag.Answer) != "" {
		return rag.Answer
	}
	if routing := final.FinalResponse.RoutingResponse; routing != nil {
		return routing.Message
	}
	return ""
}

// SourcesOf returns the citation list of a terminal payload, nil when the
// turn resolved to a routing message.
func SourcesOf(final *datatypes.FinalResult) []datatypes.Source {
	if final == nil || final.FinalResponse.RAGResponse == nil {
		return nil
	}
	return final.FinalResponse.RAGResponse.Sources
}
