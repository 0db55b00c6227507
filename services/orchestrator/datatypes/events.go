// Copyright (C) 2025 Nora Labs (engineering@noralabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "strings"

// =============================================================================
// Pipeline Node Names
// =============================================================================

// Node names appear verbatim in wire events. Existing consumers map them
// to status phrases, so the strings are part of the protocol.
const (
	NodeClassify       = "classify"
	NodeAgent          = "agent"
	NodeDocumentSearch = "document_search"
	NodeRoutingMessage = "create_routing_message"
	NodeFinalize       = "finalize_response"
)

// =============================================================================
// Stream Event Types
// =============================================================================

// EventType identifies an SSE event payload.
type EventType string

const (
	// EventNodeStart announces that a pipeline node began work.
	EventNodeStart EventType = "node_start"

	// EventNodeComplete announces that a pipeline node finished.
	EventNodeComplete EventType = "node_complete"

	// EventFinalResult carries the terminal payload for the turn.
	EventFinalResult EventType = "final_result"

	// EventError reports a stream-level failure before the terminal
	// payload could be produced.
	EventError EventType = "error"
)

// PipelineEvent is one incremental frame of a streaming chat response.
//
// # Description
//
//	Progress frames carry Type node_start or node_complete plus the node
//	name and a human-readable message. node_complete frames may attach a
//	Data payload with intermediate results (for example the classification
//	after the classify node).
//
// # Limitations
//
//   - Data is an open map so intermediate payloads can vary per node
//     without a type per node. Terminal payloads use FinalResult instead.
type PipelineEvent struct {
	Type    EventType      `json:"type"`
	Node    string         `json:"node,omitempty"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// NodeStartEvent builds the standard start frame for a node.
func NodeStartEvent(node string) PipelineEvent {
	return PipelineEvent{
		Type:    EventNodeStart,
		Node:    node,
		Message: "Processing " + nodeLabel(node) + "...",
	}
}

// NodeCompleteEvent builds the standard completion frame for a node.
// data may be nil when the node has no intermediate payload to share.
func NodeCompleteEvent(node string, data map[string]any) PipelineEvent {
	return PipelineEvent{
		Type:    EventNodeComplete,
		Node:    node,
		Message: "Completed " + nodeLabel(node),
		Data:    data,
	}
}

// ErrorEvent builds a stream-level error frame.
func ErrorEvent(message string) PipelineEvent {
	return PipelineEvent{Type: EventError, Message: message}
}

// nodeLabel renders a node name for event messages.
func nodeLabel(node string) string {
	return strings.ReplaceAll(node, "_", " ")
}
