// Copyright (C) 2025 Nora Labs (engineering@noralabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file contains the SSE line parser for the chat stream.
//
// Single Responsibility:
//
//	Parsers ONLY parse. They convert one line of wire text into a
//	StreamEvent, or nil for lines that carry no event. Buffering across
//	chunk boundaries belongs to the TurnReducer; rendering belongs to
//	the CLI. This separation keeps each piece independently testable.
package ux

import (
	"encoding/json"
	"strings"

	"github.com/noralabs/nora/services/orchestrator/datatypes"
)

// DoneSentinel is the literal data payload that closes a stream.
const DoneSentinel = "[DONE]"

// =============================================================================
// SSE Parser Interface
// =============================================================================

// SSEParser parses individual lines of a Server-Sent Events stream.
//
// # Description
//
// The parser is stateless and safe for concurrent use. Each call handles
// exactly one line with no memory of previous lines.
//
// # Example
//
//	parser := NewSSEParser()
//	event, err := parser.ParseLine(`data: {"type":"node_complete","node":"classify"}`)
//	if err != nil {
//	    // malformed JSON; callers typically skip the line
//	}
//	if event != nil {
//	    fmt.Println(event.Node) // "classify"
//	}
type SSEParser interface {
	// ParseLine parses a single line of SSE input.
	//
	// Parameters:
	//   - line: One line from the stream, without the trailing newline.
	//
	// Returns:
	//   - *StreamEvent: The parsed event, or nil for lines with no event.
	//   - error: Non-nil only when a data line fails to parse as JSON.
	//
	// Line handling:
	//   - Empty lines: Returns nil, nil (frame delimiter)
	//   - Comment lines (":"): Returns nil, nil (ignored)
	//   - "data: [DONE]": Returns the completion sentinel event
	//   - Data lines ("data: "): Parses the JSON payload
	//   - Other lines: Returns nil, nil (not part of this protocol)
	ParseLine(line string) (*StreamEvent, error)

	// ParseRawJSON parses a raw JSON payload into a StreamEvent.
	//
	// Use this when you already stripped the "data: " prefix.
	ParseRawJSON(payload []byte) (*StreamEvent, error)
}

// =============================================================================
// SSE Parser Implementation
// =============================================================================

type sseParser struct{}

// NewSSEParser creates a new stateless SSE parser.
func NewSSEParser() SSEParser {
	return &sseParser{}
}

// ParseLine parses a single SSE line.
func (p *sseParser) ParseLine(line string) (*StreamEvent, error) {
	line = strings.TrimSpace(line)

	// Empty lines are frame delimiters.
	if line == "" {
		return nil, nil
	}

	// Comments start with ":".
	if strings.HasPrefix(line, ":") {
		return nil, nil
	}

	var payload string
	switch {
	case strings.HasPrefix(line, "data: "):
		payload = strings.TrimPrefix(line, "data: ")
	case strings.HasPrefix(line, "data:"):
		// Some servers omit the space after the colon.
		payload = strings.TrimPrefix(line, "data:")
	default:
		// Not a data line. The chat protocol only uses data frames, so
		// anything else (event:, id:, stray text) carries no event.
		return nil, nil
	}

	payload = strings.TrimSpace(payload)
	if payload == DoneSentinel {
		return &StreamEvent{Type: StreamEventDone}, nil
	}

	return p.ParseRawJSON([]byte(payload))
}

// ParseRawJSON parses a JSON payload into a StreamEvent.
//
// Terminal shapes are normalized here so downstream consumers never see a
// raw payload map. Progress and error frames pass through with their node
// and message fields.
func (p *sseParser) ParseRawJSON(payload []byte) (*StreamEvent, error) {
	var frame rawFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return nil, err
	}

	if final, ok := normalizeFrame(&frame); ok {
		return &StreamEvent{Type: StreamEventFinal, Final: final}, nil
	}

	switch frame.Type {
	case string(datatypes.EventNodeStart):
		return &StreamEvent{Type: StreamEventNodeStart, Node: frame.Node, Message: frame.Message}, nil
	case string(datatypes.EventNodeComplete):
		return &StreamEvent{Type: StreamEventNodeComplete, Node: frame.Node, Message: frame.Message}, nil
	case string(datatypes.EventError):
		return &StreamEvent{Type: StreamEventError, Message: frame.Message}, nil
	}

	// Valid JSON that matches no known shape. Not an error: unknown frame
	// types from newer servers are skipped, same as malformed lines.
	return nil, nil
}

// =============================================================================
// Compile-time Interface Check
// =============================================================================

var _ SSEParser = (*sseParser)(nil)
