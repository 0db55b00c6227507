// Copyright (C) 2025 Nora Labs (engineering@noralabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/noralabs/nora/pkg/ux"
	"github.com/noralabs/nora/pkg/validation"
	"github.com/noralabs/nora/services/orchestrator/datatypes"
)

// ticketFileField is the multipart form field the server expects.
const ticketFileField = "file"

// =============================================================================
// Bulk Service
// =============================================================================

// BulkService submits ticket files to POST /bulk and drains the streamed
// per-ticket classification results.
//
// All schema checks run locally before any bytes leave the machine:
// non-JSON-array content, tickets missing id or body, and files over the
// size cap are rejected without a network call.
type BulkService struct {
	baseURL string
	client  HTTPClient
	logger  *slog.Logger
}

// NewBulkService creates a bulk classification service.
func NewBulkService(baseURL string, logger *slog.Logger) *BulkService {
	return NewBulkServiceWithClient(&realHTTPClient{client: sharedClient()}, baseURL, logger)
}

// NewBulkServiceWithClient creates a bulk service with an injected HTTP
// client, for tests.
func NewBulkServiceWithClient(client HTTPClient, baseURL string, logger *slog.Logger) *BulkService {
	if logger == nil {
		logger = slog.Default()
	}
	return &BulkService{baseURL: baseURL, client: client, logger: logger}
}

// ValidateFile checks a ticket file locally and returns the parsed
// tickets. No network traffic happens here.
func (s *BulkService) ValidateFile(filename string, content []byte) ([]validation.Ticket, error) {
	if err := validation.ValidateTicketFilename(filename); err != nil {
		return nil, err
	}
	return validation.ParseTicketFile(content)
}

// ClassifyTickets submits one batch of tickets as an independent
// streamed run and returns its per-ticket results in arrival order.
//
// # Inputs
//
//   - ctx: Context for cancellation; aborts the upload and the read.
//   - tickets: Pre-validated tickets, typically one batch.
//
// # Outputs
//
//   - []datatypes.TicketResult: One entry per ticket the server
//     processed, successes and per-ticket failures alike.
//   - error: Network failure, non-success status, or a stream-level
//     error frame. Per-ticket error entries are not errors.
func (s *BulkService) ClassifyTickets(ctx context.Context, tickets []validation.Ticket) ([]datatypes.TicketResult, error) {
	body, contentType, err := buildTicketUpload(tickets)
	if err != nil {
		return nil, fmt.Errorf("build upload: %w", err)
	}

	resp, err := s.client.Post(ctx, s.baseURL+"/bulk", contentType, body)
	if err != nil {
		return nil, fmt.Errorf("bulk request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			s.logger.Error("failed to close response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, string(errBody))
	}

	return s.drainResults(ctx, resp.Body)
}

// drainResults reads the result stream to completion.
func (s *BulkService) drainResults(ctx context.Context, body io.Reader) ([]datatypes.TicketResult, error) {
	var results []datatypes.TicketResult

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		if payload == ux.DoneSentinel {
			return results, nil
		}

		var frame struct {
			Type string `json:"type"`
			datatypes.TicketResult
		}
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			// Malformed frames are skipped, same as the chat reducer.
			s.logger.Debug("skipping malformed bulk frame", "error", err)
			continue
		}
		if frame.Type == string(datatypes.EventError) {
			return results, fmt.Errorf("server reported stream error")
		}
		if frame.ID != "" {
			results = append(results, frame.TicketResult)
		}
	}
	if err := scanner.Err(); err != nil {
		return results, fmt.Errorf("read results: %w", err)
	}
	return results, nil
}

// buildTicketUpload marshals tickets back to a JSON array and wraps it
// in a multipart body under the expected field name.
func buildTicketUpload(tickets []validation.Ticket) (io.Reader, string, error) {
	payload, err := json.Marshal(tickets)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(ticketFileField, "tickets.json")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(payload); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}
