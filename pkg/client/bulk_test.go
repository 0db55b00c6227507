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
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	"github.com/noralabs/nora/pkg/validation"
)

func testTickets() []validation.Ticket {
	return []validation.Ticket{
		{ID: "T-1", Subject: "Connector down", Body: "Snowflake connector fails"},
		{ID: "T-2", Subject: "How-to", Body: "How do I add a glossary term?"},
	}
}

const bulkStream = "data: {\"id\":\"T-1\",\"classification\":{\"topic_tags\":[\"Connector\"],\"sentiment\":\"Frustrated\",\"priority\":\"P1 (Medium)\",\"reasoning\":\"failure report\"}}\n\n" +
	"data: {\"id\":\"T-2\",\"error\":\"classification failed\"}\n\n" +
	"data: [DONE]\n\n"

func TestBulkService_ClassifyTickets(t *testing.T) {
	mock := &mockHTTPClient{
		PostFunc: func(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
			return streamResponse(bulkStream), nil
		},
	}
	service := NewBulkServiceWithClient(mock, "http://orchestrator:8000", nil)

	results, err := service.ClassifyTickets(context.Background(), testTickets())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "T-1" || results[0].Classification == nil {
		t.Errorf("unexpected first result %+v", results[0])
	}
	if results[1].ID != "T-2" || results[1].Error != "classification failed" {
		t.Errorf("per-ticket failure must be a result entry, got %+v", results[1])
	}

	if mock.lastPostURL != "http://orchestrator:8000/bulk" {
		t.Errorf("unexpected URL %q", mock.lastPostURL)
	}
}

func TestBulkService_UploadIsMultipartWithFileField(t *testing.T) {
	mock := &mockHTTPClient{
		PostFunc: func(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
			return streamResponse("data: [DONE]\n\n"), nil
		},
	}
	service := NewBulkServiceWithClient(mock, "http://orchestrator:8000", nil)

	if _, err := service.ClassifyTickets(context.Background(), testTickets()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mediaType, params, err := mime.ParseMediaType(mock.lastContentType)
	if err != nil || mediaType != "multipart/form-data" {
		t.Fatalf("expected multipart content type, got %q (%v)", mock.lastContentType, err)
	}

	reader := multipart.NewReader(strings.NewReader(mock.lastPostBody), params["boundary"])
	part, err := reader.NextPart()
	if err != nil {
		t.Fatalf("reading multipart body: %v", err)
	}
	if part.FormName() != "file" {
		t.Errorf("expected form field 'file', got %q", part.FormName())
	}
	payload, _ := io.ReadAll(part)
	if !strings.HasPrefix(strings.TrimSpace(string(payload)), "[") {
		t.Errorf("expected JSON array payload, got %q", string(payload))
	}
}

func TestBulkService_ServerErrorIsFatalForBatch(t *testing.T) {
	mock := &mockHTTPClient{
		PostFunc: func(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusServiceUnavailable,
				Body:       io.NopCloser(strings.NewReader("overloaded")),
			}, nil
		},
	}
	service := NewBulkServiceWithClient(mock, "http://orchestrator:8000", nil)

	_, err := service.ClassifyTickets(context.Background(), testTickets())
	if err == nil {
		t.Fatal("expected error for non-success status")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("expected status in error, got %v", err)
	}
}

func TestBulkService_MalformedFramesAreSkipped(t *testing.T) {
	stream := "data: {broken\n\n" +
		"data: {\"id\":\"T-1\",\"classification\":{\"topic_tags\":[\"Other\"],\"sentiment\":\"Neutral\",\"priority\":\"P2 (Low)\",\"reasoning\":\"x\"}}\n\n" +
		"data: [DONE]\n\n"
	mock := &mockHTTPClient{
		PostFunc: func(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
			return streamResponse(stream), nil
		},
	}
	service := NewBulkServiceWithClient(mock, "http://orchestrator:8000", nil)

	results, err := service.ClassifyTickets(context.Background(), testTickets())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].ID != "T-1" {
		t.Errorf("expected malformed frame skipped, got %+v", results)
	}
}

// -----------------------------------------------------------------------------
// Local Validation
// -----------------------------------------------------------------------------

func TestBulkService_ValidateFile_RejectsBeforeNetwork(t *testing.T) {
	mock := &mockHTTPClient{
		PostFunc: func(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
			t.Fatal("validation failures must not reach the network")
			return nil, nil
		},
	}
	service := NewBulkServiceWithClient(mock, "http://orchestrator:8000", nil)

	cases := []struct {
		name     string
		filename string
		content  string
	}{
		{"wrong extension", "tickets.csv", `[{"id":"T-1","body":"x"}]`},
		{"not an array", "tickets.json", `{"id":"T-1","body":"x"}`},
		{"missing id", "tickets.json", `[{"body":"x"}]`},
		{"missing body", "tickets.json", `[{"id":"T-1"}]`},
	}

	for _, tc := range cases {
		if _, err := service.ValidateFile(tc.filename, []byte(tc.content)); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
	if mock.postCount != 0 {
		t.Errorf("expected zero network calls, got %d", mock.postCount)
	}
}

func TestBulkService_ValidateFile_AcceptsWellFormed(t *testing.T) {
	service := NewBulkServiceWithClient(&mockHTTPClient{}, "http://orchestrator:8000", nil)

	tickets, err := service.ValidateFile("tickets.json", []byte(`[{"id":"T-1","body":"help"},{"id":"T-2","subject":"s","body":"more help"}]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tickets) != 2 {
		t.Errorf("expected 2 tickets, got %d", len(tickets))
	}
}
