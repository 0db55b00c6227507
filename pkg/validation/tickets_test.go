// Copyright (C) 2025 Nora Labs (engineering@noralabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"fmt"
	"strings"
	"testing"
)

func TestValidateTicketFilename(t *testing.T) {
	if err := ValidateTicketFilename("tickets.json"); err != nil {
		t.Errorf("expected .json to pass, got %v", err)
	}
	if err := ValidateTicketFilename("tickets.csv"); err == nil {
		t.Error("expected .csv to be rejected")
	}
	if err := ValidateTicketFilename("tickets"); err == nil {
		t.Error("expected extensionless name to be rejected")
	}
}

func TestTicketText_FoldsSubject(t *testing.T) {
	tk := Ticket{ID: "T-1", Subject: "Sync failing", Body: "Details here."}
	if got := tk.Text(); got != "Sync failing\n\nDetails here." {
		t.Errorf("expected subject folded into text, got %q", got)
	}

	plain := Ticket{ID: "T-2", Body: "Details only."}
	if got := plain.Text(); got != "Details only." {
		t.Errorf("expected body unchanged without subject, got %q", got)
	}
}

func TestParseTicketFile_Valid(t *testing.T) {
	data := []byte(`[
		{"id": "T-1", "body": "Connector is failing"},
		{"id": "T-2", "subject": "SSO", "body": "How do I enable SAML?"}
	]`)

	tickets, err := ParseTicketFile(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tickets) != 2 {
		t.Fatalf("expected 2 tickets, got %d", len(tickets))
	}
	if tickets[0].ID != "T-1" || tickets[1].Subject != "SSO" {
		t.Errorf("tickets decoded out of order: %+v", tickets)
	}
}

func TestParseTicketFile_RejectsNonArray(t *testing.T) {
	if _, err := ParseTicketFile([]byte(`{"id":"T-1","body":"x"}`)); err == nil {
		t.Error("expected single object to be rejected")
	}
}

func TestParseTicketFile_RejectsEmpty(t *testing.T) {
	if _, err := ParseTicketFile(nil); err == nil {
		t.Error("expected empty file to be rejected")
	}
	if _, err := ParseTicketFile([]byte(`[]`)); err == nil {
		t.Error("expected empty array to be rejected")
	}
}

func TestParseTicketFile_RejectsMissingFields(t *testing.T) {
	cases := []string{
		`[{"body": "no id"}]`,
		`[{"id": "T-1"}]`,
		`[{"id": "", "body": "blank id"}]`,
	}
	for _, c := range cases {
		if _, err := ParseTicketFile([]byte(c)); err == nil {
			t.Errorf("expected %s to be rejected", c)
		}
	}
}

func TestParseTicketFile_RejectsDuplicateIDs(t *testing.T) {
	data := []byte(`[{"id":"T-1","body":"a"},{"id":"T-1","body":"b"}]`)
	if _, err := ParseTicketFile(data); err == nil {
		t.Error("expected duplicate ids to be rejected")
	}
}

func TestParseTicketFile_RejectsOversizedFile(t *testing.T) {
	big := fmt.Sprintf(`[{"id":"T-1","body":"%s"}]`, strings.Repeat("a", MaxTicketFileBytes))
	if _, err := ParseTicketFile([]byte(big)); err == nil {
		t.Error("expected oversized file to be rejected")
	}
}

func TestParseTicketFile_RejectsOversizedBody(t *testing.T) {
	data := fmt.Sprintf(`[{"id":"T-1","body":"%s"}]`, strings.Repeat("a", MaxTicketBodyBytes+1))
	if _, err := ParseTicketFile([]byte(data)); err == nil {
		t.Error("expected oversized body to be rejected")
	}
}

func TestParseTicketFile_RejectsMalformedJSON(t *testing.T) {
	if _, err := ParseTicketFile([]byte(`[{"id":"T-1","body":`)); err == nil {
		t.Error("expected malformed JSON to be rejected")
	}
}
