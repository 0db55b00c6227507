// Copyright (C) 2025 Nora Labs (engineering@noralabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation shared by the server and
// the CLI. The same rules run client-side before an upload and
// server-side on the received file, so a request rejected here would
// also be rejected there.
package validation

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxTicketFileBytes caps the ticket file size.
	MaxTicketFileBytes = 2 * 1024 * 1024 // 2MB

	// MaxTicketBodyBytes caps a single ticket body.
	MaxTicketBodyBytes = 32 * 1024 // 32KB

	// MaxTicketsPerFile caps how many tickets one file may hold.
	MaxTicketsPerFile = 1000
)

// =============================================================================
// Ticket Type
// =============================================================================

// Ticket is one entry of an uploaded ticket file.
type Ticket struct {
	ID      string `json:"id" validate:"required,max=128"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body" validate:"required"`
}

// Text returns the classification input for the ticket, folding the
// subject into the body when present.
func (t Ticket) Text() string {
	if t.Subject == "" {
		return t.Body
	}
	return t.Subject + "\n\n" + t.Body
}

var ticketValidate = validator.New()

// =============================================================================
// File Validation
// =============================================================================

// ValidateTicketFilename checks that the upload looks like a JSON file.
func ValidateTicketFilename(name string) error {
	if ext := strings.ToLower(filepath.Ext(name)); ext != ".json" {
		return fmt.Errorf("unsupported file type %q: expected a .json file", ext)
	}
	return nil
}

// ParseTicketFile validates and decodes an uploaded ticket file.
//
// # Description
//
//	The file must be a JSON array of ticket objects, each with a
//	non-empty id and body. Errors name the first offending ticket so
//	callers can surface actionable messages.
//
// # Inputs
//
//	data - raw file contents.
//
// # Outputs
//
//	[]Ticket - decoded tickets, in file order.
//	error - non-nil when the file is oversized, not a JSON array, or
//	        any ticket fails field validation.
func ParseTicketFile(data []byte) ([]Ticket, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("ticket file is empty")
	}
	if len(data) > MaxTicketFileBytes {
		return nil, fmt.Errorf("ticket file is %d bytes, limit is %d", len(data), MaxTicketFileBytes)
	}

	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "[") {
		return nil, fmt.Errorf("ticket file must be a JSON array of tickets")
	}

	var tickets []Ticket
	if err := json.Unmarshal(data, &tickets); err != nil {
		return nil, fmt.Errorf("ticket file is not valid JSON: %w", err)
	}
	if len(tickets) == 0 {
		return nil, fmt.Errorf("ticket file contains no tickets")
	}
	if len(tickets) > MaxTicketsPerFile {
		return nil, fmt.Errorf("ticket file holds %d tickets, limit is %d", len(tickets), MaxTicketsPerFile)
	}

	seen := make(map[string]bool, len(tickets))
	for i, tk := range tickets {
		if err := ticketValidate.Struct(&tk); err != nil {
			return nil, fmt.Errorf("ticket %d (%q): missing or invalid id/body", i, tk.ID)
		}
		if len(tk.Body) > MaxTicketBodyBytes {
			return nil, fmt.Errorf("ticket %d (%q): body exceeds %d bytes", i, tk.ID, MaxTicketBodyBytes)
		}
		if seen[tk.ID] {
			return nil, fmt.Errorf("ticket %d: duplicate id %q", i, tk.ID)
		}
		seen[tk.ID] = true
	}

	return tickets, nil
}
