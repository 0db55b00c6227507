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

// =============================================================================
// Bulk Classification Types
// =============================================================================

// DefaultBatchSize is how many tickets a client submits per request.
// The upload itself is described by validation.Ticket; this package
// only carries the result frames.
const DefaultBatchSize = 5

// TicketResult is one frame of the bulk classification stream. Exactly
// one of Classification or Error is set.
type TicketResult struct {
	ID             string          `json:"id"`
	Classification *Classification `json:"classification,omitempty"`
	Error          string          `json:"error,omitempty"`
}
