// Copyright (C) 2025 Nora Labs (engineering@noralabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/noralabs/nora/services/orchestrator/datatypes"
)

// statusPhrases maps pipeline node names to user-facing status text.
// The table is the single source of truth for progress wording; unknown
// nodes fall back to a cleanup of the raw server message.
var statusPhrases = map[string]string{
	datatypes.NodeClassify:       "Analyzing your question...",
	datatypes.NodeAgent:          "Drafting an answer...",
	datatypes.NodeDocumentSearch: "Searching the knowledge base...",
	datatypes.NodeRoutingMessage: "Finding the right team...",
	datatypes.NodeFinalize:       "Wrapping up...",
}

// StatusFor returns the status phrase for a progress event.
//
// Known nodes map through the phrase table. Unknown nodes strip the
// leading "Processing"/"Completed" verb from the raw message so the UI
// still shows something readable instead of wire text.
func StatusFor(node, message string) string {
	if phrase, ok := statusPhrases[node]; ok {
		return phrase
	}
	return cleanStatusMessage(message)
}

func cleanStatusMessage(message string) string {
	message = strings.TrimSpace(message)
	for _, verb := range []string{"Processing ", "Completed "} {
		if strings.HasPrefix(message, verb) {
			message = strings.TrimPrefix(message, verb)
			break
		}
	}
	message = strings.TrimSuffix(message, "...")
	if message == "" {
		return "Working..."
	}
	first, size := utf8.DecodeRuneInString(message)
	return string(unicode.ToUpper(first)) + message[size:] + "..."
}
