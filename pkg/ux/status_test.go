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
	"testing"

	"github.com/noralabs/nora/services/orchestrator/datatypes"
)

func TestStatusFor_KnownNodes(t *testing.T) {
	cases := []struct {
		node string
		want string
	}{
		{datatypes.NodeClassify, "Analyzing your question..."},
		{datatypes.NodeDocumentSearch, "Searching the knowledge base..."},
		{datatypes.NodeAgent, "Drafting an answer..."},
		{datatypes.NodeRoutingMessage, "Finding the right team..."},
		{datatypes.NodeFinalize, "Wrapping up..."},
	}

	for _, tc := range cases {
		got := StatusFor(tc.node, "Processing "+tc.node+"...")
		if got != tc.want {
			t.Errorf("StatusFor(%q) = %q, want %q", tc.node, got, tc.want)
		}
	}
}

func TestStatusFor_UnknownNodeStripsVerbs(t *testing.T) {
	cases := []struct {
		message string
		want    string
	}{
		{"Processing reranking...", "Reranking..."},
		{"Completed reranking", "Reranking..."},
		{"custom step", "Custom step..."},
		{"", "Working..."},
		{"über-schritt läuft", "Über-schritt läuft..."},
		{"検索中", "検索中..."},
	}

	for _, tc := range cases {
		got := StatusFor("reranking", tc.message)
		if got != tc.want {
			t.Errorf("StatusFor(unknown, %q) = %q, want %q", tc.message, got, tc.want)
		}
	}
}
