// Copyright (C) 2025 Nora Labs (engineering@noralabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/noralabs/nora/services/orchestrator/datatypes"
)

// =============================================================================
// Generator Interface
// =============================================================================

// Generator produces a grounded answer from a query and retrieved
// documents. A non-nil error downgrades the turn to a routing message;
// it never fails the turn outright.
type Generator interface {
	Generate(ctx context.Context, query string, docs []datatypes.Document) (datatypes.RAGResponse, error)
}

// =============================================================================
// LLM Generator
// =============================================================================

const generatorSystemPrompt = `You are a support assistant for a data catalog product.
Answer the user's question using ONLY the provided documentation excerpts.
Cite nothing outside them. If the excerpts do not cover the question, say so
and suggest contacting support. Keep the answer concise and actionable.`

// LLMGenerator answers questions with a chat-completion model grounded
// in retrieved documents.
type LLMGenerator struct {
	client *openai.Client
	model  string
}

var _ Generator = (*LLMGenerator)(nil)

// NewLLMGenerator builds a generator backed by an OpenAI-compatible
// endpoint. client must be non-nil; model falls back to gpt-4o-mini.
func NewLLMGenerator(client *openai.Client, model string) *LLMGenerator {
	if client == nil {
		panic("pipeline: LLMGenerator requires a non-nil client")
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &LLMGenerator{client: client, model: model}
}

// Generate builds a context block from docs and asks the model for an
// answer. The returned response cites every retrieved document.
func (g *LLMGenerator) Generate(ctx context.Context, query string, docs []datatypes.Document) (datatypes.RAGResponse, error) {
	if len(docs) == 0 {
		return datatypes.RAGResponse{}, fmt.Errorf("generation requires at least one document")
	}

	var b strings.Builder
	for i, d := range docs {
		fmt.Fprintf(&b, "[%d] %s (%s)\n%s\n\n", i+1, d.Title, d.URL, d.Content)
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: generatorSystemPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				Content: fmt.Sprintf("Documentation excerpts:\n\n%sQuestion: %s",
					b.String(), query),
			},
		},
	})
	if err != nil {
		return datatypes.RAGResponse{}, fmt.Errorf("answer generation: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return datatypes.RAGResponse{}, fmt.Errorf("answer generation: model returned no content")
	}

	sources := make([]datatypes.Source, 0, len(docs))
	for _, d := range docs {
		sources = append(sources, datatypes.SourceOf(d))
	}

	return datatypes.RAGResponse{
		Answer:     resp.Choices[0].Message.Content,
		Sources:    sources,
		Confidence: datatypes.DefaultConfidence,
	}, nil
}
