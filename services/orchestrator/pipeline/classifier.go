// Copyright (C) 2025 Nora Labs (engineering@noralabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline implements the support-query processing pipeline: a
// deterministic state machine that classifies a query, routes it to either
// retrieval-augmented generation or human support, and produces exactly
// one terminal result per run.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/noralabs/nora/services/orchestrator/datatypes"
)

// =============================================================================
// Classifier Interface
// =============================================================================

// Classifier produces a triage classification for one query.
//
// # Description
//
//	Implementations never fail the turn: when no usable signal is
//	available they return the degraded default classification and a nil
//	error. A non-nil error is reserved for context cancellation.
type Classifier interface {
	Classify(ctx context.Context, query string) (datatypes.Classification, error)
}

// =============================================================================
// LLM Classifier
// =============================================================================

// classifierSystemPrompt constrains the model to the closed taxonomy and
// to a strict JSON shape.
const classifierSystemPrompt = `You are a support ticket classifier for a data catalog product.
Classify the user's query and respond with ONLY a JSON object of this exact shape:
{"topic_tags": ["..."], "sentiment": "...", "priority": "...", "reasoning": "..."}

topic_tags: one or more of "How-to", "Product", "Connector", "Lineage", "API/SDK", "SSO", "Glossary", "Best practices", "Sensitive data", "Issue report", "Feature request", "Other".
sentiment: one of "Frustrated", "Curious", "Angry", "Neutral", "Positive".
priority: one of "P0 (High)", "P1 (Medium)", "P2 (Low)".
reasoning: one short sentence.`

// LLMClassifier classifies queries with a chat-completion model.
type LLMClassifier struct {
	client *openai.Client
	model  string
}

var _ Classifier = (*LLMClassifier)(nil)

// NewLLMClassifier builds a classifier backed by an OpenAI-compatible
// endpoint. client must be non-nil; model falls back to gpt-4o-mini.
func NewLLMClassifier(client *openai.Client, model string) *LLMClassifier {
	if client == nil {
		panic("pipeline: LLMClassifier requires a non-nil client")
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &LLMClassifier{client: client, model: model}
}

// Classify sends the query to the model and parses the structured reply.
//
// # Description
//
//	Model errors, empty replies, unparseable JSON, and out-of-taxonomy
//	values all degrade to the default classification so the pipeline can
//	keep going. Only context cancellation is surfaced as an error.
func (c *LLMClassifier) Classify(ctx context.Context, query string) (datatypes.Classification, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: classifierSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: query},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return datatypes.Classification{}, fmt.Errorf("classification canceled: %w", ctx.Err())
		}
		slog.Warn("Classifier model call failed, using default classification", "error", err)
		return datatypes.DefaultClassification(""), nil
	}
	if len(resp.Choices) == 0 {
		slog.Warn("Classifier model returned no choices, using default classification")
		return datatypes.DefaultClassification(""), nil
	}

	result, ok := parseClassification(resp.Choices[0].Message.Content)
	if !ok {
		slog.Warn("Classifier reply failed taxonomy validation, using default classification",
			"reply_bytes", len(resp.Choices[0].Message.Content))
		return datatypes.DefaultClassification(""), nil
	}
	return result, nil
}

// parseClassification decodes a model reply, tolerating code fences, and
// rejects anything outside the closed taxonomy.
func parseClassification(reply string) (datatypes.Classification, bool) {
	reply = strings.TrimSpace(reply)
	reply = strings.TrimPrefix(reply, "```json")
	reply = strings.TrimPrefix(reply, "```")
	reply = strings.TrimSuffix(reply, "```")

	var c datatypes.Classification
	if err := json.Unmarshal([]byte(reply), &c); err != nil {
		return datatypes.Classification{}, false
	}
	if !c.Validate() {
		return datatypes.Classification{}, false
	}
	return c, true
}

// =============================================================================
// Keyword Classifier
// =============================================================================

// KeywordClassifier is a deterministic fallback classifier used when no
// model backend is configured. It keeps local deployments and tests
// fully offline.
type KeywordClassifier struct{}

var _ Classifier = (*KeywordClassifier)(nil)

// NewKeywordClassifier builds the rule-based classifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{}
}

// topicRules maps lowercase markers to topic tags. First match per tag
// wins; a query can collect several tags.
var topicRules = []struct {
	markers []string
	tag     datatypes.TopicTag
}{
	{[]string{"how do i", "how to", "how can i"}, datatypes.TopicHowTo},
	{[]string{"connector", "snowflake", "bigquery", "redshift", "databricks"}, datatypes.TopicConnector},
	{[]string{"lineage", "upstream", "downstream"}, datatypes.TopicLineage},
	{[]string{"api", "sdk", "endpoint", "python client"}, datatypes.TopicAPISDK},
	{[]string{"sso", "saml", "okta", "single sign"}, datatypes.TopicSSO},
	{[]string{"glossary", "term", "business definition"}, datatypes.TopicGlossary},
	{[]string{"best practice", "recommend", "should we"}, datatypes.TopicBestPractices},
	{[]string{"pii", "sensitive", "gdpr", "mask"}, datatypes.TopicSensitiveData},
	{[]string{"bug", "broken", "error", "fails", "failing", "not working", "crash"}, datatypes.TopicIssueReport},
	{[]string{"feature request", "would be great", "please add", "can you add"}, datatypes.TopicFeatureRequest},
}

// Classify applies the keyword rules. It never returns an error.
func (c *KeywordClassifier) Classify(_ context.Context, query string) (datatypes.Classification, error) {
	q := strings.ToLower(query)

	var tags []datatypes.TopicTag
	for _, rule := range topicRules {
		for _, marker := range rule.markers {
			if strings.Contains(q, marker) {
				tags = append(tags, rule.tag)
				break
			}
		}
	}
	if len(tags) == 0 {
		tags = []datatypes.TopicTag{datatypes.TopicOther}
	}

	sentiment := datatypes.SentimentNeutral
	switch {
	case containsAny(q, "unacceptable", "furious", "angry", "ridiculous"):
		sentiment = datatypes.SentimentAngry
	case containsAny(q, "frustrated", "annoying", "again", "still broken", "keeps failing"):
		sentiment = datatypes.SentimentFrustrated
	case containsAny(q, "curious", "wondering", "interested"):
		sentiment = datatypes.SentimentCurious
	case containsAny(q, "thanks", "great", "love"):
		sentiment = datatypes.SentimentPositive
	}

	priority := datatypes.PriorityP2
	switch {
	case containsAny(q, "urgent", "production", "outage", "down", "asap", "blocked"):
		priority = datatypes.PriorityP0
	case containsAny(q, "soon", "deadline", "important"):
		priority = datatypes.PriorityP1
	}

	return datatypes.Classification{
		TopicTags: tags,
		Sentiment: sentiment,
		Priority:  priority,
		Reasoning: "Keyword-rule classification",
	}, nil
}

func containsAny(s string, markers ...string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
