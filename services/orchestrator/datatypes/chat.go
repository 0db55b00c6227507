// Copyright (C) 2025 Nora Labs (engineering@noralabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the orchestrator service.
//
// This file contains the chat request, classification, and final result
// types shared by the pipeline and the HTTP handlers. Wire event types
// live in events.go; bulk ticket types live in bulk.go.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants for Input Limits
// =============================================================================

const (
	// MaxQueryBytes is the maximum size of a single chat query.
	MaxQueryBytes = 32 * 1024 // 32KB

	// DefaultConfidence is reported for generated answers when the model
	// does not supply its own confidence estimate.
	DefaultConfidence = 0.85
)

// =============================================================================
// Classification Taxonomy
// =============================================================================

// TopicTag labels a support query with one product area or request kind.
// Values are fixed strings shared with downstream consumers; do not rename.
type TopicTag string

const (
	TopicHowTo          TopicTag = "How-to"
	TopicProduct        TopicTag = "Product"
	TopicConnector      TopicTag = "Connector"
	TopicLineage        TopicTag = "Lineage"
	TopicAPISDK         TopicTag = "API/SDK"
	TopicSSO            TopicTag = "SSO"
	TopicGlossary       TopicTag = "Glossary"
	TopicBestPractices  TopicTag = "Best practices"
	TopicSensitiveData  TopicTag = "Sensitive data"
	TopicIssueReport    TopicTag = "Issue report"
	TopicFeatureRequest TopicTag = "Feature request"
	TopicOther          TopicTag = "Other"
)

// Sentiment captures the perceived emotional tone of a query.
type Sentiment string

const (
	SentimentFrustrated Sentiment = "Frustrated"
	SentimentCurious    Sentiment = "Curious"
	SentimentAngry      Sentiment = "Angry"
	SentimentNeutral    Sentiment = "Neutral"
	SentimentPositive   Sentiment = "Positive"
)

// Priority ranks how urgently a query needs attention.
type Priority string

const (
	PriorityP0 Priority = "P0 (High)"
	PriorityP1 Priority = "P1 (Medium)"
	PriorityP2 Priority = "P2 (Low)"
)

// ValidTopicTags returns the closed set of topic tags in canonical order.
//
// # Description
//
//	Used by classifiers to constrain model output and by validators to
//	reject unknown tags before they reach the router.
func ValidTopicTags() []TopicTag {
	return []TopicTag{
		TopicHowTo, TopicProduct, TopicConnector, TopicLineage,
		TopicAPISDK, TopicSSO, TopicGlossary, TopicBestPractices,
		TopicSensitiveData, TopicIssueReport, TopicFeatureRequest,
		TopicOther,
	}
}

// IsValidTopicTag reports whether t is a member of the closed tag set.
func IsValidTopicTag(t TopicTag) bool {
	for _, v := range ValidTopicTags() {
		if t == v {
			return true
		}
	}
	return false
}

// IsValidSentiment reports whether s is a recognized sentiment value.
func IsValidSentiment(s Sentiment) bool {
	switch s {
	case SentimentFrustrated, SentimentCurious, SentimentAngry,
		SentimentNeutral, SentimentPositive:
		return true
	}
	return false
}

// IsValidPriority reports whether p is a recognized priority value.
func IsValidPriority(p Priority) bool {
	switch p {
	case PriorityP0, PriorityP1, PriorityP2:
		return true
	}
	return false
}

// =============================================================================
// Request Types
// =============================================================================

// QueryRequest is the body of POST /chat.
type QueryRequest struct {
	// Query is the user's support question. Required, bounded.
	Query string `json:"query" binding:"required" validate:"required,maxbytes"`

	// SessionID groups turns of one conversation. Optional; the server
	// assigns a fresh UUID when omitted.
	SessionID string `json:"session_id,omitempty" validate:"omitempty,max=128"`
}

// =============================================================================
// Classification Result
// =============================================================================

// Classification is the structured triage result for one query.
type Classification struct {
	// TopicTags holds one or more tags from the closed taxonomy.
	TopicTags []TopicTag `json:"topic_tags"`

	// Sentiment is the perceived tone of the query.
	Sentiment Sentiment `json:"sentiment"`

	// Priority is the assigned urgency bucket.
	Priority Priority `json:"priority"`

	// Reasoning is a short free-text justification from the classifier.
	Reasoning string `json:"reasoning"`
}

// DefaultClassification is the degraded result used when classification
// cannot produce a usable signal. The pipeline continues with it rather
// than failing the turn.
func DefaultClassification(reason string) Classification {
	if reason == "" {
		reason = "Classification failed"
	}
	return Classification{
		TopicTags: []TopicTag{TopicOther},
		Sentiment: SentimentNeutral,
		Priority:  PriorityP2,
		Reasoning: reason,
	}
}

// =============================================================================
// Retrieval and Generation Types
// =============================================================================

// Document is one retrieved knowledge-base entry.
type Document struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// Source is the citation form of a Document exposed to clients.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// SourceOf projects a retrieved document onto its citation form.
func SourceOf(d Document) Source {
	return Source{Title: d.Title, URL: d.URL}
}

// RAGResponse is a generated answer grounded in retrieved documents.
type RAGResponse struct {
	Answer     string   `json:"answer"`
	Sources    []Source `json:"sources"`
	Confidence float64  `json:"confidence"`
}

// RoutingMessage tells the user their query went to a human team.
type RoutingMessage struct {
	Message string `json:"message"`
	Team    string `json:"team"`
}

// =============================================================================
// Final Result
// =============================================================================

// ResponseType discriminates the two final response payloads.
type ResponseType string

const (
	ResponseTypeRAG     ResponseType = "rag_answer"
	ResponseTypeRouting ResponseType = "routing_message"
)

// InternalAnalysis carries triage data intended for support tooling
// rather than for direct display to the user.
type InternalAnalysis struct {
	Classification Classification `json:"classification"`
}

// FinalResponse is the user-facing half of a finished turn. Exactly one
// of RAGResponse or RoutingResponse is set, selected by ResponseType.
type FinalResponse struct {
	ResponseType    ResponseType    `json:"response_type"`
	RAGResponse     *RAGResponse    `json:"rag_response,omitempty"`
	RoutingResponse *RoutingMessage `json:"routing_response,omitempty"`
}

// FinalResult is the complete terminal payload for one pipeline run.
type FinalResult struct {
	InternalAnalysis InternalAnalysis `json:"internal_analysis"`
	FinalResponse    FinalResponse    `json:"final_response"`
}

// ErrorFallbackResult is the terminal payload produced when the pipeline
// itself fails. The turn still completes; the user gets a routing message
// pointing at technical support.
func ErrorFallbackResult(c Classification) FinalResult {
	return FinalResult{
		InternalAnalysis: InternalAnalysis{Classification: c},
		FinalResponse: FinalResponse{
			ResponseType: ResponseTypeRouting,
			RoutingResponse: &RoutingMessage{
				Message: "I encountered an error. Please contact support.",
				Team:    "Technical Support",
			},
		},
	}
}

// =============================================================================
// Validation
// =============================================================================

var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	// maxbytes enforces MaxQueryBytes on string fields. Byte length, not
	// rune count, so multibyte input cannot bypass the cap.
	_ = chatValidate.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= MaxQueryBytes
	})
}

// Validate checks a QueryRequest beyond gin's binding tags.
func (r *QueryRequest) Validate() error {
	return chatValidate.Struct(r)
}

// Validate checks that a classification only uses known taxonomy values.
func (c *Classification) Validate() bool {
	if len(c.TopicTags) == 0 {
		return false
	}
	for _, t := range c.TopicTags {
		if !IsValidTopicTag(t) {
			return false
		}
	}
	return IsValidSentiment(c.Sentiment) && IsValidPriority(c.Priority)
}

// Timestamp returns the RFC 3339 form of t for wire payloads.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
