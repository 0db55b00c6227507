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
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/noralabs/nora/services/orchestrator/datatypes"
)

// =============================================================================
// Retriever Interface
// =============================================================================

const (
	// DefaultTopK is the retrieval depth when the caller does not
	// override it.
	DefaultTopK = 4

	// MaxTopK bounds the retrieval depth no matter what the operator
	// configures.
	MaxTopK = 20
)

// Retriever searches the knowledge base for documents relevant to a query.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]datatypes.Document, error)
}

// =============================================================================
// Weaviate Retriever
// =============================================================================

// SupportDocumentClass is the Weaviate class holding knowledge-base pages.
const SupportDocumentClass = "SupportDocument"

// WeaviateRetriever runs hybrid search against a Weaviate instance.
type WeaviateRetriever struct {
	client    *weaviate.Client
	className string
}

var _ Retriever = (*WeaviateRetriever)(nil)

// NewWeaviateRetriever builds a retriever over the given client. The
// class name defaults to SupportDocumentClass when empty.
func NewWeaviateRetriever(client *weaviate.Client, className string) *WeaviateRetriever {
	if client == nil {
		panic("pipeline: WeaviateRetriever requires a non-nil client")
	}
	if className == "" {
		className = SupportDocumentClass
	}
	return &WeaviateRetriever{client: client, className: className}
}

// Search runs a hybrid (BM25 plus vector) query and returns documents
// deduplicated by URL in score order.
//
// # Limitations
//
//   - Returns at most topK documents after deduplication; it over-fetches
//     to keep the post-dedup count close to topK.
func (r *WeaviateRetriever) Search(ctx context.Context, query string, topK int) ([]datatypes.Document, error) {
	topK = clampTopK(topK)

	hybrid := r.client.GraphQL().HybridArgumentBuilder().
		WithQuery(query)

	fields := []graphql.Field{
		{Name: "title"},
		{Name: "url"},
		{Name: "content"},
		{Name: "_additional { score }"},
	}

	// Duplicate URLs collapse below, so fetch extra candidates.
	result, err := r.client.GraphQL().Get().
		WithClassName(r.className).
		WithFields(fields...).
		WithHybrid(hybrid).
		WithLimit(topK * 3).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("document search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("document search: %s", result.Errors[0].Message)
	}

	docs := r.parseDocuments(result.Data)
	docs = dedupeByURL(docs)
	if len(docs) > topK {
		docs = docs[:topK]
	}

	slog.Debug("Retrieved documents", "query_bytes", len(query), "count", len(docs))
	return docs, nil
}

// parseDocuments walks the GraphQL Get response for the configured class.
func (r *WeaviateRetriever) parseDocuments(data map[string]models.JSONObject) []datatypes.Document {
	get, ok := data["Get"].(map[string]any)
	if !ok {
		return nil
	}
	objects, ok := get[r.className].([]any)
	if !ok {
		return nil
	}

	docs := make([]datatypes.Document, 0, len(objects))
	for _, obj := range objects {
		fields, ok := obj.(map[string]any)
		if !ok {
			continue
		}
		doc := datatypes.Document{
			Title:   stringField(fields, "title"),
			URL:     stringField(fields, "url"),
			Content: stringField(fields, "content"),
		}
		if add, ok := fields["_additional"].(map[string]any); ok {
			// Weaviate reports hybrid scores as strings.
			if s, ok := add["score"].(string); ok {
				fmt.Sscanf(s, "%f", &doc.Score)
			}
		}
		if doc.Content == "" {
			continue
		}
		docs = append(docs, doc)
	}
	return docs
}

// clampTopK bounds the retrieval depth to [1, MaxTopK], defaulting when
// unset. Operator configuration flows through here unchecked.
func clampTopK(topK int) int {
	if topK <= 0 {
		return DefaultTopK
	}
	if topK > MaxTopK {
		return MaxTopK
	}
	return topK
}

// dedupeByURL keeps the first (highest ranked) document per URL.
// Documents without a URL are kept as-is.
func dedupeByURL(docs []datatypes.Document) []datatypes.Document {
	seen := make(map[string]bool, len(docs))
	out := docs[:0]
	for _, d := range docs {
		if d.URL != "" {
			if seen[d.URL] {
				continue
			}
			seen[d.URL] = true
		}
		out = append(out, d)
	}
	return out
}

func stringField(fields map[string]any, name string) string {
	s, _ := fields[name].(string)
	return s
}
