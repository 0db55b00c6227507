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
	"errors"
	"testing"

	"github.com/noralabs/nora/services/orchestrator/datatypes"
)

// =============================================================================
// Test Doubles
// =============================================================================

type stubClassifier struct {
	result datatypes.Classification
	err    error
}

func (s *stubClassifier) Classify(context.Context, string) (datatypes.Classification, error) {
	return s.result, s.err
}

type stubRetriever struct {
	docs []datatypes.Document
	err  error
}

func (s *stubRetriever) Search(context.Context, string, int) ([]datatypes.Document, error) {
	return s.docs, s.err
}

type stubGenerator struct {
	resp datatypes.RAGResponse
	err  error
}

func (s *stubGenerator) Generate(context.Context, string, []datatypes.Document) (datatypes.RAGResponse, error) {
	return s.resp, s.err
}

func ragClassification() datatypes.Classification {
	return datatypes.Classification{
		TopicTags: []datatypes.TopicTag{datatypes.TopicHowTo},
		Sentiment: datatypes.SentimentCurious,
		Priority:  datatypes.PriorityP2,
		Reasoning: "usage question",
	}
}

func escalateClassification() datatypes.Classification {
	return datatypes.Classification{
		TopicTags: []datatypes.TopicTag{datatypes.TopicIssueReport, datatypes.TopicConnector},
		Sentiment: datatypes.SentimentFrustrated,
		Priority:  datatypes.PriorityP1,
		Reasoning: "connector bug",
	}
}

func collectEvents(t *testing.T, p *Pipeline, query string) ([]datatypes.PipelineEvent, datatypes.FinalResult) {
	t.Helper()
	var events []datatypes.PipelineEvent
	res, err := p.Run(context.Background(), query, func(ev datatypes.PipelineEvent) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	return events, res
}

func nodeSequence(events []datatypes.PipelineEvent) []string {
	var nodes []string
	for _, ev := range events {
		if ev.Type == datatypes.EventNodeStart {
			nodes = append(nodes, ev.Node)
		}
	}
	return nodes
}

// =============================================================================
// Branch Tests
// =============================================================================

func TestPipeline_RAGBranch(t *testing.T) {
	p := New(
		&stubClassifier{result: ragClassification()},
		&stubRetriever{docs: []datatypes.Document{
			{Title: "Connecting Snowflake", URL: "https://docs/x", Content: "steps"},
		}},
		&stubGenerator{resp: datatypes.RAGResponse{
			Answer:     "Follow the connector guide.",
			Sources:    []datatypes.Source{{Title: "Connecting Snowflake", URL: "https://docs/x"}},
			Confidence: datatypes.DefaultConfidence,
		}},
		0,
	)

	events, res := collectEvents(t, p, "how do I connect snowflake?")

	wantNodes := []string{
		datatypes.NodeClassify,
		datatypes.NodeDocumentSearch,
		datatypes.NodeAgent,
		datatypes.NodeFinalize,
	}
	got := nodeSequence(events)
	if len(got) != len(wantNodes) {
		t.Fatalf("node sequence = %v, want %v", got, wantNodes)
	}
	for i := range wantNodes {
		if got[i] != wantNodes[i] {
			t.Errorf("node[%d] = %q, want %q", i, got[i], wantNodes[i])
		}
	}

	if res.FinalResponse.ResponseType != datatypes.ResponseTypeRAG {
		t.Errorf("response type = %q, want rag_answer", res.FinalResponse.ResponseType)
	}
	if res.FinalResponse.RAGResponse == nil || res.FinalResponse.RAGResponse.Answer == "" {
		t.Error("expected populated rag_response")
	}
	if res.FinalResponse.RoutingResponse != nil {
		t.Error("routing_response must be unset on the RAG branch")
	}
}

func TestPipeline_HumanRoutingBranch(t *testing.T) {
	p := New(&stubClassifier{result: escalateClassification()}, nil, nil, 0)

	events, res := collectEvents(t, p, "the connector is broken")

	wantNodes := []string{
		datatypes.NodeClassify,
		datatypes.NodeRoutingMessage,
		datatypes.NodeFinalize,
	}
	got := nodeSequence(events)
	if len(got) != len(wantNodes) {
		t.Fatalf("node sequence = %v, want %v", got, wantNodes)
	}

	if res.FinalResponse.ResponseType != datatypes.ResponseTypeRouting {
		t.Errorf("response type = %q, want routing_message", res.FinalResponse.ResponseType)
	}
	if res.FinalResponse.RoutingResponse == nil {
		t.Fatal("expected routing response")
	}
	if res.FinalResponse.RoutingResponse.Team != "Connectors Team" {
		t.Errorf("team = %q, want Connectors Team", res.FinalResponse.RoutingResponse.Team)
	}
	if res.InternalAnalysis.Classification.Reasoning != "connector bug" {
		t.Error("classification must be preserved in internal analysis")
	}
}

// =============================================================================
// Downgrade Tests
// =============================================================================

func TestPipeline_RetrievalFailureDowngrades(t *testing.T) {
	p := New(
		&stubClassifier{result: ragClassification()},
		&stubRetriever{err: errors.New("weaviate unreachable")},
		&stubGenerator{},
		0,
	)

	events, res := collectEvents(t, p, "how do I tag assets?")

	if res.FinalResponse.ResponseType != datatypes.ResponseTypeRouting {
		t.Errorf("expected downgrade to routing_message, got %q", res.FinalResponse.ResponseType)
	}
	got := nodeSequence(events)
	// Search started, then the routing branch took over.
	if got[len(got)-2] != datatypes.NodeRoutingMessage {
		t.Errorf("expected create_routing_message before finalize, got %v", got)
	}
}

func TestPipeline_EmptyRetrievalDowngrades(t *testing.T) {
	p := New(
		&stubClassifier{result: ragClassification()},
		&stubRetriever{docs: nil},
		&stubGenerator{},
		0,
	)

	_, res := collectEvents(t, p, "something obscure")

	if res.FinalResponse.ResponseType != datatypes.ResponseTypeRouting {
		t.Errorf("expected downgrade on empty retrieval, got %q", res.FinalResponse.ResponseType)
	}
}

func TestPipeline_GenerationFailureDowngrades(t *testing.T) {
	p := New(
		&stubClassifier{result: ragClassification()},
		&stubRetriever{docs: []datatypes.Document{{Title: "t", URL: "u", Content: "c"}}},
		&stubGenerator{err: errors.New("model overloaded")},
		0,
	)

	_, res := collectEvents(t, p, "how do I tag assets?")

	if res.FinalResponse.ResponseType != datatypes.ResponseTypeRouting {
		t.Errorf("expected downgrade on generation failure, got %q", res.FinalResponse.ResponseType)
	}
	if res.InternalAnalysis.Classification.Reasoning != "usage question" {
		t.Error("classification must survive the downgrade")
	}
}

func TestPipeline_NilCollaboratorsDowngrade(t *testing.T) {
	p := New(&stubClassifier{result: ragClassification()}, nil, nil, 0)

	_, res := collectEvents(t, p, "how do I tag assets?")

	if res.FinalResponse.ResponseType != datatypes.ResponseTypeRouting {
		t.Errorf("expected routing_message without RAG collaborators, got %q",
			res.FinalResponse.ResponseType)
	}
}

// =============================================================================
// Termination Tests
// =============================================================================

func TestPipeline_ExactlyOneTerminalResult(t *testing.T) {
	p := New(&stubClassifier{result: ragClassification()}, nil, nil, 0)

	var events []datatypes.PipelineEvent
	_, err := p.Run(context.Background(), "q", func(ev datatypes.PipelineEvent) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	for _, ev := range events {
		if ev.Type == datatypes.EventFinalResult || ev.Type == datatypes.EventError {
			t.Errorf("terminal frames belong to the transport, found %q in pipeline events", ev.Type)
		}
	}
}

func TestPipeline_SinkErrorAborts(t *testing.T) {
	p := New(&stubClassifier{result: ragClassification()}, nil, nil, 0)

	sinkErr := errors.New("client went away")
	calls := 0
	res, err := p.Run(context.Background(), "q", func(datatypes.PipelineEvent) error {
		calls++
		if calls >= 2 {
			return sinkErr
		}
		return nil
	})

	if !errors.Is(err, sinkErr) {
		t.Errorf("expected sink error to propagate, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected emission to stop at the failing write, got %d calls", calls)
	}
	// Even the abort path yields a terminal payload for the caller.
	if res.FinalResponse.ResponseType != datatypes.ResponseTypeRouting {
		t.Errorf("expected fallback routing result, got %q", res.FinalResponse.ResponseType)
	}
}

func TestPipeline_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := New(&stubClassifier{result: ragClassification()}, nil, nil, 0)
	_, err := p.Run(ctx, "q", DiscardEvents)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestPipeline_PanicYieldsFallback(t *testing.T) {
	p := New(&stubClassifier{result: ragClassification()},
		panickyRetriever{}, &stubGenerator{}, 0)

	res, err := p.Run(context.Background(), "q", DiscardEvents)

	if err == nil {
		t.Error("expected panic to surface as error")
	}
	if res.FinalResponse.ResponseType != datatypes.ResponseTypeRouting {
		t.Errorf("expected error fallback result, got %q", res.FinalResponse.ResponseType)
	}
	if res.FinalResponse.RoutingResponse.Team != "Technical Support" {
		t.Errorf("expected Technical Support fallback, got %q",
			res.FinalResponse.RoutingResponse.Team)
	}
}

type panickyRetriever struct{}

func (panickyRetriever) Search(context.Context, string, int) ([]datatypes.Document, error) {
	panic("index corrupted")
}
