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

	"github.com/noralabs/nora/services/orchestrator/datatypes"
)

// =============================================================================
// State Machine
// =============================================================================

// State names one phase of a pipeline run.
type State string

const (
	StateStart          State = "start"
	StateClassifying    State = "classifying"
	StateRouted         State = "routed"
	StateRetrieving     State = "retrieving"
	StateGenerating     State = "generating"
	StateRoutingMessage State = "routing_message"
	StateFinalizing     State = "finalizing"
	StateDone           State = "done"
)

// EventSink receives incremental events during a run. A non-nil return
// aborts event emission; the usual cause is a disconnected client.
type EventSink func(ev datatypes.PipelineEvent) error

// DiscardEvents is a sink for callers that only want the final result.
func DiscardEvents(datatypes.PipelineEvent) error { return nil }

// =============================================================================
// Pipeline
// =============================================================================

// Pipeline runs a support query from classification to a final result.
//
// # Description
//
//	Run always produces exactly one terminal result. Retrieval and
//	generation failures downgrade the turn to a routing message for the
//	classified topic; an internal failure yields the error fallback
//	result. Retriever and Generator may be nil, which forces the
//	downgrade path for queries routed to RAG.
//
// # Assumptions
//
//   - Classifier is non-nil (enforced by New).
//   - The sink is called from the running goroutine only; no internal
//     concurrency is introduced here.
type Pipeline struct {
	classifier Classifier
	retriever  Retriever
	generator  Generator
	topK       int
}

// New builds a pipeline. Classifier is required; retriever and generator
// are optional collaborators. topK <= 0 selects DefaultTopK.
func New(classifier Classifier, retriever Retriever, generator Generator, topK int) *Pipeline {
	if classifier == nil {
		panic("pipeline: New requires a non-nil classifier")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Pipeline{
		classifier: classifier,
		retriever:  retriever,
		generator:  generator,
		topK:       topK,
	}
}

// run carries the mutable state of one pipeline execution.
type run struct {
	p     *Pipeline
	ctx   context.Context
	query string
	sink  EventSink

	state          State
	classification datatypes.Classification
	docs           []datatypes.Document
	rag            *datatypes.RAGResponse
	routing        *datatypes.RoutingMessage
}

// Run executes the state machine for one query.
//
// # Outputs
//
//	datatypes.FinalResult - always populated, even on failure.
//	error - non-nil only when the sink rejected a write or the context
//	        was canceled; the result still holds the fallback payload.
func (p *Pipeline) Run(ctx context.Context, query string, sink EventSink) (result datatypes.FinalResult, err error) {
	if sink == nil {
		sink = DiscardEvents
	}
	r := &run{p: p, ctx: ctx, query: query, sink: sink, state: StateStart}

	// A panic anywhere below still yields a terminal result.
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Pipeline panicked, emitting error fallback", "panic", rec)
			result = datatypes.ErrorFallbackResult(
				datatypes.DefaultClassification("pipeline failure"))
			err = fmt.Errorf("pipeline panic: %v", rec)
		}
	}()

	for r.state != StateDone {
		if stepErr := r.step(); stepErr != nil {
			return datatypes.ErrorFallbackResult(r.fallbackClassification()), stepErr
		}
	}
	return r.finalResult(), nil
}

// Classify runs only the classification stage. Used by the bulk endpoint,
// which needs triage without retrieval or generation.
func (p *Pipeline) Classify(ctx context.Context, query string) (datatypes.Classification, error) {
	return p.classifier.Classify(ctx, query)
}

// step advances the machine by one transition.
func (r *run) step() error {
	switch r.state {
	case StateStart:
		r.state = StateClassifying
		return nil

	case StateClassifying:
		return r.classify()

	case StateRouted:
		if Route(r.classification) == OutcomeRAG {
			r.state = StateRetrieving
		} else {
			r.state = StateRoutingMessage
		}
		slog.Debug("Routed query", "next_state", r.state,
			"priority", r.classification.Priority)
		return nil

	case StateRetrieving:
		return r.retrieve()

	case StateGenerating:
		return r.generate()

	case StateRoutingMessage:
		return r.routeToHuman()

	case StateFinalizing:
		return r.finalize()

	default:
		return fmt.Errorf("pipeline: unknown state %q", r.state)
	}
}

// classify runs the classify node with start and complete events.
func (r *run) classify() error {
	if err := r.emit(datatypes.NodeStartEvent(datatypes.NodeClassify)); err != nil {
		return err
	}

	c, err := r.p.classifier.Classify(r.ctx, r.query)
	if err != nil {
		return err
	}
	r.classification = c

	err = r.emit(datatypes.NodeCompleteEvent(datatypes.NodeClassify, map[string]any{
		"classification": c,
	}))
	if err != nil {
		return err
	}
	r.state = StateRouted
	return nil
}

// retrieve runs document search, then hands off to generation. Any
// failure here downgrades to the routing-message branch instead of
// failing the turn.
func (r *run) retrieve() error {
	if r.p.retriever == nil || r.p.generator == nil {
		slog.Info("RAG collaborators unavailable, downgrading to routing message")
		r.state = StateRoutingMessage
		return nil
	}

	if err := r.emit(datatypes.NodeStartEvent(datatypes.NodeDocumentSearch)); err != nil {
		return err
	}

	docs, err := r.p.retriever.Search(r.ctx, r.query, r.p.topK)
	if err != nil {
		if r.ctx.Err() != nil {
			return r.ctx.Err()
		}
		slog.Warn("Document search failed, downgrading to routing message", "error", err)
		r.state = StateRoutingMessage
		return nil
	}
	if len(docs) == 0 {
		slog.Info("Document search returned nothing, downgrading to routing message")
		r.state = StateRoutingMessage
		return nil
	}

	err = r.emit(datatypes.NodeCompleteEvent(datatypes.NodeDocumentSearch, map[string]any{
		"document_count": len(docs),
	}))
	if err != nil {
		return err
	}

	r.docs = docs
	r.state = StateGenerating
	return nil
}

// generate runs the agent node over the retrieved documents.
func (r *run) generate() error {
	if err := r.emit(datatypes.NodeStartEvent(datatypes.NodeAgent)); err != nil {
		return err
	}

	rag, err := r.p.generator.Generate(r.ctx, r.query, r.docs)
	if err != nil {
		if r.ctx.Err() != nil {
			return r.ctx.Err()
		}
		slog.Warn("Answer generation failed, downgrading to routing message", "error", err)
		r.state = StateRoutingMessage
		return nil
	}
	r.rag = &rag

	if err := r.emit(datatypes.NodeCompleteEvent(datatypes.NodeAgent, nil)); err != nil {
		return err
	}
	r.state = StateFinalizing
	return nil
}

// routeToHuman runs the create_routing_message node.
func (r *run) routeToHuman() error {
	if err := r.emit(datatypes.NodeStartEvent(datatypes.NodeRoutingMessage)); err != nil {
		return err
	}

	msg := RoutingFor(r.classification)
	r.routing = &msg

	err := r.emit(datatypes.NodeCompleteEvent(datatypes.NodeRoutingMessage, map[string]any{
		"team": msg.Team,
	}))
	if err != nil {
		return err
	}
	r.state = StateFinalizing
	return nil
}

// finalize runs the finalize_response node and closes the machine.
func (r *run) finalize() error {
	if err := r.emit(datatypes.NodeStartEvent(datatypes.NodeFinalize)); err != nil {
		return err
	}
	if err := r.emit(datatypes.NodeCompleteEvent(datatypes.NodeFinalize, nil)); err != nil {
		return err
	}
	r.state = StateDone
	return nil
}

// finalResult assembles the terminal payload from the run's branch.
func (r *run) finalResult() datatypes.FinalResult {
	res := datatypes.FinalResult{
		InternalAnalysis: datatypes.InternalAnalysis{Classification: r.classification},
	}
	if r.rag != nil {
		res.FinalResponse = datatypes.FinalResponse{
			ResponseType: datatypes.ResponseTypeRAG,
			RAGResponse:  r.rag,
		}
		return res
	}
	if r.routing == nil {
		// Finalizing is only reachable with one branch set.
		msg := RoutingFor(r.classification)
		r.routing = &msg
	}
	res.FinalResponse = datatypes.FinalResponse{
		ResponseType:    datatypes.ResponseTypeRouting,
		RoutingResponse: r.routing,
	}
	return res
}

// fallbackClassification preserves triage data on the error path when
// classification already ran.
func (r *run) fallbackClassification() datatypes.Classification {
	if len(r.classification.TopicTags) > 0 {
		return r.classification
	}
	return datatypes.DefaultClassification("pipeline failure")
}

// emit forwards an event, first honoring context cancellation.
func (r *run) emit(ev datatypes.PipelineEvent) error {
	if err := r.ctx.Err(); err != nil {
		return err
	}
	return r.sink(ev)
}
