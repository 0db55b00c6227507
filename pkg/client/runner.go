// Copyright (C) 2025 Nora Labs (engineering@noralabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/noralabs/nora/pkg/validation"
	"github.com/noralabs/nora/services/orchestrator/datatypes"
)

// DefaultBatchPause is the gap inserted between batches to respect
// downstream throughput limits.
const DefaultBatchPause = 2 * time.Second

// =============================================================================
// Bulk Runner
// =============================================================================

// TicketClassifier is the slice of BulkService the runner needs.
type TicketClassifier interface {
	ClassifyTickets(ctx context.Context, tickets []validation.Ticket) ([]datatypes.TicketResult, error)
}

// BulkRunnerConfig configures a bulk classification run.
type BulkRunnerConfig struct {
	// BatchSize is the number of tickets per batch. Zero means
	// datatypes.DefaultBatchSize.
	BatchSize int

	// BatchPause is the gap between consecutive batches. Zero means
	// DefaultBatchPause. The pause is never inserted after the last
	// batch.
	BatchPause time.Duration

	// Logger for batch narration. Nil means slog.Default().
	Logger *slog.Logger
}

// BatchError records a batch that failed wholesale.
type BatchError struct {
	Batch int    `json:"batch"`
	Err   string `json:"error"`
}

// BulkReport is the aggregate outcome of a run.
//
// ProcessedCount counts only successfully returned per-ticket results;
// failed batches contribute zero, so ProcessedCount never exceeds
// TotalCount and any gap is attributable to the entries in BatchErrors.
type BulkReport struct {
	TotalCount     int                      `json:"total_count"`
	ProcessedCount int                      `json:"processed_count"`
	Batches        int                      `json:"batches"`
	Results        []datatypes.TicketResult `json:"results"`
	BatchErrors    []BatchError             `json:"batch_errors,omitempty"`
}

// BulkRunner partitions a ticket list into fixed-size batches and drives
// them through a TicketClassifier strictly in order.
//
// Batches are intentionally sequential: each batch's stream is drained
// to completion before the next starts, and an inter-batch pause paced
// by a rate limiter keeps the run inside downstream throughput limits.
// A failed batch is recorded and skipped over, never fatal to the run.
type BulkRunner struct {
	classifier TicketClassifier
	batchSize  int
	limiter    *rate.Limiter
	logger     *slog.Logger

	// OnBatch, when set, is called after each batch with its 1-based
	// index, the cumulative processed count, and the batch error if it
	// failed.
	OnBatch func(batch int, processed int, err error)
}

// NewBulkRunner creates a runner over the given classifier.
func NewBulkRunner(classifier TicketClassifier, cfg BulkRunnerConfig) *BulkRunner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = datatypes.DefaultBatchSize
	}
	if cfg.BatchPause <= 0 {
		cfg.BatchPause = DefaultBatchPause
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &BulkRunner{
		classifier: classifier,
		batchSize:  cfg.BatchSize,
		limiter:    rate.NewLimiter(rate.Every(cfg.BatchPause), 1),
		logger:     cfg.Logger,
	}
}

// Run processes all tickets and returns the aggregate report.
//
// # Description
//
// Tickets are partitioned into ceil(N/batchSize) batches preserving
// order. Each batch is one independent streamed classification run. The
// rate limiter grants one slot per BatchPause, so consecutive batches
// are spaced without a trailing pause after the last one.
//
// # Inputs
//
//   - ctx: Cancelling it stops the run between chunks; the partial
//     report is returned with ctx's error.
//   - tickets: Pre-validated tickets in submission order.
//
// # Outputs
//
//   - *BulkReport: Always non-nil, even on cancellation.
//   - error: Only ctx.Err(). Batch failures live in the report.
func (r *BulkRunner) Run(ctx context.Context, tickets []validation.Ticket) (*BulkReport, error) {
	batches := partition(tickets, r.batchSize)
	report := &BulkReport{
		TotalCount: len(tickets),
		Batches:    len(batches),
	}

	for i, batch := range batches {
		if err := r.limiter.Wait(ctx); err != nil {
			return report, err
		}

		results, err := r.classifier.ClassifyTickets(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			// Batch failure is isolated. Record it and move on.
			r.logger.Warn("batch failed, continuing",
				"batch", i+1,
				"batches", len(batches),
				"error", err,
			)
			report.BatchErrors = append(report.BatchErrors, BatchError{
				Batch: i + 1,
				Err:   err.Error(),
			})
			if r.OnBatch != nil {
				r.OnBatch(i+1, report.ProcessedCount, err)
			}
			continue
		}

		report.Results = append(report.Results, results...)
		report.ProcessedCount += countSuccesses(results)
		r.logger.Info("batch complete",
			"batch", i+1,
			"batches", len(batches),
			"processed", report.ProcessedCount,
			"total", report.TotalCount,
		)
		if r.OnBatch != nil {
			r.OnBatch(i+1, report.ProcessedCount, nil)
		}
	}

	return report, nil
}

// ExportResults renders the report's per-ticket outcomes as the JSON
// artifact format: an array of {id, classification} or {id, error}.
func (r *BulkRunner) ExportResults(report *BulkReport) ([]byte, error) {
	if report == nil {
		return nil, fmt.Errorf("nil report")
	}
	return json.MarshalIndent(report.Results, "", "  ")
}

// partition splits tickets into chunks of at most size, preserving
// order.
func partition(tickets []validation.Ticket, size int) [][]validation.Ticket {
	var batches [][]validation.Ticket
	for start := 0; start < len(tickets); start += size {
		end := start + size
		if end > len(tickets) {
			end = len(tickets)
		}
		batches = append(batches, tickets[start:end])
	}
	return batches
}

// countSuccesses counts results that carry a classification rather than
// a per-ticket error.
func countSuccesses(results []datatypes.TicketResult) int {
	n := 0
	for _, res := range results {
		if res.Error == "" && res.Classification != nil {
			n++
		}
	}
	return n
}
