// Copyright (C) 2025 Nora Labs (engineering@noralabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the orchestrator.
//
// # Description
//
// This package implements Prometheus metrics for monitoring the support
// query pipeline. Metrics include:
//   - Request counters (by endpoint, status)
//   - Pipeline node transitions and branch outcomes
//   - Stream duration histograms
//   - Active stream gauges
//   - Bulk ticket classification counters
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "nora"

// Subsystem for pipeline metrics
const pipelineSubsystem = "pipeline"

// PipelineMetrics holds all Prometheus metrics for pipeline operations.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring pipeline
// throughput and branch behavior. Initialize once at startup via
// InitMetrics().
//
// # Thread Safety
//
// All operations are thread-safe.
type PipelineMetrics struct {
	// RequestsTotal counts streaming requests by endpoint and status.
	// Labels: endpoint (chat_stream, bulk_classify), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// NodeTransitionsTotal counts pipeline node executions.
	// Labels: node (classify, agent, document_search, ...)
	NodeTransitionsTotal *prometheus.CounterVec

	// OutcomesTotal counts terminal branches taken.
	// Labels: outcome (rag_answer, routing_message)
	OutcomesTotal *prometheus.CounterVec

	// StreamDurationSeconds measures total stream duration.
	// Labels: endpoint, status (success, error)
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently active streaming connections.
	// Labels: endpoint
	ActiveStreams *prometheus.GaugeVec

	// ErrorsTotal counts errors by type and endpoint.
	// Labels: endpoint, error_code (validation, timeout, ...)
	ErrorsTotal *prometheus.CounterVec

	// TicketsClassifiedTotal counts bulk tickets by result.
	// Labels: status (success, error)
	TicketsClassifiedTotal *prometheus.CounterVec

	// ClientDisconnectsTotal counts client disconnections mid-stream.
	// Labels: endpoint
	ClientDisconnectsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of PipelineMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *PipelineMetrics

var initOnce sync.Once

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics against the default
// registry. Idempotent: repeated calls return the same instance, which
// lets service construction run more than once in tests.
func InitMetrics() *PipelineMetrics {
	initOnce.Do(registerDefaultMetrics)
	return DefaultMetrics
}

func registerDefaultMetrics() {
	DefaultMetrics = &PipelineMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "requests_total",
				Help:      "Total number of streaming requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		NodeTransitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "node_transitions_total",
				Help:      "Total pipeline node executions by node name",
			},
			[]string{"node"},
		),

		OutcomesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "outcomes_total",
				Help:      "Total terminal results by response type",
			},
			[]string{"outcome"},
		),

		StreamDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),

		ActiveStreams: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently active streaming connections",
			},
			[]string{"endpoint"},
		),

		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "errors_total",
				Help:      "Total errors by type and endpoint",
			},
			[]string{"endpoint", "error_code"},
		),

		TicketsClassifiedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "tickets_classified_total",
				Help:      "Total bulk tickets classified by result status",
			},
			[]string{"status"},
		),

		ClientDisconnectsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
			[]string{"endpoint"},
		),
	}
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode represents a categorized error type for metrics.
type ErrorCode string

const (
	// ErrorCodeValidation indicates request validation failure.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeLLMError indicates model API failure.
	ErrorCodeLLMError ErrorCode = "llm_error"

	// ErrorCodeTimeout indicates operation timeout.
	ErrorCodeTimeout ErrorCode = "timeout"

	// ErrorCodeRetrieval indicates document search failure.
	ErrorCodeRetrieval ErrorCode = "retrieval"

	// ErrorCodeInternal indicates internal server error.
	ErrorCodeInternal ErrorCode = "internal"

	// ErrorCodeClientDisconnect indicates client disconnected.
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"
)

// =============================================================================
// Endpoint Names
// =============================================================================

// Endpoint represents a streaming endpoint for metrics labeling.
type Endpoint string

const (
	// EndpointChatStream is the single-query streaming endpoint.
	EndpointChatStream Endpoint = "chat_stream"

	// EndpointBulkClassify is the bulk ticket classification endpoint.
	EndpointBulkClassify Endpoint = "bulk_classify"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a completed streaming request.
func (m *PipelineMetrics) RecordRequest(endpoint Endpoint, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), status).Inc()
}

// RecordNode records one pipeline node execution.
func (m *PipelineMetrics) RecordNode(node string) {
	m.NodeTransitionsTotal.WithLabelValues(node).Inc()
}

// RecordOutcome records the terminal branch of one pipeline run.
func (m *PipelineMetrics) RecordOutcome(outcome string) {
	m.OutcomesTotal.WithLabelValues(outcome).Inc()
}

// RecordError records a stream error.
func (m *PipelineMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// RecordTicket records one bulk classification result.
func (m *PipelineMetrics) RecordTicket(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.TicketsClassifiedTotal.WithLabelValues(status).Inc()
}

// StreamStarted increments the active streams gauge.
func (m *PipelineMetrics) StreamStarted(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *PipelineMetrics) StreamEnded(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordStreamDuration records how long a stream stayed open.
func (m *PipelineMetrics) RecordStreamDuration(endpoint Endpoint, success bool, seconds float64) {
	status := "success"
	if !success {
		status = "error"
	}
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), status).Observe(seconds)
}

// RecordClientDisconnect records a client that dropped mid-stream.
func (m *PipelineMetrics) RecordClientDisconnect(endpoint Endpoint) {
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}
