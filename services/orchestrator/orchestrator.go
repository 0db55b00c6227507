// Copyright (C) 2025 Nora Labs (engineering@noralabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator wires the support-query pipeline into an HTTP
// service: configuration, tracing, metrics, the Weaviate and model
// clients, and the Gin router.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sashabaranov/go-openai"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/noralabs/nora/services/orchestrator/handlers"
	"github.com/noralabs/nora/services/orchestrator/middleware"
	"github.com/noralabs/nora/services/orchestrator/observability"
	"github.com/noralabs/nora/services/orchestrator/pipeline"
	"github.com/noralabs/nora/services/orchestrator/routes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the orchestrator service.
//
// # Description
//
// Service abstracts the orchestrator lifecycle, enabling testing and
// alternative implementations. Run() blocks and should only be called
// once per instance.
//
// # Limitations
//
//   - No graceful shutdown method yet (planned for future)
//   - Run() blocks until server error
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	//
	// # Assumptions
	//
	//   - Caller will not modify the router.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds orchestrator configuration options.
//
// # Description
//
// Config centralizes all configuration for the orchestrator service.
// Values can be populated from environment variables, config files,
// or programmatically for testing. All fields have defaults applied
// by New().
type Config struct {
	// Port is the HTTP server port. Default: 8000
	Port int

	// LLMBackend selects how queries are classified and answered.
	// Valid values: "keyword" (offline rules), "openai" (API).
	// Default: "keyword"
	LLMBackend string

	// Model is the chat-completion model for the openai backend.
	// Default: gpt-4o-mini
	Model string

	// WeaviateURL is the Weaviate vector database URL. If empty,
	// retrieval is disabled and RAG-routed queries downgrade to
	// routing messages.
	WeaviateURL string

	// SupportClass is the Weaviate class holding knowledge-base pages.
	// Default: SupportDocument
	SupportClass string

	// TopK is the retrieval depth per query. Default: 4
	TopK int

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "nora-otel-collector:4317"
	OTelEndpoint string

	// LegacyFinalShape emits the flattened terminal frame for consumers
	// that predate the typed event envelope. Default: false
	LegacyFinalShape bool

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	// Default: uses GIN_MODE env var or "debug"
	GinMode string
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config         Config
	router         *gin.Engine
	pipeline       *pipeline.Pipeline
	weaviateClient *weaviate.Client
	tracerCleanup  func(context.Context)
}

var _ Service = (*service)(nil)

// =============================================================================
// Constructor
// =============================================================================

// New creates a new orchestrator Service with the given configuration.
//
// # Description
//
// New initializes all orchestrator components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing
//  3. Initializes Prometheus metrics
//  4. Creates the Weaviate client if a URL is configured
//  5. Assembles the pipeline for the selected backend
//  6. Sets up HTTP routes
//
// # Outputs
//
//	Service - ready-to-run orchestrator service
//	error - non-nil if initialization fails
//
// # Assumptions
//
//   - OPENAI_API_KEY is set when LLMBackend is "openai".
func New(cfg Config) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	observability.InitMetrics()

	if err := s.initWeaviate(); err != nil {
		slog.Warn("Weaviate initialization failed, retrieval disabled", "error", err)
		// Not fatal. RAG-routed queries downgrade to routing messages.
	}

	if err := s.initPipeline(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting orchestrator server", "port", s.config.Port,
		"backend", s.config.LLMBackend)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "keyword"
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.SupportClass == "" {
		cfg.SupportClass = pipeline.SupportDocumentClass
	}
	if cfg.TopK == 0 {
		cfg.TopK = pipeline.DefaultTopK
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "nora-otel-collector:4317"
	}
	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Limitations
//
//   - Uses insecure gRPC (appropriate for internal networks). The
//     connection is lazy, so an unreachable collector does not block
//     startup.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("orchestrator-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initWeaviate initializes the Weaviate vector database client.
//
// # Limitations
//
//   - Returns nil error if WeaviateURL is empty (optional dependency).
func (s *service) initWeaviate() error {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")

	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		slog.Info("Weaviate URL not configured, retrieval disabled")
		return nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	s.weaviateClient, err = weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	slog.Info("Weaviate client initialized", "url", weaviateURL)
	return nil
}

// initPipeline assembles pipeline collaborators for the configured
// backend.
func (s *service) initPipeline() error {
	var (
		classifier pipeline.Classifier
		generator  pipeline.Generator
		retriever  pipeline.Retriever
	)

	switch s.config.LLMBackend {
	case "openai":
		client, err := newOpenAIClient()
		if err != nil {
			return err
		}
		classifier = pipeline.NewLLMClassifier(client, s.config.Model)
		generator = pipeline.NewLLMGenerator(client, s.config.Model)
		slog.Info("Using OpenAI backend", "model", s.config.Model)
	case "keyword":
		classifier = pipeline.NewKeywordClassifier()
		slog.Info("Using keyword classification backend")
	default:
		slog.Warn("Unknown LLM backend, defaulting to keyword rules",
			"backend", s.config.LLMBackend)
		classifier = pipeline.NewKeywordClassifier()
	}

	if s.weaviateClient != nil {
		retriever = pipeline.NewWeaviateRetriever(s.weaviateClient, s.config.SupportClass)
	}

	s.pipeline = pipeline.New(classifier, retriever, generator, s.config.TopK)
	return nil
}

// newOpenAIClient builds the API client from environment configuration.
// OPENAI_BASE_URL supports OpenAI-compatible local inference servers.
func newOpenAIClient() (*openai.Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		if data, err := os.ReadFile(secretPath); err == nil {
			apiKey = strings.TrimSpace(string(data))
			slog.Info("Read the OpenAI API key from container secrets")
		} else {
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}

	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		clientCfg := openai.DefaultConfig(apiKey)
		clientCfg.BaseURL = baseURL
		return openai.NewClientWithConfig(clientCfg), nil
	}
	return openai.NewClient(apiKey), nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("orchestrator-service"))
	s.router.Use(middleware.RequestID())

	chat := handlers.NewChatHandler(s.pipeline, s.config.LegacyFinalShape)
	bulk := handlers.NewBulkHandler(s.pipeline)
	routes.SetupRoutes(s.router, chat, bulk)
}

// cleanup releases all resources held by the service.
func (s *service) cleanup() {
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}
