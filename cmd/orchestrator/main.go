// Copyright (C) 2025 Nora Labs (engineering@noralabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command orchestrator starts the Nora support-query HTTP server.
//
// This is the main entry point for the containerized orchestrator
// service. It reads configuration from environment variables and starts
// the server.
//
// # Environment Variables
//
//   - ORCHESTRATOR_PORT: HTTP server port (default: 8000)
//   - LLM_BACKEND_TYPE: classification backend - keyword, openai (default: keyword)
//   - OPENAI_MODEL: chat-completion model for the openai backend
//   - WEAVIATE_SERVICE_URL: Weaviate vector DB URL (optional)
//   - SUPPORT_DOCUMENT_CLASS: Weaviate class name (default: SupportDocument)
//   - RETRIEVAL_TOP_K: documents fetched per query (default: 4)
//   - LEGACY_FINAL_SHAPE: "true" emits the flattened terminal frame
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: nora-otel-collector:4317)
//
// # Usage
//
//	# Build
//	go build -o orchestrator ./cmd/orchestrator
//
//	# Run
//	./orchestrator
//
//	# Or via container
//	podman-compose up orchestrator
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/noralabs/nora/services/orchestrator"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Build configuration from environment variables
	cfg := orchestrator.Config{
		Port:             getEnvInt("ORCHESTRATOR_PORT", 8000),
		LLMBackend:       getEnvString("LLM_BACKEND_TYPE", "keyword"),
		Model:            os.Getenv("OPENAI_MODEL"),
		WeaviateURL:      os.Getenv("WEAVIATE_SERVICE_URL"),
		SupportClass:     os.Getenv("SUPPORT_DOCUMENT_CLASS"),
		TopK:             getEnvInt("RETRIEVAL_TOP_K", 0),
		LegacyFinalShape: os.Getenv("LEGACY_FINAL_SHAPE") == "true",
		OTelEndpoint:     getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "nora-otel-collector:4317"),
	}

	slog.Info("Starting orchestrator",
		"port", cfg.Port,
		"llm_backend", cfg.LLMBackend,
		"weaviate_url", cfg.WeaviateURL,
	)

	svc, err := orchestrator.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Orchestrator error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
