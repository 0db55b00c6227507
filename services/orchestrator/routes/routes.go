// Copyright (C) 2025 Nora Labs (engineering@noralabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noralabs/nora/services/orchestrator/handlers"
)

// SetupRoutes registers all orchestrator endpoints.
//
// # Description
//
//	The chat and bulk endpoints live at the root for compatibility with
//	existing consumers, with /v1 aliases for new integrations. /metrics
//	exposes the Prometheus registry.
func SetupRoutes(router *gin.Engine, chat *handlers.ChatHandler, bulk *handlers.BulkHandler) {
	router.GET("/health", handlers.HandleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/chat", chat.HandleChat)
	router.POST("/bulk", bulk.HandleBulkClassify)

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/chat", chat.HandleChat)
		v1.POST("/bulk", bulk.HandleBulkClassify)
	}
}
