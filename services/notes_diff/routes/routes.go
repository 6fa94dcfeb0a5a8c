// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
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
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianNotes/services/notes_diff/handlers"
)

// ServiceName labels server spans.
const ServiceName = "notes-diff-service"

// NewRouter builds the gin engine with recovery, tracing and every route.
// A nil metrics handler serves the default Prometheus registry.
func NewRouter(h *handlers.Handlers, metrics http.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(ServiceName))
	SetupRoutes(router, h, metrics)
	return router
}

// SetupRoutes registers the notes diff API on router.
func SetupRoutes(router *gin.Engine, h *handlers.Handlers, metrics http.Handler) {
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	router.GET("/health", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(metrics))

	v1 := router.Group("/v1/notes")
	{
		v1.POST("/diff/parse", h.ParseDiff)
		v1.POST("/diff/apply", h.ApplyDiff)

		sessions := v1.Group("/sessions")
		{
			sessions.POST("", h.CreateSession)
			sessions.GET("/:id/diffs", h.ListDiffs)
			sessions.POST("/:id/diffs/accept_all", h.AcceptAll)
			sessions.POST("/:id/diffs/reject_all", h.RejectAll)
			sessions.POST("/:id/diffs/:diffId/accept", h.AcceptDiff)
			sessions.POST("/:id/diffs/:diffId/reject", h.RejectDiff)
			sessions.POST("/:id/diffs/:diffId/retry", h.RetryDiff)
			sessions.POST("/:id/apply", h.ApplySession)
			sessions.GET("/:id/stream", h.StreamSocket)
		}
	}
}
