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

	"github.com/AleutianAI/MisraFix/services/fixer/pipeline"
	"github.com/AleutianAI/MisraFix/services/gateway/handlers"
	"github.com/AleutianAI/MisraFix/services/gateway/middleware"
	"github.com/AleutianAI/MisraFix/services/gateway/ui"
)

// SetupRoutes registers every gateway endpoint on the router.
//
// metricsHandler serves /metrics and may be nil when metrics are
// disabled. rateLimitRPS <= 0 disables per-client rate limiting.
func SetupRoutes(router *gin.Engine, manager *pipeline.Manager,
	metricsHandler http.Handler, maxUploadBytes int, rateLimitRPS float64) {

	router.GET("/health", handlers.HealthCheck)
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	router.StaticFS("/ui", http.FS(ui.Static()))

	// Friendly redirect to the review page
	router.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/ui/index.html")
	})

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.RateLimit(rateLimitRPS, int(rateLimitRPS*2)))
	{
		// Remediation session routes
		sessions := v1.Group("/sessions")
		{
			sessions.POST("", handlers.CreateSession(manager, maxUploadBytes))
			sessions.GET("", handlers.ListSessions(manager))
			sessions.GET("/:id", handlers.GetSession(manager))
			sessions.GET("/:id/tasks", handlers.GetSessionTasks(manager))
			sessions.GET("/:id/events", handlers.StreamSessionEvents(manager))
			sessions.POST("/:id/apply", handlers.ApplySession(manager))
			sessions.DELETE("/:id", handlers.DeleteSession(manager))
		}
		// Patch review routes
		tasks := v1.Group("/tasks")
		{
			tasks.GET("/:id/patch", handlers.GetTaskPatch(manager))
			tasks.POST("/:id/accept", handlers.AcceptTask(manager))
			tasks.POST("/:id/reject", handlers.RejectTask(manager))
		}
	}
}
