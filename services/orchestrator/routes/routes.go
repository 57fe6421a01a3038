// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package routes registers the orchestrator's HTTP surface.
package routes

import (
	"github.com/AleutianAI/IndoClimate/services/orchestrator/handlers"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies are the services behind the routes.
//
// # Fields
//
//   - Chat: Required. Also provides the session store.
//   - Gateway: Optional. The inbound webhook is registered only when set.
//   - Metrics: Optional. GET /metrics is registered only when set.
//   - RetrievalEnabled: Reported by GET /health.
type Dependencies struct {
	Chat             handlers.ChatService
	Gateway          handlers.GatewayService
	Metrics          prometheus.Gatherer
	RetrievalEnabled bool
}

// SetupRoutes registers every route on router.
//
// # Routes
//
//	GET    /health
//	GET    /metrics
//	POST   /v1/sessions
//	GET    /v1/sessions/:sessionId
//	GET    /v1/sessions/:sessionId/history
//	PATCH  /v1/sessions/:sessionId/metadata
//	DELETE /v1/sessions/:sessionId/messages
//	DELETE /v1/sessions/:sessionId
//	GET    /v1/users/:userId/sessions
//	GET    /v1/connections/sessions
//	POST   /v1/chat
//	POST   /v1/chat/stream
//	GET    /v1/chat/ws
//	POST   /v1/gateway/inbound
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	store := deps.Chat.Store()

	router.GET("/health", handlers.HealthCheck(store, deps.RetrievalEnabled))
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/v1")
	{
		sessions := v1.Group("/sessions")
		{
			sessions.POST("", handlers.CreateSession(store))
			sessions.GET("/:sessionId", handlers.GetSession(store))
			sessions.GET("/:sessionId/history", handlers.GetSessionHistory(store))
			sessions.PATCH("/:sessionId/metadata", handlers.UpdateSessionMetadata(store))
			sessions.DELETE("/:sessionId/messages", handlers.ClearSessionMessages(store))
			sessions.DELETE("/:sessionId", handlers.DeleteSession(store))
		}
		v1.GET("/users/:userId/sessions", handlers.ListUserSessions(store))
		v1.GET("/connections/sessions", handlers.ListConnectionSessions(store))

		chat := v1.Group("/chat")
		{
			chat.POST("", handlers.HandleChat(deps.Chat))
			chat.POST("/stream", handlers.HandleChatStream(deps.Chat))
			chat.GET("/ws", handlers.HandleChatWebSocket(deps.Chat))
		}

		if deps.Gateway != nil {
			v1.POST("/gateway/inbound", handlers.HandleGatewayInbound(deps.Gateway))
		}
	}
}
