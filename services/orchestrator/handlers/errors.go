// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package handlers holds the orchestrator's gin handlers.
//
// Handlers are built by factory functions that close over their
// collaborators. Every error response is a sanitized {"error": "..."} body;
// internal error text is only logged.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/IndoClimate/services/orchestrator/gateway"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/services"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/sessions"
	"github.com/gin-gonic/gin"
)

// Client-facing error texts.
const (
	msgInvalidRequest   = "invalid request body"
	msgSessionNotFound  = "session not found"
	msgGenerationFailed = "the assistant could not generate an answer, please try again"
	msgTurnTimeout      = "the assistant took too long to answer, please try again"
	msgDeliveryFailed   = "the reply could not be delivered"
	msgInternal         = "internal server error"
)

// statusFor maps an error to its HTTP status and client-facing text.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, sessions.ErrSessionNotFound):
		return http.StatusNotFound, msgSessionNotFound
	case errors.Is(err, services.ErrTurnTimeout):
		return http.StatusGatewayTimeout, msgTurnTimeout
	case errors.Is(err, services.ErrGenerationFailed):
		return http.StatusBadGateway, msgGenerationFailed
	case errors.Is(err, gateway.ErrDeliveryFailed):
		return http.StatusBadGateway, msgDeliveryFailed
	default:
		return http.StatusInternalServerError, msgInternal
	}
}

// writeError logs err and writes its sanitized response.
func writeError(c *gin.Context, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "path", c.FullPath(), "status", status, "error", err)
	} else {
		slog.Info("Request rejected", "path", c.FullPath(), "status", status, "error", err)
	}
	c.JSON(status, gin.H{"error": msg})
}

// badRequest writes a 400 with the generic validation text.
func badRequest(c *gin.Context, err error) {
	slog.Info("Invalid request", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidRequest})
}
