// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/IndoClimate/services/orchestrator/datatypes"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/services"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/sessions"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var chatTracer = otel.Tracer("indoclimate.orchestrator.handlers")

// keepAliveInterval keeps idle SSE connections open through proxies with a
// 60s idle timeout.
const keepAliveInterval = 15 * time.Second

// ChatService runs conversational turns. *services.ChatRAGService
// implements it.
type ChatService interface {
	Store() *sessions.Store
	EnsureSession(id, userID string) string
	Process(ctx context.Context, sessionID, question string) (*datatypes.ChatResponse, error)
	Stream(ctx context.Context, sessionID, question string, cb services.StreamCallbacks) (*datatypes.ChatResponse, error)
}

var _ ChatService = (*services.ChatRAGService)(nil)

// startTurn validates req and resolves its session, associating it with
// the caller's connection.
func startTurn(c *gin.Context, svc ChatService, req *datatypes.ChatRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	sessionID := svc.EnsureSession(req.SessionID, req.UserID)
	if err := svc.Store().AssociateSession(sessionID, c.ClientIP(), c.Request.UserAgent()); err != nil {
		slog.Warn("Failed to associate session with connection", "session_id", sessionID, "error", err)
	}
	return sessionID, nil
}

// HandleChat handles POST /v1/chat: one synchronous turn.
func HandleChat(svc ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleChat")
		defer span.End()

		var req datatypes.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		sessionID, err := startTurn(c, svc, &req)
		if err != nil {
			badRequest(c, err)
			return
		}
		span.SetAttributes(attribute.String("session.id", sessionID))

		resp, err := svc.Process(ctx, sessionID, req.Message)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "turn failed")
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HandleChatStream handles POST /v1/chat/stream.
//
// # Description
//
// Streams status and token events, then a sources event carrying the
// selected citations and a done event. A generation failure ends the
// stream with an error event instead. Validation failures are answered
// with a plain 400 before the stream opens.
func HandleChatStream(svc ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleChatStream")
		defer span.End()

		var req datatypes.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		sessionID, err := startTurn(c, svc, &req)
		if err != nil {
			badRequest(c, err)
			return
		}
		span.SetAttributes(attribute.String("session.id", sessionID))

		SetSSEHeaders(c.Writer)
		c.Status(http.StatusOK)
		w, err := NewSSEWriter(c.Writer)
		if err != nil {
			slog.Error("Streaming not supported", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
			return
		}

		stop := make(chan struct{})
		pinged := make(chan struct{})
		go func() {
			defer close(pinged)
			keepAlive(w, stop)
		}()
		defer func() {
			close(stop)
			<-pinged
		}()

		resp, err := svc.Stream(ctx, sessionID, req.Message, services.StreamCallbacks{
			OnStatus: w.WriteStatus,
			OnToken:  w.WriteToken,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "stream failed")
			if !services.IsGenerationError(err) && !errors.Is(err, services.ErrTurnTimeout) {
				// The consumer went away; there is nobody to tell.
				slog.Info("Chat stream aborted", "session_id", sessionID, "error", err)
				return
			}
			_, msg := statusFor(err)
			_ = w.WriteError(msg)
			return
		}

		if err := w.WriteSources(resp.Sources); err != nil {
			return
		}
		_ = w.WriteDone(resp.SessionID, resp.Action)
	}
}

// keepAlive pings w until stop is closed or a write fails.
func keepAlive(w SSEWriter, stop <-chan struct{}) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := w.WriteKeepAlive(); err != nil {
				return
			}
		}
	}
}
