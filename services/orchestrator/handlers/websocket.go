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
	"log/slog"
	"net/http"

	"github.com/AleutianAI/IndoClimate/services/orchestrator/datatypes"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/services"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
}

// wsConn writes chained stream events to one WebSocket connection. Only
// the read loop's goroutine writes, so no lock is needed.
type wsConn struct {
	ws    *websocket.Conn
	chain *eventChain
}

func (w *wsConn) send(event datatypes.StreamEvent) error {
	if err := w.ws.WriteJSON(w.chain.stamp(event)); err != nil {
		slog.Warn("Failed to write WebSocket event", "error", err)
		return err
	}
	return nil
}

// HandleChatWebSocket handles GET /v1/chat/ws.
//
// # Description
//
// Each client frame is one ChatRequest. The reply is streamed as token
// events followed by a done event carrying the session id, routing action
// and sources. A frame without session_id continues the connection's
// current session, so a client may send only messages.
//
// Invalid frames get an error event and the connection stays open. A
// generation failure gets an error event for that turn only.
func HandleChatWebSocket(svc ChatService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		conn := &wsConn{ws: ws, chain: newEventChain()}
		ip, userAgent := c.ClientIP(), c.Request.UserAgent()
		current := ""

		for {
			var req datatypes.ChatRequest
			if err := ws.ReadJSON(&req); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					slog.Info("Websocket client disconnected", "error", err)
				}
				return
			}
			if req.SessionID == "" {
				req.SessionID = current
			}
			if err := req.Validate(); err != nil {
				if conn.send(datatypes.StreamEvent{Type: datatypes.StreamEventError, Error: msgInvalidRequest}) != nil {
					return
				}
				continue
			}

			current = svc.EnsureSession(req.SessionID, req.UserID)
			if err := svc.Store().AssociateSession(current, ip, userAgent); err != nil {
				slog.Warn("Failed to associate session with connection", "session_id", current, "error", err)
			}

			resp, err := svc.Stream(c.Request.Context(), current, req.Message, services.StreamCallbacks{
				OnToken: func(tok string) error {
					return conn.send(datatypes.StreamEvent{Type: datatypes.StreamEventToken, Content: tok})
				},
			})
			if err != nil {
				if !services.IsGenerationError(err) {
					return
				}
				_, msg := statusFor(err)
				if conn.send(datatypes.StreamEvent{Type: datatypes.StreamEventError, Error: msg, SessionId: current}) != nil {
					return
				}
				continue
			}

			if conn.send(datatypes.StreamEvent{
				Type:      datatypes.StreamEventDone,
				SessionId: resp.SessionID,
				Action:    resp.Action,
				Sources:   resp.Sources,
			}) != nil {
				return
			}
		}
	}
}
