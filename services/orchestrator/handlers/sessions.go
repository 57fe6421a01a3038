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
	"errors"
	"io"
	"net/http"

	"github.com/AleutianAI/IndoClimate/services/orchestrator/datatypes"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CreateSession handles POST /v1/sessions.
//
// The session is created, or updated when the id exists, and associated
// with the caller's connection.
func CreateSession(store *sessions.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c, err)
			return
		}
		if err := req.Validate(); err != nil {
			badRequest(c, err)
			return
		}
		if req.SessionID == "" {
			req.SessionID = uuid.NewString()
		}

		store.CreateSession(req.SessionID, req.UserID, req.Extra)
		if err := store.AssociateSession(req.SessionID, c.ClientIP(), c.Request.UserAgent()); err != nil {
			writeError(c, err)
			return
		}
		session, _ := store.GetSession(req.SessionID)
		c.JSON(http.StatusCreated, session)
	}
}

// GetSession handles GET /v1/sessions/:sessionId.
func GetSession(store *sessions.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		session, ok := store.GetSession(c.Param("sessionId"))
		if !ok {
			writeError(c, sessions.ErrSessionNotFound)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

// GetSessionHistory handles GET /v1/sessions/:sessionId/history.
func GetSessionHistory(store *sessions.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("sessionId")
		if _, ok := store.GetSession(id); !ok {
			writeError(c, sessions.ErrSessionNotFound)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"session_id": id,
			"messages":   store.History(id).Messages(),
		})
	}
}

// UpdateSessionMetadata handles PATCH /v1/sessions/:sessionId/metadata.
func UpdateSessionMetadata(store *sessions.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.UpdateMetadataRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		if err := req.Validate(); err != nil {
			badRequest(c, err)
			return
		}
		session, err := store.UpdateMetadata(c.Param("sessionId"), datatypes.MetadataPatch{
			UserID: req.UserID,
			Type:   req.Type,
			Extra:  req.Extra,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
	}
}

// ClearSessionMessages handles DELETE /v1/sessions/:sessionId/messages.
func ClearSessionMessages(store *sessions.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("sessionId")
		if err := store.History(id).Clear(); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "cleared", "session_id": id})
	}
}

// DeleteSession handles DELETE /v1/sessions/:sessionId.
func DeleteSession(store *sessions.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("sessionId")
		if err := store.ClearSession(id); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted", "session_id": id})
	}
}

// ListUserSessions handles GET /v1/users/:userId/sessions.
func ListUserSessions(store *sessions.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		list := store.SessionsForUser(c.Param("userId"))
		if list == nil {
			list = []datatypes.Session{}
		}
		c.JSON(http.StatusOK, gin.H{"sessions": list})
	}
}

// ListConnectionSessions handles GET /v1/connections/sessions: the
// sessions observed from the caller's own address and user agent.
func ListConnectionSessions(store *sessions.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		list := store.SessionsForConnection(c.ClientIP(), c.Request.UserAgent())
		if list == nil {
			list = []datatypes.Session{}
		}
		c.JSON(http.StatusOK, gin.H{"sessions": list})
	}
}
