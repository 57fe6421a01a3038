// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures shared across the orchestrator.
//
// This file holds the conversation-state model: messages, sessions and the
// secondary connection and user indexes.
package datatypes

import (
	"maps"
	"time"
)

// =============================================================================
// Messages
// =============================================================================

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the stored roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is one entry in a session's history.
//
// Content of a RoleUser message is always the redacted query; retrieval
// context never reaches stored history.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// =============================================================================
// Sessions
// =============================================================================

// SessionType is the tag set by the last routing decision.
type SessionType string

const (
	SessionTypeGeneral SessionType = "general"
	SessionTypeRAG     SessionType = "rag"
)

// SessionMetadata describes a session independently of its messages.
//
// # Fields
//
//   - UserID: Optional owner; registers the session in the user index.
//   - CreatedAt: Set once at creation.
//   - LastActive: Monotonically non-decreasing.
//   - IP, UserAgent: Optional client connection details. Never serialized;
//     responses expose only the fingerprint.
//   - Fingerprint: Connection key derived from IP and UserAgent, empty when
//     neither was ever supplied.
//   - Type: general or rag.
//   - Extra: Free-form extension fields.
type SessionMetadata struct {
	UserID      string         `json:"user_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	LastActive  time.Time      `json:"last_active"`
	IP          string         `json:"-"`
	UserAgent   string         `json:"-"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	Type        SessionType    `json:"type"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Clone returns a deep-enough copy: Extra is copied one level.
func (m SessionMetadata) Clone() SessionMetadata {
	if m.Extra != nil {
		m.Extra = maps.Clone(m.Extra)
	}
	return m
}

// MetadataPatch is a partial metadata update. Nil fields are left alone;
// Extra keys are merged with the new values winning.
type MetadataPatch struct {
	UserID    *string        `json:"user_id,omitempty"`
	IP        *string        `json:"-"`
	UserAgent *string        `json:"-"`
	Type      *SessionType   `json:"type,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// TouchesConnection reports whether applying the patch may change the
// session's connection fingerprint.
func (p MetadataPatch) TouchesConnection() bool {
	return p.IP != nil || p.UserAgent != nil
}

// Session is a snapshot of one conversation. Values returned by the session
// store are copies; mutating them has no effect on the store.
type Session struct {
	ID       string          `json:"session_id"`
	Messages []Message       `json:"messages"`
	Metadata SessionMetadata `json:"metadata"`
}

// =============================================================================
// Secondary Indexes
// =============================================================================

// ConnectionRecord is the fingerprint index entry for one client connection.
type ConnectionRecord struct {
	Fingerprint string    `json:"fingerprint"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
	SessionIDs  []string  `json:"session_ids"`
}

// UserRecord is the user index entry. It is derived from session metadata
// and never authoritative.
type UserRecord struct {
	UserID     string    `json:"user_id"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	SessionIDs []string  `json:"session_ids"`
}
