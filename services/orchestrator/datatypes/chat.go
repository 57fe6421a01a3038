// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxMessageContentBytes bounds a single inbound message.
	MaxMessageContentBytes = 16 * 1024

	// MaxSessionIDLength bounds caller-supplied session ids.
	MaxSessionIDLength = 128
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length, not rune count.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// =============================================================================
// Session Requests
// =============================================================================

// CreateSessionRequest is the body of POST /v1/sessions. All fields are
// optional; a missing SessionID is generated.
type CreateSessionRequest struct {
	SessionID string         `json:"session_id" validate:"omitempty,max=128,printascii"`
	UserID    string         `json:"user_id" validate:"omitempty,max=128"`
	Extra     map[string]any `json:"extra"`
}

// Validate checks the request against its struct tags.
func (r *CreateSessionRequest) Validate() error {
	return chatValidate.Struct(r)
}

// UpdateMetadataRequest is the body of PATCH /v1/sessions/:id/metadata.
type UpdateMetadataRequest struct {
	UserID *string        `json:"user_id" validate:"omitempty,max=128"`
	Type   *SessionType   `json:"type" validate:"omitempty,oneof=general rag"`
	Extra  map[string]any `json:"extra"`
}

// Validate checks the request against its struct tags.
func (r *UpdateMetadataRequest) Validate() error {
	return chatValidate.Struct(r)
}

// =============================================================================
// Chat Requests
// =============================================================================

// ChatRequest is one user turn for the sync, SSE and WebSocket endpoints.
//
// # Fields
//
//   - SessionID: Optional. A new session is created when empty or unknown.
//   - UserID: Optional. Registered on the session when it is created.
//   - Message: Required, at most MaxMessageContentBytes.
type ChatRequest struct {
	SessionID string `json:"session_id" validate:"omitempty,max=128,printascii"`
	UserID    string `json:"user_id" validate:"omitempty,max=128"`
	Message   string `json:"message" validate:"required,maxbytes"`
}

// Validate checks the request against its struct tags.
func (r *ChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// ChatResponse is the synchronous turn result.
type ChatResponse struct {
	Answer    string       `json:"answer"`
	SessionID string       `json:"session_id"`
	Action    RouteAction  `json:"action"`
	Rationale string       `json:"rationale,omitempty"`
	Sources   []SourceInfo `json:"sources"`
}

// GatewayInboundRequest is a message relayed by the messaging gateway.
// From is the phone-number-like recipient key for the reply.
type GatewayInboundRequest struct {
	From    string `json:"from" validate:"required,max=64"`
	Message string `json:"message" validate:"required,maxbytes"`
}

// Validate checks the request against its struct tags.
func (r *GatewayInboundRequest) Validate() error {
	return chatValidate.Struct(r)
}

// GatewayStatus summarizes a gateway turn for the webhook response.
type GatewayStatus string

const (
	GatewayDelivered GatewayStatus = "delivered"
	GatewayTimeout   GatewayStatus = "timeout"
	GatewayFailed    GatewayStatus = "failed"
)

// GatewayInboundResponse is the webhook response body.
type GatewayInboundResponse struct {
	Status    GatewayStatus `json:"status"`
	SessionID string        `json:"session_id"`
}
