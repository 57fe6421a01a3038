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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChatRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     ChatRequest
		wantErr bool
	}{
		{"valid", ChatRequest{Message: "apa itu perubahan iklim?"}, false},
		{"valid with session", ChatRequest{SessionID: "web-123", Message: "hi"}, false},
		{"empty message", ChatRequest{}, true},
		{"oversized message", ChatRequest{Message: strings.Repeat("a", MaxMessageContentBytes+1)}, true},
		{"session id too long", ChatRequest{SessionID: strings.Repeat("s", MaxSessionIDLength+1), Message: "hi"}, true},
		{"session id non ascii", ChatRequest{SessionID: "sesié", Message: "hi"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMaxBytes_CountsBytesNotRunes(t *testing.T) {
	// 3 bytes per rune
	msg := strings.Repeat("中", MaxMessageContentBytes/3+1)
	req := ChatRequest{Message: msg}
	assert.Error(t, req.Validate())
}

func TestUpdateMetadataRequest_Validate(t *testing.T) {
	rag := SessionTypeRAG
	bogus := SessionType("other")

	assert.NoError(t, (&UpdateMetadataRequest{Type: &rag}).Validate())
	assert.NoError(t, (&UpdateMetadataRequest{}).Validate())
	assert.Error(t, (&UpdateMetadataRequest{Type: &bogus}).Validate())
}

func TestGatewayInboundRequest_Validate(t *testing.T) {
	assert.NoError(t, (&GatewayInboundRequest{From: "6281234567890", Message: "halo"}).Validate())
	assert.Error(t, (&GatewayInboundRequest{Message: "halo"}).Validate())
	assert.Error(t, (&GatewayInboundRequest{From: "6281234567890"}).Validate())
}

func TestCreateSessionRequest_Validate(t *testing.T) {
	assert.NoError(t, (&CreateSessionRequest{}).Validate())
	assert.NoError(t, (&CreateSessionRequest{SessionID: "abc", UserID: "u1"}).Validate())
	assert.Error(t, (&CreateSessionRequest{SessionID: strings.Repeat("s", 200)}).Validate())
}

func TestStreamEventType_IsTerminal(t *testing.T) {
	assert.True(t, StreamEventDone.IsTerminal())
	assert.True(t, StreamEventError.IsTerminal())
	assert.False(t, StreamEventToken.IsTerminal())
	assert.False(t, StreamEventSources.IsTerminal())
}
