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
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AleutianAI/IndoClimate/services/orchestrator/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEWriter_WireFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	SetSSEHeaders(rec)
	w, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, w.WriteStatus("routing"))
	require.NoError(t, w.WriteKeepAlive())
	require.NoError(t, w.WriteToken("Halo"))

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: status\ndata: {"))
	assert.Contains(t, body, "\n\n: ping\n\nevent: token\ndata: ")
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	events := parseSSE(t, body)
	require.Len(t, events, 2)
	assert.Empty(t, events[0].PrevHash)
	assert.Equal(t, events[0].Hash, events[1].PrevHash, "keep-alive must not advance the chain")
	assert.NotEmpty(t, events[0].Id)
	assert.NotZero(t, events[0].CreatedAt)
}

func TestVerifyChain_DetectsTampering(t *testing.T) {
	ch := newEventChain()
	events := []datatypes.StreamEvent{
		ch.stamp(datatypes.StreamEvent{Type: datatypes.StreamEventToken, Content: "Pasal 1"}),
		ch.stamp(datatypes.StreamEvent{Type: datatypes.StreamEventSources, Sources: []datatypes.SourceInfo{{Number: "98"}}}),
		ch.stamp(datatypes.StreamEvent{Type: datatypes.StreamEventDone, SessionId: "s1", Action: datatypes.RouteRAG}),
	}
	require.True(t, VerifyChain(events))

	tests := []struct {
		name   string
		tamper func([]datatypes.StreamEvent)
	}{
		{"content", func(e []datatypes.StreamEvent) { e[0].Content = "Pasal 2" }},
		{"sources", func(e []datatypes.StreamEvent) { e[1].Sources[0].Number = "99" }},
		{"action", func(e []datatypes.StreamEvent) { e[2].Action = datatypes.RouteNoRAG }},
		{"dropped event", func(e []datatypes.StreamEvent) { e[1] = e[2] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			copied := make([]datatypes.StreamEvent, len(events))
			for i, e := range events {
				e.Sources = append([]datatypes.SourceInfo(nil), e.Sources...)
				copied[i] = e
			}
			tt.tamper(copied)
			assert.False(t, VerifyChain(copied))
		})
	}
}
