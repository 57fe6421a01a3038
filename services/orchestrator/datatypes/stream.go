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

// StreamEventType names the kind of a streamed event.
type StreamEventType string

const (
	StreamEventStatus  StreamEventType = "status"
	StreamEventToken   StreamEventType = "token"
	StreamEventSources StreamEventType = "sources"
	StreamEventError   StreamEventType = "error"
	StreamEventDone    StreamEventType = "done"
)

// IsTerminal reports whether no events follow this one.
func (t StreamEventType) IsTerminal() bool {
	return t == StreamEventDone || t == StreamEventError
}

// StreamEvent is one event on the SSE and WebSocket chat streams.
//
// # Fields
//
//   - Id, CreatedAt, Hash, PrevHash: Set by the writer. Hash chains each
//     event to the previous one on the same stream.
//   - Type: Event kind.
//   - Content: Token text for token events.
//   - Message: Status text for status events.
//   - Error: Sanitized error text for error events.
//   - SessionId: Set on done events.
//   - Action: Routing decision, set on done events.
//   - Sources: Citations for the selected fragments.
type StreamEvent struct {
	Id        string          `json:"id"`
	CreatedAt int64           `json:"created_at"`
	Hash      string          `json:"hash,omitempty"`
	PrevHash  string          `json:"prev_hash,omitempty"`
	Type      StreamEventType `json:"type"`
	Content   string          `json:"content,omitempty"`
	Message   string          `json:"message,omitempty"`
	Error     string          `json:"error,omitempty"`
	SessionId string          `json:"session_id,omitempty"`
	Action    RouteAction     `json:"action,omitempty"`
	Sources   []SourceInfo    `json:"sources,omitempty"`
}
