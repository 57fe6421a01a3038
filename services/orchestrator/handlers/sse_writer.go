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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/AleutianAI/IndoClimate/services/orchestrator/datatypes"
	"github.com/google/uuid"
)

// =============================================================================
// Event Chain
// =============================================================================

// eventChain stamps stream events with id, creation time and a hash that
// links each event to the previous one on the same stream.
//
// # Thread Safety
//
// Not safe for concurrent use; writers hold their own lock.
type eventChain struct {
	prevHash string
	now      func() time.Time
}

func newEventChain() *eventChain {
	return &eventChain{now: time.Now}
}

// stamp fills Id, CreatedAt, PrevHash and Hash, and advances the chain.
func (ch *eventChain) stamp(event datatypes.StreamEvent) datatypes.StreamEvent {
	event.Id = uuid.NewString()
	event.CreatedAt = ch.now().UnixMilli()
	event.PrevHash = ch.prevHash
	event.Hash = ""
	event.Hash = hashEvent(event)
	ch.prevHash = event.Hash
	return event
}

// hashEvent is the hex SHA-256 over every content field of event, sources
// included. Hash must be empty when called.
func hashEvent(event datatypes.StreamEvent) string {
	sourcesJSON := ""
	if len(event.Sources) > 0 {
		if data, err := json.Marshal(event.Sources); err == nil {
			sourcesJSON = string(data)
		}
	}
	input := fmt.Sprintf("%s|%s|%d|%s|%s|%s|%s|%s|%s|%s",
		event.Id,
		event.Type,
		event.CreatedAt,
		event.PrevHash,
		event.Content,
		event.Message,
		event.Error,
		event.SessionId,
		event.Action,
		sourcesJSON,
	)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// VerifyChain reports whether events form an unbroken hash chain starting
// at the first event.
func VerifyChain(events []datatypes.StreamEvent) bool {
	prev := ""
	for _, e := range events {
		if e.PrevHash != prev {
			return false
		}
		want := e.Hash
		e.Hash = ""
		if hashEvent(e) != want {
			return false
		}
		prev = want
	}
	return true
}

// =============================================================================
// SSE Writer
// =============================================================================

// SSEWriter writes chat stream events as Server-Sent Events.
//
// Every event is stamped by the writer; callers leave Id, CreatedAt, Hash
// and PrevHash empty.
type SSEWriter interface {
	WriteEvent(event datatypes.StreamEvent) error
	WriteStatus(message string) error
	WriteToken(content string) error
	WriteSources(sources []datatypes.SourceInfo) error
	WriteError(errMsg string) error
	WriteDone(sessionID string, action datatypes.RouteAction) error

	// WriteKeepAlive sends an SSE comment. It does not advance the chain.
	WriteKeepAlive() error
}

// sseWriter implements SSEWriter over an http.ResponseWriter.
//
// # Thread Safety
//
// Safe for concurrent use. The keep-alive ticker writes from its own
// goroutine.
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	chain   *eventChain
	mu      sync.Mutex
}

var _ SSEWriter = (*sseWriter)(nil)

// NewSSEWriter wraps w. Call SetSSEHeaders first.
//
// # Outputs
//
//   - error: Non-nil if w does not support flushing.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher, chain: newEventChain()}, nil
}

// WriteEvent stamps, serializes and flushes one event in the
// "event: {type}\ndata: {json}\n\n" format.
func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event = w.chain.stamp(event)
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

func (w *sseWriter) WriteStatus(message string) error {
	return w.WriteEvent(datatypes.StreamEvent{Type: datatypes.StreamEventStatus, Message: message})
}

func (w *sseWriter) WriteToken(content string) error {
	return w.WriteEvent(datatypes.StreamEvent{Type: datatypes.StreamEventToken, Content: content})
}

func (w *sseWriter) WriteSources(sources []datatypes.SourceInfo) error {
	return w.WriteEvent(datatypes.StreamEvent{Type: datatypes.StreamEventSources, Sources: sources})
}

// WriteError writes a terminal error event. errMsg must already be
// sanitized.
func (w *sseWriter) WriteError(errMsg string) error {
	return w.WriteEvent(datatypes.StreamEvent{Type: datatypes.StreamEventError, Error: errMsg})
}

func (w *sseWriter) WriteDone(sessionID string, action datatypes.RouteAction) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:      datatypes.StreamEventDone,
		SessionId: sessionID,
		Action:    action,
	})
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprint(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// SetSSEHeaders sets the event-stream headers. X-Accel-Buffering disables
// proxy buffering in nginx.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
