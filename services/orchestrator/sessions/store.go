// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sessions holds in-memory conversation state: a concurrent store of
// sessions with a sliding-window history, secondary indexes by user and by
// connection fingerprint, and redaction of retrieval context before storage.
//
// # Concurrency
//
// The session table is guarded by an RWMutex that is held only for map
// lookups and inserts. Each session carries its own mutex, so mutations on
// different ids never block each other and mutations on one id are
// linearizable. The user and connection indexes share one mutex.
//
// Lock order is entry.mu, then indexMu or the table lock. The table lock is
// never held while acquiring either of the others.
//
// A removed entry is flagged under its own lock; callers that looked the
// entry up before removal observe the flag and retry the lookup, so an
// append never lands in a detached entry.
package sessions

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/IndoClimate/pkg/fingerprint"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/datatypes"
)

// DefaultWindowSize is the number of individual messages kept per session.
const DefaultWindowSize = 4

// ErrSessionNotFound is returned by operations that never create sessions.
var ErrSessionNotFound = errors.New("session not found")

// ErrInvalidRole is returned when appending a message with an unknown role.
var ErrInvalidRole = errors.New("invalid message role")

// =============================================================================
// Configuration
// =============================================================================

// Config configures a Store.
type Config struct {
	// WindowSize bounds each session's history. Default: DefaultWindowSize.
	WindowSize int

	// Now returns the current time. Default: time.Now. Tests inject a fake.
	Now func() time.Time
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return cfg
}

// =============================================================================
// Store
// =============================================================================

type entry struct {
	mu       sync.Mutex
	id       string
	messages []datatypes.Message
	meta     datatypes.SessionMetadata
	removed  bool
}

// snapshot copies the entry. Caller holds e.mu.
func (e *entry) snapshot() datatypes.Session {
	msgs := make([]datatypes.Message, len(e.messages))
	copy(msgs, e.messages)
	return datatypes.Session{ID: e.id, Messages: msgs, Metadata: e.meta.Clone()}
}

type indexRecord struct {
	firstSeen time.Time
	lastSeen  time.Time
	ids       map[string]struct{}
}

func (r *indexRecord) sortedIDs() []string {
	ids := make([]string, 0, len(r.ids))
	for id := range r.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Store is the concurrent session store. Construct with NewStore; the zero
// value is not usable.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Store struct {
	windowSize int
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[string]*entry

	indexMu     sync.Mutex
	users       map[string]*indexRecord
	connections map[string]*indexRecord
}

// NewStore creates an empty store.
func NewStore(cfg Config) *Store {
	cfg = applyConfigDefaults(cfg)
	return &Store{
		windowSize:  cfg.WindowSize,
		now:         cfg.Now,
		sessions:    make(map[string]*entry),
		users:       make(map[string]*indexRecord),
		connections: make(map[string]*indexRecord),
	}
}

// WindowSize returns the configured history bound.
func (s *Store) WindowSize() int {
	return s.windowSize
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// lockEntry returns the entry for id with its mutex held, or nil when the
// session does not exist and create is false.
func (s *Store) lockEntry(id string, create bool) *entry {
	for {
		s.mu.RLock()
		e := s.sessions[id]
		s.mu.RUnlock()

		if e == nil {
			if !create {
				return nil
			}
			s.mu.Lock()
			e = s.sessions[id]
			if e == nil {
				now := s.now()
				e = &entry{
					id: id,
					meta: datatypes.SessionMetadata{
						CreatedAt:  now,
						LastActive: now,
						Type:       datatypes.SessionTypeGeneral,
					},
				}
				s.sessions[id] = e
			}
			s.mu.Unlock()
		}

		e.mu.Lock()
		if !e.removed {
			return e
		}
		e.mu.Unlock()
	}
}

// touch advances lastActive without ever moving it backwards. Caller holds
// e.mu.
func (s *Store) touch(e *entry) {
	if now := s.now(); now.After(e.meta.LastActive) {
		e.meta.LastActive = now
	}
}

// snapshotEntries copies the current entry pointers, optionally filtered by
// id prefix, under a single read lock.
func (s *Store) snapshotEntries(prefix string) []*entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*entry, 0, len(s.sessions))
	for id, e := range s.sessions {
		if strings.HasPrefix(id, prefix) {
			out = append(out, e)
		}
	}
	return out
}

// =============================================================================
// Session Operations
// =============================================================================

// CreateSession creates the session if needed and returns a snapshot.
//
// # Description
//
// A new session starts with empty history and current timestamps. On an
// existing id the session is kept and only the supplied userID and extra
// fields are applied. A non-empty userID registers the session in the user
// index.
func (s *Store) CreateSession(id, userID string, extra map[string]any) datatypes.Session {
	e := s.lockEntry(id, true)
	defer e.mu.Unlock()

	if userID != "" && userID != e.meta.UserID {
		s.reindexUser(e.id, e.meta.UserID, userID)
		e.meta.UserID = userID
	}
	if len(extra) > 0 {
		if e.meta.Extra == nil {
			e.meta.Extra = make(map[string]any, len(extra))
		}
		maps.Copy(e.meta.Extra, extra)
	}
	s.touch(e)

	slog.Debug("Session created", "session_id", id, "has_user", e.meta.UserID != "")
	return e.snapshot()
}

// GetSession returns a copy of the session.
func (s *Store) GetSession(id string) (datatypes.Session, bool) {
	e := s.lockEntry(id, false)
	if e == nil {
		return datatypes.Session{}, false
	}
	defer e.mu.Unlock()
	return e.snapshot(), true
}

// Messages returns a copy of the session's history, nil when absent.
func (s *Store) Messages(id string) []datatypes.Message {
	e := s.lockEntry(id, false)
	if e == nil {
		return nil
	}
	defer e.mu.Unlock()
	msgs := make([]datatypes.Message, len(e.messages))
	copy(msgs, e.messages)
	return msgs
}

// AddMessage appends one message. See AddMessages.
func (s *Store) AddMessage(id string, msg datatypes.Message) error {
	return s.AddMessages(id, msg)
}

// AddMessages appends messages to a session in order, atomically.
//
// # Description
//
// The session is created lazily. User messages are redacted before storage.
// A zero CreatedAt is set to the current time. After the append the history
// is trimmed from the head to the window size and lastActive is refreshed.
// All messages land under one lock acquisition, so readers and sweeps see
// either none or all of them.
//
// # Outputs
//
//   - error: ErrInvalidRole if any message has an unknown role; nothing is
//     appended in that case.
func (s *Store) AddMessages(id string, msgs ...datatypes.Message) error {
	for _, m := range msgs {
		if !m.Role.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidRole, m.Role)
		}
	}
	if len(msgs) == 0 {
		return nil
	}

	e := s.lockEntry(id, true)
	defer e.mu.Unlock()

	now := s.now()
	for _, m := range msgs {
		if m.Role == datatypes.RoleUser {
			m.Content = Redact(m.Content)
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		e.messages = append(e.messages, m)
	}
	if over := len(e.messages) - s.windowSize; over > 0 {
		kept := make([]datatypes.Message, s.windowSize)
		copy(kept, e.messages[over:])
		e.messages = kept
	}
	s.touch(e)
	return nil
}

// UpdateMetadata merges patch into the session's metadata.
//
// # Description
//
// Non-nil patch fields replace current values and Extra keys are merged
// with the patch winning. lastActive is always refreshed. A changed IP or
// user agent moves the session to its new connection fingerprint; a changed
// user id moves it in the user index.
//
// # Outputs
//
//   - datatypes.Session: Snapshot after the update.
//   - error: ErrSessionNotFound when the session does not exist.
func (s *Store) UpdateMetadata(id string, patch datatypes.MetadataPatch) (datatypes.Session, error) {
	e := s.lockEntry(id, false)
	if e == nil {
		return datatypes.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	defer e.mu.Unlock()

	if patch.UserID != nil && *patch.UserID != e.meta.UserID {
		s.reindexUser(e.id, e.meta.UserID, *patch.UserID)
		e.meta.UserID = *patch.UserID
	}
	if patch.Type != nil {
		e.meta.Type = *patch.Type
	}
	if len(patch.Extra) > 0 {
		if e.meta.Extra == nil {
			e.meta.Extra = make(map[string]any, len(patch.Extra))
		}
		maps.Copy(e.meta.Extra, patch.Extra)
	}
	if patch.TouchesConnection() {
		if patch.IP != nil {
			e.meta.IP = *patch.IP
		}
		if patch.UserAgent != nil {
			e.meta.UserAgent = *patch.UserAgent
		}
		key := fingerprint.Key(e.meta.IP, e.meta.UserAgent)
		s.reindexConnection(e.id, e.meta.Fingerprint, key)
		e.meta.Fingerprint = key
	}
	s.touch(e)
	return e.snapshot(), nil
}

// ClearSessionMessages empties the session's history and keeps metadata.
func (s *Store) ClearSessionMessages(id string) error {
	e := s.lockEntry(id, false)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	defer e.mu.Unlock()
	e.messages = nil
	s.touch(e)
	return nil
}

// ClearSessionMessagesByPrefix clears the history of every session whose id
// starts with prefix, regardless of activity. Metadata is kept.
//
// # Outputs
//
//   - int: Number of sessions that had messages and were cleared.
//
// # Limitations
//
//   - Sessions created after the id snapshot are not visited.
func (s *Store) ClearSessionMessagesByPrefix(prefix string) int {
	cleared := 0
	for _, e := range s.snapshotEntries(prefix) {
		e.mu.Lock()
		if !e.removed && len(e.messages) > 0 {
			e.messages = nil
			cleared++
		}
		e.mu.Unlock()
	}
	return cleared
}

// ClearInactiveSessions clears the history of every session idle for longer
// than threshold. Metadata is kept.
//
// Inactivity is re-checked under each session's lock, so a session touched
// by an append that raced the snapshot keeps its messages.
func (s *Store) ClearInactiveSessions(threshold time.Duration) int {
	cleared := 0
	for _, e := range s.snapshotEntries("") {
		e.mu.Lock()
		if !e.removed && len(e.messages) > 0 && s.now().Sub(e.meta.LastActive) > threshold {
			e.messages = nil
			cleared++
		}
		e.mu.Unlock()
	}
	return cleared
}

// ClearSession removes the session and detaches it from both indexes.
//
// The entry stays in the table until its index records are gone, so a
// CreateSession racing on the same id waits on the entry and registers the
// replacement only after the detach.
func (s *Store) ClearSession(id string) error {
	e := s.lockEntry(id, false)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	defer e.mu.Unlock()

	e.removed = true
	s.indexMu.Lock()
	detach(s.users, e.meta.UserID, id)
	detach(s.connections, e.meta.Fingerprint, id)
	s.indexMu.Unlock()

	s.mu.Lock()
	if s.sessions[id] == e {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	return nil
}

// ClearAll removes every session and empties both indexes.
func (s *Store) ClearAll() {
	s.mu.Lock()
	old := s.sessions
	s.sessions = make(map[string]*entry)
	s.mu.Unlock()

	for _, e := range old {
		e.mu.Lock()
		e.removed = true
		e.mu.Unlock()
	}

	s.indexMu.Lock()
	s.users = make(map[string]*indexRecord)
	s.connections = make(map[string]*indexRecord)
	s.indexMu.Unlock()

	slog.Info("All sessions cleared", "count", len(old))
}
