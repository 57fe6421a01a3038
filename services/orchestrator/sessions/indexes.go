// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sessions

import (
	"sort"
	"time"

	"github.com/AleutianAI/IndoClimate/pkg/fingerprint"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/datatypes"
)

// =============================================================================
// Index Maintenance (caller holds the entry lock)
// =============================================================================

func (s *Store) reindexUser(id, oldUser, newUser string) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	detach(s.users, oldUser, id)
	attach(s.users, newUser, id, s.now())
}

func (s *Store) reindexConnection(id, oldKey, newKey string) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	if oldKey != newKey {
		detach(s.connections, oldKey, id)
	}
	attach(s.connections, newKey, id, s.now())
}

func attach(index map[string]*indexRecord, key, id string, now time.Time) {
	if key == "" {
		return
	}
	rec := index[key]
	if rec == nil {
		rec = &indexRecord{firstSeen: now, ids: make(map[string]struct{})}
		index[key] = rec
	}
	if now.After(rec.lastSeen) {
		rec.lastSeen = now
	}
	rec.ids[id] = struct{}{}
}

// detach removes id from the record. Records are kept when they empty out;
// a connection's first-seen time outlives its sessions.
func detach(index map[string]*indexRecord, key, id string) {
	if key == "" {
		return
	}
	if rec := index[key]; rec != nil {
		delete(rec.ids, id)
	}
}

// =============================================================================
// Connection Fingerprints
// =============================================================================

// GetOrCreateConnection returns the record for the connection identified by
// ip and userAgent, creating it on first sight. LastSeen is refreshed.
func (s *Store) GetOrCreateConnection(ip, userAgent string) datatypes.ConnectionRecord {
	key := fingerprint.Key(ip, userAgent)
	now := s.now()

	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	rec := s.connections[key]
	if rec == nil {
		rec = &indexRecord{firstSeen: now, ids: make(map[string]struct{})}
		s.connections[key] = rec
	}
	if now.After(rec.lastSeen) {
		rec.lastSeen = now
	}
	return datatypes.ConnectionRecord{
		Fingerprint: key,
		FirstSeen:   rec.firstSeen,
		LastSeen:    rec.lastSeen,
		SessionIDs:  rec.sortedIDs(),
	}
}

// AssociateSession records ip and userAgent on the session and moves it to
// that connection's fingerprint. The last association wins.
func (s *Store) AssociateSession(id, ip, userAgent string) error {
	_, err := s.UpdateMetadata(id, datatypes.MetadataPatch{IP: &ip, UserAgent: &userAgent})
	return err
}

// SessionsForConnection returns snapshots of the sessions observed from the
// connection, most recently active first.
func (s *Store) SessionsForConnection(ip, userAgent string) []datatypes.Session {
	return s.collect(false, fingerprint.Key(ip, userAgent))
}

// SessionsForUser returns snapshots of the user's sessions, most recently
// active first.
func (s *Store) SessionsForUser(userID string) []datatypes.Session {
	if userID == "" {
		return nil
	}
	return s.collect(true, userID)
}

// UserRecord returns the user index entry, if any.
func (s *Store) UserRecord(userID string) (datatypes.UserRecord, bool) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	rec := s.users[userID]
	if rec == nil {
		return datatypes.UserRecord{}, false
	}
	return datatypes.UserRecord{
		UserID:     userID,
		FirstSeen:  rec.firstSeen,
		LastSeen:   rec.lastSeen,
		SessionIDs: rec.sortedIDs(),
	}, true
}

// collect copies the ids under indexMu and then snapshots each session
// without holding it, keeping the entry-then-index lock order.
func (s *Store) collect(byUser bool, key string) []datatypes.Session {
	s.indexMu.Lock()
	index := s.connections
	if byUser {
		index = s.users
	}
	var ids []string
	if rec := index[key]; rec != nil {
		ids = rec.sortedIDs()
	}
	s.indexMu.Unlock()

	out := make([]datatypes.Session, 0, len(ids))
	for _, id := range ids {
		if sess, ok := s.GetSession(id); ok {
			out = append(out, sess)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Metadata.LastActive.After(out[j].Metadata.LastActive)
	})
	return out
}
