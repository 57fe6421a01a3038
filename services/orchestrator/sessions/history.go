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
	"github.com/AleutianAI/IndoClimate/services/orchestrator/datatypes"
)

// History is a per-session view over a Store. It holds no state of its own
// and is cheap to create per request.
type History struct {
	store *Store
	id    string
}

// History returns the view for session id. The session is created lazily
// on the first append.
func (s *Store) History(id string) *History {
	return &History{store: s, id: id}
}

// SessionID returns the id this view is bound to.
func (h *History) SessionID() string { return h.id }

// Append stores one message. User content is redacted.
func (h *History) Append(role datatypes.Role, content string) error {
	return h.store.AddMessage(h.id, datatypes.Message{Role: role, Content: content})
}

// AppendTurn stores a user message and the assistant answer atomically.
func (h *History) AppendTurn(question, answer string) error {
	return h.store.AddMessages(h.id,
		datatypes.Message{Role: datatypes.RoleUser, Content: question},
		datatypes.Message{Role: datatypes.RoleAssistant, Content: answer},
	)
}

// Messages returns a copy of the stored history.
func (h *History) Messages() []datatypes.Message {
	return h.store.Messages(h.id)
}

// LastExchange returns the most recent user message together with the
// assistant reply that followed it, or nil when there is no complete
// exchange.
func (h *History) LastExchange() []datatypes.Message {
	msgs := h.store.Messages(h.id)
	for i := len(msgs) - 1; i > 0; i-- {
		if msgs[i].Role == datatypes.RoleAssistant && msgs[i-1].Role == datatypes.RoleUser {
			return []datatypes.Message{msgs[i-1], msgs[i]}
		}
	}
	return nil
}

// Clear empties the history and keeps the session's metadata.
func (h *History) Clear() error {
	return h.store.ClearSessionMessages(h.id)
}
