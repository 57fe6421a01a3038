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
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// Retrieved Fragments
// =============================================================================

// FragmentMetadata is the structured provenance of one regulation chunk.
type FragmentMetadata struct {
	DocumentCode   string `json:"document_code"`
	ChunkIndex     int    `json:"chunk_index"`
	TotalChunks    int    `json:"total_chunks"`
	RegulationType string `json:"regulation_type,omitempty"`
	Number         string `json:"number,omitempty"`
	Year           string `json:"year,omitempty"`
	Title          string `json:"title,omitempty"`
	ViewLink       string `json:"view_link,omitempty"`
}

// HasSuccessor reports whether another chunk follows this one in the same
// document.
func (m FragmentMetadata) HasSuccessor() bool {
	return m.ChunkIndex < m.TotalChunks-1
}

// ChunkID builds the composite vector-store key "{documentCode}_{chunkIndex}".
func ChunkID(documentCode string, chunkIndex int) string {
	return documentCode + "_" + strconv.Itoa(chunkIndex)
}

// ParseChunkID splits a composite key at its last underscore. Document codes
// may themselves contain underscores.
func ParseChunkID(id string) (string, int, error) {
	i := strings.LastIndexByte(id, '_')
	if i <= 0 || i == len(id)-1 {
		return "", 0, fmt.Errorf("malformed chunk id %q", id)
	}
	idx, err := strconv.Atoi(id[i+1:])
	if err != nil || idx < 0 {
		return "", 0, fmt.Errorf("malformed chunk index in %q", id)
	}
	return id[:i], idx, nil
}

// Fragment is one vector-store hit.
//
// Distance is nil when the backend did not report one.
type Fragment struct {
	ID       string           `json:"id"`
	Text     string           `json:"text"`
	Metadata FragmentMetadata `json:"metadata"`
	Distance *float64         `json:"distance,omitempty"`
}

// Similarity converts distance to similarity: 1 - distance when present,
// else 0.
func (f Fragment) Similarity() float64 {
	if f.Distance == nil {
		return 0
	}
	return 1 - *f.Distance
}

// MergedFragment is a fragment extended with its successor chunk. Metadata
// is always the first chunk's.
type MergedFragment struct {
	Text       string           `json:"text"`
	Metadata   FragmentMetadata `json:"metadata"`
	Similarity float64          `json:"similarity"`
	Expanded   bool             `json:"expanded"`
}

// SourceInfo is a citation entry for a fragment kept in the final context.
type SourceInfo struct {
	RegulationType string `json:"regulation_type"`
	Number         string `json:"number"`
	Year           string `json:"year"`
	Title          string `json:"title,omitempty"`
	ViewLink       string `json:"view_link,omitempty"`
}

// SourceFromMetadata builds a citation from fragment metadata.
func SourceFromMetadata(m FragmentMetadata) SourceInfo {
	return SourceInfo{
		RegulationType: m.RegulationType,
		Number:         m.Number,
		Year:           m.Year,
		Title:          m.Title,
		ViewLink:       m.ViewLink,
	}
}

// =============================================================================
// Routing
// =============================================================================

// RouteAction is the router's retrieval decision.
type RouteAction string

const (
	RouteRAG   RouteAction = "rag"
	RouteNoRAG RouteAction = "no_rag"
)

// RouteDecision is the router output.
//
// # Fields
//
//   - Action: rag or no_rag.
//   - ExpandedQuery: Query rewritten with conversational context, used for
//     evaluating relevance.
//   - RetrievalQuery: Query phrased for the vector store.
//   - NormalizedQuery: Grammar-normalized query in the live message's
//     language.
//   - Language: Optional ISO 639-1 tag of the live message.
//   - Fallback: True when the decision is the fail-safe default.
type RouteDecision struct {
	Action          RouteAction `json:"action"`
	ExpandedQuery   string      `json:"expanded_query,omitempty"`
	RetrievalQuery  string      `json:"retrieval_query,omitempty"`
	NormalizedQuery string      `json:"normalized_query,omitempty"`
	Language        string      `json:"language,omitempty"`
	Fallback        bool        `json:"-"`
}

// NeedsRetrieval reports whether the retrieval path should run.
func (d RouteDecision) NeedsRetrieval() bool {
	return d.Action == RouteRAG
}

// SessionType maps the decision to the session tag it implies.
func (d RouteDecision) SessionType() SessionType {
	if d.NeedsRetrieval() {
		return SessionTypeRAG
	}
	return SessionTypeGeneral
}
