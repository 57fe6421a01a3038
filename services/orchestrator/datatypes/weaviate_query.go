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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into T.
//
// # Description
//
// Weaviate returns map[string]models.JSONObject; this round-trips it through
// JSON into a typed struct whose json tags mirror the response shape. GraphQL
// errors in the response are returned as an error.
//
// # Limitations
//
//   - Shape mismatches produce zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			if e != nil {
				msgs = append(msgs, e.Message)
			}
		}
		return nil, fmt.Errorf("graphql errors: %s", strings.Join(msgs, "; "))
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}
	return &result, nil
}

// =============================================================================
// RegulationChunk Responses
// =============================================================================

// RegulationChunkQueryResponse is the Get response for RegulationChunk.
type RegulationChunkQueryResponse struct {
	Get struct {
		RegulationChunk []RegulationChunkResult `json:"RegulationChunk"`
	} `json:"Get"`
}

// RegulationChunkResult is one RegulationChunk object from a query.
// Distance is present only on nearVector queries.
type RegulationChunkResult struct {
	Content        string `json:"content"`
	ChunkID        string `json:"chunk_id"`
	DocumentCode   string `json:"document_code"`
	ChunkIndex     int    `json:"chunk_index"`
	TotalChunks    int    `json:"total_chunks"`
	RegulationType string `json:"regulation_type"`
	Number         string `json:"number"`
	Year           string `json:"year"`
	Title          string `json:"title"`
	ViewLink       string `json:"view_link"`
	Additional     struct {
		ID       string   `json:"id"`
		Distance *float64 `json:"distance"`
	} `json:"_additional"`
}

// RegulationChunkFields lists the properties selected by every query.
var RegulationChunkFields = []string{
	"content", "chunk_id", "document_code", "chunk_index", "total_chunks",
	"regulation_type", "number", "year", "title", "view_link",
}

// ToFragment converts a query result to a Fragment. The fragment id is the
// composite chunk id, rebuilt from document code and index when the stored
// chunk_id is empty.
func (r RegulationChunkResult) ToFragment() Fragment {
	id := r.ChunkID
	if id == "" && r.DocumentCode != "" {
		id = ChunkID(r.DocumentCode, r.ChunkIndex)
	}
	return Fragment{
		ID:   id,
		Text: r.Content,
		Metadata: FragmentMetadata{
			DocumentCode:   r.DocumentCode,
			ChunkIndex:     r.ChunkIndex,
			TotalChunks:    r.TotalChunks,
			RegulationType: r.RegulationType,
			Number:         r.Number,
			Year:           r.Year,
			Title:          r.Title,
			ViewLink:       r.ViewLink,
		},
		Distance: r.Additional.Distance,
	}
}

// RegulationChunkProperties is the property set written at ingestion.
type RegulationChunkProperties struct {
	Content        string
	DocumentCode   string
	ChunkIndex     int
	TotalChunks    int
	RegulationType string
	Number         string
	Year           string
	Title          string
	ViewLink       string
	IngestedAt     int64
}

// ToMap converts the properties to the map Weaviate's batcher expects.
func (p *RegulationChunkProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"content":         p.Content,
		"chunk_id":        ChunkID(p.DocumentCode, p.ChunkIndex),
		"document_code":   p.DocumentCode,
		"chunk_index":     p.ChunkIndex,
		"total_chunks":    p.TotalChunks,
		"regulation_type": p.RegulationType,
		"number":          p.Number,
		"year":            p.Year,
		"title":           p.Title,
		"view_link":       p.ViewLink,
		"ingested_at":     p.IngestedAt,
	}
}
