// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/IndoClimate/services/llm"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/datatypes"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// VectorStore is the vector-similarity capability.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type VectorStore interface {
	// Search returns up to k fragments ranked by similarity to text.
	Search(ctx context.Context, text string, k int) ([]datatypes.Fragment, error)

	// GetByID looks up a fragment by composite chunk id. The bool is false
	// when no such fragment exists.
	GetByID(ctx context.Context, id string) (datatypes.Fragment, bool, error)
}

// WeaviateStore implements VectorStore on the RegulationChunk class.
// Queries are embedded client-side and searched with nearVector.
type WeaviateStore struct {
	client   *weaviate.Client
	embedder llm.Embedder
}

var _ VectorStore = (*WeaviateStore)(nil)

// NewWeaviateStore creates a store.
func NewWeaviateStore(client *weaviate.Client, embedder llm.Embedder) (*WeaviateStore, error) {
	if client == nil {
		return nil, errors.New("weaviate client must not be nil")
	}
	if embedder == nil {
		return nil, errors.New("embedder must not be nil")
	}
	return &WeaviateStore{client: client, embedder: embedder}, nil
}

func chunkFields(withDistance bool) []graphql.Field {
	fields := make([]graphql.Field, 0, len(datatypes.RegulationChunkFields)+1)
	for _, name := range datatypes.RegulationChunkFields {
		fields = append(fields, graphql.Field{Name: name})
	}
	additional := []graphql.Field{{Name: "id"}}
	if withDistance {
		additional = append(additional, graphql.Field{Name: "distance"})
	}
	return append(fields, graphql.Field{Name: "_additional", Fields: additional})
}

// Search implements VectorStore.
func (s *WeaviateStore) Search(ctx context.Context, text string, k int) ([]datatypes.Fragment, error) {
	ctx, span := tracer.Start(ctx, "retrieval.WeaviateStore.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("top_k", k))

	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed failed")
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)
	result, err := s.client.GraphQL().Get().
		WithClassName(datatypes.RegulationChunkClass).
		WithFields(chunkFields(true)...).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.RegulationChunkQueryResponse](result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		return nil, fmt.Errorf("failed to parse results: %w", err)
	}

	fragments := make([]datatypes.Fragment, 0, len(parsed.Get.RegulationChunk))
	for _, r := range parsed.Get.RegulationChunk {
		fragments = append(fragments, r.ToFragment())
	}
	span.SetAttributes(attribute.Int("hits", len(fragments)))
	slog.Debug("Vector search completed", "hits", len(fragments), "top_k", k)
	return fragments, nil
}

// GetByID implements VectorStore with an equality filter on chunk_id.
func (s *WeaviateStore) GetByID(ctx context.Context, id string) (datatypes.Fragment, bool, error) {
	ctx, span := tracer.Start(ctx, "retrieval.WeaviateStore.GetByID")
	defer span.End()
	span.SetAttributes(attribute.String("chunk_id", id))

	where := filters.Where().
		WithPath([]string{"chunk_id"}).
		WithOperator(filters.Equal).
		WithValueText(id)

	result, err := s.client.GraphQL().Get().
		WithClassName(datatypes.RegulationChunkClass).
		WithFields(chunkFields(false)...).
		WithWhere(where).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		return datatypes.Fragment{}, false, fmt.Errorf("weaviate lookup failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.RegulationChunkQueryResponse](result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		return datatypes.Fragment{}, false, fmt.Errorf("failed to parse results: %w", err)
	}
	if len(parsed.Get.RegulationChunk) == 0 {
		return datatypes.Fragment{}, false, nil
	}
	return parsed.Get.RegulationChunk[0].ToFragment(), true, nil
}
