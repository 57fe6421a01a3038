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
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// RegulationChunkClass is the Weaviate class holding regulation chunks.
const RegulationChunkClass = "RegulationChunk"

// GetRegulationChunkSchema returns the class definition for regulation
// chunks. Vectors are supplied by the ingester, so the vectorizer is "none".
//
// chunk_id is the composite "{document_code}_{chunk_index}" key used for
// successor lookups and must stay field-tokenized and filterable.
func GetRegulationChunkSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	text := func(name, desc string) *models.Property {
		return &models.Property{
			Name:            name,
			DataType:        []string{"text"},
			Description:     desc,
			IndexFilterable: indexFilterable,
			Tokenization:    "field",
		}
	}

	return &models.Class{
		Class:       RegulationChunkClass,
		Description: "A chunk of a climate or environmental regulation document.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "Chunk body text.",
				Tokenization: "word",
			},
			text("chunk_id", "Composite key {document_code}_{chunk_index}."),
			text("document_code", "Stable identifier of the source regulation."),
			{
				Name:            "chunk_index",
				DataType:        []string{"int"},
				Description:     "0-based position of this chunk in its document.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "total_chunks",
				DataType:        []string{"int"},
				Description:     "Number of chunks the document was split into.",
				IndexFilterable: indexFilterable,
			},
			text("regulation_type", "Regulation type, e.g. Peraturan Presiden."),
			text("number", "Regulation number."),
			text("year", "Year of enactment."),
			{
				Name:         "title",
				DataType:     []string{"text"},
				Description:  "Regulation title.",
				Tokenization: "word",
			},
			text("view_link", "External link to the official document."),
			{
				Name:            "ingested_at",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds when the chunk was ingested.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureWeaviateSchema creates every class this service needs that does
// not exist yet. Existing classes are left untouched.
func EnsureWeaviateSchema(ctx context.Context, client *weaviate.Client) error {
	schemaGetters := []func() *models.Class{
		GetRegulationChunkSchema,
	}

	for _, getSchema := range schemaGetters {
		class := getSchema()
		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx)
		if err == nil {
			slog.Info("Schema already exists", "class", class.Class)
			continue
		}

		slog.Info("Schema not found, creating it", "class", class.Class)
		if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
			return fmt.Errorf("create schema for class %s: %w", class.Class, err)
		}
		slog.Info("Created schema", "class", class.Class)
	}
	return nil
}
