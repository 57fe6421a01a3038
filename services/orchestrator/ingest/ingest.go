// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package ingest loads regulation documents into the vector store.
//
// Each document is split into overlapping chunks, embedded and written to
// the RegulationChunk class under the composite key
// "{document_code}_{chunk_index}". The overlap produced here is what the
// retrieval assembler removes when it joins a chunk with its successor.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/IndoClimate/services/llm"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/datatypes"
	"github.com/go-openapi/strfmt"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("indoclimate.orchestrator.ingest")

const (
	ChunkSize    = 1000
	ChunkOverlap = 100

	// DefaultBatchSize is the number of objects per vector-store write.
	DefaultBatchSize = 100

	// DefaultConcurrency bounds documents embedded at once.
	DefaultConcurrency = 4
)

// chunkNamespace seeds the deterministic object UUIDs, so re-ingesting a
// document overwrites its chunks instead of duplicating them.
var chunkNamespace = uuid.MustParse("6f1c2b8e-3a54-4d0e-9f5b-2c7d9e1a4b60")

// =============================================================================
// Records
// =============================================================================

// Record is one regulation document, one JSON object per line in the
// ingestion file.
type Record struct {
	DocumentCode   string `json:"document_code" validate:"required,max=256,excludesall=$"`
	RegulationType string `json:"regulation_type"`
	Number         string `json:"number"`
	Year           string `json:"year"`
	Title          string `json:"title"`
	ViewLink       string `json:"view_link" validate:"omitempty,url"`
	Text           string `json:"text" validate:"required"`
}

var recordValidate = validator.New()

// Validate checks the record against its struct tags.
func (r *Record) Validate() error {
	return recordValidate.Struct(r)
}

// =============================================================================
// Writer
// =============================================================================

// ObjectWriter persists a batch of objects and returns how many were
// accepted.
type ObjectWriter interface {
	WriteObjects(ctx context.Context, objects []*models.Object) (int, error)
}

// Stats summarizes one ingestion run.
type Stats struct {
	Documents int `json:"documents"`
	Skipped   int `json:"skipped"`
	Chunks    int `json:"chunks"`
	Written   int `json:"written"`
}

// Config configures an Ingester.
type Config struct {
	BatchSize   int
	Concurrency int
	Splitter    textsplitter.TextSplitter
	Now         func() time.Time
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Splitter == nil {
		cfg.Splitter = textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(ChunkSize),
			textsplitter.WithChunkOverlap(ChunkOverlap),
		)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return cfg
}

// Ingester splits, embeds and writes regulation documents.
type Ingester struct {
	embedder llm.Embedder
	writer   ObjectWriter
	cfg      Config
}

// NewIngester creates an ingester.
func NewIngester(embedder llm.Embedder, writer ObjectWriter, cfg Config) (*Ingester, error) {
	if embedder == nil || writer == nil {
		return nil, errors.New("embedder and writer must not be nil")
	}
	return &Ingester{embedder: embedder, writer: writer, cfg: applyConfigDefaults(cfg)}, nil
}

// IngestFile ingests a JSONL file.
func (in *Ingester) IngestFile(ctx context.Context, path string) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return in.Ingest(ctx, f)
}

// Ingest reads JSONL records from r and writes their chunks.
//
// # Description
//
// Malformed or invalid lines are skipped and counted. Documents are split
// and embedded concurrently; writes happen in batches after all documents
// are embedded. An embedding or write failure aborts the run.
//
// # Outputs
//
//   - Stats: Counts for the run, also populated on error.
//   - error: Read, embedding or write failure.
func (in *Ingester) Ingest(ctx context.Context, r io.Reader) (Stats, error) {
	ctx, span := tracer.Start(ctx, "Ingester.Ingest")
	defer span.End()

	var stats Stats
	records, skipped, err := readRecords(r)
	stats.Skipped = skipped
	if err != nil {
		return stats, err
	}

	var mu sync.Mutex
	var objects []*models.Object

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(in.cfg.Concurrency)
	for _, rec := range records {
		g.Go(func() error {
			objs, err := in.buildObjects(gctx, rec)
			if err != nil {
				return fmt.Errorf("document %s: %w", rec.DocumentCode, err)
			}
			mu.Lock()
			objects = append(objects, objs...)
			stats.Documents++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return stats, err
	}
	stats.Chunks = len(objects)

	for start := 0; start < len(objects); start += in.cfg.BatchSize {
		end := min(start+in.cfg.BatchSize, len(objects))
		n, err := in.writer.WriteObjects(ctx, objects[start:end])
		stats.Written += n
		if err != nil {
			span.RecordError(err)
			return stats, fmt.Errorf("failed to write batch: %w", err)
		}
	}

	slog.Info("Ingestion finished",
		"documents", stats.Documents,
		"skipped", stats.Skipped,
		"chunks", stats.Chunks,
		"written", stats.Written)
	return stats, nil
}

// buildObjects splits and embeds one document.
func (in *Ingester) buildObjects(ctx context.Context, rec Record) ([]*models.Object, error) {
	chunks, err := in.cfg.Splitter.SplitText(rec.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to split text: %w", err)
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	vectors, err := in.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	ingestedAt := in.cfg.Now().UnixMilli()
	objects := make([]*models.Object, len(chunks))
	for i, chunk := range chunks {
		props := datatypes.RegulationChunkProperties{
			Content:        chunk,
			DocumentCode:   rec.DocumentCode,
			ChunkIndex:     i,
			TotalChunks:    len(chunks),
			RegulationType: rec.RegulationType,
			Number:         rec.Number,
			Year:           rec.Year,
			Title:          rec.Title,
			ViewLink:       rec.ViewLink,
			IngestedAt:     ingestedAt,
		}
		objects[i] = &models.Object{
			Class:      datatypes.RegulationChunkClass,
			ID:         ObjectID(rec.DocumentCode, i),
			Vector:     vectors[i],
			Properties: props.ToMap(),
		}
	}
	slog.Debug("Document split", "document_code", rec.DocumentCode, "chunks", len(chunks))
	return objects, nil
}

// ObjectID is the deterministic object UUID of a chunk.
func ObjectID(documentCode string, chunkIndex int) strfmt.UUID {
	id := uuid.NewSHA1(chunkNamespace, []byte(datatypes.ChunkID(documentCode, chunkIndex)))
	return strfmt.UUID(id.String())
}

// readRecords parses JSONL, skipping blank, malformed and invalid lines.
// Later records with a duplicate document code replace earlier ones.
func readRecords(r io.Reader) ([]Record, int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var records []Record
	index := make(map[string]int)
	skipped := 0
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			slog.Warn("Skipping malformed record", "line", line, "error", err)
			skipped++
			continue
		}
		if err := rec.Validate(); err != nil {
			slog.Warn("Skipping invalid record", "line", line, "error", err)
			skipped++
			continue
		}
		if i, ok := index[rec.DocumentCode]; ok {
			slog.Warn("Duplicate document code, keeping the later record", "document_code", rec.DocumentCode, "line", line)
			records[i] = rec
			continue
		}
		index[rec.DocumentCode] = len(records)
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("failed to read records: %w", err)
	}
	return records, skipped, nil
}
