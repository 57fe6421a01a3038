// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package retrieval assembles the citation-bearing context block for the
// retrieval path.
package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/AleutianAI/IndoClimate/pkg/logging"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("indoclimate.orchestrator.retrieval")

// =============================================================================
// Configuration
// =============================================================================

const (
	// DefaultTopK is the number of fragments requested per search.
	DefaultTopK = 5

	// DefaultExpandConcurrency bounds concurrent successor lookups.
	DefaultExpandConcurrency = 4

	// DefaultLookupTimeout bounds each successor lookup.
	DefaultLookupTimeout = 5 * time.Second
)

// Fallback reasons reported through Config.OnSelectionFallback.
const (
	FallbackEvaluatorError = "evaluator_error"
	FallbackEmptySelection = "empty_selection"
)

// Config configures an Assembler.
type Config struct {
	TopK              int
	ExpandConcurrency int
	LookupTimeout     time.Duration

	// OnFragments receives the number of merged candidates per call.
	OnFragments func(n int)

	// OnSelectionFallback receives the reason whenever every candidate is
	// kept because the evaluator could not narrow the set.
	OnSelectionFallback func(reason string)
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.ExpandConcurrency <= 0 {
		cfg.ExpandConcurrency = DefaultExpandConcurrency
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = DefaultLookupTimeout
	}
	return cfg
}

// =============================================================================
// Requests and Results
// =============================================================================

// AssembleRequest carries the router's rewrites for one turn.
//
// # Fields
//
//   - RetrievalQuery: Sent to the vector store.
//   - EvaluationQuery: Shown to the evaluator. Falls back to RetrievalQuery.
//   - NormalizedQuery: Used by the no-documents language heuristic.
//   - Question: The literal user message, wrapped at the end of the block.
//   - Language: Optional ISO 639-1 tag from the router.
//   - TopK: Overrides Config.TopK when positive.
type AssembleRequest struct {
	RetrievalQuery  string
	EvaluationQuery string
	NormalizedQuery string
	Question        string
	Language        string
	TopK            int
}

// Result is the assembled context.
//
// # Fields
//
//   - ContextBlock: Markers, rendered fragments, answer-language instruction
//     and the wrapped question.
//   - Rationale: The evaluator's rationale, empty after a fallback.
//   - Sources: One citation per fragment in the final selection, in block
//     order. Empty, not nil, when nothing was found.
//   - Fragments: The selected fragments in block order.
type Result struct {
	ContextBlock string
	Rationale    string
	Sources      []datatypes.SourceInfo
	Fragments    []datatypes.MergedFragment
}

// =============================================================================
// Assembler
// =============================================================================

// Assembler runs search, expansion, overlap merge, relevance selection and
// rendering.
//
// # Description
//
// No stage aborts the call. A failed search is treated as zero hits, a
// failed successor lookup leaves the fragment unexpanded, and an evaluator
// fault or empty selection keeps every candidate.
//
// # Thread Safety
//
// Safe for concurrent use.
type Assembler struct {
	store     VectorStore
	evaluator *Evaluator
	cfg       Config
}

// NewAssembler creates an assembler.
func NewAssembler(store VectorStore, evaluator *Evaluator, cfg Config) (*Assembler, error) {
	if store == nil {
		return nil, errors.New("vector store must not be nil")
	}
	if evaluator == nil {
		return nil, errors.New("evaluator must not be nil")
	}
	return &Assembler{store: store, evaluator: evaluator, cfg: applyConfigDefaults(cfg)}, nil
}

// Assemble builds the context block for req.
func (a *Assembler) Assemble(ctx context.Context, req AssembleRequest) Result {
	ctx, span := tracer.Start(ctx, "retrieval.Assembler.Assemble")
	defer span.End()

	topK := req.TopK
	if topK <= 0 {
		topK = a.cfg.TopK
	}
	span.SetAttributes(attribute.Int("top_k", topK))

	hits := a.search(ctx, req.RetrievalQuery, topK)
	if len(hits) == 0 {
		span.SetAttributes(attribute.Int("hits", 0))
		slog.Info("No fragments retrieved", "query", logging.Truncate(req.RetrievalQuery, 80))
		a.reportFragments(0)
		return Result{
			ContextBlock: ContextBlock(NoDocumentsNotice(req.Language, req.NormalizedQuery), req.Question),
			Sources:      []datatypes.SourceInfo{},
		}
	}

	merged := a.expand(ctx, hits)
	slices.SortStableFunc(merged, func(x, y datatypes.MergedFragment) int {
		switch {
		case x.Similarity > y.Similarity:
			return -1
		case x.Similarity < y.Similarity:
			return 1
		default:
			return 0
		}
	})
	a.reportFragments(len(merged))

	evalQuery := req.EvaluationQuery
	if evalQuery == "" {
		evalQuery = req.RetrievalQuery
	}
	selected, rationale := a.selectRelevant(ctx, evalQuery, merged)

	sources := make([]datatypes.SourceInfo, len(selected))
	for i, f := range selected {
		sources[i] = datatypes.SourceFromMetadata(f.Metadata)
	}
	span.SetAttributes(
		attribute.Int("hits", len(hits)),
		attribute.Int("selected", len(selected)),
	)

	return Result{
		ContextBlock: ContextBlock(renderFragments(selected), req.Question),
		Rationale:    rationale,
		Sources:      sources,
		Fragments:    selected,
	}
}

// search queries the store and drops empty hits. Errors count as zero hits.
func (a *Assembler) search(ctx context.Context, query string, k int) []datatypes.Fragment {
	hits, err := a.store.Search(ctx, query, k)
	if err != nil {
		slog.Warn("Vector search failed, continuing without documents", "error", err)
		return nil
	}
	return slices.DeleteFunc(hits, func(f datatypes.Fragment) bool {
		return f.ID == "" && f.Text == ""
	})
}

// expand merges every hit with its successor chunk, concurrently. Output
// order matches hits.
func (a *Assembler) expand(ctx context.Context, hits []datatypes.Fragment) []datatypes.MergedFragment {
	ctx, span := tracer.Start(ctx, "retrieval.Assembler.expand")
	defer span.End()

	merged := make([]datatypes.MergedFragment, len(hits))
	var g errgroup.Group
	g.SetLimit(a.cfg.ExpandConcurrency)
	for i, hit := range hits {
		merged[i] = datatypes.MergedFragment{
			Text:       hit.Text,
			Metadata:   hit.Metadata,
			Similarity: hit.Similarity(),
		}
		if !hit.Metadata.HasSuccessor() || hit.Metadata.DocumentCode == "" {
			continue
		}
		g.Go(func() error {
			if next, ok := a.successor(ctx, hit.Metadata); ok {
				merged[i].Text = MergeOverlap(hit.Text, next.Text)
				merged[i].Expanded = true
			}
			return nil
		})
	}
	_ = g.Wait()
	return merged
}

func (a *Assembler) successor(ctx context.Context, m datatypes.FragmentMetadata) (datatypes.Fragment, bool) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.LookupTimeout)
	defer cancel()

	id := datatypes.ChunkID(m.DocumentCode, m.ChunkIndex+1)
	next, ok, err := a.store.GetByID(ctx, id)
	if err != nil {
		slog.Warn("Successor lookup failed, keeping fragment unexpanded", "chunk_id", id, "error", err)
		return datatypes.Fragment{}, false
	}
	if !ok || next.Text == "" {
		return datatypes.Fragment{}, false
	}
	if next.Metadata.DocumentCode != "" && next.Metadata.DocumentCode != m.DocumentCode {
		return datatypes.Fragment{}, false
	}
	return next, true
}

// selectRelevant applies the evaluator with the fail-open policy.
func (a *Assembler) selectRelevant(ctx context.Context, query string, candidates []datatypes.MergedFragment) ([]datatypes.MergedFragment, string) {
	sel, err := a.evaluator.Select(ctx, query, renderFragments(candidates), len(candidates))
	if err != nil {
		slog.Warn("Relevance evaluation failed, keeping all fragments", "error", err)
		a.reportFallback(FallbackEvaluatorError)
		return candidates, ""
	}
	if len(sel.IDs) == 0 {
		slog.Info("Evaluator selected nothing, keeping all fragments", "candidates", len(candidates))
		a.reportFallback(FallbackEmptySelection)
		return candidates, sel.Rationale
	}

	out := make([]datatypes.MergedFragment, len(sel.IDs))
	for i, id := range sel.IDs {
		out[i] = candidates[id-1]
	}
	return out, sel.Rationale
}

func (a *Assembler) reportFragments(n int) {
	if a.cfg.OnFragments != nil {
		a.cfg.OnFragments(n)
	}
}

func (a *Assembler) reportFallback(reason string) {
	if a.cfg.OnSelectionFallback != nil {
		a.cfg.OnSelectionFallback(reason)
	}
}
