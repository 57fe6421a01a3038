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
	"time"

	"github.com/AleutianAI/IndoClimate/services/llm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const evaluatorInstruction = `You judge which numbered regulation excerpts help answer a question.

You receive the question and a list of excerpts, each starting with [n]. Select every excerpt that answers the question fully or partially. Leave out excerpts that are unrelated. An empty list is allowed when nothing is relevant.

Respond with ONLY one JSON object, no markdown, no preamble:
{"rationale":"one or two sentences","ids":[1,2]}`

// DefaultEvaluatorTimeout bounds one relevance call.
const DefaultEvaluatorTimeout = 30 * time.Second

// Selection is the evaluator's verdict. IDs are 1-based positions in the
// candidate list, deduplicated, in the evaluator's order.
type Selection struct {
	Rationale string
	IDs       []int
}

// ErrInvalidSelection is returned when the evaluator's JSON is well formed
// but unusable.
var ErrInvalidSelection = errors.New("invalid selection")

// Evaluator asks the classification profile which candidates are relevant.
// It reports faults as errors; the fail-open policy belongs to the caller.
type Evaluator struct {
	client  llm.Client
	timeout time.Duration
}

// NewEvaluator creates an evaluator. A zero timeout uses
// DefaultEvaluatorTimeout.
func NewEvaluator(client llm.Client, timeout time.Duration) *Evaluator {
	if timeout <= 0 {
		timeout = DefaultEvaluatorTimeout
	}
	return &Evaluator{client: client, timeout: timeout}
}

type selectionResponse struct {
	Rationale string `json:"rationale"`
	IDs       *[]int `json:"ids"`
}

// Select judges n rendered candidates against query.
func (e *Evaluator) Select(ctx context.Context, query, rendered string, n int) (Selection, error) {
	ctx, span := tracer.Start(ctx, "retrieval.Evaluator.Select")
	defer span.End()
	span.SetAttributes(attribute.Int("candidates", n))

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	prompt := "Question:\n" + query + "\n\nExcerpts:\n" + rendered
	raw, err := e.client.Invoke(callCtx, evaluatorInstruction, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "llm call failed")
		return Selection{}, fmt.Errorf("llm call: %w", err)
	}
	resp, err := llm.ParseJSON[selectionResponse](raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		return Selection{}, fmt.Errorf("parse response: %w", err)
	}
	if resp.IDs == nil {
		return Selection{}, fmt.Errorf("%w: missing ids", ErrInvalidSelection)
	}

	sel := Selection{Rationale: resp.Rationale, IDs: validIDs(*resp.IDs, n)}
	span.SetAttributes(attribute.Int("selected", len(sel.IDs)))
	return sel, nil
}

// validIDs keeps ids in 1..n, first occurrence only.
func validIDs(ids []int, n int) []int {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if id < 1 || id > n {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
