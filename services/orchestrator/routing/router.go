// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/IndoClimate/pkg/logging"
	"github.com/AleutianAI/IndoClimate/services/llm"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("indoclimate.orchestrator.routing")

// DefaultTimeout bounds one classification call.
const DefaultTimeout = 15 * time.Second

// DecisionObserver is told about every decision, including fallbacks.
type DecisionObserver func(decision datatypes.RouteDecision)

// Config configures a Router.
type Config struct {
	// Timeout bounds one model call. Zero means DefaultTimeout.
	Timeout time.Duration

	// OnDecision is optional.
	OnDecision DecisionObserver
}

// Router classifies queries with the classification profile.
//
// # Description
//
// Route never fails. A model error, a response without a JSON object, or a
// JSON object with an unknown action all yield the no_rag fallback so a
// classification fault never blocks the user's turn.
//
// Identical concurrent (history, query) pairs share one model call.
//
// # Thread Safety
//
// Safe for concurrent use.
type Router struct {
	client   llm.Client
	cfg      Config
	inflight singleflight.Group
}

// NewRouter creates a router over a classification-profile client.
func NewRouter(client llm.Client, cfg Config) (*Router, error) {
	if client == nil {
		return nil, errors.New("client must not be nil")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Router{client: client, cfg: cfg}, nil
}

// routerResponse is the JSON object the model is asked for.
type routerResponse struct {
	Action          string `json:"action"`
	ExpandedQuery   string `json:"expanded_query"`
	RetrievalQuery  string `json:"retrieval_query"`
	NormalizedQuery string `json:"normalized_query"`
	Language        string `json:"language"`
}

// Route classifies query.
//
// # Inputs
//
//   - ctx: Cancelling it makes this caller fall back like any other fault.
//     The model call itself keeps running for other callers sharing it.
//   - query: The live user message.
//   - recent: Committed history, oldest first. Only the last complete
//     user/assistant exchange is shown to the model.
//
// # Outputs
//
//   - datatypes.RouteDecision: Fallback is set when the decision is the
//     fail-safe default.
func (r *Router) Route(ctx context.Context, query string, recent []datatypes.Message) datatypes.RouteDecision {
	ctx, span := tracer.Start(ctx, "routing.Router.Route",
		trace.WithAttributes(attribute.Int("query_length", len(query))),
	)
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		d := datatypes.RouteDecision{Action: datatypes.RouteNoRAG}
		r.observe(d)
		return d
	}

	exchange := LastExchange(recent)
	// The shared call outlives any single caller; it is bounded by the
	// router timeout only.
	sharedCtx := context.WithoutCancel(ctx)
	ch := r.inflight.DoChan(requestKey(query, exchange), func() (any, error) {
		return r.classify(sharedCtx, query, exchange)
	})

	var (
		v   any
		err error
	)
	select {
	case res := <-ch:
		v, err = res.Val, res.Err
		span.SetAttributes(attribute.Bool("coalesced", res.Shared))
	case <-ctx.Done():
		err = ctx.Err()
	}

	var decision datatypes.RouteDecision
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "classification failed")
		slog.Warn("Query routing failed, defaulting to no_rag", "error", err)
		decision = fallback(query)
	} else {
		decision = v.(datatypes.RouteDecision)
	}

	span.SetAttributes(
		attribute.String("action", string(decision.Action)),
		attribute.Bool("fallback", decision.Fallback),
	)
	slog.Debug("Query routed",
		"action", decision.Action,
		"language", decision.Language,
		"query", logging.Truncate(query, 80),
	)
	r.observe(decision)
	return decision
}

func (r *Router) classify(ctx context.Context, query string, exchange []datatypes.Message) (datatypes.RouteDecision, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	messages := make([]llm.Message, 0, len(exchange)+1)
	for _, m := range exchange {
		messages = append(messages, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: query})

	raw, err := r.client.Invoke(callCtx, routerInstruction, messages)
	if err != nil {
		return datatypes.RouteDecision{}, fmt.Errorf("llm call: %w", err)
	}
	parsed, err := llm.ParseJSON[routerResponse](raw)
	if err != nil {
		return datatypes.RouteDecision{}, fmt.Errorf("parse response: %w", err)
	}
	return normalize(query, parsed)
}

func (r *Router) observe(d datatypes.RouteDecision) {
	if r.cfg.OnDecision != nil {
		r.cfg.OnDecision(d)
	}
}

// normalize validates the model output and fills missing rewrites with the
// literal query.
func normalize(query string, resp routerResponse) (datatypes.RouteDecision, error) {
	action := datatypes.RouteAction(strings.ToLower(strings.TrimSpace(resp.Action)))
	if action != datatypes.RouteRAG && action != datatypes.RouteNoRAG {
		return datatypes.RouteDecision{}, fmt.Errorf("unknown action %q", resp.Action)
	}
	d := datatypes.RouteDecision{
		Action:          action,
		ExpandedQuery:   orDefault(resp.ExpandedQuery, query),
		RetrievalQuery:  orDefault(resp.RetrievalQuery, query),
		NormalizedQuery: orDefault(resp.NormalizedQuery, query),
		Language:        languageTag(resp.Language),
	}
	return d, nil
}

func fallback(query string) datatypes.RouteDecision {
	return datatypes.RouteDecision{
		Action:          datatypes.RouteNoRAG,
		NormalizedQuery: query,
		Fallback:        true,
	}
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}

// languageTag accepts two-letter ISO 639-1 codes and drops anything else.
func languageTag(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 2 || s[0] < 'a' || s[0] > 'z' || s[1] < 'a' || s[1] > 'z' {
		return ""
	}
	return s
}

// LastExchange returns the last user message followed by its assistant
// reply, or nil when recent holds no complete exchange.
func LastExchange(recent []datatypes.Message) []datatypes.Message {
	for i := len(recent) - 1; i > 0; i-- {
		if recent[i].Role == datatypes.RoleAssistant && recent[i-1].Role == datatypes.RoleUser {
			return []datatypes.Message{recent[i-1], recent[i]}
		}
	}
	return nil
}

func requestKey(query string, exchange []datatypes.Message) string {
	h := sha256.New()
	for _, m := range exchange {
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(m.Content))
		h.Write([]byte{0})
	}
	h.Write([]byte(query))
	return hex.EncodeToString(h.Sum(nil))
}
