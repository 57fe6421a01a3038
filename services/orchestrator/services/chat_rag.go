// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package services holds the orchestrator's turn pipeline.
//
// One turn runs classify, then maybe retrieve, then generate, then store.
// Services take their collaborators through constructors and accept a
// context on every blocking call.
package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/IndoClimate/pkg/logging"
	"github.com/AleutianAI/IndoClimate/services/llm"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/datatypes"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/retrieval"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/sessions"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var chatRAGTracer = otel.Tracer("indoclimate.orchestrator.services.chat_rag")

// =============================================================================
// Collaborators
// =============================================================================

// Router classifies a query. Implementations never fail.
type Router interface {
	Route(ctx context.Context, query string, recent []datatypes.Message) datatypes.RouteDecision
}

// Assembler builds the retrieval context. Implementations never fail.
type Assembler interface {
	Assemble(ctx context.Context, req retrieval.AssembleRequest) retrieval.Result
}

// =============================================================================
// Instructions
// =============================================================================

const ragInstruction = `You are IndoClimate, an assistant for Indonesian climate, environmental and forestry regulations.

The user message contains numbered regulation excerpts between context markers, followed by the user's question wrapped in $ signs.
- Answer only from the excerpts. If they do not contain the answer, say so plainly.
- Cite excerpts inline with their numbers, for example [1] or [2][3].
- Name the regulation (type, number, year) when you rely on it.
- Answer in the language of the question, not the language of the excerpts.
- Never mention the markers or the $ signs.`

const generalInstruction = `You are IndoClimate, an assistant for Indonesian climate, environmental and forestry regulations.
Reply briefly and politely in the language of the user's message. For questions about regulations, invite the user to ask specifically so you can look them up.`

// =============================================================================
// Configuration
// =============================================================================

// DefaultTurnTimeout is the hard deadline on deadline-raced turns.
const DefaultTurnTimeout = 20 * time.Second

// Config configures a ChatRAGService.
//
// # Fields
//
//   - TopK: Fragments requested per retrieval. Zero uses the assembler's
//     default.
//   - OnTurnCommitted: Optional. Called after a turn is stored.
type Config struct {
	TopK            int
	OnTurnCommitted func(action datatypes.RouteAction)
}

// ChatRAGService runs conversational turns over the session store.
//
// # Description
//
// The per-turn history append is always the last step of a turn. A turn
// whose generation failed stores nothing.
//
// A nil assembler runs every turn on the general path, which is the
// lightweight mode used when no vector store is configured.
//
// # Thread Safety
//
// Safe for concurrent use. Turns on the same session run one at a time in
// arrival order, so each turn routes against the history committed by the
// turn before it.
type ChatRAGService struct {
	store     *sessions.Store
	router    Router
	assembler Assembler
	longForm  llm.Client
	shortForm llm.Client
	cfg       Config
	turns     *turnQueue
}

// NewChatRAGService creates a service.
//
// # Inputs
//
//   - store: Session store. Must not be nil.
//   - router: Query router. Must not be nil.
//   - assembler: Retrieval assembler. May be nil.
//   - longForm: Client with the long-form profile, for retrieval answers.
//   - shortForm: Client with the short-form profile, for general answers.
func NewChatRAGService(
	store *sessions.Store,
	router Router,
	assembler Assembler,
	longForm llm.Client,
	shortForm llm.Client,
	cfg Config,
) (*ChatRAGService, error) {
	if store == nil || router == nil {
		return nil, errors.New("store and router must not be nil")
	}
	if longForm == nil || shortForm == nil {
		return nil, errors.New("generation clients must not be nil")
	}
	if assembler == nil {
		slog.Warn("No retrieval assembler configured, all turns use the general path")
	}
	return &ChatRAGService{
		store:     store,
		router:    router,
		assembler: assembler,
		longForm:  longForm,
		shortForm: shortForm,
		cfg:       cfg,
		turns:     newTurnQueue(),
	}, nil
}

// Store exposes the session store to handlers.
func (s *ChatRAGService) Store() *sessions.Store { return s.store }

// EnsureSession returns id, or a new id when empty, creating the session
// when it does not exist yet.
func (s *ChatRAGService) EnsureSession(id, userID string) string {
	if id == "" {
		id = uuid.NewString()
	}
	if _, ok := s.store.GetSession(id); !ok || userID != "" {
		s.store.CreateSession(id, userID, nil)
	}
	return id
}

// =============================================================================
// Turn Pipeline
// =============================================================================

// preparedTurn is everything decided before generation.
type preparedTurn struct {
	sessionID string
	question  string
	decision  datatypes.RouteDecision
	prompt    string
	system    string
	client    llm.Client
	messages  []llm.Message
	rationale string
	sources   []datatypes.SourceInfo
}

// prepare routes the question and, on the retrieval path, assembles the
// context block that replaces the question as the final user message.
//
// beforeAssemble is optional. It runs after routing and only when retrieval
// will actually run; an error from it aborts the turn.
func (s *ChatRAGService) prepare(ctx context.Context, sessionID, question string, beforeAssemble func() error) (*preparedTurn, error) {
	recent := s.store.History(sessionID).Messages()
	decision := s.router.Route(ctx, question, recent)

	pt := &preparedTurn{
		sessionID: sessionID,
		question:  question,
		decision:  decision,
		prompt:    question,
		system:    generalInstruction,
		client:    s.shortForm,
		sources:   []datatypes.SourceInfo{},
	}

	if decision.NeedsRetrieval() && s.assembler != nil {
		if beforeAssemble != nil {
			if err := beforeAssemble(); err != nil {
				return nil, err
			}
		}
		res := s.assembler.Assemble(ctx, retrieval.AssembleRequest{
			RetrievalQuery:  decision.RetrievalQuery,
			EvaluationQuery: decision.ExpandedQuery,
			NormalizedQuery: decision.NormalizedQuery,
			Question:        question,
			Language:        decision.Language,
			TopK:            s.cfg.TopK,
		})
		pt.prompt = res.ContextBlock
		pt.system = ragInstruction
		pt.client = s.longForm
		pt.rationale = res.Rationale
		pt.sources = res.Sources
	} else if decision.NeedsRetrieval() {
		pt.decision.Action = datatypes.RouteNoRAG
	}

	pt.messages = make([]llm.Message, 0, len(recent)+1)
	for _, m := range recent {
		pt.messages = append(pt.messages, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}
	pt.messages = append(pt.messages, llm.Message{Role: llm.RoleUser, Content: pt.prompt})
	return pt, nil
}

// commit stores the turn and tags the session with the routing decision.
// The stored user message is the prompt; the store redacts the context
// block down to the literal question.
func (s *ChatRAGService) commit(pt *preparedTurn, answer string) *datatypes.ChatResponse {
	if err := s.store.History(pt.sessionID).AppendTurn(pt.prompt, answer); err != nil {
		slog.Error("Failed to store turn", "session_id", pt.sessionID, "error", err)
	}
	sessionType := pt.decision.SessionType()
	if _, err := s.store.UpdateMetadata(pt.sessionID, datatypes.MetadataPatch{Type: &sessionType}); err != nil {
		slog.Warn("Failed to tag session type", "session_id", pt.sessionID, "error", err)
	}
	if s.cfg.OnTurnCommitted != nil {
		s.cfg.OnTurnCommitted(pt.decision.Action)
	}
	return &datatypes.ChatResponse{
		Answer:    answer,
		SessionID: pt.sessionID,
		Action:    pt.decision.Action,
		Rationale: pt.rationale,
		Sources:   pt.sources,
	}
}

// turnGuard lets exactly one of the pipeline and the timeout path own the
// outcome of a deadline-raced turn.
type turnGuard struct{ claimed atomic.Bool }

func (g *turnGuard) claim() bool {
	if g == nil {
		return true
	}
	return g.claimed.CompareAndSwap(false, true)
}

// Process runs one turn synchronously.
//
// # Inputs
//
//   - ctx: Cancels routing, retrieval and generation.
//   - sessionID: Existing or new session. Must not be empty.
//   - question: The literal user message.
//
// # Outputs
//
//   - *datatypes.ChatResponse: The answer with routing action and sources.
//   - error: *GenerationError when the model failed.
func (s *ChatRAGService) Process(ctx context.Context, sessionID, question string) (*datatypes.ChatResponse, error) {
	return s.process(ctx, sessionID, question, nil)
}

func (s *ChatRAGService) process(ctx context.Context, sessionID, question string, guard *turnGuard) (*datatypes.ChatResponse, error) {
	ctx, span := chatRAGTracer.Start(ctx, "ChatRAGService.Process")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	release, err := s.turns.enter(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()
	if guard != nil && guard.claimed.Load() {
		return nil, ErrTurnAbandoned
	}

	slog.Info("Processing chat turn", "session_id", sessionID, "question", logging.Truncate(question, 60))
	pt, err := s.prepare(ctx, sessionID, question, nil)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("route.action", string(pt.decision.Action)),
		attribute.Int("response.sources_count", len(pt.sources)),
	)

	answer, err := pt.client.Invoke(ctx, pt.system, pt.messages)
	if err == nil && strings.TrimSpace(answer) == "" {
		err = llm.ErrEmptyResponse
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		slog.Error("Answer generation failed", "session_id", sessionID, "error", err)
		return nil, &GenerationError{SessionID: sessionID, Err: err}
	}

	if !guard.claim() {
		slog.Warn("Discarding answer of abandoned turn", "session_id", sessionID)
		return nil, ErrTurnAbandoned
	}
	return s.commit(pt, answer), nil
}

// ProcessWithDeadline runs one turn against a hard wall-clock deadline.
//
// # Description
//
// The pipeline runs detached from ctx's cancellation and races a timer.
// When the timer wins, the pipeline is abandoned rather than cancelled and
// its eventual answer is discarded. A one-shot guard ensures the abandoned
// pipeline can never append history once the timeout was reported. If the
// pipeline already claimed the guard when the timer fires, its commit is
// awaited and its answer returned.
//
// # Outputs
//
//   - error: ErrTurnTimeout when the deadline won, *GenerationError when
//     the model failed first.
func (s *ChatRAGService) ProcessWithDeadline(ctx context.Context, sessionID, question string, timeout time.Duration) (*datatypes.ChatResponse, error) {
	if timeout <= 0 {
		timeout = DefaultTurnTimeout
	}

	type outcome struct {
		resp *datatypes.ChatResponse
		err  error
	}
	guard := &turnGuard{}
	done := make(chan outcome, 1)
	go func() {
		resp, err := s.process(context.WithoutCancel(ctx), sessionID, question, guard)
		done <- outcome{resp, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-done:
		return o.resp, o.err
	case <-timer.C:
		if guard.claim() {
			slog.Warn("Turn deadline exceeded, abandoning pipeline", "session_id", sessionID, "timeout", timeout.String())
			return nil, ErrTurnTimeout
		}
		o := <-done
		return o.resp, o.err
	}
}

// =============================================================================
// Streaming
// =============================================================================

// StreamCallbacks receive a streamed turn. An error from either aborts the
// turn without storing it.
type StreamCallbacks struct {
	// OnStatus is optional. It receives short progress labels.
	OnStatus func(status string) error

	// OnToken receives answer chunks in order.
	OnToken func(token string) error
}

// Stream labels sent through OnStatus.
const (
	StatusRouting    = "routing"
	StatusRetrieving = "retrieving"
	StatusGenerating = "generating"
)

// Stream runs one turn and streams the answer.
//
// The returned response carries the full answer and the sources for the
// terminal event. The turn is stored only after the stream completed.
func (s *ChatRAGService) Stream(ctx context.Context, sessionID, question string, cb StreamCallbacks) (*datatypes.ChatResponse, error) {
	ctx, span := chatRAGTracer.Start(ctx, "ChatRAGService.Stream")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	status := func(label string) error {
		if cb.OnStatus == nil {
			return nil
		}
		return cb.OnStatus(label)
	}

	release, err := s.turns.enter(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := status(StatusRouting); err != nil {
		return nil, err
	}
	pt, err := s.prepare(ctx, sessionID, question, func() error {
		return status(StatusRetrieving)
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("route.action", string(pt.decision.Action)))
	if err := status(StatusGenerating); err != nil {
		return nil, err
	}

	var answer strings.Builder
	var sinkErr error
	err = pt.client.Stream(ctx, pt.system, pt.messages, func(chunk string) error {
		answer.WriteString(chunk)
		if err := cb.OnToken(chunk); err != nil {
			sinkErr = err
			return err
		}
		return nil
	})
	if sinkErr != nil {
		slog.Info("Stream consumer went away, turn not stored", "session_id", sessionID)
		return nil, sinkErr
	}
	if err == nil && strings.TrimSpace(answer.String()) == "" {
		err = llm.ErrEmptyResponse
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream failed")
		slog.Error("Answer streaming failed", "session_id", sessionID, "error", err)
		return nil, &GenerationError{SessionID: sessionID, Err: err}
	}
	return s.commit(pt, answer.String()), nil
}
