// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/IndoClimate/services/llm"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/datatypes"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/retrieval"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeRouter struct {
	decision datatypes.RouteDecision
	mu       sync.Mutex
	recent   [][]datatypes.Message
}

func (f *fakeRouter) Route(_ context.Context, query string, recent []datatypes.Message) datatypes.RouteDecision {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recent = append(f.recent, recent)
	d := f.decision
	if d.Action == "" {
		d = datatypes.RouteDecision{Action: datatypes.RouteNoRAG, NormalizedQuery: query}
	}
	return d
}

type fakeAssembler struct {
	result     retrieval.Result
	onAssemble func()
	mu         sync.Mutex
	reqs       []retrieval.AssembleRequest
}

func (f *fakeAssembler) Assemble(_ context.Context, req retrieval.AssembleRequest) retrieval.Result {
	if f.onAssemble != nil {
		f.onAssemble()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	res := f.result
	if res.ContextBlock == "" {
		res.ContextBlock = retrieval.ContextBlock("[1] PP 22/2021\nisi", req.Question)
	}
	return res
}

type fakeLLM struct {
	answer  string
	chunks  []string
	err     error
	release chan struct{}

	mu       sync.Mutex
	systems  []string
	messages [][]llm.Message
	ctxErrs  []error
}

func (f *fakeLLM) record(ctx context.Context, system string, messages []llm.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.systems = append(f.systems, system)
	f.messages = append(f.messages, messages)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
}

func (f *fakeLLM) Invoke(ctx context.Context, system string, messages []llm.Message) (string, error) {
	f.record(ctx, system, messages)
	if f.release != nil {
		<-f.release
	}
	return f.answer, f.err
}

func (f *fakeLLM) Stream(ctx context.Context, system string, messages []llm.Message, onChunk func(string) error) error {
	f.record(ctx, system, messages)
	for _, c := range f.chunks {
		if err := onChunk(c); err != nil {
			return err
		}
	}
	return f.err
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.systems)
}

type harness struct {
	store     *sessions.Store
	router    *fakeRouter
	assembler *fakeAssembler
	long      *fakeLLM
	short     *fakeLLM
	svc       *ChatRAGService

	commitMu  sync.Mutex
	committed []datatypes.RouteAction
}

func newHarness(t *testing.T, decision datatypes.RouteDecision, withAssembler bool) *harness {
	t.Helper()
	h := &harness{
		store:  sessions.NewStore(sessions.Config{}),
		router: &fakeRouter{decision: decision},
		long:   &fakeLLM{answer: "Menurut [1], emisi wajib dilaporkan.", chunks: []string{"Menurut ", "[1], ", "emisi."}},
		short:  &fakeLLM{answer: "Halo! Ada yang bisa saya bantu?", chunks: []string{"Halo", "!"}},
	}
	var asm Assembler
	if withAssembler {
		h.assembler = &fakeAssembler{result: retrieval.Result{
			Rationale: "fragment 1 relevan",
			Sources:   []datatypes.SourceInfo{{RegulationType: "PP", Number: "22", Year: "2021"}},
		}}
		asm = h.assembler
	}
	svc, err := NewChatRAGService(h.store, h.router, asm, h.long, h.short, Config{
		TopK:            7,
		OnTurnCommitted: func(a datatypes.RouteAction) {
			h.commitMu.Lock()
			h.committed = append(h.committed, a)
			h.commitMu.Unlock()
		},
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

var ragDecision = datatypes.RouteDecision{
	Action:          datatypes.RouteRAG,
	ExpandedQuery:   "kewajiban pelaporan emisi menurut PP 22/2021",
	RetrievalQuery:  "pelaporan emisi PP 22 2021",
	NormalizedQuery: "Apa kewajiban pelaporan emisi?",
	Language:        "id",
}

// =============================================================================
// Constructor
// =============================================================================

func TestNewChatRAGService_Validation(t *testing.T) {
	store := sessions.NewStore(sessions.Config{})
	c := &fakeLLM{}

	_, err := NewChatRAGService(nil, &fakeRouter{}, nil, c, c, Config{})
	assert.Error(t, err)
	_, err = NewChatRAGService(store, nil, nil, c, c, Config{})
	assert.Error(t, err)
	_, err = NewChatRAGService(store, &fakeRouter{}, nil, nil, c, Config{})
	assert.Error(t, err)
	_, err = NewChatRAGService(store, &fakeRouter{}, nil, c, c, Config{})
	assert.NoError(t, err)
}

func TestEnsureSession(t *testing.T) {
	h := newHarness(t, datatypes.RouteDecision{}, false)

	id := h.svc.EnsureSession("", "")
	assert.NotEmpty(t, id)
	_, ok := h.store.GetSession(id)
	assert.True(t, ok)

	assert.Equal(t, "s1", h.svc.EnsureSession("s1", "u1"))
	s, ok := h.store.GetSession("s1")
	require.True(t, ok)
	assert.Equal(t, "u1", s.Metadata.UserID)
}

// =============================================================================
// Process
// =============================================================================

func TestProcess_GeneralPath(t *testing.T) {
	h := newHarness(t, datatypes.RouteDecision{}, true)

	resp, err := h.svc.Process(context.Background(), "s1", "halo")
	require.NoError(t, err)

	assert.Equal(t, datatypes.RouteNoRAG, resp.Action)
	assert.Equal(t, "Halo! Ada yang bisa saya bantu?", resp.Answer)
	assert.NotNil(t, resp.Sources)
	assert.Empty(t, resp.Sources)
	assert.Empty(t, h.assembler.reqs)
	assert.Equal(t, 0, h.long.calls())
	require.Equal(t, 1, h.short.calls())
	assert.Equal(t, generalInstruction, h.short.systems[0])

	msgs := h.store.Messages("s1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "halo", msgs[0].Content)
	assert.Equal(t, datatypes.RoleAssistant, msgs[1].Role)

	s, _ := h.store.GetSession("s1")
	assert.Equal(t, datatypes.SessionTypeGeneral, s.Metadata.Type)
	assert.Equal(t, []datatypes.RouteAction{datatypes.RouteNoRAG}, h.committed)
}

func TestProcess_RetrievalPath(t *testing.T) {
	h := newHarness(t, ragDecision, true)
	question := "apa kewajiban pelaporan emisi?"

	resp, err := h.svc.Process(context.Background(), "s1", question)
	require.NoError(t, err)

	assert.Equal(t, datatypes.RouteRAG, resp.Action)
	assert.Equal(t, "fragment 1 relevan", resp.Rationale)
	assert.Len(t, resp.Sources, 1)

	require.Len(t, h.assembler.reqs, 1)
	req := h.assembler.reqs[0]
	assert.Equal(t, ragDecision.RetrievalQuery, req.RetrievalQuery)
	assert.Equal(t, ragDecision.ExpandedQuery, req.EvaluationQuery)
	assert.Equal(t, ragDecision.NormalizedQuery, req.NormalizedQuery)
	assert.Equal(t, "id", req.Language)
	assert.Equal(t, question, req.Question)
	assert.Equal(t, 7, req.TopK)

	require.Equal(t, 1, h.long.calls())
	assert.Equal(t, ragInstruction, h.long.systems[0])
	sent := h.long.messages[0]
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Content, sessions.ContextBeginMarker)
	assert.Contains(t, sent[0].Content, "PP 22/2021")

	msgs := h.store.Messages("s1")
	require.Len(t, msgs, 2)
	assert.Equal(t, question, msgs[0].Content, "stored user message must be redacted")

	s, _ := h.store.GetSession("s1")
	assert.Equal(t, datatypes.SessionTypeRAG, s.Metadata.Type)
}

func TestProcess_RetrievalWithoutAssemblerDegrades(t *testing.T) {
	h := newHarness(t, ragDecision, false)

	resp, err := h.svc.Process(context.Background(), "s1", "apa itu NDC?")
	require.NoError(t, err)
	assert.Equal(t, datatypes.RouteNoRAG, resp.Action)
	assert.Equal(t, 1, h.short.calls())
	assert.Equal(t, 0, h.long.calls())
}

func TestProcess_SendsWindowHistoryBeforePrompt(t *testing.T) {
	h := newHarness(t, datatypes.RouteDecision{}, false)
	ctx := context.Background()

	for _, q := range []string{"satu", "dua", "tiga"} {
		_, err := h.svc.Process(ctx, "s1", q)
		require.NoError(t, err)
	}

	last := h.short.messages[2]
	// Window of 4 holds the two previous turns.
	require.Len(t, last, 5)
	assert.Equal(t, "satu", last[0].Content)
	assert.Equal(t, llm.RoleAssistant, last[1].Role)
	assert.Equal(t, "tiga", last[4].Content)
	assert.Len(t, h.router.recent[2], 4)
	assert.Len(t, h.store.Messages("s1"), 4)
}

func TestProcess_GenerationFaultStoresNothing(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		err    error
	}{
		{"model error", "", errors.New("upstream 500")},
		{"blank answer", "  \n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, datatypes.RouteDecision{}, false)
			h.short.answer = tt.answer
			h.short.err = tt.err

			resp, err := h.svc.Process(context.Background(), "s1", "halo")
			assert.Nil(t, resp)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrGenerationFailed)
			assert.True(t, IsGenerationError(err))

			var ge *GenerationError
			require.ErrorAs(t, err, &ge)
			assert.Equal(t, "s1", ge.SessionID)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
			}
			assert.Empty(t, h.store.Messages("s1"))
			assert.Empty(t, h.committed)
		})
	}
}

// =============================================================================
// ProcessWithDeadline
// =============================================================================

func TestProcessWithDeadline_CompletesInTime(t *testing.T) {
	h := newHarness(t, datatypes.RouteDecision{}, false)

	resp, err := h.svc.ProcessWithDeadline(context.Background(), "gateway:a", "halo", time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Answer)
	assert.Len(t, h.store.Messages("gateway:a"), 2)
}

func TestProcessWithDeadline_TimeoutDiscardsLateAnswer(t *testing.T) {
	h := newHarness(t, datatypes.RouteDecision{}, false)
	h.short.release = make(chan struct{})

	resp, err := h.svc.ProcessWithDeadline(context.Background(), "gateway:a", "halo", 30*time.Millisecond)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrTurnTimeout)

	close(h.short.release)
	assert.Never(t, func() bool {
		return len(h.store.Messages("gateway:a")) > 0
	}, 150*time.Millisecond, 10*time.Millisecond)
	assert.Empty(t, h.committed)
}

func TestProcessWithDeadline_DetachedFromCallerCancellation(t *testing.T) {
	h := newHarness(t, datatypes.RouteDecision{}, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := h.svc.ProcessWithDeadline(ctx, "gateway:a", "halo", time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Answer)
	require.Len(t, h.short.ctxErrs, 1)
	assert.NoError(t, h.short.ctxErrs[0])
}

func TestProcessWithDeadline_GenerationFault(t *testing.T) {
	h := newHarness(t, datatypes.RouteDecision{}, false)
	h.short.err = errors.New("boom")

	_, err := h.svc.ProcessWithDeadline(context.Background(), "gateway:a", "halo", time.Second)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.NotErrorIs(t, err, ErrTurnTimeout)
}

func TestTurnGuard_ClaimsOnce(t *testing.T) {
	g := &turnGuard{}
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.claim() {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	var none *turnGuard
	assert.True(t, none.claim())
}

// =============================================================================
// Stream
// =============================================================================

func TestStream_RetrievalPath(t *testing.T) {
	h := newHarness(t, ragDecision, true)
	var statuses []string
	var tokens []string

	resp, err := h.svc.Stream(context.Background(), "s1", "apa kewajiban pelaporan emisi?", StreamCallbacks{
		OnStatus: func(s string) error { statuses = append(statuses, s); return nil },
		OnToken:  func(tok string) error { tokens = append(tokens, tok); return nil },
	})
	require.NoError(t, err)

	assert.Equal(t, []string{StatusRouting, StatusRetrieving, StatusGenerating}, statuses)
	assert.Equal(t, []string{"Menurut ", "[1], ", "emisi."}, tokens)
	assert.Equal(t, "Menurut [1], emisi.", resp.Answer)
	assert.Len(t, resp.Sources, 1)

	msgs := h.store.Messages("s1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "apa kewajiban pelaporan emisi?", msgs[0].Content)
	assert.Equal(t, "Menurut [1], emisi.", msgs[1].Content)
}

func TestStream_RetrievingStatusPrecedesAssembly(t *testing.T) {
	h := newHarness(t, ragDecision, true)
	var events []string
	h.assembler.onAssemble = func() { events = append(events, "assemble") }

	_, err := h.svc.Stream(context.Background(), "s1", "apa kewajiban pelaporan emisi?", StreamCallbacks{
		OnStatus: func(s string) error { events = append(events, s); return nil },
		OnToken:  func(string) error { return nil },
	})
	require.NoError(t, err)
	assert.Equal(t, []string{StatusRouting, StatusRetrieving, "assemble", StatusGenerating}, events)
}

func TestStream_RetrievingStatusErrorSkipsAssembly(t *testing.T) {
	h := newHarness(t, ragDecision, true)
	gone := errors.New("client disconnected")

	_, err := h.svc.Stream(context.Background(), "s1", "apa kewajiban pelaporan emisi?", StreamCallbacks{
		OnStatus: func(s string) error {
			if s == StatusRetrieving {
				return gone
			}
			return nil
		},
		OnToken: func(string) error { return nil },
	})
	assert.ErrorIs(t, err, gone)
	assert.Empty(t, h.assembler.reqs)
	assert.Equal(t, 0, h.long.calls())
	assert.Empty(t, h.store.Messages("s1"))
}

func TestStream_GeneralPathSkipsRetrievingStatus(t *testing.T) {
	h := newHarness(t, datatypes.RouteDecision{}, true)
	var statuses []string

	_, err := h.svc.Stream(context.Background(), "s1", "halo", StreamCallbacks{
		OnStatus: func(s string) error { statuses = append(statuses, s); return nil },
		OnToken:  func(string) error { return nil },
	})
	require.NoError(t, err)
	assert.Equal(t, []string{StatusRouting, StatusGenerating}, statuses)
}

func TestStream_ConsumerErrorStoresNothing(t *testing.T) {
	h := newHarness(t, datatypes.RouteDecision{}, false)
	gone := errors.New("client disconnected")

	_, err := h.svc.Stream(context.Background(), "s1", "halo", StreamCallbacks{
		OnToken: func(string) error { return gone },
	})
	assert.ErrorIs(t, err, gone)
	assert.False(t, IsGenerationError(err))
	assert.Empty(t, h.store.Messages("s1"))
}

func TestStream_ModelErrorIsGenerationFault(t *testing.T) {
	h := newHarness(t, datatypes.RouteDecision{}, false)
	h.short.err = errors.New("stream reset")
	var got strings.Builder

	_, err := h.svc.Stream(context.Background(), "s1", "halo", StreamCallbacks{
		OnToken: func(tok string) error { got.WriteString(tok); return nil },
	})
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Equal(t, "Halo!", got.String())
	assert.Empty(t, h.store.Messages("s1"))
}

// =============================================================================
// Turn Ordering
// =============================================================================

func TestProcess_SameSessionTurnsCommitInArrivalOrder(t *testing.T) {
	h := newHarness(t, datatypes.RouteDecision{}, false)
	h.short.release = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = h.svc.Process(context.Background(), "gateway:a", "pertama")
	}()
	require.Eventually(t, func() bool { return h.short.calls() == 1 }, time.Second, 5*time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = h.svc.Process(context.Background(), "gateway:a", "kedua")
	}()
	assert.Never(t, func() bool { return h.short.calls() > 1 }, 50*time.Millisecond, 5*time.Millisecond,
		"second turn must wait for the first")

	close(h.short.release)
	wg.Wait()

	msgs := h.store.Messages("gateway:a")
	require.Len(t, msgs, 4)
	assert.Equal(t, "pertama", msgs[0].Content)
	assert.Equal(t, "kedua", msgs[2].Content)

	h.router.mu.Lock()
	defer h.router.mu.Unlock()
	require.Len(t, h.router.recent, 2)
	assert.Len(t, h.router.recent[1], 2, "second turn routes against the first turn's history")
	assert.Equal(t, 0, h.svc.turns.pending())
}

func TestProcess_DifferentSessionsRunConcurrently(t *testing.T) {
	h := newHarness(t, datatypes.RouteDecision{}, false)
	h.short.release = make(chan struct{})

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = h.svc.Process(context.Background(), id, "halo")
		}(id)
	}
	require.Eventually(t, func() bool { return h.short.calls() == 2 }, time.Second, 5*time.Millisecond)
	close(h.short.release)
	wg.Wait()
}

func TestTurnQueue_CancelledWaiterKeepsOrder(t *testing.T) {
	q := newTurnQueue()

	releaseFirst, err := q.enter(context.Background(), "s")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = q.enter(ctx, "s")
	assert.ErrorIs(t, err, context.Canceled)

	admitted := make(chan struct{})
	go func() {
		release, err := q.enter(context.Background(), "s")
		if err == nil {
			close(admitted)
			release()
		}
	}()

	assert.Never(t, func() bool {
		select {
		case <-admitted:
			return true
		default:
			return false
		}
	}, 50*time.Millisecond, 5*time.Millisecond)

	releaseFirst()
	require.Eventually(t, func() bool {
		select {
		case <-admitted:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return q.pending() == 0 }, time.Second, 5*time.Millisecond)
}
