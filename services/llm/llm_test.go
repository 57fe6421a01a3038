// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// =============================================================================
// OpenAI
// =============================================================================

func newTestOpenAIClient(t *testing.T, handler http.HandlerFunc, profile Profile) *OpenAIClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c, err := NewOpenAIClient(BackendConfig{APIKey: "test", BaseURL: server.URL + "/v1", Model: "gpt-test"}, profile)
	require.NoError(t, err)
	return c
}

func TestOpenAIClient_InvokeSendsProfile(t *testing.T) {
	var body map[string]any
	c := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"halo"},"finish_reason":"stop"}]}`)
	}, ProfileClassification)

	out, err := c.Invoke(context.Background(), "classify", []Message{
		{Role: RoleUser, Content: "q1"},
		{Role: RoleAssistant, Content: "a1"},
		{Role: RoleUser, Content: "q2"},
	})
	require.NoError(t, err)
	assert.Equal(t, "halo", out)

	assert.Equal(t, "gpt-test", body["model"])
	temp, ok := body["temperature"].(float64)
	require.True(t, ok, "temperature must be sent even at 0")
	assert.Less(t, temp, 1e-30)

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "assistant", msgs[2].(map[string]any)["role"])
}

func TestOpenAIClient_InvokeError(t *testing.T) {
	c := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
	}, ProfileShortForm)

	_, err := c.Invoke(context.Background(), "", []Message{{Role: RoleUser, Content: "q"}})
	assert.Error(t, err)
}

func TestOpenAIClient_InvokeNoChoices(t *testing.T) {
	c := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","choices":[]}`)
	}, ProfileShortForm)

	_, err := c.Invoke(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOpenAIClient_Stream(t *testing.T) {
	c := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, tok := range []string{"Per", "ubahan ", "iklim"} {
			fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", tok)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}, ProfileLongForm)

	var chunks []string
	err := c.Stream(context.Background(), "sys", []Message{{Role: RoleUser, Content: "q"}}, func(s string) error {
		chunks = append(chunks, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Per", "ubahan ", "iklim"}, chunks)
}

func TestOpenAIClient_StreamCallbackErrorAborts(t *testing.T) {
	c := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"a\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"b\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}, ProfileLongForm)

	stop := errors.New("client gone")
	calls := 0
	err := c.Stream(context.Background(), "", nil, func(string) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestOpenAIEmbedder_OrdersByIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","data":[{"object":"embedding","index":1,"embedding":[2,2]},{"object":"embedding","index":0,"embedding":[1,1]}],"model":"m"}`)
	}))
	defer server.Close()

	e, err := NewOpenAIEmbedder(BackendConfig{APIKey: "k", BaseURL: server.URL + "/v1"})
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}, {2, 2}}, vecs)
}

// =============================================================================
// Ollama
// =============================================================================

type fakeGenerator struct {
	gotMessages []llms.MessageContent
	gotOpts     llms.CallOptions
	chunks      []string
	err         error
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.gotMessages = messages
	for _, o := range options {
		o(&f.gotOpts)
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.gotOpts.StreamingFunc != nil {
		for _, c := range f.chunks {
			if err := f.gotOpts.StreamingFunc(ctx, []byte(c)); err != nil {
				return nil, err
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: strings.Join(f.chunks, "")}}}, nil
}

func TestOllamaClient_Invoke(t *testing.T) {
	gen := &fakeGenerator{chunks: []string{"jawaban"}}
	c := &OllamaClient{llm: gen, model: "m", profile: ProfileLongForm}

	out, err := c.Invoke(context.Background(), "sys", []Message{
		{Role: RoleUser, Content: "q"},
		{Role: RoleAssistant, Content: "a"},
	})
	require.NoError(t, err)
	assert.Equal(t, "jawaban", out)

	require.Len(t, gen.gotMessages, 3)
	assert.Equal(t, llms.ChatMessageTypeSystem, gen.gotMessages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, gen.gotMessages[1].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, gen.gotMessages[2].Role)
	assert.Equal(t, 0.0, gen.gotOpts.Temperature)
	assert.Equal(t, ProfileLongForm.MaxTokens, gen.gotOpts.MaxTokens)
}

func TestOllamaClient_Stream(t *testing.T) {
	gen := &fakeGenerator{chunks: []string{"a", "", "b"}}
	c := &OllamaClient{llm: gen, model: "m", profile: ProfileShortForm}

	var got []string
	require.NoError(t, c.Stream(context.Background(), "", nil, func(s string) error {
		got = append(got, s)
		return nil
	}))
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestOllamaClient_Error(t *testing.T) {
	c := &OllamaClient{llm: &fakeGenerator{err: errors.New("down")}, profile: ProfileShortForm}
	_, err := c.Invoke(context.Background(), "", nil)
	assert.ErrorContains(t, err, "down")
}

func TestNewOllamaClient_RequiresBaseURL(t *testing.T) {
	_, err := NewOllamaClient(BackendConfig{}, ProfileShortForm)
	assert.Error(t, err)
}

// =============================================================================
// Selection and Instrumentation
// =============================================================================

func TestNewClient_UnknownBackend(t *testing.T) {
	_, err := NewClient(BackendConfig{Type: "anthropic"}, ProfileShortForm)
	assert.Error(t, err)
	_, err = NewEmbedder(BackendConfig{Type: ""})
	assert.Error(t, err)
}

func TestProfiles_AreDeterministic(t *testing.T) {
	for _, p := range []Profile{ProfileClassification, ProfileLongForm, ProfileShortForm} {
		assert.Equal(t, float32(0), p.Temperature, p.Name)
	}
}

type stubClient struct{ err error }

func (s stubClient) Invoke(context.Context, string, []Message) (string, error) { return "ok", s.err }
func (s stubClient) Stream(_ context.Context, _ string, _ []Message, on func(string) error) error {
	if s.err != nil {
		return s.err
	}
	return on("ok")
}

func TestWithObserver(t *testing.T) {
	var profiles []string
	var errs []error
	obs := func(p string, d time.Duration, err error) {
		profiles = append(profiles, p)
		errs = append(errs, err)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}

	c := WithObserver(stubClient{}, "classification", obs)
	_, _ = c.Invoke(context.Background(), "", nil)
	_ = WithObserver(stubClient{err: errors.New("x")}, "long_form", obs).Stream(context.Background(), "", nil, func(string) error { return nil })

	assert.Equal(t, []string{"classification", "long_form"}, profiles)
	assert.NoError(t, errs[0])
	assert.Error(t, errs[1])

	plain := stubClient{}
	assert.Equal(t, Client(plain), WithObserver(plain, "x", nil))
}
