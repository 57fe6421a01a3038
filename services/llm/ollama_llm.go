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
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultOllamaModel          = "gpt-oss"
	defaultOllamaEmbeddingModel = "nomic-embed-text"
	defaultOllamaTimeout        = 5 * time.Minute
)

// generator is the slice of langchaingo's llms.Model used here.
type generator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// OllamaClient implements Client on a local Ollama server through
// langchaingo.
type OllamaClient struct {
	llm     generator
	model   string
	profile Profile
}

var _ Client = (*OllamaClient)(nil)

// NewOllamaClient creates a client for one profile. cfg.BaseURL is required.
func NewOllamaClient(cfg BackendConfig, profile Profile) (*OllamaClient, error) {
	llm, model, err := newOllama(cfg, defaultOllamaModel)
	if err != nil {
		return nil, err
	}
	slog.Info("Initializing Ollama client", "base_url", cfg.BaseURL, "model", model, "profile", profile.Name)
	return &OllamaClient{llm: llm, model: model, profile: profile}, nil
}

func newOllama(cfg BackendConfig, fallbackModel string) (*ollama.LLM, string, error) {
	if cfg.BaseURL == "" {
		return nil, "", fmt.Errorf("ollama base URL not configured")
	}
	model := cfg.Model
	if model == "" {
		slog.Warn("Ollama model not set, using default", "model", fallbackModel)
		model = fallbackModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultOllamaTimeout
	}
	llm, err := ollama.New(
		ollama.WithServerURL(strings.TrimSuffix(cfg.BaseURL, "/")),
		ollama.WithModel(model),
		ollama.WithHTTPClient(&http.Client{Timeout: timeout}),
	)
	if err != nil {
		return nil, "", fmt.Errorf("create ollama client: %w", err)
	}
	return llm, model, nil
}

func toMessageContent(system string, messages []Message) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(messages)+1)
	if system != "" {
		out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}
	for _, m := range messages {
		role := llms.ChatMessageTypeHuman
		if m.Role == RoleAssistant {
			role = llms.ChatMessageTypeAI
		}
		out = append(out, llms.TextParts(role, m.Content))
	}
	return out
}

func (o *OllamaClient) options(extra ...llms.CallOption) []llms.CallOption {
	opts := []llms.CallOption{llms.WithTemperature(float64(o.profile.Temperature))}
	if o.profile.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(o.profile.MaxTokens))
	}
	return append(opts, extra...)
}

// Invoke implements Client.
func (o *OllamaClient) Invoke(ctx context.Context, system string, messages []Message) (string, error) {
	ctx, span := tracer.Start(ctx, "OllamaClient.Invoke")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", o.model),
		attribute.String("llm.profile", o.profile.Name),
		attribute.Int("llm.num_messages", len(messages)),
	)

	resp, err := o.llm.GenerateContent(ctx, toMessageContent(system, messages), o.options()...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate failed")
		return "", fmt.Errorf("ollama generate failed: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		span.SetStatus(codes.Error, "no choices")
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Content, nil
}

// Stream implements Client.
func (o *OllamaClient) Stream(ctx context.Context, system string, messages []Message, onChunk func(string) error) error {
	ctx, span := tracer.Start(ctx, "OllamaClient.Stream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model), attribute.String("llm.profile", o.profile.Name))

	stream := llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		return onChunk(string(chunk))
	})
	if _, err := o.llm.GenerateContent(ctx, toMessageContent(system, messages), o.options(stream)...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream failed")
		return fmt.Errorf("ollama stream failed: %w", err)
	}
	return nil
}

// =============================================================================
// Embeddings
// =============================================================================

// OllamaEmbedder implements Embedder with an Ollama embedding model.
type OllamaEmbedder struct {
	llm *ollama.LLM
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an embedder. cfg.Model names the embedding model.
func NewOllamaEmbedder(cfg BackendConfig) (*OllamaEmbedder, error) {
	llm, _, err := newOllama(cfg, defaultOllamaEmbeddingModel)
	if err != nil {
		return nil, err
	}
	return &OllamaEmbedder{llm: llm}, nil
}

// Embed implements Embedder.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements Embedder.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := e.llm.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings failed: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(vecs), len(texts))
	}
	return vecs, nil
}
