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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultOpenAIModel          = "gpt-4o-mini"
	defaultOpenAIEmbeddingModel = "text-embedding-3-small"
	openAISecretPath            = "/run/secrets/openai_api_key"
)

// OpenAIClient implements Client with the OpenAI chat completions API.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	profile Profile
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient creates a client for one profile.
//
// # Description
//
// The API key comes from cfg.APIKey, falling back to the mounted secret at
// /run/secrets/openai_api_key. cfg.BaseURL points the client at an
// OpenAI-compatible server when set.
func NewOpenAIClient(cfg BackendConfig, profile Profile) (*OpenAIClient, error) {
	client, err := newOpenAI(cfg)
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
		slog.Warn("OpenAI model not set, using default", "model", model)
	}
	slog.Info("Initializing OpenAI client", "model", model, "profile", profile.Name)
	return &OpenAIClient{client: client, model: model, profile: profile}, nil
}

func newOpenAI(cfg BackendConfig) (*openai.Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		data, err := os.ReadFile(openAISecretPath)
		if err != nil {
			return nil, fmt.Errorf("OpenAI API key not configured")
		}
		apiKey = strings.TrimSpace(string(data))
		slog.Info("Read the OpenAI API key from mounted secret")
	}
	oc := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	if cfg.Timeout > 0 {
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return openai.NewClientWithConfig(oc), nil
}

// temperature maps 0 to the smallest positive float so go-openai does not
// drop the field as an empty value and fall back to the server default.
func temperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

func (o *OpenAIClient) request(system string, messages []Message) openai.ChatCompletionRequest {
	msgs := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    msgs,
		Temperature: temperature(o.profile.Temperature),
	}
	if o.profile.MaxTokens > 0 {
		req.MaxCompletionTokens = o.profile.MaxTokens
	}
	return req
}

// Invoke implements Client.
func (o *OpenAIClient) Invoke(ctx context.Context, system string, messages []Message) (string, error) {
	ctx, span := tracer.Start(ctx, "OpenAIClient.Invoke")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", o.model),
		attribute.String("llm.profile", o.profile.Name),
		attribute.Int("llm.num_messages", len(messages)),
	)

	resp, err := o.client.CreateChatCompletion(ctx, o.request(system, messages))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat completion failed")
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		span.SetStatus(codes.Error, "no choices")
		return "", ErrEmptyResponse
	}
	slog.Debug("Received response from OpenAI", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

// Stream implements Client.
func (o *OpenAIClient) Stream(ctx context.Context, system string, messages []Message, onChunk func(string) error) error {
	ctx, span := tracer.Start(ctx, "OpenAIClient.Stream")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model), attribute.String("llm.profile", o.profile.Name))

	req := o.request(system, messages)
	req.Stream = true
	stream, err := o.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stream open failed")
		return fmt.Errorf("OpenAI stream failed: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "stream recv failed")
			return fmt.Errorf("OpenAI stream failed: %w", err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		if err := onChunk(resp.Choices[0].Delta.Content); err != nil {
			return err
		}
	}
}

// =============================================================================
// Embeddings
// =============================================================================

// OpenAIEmbedder implements Embedder with the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an embedder. cfg.Model names the embedding model.
func NewOpenAIEmbedder(cfg BackendConfig) (*OpenAIEmbedder, error) {
	client, err := newOpenAI(cfg)
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIEmbeddingModel
	}
	return &OpenAIEmbedder{client: client, model: openai.EmbeddingModel(model)}, nil
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements Embedder. Vectors are returned in input order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{Input: texts, Model: e.model})
	if err != nil {
		return nil, fmt.Errorf("OpenAI embeddings failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("OpenAI returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("OpenAI embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
