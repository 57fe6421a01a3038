// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the language-model capability used by the
// orchestrator: one Client interface with blocking and streaming calls,
// fixed generation profiles, embedders for retrieval, and a shared routine
// for extracting JSON from free-form model output.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("indoclimate.llm")

// =============================================================================
// Messages
// =============================================================================

// Role of a chat message sent to a model.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn sent to a model. The system instruction is
// passed separately to Invoke and Stream.
type Message struct {
	Role    Role
	Content string
}

// =============================================================================
// Profiles
// =============================================================================

// Profile is an independent generation configuration.
//
// All built-in profiles use temperature 0 so routing and citation behavior
// are reproducible.
type Profile struct {
	Name        string
	Temperature float32
	MaxTokens   int
}

var (
	// ProfileClassification drives the router and the relevance evaluator.
	ProfileClassification = Profile{Name: "classification", Temperature: 0, MaxTokens: 512}

	// ProfileLongForm drives answers on the retrieval path.
	ProfileLongForm = Profile{Name: "long_form", Temperature: 0, MaxTokens: 2048}

	// ProfileShortForm drives answers on the general path.
	ProfileShortForm = Profile{Name: "short_form", Temperature: 0, MaxTokens: 512}
)

// =============================================================================
// Interfaces
// =============================================================================

// Client invokes a language model.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Client interface {
	// Invoke returns the full completion for system + messages.
	Invoke(ctx context.Context, system string, messages []Message) (string, error)

	// Stream delivers the completion in chunks to onChunk, in order. An error
	// from onChunk aborts the stream and is returned.
	Stream(ctx context.Context, system string, messages []Message, onChunk func(string) error) error
}

// Embedder turns text into vectors for the vector store.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ErrEmptyResponse is returned when a backend produced no content.
var ErrEmptyResponse = errors.New("model returned no content")

// =============================================================================
// Backend Selection
// =============================================================================

// Backend names accepted by BackendConfig.Type.
const (
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
)

// BackendConfig selects and configures a model backend.
type BackendConfig struct {
	Type    string
	Model   string
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewClient builds a Client for the backend with the given profile.
func NewClient(cfg BackendConfig, profile Profile) (Client, error) {
	switch strings.ToLower(cfg.Type) {
	case BackendOpenAI:
		return NewOpenAIClient(cfg, profile)
	case BackendOllama:
		return NewOllamaClient(cfg, profile)
	default:
		return nil, fmt.Errorf("unknown llm backend %q", cfg.Type)
	}
}

// NewEmbedder builds an Embedder for the backend.
func NewEmbedder(cfg BackendConfig) (Embedder, error) {
	switch strings.ToLower(cfg.Type) {
	case BackendOpenAI:
		return NewOpenAIEmbedder(cfg)
	case BackendOllama:
		return NewOllamaEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unknown embedding backend %q", cfg.Type)
	}
}
