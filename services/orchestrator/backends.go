// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package orchestrator

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/IndoClimate/services/llm"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/config"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

// LLMBackend maps the llm section onto a backend configuration.
func LLMBackend(c config.LLMConfig) llm.BackendConfig {
	return llm.BackendConfig{
		Type:    strings.ToLower(strings.TrimSpace(c.Backend)),
		Model:   c.Model,
		BaseURL: c.BaseURL,
		APIKey:  c.APIKey,
		Timeout: c.Timeout,
	}
}

// EmbeddingBackend maps the embedding section onto a backend configuration.
// Connection details missing from the embedding section are taken from the
// llm section when both use the same backend.
func EmbeddingBackend(c config.Config) llm.BackendConfig {
	e := c.Embedding
	backend := llm.BackendConfig{
		Type:    strings.ToLower(strings.TrimSpace(e.Backend)),
		Model:   e.Model,
		BaseURL: e.BaseURL,
		APIKey:  e.APIKey,
		Timeout: c.LLM.Timeout,
	}
	if backend.Type == strings.ToLower(strings.TrimSpace(c.LLM.Backend)) {
		if backend.BaseURL == "" {
			backend.BaseURL = c.LLM.BaseURL
		}
		if backend.APIKey == "" {
			backend.APIKey = c.LLM.APIKey
		}
	}
	return backend
}

// NewWeaviateClient creates a client for the configured endpoint.
func NewWeaviateClient(c config.WeaviateConfig) (*weaviate.Client, error) {
	scheme, host, err := c.Endpoint()
	if err != nil {
		return nil, fmt.Errorf("invalid Weaviate URL: %w", err)
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: host, Scheme: scheme})
	if err != nil {
		return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
	}
	return client, nil
}
