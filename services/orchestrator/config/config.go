// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package config loads the orchestrator configuration.
//
// # Description
//
// Values are layered, later layers winning:
//
//	Default() -> YAML file -> .env file -> process environment
//
// The .env file only fills variables the process environment does not
// already set. Durations in YAML use Go syntax ("20s", "1m30s").
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// =============================================================================
// Sections
// =============================================================================

// Config is the complete orchestrator configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	LLM           LLMConfig           `yaml:"llm"`
	Weaviate      WeaviateConfig      `yaml:"weaviate"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Retrieval     RetrievalConfig     `yaml:"retrieval"`
	Sessions      SessionsConfig      `yaml:"sessions"`
	Maintenance   MaintenanceConfig   `yaml:"maintenance"`
	Gateway       GatewayConfig       `yaml:"gateway"`
	Observability ObservabilityConfig `yaml:"observability"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	GinMode         string        `yaml:"gin_mode"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

// LLMConfig selects the chat backend and the per-profile token budgets.
//
// ClassificationModel is used for the router and the relevance evaluator;
// when empty, Model serves every profile.
type LLMConfig struct {
	Backend             string        `yaml:"backend"`
	Model               string        `yaml:"model"`
	ClassificationModel string        `yaml:"classification_model"`
	BaseURL             string        `yaml:"base_url"`
	APIKey              string        `yaml:"api_key"`
	Timeout             time.Duration `yaml:"timeout"`
	MaxTokens           MaxTokens     `yaml:"max_tokens"`
}

// MaxTokens is the output budget per generation profile.
type MaxTokens struct {
	Classification int `yaml:"classification"`
	LongForm       int `yaml:"long_form"`
	ShortForm      int `yaml:"short_form"`
}

// WeaviateConfig locates the vector store. An empty URL runs the service
// without retrieval.
type WeaviateConfig struct {
	URL    string `yaml:"url"`
	Scheme string `yaml:"scheme"`
}

// Enabled reports whether a vector store is configured.
func (w WeaviateConfig) Enabled() bool {
	return strings.TrimSpace(w.URL) != ""
}

// Endpoint returns the scheme and host for the Weaviate client. URL may be
// a bare host:port, in which case Scheme applies.
func (w WeaviateConfig) Endpoint() (scheme, host string, err error) {
	raw := strings.Trim(w.URL, "\"' ")
	if !strings.Contains(raw, "://") {
		raw = w.Scheme + "://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("weaviate url %q has no host", w.URL)
	}
	return u.Scheme, u.Host, nil
}

// EmbeddingConfig selects the embedding backend. Empty BaseURL and APIKey
// fall back to the llm section.
type EmbeddingConfig struct {
	Backend string `yaml:"backend"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// RetrievalConfig tunes the context assembler.
type RetrievalConfig struct {
	TopK              int           `yaml:"top_k"`
	ExpandConcurrency int           `yaml:"expand_concurrency"`
	LookupTimeout     time.Duration `yaml:"lookup_timeout"`
	RouterTimeout     time.Duration `yaml:"router_timeout"`
	EvaluatorTimeout  time.Duration `yaml:"evaluator_timeout"`
}

// SessionsConfig configures the session store.
type SessionsConfig struct {
	WindowSize    int    `yaml:"window_size"`
	GatewayPrefix string `yaml:"gateway_prefix"`
}

// MaintenanceConfig configures the periodic history sweeps.
type MaintenanceConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Interval            time.Duration `yaml:"interval"`
	InactivityEnabled   bool          `yaml:"inactivity_enabled"`
	InactivityThreshold time.Duration `yaml:"inactivity_threshold"`
}

// GatewayConfig configures the messaging gateway. An empty URL disables the
// inbound webhook.
//
// Timeout is the hard turn deadline; SendTimeout bounds one outbound call.
// Empty apology texts use the built-in bilingual defaults.
type GatewayConfig struct {
	URL            string        `yaml:"url"`
	Token          string        `yaml:"token"`
	Timeout        time.Duration `yaml:"timeout"`
	SendTimeout    time.Duration `yaml:"send_timeout"`
	RatePerSecond  float64       `yaml:"rate_per_second"`
	Burst          int           `yaml:"burst"`
	TimeoutApology string        `yaml:"timeout_apology"`
	FailureApology string        `yaml:"failure_apology"`
}

// Enabled reports whether an outbound gateway is configured.
func (g GatewayConfig) Enabled() bool {
	return strings.TrimSpace(g.URL) != ""
}

// ObservabilityConfig configures tracing and metrics. An empty OTelEndpoint
// disables tracing export.
type ObservabilityConfig struct {
	ServiceName    string `yaml:"service_name"`
	OTelEndpoint   string `yaml:"otel_endpoint"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`
}

// =============================================================================
// Defaults
// =============================================================================

// Default returns the production defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            12210,
			GinMode:         "release",
			ShutdownTimeout: 10 * time.Second,
		},
		LLM: LLMConfig{
			Backend: "ollama",
			Model:   "llama3.1",
			BaseURL: "http://localhost:11434",
			Timeout: 60 * time.Second,
			MaxTokens: MaxTokens{
				Classification: 512,
				LongForm:       2048,
				ShortForm:      512,
			},
		},
		Weaviate: WeaviateConfig{Scheme: "http"},
		Embedding: EmbeddingConfig{
			Backend: "ollama",
			Model:   "nomic-embed-text",
		},
		Retrieval: RetrievalConfig{
			TopK:              5,
			ExpandConcurrency: 4,
			LookupTimeout:     5 * time.Second,
			RouterTimeout:     15 * time.Second,
			EvaluatorTimeout:  15 * time.Second,
		},
		Sessions: SessionsConfig{
			WindowSize:    4,
			GatewayPrefix: "gateway:",
		},
		Maintenance: MaintenanceConfig{
			Enabled:             true,
			Interval:            20 * time.Second,
			InactivityEnabled:   true,
			InactivityThreshold: 20 * time.Second,
		},
		Gateway: GatewayConfig{
			Timeout:       20 * time.Second,
			SendTimeout:   10 * time.Second,
			RatePerSecond: 5,
			Burst:         5,
		},
		Observability: ObservabilityConfig{
			ServiceName:    "indoclimate-orchestrator",
			MetricsEnabled: true,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// =============================================================================
// Validation
// =============================================================================

// Validate checks ranges and enumerations. Every error wraps
// ErrInvalidConfig and names the offending field.
func (c *Config) Validate() error {
	switch {
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return invalid("server.port", "must be between 1 and 65535, got %d", c.Server.Port)
	case !oneOf(c.Server.GinMode, "debug", "release", "test"):
		return invalid("server.gin_mode", "unknown mode %q", c.Server.GinMode)
	case !oneOf(c.LLM.Backend, "openai", "ollama"):
		return invalid("llm.backend", "unknown backend %q", c.LLM.Backend)
	case c.LLM.Model == "":
		return invalid("llm.model", "must not be empty")
	case strings.EqualFold(c.LLM.Backend, "openai") && c.LLM.APIKey == "":
		return invalid("llm.api_key", "required for the openai backend")
	case c.LLM.MaxTokens.Classification <= 0 || c.LLM.MaxTokens.LongForm <= 0 || c.LLM.MaxTokens.ShortForm <= 0:
		return invalid("llm.max_tokens", "every profile needs a positive budget")
	case !oneOf(c.Weaviate.Scheme, "http", "https"):
		return invalid("weaviate.scheme", "must be http or https, got %q", c.Weaviate.Scheme)
	case c.Retrieval.TopK <= 0:
		return invalid("retrieval.top_k", "must be positive, got %d", c.Retrieval.TopK)
	case c.Sessions.WindowSize <= 0:
		return invalid("sessions.window_size", "must be positive, got %d", c.Sessions.WindowSize)
	case c.Sessions.GatewayPrefix == "":
		return invalid("sessions.gateway_prefix", "must not be empty")
	case c.Maintenance.Enabled && c.Maintenance.Interval <= 0:
		return invalid("maintenance.interval", "must be positive, got %s", c.Maintenance.Interval)
	case c.Gateway.Timeout <= 0:
		return invalid("gateway.timeout", "must be positive, got %s", c.Gateway.Timeout)
	case c.Gateway.RatePerSecond < 0:
		return invalid("gateway.rate_per_second", "must not be negative")
	case !oneOf(c.Logging.Level, "debug", "info", "warn", "warning", "error"):
		return invalid("logging.level", "unknown level %q", c.Logging.Level)
	}
	if c.Weaviate.Enabled() {
		if _, _, err := c.Weaviate.Endpoint(); err != nil {
			return invalid("weaviate.url", "%v", err)
		}
		if !oneOf(c.Embedding.Backend, "openai", "ollama") {
			return invalid("embedding.backend", "unknown backend %q", c.Embedding.Backend)
		}
		if c.Embedding.Model == "" {
			return invalid("embedding.model", "required when weaviate is configured")
		}
	}
	if c.Gateway.Enabled() {
		if u, err := url.Parse(c.Gateway.URL); err != nil || u.Host == "" {
			return invalid("gateway.url", "not an absolute url: %q", c.Gateway.URL)
		}
	}
	return nil
}

func invalid(field, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, field, fmt.Sprintf(format, args...))
}

func oneOf(v string, allowed ...string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
