// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Options locates the optional configuration files.
//
//   - File: YAML file. Empty skips the file layer; a named file that does
//     not exist is an error.
//   - EnvFile: dotenv file. Empty means ".env"; a missing file is skipped.
type Options struct {
	File    string
	EnvFile string
}

// Load builds and validates the configuration.
func Load(opts Options) (*Config, error) {
	cfg := Default()

	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", opts.File, err)
		}
	}

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
		slog.Debug("no dotenv file found, using process environment", "path", envFile)
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// =============================================================================
// Environment Overrides
// =============================================================================

func applyEnv(cfg *Config) error {
	var errs []error
	setInt := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s: %q is not an integer", ErrInvalidConfig, key, v))
				return
			}
			*dst = n
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s: %q is not a duration", ErrInvalidConfig, key, v))
				return
			}
			*dst = d
		}
	}
	setString := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	setInt("ORCHESTRATOR_PORT", &cfg.Server.Port)
	setString("LLM_BACKEND_TYPE", &cfg.LLM.Backend)
	setString("OPENAI_API_KEY", &cfg.LLM.APIKey)
	switch strings.ToLower(cfg.LLM.Backend) {
	case "openai":
		setString("OPENAI_MODEL", &cfg.LLM.Model)
		setString("OPENAI_BASE_URL", &cfg.LLM.BaseURL)
	case "ollama":
		setString("OLLAMA_MODEL", &cfg.LLM.Model)
		setString("OLLAMA_BASE_URL", &cfg.LLM.BaseURL)
	}
	setString("EMBEDDING_MODEL_NAME", &cfg.Embedding.Model)
	setString("WEAVIATE_SERVICE_URL", &cfg.Weaviate.URL)
	setString("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Observability.OTelEndpoint)
	setString("GATEWAY_URL", &cfg.Gateway.URL)
	setString("GATEWAY_TOKEN", &cfg.Gateway.Token)
	setInt("SESSION_WINDOW", &cfg.Sessions.WindowSize)
	setDuration("SWEEP_INTERVAL", &cfg.Maintenance.Interval)
	setInt("RETRIEVAL_TOP_K", &cfg.Retrieval.TopK)
	setString("LOG_LEVEL", &cfg.Logging.Level)

	return errors.Join(errs...)
}

// lookup returns a trimmed, unquoted, non-empty environment value.
func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.Trim(v, "\"' ")
	return v, v != ""
}
