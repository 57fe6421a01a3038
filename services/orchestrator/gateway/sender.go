// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Package gateway delivers replies to the outbound messaging gateway.
//
// The gateway is a plain HTTP endpoint that accepts {to, text} and reports
// success per message. Sender posts one message; Deliverer adds the single
// apology retry used for every gateway-originated turn.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("indoclimate.orchestrator.gateway")

// Sender posts one message to a recipient.
//
// Send reports false when the gateway refused the message. The error is
// set only for transport faults; callers treat both as a failed send.
type Sender interface {
	Send(ctx context.Context, to, text string) (bool, error)
}

// HTTPConfig configures an HTTPSender.
//
// # Fields
//
//   - URL: Gateway send endpoint. Required.
//   - Token: Optional bearer token.
//   - Timeout: Per-request timeout. Default 10s.
//   - RatePerSecond: Sustained send rate. Zero disables limiting.
//   - Burst: Limiter burst. Default 1.
type HTTPConfig struct {
	URL           string
	Token         string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	HTTPClient    *http.Client
}

// HTTPSender is the HTTP Sender.
//
// # Thread Safety
//
// Safe for concurrent use. Sends share one rate limiter.
type HTTPSender struct {
	url     string
	token   string
	client  *http.Client
	limiter *rate.Limiter
}

var _ Sender = (*HTTPSender)(nil)

type sendRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type sendResponse struct {
	Success *bool  `json:"success"`
	Error   string `json:"error,omitempty"`
}

// NewHTTPSender creates a sender for cfg.URL.
func NewHTTPSender(cfg HTTPConfig) (*HTTPSender, error) {
	if cfg.URL == "" {
		return nil, errors.New("gateway url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &HTTPSender{
		url:     cfg.URL,
		token:   cfg.Token,
		client:  client,
		limiter: rate.NewLimiter(limit, cfg.Burst),
	}, nil
}

// Send posts text to the gateway.
//
// A 2xx response counts as delivered unless its JSON body says
// {"success": false}. Any other status is a refusal.
func (s *HTTPSender) Send(ctx context.Context, to, text string) (bool, error) {
	ctx, span := tracer.Start(ctx, "HTTPSender.Send")
	defer span.End()
	span.SetAttributes(attribute.Int("message.bytes", len(text)))

	if err := s.limiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(sendRequest{To: to, Text: text})
	if err != nil {
		return false, fmt.Errorf("failed to marshal send request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to create send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		return false, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Warn("Gateway refused message", "status", resp.StatusCode)
		return false, nil
	}

	var parsed sendResponse
	if len(bytes.TrimSpace(raw)) > 0 && json.Unmarshal(raw, &parsed) == nil && parsed.Success != nil && !*parsed.Success {
		slog.Warn("Gateway reported unsuccessful send", "error", parsed.Error)
		return false, nil
	}
	return true, nil
}
