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
	"log/slog"
	"time"

	"github.com/AleutianAI/IndoClimate/pkg/fingerprint"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/datatypes"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/gateway"
)

// ReplyDeliverer sends a reply to a gateway recipient, with its own retry
// policy. *gateway.Deliverer implements it.
type ReplyDeliverer interface {
	Deliver(ctx context.Context, to, text string) error
}

var _ ReplyDeliverer = (*gateway.Deliverer)(nil)

// GatewayOutcome labels how a gateway turn ended.
type GatewayOutcome string

const (
	OutcomeDelivered        GatewayOutcome = "delivered"
	OutcomeTimeout          GatewayOutcome = "timeout"
	OutcomeDeliveryFailed   GatewayOutcome = "delivery_failed"
	OutcomeGenerationFailed GatewayOutcome = "generation_failed"
)

// GatewayConfig configures a GatewayTurnService.
//
// # Fields
//
//   - SessionPrefix: Prepended to the hashed sender key. Must match the
//     prefix swept by the maintenance scheduler. Default "gateway:".
//   - Timeout: Hard deadline per turn. Default DefaultTurnTimeout.
//   - TimeoutApology: Sent when the deadline wins.
//   - FailureApology: Sent when generation failed.
//   - OnOutcome: Optional outcome observer.
type GatewayConfig struct {
	SessionPrefix  string
	Timeout        time.Duration
	TimeoutApology string
	FailureApology string
	OnOutcome      func(GatewayOutcome)
}

// GatewayTurnService answers inbound messaging-gateway messages.
//
// Each inbound message is one deadline-raced turn on the sender's session.
// The reply, or an apology, always goes out through the deliverer.
type GatewayTurnService struct {
	chat      *ChatRAGService
	deliverer ReplyDeliverer
	cfg       GatewayConfig
}

// NewGatewayTurnService creates a service.
func NewGatewayTurnService(chat *ChatRAGService, deliverer ReplyDeliverer, cfg GatewayConfig) (*GatewayTurnService, error) {
	if chat == nil || deliverer == nil {
		return nil, errors.New("chat service and deliverer must not be nil")
	}
	if cfg.SessionPrefix == "" {
		cfg.SessionPrefix = "gateway:"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTurnTimeout
	}
	if cfg.TimeoutApology == "" {
		cfg.TimeoutApology = gateway.DefaultTimeoutApology
	}
	if cfg.FailureApology == "" {
		cfg.FailureApology = gateway.DefaultGenericApology
	}
	return &GatewayTurnService{chat: chat, deliverer: deliverer, cfg: cfg}, nil
}

// SessionID maps a sender key to its session id. The raw key never appears
// in session ids.
func (g *GatewayTurnService) SessionID(from string) string {
	return g.cfg.SessionPrefix + fingerprint.Hash(from)
}

// Handle runs one inbound turn and delivers the result.
//
// # Outputs
//
//   - datatypes.GatewayInboundResponse: Status and session id.
//   - error: The turn or delivery error, nil when the answer was delivered.
//     On timeout the apology was attempted and ErrTurnTimeout is returned.
func (g *GatewayTurnService) Handle(ctx context.Context, from, message string) (datatypes.GatewayInboundResponse, error) {
	sessionID := g.SessionID(from)
	resp := datatypes.GatewayInboundResponse{SessionID: sessionID}

	turn, err := g.chat.ProcessWithDeadline(ctx, sessionID, message, g.cfg.Timeout)

	var reply string
	outcome := OutcomeDelivered
	switch {
	case errors.Is(err, ErrTurnTimeout):
		reply = g.cfg.TimeoutApology
		outcome = OutcomeTimeout
	case err != nil:
		reply = g.cfg.FailureApology
		outcome = OutcomeGenerationFailed
	default:
		reply = turn.Answer
	}

	// Delivery must not inherit a caller deadline that already fired.
	deliverErr := g.deliverer.Deliver(context.WithoutCancel(ctx), from, reply)
	if deliverErr != nil {
		slog.Error("Gateway reply not delivered", "session_id", sessionID, "error", deliverErr)
		if outcome == OutcomeDelivered {
			outcome = OutcomeDeliveryFailed
			err = deliverErr
		}
	}

	switch outcome {
	case OutcomeDelivered:
		resp.Status = datatypes.GatewayDelivered
	case OutcomeTimeout:
		resp.Status = datatypes.GatewayTimeout
	default:
		resp.Status = datatypes.GatewayFailed
	}
	if g.cfg.OnOutcome != nil {
		g.cfg.OnOutcome(outcome)
	}
	slog.Info("Gateway turn finished", "session_id", sessionID, "outcome", string(outcome))
	return resp, err
}
