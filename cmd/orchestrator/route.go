// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/IndoClimate/services/llm"
	"github.com/AleutianAI/IndoClimate/services/orchestrator"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/datatypes"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/routing"
	"github.com/spf13/cobra"
)

func newRouteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "route [question]",
		Short: "Classify one query and print the routing decision as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend := orchestrator.LLMBackend(cfg.LLM)
			if cfg.LLM.ClassificationModel != "" {
				backend.Model = cfg.LLM.ClassificationModel
			}
			profile := llm.ProfileClassification
			profile.MaxTokens = cfg.LLM.MaxTokens.Classification

			client, err := llm.NewClient(backend, profile)
			if err != nil {
				return err
			}
			router, err := routing.NewRouter(client, routing.Config{Timeout: cfg.Retrieval.RouterTimeout})
			if err != nil {
				return err
			}
			return printDecision(cmd, router, strings.Join(args, " "))
		},
	}
}

// decisionRouter is the part of *routing.Router the command uses.
type decisionRouter interface {
	Route(ctx context.Context, query string, recent []datatypes.Message) datatypes.RouteDecision
}

func printDecision(cmd *cobra.Command, router decisionRouter, query string) error {
	decision := router.Route(cmd.Context(), query, nil)
	out := struct {
		datatypes.RouteDecision
		Fallback bool `json:"fallback"`
	}{decision, decision.Fallback}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode decision: %w", err)
	}
	return nil
}
