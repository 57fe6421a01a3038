// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


// Command orchestrator runs the IndoClimate orchestrator.
//
// # Commands
//
//	orchestrator serve                  Start the HTTP server and sweeps
//	orchestrator ingest --file regs.jsonl  Load regulations into Weaviate
//	orchestrator route "question"       Classify one query and print the decision
//
// # Configuration
//
// Every command reads defaults, then the --config YAML file, then the
// --env-file dotenv file, then the process environment. See
// services/orchestrator/config for the variables.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/AleutianAI/IndoClimate/pkg/logging"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/config"
	"github.com/spf13/cobra"
)

var (
	configPath string
	envFile    string

	cfg    *config.Config
	logger *logging.Logger
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "orchestrator",
		Short: "IndoClimate regulation assistant orchestrator",
		Long: `The orchestrator answers questions about Indonesian climate, environmental
and forestry regulations over HTTP, WebSocket and a messaging gateway.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(config.Options{File: configPath, EnvFile: envFile})
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			cfg = loaded
			logger = newLogger(cfg.Logging, cmd.Name())
			slog.SetDefault(logger.Slog())
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if logger != nil {
				return logger.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file, skipped when missing")

	root.AddCommand(newServeCmd(), newIngestCmd(), newRouteCmd())
	return root
}

// newLogger maps the logging section onto pkg/logging.
func newLogger(lc config.LoggingConfig, command string) *logging.Logger {
	level, ok := logging.ParseLevel(lc.Level)
	format := logging.FormatAuto
	if lc.JSON {
		format = logging.FormatJSON
	}
	l := logging.New(logging.Config{
		Level:   level,
		LogDir:  lc.Dir,
		Service: "orchestrator-" + command,
		Format:  format,
	})
	if !ok {
		l.Warn("Unknown log level, using info", "level", lc.Level)
	}
	return l
}
