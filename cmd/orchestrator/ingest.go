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
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/AleutianAI/IndoClimate/services/llm"
	"github.com/AleutianAI/IndoClimate/services/orchestrator"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/datatypes"
	"github.com/AleutianAI/IndoClimate/services/orchestrator/ingest"
	"github.com/spf13/cobra"
)

func newIngestCmd() *cobra.Command {
	var (
		file        string
		batchSize   int
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Split, embed and load regulations from a JSONL file into Weaviate",
		Long: `Each line of the file is one regulation:

  {"document_code":"PP_22_2021","regulation_type":"PP","number":"22","year":"2021",
   "title":"...","view_link":"https://...","text":"..."}

Chunks are written with deterministic ids, so re-ingesting a document
overwrites its chunks instead of duplicating them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cfg.Weaviate.Enabled() {
				return errors.New("weaviate.url is not configured")
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			client, err := orchestrator.NewWeaviateClient(cfg.Weaviate)
			if err != nil {
				return err
			}
			if err := datatypes.EnsureWeaviateSchema(ctx, client); err != nil {
				return err
			}
			embedder, err := llm.NewEmbedder(orchestrator.EmbeddingBackend(*cfg))
			if err != nil {
				return fmt.Errorf("create embedder: %w", err)
			}
			ingester, err := ingest.NewIngester(embedder, ingest.NewWeaviateWriter(client), ingest.Config{
				BatchSize:   batchSize,
				Concurrency: concurrency,
			})
			if err != nil {
				return err
			}

			stats, err := ingester.IngestFile(ctx, file)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "documents: %d  skipped: %d  chunks: %d  written: %d\n",
				stats.Documents, stats.Skipped, stats.Chunks, stats.Written)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSONL file of regulations")
	cmd.Flags().IntVar(&batchSize, "batch-size", ingest.DefaultBatchSize, "objects per Weaviate batch")
	cmd.Flags().IntVar(&concurrency, "concurrency", ingest.DefaultConcurrency, "documents embedded in parallel")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
