// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// WeaviateWriter writes objects with Weaviate's batch API.
type WeaviateWriter struct {
	client *weaviate.Client
}

var _ ObjectWriter = (*WeaviateWriter)(nil)

// NewWeaviateWriter wraps client.
func NewWeaviateWriter(client *weaviate.Client) *WeaviateWriter {
	return &WeaviateWriter{client: client}
}

// WriteObjects imports one batch. Per-object failures are logged and not
// counted; only a failed request is an error.
func (w *WeaviateWriter) WriteObjects(ctx context.Context, objects []*models.Object) (int, error) {
	if len(objects) == 0 {
		return 0, nil
	}
	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("batch import failed: %w", err)
	}

	written := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			for _, e := range item.Result.Errors.Error {
				slog.Warn("Weaviate rejected chunk", "id", string(item.ID), "error", e.Message)
			}
			continue
		}
		written++
	}
	return written, nil
}
