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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/IndoClimate/services/orchestrator/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeEmbedder struct {
	err error
}

func (f fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1}, f.err
}

func (f fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

type fakeWriter struct {
	mu      sync.Mutex
	batches [][]*models.Object
	err     error
}

func (f *fakeWriter) WriteObjects(_ context.Context, objects []*models.Object) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.batches = append(f.batches, objects)
	return len(objects), nil
}

func (f *fakeWriter) all() []*models.Object {
	var out []*models.Object
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

func smallSplitter() textsplitter.TextSplitter {
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(40),
		textsplitter.WithChunkOverlap(10),
	)
}

func newTestIngester(t *testing.T, emb fakeEmbedder, w *fakeWriter, batch int) *Ingester {
	t.Helper()
	in, err := NewIngester(emb, w, Config{
		BatchSize: batch,
		Splitter:  smallSplitter(),
		Now:       func() time.Time { return time.UnixMilli(1700000000000) },
	})
	require.NoError(t, err)
	return in
}

const longText = "Pasal 1 Dalam Peraturan Presiden ini yang dimaksud dengan nilai ekonomi karbon adalah nilai terhadap setiap unit emisi gas rumah kaca yang dihasilkan dari kegiatan manusia dan kegiatan ekonomi."

func jsonl(recs ...any) string {
	var b strings.Builder
	for _, r := range recs {
		switch v := r.(type) {
		case string:
			b.WriteString(v)
		default:
			raw, _ := json.Marshal(v)
			b.Write(raw)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// =============================================================================
// Tests
// =============================================================================

func TestNewIngester_Validation(t *testing.T) {
	_, err := NewIngester(nil, &fakeWriter{}, Config{})
	assert.Error(t, err)
	_, err = NewIngester(fakeEmbedder{}, nil, Config{})
	assert.Error(t, err)
}

func TestIngest_WritesCompositeKeys(t *testing.T) {
	w := &fakeWriter{}
	in := newTestIngester(t, fakeEmbedder{}, w, 100)

	input := jsonl(Record{
		DocumentCode:   "PERPRES_98_2021",
		RegulationType: "Peraturan Presiden",
		Number:         "98",
		Year:           "2021",
		Title:          "Nilai Ekonomi Karbon",
		Text:           longText,
	})
	stats, err := in.Ingest(context.Background(), strings.NewReader(input))
	require.NoError(t, err)

	objects := w.all()
	require.Greater(t, len(objects), 1)
	assert.Equal(t, Stats{Documents: 1, Chunks: len(objects), Written: len(objects)}, stats)

	for i, obj := range objects {
		assert.Equal(t, datatypes.RegulationChunkClass, obj.Class)
		assert.Equal(t, ObjectID("PERPRES_98_2021", i), obj.ID)
		props := obj.Properties.(map[string]interface{})
		assert.Equal(t, datatypes.ChunkID("PERPRES_98_2021", i), props["chunk_id"])
		assert.Equal(t, i, props["chunk_index"])
		assert.Equal(t, len(objects), props["total_chunks"])
		assert.Equal(t, "98", props["number"])
		assert.Equal(t, int64(1700000000000), props["ingested_at"])
		assert.Len(t, obj.Vector, 1)
	}
}

func TestIngest_SkipsBadLinesAndDeduplicates(t *testing.T) {
	w := &fakeWriter{}
	in := newTestIngester(t, fakeEmbedder{}, w, 100)

	input := jsonl(
		"{not json",
		"",
		Record{DocumentCode: "", Text: "tanpa kode"},
		Record{DocumentCode: "A", Text: "versi lama"},
		Record{DocumentCode: "A", Text: "versi baru"},
		Record{DocumentCode: "B", Text: "dokumen b", ViewLink: "bukan url"},
	)
	stats, err := in.Ingest(context.Background(), strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Skipped)
	assert.Equal(t, 1, stats.Documents)
	objects := w.all()
	require.Len(t, objects, 1)
	assert.Equal(t, "versi baru", objects[0].Properties.(map[string]interface{})["content"])
}

func TestIngest_Batches(t *testing.T) {
	w := &fakeWriter{}
	in := newTestIngester(t, fakeEmbedder{}, w, 2)

	var recs []any
	for i := 0; i < 5; i++ {
		recs = append(recs, Record{DocumentCode: fmt.Sprintf("DOC_%d", i), Text: "pendek"})
	}
	stats, err := in.Ingest(context.Background(), strings.NewReader(jsonl(recs...)))
	require.NoError(t, err)

	assert.Equal(t, 5, stats.Written)
	require.Len(t, w.batches, 3)
	assert.Len(t, w.batches[2], 1)
}

func TestIngest_Failures(t *testing.T) {
	input := jsonl(Record{DocumentCode: "A", Text: "isi"})

	t.Run("embedding", func(t *testing.T) {
		in := newTestIngester(t, fakeEmbedder{err: errors.New("embed down")}, &fakeWriter{}, 10)
		_, err := in.Ingest(context.Background(), strings.NewReader(input))
		assert.ErrorContains(t, err, "embed down")
	})
	t.Run("write", func(t *testing.T) {
		in := newTestIngester(t, fakeEmbedder{}, &fakeWriter{err: errors.New("disk full")}, 10)
		stats, err := in.Ingest(context.Background(), strings.NewReader(input))
		assert.ErrorContains(t, err, "disk full")
		assert.Equal(t, 0, stats.Written)
	})
}

func TestIngestFile_Missing(t *testing.T) {
	in := newTestIngester(t, fakeEmbedder{}, &fakeWriter{}, 10)
	_, err := in.IngestFile(context.Background(), "/nonexistent/regs.jsonl")
	assert.Error(t, err)
}

func TestObjectID_Deterministic(t *testing.T) {
	assert.Equal(t, ObjectID("UU_32_2009", 3), ObjectID("UU_32_2009", 3))
	assert.NotEqual(t, ObjectID("UU_32_2009", 3), ObjectID("UU_32_2009", 4))
	assert.Len(t, string(ObjectID("X", 0)), 36)
}

func TestWeaviateWriter_WriteObjects(t *testing.T) {
	var received struct {
		Objects []map[string]any `json:"objects"`
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/meta":
			fmt.Fprint(w, `{"hostname":"http://[::]:8080","version":"1.35.2","modules":{}}`)
		case "/v1/batch/objects":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
			fmt.Fprint(w, `[
			 {"class":"RegulationChunk","id":"00000000-0000-5000-8000-000000000001","result":{}},
			 {"class":"RegulationChunk","id":"00000000-0000-5000-8000-000000000002","result":{"errors":{"error":[{"message":"vector length mismatch"}]}}}
			]`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	client, err := weaviate.NewClient(weaviate.Config{Host: u.Host, Scheme: u.Scheme})
	require.NoError(t, err)

	objects := []*models.Object{
		{Class: datatypes.RegulationChunkClass, ID: ObjectID("A", 0), Properties: map[string]interface{}{"content": "a"}},
		{Class: datatypes.RegulationChunkClass, ID: ObjectID("A", 1), Properties: map[string]interface{}{"content": "b"}},
	}
	n, err := NewWeaviateWriter(client).WriteObjects(context.Background(), objects)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, received.Objects, 2)

	n, err = NewWeaviateWriter(client).WriteObjects(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
