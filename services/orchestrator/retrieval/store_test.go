// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
)

type fakeEmbedder struct{ err error }

func (f fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, f.err
}

func (f fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, f.err
}

// newWeaviateServer serves /v1/graphql with respond and records queries.
func newWeaviateServer(t *testing.T, respond func(query string) string) (*weaviate.Client, *[]string) {
	t.Helper()
	var queries []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/meta":
			fmt.Fprint(w, `{"hostname":"http://[::]:8080","version":"1.35.2","modules":{}}`)
		case "/v1/graphql":
			var body struct {
				Query string `json:"query"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			queries = append(queries, body.Query)
			fmt.Fprint(w, respond(body.Query))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	client, err := weaviate.NewClient(weaviate.Config{Host: u.Host, Scheme: u.Scheme})
	require.NoError(t, err)
	return client, &queries
}

const searchResponse = `{"data":{"Get":{"RegulationChunk":[
 {"content":"Pasal 1","chunk_id":"PERPRES_98_2021_0","document_code":"PERPRES_98_2021","chunk_index":0,"total_chunks":3,
  "regulation_type":"Peraturan Presiden","number":"98","year":"2021","title":"Nilai Ekonomi Karbon","view_link":"https://jdih.example/98",
  "_additional":{"id":"0f8d7c1e-0000-5000-8000-000000000001","distance":0.25}},
 {"content":"Pasal 7","chunk_id":"","document_code":"UU_32_2009","chunk_index":4,"total_chunks":9,
  "_additional":{"id":"0f8d7c1e-0000-5000-8000-000000000002"}}
]}}}`

func TestWeaviateStore_Search(t *testing.T) {
	client, queries := newWeaviateServer(t, func(string) string { return searchResponse })
	store, err := NewWeaviateStore(client, fakeEmbedder{})
	require.NoError(t, err)

	frags, err := store.Search(context.Background(), "nilai ekonomi karbon", 5)
	require.NoError(t, err)
	require.Len(t, frags, 2)

	assert.Equal(t, "PERPRES_98_2021_0", frags[0].ID)
	assert.Equal(t, "Nilai Ekonomi Karbon", frags[0].Metadata.Title)
	assert.True(t, frags[0].Metadata.HasSuccessor())
	assert.InDelta(t, 0.75, frags[0].Similarity(), 1e-9)

	assert.Equal(t, "UU_32_2009_4", frags[1].ID, "id rebuilt from document code and index")
	assert.Nil(t, frags[1].Distance)
	assert.Equal(t, 0.0, frags[1].Similarity())

	require.Len(t, *queries, 1)
	q := (*queries)[0]
	assert.Contains(t, q, "RegulationChunk")
	assert.Contains(t, q, "nearVector")
	assert.Contains(t, q, "limit")
	assert.Contains(t, q, "distance")
}

func TestWeaviateStore_GetByID(t *testing.T) {
	client, queries := newWeaviateServer(t, func(q string) string {
		if strings.Contains(q, "PERPRES_98_2021_1") {
			return `{"data":{"Get":{"RegulationChunk":[{"content":"Pasal 2","chunk_id":"PERPRES_98_2021_1","document_code":"PERPRES_98_2021","chunk_index":1,"total_chunks":3,"_additional":{"id":"x"}}]}}}`
		}
		return `{"data":{"Get":{"RegulationChunk":[]}}}`
	})
	store, err := NewWeaviateStore(client, fakeEmbedder{})
	require.NoError(t, err)

	f, ok, err := store.GetByID(context.Background(), "PERPRES_98_2021_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Pasal 2", f.Text)
	assert.Equal(t, 1, f.Metadata.ChunkIndex)

	_, ok, err = store.GetByID(context.Background(), "PERPRES_98_2021_3")
	require.NoError(t, err)
	assert.False(t, ok)

	require.Len(t, *queries, 2)
	assert.Contains(t, (*queries)[0], "chunk_id")
	assert.Contains(t, (*queries)[0], "Equal")
}

func TestWeaviateStore_Errors(t *testing.T) {
	client, _ := newWeaviateServer(t, func(string) string {
		return `{"errors":[{"message":"class RegulationChunk not found"}]}`
	})

	store, err := NewWeaviateStore(client, fakeEmbedder{})
	require.NoError(t, err)
	_, err = store.Search(context.Background(), "q", 5)
	assert.ErrorContains(t, err, "not found")

	_, _, err = store.GetByID(context.Background(), "X_1")
	assert.Error(t, err)

	broken, err := NewWeaviateStore(client, fakeEmbedder{err: errors.New("embedder offline")})
	require.NoError(t, err)
	_, err = broken.Search(context.Background(), "q", 5)
	assert.ErrorContains(t, err, "embed")
}

func TestNewWeaviateStore_Validates(t *testing.T) {
	_, err := NewWeaviateStore(nil, fakeEmbedder{})
	assert.Error(t, err)
}
