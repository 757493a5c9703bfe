// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/northbound/reflect-index/internal/chunker"
	"github.com/northbound/reflect-index/internal/embeddings"
	"github.com/northbound/reflect-index/internal/reflection"
	"github.com/northbound/reflect-index/internal/vectorstore"
)

// stubReflectionStore satisfies reflection.VectorStore for handler tests
// that need a *reflection.Store without a live vector store.
type stubReflectionStore struct {
	ensured  []string
	upserted []vectorstore.Point
}

func (s *stubReflectionStore) EnsureCollection(ctx context.Context, name string, dimension int) error {
	s.ensured = append(s.ensured, name)
	return nil
}

func (s *stubReflectionStore) Upsert(ctx context.Context, collection string, dimension int, p vectorstore.Point) error {
	s.upserted = append(s.upserted, p)
	return nil
}

func postJSON(t *testing.T, h http.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestHandleReflect_RejectsEmptyQuery(t *testing.T) {
	e := newEngine(t, &fakeVectorStore{names: []string{fooCollection}})
	h := NewHandler(e, nil)

	rec := postJSON(t, h.handleReflect, "/reflect", ReflectRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleReflect_RejectsNonPost(t *testing.T) {
	e := newEngine(t, &fakeVectorStore{names: []string{fooCollection}})
	h := NewHandler(e, nil)

	req := httptest.NewRequest(http.MethodGet, "/reflect", nil)
	rec := httptest.NewRecorder()
	h.handleReflect(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleReflect_ReturnsRenderedBody(t *testing.T) {
	store := &fakeVectorStore{
		names: []string{fooCollection},
		matches: map[string][]vectorstore.Match{
			fooCollection: {
				{ID: 1, Score: 0.95, Payload: chunker.Chunk{
					Project: "foo", Timestamp: time.Now(), Text: "hello world",
				}},
			},
		},
	}
	e := newEngine(t, store)
	h := NewHandler(e, nil)

	rec := postJSON(t, h.handleReflect, "/reflect", ReflectRequest{Query: "hello", ResponseFormat: "markdown"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if rec.Body.Len() == 0 {
		t.Error("expected non-empty rendered body")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/markdown" {
		t.Errorf("Content-Type = %q, want text/markdown", ct)
	}
}

func TestHandleStoreReflection_503WhenUnconfigured(t *testing.T) {
	e := newEngine(t, &fakeVectorStore{})
	h := NewHandler(e, nil)

	rec := postJSON(t, h.handleStoreReflection, "/reflection", ReflectionRequest{Content: "note"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleStoreReflection_RejectsEmptyContent(t *testing.T) {
	e := newEngine(t, &fakeVectorStore{})
	embedder, err := embeddings.NewEmbedder(embeddings.KindMock, embeddings.Config{MockDimension: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rs := reflection.New(&stubReflectionStore{}, embedder)
	h := NewHandler(e, rs)

	rec := postJSON(t, h.handleStoreReflection, "/reflection", ReflectionRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleStoreReflection_StoresAndReturns200(t *testing.T) {
	e := newEngine(t, &fakeVectorStore{})
	embedder, err := embeddings.NewEmbedder(embeddings.KindMock, embeddings.Config{MockDimension: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stub := &stubReflectionStore{}
	rs := reflection.New(stub, embedder)
	h := NewHandler(e, rs)

	rec := postJSON(t, h.handleStoreReflection, "/reflection", ReflectionRequest{Content: "prefer small PRs", Tags: []string{"workflow"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if len(stub.upserted) != 1 {
		t.Errorf("expected 1 upserted point, got %d", len(stub.upserted))
	}
}
