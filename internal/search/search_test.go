// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package search

import (
	"context"
	"strings"
	"testing"
	"time"

	qdrant "github.com/qdrant/go-client/qdrant"

	"github.com/northbound/reflect-index/internal/chunker"
	"github.com/northbound/reflect-index/internal/embeddings"
	"github.com/northbound/reflect-index/internal/normalize"
	"github.com/northbound/reflect-index/internal/resolver"
	"github.com/northbound/reflect-index/internal/vectorstore"
)

var fooCollection = "conv_" + normalize.Hash("foo") + "_local"

type fakeVectorStore struct {
	names   []string
	matches map[string][]vectorstore.Match
}

func (f *fakeVectorStore) ListCollections(ctx context.Context) ([]string, error) {
	return f.names, nil
}

func (f *fakeVectorStore) Search(ctx context.Context, collection string, vector []float32, opts vectorstore.SearchOpts) ([]vectorstore.Match, error) {
	matches := f.matches[collection]
	if opts.Threshold != nil {
		var filtered []vectorstore.Match
		for _, m := range matches {
			if m.Score >= *opts.Threshold {
				filtered = append(filtered, m)
			}
		}
		matches = filtered
	}
	if opts.Limit > 0 && len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}
	return matches, nil
}

func newEngine(t *testing.T, store *fakeVectorStore) *Engine {
	t.Helper()
	r := resolver.New(&stubCollectionStore{names: store.names}, "")
	embedder, err := embeddings.NewEmbedder(embeddings.KindMock, embeddings.Config{MockDimension: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e := NewEngine(store, r, map[string]embeddings.Embedder{"local": embedder})
	e.DecayWeight = 0.3
	e.DecayScaleDays = 90
	return e
}

func TestReflect_NoDecayAppliesThresholdAndV2Boost(t *testing.T) {
	store := &fakeVectorStore{
		names: []string{fooCollection},
		matches: map[string][]vectorstore.Match{
			fooCollection: {
				{Score: 0.65, Payload: chunker.Chunk{Text: "edit config.py for auth", ChunkingVersion: "v2", ConversationID: "c1", Project: "foo"}},
				{Score: 0.5, Payload: chunker.Chunk{Text: "unrelated", ChunkingVersion: "v1", ConversationID: "c2", Project: "foo"}},
			},
		},
	}
	e := newEngine(t, store)

	out, _, err := e.Reflect(context.Background(), Options{
		Query: "edit config", Limit: 5, MinScore: 0.7, Project: "foo", ResponseFormat: "xml",
	}, "/home/alice/projects/foo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "<reflection>") {
		t.Errorf("expected XML envelope, got: %s", out)
	}
	// 0.65 * 1.2 = 0.78 clears min_score 0.7; the v1 hit (0.5) never does.
	if !strings.Contains(out, "edit config.py") {
		t.Errorf("expected boosted v2 hit to survive, got: %s", out)
	}
}

func TestReflect_ProjectScopeFilterDropsMismatch(t *testing.T) {
	store := &fakeVectorStore{
		names: []string{fooCollection},
		matches: map[string][]vectorstore.Match{
			fooCollection: {
				{Score: 0.95, Payload: chunker.Chunk{Text: "match", ChunkingVersion: "v2", Project: "foo"}},
				{Score: 0.95, Payload: chunker.Chunk{Text: "other project hit", ChunkingVersion: "v2", Project: "bar"}},
			},
		},
	}
	e := newEngine(t, store)

	out, _, err := e.Reflect(context.Background(), Options{
		Query: "match", Limit: 5, MinScore: 0.5, Project: "foo", ResponseFormat: "xml",
	}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out, "other project hit") {
		t.Errorf("expected mismatched project to be filtered out, got: %s", out)
	}
}

func TestApplyBaseConversationBoost_BoostsHighScoringGroup(t *testing.T) {
	hits := []result{
		{Score: 0.85, Chunk: chunker.Chunk{ConversationID: "c1"}},
		{Score: 0.9, Chunk: chunker.Chunk{ConversationID: "c1"}},
		{Score: 0.6, Chunk: chunker.Chunk{ConversationID: "c2"}},
	}
	e := &Engine{BaseConversationBoostThreshold: defaultBaseConversationBoostThreshold, BaseConversationBoostAmount: defaultBaseConversationBoostAmount}
	boosted := e.applyBaseConversationBoost(hits)
	if boosted[0].Score <= 0.85 || boosted[1].Score <= 0.9 {
		t.Errorf("expected group c1 to be boosted, got %+v", boosted)
	}
	if boosted[2].Score != 0.6 {
		t.Errorf("expected solo group c2 unchanged, got %v", boosted[2].Score)
	}
}

func TestInferProjectFromCwd(t *testing.T) {
	if got := inferProjectFromCwd("/home/alice/projects/my-app/src"); got != "my-app" {
		t.Errorf("got %q, want my-app", got)
	}
	if got := inferProjectFromCwd("/tmp"); got != "" {
		t.Errorf("expected empty inference, got %q", got)
	}
}

func TestRelativeTime(t *testing.T) {
	if got := relativeTime(time.Now()); got != "today" {
		t.Errorf("got %q, want today", got)
	}
	if got := relativeTime(time.Now().Add(-36 * time.Hour)); got != "yesterday" {
		t.Errorf("got %q, want yesterday", got)
	}
	if got := relativeTime(time.Now().Add(-5 * 24 * time.Hour)); got != "5d" {
		t.Errorf("got %q, want 5d", got)
	}
}

type stubCollectionStore struct {
	names []string
}

func (s *stubCollectionStore) ListCollections(ctx context.Context) ([]string, error) {
	return s.names, nil
}

func (s *stubCollectionStore) Scroll(ctx context.Context, collection string, limit uint32, offset *qdrant.PointId) ([]vectorstore.Match, *qdrant.PointId, error) {
	return nil, nil, nil
}
