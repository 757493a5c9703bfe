// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package reflection

import (
	"context"
	"testing"
	"time"

	"github.com/northbound/reflect-index/internal/embeddings"
	"github.com/northbound/reflect-index/internal/vectorstore"
)

type fakeStore struct {
	ensured  []string
	upserted []vectorstore.Point
}

func (f *fakeStore) EnsureCollection(ctx context.Context, name string, dimension int) error {
	f.ensured = append(f.ensured, name)
	return nil
}

func (f *fakeStore) Upsert(ctx context.Context, collection string, dimension int, p vectorstore.Point) error {
	f.upserted = append(f.upserted, p)
	return nil
}

func newTestStore(t *testing.T) (*Store, *fakeStore) {
	t.Helper()
	embedder, err := embeddings.NewEmbedder(embeddings.KindMock, embeddings.Config{MockDimension: 8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fake := &fakeStore{}
	return New(fake, embedder), fake
}

func TestStore_EnsuresReflectionsCollectionAndUpserts(t *testing.T) {
	s, fake := newTestStore(t)

	err := s.Store(context.Background(), Reflection{
		Content: "prefer small PRs over large ones",
		Tags:    []string{"workflow"},
		Project: "foo-bar",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fake.ensured) != 1 || fake.ensured[0] != "reflections_local" {
		t.Errorf("expected reflections_local to be ensured, got %v", fake.ensured)
	}
	if len(fake.upserted) != 1 {
		t.Fatalf("expected 1 upserted point, got %d", len(fake.upserted))
	}
	p := fake.upserted[0]
	if p.Payload.Type != "reflection" || p.Payload.Role != "user_reflection" {
		t.Errorf("expected reflection type/role payload, got %+v", p.Payload)
	}
	if p.Payload.Project != "foo-bar" {
		t.Errorf("expected project to be carried through, got %q", p.Payload.Project)
	}
	if p.ID&(1<<63) != 0 {
		t.Errorf("expected point id to fit in 63 bits, got %d", p.ID)
	}
}

func TestStore_RejectsEmptyContent(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.Store(context.Background(), Reflection{}); err == nil {
		t.Fatal("expected error for empty content")
	}
}

func TestNextPointID_DistinctWithinSameNanosecond(t *testing.T) {
	now := time.Now()
	a := nextPointID(now)
	b := nextPointID(now)
	if a == b {
		t.Errorf("expected distinct ids for same timestamp, got %d twice", a)
	}
}
