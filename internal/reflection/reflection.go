// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch

// Package reflection implements store_reflection (spec.md §4.M): writing a
// user-authored note into the reflections collection for the active
// embedding backend, so it surfaces alongside conversation chunks in later
// reflect_on_past searches.
package reflection

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/northbound/reflect-index/internal/chunker"
	"github.com/northbound/reflect-index/internal/embeddings"
	"github.com/northbound/reflect-index/internal/normalize"
	"github.com/northbound/reflect-index/internal/vectorstore"
)

// VectorStore narrows *vectorstore.Store to the surface Store needs,
// matching the consumer-side interface pattern used throughout this
// codebase (internal/watcher, internal/resolver, internal/search).
type VectorStore interface {
	EnsureCollection(ctx context.Context, name string, dimension int) error
	Upsert(ctx context.Context, collection string, dimension int, p vectorstore.Point) error
}

// Store writes reflections against one active embedding backend.
type Store struct {
	store    VectorStore
	embedder embeddings.Embedder
}

// New constructs a reflection Store over the given vector store and active
// embedding backend. A reflection is always written with whichever backend
// is currently active (spec.md §4.M); there is no per-call backend choice.
func New(store VectorStore, embedder embeddings.Embedder) *Store {
	return &Store{store: store, embedder: embedder}
}

// Reflection is one user-authored note.
type Reflection struct {
	Content     string
	Tags        []string
	Project     string
	ProjectPath string
}

// pointIDCounter guarantees distinct ids for reflections stored within the
// same process in the same nanosecond, which a bare epoch timestamp cannot.
// It is advanced atomically because reflections may be stored from
// concurrent requests.
var pointIDCounter uint64

// nextPointID derives a 63-bit id from the current epoch nanoseconds, per
// spec.md §4.M. A per-process counter is XORed into the low bits so two
// reflections stored in the same nanosecond still land on distinct ids;
// because of the XOR, ids do not necessarily increase from one call to
// the next.
func nextPointID(now time.Time) uint64 {
	n := atomic.AddUint64(&pointIDCounter, 1)
	raw := uint64(now.UnixNano()) ^ n
	return raw &^ (1 << 63)
}

// Store embeds and upserts one reflection into reflections<suffix>,
// creating the collection on first use.
func (s *Store) Store(ctx context.Context, r Reflection) error {
	if r.Content == "" {
		return fmt.Errorf("reflection: content is required")
	}

	vector, err := s.embedder.EmbedText(ctx, r.Content)
	if err != nil {
		return fmt.Errorf("reflection: embed: %w", err)
	}

	collection := normalize.ReflectionsCollectionName(s.embedder.Suffix())
	dimension := s.embedder.Dimension()
	if err := s.store.EnsureCollection(ctx, collection, dimension); err != nil {
		return fmt.Errorf("reflection: ensure collection: %w", err)
	}

	now := time.Now()
	chunk := chunker.Chunk{
		Text:      r.Content,
		Timestamp: now,
		Project:   r.Project,
	}
	chunk.Tags = r.Tags
	chunk.Type = "reflection"
	chunk.Role = "user_reflection"
	chunk.ProjectPath = r.ProjectPath

	point := vectorstore.Point{
		ID:      nextPointID(now),
		Vector:  vector,
		Payload: chunk,
	}
	if err := s.store.Upsert(ctx, collection, dimension, point); err != nil {
		return fmt.Errorf("reflection: upsert: %w", err)
	}
	return nil
}
