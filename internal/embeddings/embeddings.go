// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch

// Package embeddings provides a uniform embed(texts) -> vectors contract
// over a local in-process model and a remote HTTP model, per spec.md §4.E.
package embeddings

import (
	"context"
	"fmt"
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	// EmbedText generates an embedding vector for the given text.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts (more efficient).
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the dimension of the embedding vectors.
	Dimension() int

	// Suffix names the collection-naming suffix for this backend ("local"
	// or "voyage"), per spec.md §4.E.
	Suffix() string

	// Close joins any worker pool the embedder owns.
	Close() error
}

// Kind. PREFER_LOCAL_EMBEDDINGS (default true) selects local unless a
// Voyage API key is configured and local is not explicitly preferred.
type Kind string

const (
	KindLocal Kind = "local"
	KindVoyage Kind = "voyage"
	KindMock  Kind = "mock"
)

// Config carries the settings NewEmbedder needs for any backend; unused
// fields for a given Kind are ignored.
type Config struct {
	Model               string
	LocalConcurrency    int
	VoyageAPIKey        string
	VoyageDocumentModel string
	VoyageQueryModel    string
	MockDimension       int
}

// NewEmbedder creates an embedder for the given backend kind.
func NewEmbedder(kind Kind, cfg Config) (Embedder, error) {
	switch kind {
	case KindLocal:
		model := cfg.Model
		if model == "" {
			model = "sentence-transformers/all-MiniLM-L6-v2"
		}
		concurrency := cfg.LocalConcurrency
		if concurrency <= 0 {
			concurrency = 2
		}
		return NewLocalEmbedder(model, concurrency), nil
	case KindVoyage:
		if cfg.VoyageAPIKey == "" {
			return nil, fmt.Errorf("voyage api key is required")
		}
		return NewVoyageEmbedder(cfg.VoyageAPIKey, cfg.VoyageDocumentModel, cfg.VoyageQueryModel), nil
	case KindMock:
		dim := cfg.MockDimension
		if dim <= 0 {
			dim = 384
		}
		return NewMockEmbedder(dim), nil
	default:
		return nil, fmt.Errorf("unknown embedder kind: %s", kind)
	}
}
