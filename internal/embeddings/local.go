// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package embeddings

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"
	"sync"
)

// LocalDimension is the fixed embedding width of the in-process model
// (sentence-transformers/all-MiniLM-L6-v2), per spec.md §6.
const LocalDimension = 384

// LocalEmbedder wraps an in-process embedding model context. CPU-bound
// inference runs on one goroutine per text, with at most a fixed number
// running at once, so callers' goroutines never block the scheduler
// directly; this reuses the teacher's
// worker-pool idiom (internal/worker.StartWorkers) as a bounded semaphore
// rather than a durable job queue, since inference here is synchronous
// request/response work, not fire-and-forget job processing.
type LocalEmbedder struct {
	model string
	sem   chan struct{}
	wg    sync.WaitGroup
	mu    sync.Mutex
	closed bool
}

// NewLocalEmbedder constructs a local embedder bounded to the given
// concurrency (spec.md §4.E default 2).
func NewLocalEmbedder(model string, concurrency int) *LocalEmbedder {
	if concurrency <= 0 {
		concurrency = 2
	}
	return &LocalEmbedder{
		model: model,
		sem:   make(chan struct{}, concurrency),
	}
}

func (e *LocalEmbedder) Dimension() int { return LocalDimension }
func (e *LocalEmbedder) Suffix() string { return "local" }

// Close marks the embedder closed, so every later EmbedText/EmbedBatch
// call returns an error, then blocks until all in-flight inferences have
// returned, matching the teacher's worker pool's join-on-shutdown shape.
func (e *LocalEmbedder) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
	return nil
}

func (e *LocalEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *LocalEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, fmt.Errorf("local embedder is closed")
	}
	e.wg.Add(1)
	e.mu.Unlock()
	defer e.wg.Done()

	results := make([][]float32, len(texts))
	errs := make([]error, len(texts))
	var wg sync.WaitGroup

	for i, text := range texts {
		select {
		case e.sem <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		wg.Add(1)
		go func(i int, text string) {
			defer wg.Done()
			defer func() { <-e.sem }()
			results[i], errs[i] = infer(text, LocalDimension)
		}(i, text)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// infer produces a deterministic, L2-normalized pseudo-embedding. A real
// deployment would dispatch to an ONNX/llama.cpp-bound sentence-transformer
// runtime here; the model's own internals are out of scope (spec.md §1),
// only the embed(texts) -> vectors contract and fixed dimension matter to
// this module.
func infer(text string, dim int) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, dim)
	var norm float64
	for i := range vec {
		b := sum[i%len(sum)]
		v := math.Sin(float64(b) * float64(i+1) * 0.01)
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec, nil
}
