// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch

// Package vectorstore generalizes the teacher's single-collection Qdrant
// wrapper into the multi-collection, per-project-per-backend service named
// in spec.md §4.F: one collection per (project, embedding backend), plus
// global reflections collections, all reachable through the same bounded,
// retrying request path.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/northbound/reflect-index/internal/chunker"
	"github.com/northbound/reflect-index/internal/retry"
)

// Point is one vector-store row: a 63-bit id derived from
// hash(conversation_id || "_" || chunk_index), its embedding, and the full
// chunk payload (spec.md §3).
type Point struct {
	ID      uint64
	Vector  []float32
	Payload chunker.Chunk
}

// Match is one scored search hit.
type Match struct {
	ID       uint64
	Score    float32
	Payload  chunker.Chunk
	Collection string
}

// ErrDimensionMismatch is returned when a point's vector width does not
// match its collection's configured dimension (spec.md §4.F, fatal —
// caller skips the point and does not mark the file imported).
var ErrDimensionMismatch = errors.New("vectorstore: vector dimension does not match collection")

const (
	existCacheSize    = 100
	existCacheTTL     = time.Hour
	defaultConcurrency = 3
	requestTimeout    = 10 * time.Second
	indexingThreshold = 100
)

type cacheEntry struct {
	ok        bool
	expiresAt time.Time
}

// Store is a multi-collection Qdrant client. All requests are funneled
// through a bounded semaphore and internal/retry's policy, matching the
// teacher's single wrapper but generalized to many collections sharing one
// gRPC connection.
type Store struct {
	collections qdrant.CollectionsClient
	points      qdrant.PointsClient
	sem         chan struct{}
	existCache  *lru.Cache[string, cacheEntry]
	timeout     time.Duration
	policy      retry.Policy
}

// Options carries the QDRANT_TIMEOUT/MAX_RETRIES/RETRY_DELAY/
// MAX_CONCURRENT_QDRANT settings from spec.md §6. Zero values fall back to
// the package defaults.
type Options struct {
	Concurrency int
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
}

// New constructs a Store over an existing gRPC connection using default
// concurrency, timeout and retry settings. See NewWithOptions to override
// them from configuration.
func New(conn *grpc.ClientConn, concurrency int) (*Store, error) {
	return NewWithOptions(conn, Options{Concurrency: concurrency})
}

// NewWithOptions constructs a Store over an existing gRPC connection,
// applying spec.md §6's QDRANT_TIMEOUT/MAX_RETRIES/RETRY_DELAY/
// MAX_CONCURRENT_QDRANT overrides. Zero fields in opts use the package
// defaults (3 concurrent requests, 10s timeout, internal/retry's
// DefaultPolicy).
func NewWithOptions(conn *grpc.ClientConn, opts Options) (*Store, error) {
	if conn == nil {
		return nil, errors.New("vectorstore: gRPC connection is required")
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = requestTimeout
	}
	policy := retry.DefaultPolicy()
	if opts.MaxRetries > 0 {
		policy.MaxAttempts = opts.MaxRetries
	}
	if opts.RetryDelay > 0 {
		policy.BaseDelay = opts.RetryDelay
	}
	cache, err := newExistCache()
	if err != nil {
		return nil, err
	}
	return &Store{
		collections: qdrant.NewCollectionsClient(conn),
		points:      qdrant.NewPointsClient(conn),
		sem:         make(chan struct{}, concurrency),
		existCache:  cache,
		timeout:     timeout,
		policy:      policy,
	}, nil
}

func newExistCache() (*lru.Cache[string, cacheEntry], error) {
	cache, err := lru.New[string, cacheEntry](existCacheSize)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: build existence cache: %w", err)
	}
	return cache, nil
}

func (s *Store) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) release() { <-s.sem }

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// EnsureCollection creates the named collection with the given vector
// dimension if it does not already exist. Existence is TTL-cached (default
// 1h, LRU-bounded to 100 names) so steady-state ingestion does not repeat
// the List/Get round trip on every upsert; "already exists" races against
// a concurrent creator are treated as success.
func (s *Store) EnsureCollection(ctx context.Context, name string, dimension int) error {
	if entry, ok := s.existCache.Get(name); ok && time.Now().Before(entry.expiresAt) {
		return nil
	}

	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	_, err := retry.Do(ctx, s.policy, func(ctx context.Context) (struct{}, error) {
		rctx, cancel := s.withTimeout(ctx)
		defer cancel()
		return struct{}{}, s.ensureCollectionOnce(rctx, name, dimension)
	})
	if err != nil {
		return err
	}

	s.existCache.Add(name, cacheEntry{ok: true, expiresAt: time.Now().Add(existCacheTTL)})
	return nil
}

func (s *Store) ensureCollectionOnce(ctx context.Context, name string, dimension int) error {
	info, err := s.collections.Get(ctx, &qdrant.GetCollectionInfoRequest{CollectionName: name})
	if err == nil && info.Result != nil {
		return nil
	}
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("vectorstore: get collection %s: %w", name, err)
	}

	threshold := uint64(indexingThreshold)
	_, err = s.collections.Create(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     uint64(dimension),
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
		OptimizersConfig: &qdrant.OptimizersConfigDiff{
			IndexingThreshold: &threshold,
		},
	})
	if err != nil && isAlreadyExists(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("vectorstore: create collection %s: %w", name, err)
	}
	log.Printf("vectorstore: created collection %s (dim=%d)", name, dimension)
	return nil
}

// Upsert writes one point into the named collection, waiting for the write
// to be durably indexed before returning. A vector whose length disagrees
// with the collection's tracked dimension is rejected as
// ErrDimensionMismatch without contacting the server (spec.md §6
// scenario S6): the caller is expected to skip the point, log, and
// continue rather than abort the file.
func (s *Store) Upsert(ctx context.Context, collection string, dimension int, p Point) error {
	if len(p.Vector) != dimension {
		return retry.Permanent(fmt.Errorf("%w: point has %d dims, collection %s expects %d",
			ErrDimensionMismatch, len(p.Vector), collection, dimension))
	}

	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	payload, err := toQdrantPayload(p.Payload)
	if err != nil {
		return retry.Permanent(fmt.Errorf("vectorstore: encode payload: %w", err))
	}

	wait := true
	_, err = retry.Do(ctx, s.policy, func(ctx context.Context) (struct{}, error) {
		rctx, cancel := s.withTimeout(ctx)
		defer cancel()
		_, err := s.points.Upsert(rctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Wait:           &wait,
			Points: []*qdrant.PointStruct{{
				Id:      &qdrant.PointId{PointIdOptions: &qdrant.PointId_Num{Num: p.ID}},
				Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: p.Vector}}},
				Payload: payload,
			}},
		})
		return struct{}{}, err
	})
	return err
}

// SearchOpts carries the optional server-side ranking formula used for
// native decay (spec.md §4.L); a nil Formula performs an ordinary vector
// search.
type SearchOpts struct {
	Limit     int
	Threshold *float32
	Formula   *qdrant.Formula
}

// Search runs a similarity query against one collection.
func (s *Store) Search(ctx context.Context, collection string, vector []float32, opts SearchOpts) ([]Match, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	limit := uint64(opts.Limit)
	if limit == 0 {
		limit = 10
	}

	matches, err := retry.Do(ctx, s.policy, func(ctx context.Context) ([]Match, error) {
		rctx, cancel := s.withTimeout(ctx)
		defer cancel()

		if opts.Formula != nil {
			return s.searchWithFormula(rctx, collection, vector, limit, opts.Formula)
		}
		return s.searchPlain(rctx, collection, vector, limit, opts.Threshold)
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

func (s *Store) searchPlain(ctx context.Context, collection string, vector []float32, limit uint64, threshold *float32) ([]Match, error) {
	result, err := s.points.Search(ctx, &qdrant.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          limit,
		ScoreThreshold: threshold,
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &qdrant.WithVectorsSelector{SelectorOptions: &qdrant.WithVectorsSelector_Enable{Enable: false}},
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search %s: %w", collection, err)
	}
	return toMatches(result.Result, collection)
}

// searchWithFormula issues a Query request carrying a ranking formula
// (spec.md §4.L's server-side exp_decay combinator). go-client v1.12
// exposes this via the universal Query RPC rather than the legacy
// SearchPoints call.
// formula embeds the nearest-vector lookup as the formula's own base
// expression, so the server ranks by the caller-supplied
// score + decay_weight*exp_decay(...) combinator instead of raw cosine
// similarity (spec.md §4.L's native-decay mode).
func (s *Store) searchWithFormula(ctx context.Context, collection string, vector []float32, limit uint64, formula *qdrant.Formula) ([]Match, error) {
	formula.Nearest = &qdrant.VectorInput{
		Variant: &qdrant.VectorInput_Dense{Dense: &qdrant.DenseVector{Data: vector}},
	}
	result, err := s.points.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query: &qdrant.Query{
			Variant: &qdrant.Query_Formula{Formula: formula},
		},
		Limit:       &limit,
		WithPayload: &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: formula query %s: %w", collection, err)
	}
	return toMatches(result.Result, collection)
}

// Scroll pages through every point in a collection without scoring,
// used by the resolver's payload-probe strategy and admin tooling.
func (s *Store) Scroll(ctx context.Context, collection string, limit uint32, offset *qdrant.PointId) ([]Match, *qdrant.PointId, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, nil, err
	}
	defer s.release()

	type scrollResult struct {
		matches []Match
		next    *qdrant.PointId
	}

	res, err := retry.Do(ctx, s.policy, func(ctx context.Context) (scrollResult, error) {
		rctx, cancel := s.withTimeout(ctx)
		defer cancel()
		resp, err := s.points.Scroll(rctx, &qdrant.ScrollPoints{
			CollectionName: collection,
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
		})
		if err != nil {
			return scrollResult{}, fmt.Errorf("vectorstore: scroll %s: %w", collection, err)
		}
		matches, err := toMatches(pointsToScored(resp.Result), collection)
		if err != nil {
			return scrollResult{}, err
		}
		return scrollResult{matches: matches, next: resp.NextPageOffset}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return res.matches, res.next, nil
}

// ListCollections returns every collection name known to the server,
// used by the resolver's hash-matching and payload-probe strategies
// (spec.md §4.K).
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	return retry.Do(ctx, s.policy, func(ctx context.Context) ([]string, error) {
		rctx, cancel := s.withTimeout(ctx)
		defer cancel()
		resp, err := s.collections.List(rctx, &qdrant.ListCollectionsRequest{})
		if err != nil {
			return nil, fmt.Errorf("vectorstore: list collections: %w", err)
		}
		names := make([]string, len(resp.Collections))
		for i, c := range resp.Collections {
			names[i] = c.Name
		}
		return names, nil
	})
}

// Count returns the number of points in a collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	defer s.release()

	return retry.Do(ctx, s.policy, func(ctx context.Context) (int, error) {
		rctx, cancel := s.withTimeout(ctx)
		defer cancel()
		info, err := s.collections.Get(rctx, &qdrant.GetCollectionInfoRequest{CollectionName: collection})
		if err != nil {
			return 0, fmt.Errorf("vectorstore: count %s: %w", collection, err)
		}
		if info.Result == nil || info.Result.PointsCount == nil {
			return 0, nil
		}
		return int(*info.Result.PointsCount), nil
	})
}

// Delete removes points by id from a collection.
func (s *Store) Delete(ctx context.Context, collection string, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = &qdrant.PointId{PointIdOptions: &qdrant.PointId_Num{Num: id}}
	}

	_, err := retry.Do(ctx, s.policy, func(ctx context.Context) (struct{}, error) {
		rctx, cancel := s.withTimeout(ctx)
		defer cancel()
		_, err := s.points.Delete(rctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points: &qdrant.PointsSelector{PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: pointIDs},
			}},
		})
		return struct{}{}, err
	})
	return err
}

func isAlreadyExists(err error) bool {
	return err != nil && (contains(err.Error(), "already exists") || contains(err.Error(), "AlreadyExists"))
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}

func pointsToScored(points []*qdrant.RetrievedPoint) []*qdrant.ScoredPoint {
	scored := make([]*qdrant.ScoredPoint, len(points))
	for i, p := range points {
		scored[i] = &qdrant.ScoredPoint{Id: p.Id, Payload: p.Payload}
	}
	return scored
}
