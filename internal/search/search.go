// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch

// Package search implements reflect_on_past (spec.md §4.L): a
// multi-collection query fan-out over the vector store with per-backend
// embedding, server-side or client-side time decay, v2-chunk boosting,
// base-conversation boosting, and XML/Markdown result rendering.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/northbound/reflect-index/internal/chunker"
	"github.com/northbound/reflect-index/internal/embeddings"
	"github.com/northbound/reflect-index/internal/normalize"
	"github.com/northbound/reflect-index/internal/resolver"
	"github.com/northbound/reflect-index/internal/vectorstore"
)

// VectorStore narrows *vectorstore.Store to the surface the search engine
// needs, the same pattern used by internal/watcher and internal/resolver
// to keep engine tests free of a live gRPC dependency.
type VectorStore interface {
	ListCollections(ctx context.Context) ([]string, error)
	Search(ctx context.Context, collection string, vector []float32, opts vectorstore.SearchOpts) ([]vectorstore.Match, error)
}

// DecayMode selects how a search adjusts for chunk age, matching
// reflect_on_past's use_decay ∈ {-1, 0, 1} parameter.
type DecayMode int

const (
	// DecayAuto defers to the Engine's configured default (native formula
	// when the backend supports it, otherwise client-side).
	DecayAuto DecayMode = iota - 1
	// DecayOff disables decay entirely (spec.md §4.L "no decay" mode).
	DecayOff
	// DecayOn forces decay, native or client-side per Engine.UseNativeDecay.
	DecayOn
)

// Options mirrors reflect_on_past's parameters.
type Options struct {
	Query          string
	Limit          int
	MinScore       float32
	UseDecay       DecayMode
	Project        string // "" = infer from cwd, "all" = scan every collection, else a project name
	IncludeRaw     bool
	ResponseFormat string // "xml" or "markdown"
	Brief          bool
}

// Timing records the duration of each phase named in spec.md §4.L's final
// paragraph.
type Timing struct {
	ParseParams    time.Duration
	ResolveScope   time.Duration
	Embed          time.Duration
	CollectionScan time.Duration
	Boost          time.Duration
	Sort           time.Duration
	Render         time.Duration
}

// totalMs sums every phase, for reporting a single wall-clock figure
// alongside the per-phase breakdown rendered into <meta>.
func (t Timing) totalMs() int64 {
	total := t.ParseParams + t.ResolveScope + t.Embed + t.CollectionScan + t.Boost + t.Sort + t.Render
	return total.Milliseconds()
}

// Engine answers reflect_on_past queries.
type Engine struct {
	store     VectorStore
	resolver  *resolver.Resolver
	embedders map[string]embeddings.Embedder // keyed by backend suffix ("local", "voyage")

	DecayWeight    float64
	DecayScaleDays float64
	UseNativeDecay bool
	EnableDecay    bool

	// BaseConversationBoostThreshold/Amount are step 5's policy constants
	// (spec.md §9 Open Question (c)): a group of hits sharing a
	// conversation whose mean score clears the threshold each get boosted
	// by Amount. Exposed as fields rather than hardcoded so callers can
	// tune them.
	BaseConversationBoostThreshold float32
	BaseConversationBoostAmount    float32
}

const (
	defaultBaseConversationBoostThreshold = 0.8
	defaultBaseConversationBoostAmount    = 0.1
)

// NewEngine constructs a search Engine. embedders must be keyed by the
// collection-naming suffix each backend produces (embeddings.Embedder's
// Suffix()).
func NewEngine(store VectorStore, r *resolver.Resolver, embedders map[string]embeddings.Embedder) *Engine {
	return &Engine{
		store:                          store,
		resolver:                       r,
		embedders:                      embedders,
		BaseConversationBoostThreshold: defaultBaseConversationBoostThreshold,
		BaseConversationBoostAmount:    defaultBaseConversationBoostAmount,
	}
}

// result is an internal scored hit before rendering.
type result struct {
	Score      float32
	Collection string
	Chunk      chunker.Chunk
}

// Reflect runs the full reflect_on_past algorithm and renders the result.
func (e *Engine) Reflect(ctx context.Context, opts Options, cwd string) (string, Timing, error) {
	var timing Timing

	t0 := time.Now()
	if opts.Limit <= 0 {
		opts.Limit = 5
	}
	if opts.MinScore <= 0 {
		opts.MinScore = 0.7
	}
	if opts.ResponseFormat == "" {
		opts.ResponseFormat = "xml"
	}
	timing.ParseParams = time.Since(t0)

	t0 = time.Now()
	collections, scopeProject, err := e.resolveScope(ctx, opts.Project, cwd)
	if err != nil {
		return "", timing, err
	}
	timing.ResolveScope = time.Since(t0)

	queryVectors := map[string][]float32{}

	t0 = time.Now()
	var all []result
	for _, collection := range collections {
		suffix := backendSuffix(collection)
		vec, ok := queryVectors[suffix]
		if !ok {
			embedder, ok := e.embedders[suffix]
			if !ok {
				continue
			}
			embedStart := time.Now()
			vec, err = embedder.EmbedText(ctx, opts.Query)
			timing.Embed += time.Since(embedStart)
			if err != nil {
				return "", timing, fmt.Errorf("search: embed query for backend %s: %w", suffix, err)
			}
			queryVectors[suffix] = vec
		}

		hits, err := e.searchCollection(ctx, collection, vec, opts)
		if err != nil {
			return "", timing, fmt.Errorf("search: collection %s: %w", collection, err)
		}
		hits = filterByProject(hits, collection, scopeProject)
		all = append(all, hits...)
	}
	timing.CollectionScan = time.Since(t0)

	t0 = time.Now()
	all = e.applyBaseConversationBoost(all)
	timing.Boost = time.Since(t0)

	t0 = time.Now()
	sort.Slice(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	if len(all) > opts.Limit {
		all = all[:opts.Limit]
	}
	timing.Sort = time.Since(t0)

	t0 = time.Now()
	rendered := render(all, opts, scopeProject, timing)
	timing.Render = time.Since(t0)

	return rendered, timing, nil
}

// resolveScope implements step 1: project -> collections.
func (e *Engine) resolveScope(ctx context.Context, project, cwd string) ([]string, string, error) {
	switch {
	case project == "":
		inferred := inferProjectFromCwd(cwd)
		if inferred == "" {
			return e.allConversationCollections(ctx)
		}
		cols, err := e.resolver.FindCollections(ctx, inferred)
		return cols, inferred, err
	case project == "all":
		cols, err := e.allConversationCollections(ctx)
		return cols, "", err
	default:
		cols, err := e.resolver.FindCollections(ctx, project)
		return cols, project, err
	}
}

func (e *Engine) allConversationCollections(ctx context.Context) ([]string, string, error) {
	names, err := e.store.ListCollections(ctx)
	if err != nil {
		return nil, "", err
	}
	var cols []string
	for _, n := range names {
		if strings.HasPrefix(n, "conv_") || strings.HasPrefix(n, "reflections_") {
			cols = append(cols, n)
		}
	}
	return cols, "", nil
}

// inferProjectFromCwd extracts a project name from a "projects/<name>"
// style cwd path, per spec.md §4.L step 1.
func inferProjectFromCwd(cwd string) string {
	parts := strings.Split(filepathToSlash(cwd), "/")
	for i, p := range parts {
		if strings.ToLower(p) == "projects" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

func backendSuffix(collection string) string {
	idx := strings.LastIndex(collection, "_")
	if idx < 0 {
		return collection
	}
	return collection[idx+1:]
}

// searchCollection implements step 3's three query modes.
func (e *Engine) searchCollection(ctx context.Context, collection string, vec []float32, opts Options) ([]result, error) {
	useDecay := e.EnableDecay
	switch opts.UseDecay {
	case DecayOn:
		useDecay = true
	case DecayOff:
		useDecay = false
	}

	if useDecay && e.UseNativeDecay {
		return e.searchNativeDecay(ctx, collection, vec, opts)
	}
	if useDecay {
		return e.searchClientDecay(ctx, collection, vec, opts)
	}
	return e.searchNoDecay(ctx, collection, vec, opts)
}

func (e *Engine) searchNativeDecay(ctx context.Context, collection string, vec []float32, opts Options) ([]result, error) {
	formula := nativeDecayFormula(e.DecayWeight, e.DecayScaleDays)
	matches, err := e.store.Search(ctx, collection, vec, vectorstore.SearchOpts{
		Limit:   opts.Limit,
		Formula: formula,
	})
	if err != nil {
		return nil, err
	}
	return toResults(matches, collection), nil
}

func (e *Engine) searchClientDecay(ctx context.Context, collection string, vec []float32, opts Options) ([]result, error) {
	matches, err := e.store.Search(ctx, collection, vec, vectorstore.SearchOpts{Limit: opts.Limit * 3})
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var out []result
	for _, m := range matches {
		adjusted := clientSideDecay(m.Score, m.Payload.Timestamp, now, e.DecayWeight, e.DecayScaleDays)
		if adjusted < opts.MinScore {
			continue
		}
		out = append(out, result{Score: adjusted, Collection: collection, Chunk: m.Payload})
	}
	return out, nil
}

func (e *Engine) searchNoDecay(ctx context.Context, collection string, vec []float32, opts Options) ([]result, error) {
	threshold := float32(0.9) * opts.MinScore
	matches, err := e.store.Search(ctx, collection, vec, vectorstore.SearchOpts{
		Limit:     opts.Limit * 2,
		Threshold: &threshold,
	})
	if err != nil {
		return nil, err
	}
	var out []result
	for _, m := range matches {
		score := v2Boost(m.Score, m.Payload)
		if score < opts.MinScore {
			continue
		}
		out = append(out, result{Score: score, Collection: collection, Chunk: m.Payload})
	}
	return out, nil
}

func toResults(matches []vectorstore.Match, collection string) []result {
	out := make([]result, len(matches))
	for i, m := range matches {
		out[i] = result{Score: m.Score, Collection: collection, Chunk: m.Payload}
	}
	return out
}

// filterByProject implements step 4: drop payload-project mismatches,
// except for reflections collections whose reflection carries no project
// (those stay global).
func filterByProject(hits []result, collection, scopeProject string) []result {
	if scopeProject == "" {
		return hits
	}
	isReflections := strings.HasPrefix(collection, "reflections_")
	var out []result
	for _, h := range hits {
		if isReflections && h.Chunk.Project == "" {
			out = append(out, h)
			continue
		}
		if projectMatches(h.Chunk.Project, scopeProject) {
			out = append(out, h)
		}
	}
	return out
}

func projectMatches(payloadProject, target string) bool {
	if payloadProject == "" {
		return false
	}
	for _, v := range normalize.PathVariants(payloadProject) {
		for _, tv := range normalize.PathVariants(target) {
			if v == tv {
				return true
			}
		}
	}
	return false
}

// applyBaseConversationBoost implements step 5. Each transcript file is one
// conversation in this codebase's domain (no sub-session splitting is
// modeled), so the grouping key is the chunk's ConversationID rather than
// a separate base_conversation_id field.
func (e *Engine) applyBaseConversationBoost(hits []result) []result {
	threshold := e.BaseConversationBoostThreshold
	amount := e.BaseConversationBoostAmount
	if threshold == 0 && amount == 0 {
		threshold = defaultBaseConversationBoostThreshold
		amount = defaultBaseConversationBoostAmount
	}

	groups := map[string][]int{}
	for i, h := range hits {
		groups[h.Chunk.ConversationID] = append(groups[h.Chunk.ConversationID], i)
	}
	for _, idxs := range groups {
		if len(idxs) <= 1 {
			continue
		}
		var sum float32
		for _, i := range idxs {
			sum += hits[i].Score
		}
		mean := sum / float32(len(idxs))
		if mean > threshold {
			for _, i := range idxs {
				hits[i].Score += amount
			}
		}
	}
	return hits
}
