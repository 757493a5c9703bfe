// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch

// Package resolver maps a user-provided project string to the set of
// collection names that belong to it, per spec.md §4.K. Directly grounded
// on original_source/mcp-server/src/project_resolver.py's six-strategy
// cascade, rewritten as typed Go rather than a line-for-line port.
package resolver

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	qdrant "github.com/qdrant/go-client/qdrant"

	"github.com/northbound/reflect-index/internal/normalize"
	"github.com/northbound/reflect-index/internal/vectorstore"
)

const (
	cacheTTL             = 5 * time.Minute
	cacheSize            = 256
	collectionsCacheSize = 1
	payloadProbeThreshold = 200
	payloadProbeMax       = 10
)

// CollectionStore is the subset of *vectorstore.Store the resolver needs.
type CollectionStore interface {
	ListCollections(ctx context.Context) ([]string, error)
	Scroll(ctx context.Context, collection string, limit uint32, offset *qdrant.PointId) ([]vectorstore.Match, *qdrant.PointId, error)
}

// projectMarkers are the directory names that precede a project name in a
// dash-encoded transcript path, mirroring normalize.ProjectName's table
// plus the resolver's own filesystem-heuristic strategy.
var projectMarkers = map[string]bool{
	"projects": true, "code": true, "repos": true, "repositories": true,
	"dev": true, "development": true, "work": true, "src": true,
	"github": true, "gitlab": true,
}

var hashLikeSegment = regexp.MustCompile(`^[a-f0-9]{32,40}$`)

// Resolver resolves user-facing project strings to collection names.
type Resolver struct {
	store   CollectionStore
	logsDir string

	projectCache    *expirable.LRU[string, []string]
	collectionCache *expirable.LRU[string, []string]
}

// New constructs a Resolver. logsDir is the transcript root used by the
// filesystem-heuristic strategy (spec.md §4.K strategy 4); pass "" to skip
// it.
func New(store CollectionStore, logsDir string) *Resolver {
	return &Resolver{
		store:           store,
		logsDir:         logsDir,
		projectCache:    expirable.NewLRU[string, []string](cacheSize, nil, cacheTTL),
		collectionCache: expirable.NewLRU[string, []string](collectionsCacheSize, nil, cacheTTL),
	}
}

// FindCollections resolves userProject to every collection that belongs to
// it, always including the global reflections collections when the
// request names a specific project. Strategies are tried in order and
// their results unioned until a non-empty result is found.
func (r *Resolver) FindCollections(ctx context.Context, userProject string) ([]string, error) {
	if cached, ok := r.projectCache.Get(userProject); ok {
		return withReflections(cached), nil
	}

	names, err := r.collectionNames(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return withReflections(nil), nil
	}

	var matches []string

	// 1. Direct hash.
	matches = matchByHash(names, userProject)

	// 2. Normalized hash.
	if len(matches) == 0 {
		if normalized := normalize.ProjectName(userProject); normalized != userProject {
			matches = matchByHash(names, normalized)
		}
	}

	// 3. Case-insensitive normalized hash.
	if len(matches) == 0 {
		lower := strings.ToLower(normalize.ProjectName(userProject))
		matches = matchByHash(names, lower)
	}

	// 4. Filesystem heuristic: a known transcripts root directory whose
	// name ends with or contains "-<user_project>-".
	if len(matches) == 0 && r.logsDir != "" {
		matches = r.matchByFilesystemHeuristic(names, userProject)
	}

	// 5. Segment candidates from a dash-encoded or regular path.
	if len(matches) == 0 {
		segments := extractSegments(userProject)
		for _, candidate := range generateCandidates(segments) {
			if m := matchByHash(names, candidate); len(m) > 0 {
				matches = m
				break
			}
		}
	}

	// 6. Payload probe, last resort, only below the collection-count
	// threshold.
	if len(matches) == 0 && len(names) < payloadProbeThreshold {
		m, err := r.matchByPayloadProbe(ctx, names, userProject)
		if err != nil {
			return nil, err
		}
		matches = m
	}

	r.projectCache.Add(userProject, matches)
	return withReflections(matches), nil
}

func (r *Resolver) collectionNames(ctx context.Context) ([]string, error) {
	if cached, ok := r.collectionCache.Get("all"); ok {
		return cached, nil
	}
	names, err := r.store.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	var conv []string
	for _, n := range names {
		if strings.HasPrefix(n, "conv_") {
			conv = append(conv, n)
		}
	}
	r.collectionCache.Add("all", conv)
	return conv, nil
}

// withReflections appends the global reflections collections (one per
// embedding backend) to a project-specific result set, deduplicated.
func withReflections(collections []string) []string {
	seen := make(map[string]bool, len(collections)+2)
	out := make([]string, 0, len(collections)+2)
	for _, c := range collections {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	for _, suffix := range []string{"local", "voyage"} {
		name := normalize.ReflectionsCollectionName(suffix)
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// matchByHash hashes candidate with both the current MD5[:8] scheme and
// the legacy SHA-256[:16] scheme, matching collection names that carry
// either hash as an exact underscore-delimited segment (never a bare
// substring, which would also match an unrelated longer hash).
func matchByHash(names []string, candidate string) []string {
	md5Hash := hex.EncodeToString(md5Sum(candidate))[:8]
	sha256Hash := hex.EncodeToString(sha256Sum(candidate))[:16]

	var out []string
	for _, n := range names {
		if hasHashSegment(n, md5Hash) || hasHashSegment(n, sha256Hash) {
			out = append(out, n)
		}
	}
	return out
}

func hasHashSegment(collection, hash string) bool {
	return strings.Contains(collection, "_"+hash+"_") || strings.HasSuffix(collection, "_"+hash)
}

func md5Sum(s string) []byte {
	sum := md5.Sum([]byte(s))
	return sum[:]
}

func sha256Sum(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

// matchByFilesystemHeuristic looks for a logsDir entry whose name encodes
// userProject as its tail segment, then hashes that directory name.
func (r *Resolver) matchByFilesystemHeuristic(names []string, userProject string) []string {
	if strings.HasPrefix(userProject, "-") {
		return nil
	}
	root, err := expandHome(r.logsDir)
	if err != nil {
		return nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dirName := e.Name()
		if dirName == userProject ||
			strings.HasSuffix(dirName, "-"+userProject) ||
			strings.Contains(dirName, "-"+userProject+"-") {
			if m := matchByHash(names, dirName); len(m) > 0 {
				return m
			}
		}
	}
	return nil
}

// extractSegments pulls meaningful path segments out of a dash-encoded or
// regular path, filtering hash-like and too-short tokens.
func extractSegments(path string) []string {
	var raw []string
	if strings.HasPrefix(path, "-") {
		parts := strings.Split(strings.TrimPrefix(path, "-"), "-")
		markerIdx := -1
		for i, p := range parts {
			if projectMarkers[strings.ToLower(p)] {
				markerIdx = i
				break
			}
		}
		if markerIdx >= 0 {
			raw = parts[markerIdx+1:]
		} else if len(parts) > 3 {
			raw = parts[len(parts)-3:]
		} else {
			raw = parts
		}
	} else {
		cleaned := filepath.ToSlash(path)
		parts := strings.Split(cleaned, "/")
		markerIdx := -1
		for i, p := range parts {
			if projectMarkers[strings.ToLower(p)] {
				markerIdx = i
				break
			}
		}
		var candidateParts []string
		if markerIdx >= 0 {
			candidateParts = parts[markerIdx+1:]
		} else if base := parts[len(parts)-1]; base != "" {
			candidateParts = []string{base}
		}
		for _, part := range candidateParts {
			for _, sub := range strings.FieldsFunc(part, func(r rune) bool { return r == '-' || r == '_' }) {
				raw = append(raw, sub)
			}
		}
	}

	var out []string
	for _, s := range raw {
		if shouldFilterSegment(s) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func shouldFilterSegment(s string) bool {
	if len(s) < 2 {
		return s != "a" && s != "x"
	}
	return hashLikeSegment.MatchString(s) || s == "." || s == ".."
}

// segmentScore ranks segments by position (earlier after the marker is
// more likely), length, case, and project-like-ness, mirroring
// project_resolver.py's _score_segments.
func segmentScore(segment string, index int) float64 {
	score := 1.0
	if w := 1.0 - float64(index)*0.1; w > 0.3 {
		score *= w
	} else {
		score *= 0.3
	}
	switch {
	case len(segment) < 3:
		score *= 0.5
	case len(segment) > 20:
		score *= 0.7
	}
	if segment == strings.ToUpper(segment) {
		score *= 0.8
	}
	lower := strings.ToLower(segment)
	for _, ind := range []string{"app", "project", "service", "client", "server", "api"} {
		if strings.Contains(lower, ind) {
			score *= 1.2
			break
		}
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// generateCandidates produces up to 5 top-scoring individual segments plus
// adjacent-pair and lowercase variants, per spec.md §4.K strategy 5.
func generateCandidates(segments []string) []string {
	if len(segments) == 0 {
		return nil
	}
	type scored struct {
		segment string
		score   float64
	}
	ranked := make([]scored, len(segments))
	for i, s := range segments {
		ranked[i] = scored{segment: s, score: segmentScore(s, i)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	var candidates []string
	for i, r := range ranked {
		if i >= 5 {
			break
		}
		candidates = append(candidates, r.segment)
	}
	if len(segments) >= 2 {
		for i := 0; i < len(segments)-1; i++ {
			candidates = append(candidates, segments[i]+"-"+segments[i+1])
		}
		if len(segments) <= 4 {
			candidates = append(candidates, strings.Join(segments, "-"))
		}
	}

	seen := make(map[string]bool, len(candidates)*2)
	out := make([]string, 0, len(candidates)*2)
	for _, c := range candidates {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
		lower := strings.ToLower(c)
		if !seen[lower] {
			seen[lower] = true
			out = append(out, lower)
		}
	}
	return out
}

// matchByPayloadProbe samples one point per collection (up to
// payloadProbeMax) and checks whether its stored "project" field matches
// userProject, then returns every collection sharing that sample's hash.
func (r *Resolver) matchByPayloadProbe(ctx context.Context, names []string, userProject string) ([]string, error) {
	sampleSize := len(names) / 20
	if sampleSize < 1 {
		sampleSize = 1
	}
	if sampleSize > payloadProbeMax {
		sampleSize = payloadProbeMax
	}
	if sampleSize > len(names) {
		sampleSize = len(names)
	}

	target := strings.ToLower(normalize.ProjectName(userProject))
	for _, name := range names[:sampleSize] {
		matches, _, err := r.store.Scroll(ctx, name, 1, nil)
		if err != nil || len(matches) == 0 {
			continue
		}
		stored := strings.ToLower(normalize.ProjectName(matches[0].Payload.Project))
		if stored == "" {
			continue
		}
		if stored == target || strings.Contains(stored, target) || strings.Contains(target, stored) {
			hash := hashSegmentOf(name)
			if hash == "" {
				continue
			}
			var out []string
			for _, n := range names {
				if strings.Contains(n, hash) {
					out = append(out, n)
				}
			}
			return out, nil
		}
	}
	return nil, nil
}

// hashSegmentOf extracts the hash component from a "conv_<hash>_<suffix>"
// collection name.
func hashSegmentOf(collection string) string {
	parts := strings.Split(collection, "_")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
