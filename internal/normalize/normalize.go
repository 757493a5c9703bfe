// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch

// Package normalize canonicalizes project identifiers so that the watcher
// (at ingest time) and the resolver (at query time) always derive the same
// collection hash for the same project.
package normalize

import (
	"crypto/md5"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// knownParents are the directory names that precede a user's actual project
// name in a dash-encoded transcript directory, e.g.
// "-Users-alice-projects-foo-bar" -> "foo-bar".
var knownParents = map[string]bool{
	"projects":     true,
	"code":         true,
	"repos":        true,
	"repositories": true,
	"dev":          true,
	"development":  true,
	"work":         true,
	"src":          true,
	"github":       true,
	"gitlab":       true,
}

// ProjectName normalizes a raw project identifier that may be a
// dash-encoded transcript directory name, a filesystem path, or a bare
// name, into the canonical project name used for collection hashing.
func ProjectName(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}

	if strings.HasPrefix(raw, "-") {
		segments := strings.Split(strings.TrimPrefix(raw, "-"), "-")
		for i, seg := range segments {
			if knownParents[strings.ToLower(seg)] && i+1 < len(segments) {
				rest := segments[i+1:]
				if len(rest) > 0 {
					return strings.Join(rest, "-")
				}
			}
		}
		// No known parent marker found; fall back to the full dash-joined
		// remainder so callers still get a stable, non-empty name.
		if len(segments) > 0 {
			return strings.Join(segments, "-")
		}
		return raw
	}

	// Filesystem path or bare name: use the final path segment.
	cleaned := filepath.ToSlash(raw)
	base := cleaned
	if idx := strings.LastIndex(cleaned, "/"); idx >= 0 && idx+1 < len(cleaned) {
		base = cleaned[idx+1:]
	}
	if base == "" {
		base = cleaned
	}
	return base
}

// Hash returns the canonical 8-hex-character project hash used to build
// collection names: MD5(name)[:8].
func Hash(name string) string {
	sum := md5.Sum([]byte(name))
	return hex.EncodeToString(sum[:])[:8]
}

// CollectionName builds the conversation collection name for a project hash
// and embedding-backend suffix ("local" or "voyage").
func CollectionName(projectHash, suffix string) string {
	return "conv_" + projectHash + "_" + suffix
}

// ReflectionsCollectionName builds the global reflections collection name
// for an embedding-backend suffix.
func ReflectionsCollectionName(suffix string) string {
	return "reflections_" + suffix
}

// PathVariants returns dash/underscore-normalized variants of a project
// name for lenient comparison against payload-stored project values.
func PathVariants(name string) []string {
	lower := strings.ToLower(name)
	dashed := strings.ReplaceAll(lower, "_", "-")
	underscored := strings.ReplaceAll(lower, "-", "_")
	seen := map[string]bool{}
	variants := make([]string, 0, 3)
	for _, v := range []string{lower, dashed, underscored} {
		if !seen[v] {
			seen[v] = true
			variants = append(variants, v)
		}
	}
	return variants
}
