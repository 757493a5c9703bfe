// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch

// Package chunker splits reconstructed transcript text into
// overlap-preserving, boundary-seeking chunks sized to a token budget.
package chunker

import (
	"strings"
	"time"

	"github.com/northbound/reflect-index/internal/metadata"
)

const (
	// WindowChars is the target chunk size, approximating ~400 tokens.
	WindowChars = 1600
	// OverlapChars is the overlap between consecutive chunks, approximating
	// ~75 tokens.
	OverlapChars = 300

	// Version is the chunking_version this package emits. v1 is recognized
	// only as a payload-compatibility tag for points written by an earlier
	// message-grouping scheme; this package never emits it.
	Version = "v2"
)

// separators is the ordered list of boundary candidates tried, most
// preferred first, when snapping a chunk end to a natural break.
var separators = [][]rune{
	[]rune(". "), []rune(".\n"), []rune("! "), []rune("? "),
	[]rune("\n\n"), []rune("\n"), []rune(" "),
}

// Chunk is one emitted slice of text plus its position within the source
// and the file-level metadata carried alongside every chunk of that file
// (spec.md §3's Chunk/Point data model). Stream/All only ever populate
// Text/Index/WasTruncated; callers (the watcher's per-file loop) fill in
// the remaining fields once before handing the chunk to the vector store.
type Chunk struct {
	Text         string
	Index        int
	WasTruncated bool

	ConversationID  string
	ChunkingVersion string
	Timestamp       time.Time
	Project         string
	SourceFile      string

	// Type/Role/Tags/ProjectPath are only ever set on points written by
	// internal/reflection (spec.md §4.M); a conversation chunk leaves them
	// at their zero value.
	Type        string
	Role        string
	Tags        []string
	ProjectPath string

	metadata.Extracted
}

// Stream lazily emits chunks of text to fn in order, without materializing
// the full slice, mirroring the "iter.Seq"-style streaming behavior named
// in SPEC_FULL.md: chunking runs inline inside the watcher's sequential
// per-file loop, so there is no concurrent producer/consumer to justify a
// channel here.
func Stream(text string, fn func(Chunk)) {
	if text == "" {
		return
	}

	runes := []rune(text)
	n := len(runes)
	if n <= WindowChars {
		trimmed := strings.TrimSpace(text)
		if trimmed != "" {
			fn(Chunk{Text: trimmed, Index: 0})
		}
		return
	}

	index := 0
	s := 0
	for s < n {
		e := s + WindowChars
		if e > n {
			e = n
		}

		wasTruncated := false
		if e < n {
			if snap, ok := findSeparator(runes, s, e); ok {
				e = snap
			} else if e-s >= WindowChars {
				// No separator in the back half of the window: a single
				// indivisible token spans the whole window. Hard split and
				// flag it (spec.md §4.D degenerate-input case).
				wasTruncated = true
			}
		}

		piece := strings.TrimSpace(string(runes[s:e]))
		if piece != "" {
			fn(Chunk{Text: piece, Index: index, WasTruncated: wasTruncated})
			index++
		}

		if e >= n {
			break
		}

		next := e - OverlapChars
		if next <= s {
			next = e
		}
		s = next
	}
}

// All materializes the full chunk slice; prefer Stream for large inputs.
func All(text string) []Chunk {
	var chunks []Chunk
	Stream(text, func(c Chunk) { chunks = append(chunks, c) })
	return chunks
}

// findSeparator searches runes[s:e] backward for the latest occurrence of
// any separator in the preferred order that lies strictly past the
// window's midpoint (s + window/2), returning the offset just past the
// separator. This guarantees v2 chunks never partition a sentence that
// ends within the back half of the window when a boundary exists there
// (spec.md §3 invariant).
func findSeparator(runes []rune, s, e int) (int, bool) {
	midpoint := s + (e-s)/2

	for _, sep := range separators {
		idx := lastIndexRunes(runes[s:e], sep)
		if idx < 0 {
			continue
		}
		absolute := s + idx + len(sep)
		if absolute <= midpoint {
			continue
		}
		return absolute, true
	}
	return 0, false
}

// lastIndexRunes returns the index of the last occurrence of sep within
// haystack, or -1 if not present.
func lastIndexRunes(haystack, sep []rune) int {
	if len(sep) == 0 || len(sep) > len(haystack) {
		return -1
	}
	for i := len(haystack) - len(sep); i >= 0; i-- {
		if runesEqual(haystack[i:i+len(sep)], sep) {
			return i
		}
	}
	return -1
}

func runesEqual(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
