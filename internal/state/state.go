// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch

// Package state is the watcher's crash-safe persisted checkpoint: which
// files have been imported, the high-water mark used to skip unchanged
// scan branches, and per-file stream offsets. The teacher's nearest
// analog is sqlite-backed (internal/drone/database/client_db.go); this is
// a single small JSON document instead, per spec.md §4.G, since the state
// this module tracks is a handful of maps read/written wholesale once per
// file, not a relational store under concurrent multi-writer access.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// ImportedFile is one entry in the imported-files index.
type ImportedFile struct {
	ImportedAt time.Time `json:"imported_at"`
	ParsedTime time.Time `json:"_parsed_time"`
	Chunks     int       `json:"chunks"`
	Collection string    `json:"collection"`
}

// Document is the on-disk shape, keyed by full absolute path (spec.md §3).
type Document struct {
	ImportedFiles map[string]ImportedFile `json:"imported_files"`
	HighWaterMark int64                   `json:"high_water_mark"`
	Checkpoints   map[string]int64        `json:"checkpoints,omitempty"`
}

func newDocument() Document {
	return Document{
		ImportedFiles: make(map[string]ImportedFile),
		Checkpoints:   make(map[string]int64),
	}
}

// Store guards a Document with a mutex and persists it atomically to a
// single path. One Store per watcher process; the state file is
// process-exclusive (spec.md §9's shared-resource policy) though readers
// outside the process may still read a consistent, if possibly stale,
// snapshot because writes are rename-based.
type Store struct {
	path string
	mu   sync.Mutex
	doc  Document
}

// Load reads path if it exists, or starts from an empty document.
// Relative keys from a legacy state file are rewritten to absolute paths
// where the referenced file still exists on disk.
func Load(path string) (*Store, error) {
	s := &Store{path: path, doc: newDocument()}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: read %s: %w", path, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("state: parse %s: %w", path, err)
	}
	if doc.ImportedFiles == nil {
		doc.ImportedFiles = make(map[string]ImportedFile)
	}
	if doc.Checkpoints == nil {
		doc.Checkpoints = make(map[string]int64)
	}
	s.doc = migrateRelativeKeys(doc)
	return s, nil
}

// migrateRelativeKeys rewrites any non-absolute imported_files key to an
// absolute path, when a file at that absolute path (resolved against the
// current working directory) exists. Keys that cannot be resolved are
// left as-is rather than dropped, so state is never silently lost.
func migrateRelativeKeys(doc Document) Document {
	for key, entry := range doc.ImportedFiles {
		if filepath.IsAbs(key) {
			continue
		}
		abs, err := filepath.Abs(key)
		if err != nil {
			continue
		}
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		delete(doc.ImportedFiles, key)
		doc.ImportedFiles[abs] = entry
	}
	return doc
}

// IsImported reports whether path was already imported at least as
// recently as mtime. A file is "already imported" iff
// imported_files[path].imported_at >= mtime (spec.md §4.G).
func (s *Store) IsImported(path string, mtime time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.doc.ImportedFiles[path]
	if !ok {
		return false
	}
	return !entry.ImportedAt.Before(mtime)
}

// MarkImported records a successful import and advances the high-water
// mark if mtime is newer than the current one.
func (s *Store) MarkImported(path string, mtime time.Time, chunks int, collection string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.doc.ImportedFiles[path] = ImportedFile{
		ImportedAt: mtime,
		ParsedTime: now,
		Chunks:     chunks,
		Collection: collection,
	}
	if mtime.Unix() > s.doc.HighWaterMark {
		s.doc.HighWaterMark = mtime.Unix()
	}
}

// HighWaterMark returns the scan-optimization hint (max mtime observed
// across all imported files). It is never used as a correctness gate,
// only to let scan skip branches with no candidate new files.
func (s *Store) HighWaterMark() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.HighWaterMark
}

// SetCheckpoint records a byte/line offset for incremental re-reads of an
// append-only file that is still growing.
func (s *Store) SetCheckpoint(path string, offset int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Checkpoints[path] = offset
}

// Checkpoint returns the last recorded offset for path, or 0.
func (s *Store) Checkpoint(path string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Checkpoints[path]
}

// Forget removes path from the imported-files index, used when a file
// disappears from disk between scans.
func (s *Store) Forget(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.doc.ImportedFiles, path)
	delete(s.doc.Checkpoints, path)
}

// Snapshot returns a copy of the current document for status reporting.
func (s *Store) Snapshot() Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := newDocument()
	out.HighWaterMark = s.doc.HighWaterMark
	for k, v := range s.doc.ImportedFiles {
		out.ImportedFiles[k] = v
	}
	for k, v := range s.doc.Checkpoints {
		out.Checkpoints[k] = v
	}
	return out
}

// Path returns the on-disk location of the state document, used by
// internal/status to read the file's mtime for watcher-liveness checks
// (spec.md §4.N).
func (s *Store) Path() string {
	return s.path
}

// Save persists the document atomically: write to a temp file, fsync,
// then rename onto the real path. On POSIX, rename is an atomic
// replace; Windows requires the destination to not exist first.
func (s *Store) Save() error {
	s.mu.Lock()
	data, err := json.MarshalIndent(s.doc, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp := s.path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("state: open temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("state: write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("state: fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("state: close temp file: %w", err)
	}

	if runtime.GOOS == "windows" {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("state: remove existing state file: %w", err)
		}
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("state: rename temp file into place: %w", err)
	}

	fsyncDirBestEffort(dir)
	return nil
}

// fsyncDirBestEffort fsyncs the parent directory so the rename survives a
// crash immediately after Save returns, on platforms that support it.
// Failure is not fatal: at worst a crash loses the most recent rename,
// which save_state's next call will simply repeat.
func fsyncDirBestEffort(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}
