// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/northbound/reflect-index/internal/normalize"
)

// fileCandidate is one transcript file surfaced by scan, not yet
// classified.
type fileCandidate struct {
	Path    string
	ModTime time.Time
	Project string
}

// hwmGraceSeconds absorbs filesystem mtime-resolution jitter so a project
// directory touched in the same second as the last high-water mark is
// never pruned away.
const hwmGraceSeconds = 2

// scan walks logs_dir -> project-dir -> *.jsonl (spec.md §6's "each leaf
// directory is one project" layout) and returns every transcript file
// found. A project directory whose own mtime predates the state store's
// high-water mark is skipped as a hint only; per-file mtime-vs-imported
// comparison in processCandidate is what actually governs re-import, so
// skipping here is a performance shortcut, never a correctness gate.
func (w *Watcher) scan() ([]fileCandidate, error) {
	root, err := expandHome(w.cfg.LogsDir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	hwm := w.state.HighWaterMark()
	var out []fileCandidate
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		projectDir := filepath.Join(root, entry.Name())
		info, err := entry.Info()
		if err == nil && hwm > 0 && info.ModTime().Unix() < hwm-hwmGraceSeconds {
			continue
		}
		project := normalize.ProjectName(entry.Name())
		files, err := os.ReadDir(projectDir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".jsonl") {
				continue
			}
			fi, err := f.Info()
			if err != nil {
				continue
			}
			out = append(out, fileCandidate{
				Path:    filepath.Join(projectDir, f.Name()),
				ModTime: fi.ModTime(),
				Project: project,
			})
		}
	}
	return out, nil
}

// expandHome resolves a leading "~" to the user's home directory.
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
