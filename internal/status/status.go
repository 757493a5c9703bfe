// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch

// Package status implements get_status (spec.md §4.N): a filesystem- and
// state-file-derived snapshot of indexing progress, computed the same way
// internal/watcher scans for work, so the two never disagree about what
// "indexed" means.
package status

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/northbound/reflect-index/internal/normalize"
	"github.com/northbound/reflect-index/internal/state"
)

// livenessWindow is how recently the watcher state file must have been
// written for the watcher to be reported as running (spec.md §4.N).
const livenessWindow = 2 * time.Minute

// ProjectStatus is one project's indexing progress.
type ProjectStatus struct {
	Percentage float64 `json:"percentage"`
	Indexed    int     `json:"indexed"`
	Total      int     `json:"total"`
}

// Overall is the aggregate indexing progress across all projects.
type Overall struct {
	Percentage float64 `json:"percentage"`
	Indexed    int     `json:"indexed"`
	Total      int     `json:"total"`
	Backlog    int     `json:"backlog"`
}

// Watcher reports the ingestion watcher's liveness.
type Watcher struct {
	Running           bool   `json:"running"`
	FilesProcessed    int    `json:"files_processed"`
	LastUpdateSeconds int    `json:"last_update_seconds"`
	Status            string `json:"status"`
}

// Status is the full get_status response.
type Status struct {
	Overall  Overall                  `json:"overall"`
	Projects map[string]ProjectStatus `json:"projects"`
	Watcher  Watcher                  `json:"watcher"`
}

// Compute walks logsDir the same way internal/watcher's scan does (two
// levels: project directory, then *.jsonl files) to get each project's
// total file count, cross-references st's imported-files index to get
// indexed counts, and reports watcher liveness from the state file's
// mtime.
func Compute(logsDir string, st *state.Store) (Status, error) {
	root, err := expandHome(logsDir)
	if err != nil {
		return Status{}, err
	}

	type counts struct{ indexed, total int }
	perProject := map[string]*counts{}

	snapshot := st.Snapshot()

	entries, err := os.ReadDir(root)
	if err != nil && !os.IsNotExist(err) {
		return Status{}, err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		project := normalize.ProjectName(entry.Name())
		projectDir := filepath.Join(root, entry.Name())
		files, err := os.ReadDir(projectDir)
		if err != nil {
			continue
		}
		c, ok := perProject[project]
		if !ok {
			c = &counts{}
			perProject[project] = c
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".jsonl") {
				continue
			}
			c.total++
			path := filepath.Join(projectDir, f.Name())
			if isIndexed(snapshot, path) {
				c.indexed++
			}
		}
	}

	projects := make(map[string]ProjectStatus, len(perProject))
	var totalAll, indexedAll int
	for name, c := range perProject {
		projects[name] = ProjectStatus{
			Percentage: percentage(c.indexed, c.total),
			Indexed:    c.indexed,
			Total:      c.total,
		}
		totalAll += c.total
		indexedAll += c.indexed
	}

	return Status{
		Overall: Overall{
			Percentage: percentage(indexedAll, totalAll),
			Indexed:    indexedAll,
			Total:      totalAll,
			Backlog:    totalAll - indexedAll,
		},
		Projects: projects,
		Watcher:  watcherStatus(st),
	}, nil
}

// isIndexed reports whether a file is indexed per spec.md §4.N: it
// appears in the imported-files set with a recorded import, or has a
// nonzero stream checkpoint (a file that has been at least partially
// read). Path comparison normalizes local/docker path-prefix variants.
func isIndexed(doc state.Document, path string) bool {
	normalized := normalizePath(path)
	for p := range doc.ImportedFiles {
		if normalizePath(p) == normalized {
			return true
		}
	}
	for p, offset := range doc.Checkpoints {
		if offset > 0 && normalizePath(p) == normalized {
			return true
		}
	}
	return false
}

// normalizePath collapses the /logs/ Docker mount prefix used by the
// original containerized deployment down to the local projects directory,
// so state recorded under either layout compares equal.
func normalizePath(path string) string {
	const dockerPrefix = "/logs/"
	if strings.HasPrefix(path, dockerPrefix) {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, ".claude", "projects", strings.TrimPrefix(path, dockerPrefix))
		}
	}
	return path
}

func percentage(indexed, total int) float64 {
	if total == 0 {
		return 100.0
	}
	return round1(float64(indexed) / float64(total) * 100)
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

func watcherStatus(st *state.Store) Watcher {
	info, err := os.Stat(st.Path())
	if err != nil {
		return Watcher{Running: false, Status: "not configured"}
	}
	age := time.Since(info.ModTime())
	running := age < livenessWindow
	label := "inactive"
	if running {
		label = "active"
	}
	return Watcher{
		Running:           running,
		FilesProcessed:    len(st.Snapshot().ImportedFiles),
		LastUpdateSeconds: int(age.Seconds()),
		Status:            label,
	}
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
