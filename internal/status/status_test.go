// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package status

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/northbound/reflect-index/internal/state"
)

func writeTranscript(t *testing.T, dir, project, name string) string {
	t.Helper()
	projectDir := filepath.Join(dir, project)
	if err := os.MkdirAll(projectDir, 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path := filepath.Join(projectDir, name+".jsonl")
	if err := os.WriteFile(path, []byte(`{"role":"user","content":"hi"}`+"\n"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return path
}

func TestCompute_CountsIndexedAndTotalPerProject(t *testing.T) {
	dir := t.TempDir()
	p1 := writeTranscript(t, dir, "foo-bar", "conv1")
	writeTranscript(t, dir, "foo-bar", "conv2")

	statePath := filepath.Join(dir, "state.json")
	st, err := state.Load(statePath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st.MarkImported(p1, time.Now(), 3, "conv_abc_local")
	if err := st.Save(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := Compute(dir, st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	proj, ok := got.Projects["foo-bar"]
	if !ok {
		t.Fatalf("expected foo-bar project, got %+v", got.Projects)
	}
	if proj.Total != 2 || proj.Indexed != 1 {
		t.Errorf("got %+v, want total=2 indexed=1", proj)
	}
	if got.Overall.Backlog != 1 {
		t.Errorf("backlog = %d, want 1", got.Overall.Backlog)
	}
}

func TestCompute_EmptyDirReturns100Percent(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "state.json")
	st, err := state.Load(statePath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := Compute(dir, st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Overall.Percentage != 100.0 {
		t.Errorf("percentage = %v, want 100.0", got.Overall.Percentage)
	}
}

func TestWatcherStatus_InactiveWhenStateFileMissing(t *testing.T) {
	dir := t.TempDir()
	st, err := state.Load(filepath.Join(dir, "missing.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w := watcherStatus(st)
	if w.Running {
		t.Error("expected watcher to be reported not running when state file was never saved")
	}
}

func TestWatcherStatus_ActiveAfterSave(t *testing.T) {
	dir := t.TempDir()
	st, err := state.Load(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := st.Save(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w := watcherStatus(st)
	if !w.Running {
		t.Error("expected watcher to be reported running right after a save")
	}
}
