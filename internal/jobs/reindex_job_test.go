// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package jobs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/northbound/reflect-index/internal/queue"
	"github.com/northbound/reflect-index/internal/state"
)

type fakeQueue struct {
	enqueued []queue.Job
}

func (q *fakeQueue) Enqueue(ctx context.Context, job queue.Job) error {
	q.enqueued = append(q.enqueued, job)
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context) (queue.Job, error) {
	if len(q.enqueued) == 0 {
		return queue.Job{}, context.Canceled
	}
	job := q.enqueued[0]
	q.enqueued = q.enqueued[1:]
	return job, nil
}

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

func TestEnqueueReindexProject_RoundTripsThroughHandle(t *testing.T) {
	dir := t.TempDir()
	p1 := writeTranscript(t, dir, "foo-bar", "conv1")
	writeTranscript(t, dir, "foo-bar", "conv2")

	st, err := state.Load(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st.MarkImported(p1, time.Now(), 3, "conv_abc_local")

	q := &fakeQueue{}
	ctx := context.Background()
	if err := EnqueueReindexProject(ctx, q, ReindexProjectPayload{Project: "foo-bar", Reason: "manual"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	job, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := HandleReindexProject(ctx, job, dir, st); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if st.IsImported(p1, time.Now().Add(-time.Hour)) {
		t.Errorf("expected %s to be forgotten after reindex", p1)
	}
}

func TestHandleReindexProject_IgnoresOtherJobTypes(t *testing.T) {
	dir := t.TempDir()
	st, err := state.Load(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	job := queue.Job{Type: "something_else"}
	if err := HandleReindexProject(context.Background(), job, dir, st); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestForgetProjectFiles_OnlyMatchesNamedProject(t *testing.T) {
	dir := t.TempDir()
	writeTranscript(t, dir, "foo-bar", "conv1")
	writeTranscript(t, dir, "other-project", "conv1")

	st, err := state.Load(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	n, err := forgetProjectFiles(dir, "foo-bar", st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Errorf("forgotten = %d, want 1", n)
	}
}
