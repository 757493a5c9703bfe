// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package jobs

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/northbound/reflect-index/internal/normalize"
	"github.com/northbound/reflect-index/internal/queue"
	"github.com/northbound/reflect-index/internal/state"
)

// ReindexProjectPayload is the payload for an admin-triggered "reindex
// this project from scratch" request: distinct from the watcher's own
// ingest loop, which only ever processes files it has not already seen.
type ReindexProjectPayload struct {
	Project     string    `json:"project"`
	RequestedAt time.Time `json:"requestedAt"`
	Reason      string    `json:"reason"`
}

// JobTypeReindexProject is this job's queue.Job.Type.
const JobTypeReindexProject = "reindex_project"

// NewReindexProjectJob builds a queue.Job carrying payload.
func NewReindexProjectJob(payload ReindexProjectPayload) (queue.Job, error) {
	log.Printf("NewReindexProjectJob: project=%s reason=%s", payload.Project, payload.Reason)

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		log.Printf("NewReindexProjectJob: failed to marshal payload: %v", err)
		return queue.Job{}, err
	}

	job := queue.Job{
		Type:      JobTypeReindexProject,
		Payload:   payloadJSON,
		CreatedAt: time.Now(),
	}

	log.Printf("NewReindexProjectJob: created job type=%s createdAt=%s", job.Type, job.CreatedAt.Format(time.RFC3339))
	return job, nil
}

// EnqueueReindexProject enqueues a reindex request for project.
func EnqueueReindexProject(ctx context.Context, q queue.Queue, payload ReindexProjectPayload) error {
	log.Printf("EnqueueReindexProject: project=%s", payload.Project)

	job, err := NewReindexProjectJob(payload)
	if err != nil {
		log.Printf("EnqueueReindexProject: failed to create job: %v", err)
		return err
	}

	if err := q.Enqueue(ctx, job); err != nil {
		log.Printf("EnqueueReindexProject: failed to enqueue job: %v", err)
		return err
	}

	log.Printf("EnqueueReindexProject: successfully enqueued job")
	return nil
}

// HandleReindexProject processes a reindex_project job: it forgets every
// file under logsDir belonging to payload.Project in st, so the watcher's
// next scan cycle reclassifies and reprocesses them as if never imported.
// The watcher's point ids, derived from each chunk's conversation id and
// chunk index (spec.md §4.D/§4.F), make this idempotent against the
// vector store -- reprocessing a file
// overwrites its existing points rather than duplicating them.
func HandleReindexProject(ctx context.Context, job queue.Job, logsDir string, st *state.Store) error {
	log.Printf("HandleReindexProject: processing job type=%s createdAt=%s", job.Type, job.CreatedAt.Format(time.RFC3339))

	if job.Type != JobTypeReindexProject {
		log.Printf("HandleReindexProject: unexpected job type %s, expected %s", job.Type, JobTypeReindexProject)
		return nil
	}

	var payload ReindexProjectPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		log.Printf("HandleReindexProject: failed to unmarshal payload: %v", err)
		return err
	}

	forgotten, err := forgetProjectFiles(logsDir, payload.Project, st)
	if err != nil {
		log.Printf("HandleReindexProject: failed to scan %s: %v", logsDir, err)
		return err
	}

	log.Printf("HandleReindexProject: forgot %d files for project=%s, will be reprocessed on next scan", forgotten, payload.Project)
	return nil
}

func forgetProjectFiles(logsDir, project string, st *state.Store) (int, error) {
	root, err := expandHome(logsDir)
	if err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	forgotten := 0
	for _, entry := range entries {
		if !entry.IsDir() || normalize.ProjectName(entry.Name()) != project {
			continue
		}
		projectDir := filepath.Join(root, entry.Name())
		files, err := os.ReadDir(projectDir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".jsonl") {
				continue
			}
			st.Forget(filepath.Join(projectDir, f.Name()))
			forgotten++
		}
	}
	return forgotten, nil
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
