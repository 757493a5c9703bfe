// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch

// Package watcher runs the mtime/high-water-mark scan loop that discovers,
// classifies, and imports transcript files into the vector store, per
// spec.md §4.J. It generalizes the teacher's
// internal/drone/watcher/manager.go (fsnotify recursive setup, context/
// WaitGroup shutdown) + debouncer.go + decision.go control-flow shape: the
// mtime/high-water-mark scan is the correctness mechanism here, and
// fsnotify is wired in only as a latency hint that wakes the loop early.
package watcher

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/northbound/reflect-index/internal/embeddings"
	"github.com/northbound/reflect-index/internal/events"
	"github.com/northbound/reflect-index/internal/freshness"
	"github.com/northbound/reflect-index/internal/resources"
	"github.com/northbound/reflect-index/internal/state"
	"github.com/northbound/reflect-index/internal/vectorstore"
)

// VectorStore is the subset of *vectorstore.Store the watcher needs,
// narrowed to an interface so tests can substitute a fake.
type VectorStore interface {
	EnsureCollection(ctx context.Context, name string, dimension int) error
	Upsert(ctx context.Context, collection string, dimension int, p vectorstore.Point) error
}

// FileState is one file's position in the UNKNOWN -> CLASSIFIED ->
// ENQUEUED -> PROCESSING -> IMPORTED|FAILED lifecycle (spec.md §4.J).
type FileState int

const (
	FileUnknown FileState = iota
	FileClassified
	FileEnqueued
	FileProcessing
	FileImported
	FileFailed
)

func (s FileState) String() string {
	switch s {
	case FileClassified:
		return "CLASSIFIED"
	case FileEnqueued:
		return "ENQUEUED"
	case FileProcessing:
		return "PROCESSING"
	case FileImported:
		return "IMPORTED"
	case FileFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Watcher owns the ingestion loop: scan, classify, queue, process, save,
// repeat on a cadence that tightens when hot/urgent work is pending.
type Watcher struct {
	cfg Config

	state      *state.Store
	classifier *freshness.Classifier
	queue      *freshness.Queue
	memMonitor *resources.MemoryMonitor
	cpuMonitor *resources.CPUMonitor
	embedder   embeddings.Embedder
	store      VectorStore
	bus        *events.Bus

	mu         sync.Mutex
	fileStates map[string]FileState

	hint chan struct{}
	fsw  *fsnotify.Watcher
}

// New wires a Watcher from its already-constructed dependencies; state,
// embedder, and store are owned by the caller and closed by it, except
// that Run's shutdown path calls embedder.Close() per spec.md §4.J's
// on_exit step.
func New(cfg Config, st *state.Store, embedder embeddings.Embedder, store VectorStore, bus *events.Bus) (*Watcher, error) {
	memMonitor, err := resources.NewMemoryMonitor(cfg.MemoryWarningMB, cfg.MemoryLimitMB)
	if err != nil {
		return nil, fmt.Errorf("memory monitor: %w", err)
	}
	if bus == nil {
		bus = events.NewBus()
	}

	w := &Watcher{
		cfg: cfg,
		state: st,
		classifier: freshness.NewClassifier(freshness.ClassifierConfig{
			HotWindow:   cfg.Freshness.HotWindow,
			WarmWindow:  cfg.Freshness.WarmWindow,
			MaxWarmWait: cfg.Freshness.MaxWarmWait,
		}),
		queue:      freshness.NewQueue(cfg.MaxQueueSize),
		memMonitor: memMonitor,
		cpuMonitor: resources.NewCPUMonitor(cfg.MaxCPUPercentPerCore),
		embedder:   embedder,
		store:      store,
		bus:        bus,
		fileStates: make(map[string]FileState),
		hint:       make(chan struct{}, 1),
	}
	return w, nil
}

// Run executes spec.md §4.J's top-level loop until ctx is canceled,
// saving state and closing the embedder on the way out.
func (w *Watcher) Run(ctx context.Context) error {
	w.startHintWatch()
	defer w.stopHintWatch()
	defer w.shutdown()

	for {
		if ctx.Err() != nil {
			return nil
		}
		w.runCycle(ctx)

		wait := w.cfg.ImportFrequency
		if w.queue.HasHotOrUrgent() {
			wait = w.cfg.HotCheckInterval
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		case <-w.hint:
			timer.Stop()
		}
	}
}

// runCycle performs one scan/classify/enqueue/process pass.
func (w *Watcher) runCycle(ctx context.Context) {
	files, err := w.scan()
	if err != nil {
		log.Printf("watcher: scan failed: %v", err)
		return
	}

	now := time.Now()
	candidates := make([]freshness.Candidate, 0, len(files))
	byPath := make(map[string]fileCandidate, len(files))
	var oldestColdAge time.Duration
	for _, f := range files {
		level, pri := w.classifier.Classify(f.Path, f.ModTime, now, f.Project, w.cfg.CurrentProject)
		w.setState(f.Path, FileClassified)
		candidates = append(candidates, freshness.Candidate{Path: f.Path, Level: level, Priority: pri})
		byPath[f.Path] = f
		if level == freshness.LevelCold {
			if age := now.Sub(f.ModTime); age > oldestColdAge {
				oldestColdAge = age
			}
		}
	}
	if w.cfg.MaxBacklogHours > 0 && oldestColdAge > time.Duration(w.cfg.MaxBacklogHours)*time.Hour {
		w.bus.Critical("backlog_alert", fmt.Sprintf("oldest cold file is %s old, exceeding MAX_BACKLOG_HOURS=%dh", oldestColdAge.Round(time.Minute), w.cfg.MaxBacklogHours))
	}

	deferred := w.queue.AddBatch(candidates, w.cfg.MaxColdFiles)
	deferredSet := make(map[string]bool, len(deferred))
	for _, d := range deferred {
		deferredSet[d.Path] = true
		w.bus.Critical("backlog_overflow", fmt.Sprintf("deferred %s (%s) until next scan", d.Path, d.Level))
	}
	for _, c := range candidates {
		if !deferredSet[c.Path] {
			w.setState(c.Path, FileEnqueued)
		}
	}

	batch := w.queue.GetBatch(w.cfg.BatchSize)
	for _, c := range batch {
		if ctx.Err() != nil {
			return
		}
		f, ok := byPath[c.Path]
		if !ok {
			continue
		}
		w.processCandidate(ctx, f)
	}

	w.logMetrics()
}

// processCandidate applies the per-file gates (already-imported,
// memory-critical) and, if clear, runs the full import pipeline.
func (w *Watcher) processCandidate(ctx context.Context, f fileCandidate) {
	info, err := os.Stat(f.Path)
	if err != nil {
		w.setState(f.Path, FileFailed)
		return
	}
	mtime := info.ModTime()

	if w.state.IsImported(f.Path, mtime) {
		w.classifier.Forget(f.Path)
		return
	}

	if shouldCleanup, metrics, err := w.memMonitor.Check(); err == nil && shouldCleanup {
		resources.Cleanup()
		if shouldCleanup2, metrics2, _ := w.memMonitor.Check(); shouldCleanup2 {
			w.bus.Critical("memory_pressure", fmt.Sprintf("rss=%.0fMB level=%s, skipping this cycle", metrics2.RSSMB, metrics2.Level))
			return
		}
		_ = metrics
	}

	w.setState(f.Path, FileProcessing)

	n, err := w.processFile(ctx, f.Path, mtime, f.Project)
	if err != nil {
		w.setState(f.Path, FileFailed)
		w.bus.Publish(events.Event{Type: "file_failed", Level: events.LevelWarning, Project: f.Project, Path: f.Path, Error: err.Error()})
		return
	}

	w.state.MarkImported(f.Path, mtime, n, w.embedder.Suffix())
	if err := w.state.Save(); err != nil {
		log.Printf("watcher: state save failed: %v", err)
	}
	w.classifier.Forget(f.Path)
	w.setState(f.Path, FileImported)
	w.bus.Info("file_imported", f.Project, f.Path, fmt.Sprintf("%d chunks", n))
}

func (w *Watcher) setState(path string, s FileState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fileStates[path] = s
}

// Status reports each tracked file's last known lifecycle state.
func (w *Watcher) Status() map[string]FileState {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]FileState, len(w.fileStates))
	for k, v := range w.fileStates {
		out[k] = v
	}
	return out
}

// QueueDepth reports how many files are currently queued for import.
func (w *Watcher) QueueDepth() int { return w.queue.Len() }

func (w *Watcher) logMetrics() {
	log.Printf("watcher: queue_depth=%d hot_or_urgent=%v", w.queue.Len(), w.queue.HasHotOrUrgent())
}

func (w *Watcher) shutdown() {
	if err := w.state.Save(); err != nil {
		log.Printf("watcher: final state save failed: %v", err)
	}
	if err := w.embedder.Close(); err != nil {
		log.Printf("watcher: embedder close failed: %v", err)
	}
}
