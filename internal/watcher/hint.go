// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package watcher

import (
	"log"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// startHintWatch recursively watches logs_dir with fsnotify, adapted from
// the teacher's internal/drone/watcher/manager.go addWatchPath/
// processEvents. Unlike the teacher, a filesystem event here never drives
// processing directly -- it only nudges Run's shutdown-await timer to wake
// early so a HOT file gets picked up before the next scheduled scan. A
// watcher that fails to start (missing directory, platform without
// inotify/kqueue support) degrades silently to the unmodified polling
// cadence.
func (w *Watcher) startHintWatch() {
	root, err := expandHome(w.cfg.LogsDir)
	if err != nil {
		return
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("watcher: fsnotify unavailable, falling back to polling only: %v", err)
		return
	}
	w.fsw = fsw

	if err := fsw.Add(root); err != nil {
		log.Printf("watcher: fsnotify could not watch %s: %v", root, err)
		fsw.Close()
		w.fsw = nil
		return
	}
	if entries, err := os.ReadDir(root); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				_ = fsw.Add(filepath.Join(root, e.Name()))
			}
		}
	}

	go func() {
		for {
			select {
			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					w.nudge()
				}
				if event.Has(fsnotify.Create) {
					_ = fsw.Add(event.Name)
				}
			case _, ok := <-fsw.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

// nudge wakes Run's shutdown-await select early without blocking if a
// wakeup is already pending.
func (w *Watcher) nudge() {
	select {
	case w.hint <- struct{}{}:
	default:
	}
}

func (w *Watcher) stopHintWatch() {
	if w.fsw != nil {
		w.fsw.Close()
	}
}
