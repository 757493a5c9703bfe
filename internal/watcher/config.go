// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package watcher

import "time"

// Config carries the watcher loop's tunables, sourced from internal/config
// (spec.md §6's environment table). Zero-value fields are filled in by
// DefaultConfig.
type Config struct {
	LogsDir         string
	CurrentProject  string
	ImportFrequency time.Duration
	HotCheckInterval time.Duration
	BatchSize       int
	MaxColdFiles    int
	MaxQueueSize    int
	MaxBacklogHours int

	MemoryWarningMB float64
	MemoryLimitMB   float64
	MaxCPUPercentPerCore float64

	Freshness ClassifierConfig
}

// ClassifierConfig mirrors freshness.ClassifierConfig so callers that only
// import internal/watcher don't also need internal/freshness for wiring
// the defaults; Watcher converts it when constructing its Classifier.
type ClassifierConfig struct {
	HotWindow   time.Duration
	WarmWindow  time.Duration
	MaxWarmWait time.Duration
}

// DefaultConfig returns spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		LogsDir:          "~/.claude/projects",
		ImportFrequency:  60 * time.Second,
		HotCheckInterval: 2 * time.Second,
		BatchSize:        10,
		MaxColdFiles:     5,
		MaxQueueSize:     100,
		MaxBacklogHours:  4,
		MemoryWarningMB:  1500,
		MemoryLimitMB:    2000,
		MaxCPUPercentPerCore: 80,
		Freshness: ClassifierConfig{
			HotWindow:   5 * time.Minute,
			WarmWindow:  72 * time.Hour,
			MaxWarmWait: 30 * time.Minute,
		},
	}
}
