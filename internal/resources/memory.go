// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch

// Package resources monitors memory and CPU pressure so the watcher loop
// can throttle or pause ingestion before the process is killed for
// exceeding a container budget (spec.md §4.I).
package resources

import (
	"os"
	"runtime"
	"runtime/debug"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// AlertLevel is the memory-pressure band a reading falls into.
type AlertLevel int

const (
	AlertNormal AlertLevel = iota
	AlertWarning
	AlertHigh
	AlertCritical
)

func (l AlertLevel) String() string {
	switch l {
	case AlertNormal:
		return "normal"
	case AlertWarning:
		return "warning"
	case AlertHigh:
		return "high"
	case AlertCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MemoryMetrics is one point-in-time reading.
type MemoryMetrics struct {
	RSSMB            float64
	VMSMB            float64
	SystemAvailableMB float64
	Level            AlertLevel
}

// MemoryMonitor wraps gopsutil's per-process and system memory readers,
// applying the alert-band thresholds from spec.md §4.I.
type MemoryMonitor struct {
	warningMB float64
	limitMB   float64
	proc      *process.Process
}

// NewMemoryMonitor constructs a monitor for the current process.
func NewMemoryMonitor(warningMB, limitMB float64) (*MemoryMonitor, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &MemoryMonitor{warningMB: warningMB, limitMB: limitMB, proc: proc}, nil
}

// Check reads current memory usage and reports whether the watcher should
// run Cleanup before continuing.
func (m *MemoryMonitor) Check() (shouldCleanup bool, metrics MemoryMetrics, err error) {
	info, err := m.proc.MemInfo()
	if err != nil {
		return false, MemoryMetrics{}, err
	}
	rssMB := float64(info.RSS) / (1024 * 1024)
	vmsMB := float64(info.VMS) / (1024 * 1024)

	var availableMB float64
	if vm, vmErr := mem.VirtualMemory(); vmErr == nil {
		availableMB = float64(vm.Available) / (1024 * 1024)
	}

	level := classify(rssMB, m.warningMB, m.limitMB)
	metrics = MemoryMetrics{RSSMB: rssMB, VMSMB: vmsMB, SystemAvailableMB: availableMB, Level: level}
	return level >= AlertHigh, metrics, nil
}

// classify maps an RSS reading to its alert band: normal < warning_mb <=
// warning < 0.85*limit_mb <= high < limit_mb <= critical.
func classify(rssMB, warningMB, limitMB float64) AlertLevel {
	highThreshold := 0.85 * limitMB
	switch {
	case rssMB >= limitMB:
		return AlertCritical
	case rssMB >= highThreshold:
		return AlertHigh
	case rssMB >= warningMB:
		return AlertWarning
	default:
		return AlertNormal
	}
}

// Cleanup runs a full GC pass and, on platforms where the runtime exposes
// it, asks the allocator to return free heap pages to the OS. It returns
// the approximate MB freed.
func Cleanup() float64 {
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)

	runtime.GC()
	debug.FreeOSMemory()

	runtime.ReadMemStats(&after)
	freedBytes := int64(before.HeapInuse) - int64(after.HeapInuse)
	if freedBytes < 0 {
		return 0
	}
	return float64(freedBytes) / (1024 * 1024)
}
