// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package resources

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// processCPUTime returns cumulative user+system CPU time consumed by this
// process so far, for computing a percent-busy delta between samples.
func processCPUTime() time.Duration {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0
	}
	times, err := proc.Times()
	if err != nil {
		return 0
	}
	return time.Duration((times.User + times.System) * float64(time.Second))
}

const (
	cgroupV2MaxFile    = "/sys/fs/cgroup/cpu.max"
	cgroupV1QuotaFile  = "/sys/fs/cgroup/cpu/cpu.quota_us"
	cgroupV1PeriodFile = "/sys/fs/cgroup/cpu/cpu.cfs_period_us"
)

// effectiveCPUs resolves the cgroup v1/v2 CPU quota to a fractional CPU
// count, falling back to runtime.NumCPU() when no cgroup limit applies.
// No example repo or ecosystem library in the retrieval pack parses
// cgroup quota files, so this stays on the standard library by necessity.
func effectiveCPUs() float64 {
	if n, ok := readCgroupV2(); ok {
		return n
	}
	if n, ok := readCgroupV1(); ok {
		return n
	}
	return float64(runtime.NumCPU())
}

// readCgroupV2 parses "/sys/fs/cgroup/cpu.max", formatted as
// "<quota> <period>" or "max <period>" when unconstrained.
func readCgroupV2() (float64, bool) {
	data, err := os.ReadFile(cgroupV2MaxFile)
	if err != nil {
		return 0, false
	}
	fields := strings.Fields(strings.TrimSpace(string(data)))
	if len(fields) != 2 || fields[0] == "max" {
		return 0, false
	}
	quota, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	period, err := strconv.ParseFloat(fields[1], 64)
	if err != nil || period <= 0 {
		return 0, false
	}
	return quota / period, true
}

// readCgroupV1 parses the separate quota_us/cfs_period_us files; a quota
// of -1 means unconstrained.
func readCgroupV1() (float64, bool) {
	quotaBytes, err := os.ReadFile(cgroupV1QuotaFile)
	if err != nil {
		return 0, false
	}
	quota, err := strconv.ParseFloat(strings.TrimSpace(string(quotaBytes)), 64)
	if err != nil || quota <= 0 {
		return 0, false
	}

	periodBytes, err := os.ReadFile(cgroupV1PeriodFile)
	if err != nil {
		return 0, false
	}
	period, err := strconv.ParseFloat(strings.TrimSpace(string(periodBytes)), 64)
	if err != nil || period <= 0 {
		return 0, false
	}
	return quota / period, true
}

// CPUMonitor tracks observed CPU usage against a per-core budget,
// caching its reading at most once per second so should_throttle never
// blocks the caller on a syscall (spec.md §4.I).
type CPUMonitor struct {
	maxPercentPerCore float64
	effectiveCPUs     float64

	mu          sync.Mutex
	lastSampled time.Time
	lastTotal   time.Duration
	cachedPct   float64
}

// NewCPUMonitor constructs a monitor with the given per-core percent
// budget (e.g. 80.0 for "80% of one core").
func NewCPUMonitor(maxPercentPerCore float64) *CPUMonitor {
	return &CPUMonitor{
		maxPercentPerCore: maxPercentPerCore,
		effectiveCPUs:     effectiveCPUs(),
		lastSampled:       time.Now(),
	}
}

// EffectiveCPUs returns the cgroup-aware CPU count this monitor budgets
// against.
func (c *CPUMonitor) EffectiveCPUs() float64 { return c.effectiveCPUs }

// Budget returns the CPU-percent budget: max_cpu_percent_per_core *
// effective_cpus.
func (c *CPUMonitor) Budget() float64 { return c.maxPercentPerCore * c.effectiveCPUs }

// ShouldThrottle reports whether process CPU usage exceeds budget, using
// a cached sample refreshed at most once per second.
func (c *CPUMonitor) ShouldThrottle() bool {
	return c.sample() > c.Budget()
}

// sample returns the cached percent-CPU reading, refreshing it from the
// process's cumulative user+system CPU time (processCPUTime) if more than
// a second has elapsed since the last sample.
func (c *CPUMonitor) sample() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(c.lastSampled)
	if elapsed < time.Second {
		return c.cachedPct
	}

	total := processCPUTime()
	deltaCPU := total - c.lastTotal
	if elapsed > 0 && deltaCPU > 0 {
		c.cachedPct = (deltaCPU.Seconds() / elapsed.Seconds()) * 100
	}
	c.lastTotal = total
	c.lastSampled = now
	return c.cachedPct
}
