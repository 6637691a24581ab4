// Copyright 2025, Gregg Coppen
// SPDX-License-Identifier: Apache-2.0

// Package cwmonitor reports resource usage of the running bundle server
package cwmonitor

import (
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessMetrics contains resource usage metrics for a process
type ProcessMetrics struct {
	PID         int32   `json:"pid"`
	Running     bool    `json:"running"`
	Name        string  `json:"name,omitempty"`
	CPUPercent  float64 `json:"cpupercent"`
	MemoryMB    float64 `json:"memorymb"`
	MemoryRSS   uint64  `json:"memoryrss"`
	NumFDs      int32   `json:"numfds,omitempty"`
	NumThreads  int32   `json:"numthreads,omitempty"`
	StartedAtMs int64   `json:"startedat,omitempty"`
}

// GetProcessMetrics retrieves CPU and memory metrics for a given PID.
// Metrics the platform cannot report are left zero.
func GetProcessMetrics(pid int32) (*ProcessMetrics, error) {
	if pid <= 0 {
		return &ProcessMetrics{PID: pid}, nil
	}

	p, err := process.NewProcess(pid)
	if err != nil {
		return &ProcessMetrics{PID: pid}, nil
	}
	running, err := p.IsRunning()
	if err != nil || !running {
		return &ProcessMetrics{PID: pid}, nil
	}

	metrics := &ProcessMetrics{
		PID:     pid,
		Running: true,
	}
	if name, err := p.Name(); err == nil {
		metrics.Name = name
	}
	// first call may report 0, it needs an interval to measure
	if cpuPercent, err := p.CPUPercent(); err == nil {
		metrics.CPUPercent = cpuPercent
	}
	if memInfo, err := p.MemoryInfo(); err == nil && memInfo != nil {
		metrics.MemoryRSS = memInfo.RSS
		metrics.MemoryMB = float64(memInfo.RSS) / (1024 * 1024)
	}
	if fds, err := p.NumFDs(); err == nil {
		metrics.NumFDs = fds
	}
	if threads, err := p.NumThreads(); err == nil {
		metrics.NumThreads = threads
	}
	if created, err := p.CreateTime(); err == nil {
		metrics.StartedAtMs = created
	}
	return metrics, nil
}

// SelfMetrics returns metrics for the current process
func SelfMetrics() (*ProcessMetrics, error) {
	return GetProcessMetrics(int32(os.Getpid()))
}

// Uptime returns how long the process described by m has been running
func (m *ProcessMetrics) Uptime(now time.Time) time.Duration {
	if m == nil || m.StartedAtMs == 0 {
		return 0
	}
	return now.Sub(time.UnixMilli(m.StartedAtMs))
}
