// Package metrics samples host resource usage for the
// GET /api/health/metrics endpoint (spec §4 domain stack). It leans on
// gopsutil rather than reading /proc or calling platform syscalls
// directly, the way the teacher's worker pool does for its own
// memory-pressure checks.
package metrics

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"stepflow-monitor/internal/apperrors"
)

// Snapshot is one sample of host resource usage, plus the counters the
// engine and hub track in memory.
type Snapshot struct {
	MemoryUsedGB    float64 `json:"memory_used_gb"`
	MemoryTotalGB   float64 `json:"memory_total_gb"`
	MemoryPercent   float64 `json:"memory_percent"`
	CPUPercent      float64 `json:"cpu_percent"`
	ActiveExecutions int    `json:"active_executions"`
	ConnectedClients int    `json:"connected_clients"`
}

const bytesPerGB = 1024 * 1024 * 1024

// Sample reads current host memory and CPU usage. active and subscribers
// are the engine's and hub's own in-process counters, folded into the
// same snapshot so callers get one value object.
func Sample(active, subscribers int) (Snapshot, error) {
	snap := Snapshot{ActiveExecutions: active, ConnectedClients: subscribers}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return snap, apperrors.NewIOError("read memory stats: %v", err)
	}
	snap.MemoryTotalGB = float64(vm.Total) / bytesPerGB
	snap.MemoryUsedGB = float64(vm.Total-vm.Available) / bytesPerGB
	snap.MemoryPercent = vm.UsedPercent

	percents, err := cpu.Percent(0, false)
	if err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	}

	return snap, nil
}
