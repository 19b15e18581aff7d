// Package monitor provides system monitoring using gopsutil.
package monitor

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Monitor provides system monitoring functionality using gopsutil.
type Monitor struct {
	startTime time.Time
}

// NewMonitor creates a new Monitor instance.
func NewMonitor() *Monitor {
	return &Monitor{startTime: time.Now()}
}

// CPUStats represents CPU usage statistics.
type CPUStats struct {
	UsagePercent float64 `json:"usage_percent"`
	CoreCount    int     `json:"core_count"`
}

// MemoryStats represents memory usage statistics.
type MemoryStats struct {
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	Available   uint64  `json:"available"`
	UsedPercent float64 `json:"used_percent"`
}

// ProcessInfo represents current process information.
type ProcessInfo struct {
	PID         int32   `json:"pid"`
	MemoryBytes uint64  `json:"memory_bytes"`
	CPUPercent  float64 `json:"cpu_percent"`
}

// RuntimeStats represents Go runtime statistics.
type RuntimeStats struct {
	GoroutineCount int    `json:"goroutine_count"`
	HeapAlloc      uint64 `json:"heap_alloc"`
	HeapSys        uint64 `json:"heap_sys"`
	NumGC          uint32 `json:"num_gc"`
}

// SystemStats represents all system statistics.
type SystemStats struct {
	CPU       CPUStats     `json:"cpu"`
	Memory    MemoryStats  `json:"memory"`
	Process   ProcessInfo  `json:"process"`
	GoRuntime RuntimeStats `json:"go_runtime"`
	Uptime    int64        `json:"uptime_seconds"`
	StartTime string       `json:"start_time"` // ISO 8601 format
}

// GetCPUUsage returns CPU usage percentage and core count.
func (m *Monitor) GetCPUUsage() (*CPUStats, error) {
	percentages, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		return nil, err
	}

	usagePercent := 0.0
	if len(percentages) > 0 {
		usagePercent = percentages[0]
	}

	coreCount, err := cpu.Counts(true)
	if err != nil {
		return nil, err
	}

	return &CPUStats{
		UsagePercent: usagePercent,
		CoreCount:    coreCount,
	}, nil
}

// GetMemoryUsage returns memory usage statistics.
func (m *Monitor) GetMemoryUsage() (*MemoryStats, error) {
	vmStat, err := mem.VirtualMemory()
	if err != nil {
		return nil, err
	}

	return &MemoryStats{
		Total:       vmStat.Total,
		Used:        vmStat.Used,
		Available:   vmStat.Available,
		UsedPercent: vmStat.UsedPercent,
	}, nil
}

// GetProcessInfo returns current process information.
func (m *Monitor) GetProcessInfo() (*ProcessInfo, error) {
	pid := int32(os.Getpid())
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil, err
	}

	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return nil, err
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		// CPU percent might fail on first call, use 0
		cpuPercent = 0
	}

	return &ProcessInfo{
		PID:         pid,
		MemoryBytes: memInfo.RSS,
		CPUPercent:  cpuPercent,
	}, nil
}

// GetRuntimeStats returns Go runtime statistics.
func (m *Monitor) GetRuntimeStats() *RuntimeStats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return &RuntimeStats{
		GoroutineCount: runtime.NumGoroutine(),
		HeapAlloc:      memStats.HeapAlloc,
		HeapSys:        memStats.HeapSys,
		NumGC:          memStats.NumGC,
	}
}

// GetSystemStats collects all statistics. Individual collection failures are
// tolerated so the stats endpoint degrades instead of erroring.
func (m *Monitor) GetSystemStats() *SystemStats {
	stats := &SystemStats{
		Uptime:    int64(time.Since(m.startTime).Seconds()),
		StartTime: m.startTime.Format(time.RFC3339),
	}

	if cpuStats, err := m.GetCPUUsage(); err == nil {
		stats.CPU = *cpuStats
	}
	if memStats, err := m.GetMemoryUsage(); err == nil {
		stats.Memory = *memStats
	}
	if procInfo, err := m.GetProcessInfo(); err == nil {
		stats.Process = *procInfo
	}
	stats.GoRuntime = *m.GetRuntimeStats()

	return stats
}
