package telemetry

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Resources is a reading of host and process resource usage.
type Resources struct {
	CPUPercent      float64 `json:"cpu_percent"`
	MemoryPercent   float64 `json:"memory_percent"`
	MemoryUsedGB    float64 `json:"memory_used_gb"`
	MemoryTotalGB   float64 `json:"memory_total_gb"`
	DiskPercent     float64 `json:"disk_percent"`
	DiskFreeGB      float64 `json:"disk_free_gb"`
	ProcessMemoryMB float64 `json:"process_memory_mb"`
}

// ResourceSampler reads current resource usage.
type ResourceSampler interface {
	Sample(ctx context.Context) (*Resources, error)
}

const gb = 1024 * 1024 * 1024

// SystemSampler reads resources from the host via gopsutil.
type SystemSampler struct {
	diskPath    string
	cpuInterval time.Duration
	pid         int32
}

// NewSystemSampler creates a sampler reading disk usage at diskPath
func NewSystemSampler(diskPath string) *SystemSampler {
	if diskPath == "" {
		diskPath = "/"
	}
	return &SystemSampler{
		diskPath:    diskPath,
		cpuInterval: time.Second,
		pid:         int32(os.Getpid()),
	}
}

// Sample reads current CPU, memory and disk usage.
func (s *SystemSampler) Sample(ctx context.Context) (*Resources, error) {
	percents, err := cpu.PercentWithContext(ctx, s.cpuInterval, false)
	if err != nil {
		return nil, fmt.Errorf("failed to read cpu usage: %w", err)
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read memory usage: %w", err)
	}

	usage, err := disk.UsageWithContext(ctx, s.diskPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read disk usage for %s: %w", s.diskPath, err)
	}

	r := &Resources{
		MemoryPercent: vm.UsedPercent,
		MemoryUsedGB:  float64(vm.Used) / gb,
		MemoryTotalGB: float64(vm.Total) / gb,
		DiskPercent:   usage.UsedPercent,
		DiskFreeGB:    float64(usage.Free) / gb,
	}
	if len(percents) > 0 {
		r.CPUPercent = percents[0]
	}

	if p, err := process.NewProcessWithContext(ctx, s.pid); err == nil {
		if info, err := p.MemoryInfoWithContext(ctx); err == nil {
			r.ProcessMemoryMB = float64(info.RSS) / (1024 * 1024)
		}
	}

	return r, nil
}
