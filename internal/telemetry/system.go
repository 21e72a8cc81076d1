package telemetry

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"hostwatch/internal/protocol"
)

// ReadSystemInfo collects boot-stable host identity.
func ReadSystemInfo(ctx context.Context) (protocol.SystemInfo, error) {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return protocol.SystemInfo{}, fmt.Errorf("read host info: %w", err)
	}
	counts, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return protocol.SystemInfo{}, fmt.Errorf("read cpu count: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return protocol.SystemInfo{}, fmt.Errorf("read total memory: %w", err)
	}

	return protocol.SystemInfo{
		Hostname:         info.Hostname,
		OS:               fmt.Sprintf("%s %s", info.Platform, info.PlatformVersion),
		UptimeSeconds:    info.Uptime,
		CPUCount:         counts,
		TotalMemoryBytes: vm.Total,
		Kernel:           info.KernelVersion,
	}, nil
}

// ReadSystemMetrics collects the rolling summary: CPU, memory and root
// filesystem usage.
func ReadSystemMetrics(ctx context.Context) (protocol.SystemMetrics, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return protocol.SystemMetrics{}, fmt.Errorf("read cpu percent: %w", err)
	}
	cpuPercent := 0.0
	if len(percents) > 0 {
		cpuPercent = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return protocol.SystemMetrics{}, fmt.Errorf("read memory: %w", err)
	}
	du, err := disk.UsageWithContext(ctx, "/")
	if err != nil {
		return protocol.SystemMetrics{}, fmt.Errorf("read disk usage: %w", err)
	}

	return protocol.SystemMetrics{
		CPUPercent: cpuPercent,
		Memory:     protocol.MemoryUsage{Total: vm.Total, Used: vm.Used},
		Disk:       protocol.DiskUsage{Total: du.Total, Used: du.Used},
	}, nil
}
