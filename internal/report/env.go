package report

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// Environment describes the machine a run executed on.
type Environment struct {
	Hostname      string  `json:"hostname,omitempty"`
	OS            string  `json:"os"`
	Arch          string  `json:"arch"`
	Platform      string  `json:"platform,omitempty"`
	KernelVersion string  `json:"kernel_version,omitempty"`
	GoVersion     string  `json:"go_version"`
	LogicalCPUs   int     `json:"logical_cpus,omitempty"`
	MemoryTotalMB uint64  `json:"memory_total_mb,omitempty"`
	MemoryUsedPct float64 `json:"memory_used_pct,omitempty"`
	CI            bool    `json:"ci,omitempty"`
}

// CollectEnvironment gathers host details. Probes that fail leave their
// fields empty.
func CollectEnvironment(ctx context.Context, ci bool) Environment {
	env := Environment{
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		GoVersion: runtime.Version(),
		CI:        ci,
	}
	if info, err := host.InfoWithContext(ctx); err == nil {
		env.Hostname = info.Hostname
		env.Platform = info.Platform
		if info.PlatformVersion != "" {
			env.Platform += " " + info.PlatformVersion
		}
		env.KernelVersion = info.KernelVersion
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		env.LogicalCPUs = n
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		env.MemoryTotalMB = vm.Total / (1024 * 1024)
		env.MemoryUsedPct = vm.UsedPercent
	}
	return env
}
