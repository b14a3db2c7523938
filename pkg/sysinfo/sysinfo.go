// Package sysinfo captures a host snapshot recorded alongside each run
// so results can be traced back to the machine that produced them.
package sysinfo

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// Snapshot describes the execution host.
type Snapshot struct {
	Hostname      string `json:"hostname"`
	Platform      string `json:"platform"`
	KernelVersion string `json:"kernel_version"`
	CPUModel      string `json:"cpu_model"`
	CPUCores      int    `json:"cpu_cores"`
	TotalMemory   uint64 `json:"total_memory_bytes"`
	GoVersion     string `json:"go_version"`
	Arch          string `json:"arch"`
}

// Collect gathers the snapshot. Collection is best-effort: fields the
// platform cannot report stay zero, and Collect itself never fails.
func Collect(ctx context.Context) *Snapshot {
	snap := &Snapshot{
		GoVersion: runtime.Version(),
		Arch:      runtime.GOARCH,
		CPUCores:  runtime.NumCPU(),
	}

	if info, err := host.InfoWithContext(ctx); err == nil {
		snap.Hostname = info.Hostname
		snap.Platform = info.Platform + " " + info.PlatformVersion
		snap.KernelVersion = info.KernelVersion
	}

	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
		snap.CPUModel = cpus[0].ModelName
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.TotalMemory = vm.Total
	}

	return snap
}
