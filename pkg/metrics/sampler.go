package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
)

// Sample is one reading of the host.
type Sample struct {
	CPUPercent   float64
	CPUCount     int
	MemTotal     uint64
	MemAvailable uint64
	MemPercent   float64
	DiskTotal    uint64
	DiskUsed     uint64
	DiskFree     uint64
	DiskPercent  float64
	NetSent      uint64
	NetRecv      uint64
}

type Sampler interface {
	Sample(ctx context.Context) (*Sample, error)
	Platform(ctx context.Context) string
}

// HostSampler reads the host through gopsutil.
type HostSampler struct {
	// DiskPath is the mount whose usage is reported.
	DiskPath string
	// CPUInterval is how long cpu usage is measured for.
	CPUInterval time.Duration
}

func NewHostSampler(diskPath string) *HostSampler {
	if diskPath == "" {
		diskPath = "/"
	}
	return &HostSampler{DiskPath: diskPath, CPUInterval: time.Second}
}

func (h *HostSampler) Sample(ctx context.Context) (*Sample, error) {
	s := &Sample{}

	percent, err := cpu.PercentWithContext(ctx, h.CPUInterval, false)
	if err != nil {
		return nil, fmt.Errorf("cpu percent: %w", err)
	}
	if len(percent) > 0 {
		s.CPUPercent = percent[0]
	}
	if s.CPUCount, err = cpu.CountsWithContext(ctx, true); err != nil {
		return nil, fmt.Errorf("cpu count: %w", err)
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("virtual memory: %w", err)
	}
	s.MemTotal, s.MemAvailable, s.MemPercent = vm.Total, vm.Available, vm.UsedPercent

	du, err := disk.UsageWithContext(ctx, h.DiskPath)
	if err != nil {
		return nil, fmt.Errorf("disk usage %s: %w", h.DiskPath, err)
	}
	s.DiskTotal, s.DiskUsed, s.DiskFree, s.DiskPercent = du.Total, du.Used, du.Free, du.UsedPercent

	io, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("net io: %w", err)
	}
	if len(io) > 0 {
		s.NetSent, s.NetRecv = io[0].BytesSent, io[0].BytesRecv
	}

	return s, nil
}

func (h *HostSampler) Platform(ctx context.Context) string {
	info, err := host.InfoWithContext(ctx)
	if err != nil {
		return "unknown"
	}
	return fmt.Sprintf("%s-%s-%s-%s", info.OS, info.Platform, info.PlatformVersion, info.KernelArch)
}
