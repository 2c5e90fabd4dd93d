// Package hostinfo reads the keeper's own machine: CPU, memory, disks,
// network counters and temperature sensors.
package hostinfo

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/sensors"

	"github.com/wolfeidau/seedkeeper"
)

// Collector gathers a HostStatus. Host identity and memory are required;
// every other section is best effort and left empty when unreadable.
type Collector struct {
	logger *slog.Logger

	hostInfo      func(context.Context) (*host.InfoStat, error)
	cpuInfo       func(context.Context) ([]cpu.InfoStat, error)
	cpuCounts     func(context.Context, bool) (int, error)
	virtualMemory func(context.Context) (*mem.VirtualMemoryStat, error)
	swapMemory    func(context.Context) (*mem.SwapMemoryStat, error)
	partitions    func(context.Context, bool) ([]disk.PartitionStat, error)
	usage         func(context.Context, string) (*disk.UsageStat, error)
	netCounters   func(context.Context, bool) ([]net.IOCountersStat, error)
	temperatures  func(context.Context) ([]sensors.TemperatureStat, error)
}

// Option configures a Collector.
type Option func(*Collector)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Collector) {
		c.logger = logger
	}
}

// New creates a Collector reading from the running system.
func New(opts ...Option) *Collector {
	c := &Collector{
		logger:        slog.Default(),
		hostInfo:      host.InfoWithContext,
		cpuInfo:       cpu.InfoWithContext,
		cpuCounts:     cpu.CountsWithContext,
		virtualMemory: mem.VirtualMemoryWithContext,
		swapMemory:    mem.SwapMemoryWithContext,
		partitions:    disk.PartitionsWithContext,
		usage:         disk.UsageWithContext,
		netCounters:   net.IOCountersWithContext,
		temperatures:  sensors.TemperaturesWithContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "hostinfo")
	return c
}

// Collect reads the current host status.
func (c *Collector) Collect(ctx context.Context) (seedkeeper.HostStatus, error) {
	var hs seedkeeper.HostStatus

	info, err := c.hostInfo(ctx)
	if err != nil {
		return hs, fmt.Errorf("reading host info: %w", err)
	}
	hs.Hostname = info.Hostname
	hs.OS = info.OS
	hs.Platform = info.Platform
	hs.PlatformVer = info.PlatformVersion
	hs.KernelVersion = info.KernelVersion
	hs.Uptime = time.Duration(info.Uptime) * time.Second

	vm, err := c.virtualMemory(ctx)
	if err != nil {
		return hs, fmt.Errorf("reading memory: %w", err)
	}
	hs.MemoryUsed, hs.MemoryTotal = vm.Used, vm.Total

	if swap, err := c.swapMemory(ctx); err == nil {
		hs.SwapUsed, hs.SwapTotal = swap.Used, swap.Total
	} else {
		c.logger.Debug("reading swap", "error", err)
	}

	hs.CPUModel = "Unknown CPU"
	if cpus, err := c.cpuInfo(ctx); err == nil && len(cpus) > 0 && cpus[0].ModelName != "" {
		hs.CPUModel = cpus[0].ModelName
	} else if err != nil {
		c.logger.Debug("reading cpu info", "error", err)
	}
	if n, err := c.cpuCounts(ctx, true); err == nil {
		hs.CPUCores = n
	}

	hs.Disks = c.disks(ctx)
	hs.Networks = c.networks(ctx)
	hs.Temperatures = c.sensors(ctx)
	return hs, nil
}

func (c *Collector) disks(ctx context.Context) []seedkeeper.DiskUsage {
	parts, err := c.partitions(ctx, false)
	if err != nil {
		c.logger.Debug("listing partitions", "error", err)
		return nil
	}

	seen := make(map[string]struct{}, len(parts))
	var out []seedkeeper.DiskUsage
	for _, p := range parts {
		if _, ok := seen[p.Mountpoint]; ok {
			continue
		}
		seen[p.Mountpoint] = struct{}{}

		u, err := c.usage(ctx, p.Mountpoint)
		if err != nil || u.Total == 0 {
			continue
		}
		out = append(out, seedkeeper.DiskUsage{
			Mountpoint: p.Mountpoint,
			Fstype:     p.Fstype,
			Free:       u.Free,
			Total:      u.Total,
		})
	}
	slices.SortFunc(out, func(a, b seedkeeper.DiskUsage) int { return cmp.Compare(a.Mountpoint, b.Mountpoint) })
	return out
}

func (c *Collector) networks(ctx context.Context) []seedkeeper.NetworkUsage {
	counters, err := c.netCounters(ctx, true)
	if err != nil {
		c.logger.Debug("reading network counters", "error", err)
		return nil
	}

	var out []seedkeeper.NetworkUsage
	for _, n := range counters {
		if n.BytesRecv == 0 && n.BytesSent == 0 {
			continue
		}
		out = append(out, seedkeeper.NetworkUsage{Name: n.Name, Received: n.BytesRecv, Sent: n.BytesSent})
	}
	slices.SortFunc(out, func(a, b seedkeeper.NetworkUsage) int { return cmp.Compare(a.Name, b.Name) })
	return out
}

// sensors keeps whatever readings come back; sensor reads commonly fail
// for a few devices while the rest succeed.
func (c *Collector) sensors(ctx context.Context) []seedkeeper.Temperature {
	temps, err := c.temperatures(ctx)
	if err != nil {
		c.logger.Debug("reading temperatures", "error", err, "readings", len(temps))
	}

	out := make([]seedkeeper.Temperature, 0, len(temps))
	for _, t := range temps {
		if t.Temperature <= 0 {
			continue
		}
		out = append(out, seedkeeper.Temperature{Label: t.SensorKey, Current: t.Temperature, High: t.High})
	}
	if len(out) == 0 {
		return nil
	}
	slices.SortFunc(out, func(a, b seedkeeper.Temperature) int { return cmp.Compare(a.Label, b.Label) })
	return out
}
