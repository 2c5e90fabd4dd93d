package hostinfo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/sensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/seedkeeper"
)

func fakeCollector() *Collector {
	c := New(WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	c.hostInfo = func(context.Context) (*host.InfoStat, error) {
		return &host.InfoStat{Hostname: "seedbox", OS: "linux", Platform: "debian", PlatformVersion: "12", KernelVersion: "6.1.0", Uptime: 90061}, nil
	}
	c.cpuInfo = func(context.Context) ([]cpu.InfoStat, error) {
		return []cpu.InfoStat{{ModelName: "Example CPU @ 3.0GHz"}}, nil
	}
	c.cpuCounts = func(context.Context, bool) (int, error) { return 8, nil }
	c.virtualMemory = func(context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Used: 3 << 30, Total: 16 << 30}, nil
	}
	c.swapMemory = func(context.Context) (*mem.SwapMemoryStat, error) {
		return &mem.SwapMemoryStat{Used: 0, Total: 2 << 30}, nil
	}
	c.partitions = func(context.Context, bool) ([]disk.PartitionStat, error) {
		return []disk.PartitionStat{
			{Mountpoint: "/srv", Fstype: "xfs"},
			{Mountpoint: "/", Fstype: "ext4"},
			{Mountpoint: "/srv", Fstype: "xfs"},
			{Mountpoint: "/proc", Fstype: "proc"},
		}, nil
	}
	c.usage = func(_ context.Context, path string) (*disk.UsageStat, error) {
		switch path {
		case "/":
			return &disk.UsageStat{Free: 20 << 30, Total: 50 << 30}, nil
		case "/srv":
			return &disk.UsageStat{Free: 1 << 40, Total: 4 << 40}, nil
		default:
			return &disk.UsageStat{}, nil
		}
	}
	c.netCounters = func(context.Context, bool) ([]net.IOCountersStat, error) {
		return []net.IOCountersStat{
			{Name: "eth0", BytesRecv: 500, BytesSent: 900},
			{Name: "docker0"},
			{Name: "eth1", BytesRecv: 1},
		}, nil
	}
	c.temperatures = func(context.Context) ([]sensors.TemperatureStat, error) {
		return []sensors.TemperatureStat{
			{SensorKey: "nvme_composite", Temperature: 41, High: 80},
			{SensorKey: "coretemp_package_id_0", Temperature: 55, High: 100},
			{SensorKey: "acpitz", Temperature: 0},
		}, errors.New("some sensors unreadable")
	}
	return c
}

func TestCollect(t *testing.T) {
	hs, err := fakeCollector().Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "seedbox", hs.Hostname)
	assert.Equal(t, "debian", hs.Platform)
	assert.Equal(t, 25*time.Hour+time.Minute+time.Second, hs.Uptime)
	assert.Equal(t, "Example CPU @ 3.0GHz", hs.CPUModel)
	assert.Equal(t, 8, hs.CPUCores)
	assert.Equal(t, uint64(16<<30), hs.MemoryTotal)
	assert.Equal(t, uint64(2<<30), hs.SwapTotal)

	// sorted by mountpoint, duplicates and empty filesystems dropped
	require.Len(t, hs.Disks, 2)
	assert.Equal(t, "/", hs.Disks[0].Mountpoint)
	assert.Equal(t, seedkeeper.DiskUsage{Mountpoint: "/srv", Fstype: "xfs", Free: 1 << 40, Total: 4 << 40}, hs.Disks[1])

	require.Len(t, hs.Networks, 2)
	assert.Equal(t, "eth0", hs.Networks[0].Name)
	assert.Equal(t, "eth1", hs.Networks[1].Name)

	// partial sensor failures keep the readings that came back
	require.Len(t, hs.Temperatures, 2)
	assert.Equal(t, "coretemp_package_id_0", hs.Temperatures[0].Label)
}

func TestCollect_RequiredSections(t *testing.T) {
	c := fakeCollector()
	c.hostInfo = func(context.Context) (*host.InfoStat, error) { return nil, errors.New("no /proc") }
	_, err := c.Collect(context.Background())
	require.ErrorContains(t, err, "reading host info")

	c = fakeCollector()
	c.virtualMemory = func(context.Context) (*mem.VirtualMemoryStat, error) { return nil, errors.New("denied") }
	_, err = c.Collect(context.Background())
	require.ErrorContains(t, err, "reading memory")
}

func TestCollect_OptionalSectionsDegrade(t *testing.T) {
	c := fakeCollector()
	c.cpuInfo = func(context.Context) ([]cpu.InfoStat, error) { return nil, errors.New("no cpuinfo") }
	c.partitions = func(context.Context, bool) ([]disk.PartitionStat, error) { return nil, errors.New("no mounts") }
	c.netCounters = func(context.Context, bool) ([]net.IOCountersStat, error) { return nil, errors.New("no net") }
	c.temperatures = func(context.Context) ([]sensors.TemperatureStat, error) { return nil, errors.New("no sensors") }

	hs, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Unknown CPU", hs.CPUModel)
	assert.Nil(t, hs.Disks)
	assert.Nil(t, hs.Networks)
	assert.Nil(t, hs.Temperatures)
	assert.Equal(t, "seedbox", hs.Hostname)
}
