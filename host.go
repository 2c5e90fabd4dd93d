package seedkeeper

import "time"

// HostStatus describes the machine the keeper runs on.
type HostStatus struct {
	Hostname      string        `json:"hostname"`
	OS            string        `json:"os"`
	Platform      string        `json:"platform"`
	PlatformVer   string        `json:"platform_version"`
	KernelVersion string        `json:"kernel_version"`
	Uptime        time.Duration `json:"uptime"`

	CPUModel string `json:"cpu_model"`
	CPUCores int    `json:"cpu_cores"`

	MemoryUsed  uint64 `json:"memory_used"`
	MemoryTotal uint64 `json:"memory_total"`
	SwapUsed    uint64 `json:"swap_used"`
	SwapTotal   uint64 `json:"swap_total"`

	Disks        []DiskUsage    `json:"disks,omitempty"`
	Networks     []NetworkUsage `json:"networks,omitempty"`
	Temperatures []Temperature  `json:"temperatures,omitempty"`
}

// DiskUsage is the space on one mounted filesystem.
type DiskUsage struct {
	Mountpoint string `json:"mountpoint"`
	Fstype     string `json:"fstype"`
	Free       uint64 `json:"free"`
	Total      uint64 `json:"total"`
}

// NetworkUsage is the traffic counted on one interface since boot.
type NetworkUsage struct {
	Name     string `json:"name"`
	Received uint64 `json:"received"`
	Sent     uint64 `json:"sent"`
}

// Temperature is one sensor reading in degrees Celsius.
type Temperature struct {
	Label   string  `json:"label"`
	Current float64 `json:"current"`
	High    float64 `json:"high,omitempty"`
}

// Clone returns a deep copy.
func (h HostStatus) Clone() HostStatus {
	h.Disks = append([]DiskUsage(nil), h.Disks...)
	h.Networks = append([]NetworkUsage(nil), h.Networks...)
	h.Temperatures = append([]Temperature(nil), h.Temperatures...)
	return h
}
