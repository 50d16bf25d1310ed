// Package client implements the workstation side of the collector: it gathers
// host facts and reports lifecycle events to the server.
package client

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"strings"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// HostFacts identifies the workstation and its operating system.
type HostFacts struct {
	Username      string
	Hostname      string
	OSName        string
	OSVersion     string
	KernelVersion string
}

// HardwareInfo is the inventory sent with hardware events. Memory is in bytes,
// frequency in MHz.
type HardwareInfo struct {
	CPUCount     int    `json:"cpu_count"`
	CPUBrand     string `json:"cpu_brand,omitempty"`
	CPUFrequency uint64 `json:"cpu_frequency,omitempty"`
	MemoryTotal  uint64 `json:"memory_total"`
	MemoryUsed   uint64 `json:"memory_used"`
}

// Collector reads host facts. The probe functions default to gopsutil and
// can be replaced in tests.
type Collector struct {
	hostInfo    func(ctx context.Context) (*host.InfoStat, error)
	cpuInfo     func(ctx context.Context) ([]cpu.InfoStat, error)
	cpuCounts   func(ctx context.Context, logical bool) (int, error)
	virtualMem  func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	currentUser func() (string, error)
}

func NewCollector() *Collector {
	return &Collector{
		hostInfo:    host.InfoWithContext,
		cpuInfo:     cpu.InfoWithContext,
		cpuCounts:   cpu.CountsWithContext,
		virtualMem:  mem.VirtualMemoryWithContext,
		currentUser: currentUsername,
	}
}

// Facts collects identity and OS information. Missing pieces are left empty
// rather than failing the report.
func (c *Collector) Facts(ctx context.Context) (*HostFacts, error) {
	facts := &HostFacts{}

	name, err := c.currentUser()
	if err != nil {
		return nil, fmt.Errorf("failed to determine current user: %w", err)
	}
	facts.Username = name

	info, err := c.hostInfo(ctx)
	if err != nil {
		// Fall back to the kernel hostname; OS fields stay empty.
		if hn, hErr := os.Hostname(); hErr == nil {
			facts.Hostname = hn
		}
		return facts, nil
	}

	facts.Hostname = info.Hostname
	facts.OSName = info.Platform
	if facts.OSName == "" {
		facts.OSName = info.OS
	}
	facts.OSVersion = info.PlatformVersion
	facts.KernelVersion = info.KernelVersion

	return facts, nil
}

// Hardware collects the CPU and memory inventory.
func (c *Collector) Hardware(ctx context.Context) (*HardwareInfo, error) {
	hw := &HardwareInfo{}

	count, err := c.cpuCounts(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to count cpus: %w", err)
	}
	hw.CPUCount = count

	if infos, err := c.cpuInfo(ctx); err == nil && len(infos) > 0 {
		hw.CPUBrand = strings.TrimSpace(infos[0].ModelName)
		hw.CPUFrequency = uint64(infos[0].Mhz)
	}

	vm, err := c.virtualMem(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read memory stats: %w", err)
	}
	hw.MemoryTotal = vm.Total
	hw.MemoryUsed = vm.Used

	return hw, nil
}

// currentUsername returns the login name without any DOMAIN\ prefix.
func currentUsername() (string, error) {
	u, err := user.Current()
	if err != nil {
		return "", err
	}
	name := u.Username
	if i := strings.LastIndex(name, `\`); i >= 0 {
		name = name[i+1:]
	}
	return name, nil
}
