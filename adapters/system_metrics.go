package adapters

import (
	"github.com/james-bug/DMS-Client/application"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
)

// SystemMetrics reads host statistics for the heartbeat publisher. Each
// probe is independent: a failing one leaves its field zero and the first
// error is returned alongside whatever was measured.
type SystemMetrics struct{}

func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{}
}

func (m *SystemMetrics) Collect() (application.SystemStats, error) {
	var stats application.SystemStats
	var firstErr error

	uptime, err := host.Uptime()
	if err != nil {
		firstErr = err
	} else {
		stats.Uptime = uptime
	}

	if percents, err := cpu.Percent(0, false); err != nil {
		if firstErr == nil {
			firstErr = err
		}
	} else if len(percents) > 0 {
		stats.CPUUsage = percents[0]
	}

	if vm, err := mem.VirtualMemory(); err != nil {
		if firstErr == nil {
			firstErr = err
		}
	} else {
		stats.MemoryUsage = vm.UsedPercent
	}

	if counters, err := net.IOCounters(false); err != nil {
		if firstErr == nil {
			firstErr = err
		}
	} else if len(counters) > 0 {
		stats.NetworkSent = counters[0].BytesSent
		stats.NetworkReceived = counters[0].BytesRecv
	}

	return stats, firstErr
}

var _ application.SystemMetrics = &SystemMetrics{}
