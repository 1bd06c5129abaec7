package application

// SystemStats are the host measurements folded into the reported state.
type SystemStats struct {
	Uptime          uint64
	CPUUsage        float64
	MemoryUsage     float64
	NetworkSent     uint64
	NetworkReceived uint64
}

// SystemMetrics supplies local host measurements for the heartbeat
// publisher. Collect is best-effort: implementations return whatever they
// could measure plus the first error encountered.
type SystemMetrics interface {
	Collect() (SystemStats, error)
}
