package protocol

// SystemInfo is effectively immutable for the lifetime of a boot.
type SystemInfo struct {
	Hostname         string `json:"hostname"`
	OS               string `json:"os"`
	UptimeSeconds    uint64 `json:"uptime_seconds"`
	CPUCount         int    `json:"cpu_count"`
	TotalMemoryBytes uint64 `json:"total_memory_bytes"`
	Kernel           string `json:"kernel"`
}

type MemoryUsage struct {
	Total uint64 `json:"total"`
	Used  uint64 `json:"used"`
}

type DiskUsage struct {
	Total uint64 `json:"total"`
	Used  uint64 `json:"used"`
}

// SystemMetrics backs the always-visible summary and is collected every tick.
type SystemMetrics struct {
	CPUPercent float64     `json:"cpu_percent"`
	Memory     MemoryUsage `json:"memory"`
	Disk       DiskUsage   `json:"disk"`
}

// ProcessEntry is one row of the process table. Ordering is a presentation
// concern and not part of the entity.
type ProcessEntry struct {
	PID        int32   `json:"pid"`
	User       string  `json:"user"`
	Cmd        string  `json:"cmd"`
	CPUPercent float64 `json:"cpu_percent"`
	MemBytes   uint64  `json:"mem_bytes"`
}

type ContainerEntry struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Image      string `json:"image"`
	Status     string `json:"status"`
	Ports      string `json:"ports"`
	FullStatus string `json:"full_status"`
	Created    int64  `json:"created"`
}

// ContainerStats is a point-in-time resource sample for one container,
// served out-of-band rather than as a channel topic.
type ContainerStats struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
}

// ProcessNetwork is the per-process slice of the network snapshot. The
// mapping may be partial when the host lacks attribution for a process.
type ProcessNetwork struct {
	Connections int    `json:"connections"`
	BytesSent   uint64 `json:"bytes_sent"`
	BytesRecv   uint64 `json:"bytes_recv"`
}

type NetworkStats struct {
	TotalBytesSent uint64                   `json:"total_bytes_sent"`
	TotalBytesRecv uint64                   `json:"total_bytes_recv"`
	ProcessNetwork map[int32]ProcessNetwork `json:"process_network"`
}

// PowerRequest is the out-of-band REST body for power transitions.
type PowerRequest struct {
	Action string `json:"action"`
}

// StatusResponse is the generic REST outcome shape.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
