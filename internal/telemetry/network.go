package telemetry

import (
	"context"
	"fmt"

	gopsnet "github.com/shirou/gopsutil/v3/net"

	"hostwatch/internal/protocol"
)

// ReadNetworkStats collects aggregate interface counters since boot plus a
// best-effort per-process breakdown. Per-process byte attribution is not
// available from the kernel without packet accounting, so the breakdown
// carries connection counts only; the mapping is partial by design.
func ReadNetworkStats(ctx context.Context) (protocol.NetworkStats, error) {
	counters, err := gopsnet.IOCountersWithContext(ctx, false)
	if err != nil {
		return protocol.NetworkStats{}, fmt.Errorf("read net counters: %w", err)
	}

	stats := protocol.NetworkStats{
		ProcessNetwork: make(map[int32]protocol.ProcessNetwork),
	}
	if len(counters) > 0 {
		stats.TotalBytesSent = counters[0].BytesSent
		stats.TotalBytesRecv = counters[0].BytesRecv
	}

	conns, err := gopsnet.ConnectionsWithContext(ctx, "all")
	if err != nil {
		// Connection enumeration needs elevated privileges on some hosts;
		// totals alone are still a valid snapshot.
		return stats, nil
	}
	for _, conn := range conns {
		if conn.Pid == 0 {
			continue
		}
		pn := stats.ProcessNetwork[conn.Pid]
		pn.Connections++
		stats.ProcessNetwork[conn.Pid] = pn
	}
	return stats, nil
}
