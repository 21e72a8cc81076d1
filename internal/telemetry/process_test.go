package telemetry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"hostwatch/internal/protocol"
)

func entry(pid int32, cpu float64, mem uint64) protocol.ProcessEntry {
	return protocol.ProcessEntry{PID: pid, CPUPercent: cpu, MemBytes: mem}
}

func pids(entries []protocol.ProcessEntry) []int32 {
	out := make([]int32, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.PID)
	}
	return out
}

func TestTrimProcessesInterleavesCPUAndMemory(t *testing.T) {
	entries := []protocol.ProcessEntry{
		entry(1, 90, 10),
		entry(2, 80, 20),
		entry(3, 1, 900),
		entry(4, 2, 800),
		entry(5, 3, 5),
		entry(6, 4, 6),
	}

	got := TrimProcesses(entries, 4)
	require.Len(t, got, 4)

	// Top-CPU half first, then top-memory entries fill the rest.
	require.Equal(t, []int32{1, 2, 3, 4}, pids(got))
}

func TestTrimProcessesDeduplicatesAcrossHalves(t *testing.T) {
	// PID 1 leads both rankings and must appear only once.
	entries := []protocol.ProcessEntry{
		entry(1, 90, 900),
		entry(2, 80, 20),
		entry(3, 1, 800),
		entry(4, 2, 700),
	}

	got := TrimProcesses(entries, 4)
	require.Equal(t, []int32{1, 2, 3, 4}, pids(got))
}

func TestTrimProcessesLargeLimitSortsByCPU(t *testing.T) {
	entries := []protocol.ProcessEntry{
		entry(1, 5, 0),
		entry(2, 50, 0),
		entry(3, 10, 0),
	}

	got := TrimProcesses(entries, 25)
	require.Equal(t, []int32{2, 3, 1}, pids(got))
}

func TestTrimProcessesShortTable(t *testing.T) {
	entries := []protocol.ProcessEntry{entry(1, 5, 5), entry(2, 1, 1)}

	require.Len(t, TrimProcesses(entries, 20), 2)
	require.Empty(t, TrimProcesses(nil, 20))
}

func TestTrimProcessesDefaultsNonPositiveLimit(t *testing.T) {
	entries := make([]protocol.ProcessEntry, 0, 40)
	for i := int32(1); i <= 40; i++ {
		entries = append(entries, entry(i, float64(i), uint64(i)))
	}

	require.Len(t, TrimProcesses(entries, 0), 20)
	require.Len(t, TrimProcesses(entries, -1), 20)
}
