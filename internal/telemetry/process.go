package telemetry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"hostwatch/internal/protocol"
)

const (
	// maxScannedProcesses bounds one enumeration pass on very busy hosts.
	maxScannedProcesses = 2000
	maxCmdLength        = 100
	killWaitTimeout     = 5 * time.Second
)

// ReadProcesses enumerates the process table and trims it to the heaviest
// entries. For the default small limit the result interleaves the top CPU
// and top memory consumers so both views stay represented; larger limits
// sort by CPU share alone.
func ReadProcesses(ctx context.Context, limit int) ([]protocol.ProcessEntry, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate processes: %w", err)
	}

	entries := make([]protocol.ProcessEntry, 0, len(procs))
	for _, p := range procs {
		entry, ok := readProcessEntry(ctx, p)
		if !ok {
			continue
		}
		entries = append(entries, entry)
		if len(entries) >= maxScannedProcesses {
			break
		}
	}

	return TrimProcesses(entries, limit), nil
}

func readProcessEntry(ctx context.Context, p *process.Process) (protocol.ProcessEntry, bool) {
	// A process can vanish between enumeration and inspection; skip it.
	cmd, err := p.CmdlineWithContext(ctx)
	if err != nil || cmd == "" {
		name, nameErr := p.NameWithContext(ctx)
		if nameErr != nil {
			return protocol.ProcessEntry{}, false
		}
		cmd = name
	}
	if len(cmd) > maxCmdLength {
		cmd = cmd[:maxCmdLength]
	}

	user, err := p.UsernameWithContext(ctx)
	if err != nil || strings.TrimSpace(user) == "" {
		user = "unknown"
	}

	cpuPercent, err := p.CPUPercentWithContext(ctx)
	if err != nil {
		cpuPercent = 0
	}
	var memBytes uint64
	if mi, err := p.MemoryInfoWithContext(ctx); err == nil && mi != nil {
		memBytes = mi.RSS
	}

	return protocol.ProcessEntry{
		PID:        p.Pid,
		User:       user,
		Cmd:        cmd,
		CPUPercent: cpuPercent,
		MemBytes:   memBytes,
	}, true
}

// TrimProcesses reduces a full process table to at most limit entries.
func TrimProcesses(entries []protocol.ProcessEntry, limit int) []protocol.ProcessEntry {
	if limit <= 0 {
		limit = 20
	}
	if limit > 20 {
		sorted := append([]protocol.ProcessEntry(nil), entries...)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].CPUPercent > sorted[j].CPUPercent
		})
		if len(sorted) > limit {
			sorted = sorted[:limit]
		}
		return sorted
	}

	byCPU := append([]protocol.ProcessEntry(nil), entries...)
	sort.SliceStable(byCPU, func(i, j int) bool {
		return byCPU[i].CPUPercent > byCPU[j].CPUPercent
	})
	byMem := append([]protocol.ProcessEntry(nil), entries...)
	sort.SliceStable(byMem, func(i, j int) bool {
		return byMem[i].MemBytes > byMem[j].MemBytes
	})

	half := limit / 2
	if half > len(byCPU) {
		half = len(byCPU)
	}

	combined := make([]protocol.ProcessEntry, 0, limit)
	seen := make(map[int32]bool, limit)
	for _, e := range append(byCPU[:half:half], byMem...) {
		if seen[e.PID] {
			continue
		}
		seen[e.PID] = true
		combined = append(combined, e)
		if len(combined) >= limit {
			break
		}
	}
	return combined
}

// KillProcess terminates a process: SIGTERM first, escalating to SIGKILL
// when the process does not exit within the grace window.
func (s *HostSource) KillProcess(ctx context.Context, pid int32) error {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return fmt.Errorf("process not found")
	}
	if err := p.TerminateWithContext(ctx); err != nil {
		return fmt.Errorf("terminate process %d: %w", pid, err)
	}

	deadline := time.Now().Add(killWaitTimeout)
	for time.Now().Before(deadline) {
		running, err := p.IsRunningWithContext(ctx)
		if err != nil || !running {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	if err := p.KillWithContext(ctx); err != nil {
		return fmt.Errorf("kill process %d: %w", pid, err)
	}
	return nil
}
