package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"hostwatch/internal/config"
	"hostwatch/internal/protocol"
	"hostwatch/internal/telemetry"
)

// fakeCollaborator scripts the telemetry layer for handler and session
// tests.
type fakeCollaborator struct {
	mu sync.Mutex

	info       protocol.SystemInfo
	metrics    protocol.SystemMetrics
	processes  []protocol.ProcessEntry
	containers []protocol.ContainerEntry
	network    protocol.NetworkStats
	collectErr map[protocol.Topic]error
	limits     []int

	killErr   error
	killed    []int32
	actionErr error
	actions   []string

	stats    protocol.ContainerStats
	statsErr error

	logs      string
	logsErr   error
	followSrc chan string
	followErr error
}

func newFakeCollaborator() *fakeCollaborator {
	return &fakeCollaborator{
		info:       protocol.SystemInfo{Hostname: "node1", OS: "linux", CPUCount: 8},
		metrics:    protocol.SystemMetrics{CPUPercent: 12.5},
		processes:  []protocol.ProcessEntry{{PID: 1, User: "root", Cmd: "init"}},
		containers: []protocol.ContainerEntry{{ID: "abc123def456", Name: "web", Status: "running"}},
		collectErr: make(map[protocol.Topic]error),
		stats:      protocol.ContainerStats{CPUPercent: 7.5, MemoryBytes: 64 << 20},
		logs:       "line1\nline2",
		followSrc:  make(chan string, 16),
	}
}

func (f *fakeCollaborator) Collect(_ context.Context, topic protocol.Topic, limit int) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.collectErr[topic]; err != nil {
		return nil, err
	}
	switch topic {
	case protocol.TopicSystemInfo:
		return f.info, nil
	case protocol.TopicMetrics:
		return f.metrics, nil
	case protocol.TopicProcesses:
		f.limits = append(f.limits, limit)
		return f.processes, nil
	case protocol.TopicContainers:
		return f.containers, nil
	case protocol.TopicNetwork:
		return f.network, nil
	}
	return nil, fmt.Errorf("unknown topic %q", topic)
}

func (f *fakeCollaborator) KillProcess(_ context.Context, pid int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.killErr != nil {
		return f.killErr
	}
	f.killed = append(f.killed, pid)
	return nil
}

func (f *fakeCollaborator) ContainerAction(_ context.Context, containerID, action string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.actionErr != nil {
		return "", f.actionErr
	}
	f.actions = append(f.actions, containerID+":"+action)
	return fmt.Sprintf("Container %s completed", action), nil
}

func (f *fakeCollaborator) ContainerStats(_ context.Context, _ string) (protocol.ContainerStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statsErr != nil {
		return protocol.ContainerStats{}, f.statsErr
	}
	return f.stats, nil
}

func (f *fakeCollaborator) ContainerLogs(_ context.Context, _ string, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.logsErr != nil {
		return "", f.logsErr
	}
	return f.logs, nil
}

func (f *fakeCollaborator) FollowContainerLogs(ctx context.Context, _ string, _ int) (<-chan string, error) {
	f.mu.Lock()
	src := f.followSrc
	err := f.followErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make(chan string)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case line, ok := <-src:
				if !ok {
					return
				}
				select {
				case out <- line:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (f *fakeCollaborator) recordedLimits() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.limits...)
}

func (f *fakeCollaborator) recordedKills() []int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int32(nil), f.killed...)
}

func (f *fakeCollaborator) recordedActions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.actions...)
}

func testServerConfig() config.Config {
	return config.Config{
		ListenAddr:   "127.0.0.1:0",
		ProcessLimit: 20,
		LogTail:      100,
		WriteTimeout: 2 * time.Second,
	}
}

func newTestServer(source collaborator) *Server {
	logger := slog.New(slog.DiscardHandler)
	power := telemetry.NewPowerManager(nil, "hostwatch.managed", 0, logger)
	return NewServer(testServerConfig(), source, power, NewHealthStatus(), logger)
}
