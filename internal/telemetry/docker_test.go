package telemetry

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/stretchr/testify/require"
)

func TestClassifyContainerStatus(t *testing.T) {
	tests := []struct {
		fullStatus string
		want       string
	}{
		{"Up 2 hours", "running"},
		{"Up 2 hours (healthy)", "healthy"},
		{"Up 10 minutes (unhealthy)", "unhealthy"},
		{"Up 5 minutes (Paused)", "paused"},
		{"Exited (0) 3 days ago", "stopped"},
		{"Exited (137) 2 minutes ago", "stopped"},
		{"Created", "created"},
		{"Restarting (1) 5 seconds ago", "unknown"},
		{"", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.fullStatus, func(t *testing.T) {
			require.Equal(t, tt.want, ClassifyContainerStatus(tt.fullStatus))
		})
	}
}

func TestFormatPorts(t *testing.T) {
	tests := []struct {
		name  string
		ports []container.Port
		want  string
	}{
		{"none", nil, ""},
		{
			"published",
			[]container.Port{{IP: "0.0.0.0", PrivatePort: 80, PublicPort: 8080, Type: "tcp"}},
			"0.0.0.0:8080->80/tcp",
		},
		{
			"published without ip",
			[]container.Port{{PrivatePort: 443, PublicPort: 443, Type: "tcp"}},
			"0.0.0.0:443->443/tcp",
		},
		{
			"exposed only",
			[]container.Port{{PrivatePort: 5432, Type: "tcp"}},
			"5432/tcp",
		},
		{
			"mixed",
			[]container.Port{
				{IP: "127.0.0.1", PrivatePort: 6379, PublicPort: 6379, Type: "tcp"},
				{PrivatePort: 53, Type: "udp"},
			},
			"127.0.0.1:6379->6379/tcp, 53/udp",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, FormatPorts(tt.ports))
		})
	}
}

func TestShortID(t *testing.T) {
	require.Equal(t, "0123456789ab", shortID("0123456789abcdef0123"))
	require.Equal(t, "abc", shortID("abc"))
}

// fakeDockerAPI overrides the few engine calls the log paths touch.
type fakeDockerAPI struct {
	client.APIClient

	tty        bool
	inspectErr error
	logData    []byte
}

func (f *fakeDockerAPI) ContainerInspect(_ context.Context, _ string) (container.InspectResponse, error) {
	if f.inspectErr != nil {
		return container.InspectResponse{}, f.inspectErr
	}
	return container.InspectResponse{Config: &container.Config{Tty: f.tty}}, nil
}

func (f *fakeDockerAPI) ContainerLogs(_ context.Context, _ string, _ container.LogsOptions) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.logData)), nil
}

func muxStream(t *testing.T, chunks ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	stdout := stdcopy.NewStdWriter(&buf, stdcopy.Stdout)
	stderr := stdcopy.NewStdWriter(&buf, stdcopy.Stderr)
	for i, chunk := range chunks {
		w := stdout
		if i%2 == 1 {
			w = stderr
		}
		_, err := w.Write([]byte(chunk))
		require.NoError(t, err)
	}
	return buf.Bytes()
}

func newTestEngine(api client.APIClient) *Engine {
	return NewEngineFromClient(api, slog.New(slog.DiscardHandler))
}

func TestContainerLogsDemultiplexesNonTTYStream(t *testing.T) {
	api := &fakeDockerAPI{tty: false}
	api.logData = muxStream(t, "hello ", "world\n", "second line\n")

	logs, err := newTestEngine(api).ContainerLogs(context.Background(), "abc123", 50)
	require.NoError(t, err)
	require.Equal(t, "hello world\nsecond line", logs)
}

func TestContainerLogsKeepsRawTTYStream(t *testing.T) {
	raw := "hello from a tty container\nno framing here\n"
	api := &fakeDockerAPI{tty: true, logData: []byte(raw)}

	logs, err := newTestEngine(api).ContainerLogs(context.Background(), "abc123", 50)
	require.NoError(t, err)
	require.Equal(t, "hello from a tty container\nno framing here", logs)
}

func TestContainerLogsEmptyStream(t *testing.T) {
	api := &fakeDockerAPI{tty: false}

	logs, err := newTestEngine(api).ContainerLogs(context.Background(), "abc123", 50)
	require.NoError(t, err)
	require.Empty(t, logs)
}

func TestContainerLogsMissingContainer(t *testing.T) {
	api := &fakeDockerAPI{inspectErr: errdefs.ErrNotFound}

	_, err := newTestEngine(api).ContainerLogs(context.Background(), "gone", 50)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
}

func TestFollowContainerLogsDemultiplexesLines(t *testing.T) {
	api := &fakeDockerAPI{tty: false}
	api.logData = muxStream(t, "first\n", "second\n")

	lines, err := newTestEngine(api).FollowContainerLogs(context.Background(), "abc123", 50)
	require.NoError(t, err)

	var got []string
	for line := range lines {
		got = append(got, line)
	}
	require.Equal(t, []string{"first", "second"}, got)
}

func TestCalculateContainerStats(t *testing.T) {
	sample := container.StatsResponse{
		CPUStats: container.CPUStats{
			CPUUsage:    container.CPUUsage{TotalUsage: 400},
			SystemUsage: 10000,
			OnlineCPUs:  2,
		},
		PreCPUStats: container.CPUStats{
			CPUUsage:    container.CPUUsage{TotalUsage: 200},
			SystemUsage: 9000,
		},
		MemoryStats: container.MemoryStats{
			Usage: 100 << 20,
			Stats: map[string]uint64{"total_inactive_file": 20 << 20},
		},
	}

	stats := CalculateContainerStats(sample)
	require.InDelta(t, 40.0, stats.CPUPercent, 0.001)
	require.Equal(t, uint64(80<<20), stats.MemoryBytes)
}

func TestCalculateContainerStatsEdgeCases(t *testing.T) {
	// No previous sample: the CPU percentage stays zero instead of reading
	// as total usage since boot.
	idle := CalculateContainerStats(container.StatsResponse{
		MemoryStats: container.MemoryStats{
			Usage: 10 << 20,
			Stats: map[string]uint64{"inactive_file": 2 << 20},
		},
	})
	require.Zero(t, idle.CPUPercent)
	require.Equal(t, uint64(8<<20), idle.MemoryBytes)

	// A cache figure larger than usage is never subtracted.
	odd := CalculateContainerStats(container.StatsResponse{
		MemoryStats: container.MemoryStats{
			Usage: 1 << 20,
			Stats: map[string]uint64{"total_inactive_file": 5 << 20},
		},
	})
	require.Equal(t, uint64(1<<20), odd.MemoryBytes)
}
