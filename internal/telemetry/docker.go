package telemetry

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	dockerfilters "github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"hostwatch/internal/protocol"
)

// Engine wraps the Docker Engine API for container observation and control.
type Engine struct {
	cli    client.APIClient
	logger *slog.Logger
}

// NewEngine creates an Engine with a new Docker client from the environment.
func NewEngine(logger *slog.Logger) (*Engine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Engine{cli: cli, logger: logger}, nil
}

// NewEngineFromClient wraps an existing Docker API client.
func NewEngineFromClient(cli client.APIClient, logger *slog.Logger) *Engine {
	return &Engine{cli: cli, logger: logger}
}

// Ping verifies the engine is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	if _, err := e.cli.Ping(ctx); err != nil {
		return fmt.Errorf("ping docker engine: %w", err)
	}
	return nil
}

// ListContainers returns every container on the host, running or not.
func (e *Engine) ListContainers(ctx context.Context) ([]protocol.ContainerEntry, error) {
	containers, err := e.cli.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	out := make([]protocol.ContainerEntry, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		out = append(out, protocol.ContainerEntry{
			ID:         shortID(c.ID),
			Name:       name,
			Image:      c.Image,
			Status:     ClassifyContainerStatus(c.Status),
			Ports:      FormatPorts(c.Ports),
			FullStatus: c.Status,
			Created:    c.Created,
		})
	}
	return out, nil
}

// ContainerAction applies a lifecycle transition and returns a
// human-readable outcome message.
func (e *Engine) ContainerAction(ctx context.Context, containerID, action string) (string, error) {
	var err error
	switch action {
	case "start":
		err = e.cli.ContainerStart(ctx, containerID, container.StartOptions{})
	case "stop":
		err = e.cli.ContainerStop(ctx, containerID, container.StopOptions{})
	case "restart":
		err = e.cli.ContainerRestart(ctx, containerID, container.StopOptions{})
	default:
		return "", fmt.Errorf("invalid container action %q", action)
	}
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", fmt.Errorf("container %s not found", containerID)
		}
		return "", fmt.Errorf("%s container %s: %w", action, containerID, err)
	}
	return fmt.Sprintf("Container %s completed", action), nil
}

// containerTty reports whether the container was created with a TTY. TTY
// log streams are raw bytes; everything else carries the engine's stream
// multiplexing.
func (e *Engine) containerTty(ctx context.Context, containerID string) (bool, error) {
	info, err := e.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, fmt.Errorf("container %s not found", containerID)
		}
		return false, fmt.Errorf("inspect container %s: %w", containerID, err)
	}
	return info.Config != nil && info.Config.Tty, nil
}

// ContainerLogs fetches one tail-bounded chunk of a container's logs.
func (e *Engine) ContainerLogs(ctx context.Context, containerID string, tail int) (string, error) {
	tty, err := e.containerTty(ctx, containerID)
	if err != nil {
		return "", err
	}
	opts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       fmt.Sprintf("%d", tail),
	}
	rc, err := e.cli.ContainerLogs(ctx, containerID, opts)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return "", fmt.Errorf("container %s not found", containerID)
		}
		return "", fmt.Errorf("container logs %s: %w", containerID, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(logStream(rc, tty))
	if err != nil {
		return "", fmt.Errorf("read container logs %s: %w", containerID, err)
	}
	return string(bytes.TrimRight(data, "\n")), nil
}

// FollowContainerLogs streams log lines until ctx is canceled or the stream
// ends. The returned channel is closed on termination.
func (e *Engine) FollowContainerLogs(ctx context.Context, containerID string, tail int) (<-chan string, error) {
	tty, err := e.containerTty(ctx, containerID)
	if err != nil {
		return nil, err
	}
	opts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Tail:       fmt.Sprintf("%d", tail),
	}
	rc, err := e.cli.ContainerLogs(ctx, containerID, opts)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("container %s not found", containerID)
		}
		return nil, fmt.Errorf("follow container logs %s: %w", containerID, err)
	}

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		defer rc.Close()

		scanner := bufio.NewScanner(logStream(rc, tty))
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			case lines <- scanner.Text():
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			e.logger.Debug("log follow stream ended", "container_id", containerID, "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		_ = rc.Close()
	}()

	return lines, nil
}

// ContainerStats samples one container's CPU and memory usage. The
// non-streaming stats call primes the previous-sample fields, so the CPU
// percentage is computed over a real interval.
func (e *Engine) ContainerStats(ctx context.Context, containerID string) (protocol.ContainerStats, error) {
	reader, err := e.cli.ContainerStats(ctx, containerID, false)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return protocol.ContainerStats{}, fmt.Errorf("container %s not found", containerID)
		}
		return protocol.ContainerStats{}, fmt.Errorf("container stats %s: %w", containerID, err)
	}
	defer reader.Body.Close()

	var sample container.StatsResponse
	if err := json.NewDecoder(reader.Body).Decode(&sample); err != nil {
		return protocol.ContainerStats{}, fmt.Errorf("decode container stats %s: %w", containerID, err)
	}
	return CalculateContainerStats(sample), nil
}

// CalculateContainerStats folds an engine stats sample into the wire shape,
// using the same CPU delta and cache-adjusted memory math as `docker stats`.
func CalculateContainerStats(sample container.StatsResponse) protocol.ContainerStats {
	var cpuPercent float64
	cpuDelta := float64(sample.CPUStats.CPUUsage.TotalUsage) - float64(sample.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(sample.CPUStats.SystemUsage) - float64(sample.PreCPUStats.SystemUsage)
	onlineCPUs := float64(sample.CPUStats.OnlineCPUs)
	if onlineCPUs == 0 {
		onlineCPUs = float64(len(sample.CPUStats.CPUUsage.PercpuUsage))
	}
	if cpuDelta > 0 && systemDelta > 0 {
		cpuPercent = cpuDelta / systemDelta * onlineCPUs * 100
	}

	mem := sample.MemoryStats.Usage
	// cgroup v1 reports total_inactive_file, v2 reports inactive_file.
	if cache, ok := sample.MemoryStats.Stats["total_inactive_file"]; ok && cache < mem {
		mem -= cache
	} else if cache, ok := sample.MemoryStats.Stats["inactive_file"]; ok && cache < mem {
		mem -= cache
	}

	return protocol.ContainerStats{CPUPercent: cpuPercent, MemoryBytes: mem}
}

// StopManaged gracefully stops every container carrying the managed label.
// Used before power transitions.
func (e *Engine) StopManaged(ctx context.Context, label string) error {
	filters := dockerfilters.NewArgs()
	filters.Add("label", label)
	containers, err := e.cli.ContainerList(ctx, container.ListOptions{Filters: filters})
	if err != nil {
		return fmt.Errorf("list managed containers: %w", err)
	}

	var firstErr error
	for _, c := range containers {
		if stopErr := e.cli.ContainerStop(ctx, c.ID, container.StopOptions{}); stopErr != nil && firstErr == nil {
			firstErr = fmt.Errorf("stop managed container %s: %w", shortID(c.ID), stopErr)
		}
	}
	return firstErr
}

// ClassifyContainerStatus folds the engine's human status string into the
// lifecycle vocabulary shown in the container view.
func ClassifyContainerStatus(fullStatus string) string {
	switch {
	case strings.Contains(fullStatus, "Up"):
		switch {
		case strings.Contains(fullStatus, "Paused"):
			return "paused"
		case strings.Contains(fullStatus, "unhealthy"):
			return "unhealthy"
		case strings.Contains(fullStatus, "healthy"):
			return "healthy"
		default:
			return "running"
		}
	case strings.Contains(fullStatus, "Exited"):
		return "stopped"
	case strings.Contains(fullStatus, "Created"):
		return "created"
	default:
		return "unknown"
	}
}

// FormatPorts renders published ports the way `docker ps` does.
func FormatPorts(ports []container.Port) string {
	parts := make([]string, 0, len(ports))
	for _, p := range ports {
		if p.PublicPort != 0 {
			host := p.IP
			if host == "" {
				host = "0.0.0.0"
			}
			parts = append(parts, fmt.Sprintf("%s:%d->%d/%s", host, p.PublicPort, p.PrivatePort, p.Type))
		} else {
			parts = append(parts, fmt.Sprintf("%d/%s", p.PrivatePort, p.Type))
		}
	}
	return strings.Join(parts, ", ")
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// logStream returns plain log bytes from an engine log stream. Non-TTY
// streams are demultiplexed with stdcopy, stdout and stderr interleaved in
// arrival order; TTY streams are already raw.
func logStream(r io.Reader, tty bool) io.Reader {
	if tty {
		return r
	}
	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, r)
		pw.CloseWithError(err)
	}()
	return pr
}
