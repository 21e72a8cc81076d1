// Package telemetry produces point-in-time snapshots of host state and
// executes the mutating counterparts (kill, container lifecycle, power).
package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"hostwatch/internal/protocol"
)

// Source is the collection contract: one snapshot per topic on demand.
type Source interface {
	Collect(ctx context.Context, topic protocol.Topic, limit int) (any, error)
}

// Actions is the mutating counterpart to Source.
type Actions interface {
	KillProcess(ctx context.Context, pid int32) error
	ContainerAction(ctx context.Context, containerID, action string) (string, error)
	ContainerStats(ctx context.Context, containerID string) (protocol.ContainerStats, error)
	ContainerLogs(ctx context.Context, containerID string, tail int) (string, error)
	FollowContainerLogs(ctx context.Context, containerID string, tail int) (<-chan string, error)
}

// HostSource collects from the local kernel and, when available, the Docker
// engine. A nil engine degrades container topics to errors instead of
// failing the whole source.
type HostSource struct {
	logger *slog.Logger
	engine *Engine
}

func NewHostSource(engine *Engine, logger *slog.Logger) *HostSource {
	return &HostSource{logger: logger, engine: engine}
}

func (s *HostSource) Collect(ctx context.Context, topic protocol.Topic, limit int) (any, error) {
	switch topic {
	case protocol.TopicSystemInfo:
		return ReadSystemInfo(ctx)
	case protocol.TopicMetrics:
		return ReadSystemMetrics(ctx)
	case protocol.TopicProcesses:
		return ReadProcesses(ctx, limit)
	case protocol.TopicContainers:
		if s.engine == nil {
			return nil, fmt.Errorf("docker engine unavailable")
		}
		return s.engine.ListContainers(ctx)
	case protocol.TopicNetwork:
		return ReadNetworkStats(ctx)
	}
	return nil, fmt.Errorf("unknown topic %q", topic)
}

func (s *HostSource) ContainerAction(ctx context.Context, containerID, action string) (string, error) {
	if s.engine == nil {
		return "", fmt.Errorf("docker engine unavailable")
	}
	return s.engine.ContainerAction(ctx, containerID, action)
}

func (s *HostSource) ContainerStats(ctx context.Context, containerID string) (protocol.ContainerStats, error) {
	if s.engine == nil {
		return protocol.ContainerStats{}, fmt.Errorf("docker engine unavailable")
	}
	return s.engine.ContainerStats(ctx, containerID)
}

func (s *HostSource) ContainerLogs(ctx context.Context, containerID string, tail int) (string, error) {
	if s.engine == nil {
		return "", fmt.Errorf("docker engine unavailable")
	}
	return s.engine.ContainerLogs(ctx, containerID, tail)
}

func (s *HostSource) FollowContainerLogs(ctx context.Context, containerID string, tail int) (<-chan string, error) {
	if s.engine == nil {
		return nil, fmt.Errorf("docker engine unavailable")
	}
	return s.engine.FollowContainerLogs(ctx, containerID, tail)
}
