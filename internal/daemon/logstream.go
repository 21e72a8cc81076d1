package daemon

import (
	"context"

	"hostwatch/internal/protocol"
)

// follower is one live log-follow worker for a container. A newer logs
// request for the same container supersedes it.
type follower struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *session) startLogStream(ctx context.Context, req protocol.Request) {
	if req.ContainerID == "" {
		s.send(ctx, protocol.Response{
			ID:    req.ID,
			Kind:  protocol.KindContainerLogsError,
			Error: "missing container id",
		})
		return
	}
	tail := req.Tail
	if tail <= 0 {
		tail = 100
	}

	// Any change of tail/follow starts over; stale followers must not keep
	// emitting lines under a superseded request.
	s.stopFollower(req.ContainerID)

	if !req.Follow {
		s.spawn(func() { s.sendLogSnapshot(ctx, req, tail) })
		return
	}

	fctx, cancel := context.WithCancel(ctx)
	f := &follower{cancel: cancel, done: make(chan struct{})}
	s.followMu.Lock()
	s.followers[req.ContainerID] = f
	s.followMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(f.done)
		s.runFollower(fctx, req, tail)
	}()
}

// sendLogSnapshot answers a one-shot (follow=false) logs request.
func (s *session) sendLogSnapshot(ctx context.Context, req protocol.Request, tail int) {
	logs, err := s.source.ContainerLogs(ctx, req.ContainerID, tail)
	if err != nil {
		s.send(ctx, protocol.Response{
			ID:          req.ID,
			Kind:        protocol.KindContainerLogsError,
			ContainerID: req.ContainerID,
			Error:       err.Error(),
		})
		return
	}
	s.send(ctx, protocol.Response{
		ID:          req.ID,
		Kind:        protocol.KindContainerLogs,
		ContainerID: req.ContainerID,
		Logs:        logs,
		Tail:        tail,
	})
}

// runFollower sends the tail snapshot, then streams every new line as an
// incremental update carrying the originating request id.
func (s *session) runFollower(ctx context.Context, req protocol.Request, tail int) {
	logs, err := s.source.ContainerLogs(ctx, req.ContainerID, tail)
	if err != nil {
		s.send(ctx, protocol.Response{
			ID:          req.ID,
			Kind:        protocol.KindContainerLogsError,
			ContainerID: req.ContainerID,
			Error:       err.Error(),
		})
		return
	}
	s.send(ctx, protocol.Response{
		ID:          req.ID,
		Kind:        protocol.KindContainerLogs,
		ContainerID: req.ContainerID,
		Logs:        logs,
		Tail:        tail,
		Follow:      true,
	})

	lines, err := s.source.FollowContainerLogs(ctx, req.ContainerID, 0)
	if err != nil {
		s.send(ctx, protocol.Response{
			ID:          req.ID,
			Kind:        protocol.KindContainerLogsError,
			ContainerID: req.ContainerID,
			Error:       err.Error(),
		})
		return
	}
	for line := range lines {
		s.send(ctx, protocol.Response{
			ID:          req.ID,
			Kind:        protocol.KindContainerLogsUpdate,
			ContainerID: req.ContainerID,
			Line:        line,
		})
	}
}

func (s *session) stopFollower(containerID string) {
	s.followMu.Lock()
	f := s.followers[containerID]
	delete(s.followers, containerID)
	s.followMu.Unlock()
	if f == nil {
		return
	}
	f.cancel()
	<-f.done
}
