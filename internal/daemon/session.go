package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"hostwatch/internal/config"
	"hostwatch/internal/protocol"
)

// session is one connection's worker. The read loop processes frames in
// arrival order; each collaborator call runs as an independent goroutine so
// a slow collector never stalls other message kinds. Writes are serialized
// through writeMu.
type session struct {
	id     string
	logger *slog.Logger
	conn   *websocket.Conn
	source collaborator
	health *HealthStatus

	writeMu      sync.Mutex
	writeTimeout time.Duration
	processLimit int

	followMu  sync.Mutex
	followers map[string]*follower

	wg sync.WaitGroup
}

func newSession(id string, conn *websocket.Conn, source collaborator, health *HealthStatus, cfg config.Config, logger *slog.Logger) *session {
	return &session{
		id:           id,
		logger:       logger,
		conn:         conn,
		source:       source,
		health:       health,
		writeTimeout: cfg.WriteTimeout,
		processLimit: cfg.ProcessLimit,
		followers:    make(map[string]*follower),
	}
}

func (s *session) run(ctx context.Context) {
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.wg.Wait()

	for {
		_, data, err := s.conn.Read(sessCtx)
		if err != nil {
			s.logger.Debug("read loop ended", "error", err)
			return
		}
		req, err := protocol.ParseRequest(data)
		if err != nil {
			s.send(sessCtx, protocol.Response{Kind: protocol.KindError, Message: err.Error()})
			continue
		}
		s.dispatch(sessCtx, req)
	}
}

func (s *session) dispatch(ctx context.Context, req protocol.Request) {
	switch req.Kind {
	case protocol.KindGetSystemInfo:
		s.collectAsync(ctx, req, protocol.TopicSystemInfo)
	case protocol.KindGetMetrics:
		s.collectAsync(ctx, req, protocol.TopicMetrics)
	case protocol.KindGetProcesses:
		s.collectAsync(ctx, req, protocol.TopicProcesses)
	case protocol.KindGetContainers:
		s.collectAsync(ctx, req, protocol.TopicContainers)
	case protocol.KindGetNetworkStats:
		s.collectAsync(ctx, req, protocol.TopicNetwork)
	case protocol.KindKillProcess:
		s.spawn(func() { s.killProcess(ctx, req) })
	case protocol.KindContainerAction:
		s.spawn(func() { s.containerAction(ctx, req) })
	case protocol.KindGetContainerLogs:
		s.startLogStream(ctx, req)
	case protocol.KindStopContainerLogs:
		s.stopFollower(req.ContainerID)
	default:
		s.send(ctx, protocol.Response{
			ID:      req.ID,
			Kind:    protocol.KindError,
			Message: fmt.Sprintf("unsupported request type %q", req.Kind),
		})
	}
}

func (s *session) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *session) collectAsync(ctx context.Context, req protocol.Request, topic protocol.Topic) {
	limit := req.Limit
	if limit <= 0 {
		limit = s.processLimit
	}
	s.spawn(func() {
		snap, err := s.source.Collect(ctx, topic, limit)
		if err != nil {
			s.send(ctx, protocol.Response{
				ID:      req.ID,
				Kind:    protocol.KindError,
				Message: fmt.Sprintf("Failed to fetch %s: %v", topic, err),
			})
			return
		}
		s.health.MarkCollect(time.Now())
		resp, err := protocol.NewSnapshotResponse(req.ID, topic, snap)
		if err != nil {
			s.logger.Error("snapshot encode failed", "topic", topic, "error", err)
			return
		}
		s.send(ctx, resp)
	})
}

func (s *session) killProcess(ctx context.Context, req protocol.Request) {
	resp := protocol.Response{
		ID:   req.ID,
		Kind: protocol.KindProcessKillResult,
		PID:  req.PID,
	}
	if req.PID <= 0 {
		resp.Message = fmt.Sprintf("invalid pid %d", req.PID)
		s.send(ctx, resp)
		return
	}
	if err := s.source.KillProcess(ctx, req.PID); err != nil {
		resp.Message = err.Error()
	} else {
		resp.Success = true
		resp.Message = fmt.Sprintf("Process %d killed", req.PID)
	}
	s.send(ctx, resp)
}

func (s *session) containerAction(ctx context.Context, req protocol.Request) {
	resp := protocol.Response{
		ID:          req.ID,
		Kind:        protocol.KindContainerActionResult,
		ContainerID: req.ContainerID,
		Action:      req.Action,
	}
	if req.ContainerID == "" || !protocol.ContainerActions[req.Action] {
		resp.Status = "error"
		resp.Message = fmt.Sprintf("invalid container action %q", req.Action)
		s.send(ctx, resp)
		return
	}

	// Lifecycle transitions can take seconds; acknowledge before executing
	// so the client can show progress against the same request id.
	progress := resp
	progress.Status = "in_progress"
	progress.Message = fmt.Sprintf("%s requested...", req.Action)
	s.send(ctx, progress)

	msg, err := s.source.ContainerAction(ctx, req.ContainerID, req.Action)
	if err != nil {
		resp.Status = "error"
		resp.Message = err.Error()
	} else {
		resp.Status = "success"
		resp.Message = msg
	}
	s.send(ctx, resp)
}

func (s *session) send(ctx context.Context, resp protocol.Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("response encode failed", "kind", resp.Kind, "error", err)
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	if err := s.conn.Write(wctx, websocket.MessageText, payload); err != nil {
		s.logger.Debug("write failed", "kind", resp.Kind, "error", err)
	}
}
