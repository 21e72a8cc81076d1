package client

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"hostwatch/internal/config"
	"hostwatch/internal/protocol"
)

// ConnState is the channel's lifecycle position.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateBackoff
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateBackoff:
		return "backoff"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session owns the persistent channel to the daemon and the single event
// loop that drives the scheduler, the command dispatcher and the log
// controller. All protocol state is touched only on that loop; external
// callers post closures onto it.
type Session struct {
	cfg       config.Config
	logger    *slog.Logger
	transport Transport

	identity string
	sched    *Scheduler
	cmds     *Dispatcher
	logs     *LogController
	store    *Store

	conn   Conn
	nextID uint64
	state  atomic.Int32
	rng    *rand.Rand

	actions chan func()
	done    chan struct{}
}

func NewSession(cfg config.Config, transport Transport, power PowerExecutor, logger *slog.Logger) *Session {
	s := &Session{
		cfg:       cfg,
		logger:    logger,
		transport: transport,
		identity:  newConnectionID(),
		store:     NewStore(),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		actions:   make(chan func(), 16),
		done:      make(chan struct{}),
	}
	s.sched = NewScheduler(s, cfg.ProcessLimit, cfg.ProcessSpacing, cfg.NetworkSpacing, logger)
	s.cmds = NewDispatcher(s, s.sched, power, logger)
	s.logs = NewLogController(s, logger)
	return s
}

func newConnectionID() string {
	buf := make([]byte, 8)
	if _, err := cryptorand.Read(buf); err != nil {
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

// Identity is the connection id presented on every (re)connect. It is
// fixed for the session's lifetime so the daemon sees one client across
// channel losses.
func (s *Session) Identity() string { return s.identity }

func (s *Session) State() ConnState { return ConnState(s.state.Load()) }

func (s *Session) Store() *Store { return s.store }

// SetOutcomeHandler must be called before Run.
func (s *Session) SetOutcomeHandler(fn func(CommandOutcome)) {
	s.cmds.SetOutcomeHandler(fn)
}

// Send assigns the next monotonic request id and puts the frame on the
// wire. Only ever called from the event loop.
func (s *Session) Send(req protocol.Request) (uint64, bool) {
	if s.conn == nil || s.State() != StateOpen {
		return 0, false
	}
	s.nextID++
	req.ID = s.nextID

	payload, err := json.Marshal(req)
	if err != nil {
		s.logger.Error("encode request frame", "kind", req.Kind, "error", err)
		return 0, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()
	if err := s.conn.Write(ctx, payload); err != nil {
		s.logger.Warn("channel write failed", "kind", req.Kind, "error", err)
		return 0, false
	}
	return req.ID, true
}

// Run drives the connect/serve/backoff cycle until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)
	defer s.state.Store(int32(StateClosed))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.state.Store(int32(StateConnecting))
		conn, err := s.transport.Dial(ctx, s.cfg.WebSocketURL(s.identity))
		if err != nil {
			s.logger.Warn("channel dial failed", "error", err)
			if err := s.backoff(ctx); err != nil {
				return err
			}
			continue
		}

		s.serve(ctx, conn)

		s.sched.OnChannelClosed()
		s.cmds.OnChannelClosed()
		s.logs.OnChannelClosed()
		s.store.SetConnected(false)

		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.backoff(ctx); err != nil {
			return err
		}
	}
}

// serve runs one connection's event loop until the channel drops or ctx
// is cancelled.
func (s *Session) serve(ctx context.Context, conn Conn) {
	s.conn = conn
	defer func() {
		s.conn = nil
		_ = conn.Close()
	}()

	s.state.Store(int32(StateOpen))
	s.store.SetConnected(true)
	s.logger.Info("channel open", "conn_id", s.identity)
	s.sched.Bootstrap()

	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()
	frames := make(chan []byte, 16)
	readErr := make(chan error, 1)
	go func() {
		for {
			data, err := conn.Read(readCtx)
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- data:
			case <-readCtx.Done():
				return
			}
		}
	}()

	fast := time.NewTicker(s.cfg.FastTickInterval)
	defer fast.Stop()
	slow := time.NewTicker(s.cfg.SlowTickInterval)
	defer slow.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErr:
			s.logger.Warn("channel lost", "error", err)
			return
		case raw := <-frames:
			s.handleFrame(raw)
		case <-fast.C:
			s.sched.OnFastTick()
		case <-slow.C:
			s.sched.OnSlowTick()
		case fn := <-s.actions:
			fn()
		}
	}
}

// backoff waits out the reconnect delay plus jitter. The actions channel
// stays serviced so API calls fail fast instead of blocking.
func (s *Session) backoff(ctx context.Context) error {
	s.state.Store(int32(StateBackoff))
	wait := s.cfg.ReconnectDelay
	if s.cfg.ReconnectMaxJitter > 0 {
		wait += time.Duration(s.rng.Int63n(int64(s.cfg.ReconnectMaxJitter)))
	}
	s.logger.Info("reconnecting", "wait", wait)

	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case fn := <-s.actions:
			fn()
		}
	}
}

func (s *Session) handleFrame(raw []byte) {
	resp, err := protocol.ParseResponse(raw)
	if err != nil {
		s.logger.Warn("malformed frame dropped", "error", err)
		return
	}

	if topic, ok := protocol.TopicForResponse(resp.Kind); ok {
		// Snapshots are stored per topic even when the user has moved off
		// the view; the scheduler's verdict only gates what is displayed.
		surfaced := s.sched.OnSnapshot(topic)
		if err := s.store.ApplySnapshot(topic, resp.Data); err != nil {
			s.logger.Warn("snapshot rejected", "topic", topic, "error", err)
		} else if !surfaced {
			s.logger.Debug("snapshot stored for inactive view", "topic", topic)
		}
		return
	}

	switch resp.Kind {
	case protocol.KindProcessKillResult, protocol.KindContainerActionResult:
		s.cmds.OnResult(resp)
	case protocol.KindContainerLogs:
		s.logs.OnBulk(resp)
	case protocol.KindContainerLogsUpdate:
		s.logs.OnUpdate(resp)
	case protocol.KindContainerLogsError:
		s.logs.OnStreamError(resp)
	case protocol.KindError:
		s.sched.OnErrorFrame(resp.ID)
		s.logger.Warn("request failed", "id", resp.ID, "error", resp.Message)
	default:
		s.logger.Debug("unexpected frame dropped", "kind", resp.Kind)
	}
}

// post hands a closure to the event loop. false means the session has
// already finished.
func (s *Session) post(fn func()) bool {
	select {
	case s.actions <- fn:
		return true
	case <-s.done:
		return false
	}
}

// call posts a closure and waits for its error.
func (s *Session) call(fn func() error) error {
	errCh := make(chan error, 1)
	if !s.post(func() { errCh <- fn() }) {
		return ErrChannelClosed
	}
	select {
	case err := <-errCh:
		return err
	case <-s.done:
		return ErrChannelClosed
	}
}

// SetActiveView steers collection toward one topic.
func (s *Session) SetActiveView(topic protocol.Topic) {
	s.post(func() { s.sched.SetActiveView(topic) })
}

// SetProcessLimit changes the process view's row budget.
func (s *Session) SetProcessLimit(limit int) {
	s.post(func() { s.sched.SetProcessLimit(limit) })
}

// Refresh re-collects a topic outside its spacing window.
func (s *Session) Refresh(topic protocol.Topic) {
	s.post(func() { s.sched.Refresh(topic) })
}

// KillProcess requests termination of a process on the host.
func (s *Session) KillProcess(pid int32) error {
	return s.call(func() error { return s.cmds.KillProcess(pid) })
}

// ContainerAction requests a container lifecycle transition.
func (s *Session) ContainerAction(containerID, action string) error {
	return s.call(func() error { return s.cmds.ContainerAction(containerID, action) })
}

// PowerAction goes out-of-band over REST; it never touches the channel.
func (s *Session) PowerAction(ctx context.Context, action string) (protocol.StatusResponse, error) {
	return s.cmds.PowerAction(ctx, action)
}

// OpenLogs subscribes to a container's log tail.
func (s *Session) OpenLogs(containerID string, tail int, follow bool) error {
	if containerID == "" {
		return fmt.Errorf("%w: container id must not be empty", ErrInvalidCommand)
	}
	return s.call(func() error {
		if !s.logs.Open(containerID, tail, follow) {
			return ErrChannelClosed
		}
		return nil
	})
}

// StopLogs ends the current log subscription.
func (s *Session) StopLogs() {
	s.post(func() { s.logs.Stop() })
}

// LogLines snapshots the buffered log text.
func (s *Session) LogLines() []string {
	ch := make(chan []string, 1)
	if !s.post(func() { ch <- s.logs.Lines() }) {
		return nil
	}
	select {
	case lines := <-ch:
		return lines
	case <-s.done:
		return nil
	}
}

// LogStreamState reports the log subscription's state.
func (s *Session) LogStreamState() StreamState {
	ch := make(chan StreamState, 1)
	if !s.post(func() { ch <- s.logs.State() }) {
		return StreamInactive
	}
	select {
	case st := <-ch:
		return st
	case <-s.done:
		return StreamInactive
	}
}
