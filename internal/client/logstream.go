package client

import (
	"log/slog"
	"strings"

	"hostwatch/internal/protocol"
)

// StreamState is the log stream's lifecycle position.
type StreamState int

const (
	StreamInactive StreamState = iota
	StreamRequested
	StreamActive
	StreamError
)

func (s StreamState) String() string {
	switch s {
	case StreamInactive:
		return "inactive"
	case StreamRequested:
		return "requested"
	case StreamActive:
		return "active"
	case StreamError:
		return "error"
	}
	return "unknown"
}

// LogController is the per-container follow-mode state machine. The
// request id doubles as a generation counter: any event tagged with a
// superseded id is stale and ignored.
type LogController struct {
	logger *slog.Logger
	sender Sender

	containerID string
	tail        int
	follow      bool
	state       StreamState
	requestID   uint64
	lines       []string
	errMsg      string
}

func NewLogController(sender Sender, logger *slog.Logger) *LogController {
	return &LogController{logger: logger, sender: sender}
}

// Open requests a container's log tail. Re-opening with different
// parameters supersedes the previous request: the buffer is cleared and
// events from the old generation are discarded on arrival.
func (c *LogController) Open(containerID string, tail int, follow bool) bool {
	if containerID == "" {
		return false
	}
	id, ok := c.sender.Send(protocol.Request{
		Kind:        protocol.KindGetContainerLogs,
		ContainerID: containerID,
		Tail:        tail,
		Follow:      follow,
	})
	if !ok {
		return false
	}
	c.containerID = containerID
	c.tail = tail
	c.follow = follow
	c.requestID = id
	c.state = StreamRequested
	c.lines = nil
	c.errMsg = ""
	return true
}

// Stop ends the subscription. The buffered text survives until Reset.
func (c *LogController) Stop() {
	if c.state == StreamInactive {
		return
	}
	if c.follow && c.containerID != "" {
		_, _ = c.sender.Send(protocol.Request{
			Kind:        protocol.KindStopContainerLogs,
			ContainerID: c.containerID,
		})
	}
	c.state = StreamInactive
	c.requestID = 0
}

// Reset discards the buffer; used when the view closes for good.
func (c *LogController) Reset() {
	c.Stop()
	c.containerID = ""
	c.lines = nil
	c.errMsg = ""
}

// OnBulk consumes the one-shot tail response that opens every stream.
func (c *LogController) OnBulk(resp protocol.Response) {
	if c.state != StreamRequested || resp.ID != c.requestID {
		c.logger.Debug("stale log snapshot dropped", "container_id", resp.ContainerID, "id", resp.ID)
		return
	}
	c.lines = nil
	if resp.Logs != "" {
		c.lines = strings.Split(resp.Logs, "\n")
	}
	if c.follow {
		c.state = StreamActive
	} else {
		c.state = StreamInactive
	}
}

// OnUpdate appends one incremental line. Events from a superseded
// generation, or arriving when no follow subscription is open, are
// discarded.
func (c *LogController) OnUpdate(resp protocol.Response) {
	if c.state != StreamActive || !c.follow || resp.ID != c.requestID {
		c.logger.Debug("stale log line dropped", "container_id", resp.ContainerID, "id", resp.ID)
		return
	}
	c.lines = append(c.lines, resp.Line)
}

// OnStreamError moves the stream to its terminal error state.
func (c *LogController) OnStreamError(resp protocol.Response) {
	if resp.ID != c.requestID {
		return
	}
	c.state = StreamError
	c.errMsg = resp.Error
}

// OnChannelClosed cancels the implicit subscription; the buffer survives.
func (c *LogController) OnChannelClosed() {
	if c.state == StreamRequested || c.state == StreamActive {
		c.state = StreamInactive
		c.requestID = 0
	}
}

func (c *LogController) State() StreamState { return c.state }

func (c *LogController) ContainerID() string { return c.containerID }

func (c *LogController) Err() string { return c.errMsg }

// Lines returns a copy of the buffered text.
func (c *LogController) Lines() []string {
	return append([]string(nil), c.lines...)
}
