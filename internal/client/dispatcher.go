package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"hostwatch/internal/protocol"
)

var (
	// ErrInvalidCommand reports a target that failed local validation; the
	// collaborator is never contacted.
	ErrInvalidCommand = errors.New("invalid command")
	// ErrCommandInFlight reports a same-kind command already awaiting its
	// result. Concurrent same-kind issuance would make result correlation
	// ambiguous, so it is refused outright.
	ErrCommandInFlight = errors.New("command already in flight")
	// ErrChannelClosed reports a send attempted while the transport is
	// down. Commands are never queued for later delivery.
	ErrChannelClosed = errors.New("channel closed")
)

// CommandOutcome is the user-visible result of a one-shot action.
// InProgress marks the daemon's intermediate acknowledgement of a container
// action; the final result follows under the same request id.
type CommandOutcome struct {
	Kind        protocol.Kind
	Success     bool
	InProgress  bool
	Message     string
	PID         int32
	ContainerID string
	Action      string
}

// Refresher re-collects a topic outside its spacing window.
type Refresher interface {
	Refresh(topic protocol.Topic)
}

// PowerExecutor forwards power intent out-of-band so it survives channel
// loss.
type PowerExecutor interface {
	ExecutePower(ctx context.Context, action string) (protocol.StatusResponse, error)
}

// Dispatcher validates and issues mutating actions and correlates their
// results. At most one command per kind is outstanding at a time; results
// are matched by kind plus echoed request id. No command is ever retried.
type Dispatcher struct {
	logger    *slog.Logger
	sender    Sender
	refresher Refresher
	power     PowerExecutor

	pending   map[protocol.Kind]uint64
	onOutcome func(CommandOutcome)
}

func NewDispatcher(sender Sender, refresher Refresher, power PowerExecutor, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		logger:    logger,
		sender:    sender,
		refresher: refresher,
		power:     power,
		pending:   make(map[protocol.Kind]uint64),
	}
}

// SetOutcomeHandler registers the transient-notification callback.
func (d *Dispatcher) SetOutcomeHandler(fn func(CommandOutcome)) {
	d.onOutcome = fn
}

// KillProcess requests termination of a process by pid.
func (d *Dispatcher) KillProcess(pid int32) error {
	if pid <= 0 {
		return fmt.Errorf("%w: pid %d must be positive", ErrInvalidCommand, pid)
	}
	return d.issue(protocol.Request{Kind: protocol.KindKillProcess, PID: pid})
}

// ContainerAction requests a container lifecycle transition.
func (d *Dispatcher) ContainerAction(containerID, action string) error {
	if containerID == "" {
		return fmt.Errorf("%w: container id must not be empty", ErrInvalidCommand)
	}
	if !protocol.ContainerActions[action] {
		return fmt.Errorf("%w: action %q not in start/stop/restart", ErrInvalidCommand, action)
	}
	return d.issue(protocol.Request{Kind: protocol.KindContainerAction, ContainerID: containerID, Action: action})
}

// PowerAction forwards reboot/shutdown intent over the out-of-band
// endpoint. Synchronous: the caller owns the wait, so there is never a
// second same-kind power command racing the first.
func (d *Dispatcher) PowerAction(ctx context.Context, action string) (protocol.StatusResponse, error) {
	if !protocol.PowerActions[action] {
		return protocol.StatusResponse{}, fmt.Errorf("%w: action %q not in reboot/shutdown", ErrInvalidCommand, action)
	}
	return d.power.ExecutePower(ctx, action)
}

func (d *Dispatcher) issue(req protocol.Request) error {
	if _, busy := d.pending[req.Kind]; busy {
		return fmt.Errorf("%w: %s", ErrCommandInFlight, req.Kind)
	}
	id, ok := d.sender.Send(req)
	if !ok {
		return ErrChannelClosed
	}
	d.pending[req.Kind] = id
	return nil
}

// OnResult consumes a command result frame. Results that do not match the
// pending request of their kind are stale and dropped.
func (d *Dispatcher) OnResult(resp protocol.Response) {
	var reqKind protocol.Kind
	var refreshTopic protocol.Topic
	var success bool

	switch resp.Kind {
	case protocol.KindProcessKillResult:
		reqKind = protocol.KindKillProcess
		refreshTopic = protocol.TopicProcesses
		success = resp.Success
	case protocol.KindContainerActionResult:
		reqKind = protocol.KindContainerAction
		refreshTopic = protocol.TopicContainers
		success = resp.Status == "success"
	default:
		return
	}

	expected, ok := d.pending[reqKind]
	if !ok || resp.ID != expected {
		d.logger.Debug("stale command result dropped", "kind", resp.Kind, "id", resp.ID)
		return
	}

	// An in_progress acknowledgement is not the result: the slot stays
	// reserved until the final frame for the same id arrives.
	if resp.Kind == protocol.KindContainerActionResult && resp.Status == "in_progress" {
		if d.onOutcome != nil {
			d.onOutcome(CommandOutcome{
				Kind:        resp.Kind,
				InProgress:  true,
				Message:     resp.Message,
				ContainerID: resp.ContainerID,
				Action:      resp.Action,
			})
		}
		return
	}
	delete(d.pending, reqKind)

	if success {
		d.refresher.Refresh(refreshTopic)
	}
	if d.onOutcome != nil {
		d.onOutcome(CommandOutcome{
			Kind:        resp.Kind,
			Success:     success,
			Message:     resp.Message,
			PID:         resp.PID,
			ContainerID: resp.ContainerID,
			Action:      resp.Action,
		})
	}
}

// OnChannelClosed abandons pending commands; their results, if any, were
// lost with the connection.
func (d *Dispatcher) OnChannelClosed() {
	clear(d.pending)
}
