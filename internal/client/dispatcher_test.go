package client

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"hostwatch/internal/protocol"
)

type fakeRefresher struct {
	refreshed []protocol.Topic
}

func (f *fakeRefresher) Refresh(topic protocol.Topic) {
	f.refreshed = append(f.refreshed, topic)
}

type fakePower struct {
	actions []string
	resp    protocol.StatusResponse
	err     error
}

func (f *fakePower) ExecutePower(_ context.Context, action string) (protocol.StatusResponse, error) {
	f.actions = append(f.actions, action)
	return f.resp, f.err
}

func newTestDispatcher(sender *fakeSender) (*Dispatcher, *fakeRefresher, *fakePower) {
	refresher := &fakeRefresher{}
	power := &fakePower{resp: protocol.StatusResponse{Status: "ok"}}
	return NewDispatcher(sender, refresher, power, slog.New(slog.DiscardHandler)), refresher, power
}

func TestKillProcessRejectsInvalidPID(t *testing.T) {
	sender := newFakeSender()
	d, _, _ := newTestDispatcher(sender)

	err := d.KillProcess(0)
	require.ErrorIs(t, err, ErrInvalidCommand)
	require.Empty(t, sender.sent, "validation failures never reach the wire")
}

func TestContainerActionRejectsInvalidTargets(t *testing.T) {
	sender := newFakeSender()
	d, _, _ := newTestDispatcher(sender)

	require.ErrorIs(t, d.ContainerAction("", "start"), ErrInvalidCommand)
	require.ErrorIs(t, d.ContainerAction("abc123", "pause"), ErrInvalidCommand)
	require.Empty(t, sender.sent)
}

func TestSameKindCommandSingleFlight(t *testing.T) {
	sender := newFakeSender()
	d, _, _ := newTestDispatcher(sender)

	require.NoError(t, d.KillProcess(42))
	require.ErrorIs(t, d.KillProcess(43), ErrCommandInFlight)

	// A different kind is independent.
	require.NoError(t, d.ContainerAction("abc123", "restart"))
	require.Len(t, sender.sent, 2)
}

func TestCommandFailsFastWhenChannelDown(t *testing.T) {
	sender := newFakeSender()
	sender.open = false
	d, _, _ := newTestDispatcher(sender)

	require.ErrorIs(t, d.KillProcess(42), ErrChannelClosed)
}

func TestSuccessfulResultRefreshesAndNotifies(t *testing.T) {
	sender := newFakeSender()
	d, refresher, _ := newTestDispatcher(sender)

	var outcomes []CommandOutcome
	d.SetOutcomeHandler(func(out CommandOutcome) { outcomes = append(outcomes, out) })

	require.NoError(t, d.KillProcess(42))
	id := sender.last().ID

	d.OnResult(protocol.Response{
		ID:      id,
		Kind:    protocol.KindProcessKillResult,
		PID:     42,
		Success: true,
		Message: "Process 42 killed",
	})

	require.Equal(t, []protocol.Topic{protocol.TopicProcesses}, refresher.refreshed)
	require.Len(t, outcomes, 1)
	require.True(t, outcomes[0].Success)
	require.Equal(t, int32(42), outcomes[0].PID)

	// Slot is free again.
	require.NoError(t, d.KillProcess(99))
}

func TestFailedResultSkipsRefresh(t *testing.T) {
	sender := newFakeSender()
	d, refresher, _ := newTestDispatcher(sender)

	require.NoError(t, d.ContainerAction("abc123", "stop"))
	id := sender.last().ID

	d.OnResult(protocol.Response{
		ID:          id,
		Kind:        protocol.KindContainerActionResult,
		ContainerID: "abc123",
		Action:      "stop",
		Status:      "error",
		Message:     "container abc123 not found",
	})

	require.Empty(t, refresher.refreshed)
	require.NoError(t, d.ContainerAction("abc123", "stop"))
}

func TestInProgressResultKeepsSlotReserved(t *testing.T) {
	sender := newFakeSender()
	d, refresher, _ := newTestDispatcher(sender)

	var outcomes []CommandOutcome
	d.SetOutcomeHandler(func(out CommandOutcome) { outcomes = append(outcomes, out) })

	require.NoError(t, d.ContainerAction("abc123", "restart"))
	id := sender.last().ID

	d.OnResult(protocol.Response{
		ID:          id,
		Kind:        protocol.KindContainerActionResult,
		ContainerID: "abc123",
		Action:      "restart",
		Status:      "in_progress",
		Message:     "restart requested...",
	})

	require.Len(t, outcomes, 1)
	require.True(t, outcomes[0].InProgress)
	require.Empty(t, refresher.refreshed, "nothing to refresh until the action lands")
	require.ErrorIs(t, d.ContainerAction("abc123", "stop"), ErrCommandInFlight,
		"the pending slot must survive the acknowledgement")

	d.OnResult(protocol.Response{
		ID:          id,
		Kind:        protocol.KindContainerActionResult,
		ContainerID: "abc123",
		Action:      "restart",
		Status:      "success",
		Message:     "Container restart completed",
	})

	require.Len(t, outcomes, 2)
	require.False(t, outcomes[1].InProgress)
	require.True(t, outcomes[1].Success)
	require.Equal(t, []protocol.Topic{protocol.TopicContainers}, refresher.refreshed)
	require.NoError(t, d.ContainerAction("abc123", "stop"))
}

func TestStaleResultDropped(t *testing.T) {
	sender := newFakeSender()
	d, refresher, _ := newTestDispatcher(sender)

	var outcomes []CommandOutcome
	d.SetOutcomeHandler(func(out CommandOutcome) { outcomes = append(outcomes, out) })

	require.NoError(t, d.KillProcess(42))
	id := sender.last().ID

	// Wrong id: a result from a previous connection's request.
	d.OnResult(protocol.Response{ID: id + 100, Kind: protocol.KindProcessKillResult, Success: true})
	require.Empty(t, outcomes)
	require.Empty(t, refresher.refreshed)
	require.ErrorIs(t, d.KillProcess(43), ErrCommandInFlight, "pending slot must survive the stale result")

	// Nothing pending at all.
	d.OnChannelClosed()
	d.OnResult(protocol.Response{ID: id, Kind: protocol.KindProcessKillResult, Success: true})
	require.Empty(t, outcomes)
}

func TestChannelClosedClearsPending(t *testing.T) {
	sender := newFakeSender()
	d, _, _ := newTestDispatcher(sender)

	require.NoError(t, d.KillProcess(42))
	d.OnChannelClosed()
	require.NoError(t, d.KillProcess(42))
}

func TestPowerActionValidatesAndDelegates(t *testing.T) {
	sender := newFakeSender()
	d, _, power := newTestDispatcher(sender)

	_, err := d.PowerAction(context.Background(), "hibernate")
	require.ErrorIs(t, err, ErrInvalidCommand)
	require.Empty(t, power.actions)

	resp, err := d.PowerAction(context.Background(), "reboot")
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Status)
	require.Equal(t, []string{"reboot"}, power.actions)
	require.Empty(t, sender.sent, "power never rides the channel")
}
