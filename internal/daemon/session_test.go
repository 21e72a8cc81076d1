package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"hostwatch/internal/protocol"
)

// dialTestChannel spins up the full HTTP surface and opens a websocket to
// the channel endpoint, exercising the real accept and session paths.
func dialTestChannel(t *testing.T, source *fakeCollaborator) *websocket.Conn {
	t.Helper()
	srv := newTestServer(source)
	hs := httptest.NewServer(srv.routes())
	t.Cleanup(hs.Close)

	url := strings.Replace(hs.URL, "http://", "ws://", 1) + "/api/ws/test-conn"
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, req protocol.Request) {
	t.Helper()
	raw, err := json.Marshal(req)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, raw))
}

func readFrame(t *testing.T, conn *websocket.Conn) protocol.Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, raw, err := conn.Read(ctx)
	require.NoError(t, err)
	resp, err := protocol.ParseResponse(raw)
	require.NoError(t, err)
	return resp
}

func TestChannelSnapshotRoundtrip(t *testing.T) {
	source := newFakeCollaborator()
	conn := dialTestChannel(t, source)

	sendFrame(t, conn, protocol.Request{ID: 7, Kind: protocol.KindGetMetrics})
	resp := readFrame(t, conn)
	require.Equal(t, protocol.KindMetrics, resp.Kind)
	require.Equal(t, uint64(7), resp.ID, "the response must echo the request id")

	var metrics protocol.SystemMetrics
	require.NoError(t, json.Unmarshal(resp.Data, &metrics))
	require.InDelta(t, 12.5, metrics.CPUPercent, 0.001)

	sendFrame(t, conn, protocol.Request{ID: 8, Kind: protocol.KindGetProcesses, Limit: 5})
	resp = readFrame(t, conn)
	require.Equal(t, protocol.KindProcessesData, resp.Kind)
	require.Equal(t, uint64(8), resp.ID)
	require.Equal(t, []int{5}, source.recordedLimits())
}

func TestChannelKillProcess(t *testing.T) {
	source := newFakeCollaborator()
	conn := dialTestChannel(t, source)

	sendFrame(t, conn, protocol.Request{ID: 10, Kind: protocol.KindKillProcess, PID: 0})
	resp := readFrame(t, conn)
	require.Equal(t, protocol.KindProcessKillResult, resp.Kind)
	require.Equal(t, uint64(10), resp.ID)
	require.False(t, resp.Success)
	require.Contains(t, resp.Message, "invalid pid")

	sendFrame(t, conn, protocol.Request{ID: 11, Kind: protocol.KindKillProcess, PID: 42})
	resp = readFrame(t, conn)
	require.True(t, resp.Success)
	require.Equal(t, int32(42), resp.PID)
	require.Equal(t, []int32{42}, source.recordedKills())
}

func TestChannelContainerAction(t *testing.T) {
	source := newFakeCollaborator()
	conn := dialTestChannel(t, source)

	sendFrame(t, conn, protocol.Request{ID: 12, Kind: protocol.KindContainerAction, ContainerID: "abc123", Action: "pause"})
	resp := readFrame(t, conn)
	require.Equal(t, protocol.KindContainerActionResult, resp.Kind)
	require.Equal(t, "error", resp.Status)
	require.Empty(t, source.recordedActions())

	// A valid action is acknowledged with an in_progress frame before the
	// final result, both carrying the request id.
	sendFrame(t, conn, protocol.Request{ID: 13, Kind: protocol.KindContainerAction, ContainerID: "abc123", Action: "restart"})
	resp = readFrame(t, conn)
	require.Equal(t, protocol.KindContainerActionResult, resp.Kind)
	require.Equal(t, "in_progress", resp.Status)
	require.Equal(t, uint64(13), resp.ID)
	resp = readFrame(t, conn)
	require.Equal(t, "success", resp.Status)
	require.Equal(t, uint64(13), resp.ID)
	require.Equal(t, []string{"abc123:restart"}, source.recordedActions())
}

func TestChannelContainerActionFailureStillAcknowledged(t *testing.T) {
	source := newFakeCollaborator()
	source.actionErr = errors.New("container abc123 not found")
	conn := dialTestChannel(t, source)

	sendFrame(t, conn, protocol.Request{ID: 30, Kind: protocol.KindContainerAction, ContainerID: "abc123", Action: "stop"})
	resp := readFrame(t, conn)
	require.Equal(t, "in_progress", resp.Status)
	require.Equal(t, uint64(30), resp.ID)
	resp = readFrame(t, conn)
	require.Equal(t, "error", resp.Status)
	require.Equal(t, uint64(30), resp.ID)
	require.Contains(t, resp.Message, "not found")
}

func TestChannelRejectsUnknownKind(t *testing.T) {
	source := newFakeCollaborator()
	conn := dialTestChannel(t, source)

	sendFrame(t, conn, protocol.Request{ID: 9, Kind: protocol.Kind("bogus")})
	resp := readFrame(t, conn)
	require.Equal(t, protocol.KindError, resp.Kind)
	require.Equal(t, uint64(9), resp.ID)
	require.Contains(t, resp.Message, "bogus")
}

func TestChannelCollectFailureKeepsSessionAlive(t *testing.T) {
	source := newFakeCollaborator()
	source.collectErr[protocol.TopicContainers] = errors.New("docker engine unavailable")
	conn := dialTestChannel(t, source)

	sendFrame(t, conn, protocol.Request{ID: 14, Kind: protocol.KindGetContainers})
	resp := readFrame(t, conn)
	require.Equal(t, protocol.KindError, resp.Kind)
	require.Equal(t, uint64(14), resp.ID)
	require.Contains(t, resp.Message, "Failed to fetch containers")

	// The session keeps serving after a failed collection.
	sendFrame(t, conn, protocol.Request{ID: 15, Kind: protocol.KindGetMetrics})
	resp = readFrame(t, conn)
	require.Equal(t, protocol.KindMetrics, resp.Kind)
	require.Equal(t, uint64(15), resp.ID)
}

func TestChannelMalformedFrame(t *testing.T) {
	source := newFakeCollaborator()
	conn := dialTestChannel(t, source)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("not json")))

	resp := readFrame(t, conn)
	require.Equal(t, protocol.KindError, resp.Kind)
}

func TestLogStreamOneShot(t *testing.T) {
	source := newFakeCollaborator()
	conn := dialTestChannel(t, source)

	sendFrame(t, conn, protocol.Request{ID: 16, Kind: protocol.KindGetContainerLogs, ContainerID: "abc123", Tail: 3})
	resp := readFrame(t, conn)
	require.Equal(t, protocol.KindContainerLogs, resp.Kind)
	require.Equal(t, uint64(16), resp.ID)
	require.Equal(t, "line1\nline2", resp.Logs)
	require.False(t, resp.Follow)
}

func TestLogStreamMissingContainer(t *testing.T) {
	source := newFakeCollaborator()
	conn := dialTestChannel(t, source)

	sendFrame(t, conn, protocol.Request{ID: 17, Kind: protocol.KindGetContainerLogs})
	resp := readFrame(t, conn)
	require.Equal(t, protocol.KindContainerLogsError, resp.Kind)
	require.Equal(t, uint64(17), resp.ID)
}

func TestLogStreamFollowAndSupersede(t *testing.T) {
	source := newFakeCollaborator()
	conn := dialTestChannel(t, source)

	sendFrame(t, conn, protocol.Request{ID: 20, Kind: protocol.KindGetContainerLogs, ContainerID: "abc123", Tail: 5, Follow: true})
	bulk := readFrame(t, conn)
	require.Equal(t, protocol.KindContainerLogs, bulk.Kind)
	require.Equal(t, uint64(20), bulk.ID)
	require.True(t, bulk.Follow)

	source.followSrc <- "alpha"
	update := readFrame(t, conn)
	require.Equal(t, protocol.KindContainerLogsUpdate, update.Kind)
	require.Equal(t, uint64(20), update.ID)
	require.Equal(t, "alpha", update.Line)

	// A newer request for the same container supersedes the follower:
	// all frames after its bulk snapshot carry the new id.
	sendFrame(t, conn, protocol.Request{ID: 21, Kind: protocol.KindGetContainerLogs, ContainerID: "abc123", Tail: 5, Follow: true})
	bulk = readFrame(t, conn)
	require.Equal(t, protocol.KindContainerLogs, bulk.Kind)
	require.Equal(t, uint64(21), bulk.ID)

	source.followSrc <- "beta"
	update = readFrame(t, conn)
	require.Equal(t, protocol.KindContainerLogsUpdate, update.Kind)
	require.Equal(t, uint64(21), update.ID)
	require.Equal(t, "beta", update.Line)
}

func TestStopContainerLogsEndsStream(t *testing.T) {
	source := newFakeCollaborator()
	conn := dialTestChannel(t, source)

	sendFrame(t, conn, protocol.Request{ID: 22, Kind: protocol.KindGetContainerLogs, ContainerID: "abc123", Tail: 5, Follow: true})
	bulk := readFrame(t, conn)
	require.Equal(t, uint64(22), bulk.ID)

	sendFrame(t, conn, protocol.Request{ID: 23, Kind: protocol.KindStopContainerLogs, ContainerID: "abc123"})

	// Give the unsubscribe a moment to land, then verify no further frames
	// arrive for lines produced after it.
	time.Sleep(100 * time.Millisecond)
	source.followSrc <- "after-stop"

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, _, err := conn.Read(ctx)
	require.Error(t, err, "no frame should follow an unsubscribe")
}
