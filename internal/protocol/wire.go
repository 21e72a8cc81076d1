// Package protocol defines the JSON frames carried over the duplex channel
// between an operator client and the hostwatch daemon.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Kind tags every frame on the channel. Request/response pairing is by kind
// plus the echoed request id.
type Kind string

const (
	KindGetSystemInfo     Kind = "get_system_info"
	KindGetMetrics        Kind = "get_metrics"
	KindGetProcesses      Kind = "get_processes"
	KindGetContainers     Kind = "get_containers"
	KindGetNetworkStats   Kind = "get_network_stats"
	KindKillProcess       Kind = "kill_process"
	KindContainerAction   Kind = "container_action"
	KindGetContainerLogs  Kind = "get_container_logs"
	KindStopContainerLogs Kind = "stop_container_logs"

	KindSystemInfo            Kind = "system_info"
	KindMetrics               Kind = "metrics"
	KindProcessesData         Kind = "processes_data"
	KindContainersData        Kind = "containers_data"
	KindNetworkStats          Kind = "network_stats"
	KindProcessKillResult     Kind = "process_kill_result"
	KindContainerActionResult Kind = "container_action_result"
	KindContainerLogs         Kind = "container_logs"
	KindContainerLogsUpdate   Kind = "container_logs_update"
	KindContainerLogsError    Kind = "container_logs_error"
	KindError                 Kind = "error"
)

// ContainerActions enumerates the allowed container lifecycle transitions.
var ContainerActions = map[string]bool{"start": true, "stop": true, "restart": true}

// PowerActions enumerates the allowed power transitions.
var PowerActions = map[string]bool{"reboot": true, "shutdown": true}

// Request is the flat inbound frame. ID is a monotonically increasing
// client-assigned correlation id, echoed back in the matching response.
type Request struct {
	ID          uint64 `json:"id"`
	Kind        Kind   `json:"type"`
	Limit       int    `json:"limit,omitempty"`
	PID         int32  `json:"pid,omitempty"`
	ContainerID string `json:"container_id,omitempty"`
	Action      string `json:"action,omitempty"`
	Tail        int    `json:"tail,omitempty"`
	Follow      bool   `json:"follow,omitempty"`
}

// Response is the flat outbound frame. Data carries topic snapshots; the
// remaining fields are populated per kind, mirroring the request vocabulary.
type Response struct {
	ID   uint64          `json:"id,omitempty"`
	Kind Kind            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`

	PID         int32  `json:"pid,omitempty"`
	Success     bool   `json:"success,omitempty"`
	ContainerID string `json:"container_id,omitempty"`
	Action      string `json:"action,omitempty"`
	Status      string `json:"status,omitempty"`
	Message     string `json:"message,omitempty"`

	Logs   string `json:"logs,omitempty"`
	Tail   int    `json:"tail,omitempty"`
	Follow bool   `json:"follow,omitempty"`
	Line   string `json:"line,omitempty"`
	Error  string `json:"error,omitempty"`
}

// NewSnapshotResponse builds a topic delivery frame with the payload
// marshaled into Data.
func NewSnapshotResponse(id uint64, topic Topic, payload any) (Response, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("marshal %s snapshot: %w", topic, err)
	}
	return Response{ID: id, Kind: topic.ResponseKind(), Data: raw}, nil
}

// ParseRequest decodes one inbound frame.
func ParseRequest(raw []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, fmt.Errorf("decode request frame: %w", err)
	}
	if req.Kind == "" {
		return Request{}, fmt.Errorf("request frame missing type")
	}
	return req, nil
}

// ParseResponse decodes one outbound frame on the client side.
func ParseResponse(raw []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, fmt.Errorf("decode response frame: %w", err)
	}
	if resp.Kind == "" {
		return Response{}, fmt.Errorf("response frame missing type")
	}
	return resp, nil
}
