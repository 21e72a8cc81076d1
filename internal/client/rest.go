package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hostwatch/internal/protocol"
)

// RESTClient talks to the daemon's request/response surface. Power intent
// always goes this way so it cannot be lost with the channel.
type RESTClient struct {
	baseURL string
	http    *http.Client
}

func NewRESTClient(baseURL string) *RESTClient {
	return &RESTClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *RESTClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	return c.do(req, out)
}

func (c *RESTClient) post(ctx context.Context, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *RESTClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var status protocol.StatusResponse
		if json.Unmarshal(raw, &status) == nil && status.Message != "" {
			return fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, status.Message)
		}
		return fmt.Errorf("%s %s: unexpected status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}

func (c *RESTClient) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.get(ctx, "/health", &out)
	return out, err
}

func (c *RESTClient) SystemInfo(ctx context.Context) (protocol.SystemInfo, error) {
	var out protocol.SystemInfo
	err := c.get(ctx, "/api/system/info", &out)
	return out, err
}

func (c *RESTClient) SystemMetrics(ctx context.Context) (protocol.SystemMetrics, error) {
	var out protocol.SystemMetrics
	err := c.get(ctx, "/api/system/metrics", &out)
	return out, err
}

func (c *RESTClient) Processes(ctx context.Context, limit int) ([]protocol.ProcessEntry, error) {
	path := "/api/processes"
	if limit > 0 {
		path += "?limit=" + url.QueryEscape(fmt.Sprint(limit))
	}
	var out []protocol.ProcessEntry
	err := c.get(ctx, path, &out)
	return out, err
}

func (c *RESTClient) Containers(ctx context.Context) ([]protocol.ContainerEntry, error) {
	var out []protocol.ContainerEntry
	err := c.get(ctx, "/api/containers", &out)
	return out, err
}

func (c *RESTClient) ContainerStats(ctx context.Context, containerID string) (protocol.ContainerStats, error) {
	var out protocol.ContainerStats
	err := c.get(ctx, fmt.Sprintf("/api/containers/%s/stats", url.PathEscape(containerID)), &out)
	return out, err
}

func (c *RESTClient) ContainerLogs(ctx context.Context, containerID string, tail int) (string, error) {
	path := fmt.Sprintf("/api/containers/%s/logs", url.PathEscape(containerID))
	if tail > 0 {
		path += "?tail=" + url.QueryEscape(fmt.Sprint(tail))
	}
	var out struct {
		Logs string `json:"logs"`
	}
	err := c.get(ctx, path, &out)
	return out.Logs, err
}

func (c *RESTClient) NetworkStats(ctx context.Context) (protocol.NetworkStats, error) {
	var out protocol.NetworkStats
	err := c.get(ctx, "/api/network", &out)
	return out, err
}

func (c *RESTClient) KillProcess(ctx context.Context, pid int32) (protocol.StatusResponse, error) {
	var out protocol.StatusResponse
	err := c.post(ctx, fmt.Sprintf("/api/processes/%d/kill", pid), nil, &out)
	return out, err
}

func (c *RESTClient) ContainerAction(ctx context.Context, containerID, action string) (protocol.StatusResponse, error) {
	var out protocol.StatusResponse
	path := fmt.Sprintf("/api/containers/%s/%s", url.PathEscape(containerID), url.PathEscape(action))
	err := c.post(ctx, path, nil, &out)
	return out, err
}

// ExecutePower satisfies PowerExecutor.
func (c *RESTClient) ExecutePower(ctx context.Context, action string) (protocol.StatusResponse, error) {
	var out protocol.StatusResponse
	err := c.post(ctx, "/api/power", protocol.PowerRequest{Action: action}, &out)
	return out, err
}
