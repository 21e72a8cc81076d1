package daemon

import (
	"sync/atomic"
	"time"
)

// HealthStatus tracks daemon liveness facts for /health and logs.
type HealthStatus struct {
	dockerConnected   atomic.Bool
	activeConnections atomic.Int64
	lastCollectAt     atomic.Int64
}

func NewHealthStatus() *HealthStatus {
	return &HealthStatus{}
}

func (h *HealthStatus) SetDockerConnected(ok bool) {
	h.dockerConnected.Store(ok)
}

func (h *HealthStatus) ConnectionOpened() {
	h.activeConnections.Add(1)
}

func (h *HealthStatus) ConnectionClosed() {
	h.activeConnections.Add(-1)
}

func (h *HealthStatus) MarkCollect(ts time.Time) {
	h.lastCollectAt.Store(ts.UnixNano())
}

func (h *HealthStatus) Snapshot() map[string]any {
	out := map[string]any{
		"docker_connected":   h.dockerConnected.Load(),
		"active_connections": h.activeConnections.Load(),
	}
	if v := h.lastCollectAt.Load(); v > 0 {
		out["last_collect_at"] = time.Unix(0, v).UTC()
	}
	return out
}
