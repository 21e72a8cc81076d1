package daemon

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"hostwatch/internal/protocol"
)

// REST handlers back the out-of-band surface: reads are idempotent and
// power actions survive even when the duplex channel is down.

func (s *Server) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.source.Collect(r.Context(), protocol.TopicSystemInfo, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleSystemMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.source.Collect(r.Context(), protocol.TopicMetrics, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) handleProcesses(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.ProcessLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	procs, err := s.source.Collect(r.Context(), protocol.TopicProcesses, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, procs)
}

func (s *Server) handleKillProcess(w http.ResponseWriter, r *http.Request) {
	pid, err := strconv.ParseInt(r.PathValue("pid"), 10, 32)
	if err != nil || pid <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid pid %q", r.PathValue("pid")))
		return
	}
	if err := s.source.KillProcess(r.Context(), int32(pid)); err != nil {
		writeJSON(w, http.StatusInternalServerError, protocol.StatusResponse{Status: "error", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, protocol.StatusResponse{
		Status:  "ok",
		Message: fmt.Sprintf("Process %d terminated", pid),
	})
}

func (s *Server) handleContainers(w http.ResponseWriter, r *http.Request) {
	containers, err := s.source.Collect(r.Context(), protocol.TopicContainers, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, containers)
}

func (s *Server) handleNetworkStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.source.Collect(r.Context(), protocol.TopicNetwork, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleContainerStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.source.ContainerStats(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleContainerLogs(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	tail := s.cfg.LogTail
	if v := r.URL.Query().Get("tail"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid tail %q", v))
			return
		}
		tail = n
	}
	logs, err := s.source.ContainerLogs(r.Context(), id, tail)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": logs})
}

func (s *Server) handleContainerAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	action := r.PathValue("action")
	if !protocol.ContainerActions[action] {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid action %q, use start, stop, or restart", action))
		return
	}
	msg, err := s.source.ContainerAction(r.Context(), id, action)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.StatusResponse{Status: "ok", Message: msg})
}

func (s *Server) handlePower(w http.ResponseWriter, r *http.Request) {
	var req protocol.PowerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid power request body: %w", err))
		return
	}
	if !protocol.PowerActions[req.Action] {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid power action %q, use reboot or shutdown", req.Action))
		return
	}

	msg, err := s.power.Execute(r.Context(), req.Action)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, protocol.StatusResponse{Status: "error", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, protocol.StatusResponse{Status: "ok", Message: msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, protocol.StatusResponse{Status: "error", Message: err.Error()})
}
