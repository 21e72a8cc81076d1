package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"

	"hostwatch/internal/config"
	"hostwatch/internal/telemetry"
)

// collaborator is what a channel session needs from the telemetry layer.
type collaborator interface {
	telemetry.Source
	telemetry.Actions
}

// Server owns the HTTP listener carrying both the duplex channel endpoint
// and the out-of-band REST surface.
type Server struct {
	cfg    config.Config
	logger *slog.Logger
	source collaborator
	power  *telemetry.PowerManager
	health *HealthStatus
}

func NewServer(cfg config.Config, source collaborator, power *telemetry.PowerManager, health *HealthStatus, logger *slog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		source: source,
		power:  power,
		health: health,
	}
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.routes(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("http server listening", "addr", s.cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/system/info", s.handleSystemInfo)
	mux.HandleFunc("GET /api/system/metrics", s.handleSystemMetrics)
	mux.HandleFunc("GET /api/processes", s.handleProcesses)
	mux.HandleFunc("GET /api/network", s.handleNetworkStats)
	mux.HandleFunc("POST /api/processes/{pid}/kill", s.handleKillProcess)
	mux.HandleFunc("GET /api/containers", s.handleContainers)
	mux.HandleFunc("GET /api/containers/{id}/stats", s.handleContainerStats)
	mux.HandleFunc("GET /api/containers/{id}/logs", s.handleContainerLogs)
	mux.HandleFunc("POST /api/containers/{id}/{action}", s.handleContainerAction)
	mux.HandleFunc("POST /api/power", s.handlePower)
	mux.HandleFunc("GET /api/ws/{connection_id}", s.handleWebSocket)
	return mux
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	connID := r.PathValue("connection_id")
	if connID == "" {
		http.Error(w, "missing connection id", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		s.logger.Warn("websocket accept failed", "conn_id", connID, "error", err)
		return
	}
	conn.SetReadLimit(1 << 20)

	logger := s.logger.With("conn_id", connID)
	logger.Info("client connected")
	s.health.ConnectionOpened()
	defer s.health.ConnectionClosed()

	sess := newSession(connID, conn, s.source, s.health, s.cfg, logger)
	sess.run(r.Context())

	_ = conn.Close(websocket.StatusNormalClosure, "session ended")
	logger.Info("client disconnected")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{"status": "healthy", "service": "hostwatchd"}
	for k, v := range s.health.Snapshot() {
		payload[k] = v
	}
	writeJSON(w, http.StatusOK, payload)
}
