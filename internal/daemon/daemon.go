// Package daemon wires the telemetry source to the duplex channel and REST
// surfaces and owns the process lifecycle of hostwatchd.
package daemon

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hostwatch/internal/config"
	"hostwatch/internal/telemetry"
)

type Daemon struct {
	cfg    config.Config
	logger *slog.Logger
	source *telemetry.HostSource
	power  *telemetry.PowerManager
	health *HealthStatus
	server *Server
}

func New(cfg config.Config, logger *slog.Logger) (*Daemon, error) {
	health := NewHealthStatus()

	// A missing engine degrades container topics to errors rather than
	// refusing to start: the host views still work without Docker.
	var engine *telemetry.Engine
	eng, err := telemetry.NewEngine(logger)
	if err != nil {
		logger.Warn("docker client init failed, container topics disabled", "error", err)
	} else {
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err = eng.Ping(pingCtx)
		cancel()
		if err != nil {
			logger.Warn("docker engine unreachable, container topics disabled", "error", err)
		} else {
			engine = eng
			health.SetDockerConnected(true)
		}
	}

	source := telemetry.NewHostSource(engine, logger)
	power := telemetry.NewPowerManager(engine, cfg.ManagedLabel, cfg.PowerDelay, logger)
	server := NewServer(cfg, source, power, health, logger)

	return &Daemon{
		cfg:    cfg,
		logger: logger,
		source: source,
		power:  power,
		health: health,
		server: server,
	}, nil
}

func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("starting hostwatchd", "listen_addr", d.cfg.ListenAddr, "hostname", d.cfg.Hostname)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- d.server.Run(runCtx)
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case runErr = <-runErrCh:
		// Server terminated by itself (startup error or parent ctx canceled).
	case sig := <-sigCh:
		d.logger.Info("shutdown signal received, starting graceful shutdown", "signal", sig.String(), "timeout", d.cfg.ShutdownTimeout)
		cancelRun()

		graceTimer := time.NewTimer(d.cfg.ShutdownTimeout)
		defer graceTimer.Stop()

		select {
		case runErr = <-runErrCh:
		case sig2 := <-sigCh:
			d.logger.Warn("second signal received, forcing immediate shutdown", "signal", sig2.String())
			runErr = context.Canceled
		case <-graceTimer.C:
			d.logger.Warn("graceful shutdown timeout reached, forcing shutdown", "timeout", d.cfg.ShutdownTimeout)
			runErr = context.DeadlineExceeded
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	d.logger.Info("hostwatchd stopped")
	return nil
}
