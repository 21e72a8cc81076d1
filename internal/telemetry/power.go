package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// PowerManager forwards reboot/shutdown intent to the host after managed
// application containers have been stopped gracefully. Actions are never
// retried; a second shutdown is not harmless.
type PowerManager struct {
	logger       *slog.Logger
	engine       *Engine
	managedLabel string
	delay        time.Duration
}

func NewPowerManager(engine *Engine, managedLabel string, delay time.Duration, logger *slog.Logger) *PowerManager {
	return &PowerManager{
		logger:       logger,
		engine:       engine,
		managedLabel: managedLabel,
		delay:        delay,
	}
}

// Execute performs a validated power transition and returns the outcome
// message. The managed-container stop is best-effort: a failure there is
// logged but does not veto the transition.
func (p *PowerManager) Execute(ctx context.Context, action string) (string, error) {
	switch action {
	case "reboot", "shutdown":
	default:
		return "", fmt.Errorf("invalid power action %q", action)
	}

	if p.engine != nil {
		p.logger.Info("stopping managed containers before power transition", "action", action)
		stopCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := p.engine.StopManaged(stopCtx, p.managedLabel)
		cancel()
		if err != nil {
			p.logger.Warn("managed container stop failed", "error", err)
		}
	}

	// Let container shutdown settle before the host goes down.
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(p.delay):
	}

	arg := "-r"
	verb := "rebooting"
	if action == "shutdown" {
		arg = "-h"
		verb = "shutting down"
	}
	cmdCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if out, err := exec.CommandContext(cmdCtx, "shutdown", arg, "+0").CombinedOutput(); err != nil {
		return "", fmt.Errorf("shutdown command failed: %v: %s", err, string(out))
	}
	return fmt.Sprintf("Managed containers stopped. System %s now", verb), nil
}
