package main

import (
	"context"
	"log"

	"hostwatch/internal/config"
	"hostwatch/internal/daemon"
	"hostwatch/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.Configure(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		log.Fatalf("configure logging: %v", err)
	}

	d, err := daemon.New(cfg, logger)
	if err != nil {
		logger.Error("daemon initialization failed", "error", err)
		return
	}

	if err := d.Run(context.Background()); err != nil {
		logger.Error("daemon runtime failed", "error", err)
	}
}
