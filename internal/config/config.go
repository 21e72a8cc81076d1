package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries every tunable for the daemon and the client protocol
// stack. Values come from HOSTWATCH_-prefixed environment variables.
type Config struct {
	Hostname string

	// Daemon side.
	ListenAddr      string
	ManagedLabel    string
	PowerDelay      time.Duration
	ShutdownTimeout time.Duration
	WriteTimeout    time.Duration

	// Client side.
	ServerURL          string
	ProcessLimit       int
	FastTickInterval   time.Duration
	SlowTickInterval   time.Duration
	ProcessSpacing     time.Duration
	NetworkSpacing     time.Duration
	ReconnectDelay     time.Duration
	ReconnectMaxJitter time.Duration
	LogTail            int

	LogLevel string
	LogJSON  bool
}

func Load() (Config, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}

	cfg := Config{
		Hostname:           hostname,
		ListenAddr:         env("HOSTWATCH_LISTEN_ADDR", "0.0.0.0:8000"),
		ManagedLabel:       env("HOSTWATCH_MANAGED_LABEL", "hostwatch.managed"),
		PowerDelay:         envDuration("HOSTWATCH_POWER_DELAY", 3*time.Second),
		ShutdownTimeout:    envDuration("HOSTWATCH_SHUTDOWN_TIMEOUT", 20*time.Second),
		WriteTimeout:       envDuration("HOSTWATCH_WRITE_TIMEOUT", 5*time.Second),
		ServerURL:          env("HOSTWATCH_SERVER_URL", "http://127.0.0.1:8000"),
		ProcessLimit:       envInt("HOSTWATCH_PROCESS_LIMIT", 20),
		FastTickInterval:   envDuration("HOSTWATCH_FAST_TICK_INTERVAL", 2*time.Second),
		SlowTickInterval:   envDuration("HOSTWATCH_SLOW_TICK_INTERVAL", 5*time.Second),
		ProcessSpacing:     envDuration("HOSTWATCH_PROCESS_SPACING", 2*time.Second),
		NetworkSpacing:     envDuration("HOSTWATCH_NETWORK_SPACING", 3*time.Second),
		ReconnectDelay:     envDuration("HOSTWATCH_RECONNECT_DELAY", 4*time.Second),
		ReconnectMaxJitter: envDuration("HOSTWATCH_RECONNECT_MAX_JITTER", 900*time.Millisecond),
		LogTail:            envInt("HOSTWATCH_LOG_TAIL", 100),
		LogLevel:           strings.ToLower(env("HOSTWATCH_LOG_LEVEL", "info")),
		LogJSON:            envBool("HOSTWATCH_LOG_JSON", false),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return errors.New("HOSTWATCH_LISTEN_ADDR is required")
	}
	if strings.TrimSpace(c.ServerURL) == "" {
		return errors.New("HOSTWATCH_SERVER_URL is required")
	}
	if c.FastTickInterval <= 0 || c.SlowTickInterval <= 0 {
		return errors.New("tick intervals must be > 0")
	}
	if c.ProcessSpacing <= 0 || c.NetworkSpacing <= 0 {
		return errors.New("spacing intervals must be > 0")
	}
	if c.ReconnectDelay <= 0 {
		return errors.New("HOSTWATCH_RECONNECT_DELAY must be > 0")
	}
	if c.ReconnectMaxJitter < 0 {
		return errors.New("HOSTWATCH_RECONNECT_MAX_JITTER must be >= 0")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("HOSTWATCH_SHUTDOWN_TIMEOUT must be > 0")
	}
	if c.ProcessLimit <= 0 {
		return errors.New("HOSTWATCH_PROCESS_LIMIT must be > 0")
	}
	if c.LogTail <= 0 {
		return errors.New("HOSTWATCH_LOG_TAIL must be > 0")
	}
	return nil
}

// WebSocketURL derives the channel endpoint from ServerURL for a given
// connection identity.
func (c Config) WebSocketURL(connectionID string) string {
	base := strings.TrimRight(c.ServerURL, "/")
	base = strings.Replace(base, "http://", "ws://", 1)
	base = strings.Replace(base, "https://", "wss://", 1)
	return fmt.Sprintf("%s/api/ws/%s", base, connectionID)
}

func env(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
