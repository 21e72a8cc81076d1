package client

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"hostwatch/internal/protocol"
)

// Store holds the latest accepted snapshot per topic. The session loop is
// the sole writer; readers (the CLI renderer) may come from any goroutine.
type Store struct {
	mu sync.RWMutex

	connected   bool
	lastUpdated map[protocol.Topic]time.Time

	systemInfo protocol.SystemInfo
	metrics    protocol.SystemMetrics
	processes  []protocol.ProcessEntry
	containers []protocol.ContainerEntry
	network    protocol.NetworkStats
}

func NewStore() *Store {
	return &Store{lastUpdated: make(map[protocol.Topic]time.Time)}
}

func (s *Store) SetConnected(up bool) {
	s.mu.Lock()
	s.connected = up
	s.mu.Unlock()
}

func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// ApplySnapshot decodes a topic payload and replaces the stored value.
func (s *Store) ApplySnapshot(topic protocol.Topic, raw json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch topic {
	case protocol.TopicSystemInfo:
		if err := json.Unmarshal(raw, &s.systemInfo); err != nil {
			return fmt.Errorf("decode %s snapshot: %w", topic, err)
		}
	case protocol.TopicMetrics:
		if err := json.Unmarshal(raw, &s.metrics); err != nil {
			return fmt.Errorf("decode %s snapshot: %w", topic, err)
		}
	case protocol.TopicProcesses:
		var procs []protocol.ProcessEntry
		if err := json.Unmarshal(raw, &procs); err != nil {
			return fmt.Errorf("decode %s snapshot: %w", topic, err)
		}
		s.processes = procs
	case protocol.TopicContainers:
		var containers []protocol.ContainerEntry
		if err := json.Unmarshal(raw, &containers); err != nil {
			return fmt.Errorf("decode %s snapshot: %w", topic, err)
		}
		s.containers = containers
	case protocol.TopicNetwork:
		if err := json.Unmarshal(raw, &s.network); err != nil {
			return fmt.Errorf("decode %s snapshot: %w", topic, err)
		}
	default:
		return fmt.Errorf("unknown topic %q", topic)
	}
	s.lastUpdated[topic] = time.Now()
	return nil
}

// LastUpdated reports when a topic snapshot last landed, zero if never.
func (s *Store) LastUpdated(topic protocol.Topic) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdated[topic]
}

func (s *Store) SystemInfo() protocol.SystemInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.systemInfo
}

func (s *Store) Metrics() protocol.SystemMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

func (s *Store) Processes() []protocol.ProcessEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]protocol.ProcessEntry(nil), s.processes...)
}

func (s *Store) Containers() []protocol.ContainerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]protocol.ContainerEntry(nil), s.containers...)
}

func (s *Store) Network() protocol.NetworkStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.network
}
