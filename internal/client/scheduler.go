package client

import (
	"log/slog"
	"time"

	"hostwatch/internal/protocol"
)

// Sender puts one request on the channel, assigning its id. ok is false
// when the transport is not open; the request is silently dropped then.
type Sender interface {
	Send(req protocol.Request) (id uint64, ok bool)
}

// Scheduler decides what to collect and when, steered by the active view.
// All methods run on the session's event loop; there is no parallel
// mutation of its state.
type Scheduler struct {
	logger *slog.Logger
	sender Sender
	now    func() time.Time

	inflight     *coalescer
	active       protocol.Topic
	processLimit int

	lastRequest map[protocol.Topic]time.Time
	spacing     map[protocol.Topic]time.Duration
}

func NewScheduler(sender Sender, processLimit int, processSpacing, networkSpacing time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		logger:       logger,
		sender:       sender,
		now:          time.Now,
		inflight:     newCoalescer(),
		active:       protocol.TopicProcesses,
		processLimit: processLimit,
		lastRequest:  make(map[protocol.Topic]time.Time),
		spacing: map[protocol.Topic]time.Duration{
			protocol.TopicProcesses: processSpacing,
			protocol.TopicNetwork:   networkSpacing,
		},
	}
}

// ActiveView returns the topic currently steering collection.
func (s *Scheduler) ActiveView() protocol.Topic {
	return s.active
}

// SetActiveView switches the steering topic and immediately collects it:
// the view must not wait for the next tick to populate.
func (s *Scheduler) SetActiveView(topic protocol.Topic) {
	if topic == s.active {
		return
	}
	s.active = topic
	s.request(topic, false)
}

// SetProcessLimit changes the process view's row budget and refreshes it.
func (s *Scheduler) SetProcessLimit(limit int) {
	if limit <= 0 || limit == s.processLimit {
		return
	}
	s.processLimit = limit
	if s.active == protocol.TopicProcesses {
		s.request(protocol.TopicProcesses, false)
	}
}

// Bootstrap runs on channel open: system info and metrics first, then the
// active view. Nothing is retried from before the (re)connect.
func (s *Scheduler) Bootstrap() {
	s.request(protocol.TopicSystemInfo, false)
	s.request(protocol.TopicMetrics, false)
	s.request(s.active, true)
}

// OnFastTick collects metrics unconditionally and the process view when it
// is active.
func (s *Scheduler) OnFastTick() {
	s.request(protocol.TopicMetrics, false)
	if s.active == protocol.TopicProcesses {
		s.request(protocol.TopicProcesses, false)
	}
}

// OnSlowTick collects the container or network view when it is active.
// All other topics are skipped: collection tracks only what is visibly
// consumed.
func (s *Scheduler) OnSlowTick() {
	if s.active == protocol.TopicContainers || s.active == protocol.TopicNetwork {
		s.request(s.active, false)
	}
}

// Refresh collects a topic bypassing its spacing window. Used after a
// successful command so the view reflects the change without waiting for
// the next tick. The single-flight rule still applies.
func (s *Scheduler) Refresh(topic protocol.Topic) {
	s.request(topic, true)
}

// OnSnapshot clears the topic's in-flight slot and reports whether the
// snapshot should update client-visible state. A response for a view the
// user has since left is consumed but discarded.
func (s *Scheduler) OnSnapshot(topic protocol.Topic) bool {
	s.inflight.Clear(topic)
	switch topic {
	case protocol.TopicSystemInfo, protocol.TopicMetrics:
		return true
	default:
		return topic == s.active
	}
}

// OnErrorFrame clears whichever topic the failed request id belonged to.
func (s *Scheduler) OnErrorFrame(id uint64) {
	if topic, ok := s.inflight.ClearByID(id); ok {
		s.logger.Debug("topic collection failed", "topic", topic)
	}
}

// OnChannelClosed abandons all in-flight requests.
func (s *Scheduler) OnChannelClosed() {
	s.inflight.Reset()
}

func (s *Scheduler) request(topic protocol.Topic, bypassSpacing bool) {
	if !bypassSpacing {
		if window, ok := s.spacing[topic]; ok {
			if last, seen := s.lastRequest[topic]; seen && s.now().Sub(last) < window {
				// Inside the spacing window: dropped, not deferred.
				return
			}
		}
	}
	if s.inflight.Has(topic) {
		return
	}

	req := protocol.Request{Kind: topic.RequestKind()}
	if topic == protocol.TopicProcesses {
		req.Limit = s.processLimit
	}
	id, ok := s.sender.Send(req)
	if !ok {
		return
	}
	s.inflight.Begin(topic, id)
	s.lastRequest[topic] = s.now()
}
