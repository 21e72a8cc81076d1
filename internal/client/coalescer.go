package client

import "hostwatch/internal/protocol"

// coalescer enforces the single-flight discipline: at most one outstanding
// collection per topic. Duplicates are dropped, never queued. It maps each
// outstanding topic to the request id that opened it so topic-scoped error
// frames can clear the right slot.
type coalescer struct {
	outstanding map[protocol.Topic]uint64
}

func newCoalescer() *coalescer {
	return &coalescer{outstanding: make(map[protocol.Topic]uint64)}
}

// Has reports whether a request for the topic is already in flight.
func (c *coalescer) Has(topic protocol.Topic) bool {
	_, ok := c.outstanding[topic]
	return ok
}

// Begin marks the topic outstanding under the given request id.
func (c *coalescer) Begin(topic protocol.Topic, id uint64) {
	c.outstanding[topic] = id
}

// Clear releases the topic's slot when its response arrives.
func (c *coalescer) Clear(topic protocol.Topic) {
	delete(c.outstanding, topic)
}

// ClearByID releases whichever topic the request id belongs to. Used for
// error frames, which carry only the echoed id.
func (c *coalescer) ClearByID(id uint64) (protocol.Topic, bool) {
	for topic, outstandingID := range c.outstanding {
		if outstandingID == id {
			delete(c.outstanding, topic)
			return topic, true
		}
	}
	return "", false
}

// Reset abandons every in-flight request. Called on channel close: stale
// requests are abandoned, not resumed, on reconnect.
func (c *coalescer) Reset() {
	clear(c.outstanding)
}
