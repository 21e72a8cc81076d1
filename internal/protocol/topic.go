package protocol

// Topic is a named category of telemetry with its own collection cadence.
type Topic string

const (
	TopicSystemInfo Topic = "system_info"
	TopicMetrics    Topic = "metrics"
	TopicProcesses  Topic = "processes"
	TopicContainers Topic = "containers"
	TopicNetwork    Topic = "network"
)

// Topics lists every topic in delivery-tag order.
var Topics = []Topic{TopicSystemInfo, TopicMetrics, TopicProcesses, TopicContainers, TopicNetwork}

// RequestKind returns the request message kind that collects the topic.
func (t Topic) RequestKind() Kind {
	switch t {
	case TopicSystemInfo:
		return KindGetSystemInfo
	case TopicMetrics:
		return KindGetMetrics
	case TopicProcesses:
		return KindGetProcesses
	case TopicContainers:
		return KindGetContainers
	case TopicNetwork:
		return KindGetNetworkStats
	}
	return ""
}

// ResponseKind returns the response message kind that delivers the topic.
func (t Topic) ResponseKind() Kind {
	switch t {
	case TopicSystemInfo:
		return KindSystemInfo
	case TopicMetrics:
		return KindMetrics
	case TopicProcesses:
		return KindProcessesData
	case TopicContainers:
		return KindContainersData
	case TopicNetwork:
		return KindNetworkStats
	}
	return ""
}

// TopicForResponse maps a response kind back to its topic.
func TopicForResponse(k Kind) (Topic, bool) {
	switch k {
	case KindSystemInfo:
		return TopicSystemInfo, true
	case KindMetrics:
		return TopicMetrics, true
	case KindProcessesData:
		return TopicProcesses, true
	case KindContainersData:
		return TopicContainers, true
	case KindNetworkStats:
		return TopicNetwork, true
	}
	return "", false
}
