package topic

import (
	"fmt"
	"strings"
)

// Segments of the status topics. Subscribers depend on them.
const (
	// SegmentStartupTime groups every status topic of the startup-time measurement.
	SegmentStartupTime = "startup-time"

	// SegmentRun carries events that concern the whole run rather than one ECU.
	// Structure: {root}/startup-time/run/{event}
	SegmentRun = "run"

	// Wildcard is the single-level wildcard.
	Wildcard = "+"
)

// TopicBuilder constructs the status topic strings under one root namespace.
type TopicBuilder struct {
	root string
}

// NewTopicBuilder creates a builder for root, e.g. "bench/lab1".
func NewTopicBuilder(root string) *TopicBuilder {
	return &TopicBuilder{root: strings.TrimSuffix(root, "/")}
}

// Event returns the topic of an ECU event.
// Structure: {root}/startup-time/{ecu}/{event}
func (b *TopicBuilder) Event(ecu, event string) string {
	if ecu == "" {
		ecu = SegmentRun
	}
	return b.build(ecu, event)
}

// Status returns the retained run status topic, also used as the will topic.
// Structure: {root}/startup-time/run/status
func (b *TopicBuilder) Status() string {
	return b.build(SegmentRun, "status")
}

// EventWildcard matches every event of every ECU.
func (b *TopicBuilder) EventWildcard() string {
	return b.build(Wildcard, Wildcard)
}

func (b *TopicBuilder) build(ecu, event string) string {
	return fmt.Sprintf("%s/%s/%s/%s", b.root, SegmentStartupTime, ecu, event)
}
