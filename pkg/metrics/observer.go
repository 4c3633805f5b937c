// Package metrics collects playback and Q&A flow events. The surface is
// a single Observer interface so deployments can fan events to files,
// memory, or nothing.
package metrics

import "time"

// MetricsEvent is one named occurrence: a deferred pause, an implicit
// continue, an exchange opening. Tags carry low-cardinality labels such
// as session_id.
type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// MultiObserver forwards each event to every child observer.
type MultiObserver []Observer

func (m MultiObserver) RecordEvent(ev MetricsEvent) {
	for _, o := range m {
		o.RecordEvent(ev)
	}
}
