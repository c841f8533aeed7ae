package metrics

import "time"

// MetricsEvent is one timing or counter sample. Tags identify the
// call and stage; Fields carry per-event detail like byte counts.
type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

// Observer receives every sample the engine records.
type Observer interface {
	RecordEvent(ev MetricsEvent)
}

// Flusher is implemented by observers that buffer before writing.
type Flusher interface {
	Flush() error
}

// NoopObserver discards all samples. It is the default when no
// observer is configured.
type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}
