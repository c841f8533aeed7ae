package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/andityas/swara/pkg/metrics"
)

// LatencyObserver measures how long a caller waits between finishing a
// sentence and hearing the first reply audio. One measurement per turn:
// the window opens on a final transcript and closes on the next audio
// chunk. An interrupt or call end discards the open window.
type LatencyObserver struct {
	mu    sync.Mutex
	turns map[string]time.Time
	log   *slog.Logger
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		turns: make(map[string]time.Time),
		log:   log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	callSID := ""
	if ev.Tags != nil {
		callSID = ev.Tags["call_sid"]
	}
	if callSID == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	switch ev.Name {
	case metrics.EventTranscriptFinal:
		o.turns[callSID] = ev.Time
	case metrics.EventAudioChunk:
		start, ok := o.turns[callSID]
		if !ok {
			return
		}
		delete(o.turns, callSID)
		o.log.Info("latency",
			"event", metrics.EventFirstAudioLatency,
			"call_sid", callSID,
			"first_audio_ms", ev.Time.Sub(start).Milliseconds(),
		)
	case metrics.EventInterrupt, metrics.EventCallEnd:
		delete(o.turns, callSID)
	}
}

var _ metrics.Observer = (*LatencyObserver)(nil)
