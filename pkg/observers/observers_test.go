package observers

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andityas/swara/pkg/events"
	"github.com/andityas/swara/pkg/metrics"
)

func TestBridgeMapsCallEvents(t *testing.T) {
	mem := metrics.NewMemoryObserver()
	tap := Bridge(mem)

	base := events.Base{CallSID: "CA1", At: time.Now()}
	tap(events.Transcript{Base: base, Text: "hello", Final: true})
	tap(events.Transcript{Base: base, Text: "partial", Final: false})
	tap(events.AudioChunk{Base: base, TurnID: 1, Payload: []byte{1, 2, 3}})
	tap(events.Interrupted{Base: base, TurnID: 1, Count: 2})

	if len(mem.Events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(mem.Events))
	}
	if mem.Events[0].Name != metrics.EventTranscriptFinal {
		t.Fatalf("expected transcript_final, got %q", mem.Events[0].Name)
	}
	if mem.Events[1].Name != metrics.EventAudioChunk || mem.Events[1].Value != 3 {
		t.Fatalf("expected audio_chunk of 3 bytes, got %+v", mem.Events[1])
	}
	if mem.Events[2].Tags["call_sid"] != "CA1" {
		t.Fatalf("expected call_sid tag, got %v", mem.Events[2].Tags)
	}
}

func TestLatencyObserverMeasuresFirstAudio(t *testing.T) {
	var buf strings.Builder
	log := slog.New(slog.NewTextHandler(&buf, nil))
	obs := NewLatencyObserver(log)

	start := time.Now()
	obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventTranscriptFinal,
		Time: start,
		Tags: map[string]string{"call_sid": "CA1"},
	})
	obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventAudioChunk,
		Time: start.Add(480 * time.Millisecond),
		Tags: map[string]string{"call_sid": "CA1"},
	})

	out := buf.String()
	if !strings.Contains(out, "first_audio_ms=480") {
		t.Fatalf("expected latency line, got %q", out)
	}

	// Second chunk of the same turn measures nothing.
	buf.Reset()
	obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventAudioChunk,
		Time: start.Add(time.Second),
		Tags: map[string]string{"call_sid": "CA1"},
	})
	if buf.Len() != 0 {
		t.Fatalf("expected no second measurement, got %q", buf.String())
	}
}

func TestLatencyObserverDiscardsOnInterrupt(t *testing.T) {
	var buf strings.Builder
	obs := NewLatencyObserver(slog.New(slog.NewTextHandler(&buf, nil)))

	now := time.Now()
	obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventTranscriptFinal,
		Time: now,
		Tags: map[string]string{"call_sid": "CA1"},
	})
	obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventInterrupt,
		Time: now.Add(100 * time.Millisecond),
		Tags: map[string]string{"call_sid": "CA1"},
	})
	obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventAudioChunk,
		Time: now.Add(time.Second),
		Tags: map[string]string{"call_sid": "CA1"},
	})
	if strings.Contains(buf.String(), "first_audio_ms") {
		t.Fatalf("expected discarded window, got %q", buf.String())
	}
}

func TestTimelineObserverWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	obs := NewTimelineObserver(dir)

	obs.RecordEvent(metrics.MetricsEvent{
		Name: metrics.EventAudioChunk,
		Time: time.Now(),
		Tags: map[string]string{"call_sid": "CA-1"},
	})
	_ = obs.Close()

	b, err := os.ReadFile(filepath.Join(dir, "CA-1.jsonl"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if !strings.Contains(string(b), metrics.EventAudioChunk) {
		t.Fatalf("expected audio_chunk event in file, got %q", string(b))
	}
}
