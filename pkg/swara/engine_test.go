package swara

import (
	"context"
	"testing"
	"time"

	"github.com/andityas/swara/pkg/frames"
	mocktransport "github.com/andityas/swara/pkg/transports/mock"
)

func testEngineConfig() Config {
	return Config{
		Vendors: VendorsConfig{
			STT: VendorConfig{Provider: "mock", Settings: map[string]any{"transcript": "what time do you open"}},
			TTS: VendorConfig{Provider: "mock"},
			LLM: VendorConfig{Provider: "mock", Settings: map[string]any{"response_text": "We open at nine."}},
		},
		Transports: TransportsConfig{Provider: "mock"},
		Agent: AgentConfig{
			Instructions:  "You are a test agent.",
			Greeting:      "Hello.",
			EnableEndCall: true,
		},
		Functions: FunctionsConfig{Concurrency: 2, TimeoutMS: 1000, RetryBackoffMS: 10},
		Synthesis: SynthesisConfig{Concurrency: 2},
		Playback:  PlaybackConfig{SampleRate: 8000},
		LogLevel:  "error",
	}
}

func callStart(callSID, streamID string) frames.Frame {
	return frames.NewSystemFrame(streamID, 0, "call_start", map[string]string{
		frames.MetaCallSID:    callSID,
		frames.MetaStreamID:   streamID,
		frames.MetaFromNumber: "+15550001",
		frames.MetaToNumber:   "+15550002",
	})
}

func callEnd(callSID, streamID, reason string) frames.Frame {
	return frames.NewSystemFrame(streamID, 0, "call_end", map[string]string{
		frames.MetaCallSID:  callSID,
		frames.MetaStreamID: streamID,
		frames.MetaReason:   reason,
	})
}

func waitUntil(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func collectAudio(t *testing.T, sink *mocktransport.Sink, want int, d time.Duration) []frames.AudioFrame {
	t.Helper()
	var got []frames.AudioFrame
	deadline := time.After(d)
	for len(got) < want {
		select {
		case f := <-sink.Sent():
			if af, ok := f.(frames.AudioFrame); ok {
				got = append(got, af)
			}
		case <-deadline:
			t.Fatalf("got %d audio frames, want %d", len(got), want)
		}
	}
	return got
}

func TestEngineCallLifecycle(t *testing.T) {
	mt := mocktransport.New()
	e := NewEngine(EngineOptions{Config: testEngineConfig(), Transport: mt})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	mt.Push(callStart("CA1", "MZ1"))
	waitUntil(t, 2*time.Second, func() bool {
		_, ok := e.Registry().Get("CA1")
		return ok
	}, "session was not created on call_start")

	// The greeting is spoken without consulting the language backend.
	sink := mt.SinkFor("CA1")
	greeting := collectAudio(t, sink, 1, 2*time.Second)
	if greeting[0].Rate() != 8000 {
		t.Errorf("greeting audio rate = %d", greeting[0].Rate())
	}

	// Caller audio triggers the scripted transcript, which flows
	// through generation and synthesis back to the sink.
	mt.Push(frames.NewAudioFrame("MZ1", 0, make([]byte, 160), 8000, 1, map[string]string{
		frames.MetaCallSID:  "CA1",
		frames.MetaStreamID: "MZ1",
	}))
	collectAudio(t, sink, 2, 3*time.Second)

	mt.Push(callEnd("CA1", "MZ1", "completed"))
	waitUntil(t, 2*time.Second, func() bool {
		return e.Registry().Count() == 0
	}, "session was not removed on call_end")
}

func TestEngineDuplicateStartKeepsOneSession(t *testing.T) {
	mt := mocktransport.New()
	e := NewEngine(EngineOptions{Config: testEngineConfig(), Transport: mt})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	mt.Push(callStart("CA2", "MZ2"))
	mt.Push(callStart("CA2", "MZ2"))
	waitUntil(t, 2*time.Second, func() bool {
		return e.Registry().Count() == 1
	}, "expected exactly one session")
	time.Sleep(50 * time.Millisecond)
	if got := e.Registry().Count(); got != 1 {
		t.Fatalf("session count = %d after duplicate start", got)
	}
}

func TestEngineDrainingRejectsNewCalls(t *testing.T) {
	mt := mocktransport.New()
	e := NewEngine(EngineOptions{Config: testEngineConfig(), Transport: mt})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	e.Registry().SetDraining(true)
	mt.Push(callStart("CA3", "MZ3"))
	time.Sleep(100 * time.Millisecond)
	if got := e.Registry().Count(); got != 0 {
		t.Fatalf("draining engine created %d sessions", got)
	}
}

func TestBuildFunctionRegistryBuiltins(t *testing.T) {
	mt := mocktransport.New()
	cfg := testEngineConfig()
	cfg.Agent.EnableTransfer = true
	cfg.Agent.TransferTarget = "+15550100"
	e := NewEngine(EngineOptions{Config: cfg, Transport: mt, Updater: mt.Updater()})

	for _, name := range []string{"end_call", "transfer_call"} {
		if _, ok := e.Functions().Lookup(name); !ok {
			t.Errorf("builtin %q missing from registry", name)
		}
	}
}
