package sequencer

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/andityas/swara/pkg/call"
	"github.com/andityas/swara/pkg/events"
	"github.com/andityas/swara/pkg/frames"
	"github.com/andityas/swara/pkg/transports"
)

// memorySink records delivered frames and can simulate queue pressure.
type memorySink struct {
	mu       sync.Mutex
	audio    []frames.AudioFrame
	clears   int
	pressure bool
}

func (m *memorySink) Send(f frames.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch fr := f.(type) {
	case frames.ControlFrame:
		if fr.Code() == frames.ControlClear {
			m.clears++
		}
		return nil
	case frames.AudioFrame:
		if m.pressure {
			return transports.ErrBackpressure
		}
		m.audio = append(m.audio, fr)
		return nil
	}
	return nil
}

func (m *memorySink) setPressure(on bool) {
	m.mu.Lock()
	m.pressure = on
	m.mu.Unlock()
}

func (m *memorySink) delivered() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.audio))
	for i, f := range m.audio {
		out[i] = string(f.RawPayload())
	}
	return out
}

func (m *memorySink) clearCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clears
}

// gatedSink parks an audio Send until released and records the order
// in which audio and clears reach the transport.
type gatedSink struct {
	mu      sync.Mutex
	entered chan struct{}
	gate    chan struct{}
	order   []string
}

func (g *gatedSink) Send(f frames.Frame) error {
	switch f.(type) {
	case frames.ControlFrame:
		g.mu.Lock()
		g.order = append(g.order, "clear")
		g.mu.Unlock()
	case frames.AudioFrame:
		g.entered <- struct{}{}
		<-g.gate
		g.mu.Lock()
		g.order = append(g.order, "audio")
		g.mu.Unlock()
	}
	return nil
}

func (g *gatedSink) sequence() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.order...)
}

func newSequencer(t *testing.T, opts ...Option) (*Sequencer, *events.Bus, *memorySink, *call.Context, context.CancelFunc) {
	t.Helper()
	bus := events.NewBus(nil)
	sink := &memorySink{}
	cc := call.New(call.Params{SID: "CA1"})
	seq := New(bus, sink, cc, "MS1", slog.Default(), opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go seq.Run(ctx)
	return seq, bus, sink, cc, cancel
}

func chunk(turn uint64, ord, seq int, payload string, last bool) events.AudioChunk {
	return events.AudioChunk{TurnID: turn, Ordinal: ord, Seq: seq, Payload: []byte(payload), Last: last}
}

func waitDelivered(t *testing.T, sink *memorySink, n int) []string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		got := sink.delivered()
		if len(got) >= n {
			return got
		}
		select {
		case <-deadline:
			t.Fatalf("timed out: delivered %d frames, want %d: %v", len(got), n, got)
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func TestHoldsLaterOrdinalUntilEarlierCompletes(t *testing.T) {
	_, bus, sink, _, cancel := newSequencer(t)
	defer cancel()

	// Ordinal 1 finishes synthesis first.
	bus.Emit(chunk(1, 1, 0, "b0", true))
	time.Sleep(20 * time.Millisecond)
	if got := sink.delivered(); len(got) != 0 {
		t.Fatalf("ordinal 1 must wait for ordinal 0, delivered %v", got)
	}

	bus.Emit(chunk(1, 0, 0, "a0", false))
	bus.Emit(chunk(1, 0, 1, "a1", true))
	bus.Emit(events.ReplyDone{TurnID: 1, Fragments: 2})

	got := waitDelivered(t, sink, 3)
	want := []string{"a0", "a1", "b0"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delivery order %v, want %v", got, want)
		}
	}
}

func TestArbitraryCompletionOrdersDeliverInOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 20; trial++ {
		_, bus, sink, _, cancel := newSequencer(t)

		// Three fragments, two chunks each, completing in random order.
		var all []events.AudioChunk
		var want []string
		for ord := 0; ord < 3; ord++ {
			for q := 0; q < 2; q++ {
				payload := string(rune('a'+ord)) + string(rune('0'+q))
				all = append(all, chunk(1, ord, q, payload, q == 1))
				want = append(want, payload)
			}
		}
		// Shuffle whole fragments, keeping intra-fragment order.
		perm := rng.Perm(3)
		for _, ord := range perm {
			bus.Emit(all[ord*2])
			bus.Emit(all[ord*2+1])
		}
		bus.Emit(events.ReplyDone{TurnID: 1, Fragments: 3})

		got := waitDelivered(t, sink, 6)
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("trial %d: delivery order %v, want %v", trial, got, want)
			}
		}
		cancel()
	}
}

func TestInterruptDropsBufferedAndSendsOneClear(t *testing.T) {
	_, bus, sink, cc, cancel := newSequencer(t)
	defer cancel()

	var interrupted []events.Interrupted
	var cleared int
	mu := sync.Mutex{}
	bus.Subscribe(events.KindInterrupted, func(ev events.Event) {
		mu.Lock()
		interrupted = append(interrupted, ev.(events.Interrupted))
		mu.Unlock()
	})
	bus.Subscribe(events.KindClear, func(events.Event) {
		mu.Lock()
		cleared++
		mu.Unlock()
	})

	bus.Emit(chunk(1, 0, 0, "a0", true))
	waitDelivered(t, sink, 1)

	// Ordinal 1 is buffered but held back; ordinal 2 still synthesizing.
	bus.Emit(chunk(1, 2, 0, "c0", true))
	bus.Emit(events.Utterance{})

	// Late completion of the interrupted turn must be dropped.
	bus.Emit(chunk(1, 1, 0, "b0", true))
	bus.Emit(events.ReplyDone{TurnID: 1, Fragments: 3})
	time.Sleep(30 * time.Millisecond)

	if got := sink.delivered(); len(got) != 1 {
		t.Fatalf("no chunk of an interrupted turn may deliver, got %v", got)
	}
	if sink.clearCount() != 1 {
		t.Fatalf("expected exactly one clear, got %d", sink.clearCount())
	}
	mu.Lock()
	defer mu.Unlock()
	if cleared != 1 || len(interrupted) != 1 {
		t.Fatalf("expected one Clear and one Interrupted event, got %d/%d", cleared, len(interrupted))
	}
	if interrupted[0].Count != 1 || cc.Interruptions() != 1 {
		t.Fatalf("expected interruption counter 1, got %d", cc.Interruptions())
	}
}

func TestInterruptWaitsForInFlightAudioSend(t *testing.T) {
	bus := events.NewBus(nil)
	sink := &gatedSink{entered: make(chan struct{}), gate: make(chan struct{})}
	cc := call.New(call.Params{SID: "CA1"})
	seq := New(bus, sink, cc, "MS1", slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go seq.Run(ctx)

	bus.Emit(chunk(1, 0, 0, "a0", true))
	select {
	case <-sink.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("audio send never started")
	}

	// Barge in while the chunk hand-off to the transport is mid-flight.
	done := make(chan struct{})
	go func() {
		seq.Interrupt()
		close(done)
	}()

	// The clear must not overtake the in-flight chunk; the transport
	// would flush its queue and then accept the stale audio behind it.
	time.Sleep(100 * time.Millisecond)
	if got := sink.sequence(); len(got) != 0 {
		t.Fatalf("clear reached transport during in-flight audio send: %v", got)
	}

	close(sink.gate)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("interrupt never completed")
	}

	got := sink.sequence()
	if len(got) != 2 || got[0] != "audio" || got[1] != "clear" {
		t.Fatalf("expected audio then clear, got %v", got)
	}
}

func TestUtteranceDuringSilenceIsFree(t *testing.T) {
	_, bus, sink, cc, cancel := newSequencer(t)
	defer cancel()

	bus.Emit(events.Utterance{})
	time.Sleep(10 * time.Millisecond)

	if sink.clearCount() != 0 {
		t.Fatalf("no clear expected with nothing in flight")
	}
	if cc.Interruptions() != 0 {
		t.Fatalf("counter must not move with nothing in flight")
	}
}

func TestNewTurnDeliversAfterInterrupt(t *testing.T) {
	_, bus, sink, _, cancel := newSequencer(t)
	defer cancel()

	bus.Emit(chunk(1, 0, 0, "old", true))
	waitDelivered(t, sink, 1)
	bus.Emit(events.Utterance{})

	bus.Emit(chunk(2, 0, 0, "new0", true))
	bus.Emit(chunk(2, 1, 0, "new1", true))
	bus.Emit(events.ReplyDone{TurnID: 2, Fragments: 2})

	got := waitDelivered(t, sink, 3)
	if got[1] != "new0" || got[2] != "new1" {
		t.Fatalf("new turn must deliver from ordinal 0: %v", got)
	}
}

func TestAbortedOrdinalIsSkipped(t *testing.T) {
	_, bus, sink, _, cancel := newSequencer(t)
	defer cancel()

	bus.Emit(chunk(1, 0, 0, "a0", true))
	bus.Emit(events.FragmentAborted{TurnID: 1, Ordinal: 1, Reason: "synthesis failed"})
	bus.Emit(chunk(1, 2, 0, "c0", true))
	bus.Emit(events.ReplyDone{TurnID: 1, Fragments: 3})

	got := waitDelivered(t, sink, 2)
	if got[0] != "a0" || got[1] != "c0" {
		t.Fatalf("expected aborted ordinal skipped, got %v", got)
	}
}

func TestTurnCompletionResetsCursorForNextTurn(t *testing.T) {
	_, bus, sink, cc, cancel := newSequencer(t)
	defer cancel()

	bus.Emit(chunk(1, 0, 0, "t1", true))
	bus.Emit(events.ReplyDone{TurnID: 1, Fragments: 1})
	waitDelivered(t, sink, 1)

	// Next turn restarts at ordinal 0 without an interrupt.
	bus.Emit(chunk(2, 0, 0, "t2", true))
	bus.Emit(events.ReplyDone{TurnID: 2, Fragments: 1})
	got := waitDelivered(t, sink, 2)

	if got[1] != "t2" {
		t.Fatalf("expected second turn delivered, got %v", got)
	}
	if cc.Interruptions() != 0 {
		t.Fatalf("turn completion is not an interrupt")
	}
}

func TestBackpressureSuspendsWithoutLossOrFailure(t *testing.T) {
	_, bus, sink, _, cancel := newSequencer(t)
	defer cancel()

	sink.setPressure(true)
	bus.Emit(chunk(1, 0, 0, "p0", false))
	bus.Emit(chunk(1, 0, 1, "p1", true))
	bus.Emit(events.ReplyDone{TurnID: 1, Fragments: 1})

	time.Sleep(60 * time.Millisecond)
	if got := sink.delivered(); len(got) != 0 {
		t.Fatalf("expected suspension under pressure, delivered %v", got)
	}

	sink.setPressure(false)
	got := waitDelivered(t, sink, 2)
	if got[0] != "p0" || got[1] != "p1" {
		t.Fatalf("expected delivery to resume in order, got %v", got)
	}
}
