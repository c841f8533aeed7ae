package generation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/andityas/swara/pkg/call"
	"github.com/andityas/swara/pkg/events"
	"github.com/andityas/swara/pkg/llm"
)

// scriptedAdapter replays one scripted delta sequence per invocation.
type scriptedAdapter struct {
	mu      sync.Mutex
	scripts [][]llm.Delta
	errs    []error
	invoked int
	block   chan struct{}
}

func (a *scriptedAdapter) Name() string { return "scripted" }

func (a *scriptedAdapter) Stream(ctx context.Context, _ llm.Request, emit func(llm.Delta)) error {
	a.mu.Lock()
	idx := a.invoked
	a.invoked++
	var script []llm.Delta
	if idx < len(a.scripts) {
		script = a.scripts[idx]
	}
	var err error
	if idx < len(a.errs) {
		err = a.errs[idx]
	}
	block := a.block
	a.mu.Unlock()

	for _, d := range script {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		emit(d)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

type manifest struct{}

func (manifest) Tools() []llm.Tool {
	return []llm.Tool{{Name: "end_call"}, {Name: "transfer_call"}, {Name: "check_hours"}}
}

func (manifest) Say(name string) string {
	if name == "transfer_call" {
		return "One moment while I transfer you."
	}
	return ""
}

func (manifest) Terminal(name string) bool {
	return name == "end_call" || name == "transfer_call"
}

type capture struct {
	mu        sync.Mutex
	fragments []events.ReplyFragment
	calls     []events.FunctionCall
	done      []events.ReplyDone
	doneCh    chan struct{}
}

func captureReplies(bus *events.Bus) *capture {
	c := &capture{doneCh: make(chan struct{}, 4)}
	bus.Subscribe(events.KindReplyFragment, func(ev events.Event) {
		c.mu.Lock()
		c.fragments = append(c.fragments, ev.(events.ReplyFragment))
		c.mu.Unlock()
	})
	bus.Subscribe(events.KindFunctionCall, func(ev events.Event) {
		c.mu.Lock()
		c.calls = append(c.calls, ev.(events.FunctionCall))
		c.mu.Unlock()
	})
	bus.Subscribe(events.KindReplyDone, func(ev events.Event) {
		c.mu.Lock()
		c.done = append(c.done, ev.(events.ReplyDone))
		c.mu.Unlock()
		c.doneCh <- struct{}{}
	})
	return c
}

func (c *capture) waitDone(t *testing.T) events.ReplyDone {
	t.Helper()
	select {
	case <-c.doneCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for reply to finish")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done[len(c.done)-1]
}

func textDeltas(tokens ...string) []llm.Delta {
	out := make([]llm.Delta, 0, len(tokens))
	for _, tok := range tokens {
		out = append(out, llm.Delta{Text: tok})
	}
	return out
}

func setup(adapter *scriptedAdapter) (*Channel, *call.Context, *capture, *events.Bus) {
	bus := events.NewBus(nil)
	cc := call.New(call.Params{SID: "CA1", Instructions: "be helpful"})
	cap := captureReplies(bus)
	ch := New(bus, adapter, cc, manifest{}, slog.Default())
	return ch, cc, cap, bus
}

func TestReplyStreamsSentenceFragments(t *testing.T) {
	adapter := &scriptedAdapter{scripts: [][]llm.Delta{
		textDeltas("Good morning", ". ", "How can I help", "?"),
	}}
	ch, cc, cap, bus := setup(adapter)

	bus.Emit(events.Transcript{Text: "hello", Final: true})
	done := cap.waitDone(t)

	cap.mu.Lock()
	frags := append([]events.ReplyFragment(nil), cap.fragments...)
	cap.mu.Unlock()

	if len(frags) != 2 {
		t.Fatalf("expected 2 fragments, got %d", len(frags))
	}
	if frags[0].Ordinal != 0 || frags[1].Ordinal != 1 {
		t.Fatalf("expected ordinals 0,1 got %d,%d", frags[0].Ordinal, frags[1].Ordinal)
	}
	if frags[0].Text != "Good morning." || frags[1].Text != "How can I help?" {
		t.Fatalf("unexpected fragments: %q %q", frags[0].Text, frags[1].Text)
	}
	if done.Fragments != 2 {
		t.Fatalf("expected done count 2, got %d", done.Fragments)
	}

	snap := cc.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected user+assistant turns, got %d", len(snap))
	}
	if snap[1].Role != call.RoleAssistant || snap[1].Content != "Good morning. How can I help?" {
		t.Fatalf("unexpected assistant turn: %+v", snap[1])
	}
	if ch.State() != StateIdle {
		t.Fatalf("expected idle after reply, got %s", ch.State())
	}
}

func TestOrdinalsDeterministicAcrossRuns(t *testing.T) {
	for run := 0; run < 3; run++ {
		adapter := &scriptedAdapter{scripts: [][]llm.Delta{
			textDeltas("One. ", "Two. ", "Three."),
		}}
		_, _, cap, bus := setup(adapter)
		bus.Emit(events.Transcript{Text: "count", Final: true})
		cap.waitDone(t)

		cap.mu.Lock()
		var ords []int
		for _, f := range cap.fragments {
			ords = append(ords, f.Ordinal)
		}
		cap.mu.Unlock()
		if len(ords) != 3 || ords[0] != 0 || ords[1] != 1 || ords[2] != 2 {
			t.Fatalf("run %d: unexpected ordinals %v", run, ords)
		}
	}
}

func TestTerminalFunctionSpeaksAndStops(t *testing.T) {
	adapter := &scriptedAdapter{scripts: [][]llm.Delta{
		{
			{Text: "Thanks for calling. "},
			{ToolCall: &llm.ToolCallDelta{Index: 0, ID: "call_1", Name: "end_call", Arguments: `{"reason":"done"}`}},
		},
	}}
	_, cc, cap, bus := setup(adapter)

	bus.Emit(events.Transcript{Text: "goodbye", Final: true})
	cap.waitDone(t)

	cap.mu.Lock()
	defer cap.mu.Unlock()
	if len(cap.calls) != 1 || cap.calls[0].Name != "end_call" {
		t.Fatalf("expected end_call event, got %+v", cap.calls)
	}
	if cap.calls[0].Args["reason"] != "done" {
		t.Fatalf("expected decoded args, got %v", cap.calls[0].Args)
	}
	if adapter.invoked != 1 {
		t.Fatalf("terminal function must not re-invoke the backend, invoked=%d", adapter.invoked)
	}
	// The assistant tool-call turn is recorded even though the call ends.
	snap := cc.Snapshot()
	last := snap[len(snap)-1]
	if last.Role != call.RoleAssistant || len(last.ToolCalls) != 1 || last.ToolCalls[0].Name != "end_call" {
		t.Fatalf("expected assistant tool-call turn, got %+v", last)
	}
}

func TestFunctionResultResumesGeneration(t *testing.T) {
	adapter := &scriptedAdapter{scripts: [][]llm.Delta{
		{{ToolCall: &llm.ToolCallDelta{Index: 0, ID: "call_9", Name: "check_hours", Arguments: `{}`}}},
		textDeltas("We open at nine."),
	}}
	_, cc, cap, bus := setup(adapter)

	var turnID uint64
	ready := make(chan struct{})
	bus.Subscribe(events.KindFunctionCall, func(ev events.Event) {
		fc := ev.(events.FunctionCall)
		turnID = fc.TurnID
		close(ready)
	})

	bus.Emit(events.Transcript{Text: "when do you open", Final: true})
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for function call")
	}

	bus.Emit(events.FunctionResult{TurnID: turnID, CallID: "call_9", Name: "check_hours", Result: "9am to 5pm"})
	cap.waitDone(t)

	cap.mu.Lock()
	frags := append([]events.ReplyFragment(nil), cap.fragments...)
	cap.mu.Unlock()
	if len(frags) != 1 || frags[0].Text != "We open at nine." {
		t.Fatalf("expected resumed reply fragment, got %+v", frags)
	}
	if adapter.invoked != 2 {
		t.Fatalf("expected re-invocation after result, invoked=%d", adapter.invoked)
	}

	snap := cc.Snapshot()
	roles := make([]call.Role, 0, len(snap))
	for _, turn := range snap {
		roles = append(roles, turn.Role)
	}
	want := []call.Role{call.RoleUser, call.RoleAssistant, call.RoleTool, call.RoleAssistant}
	if len(roles) != len(want) {
		t.Fatalf("expected %v history, got %v", want, roles)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("history position %d: expected %s, got %s", i, want[i], roles[i])
		}
	}
	if snap[2].Content != "9am to 5pm" || snap[2].ToolCallID != "call_9" {
		t.Fatalf("unexpected tool turn: %+v", snap[2])
	}
}

func TestInterruptDuringFunctionCallKeepsHistoryPaired(t *testing.T) {
	adapter := &scriptedAdapter{scripts: [][]llm.Delta{
		{{ToolCall: &llm.ToolCallDelta{Index: 0, ID: "call_1", Name: "check_hours", Arguments: `{}`}}},
	}}
	ch, cc, _, bus := setup(adapter)

	var turnID uint64
	ready := make(chan struct{})
	bus.Subscribe(events.KindFunctionCall, func(ev events.Event) {
		fc := ev.(events.FunctionCall)
		turnID = fc.TurnID
		close(ready)
	})

	bus.Emit(events.Transcript{Text: "when do you open", Final: true})
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for function call")
	}

	// Barge in while the result is still outstanding.
	bus.Emit(events.Utterance{})
	waitIdle(t, ch)

	// No tool-call turn may sit in history without its result; later
	// backend requests would be rejected otherwise.
	for _, turn := range cc.Snapshot() {
		if len(turn.ToolCalls) != 0 {
			t.Fatalf("tool-call turn recorded before its result: %+v", turn)
		}
	}

	// The function still finishes. Its exchange lands as a pair, and
	// generation does not resume.
	bus.Emit(events.FunctionResult{TurnID: turnID, CallID: "call_1", Name: "check_hours", Result: "9am to 5pm"})

	deadline := time.After(2 * time.Second)
	for {
		if len(cc.Snapshot()) == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("function exchange never recorded: %+v", cc.Snapshot())
		case <-time.After(5 * time.Millisecond):
		}
	}

	snap := cc.Snapshot()
	if snap[0].Role != call.RoleUser {
		t.Fatalf("expected user turn first, got %+v", snap[0])
	}
	if snap[1].Role != call.RoleAssistant || len(snap[1].ToolCalls) != 1 || snap[1].ToolCalls[0].ID != "call_1" {
		t.Fatalf("expected assistant tool-call turn, got %+v", snap[1])
	}
	if snap[2].Role != call.RoleTool || snap[2].ToolCallID != "call_1" || snap[2].Content != "9am to 5pm" {
		t.Fatalf("expected paired tool turn, got %+v", snap[2])
	}
	if adapter.invoked != 1 {
		t.Fatalf("interrupted turn must not resume, invoked=%d", adapter.invoked)
	}
	if ch.State() != StateIdle {
		t.Fatalf("expected idle after interrupt, got %s", ch.State())
	}

	// The next final transcript starts a fresh, working turn.
	adapter.mu.Lock()
	adapter.scripts = append(adapter.scripts, textDeltas("We open at nine."))
	adapter.mu.Unlock()
	bus.Emit(events.Transcript{Text: "sorry, go on", Final: true})
	deadline = time.After(2 * time.Second)
	for {
		snap = cc.Snapshot()
		if len(snap) == 5 && snap[4].Role == call.RoleAssistant {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("call not re-promptable after interrupt: %+v", snap)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestBackendErrorAbortsTurnWithoutHistory(t *testing.T) {
	adapter := &scriptedAdapter{
		scripts: [][]llm.Delta{textDeltas("Partial sentence. ")},
		errs:    []error{errors.New("upstream 500")},
	}
	ch, cc, cap, bus := setup(adapter)

	bus.Emit(events.Transcript{Text: "hello", Final: true})
	cap.waitDone(t)

	snap := cc.Snapshot()
	if len(snap) != 1 || snap[0].Role != call.RoleUser {
		t.Fatalf("expected only the user turn, got %+v", snap)
	}
	if ch.State() != StateIdle {
		t.Fatalf("expected idle after abort, got %s", ch.State())
	}
}

func TestUtteranceInterruptAbandonsTurn(t *testing.T) {
	block := make(chan struct{})
	adapter := &scriptedAdapter{
		scripts: [][]llm.Delta{textDeltas("First sentence. ")},
		block:   block,
	}
	ch, cc, cap, bus := setup(adapter)

	bus.Emit(events.Transcript{Text: "hello", Final: true})

	// Wait until the first fragment is out, then barge in.
	deadline := time.After(2 * time.Second)
	for {
		cap.mu.Lock()
		n := len(cap.fragments)
		cap.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for first fragment")
		case <-time.After(5 * time.Millisecond):
		}
	}
	bus.Emit(events.Utterance{})
	close(block)

	waitIdle(t, ch)
	snap := cc.Snapshot()
	if len(snap) != 1 || snap[0].Role != call.RoleUser {
		t.Fatalf("interrupted turn must not append history, got %+v", snap)
	}
}

func TestGreetingSpeaksWithoutBackend(t *testing.T) {
	adapter := &scriptedAdapter{}
	ch, cc, cap, _ := setup(adapter)

	ch.Speak(context.Background(), "Hello! How can I help you today?")
	done := cap.waitDone(t)

	if done.Fragments != 2 {
		t.Fatalf("expected 2 greeting fragments, got %d", done.Fragments)
	}
	if adapter.invoked != 0 {
		t.Fatalf("greeting must not hit the backend")
	}
	snap := cc.Snapshot()
	if len(snap) != 1 || snap[0].Role != call.RoleAssistant {
		t.Fatalf("expected greeting in history, got %+v", snap)
	}
}

func waitIdle(t *testing.T, ch *Channel) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if ch.State() == StateIdle {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("channel never returned to idle, state %s", ch.State())
		case <-time.After(5 * time.Millisecond):
		}
	}
}
