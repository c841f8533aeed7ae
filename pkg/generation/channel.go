package generation

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/andityas/swara/pkg/call"
	"github.com/andityas/swara/pkg/errorsx"
	"github.com/andityas/swara/pkg/events"
	"github.com/andityas/swara/pkg/llm"
	"github.com/andityas/swara/pkg/redact"
)

// ToolSource is the function manifest generation offers to the backend.
type ToolSource interface {
	// Tools lists the callable functions.
	Tools() []llm.Tool
	// Say returns the line spoken while the named function runs.
	Say(name string) string
	// Terminal reports whether the named function ends or hands off the
	// call, meaning generation must not resume after it.
	Terminal(name string) bool
}

type replyTurn struct {
	id      uint64
	ctx     context.Context
	cancel  context.CancelFunc
	ordinal int
	parts   []string
	results chan events.FunctionResult
}

// Channel drives one call's reply generation. It is the only writer of
// the call history. A turn starts from a final transcript, streams the
// backend reply as sentence fragments, and may suspend for function
// results. An utterance while a turn is live abandons the turn without
// touching history.
type Channel struct {
	bus     *events.Bus
	adapter llm.Adapter
	callCtx *call.Context
	tools   ToolSource
	log     *slog.Logger
	fsm     *stateMachine

	mu       sync.Mutex
	current  *replyTurn
	awaiting *replyTurn
	nextTurn uint64
}

// resultGrace bounds how long a turn waits for executor results once
// its own context is gone.
const resultGrace = 30 * time.Second

func New(bus *events.Bus, adapter llm.Adapter, callCtx *call.Context, tools ToolSource, log *slog.Logger) *Channel {
	c := &Channel{
		bus:     bus,
		adapter: adapter,
		callCtx: callCtx,
		tools:   tools,
		log:     log,
		fsm:     newStateMachine(),
	}
	bus.Subscribe(events.KindTranscript, func(ev events.Event) {
		tr := ev.(events.Transcript)
		if tr.Final {
			c.handleFinal(tr.Text)
		}
	})
	bus.Subscribe(events.KindUtterance, func(events.Event) {
		c.Interrupt()
	})
	bus.Subscribe(events.KindFunctionResult, func(ev events.Event) {
		c.handleResult(ev.(events.FunctionResult))
	})
	return c
}

// State returns the current reply lifecycle state.
func (c *Channel) State() State { return c.fsm.State() }

// AddStateListener registers a listener for reply state changes.
func (c *Channel) AddStateListener(l StateListener) { c.fsm.AddListener(l) }

// Speak runs a scripted line through the reply pipeline without
// touching the backend. Used for the greeting at call start.
func (c *Channel) Speak(parent context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return
	}
	t := c.newTurnLocked(parent)
	c.mu.Unlock()

	var splitter sentenceSplitter
	for _, sentence := range splitter.Push(text + " ") {
		c.emitFragment(t, sentence)
	}
	if rest := splitter.Flush(); rest != "" {
		c.emitFragment(t, rest)
	}
	c.callCtx.AppendTurn(call.Turn{Role: call.RoleAssistant, Content: text})
	c.finishTurn(t, text)
}

// Interrupt abandons the live turn, if any. No partial assistant text
// reaches history; a function exchange already in flight is still
// recorded once its results land, without resuming the reply.
func (c *Channel) Interrupt() {
	c.mu.Lock()
	t := c.current
	c.current = nil
	c.mu.Unlock()
	if t == nil {
		return
	}
	t.cancel()
	c.toIdle("interrupted")
}

// Close abandons any live turn. Used at call teardown.
func (c *Channel) Close() {
	c.Interrupt()
}

func (c *Channel) handleFinal(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	// A final landing while a turn is still live supersedes it.
	c.Interrupt()

	c.callCtx.AppendTurn(call.Turn{Role: call.RoleUser, Content: text})

	c.mu.Lock()
	t := c.newTurnLocked(context.Background())
	c.mu.Unlock()

	if err := c.fsm.Transition(StateAwaitingReply, "final transcript"); err != nil {
		c.log.Error("reply state out of sync", slog.String("error", err.Error()))
		return
	}
	go c.runTurn(t)
}

// handleResult routes an executor result to its turn. The turn may
// already be interrupted and off current; it still collects results
// until its function exchange is recorded.
func (c *Channel) handleResult(res events.FunctionResult) {
	c.mu.Lock()
	t := c.current
	if t == nil || t.id != res.TurnID {
		t = c.awaiting
	}
	c.mu.Unlock()
	if t == nil || t.id != res.TurnID {
		return
	}
	select {
	case t.results <- res:
	default:
	}
}

func (c *Channel) newTurnLocked(parent context.Context) *replyTurn {
	ctx, cancel := context.WithCancel(parent)
	c.nextTurn++
	t := &replyTurn{
		id:      c.nextTurn,
		ctx:     ctx,
		cancel:  cancel,
		results: make(chan events.FunctionResult, 8),
	}
	c.current = t
	return t
}

// runTurn streams the backend reply, re-invoking after each function
// result, until the reply finishes in text or a terminal function.
func (c *Channel) runTurn(t *replyTurn) {
	for {
		calls, err := c.streamOnce(t)
		if err != nil {
			if t.ctx.Err() != nil {
				return // interrupted, Interrupt already reset state
			}
			c.log.Warn("reply aborted",
				slog.String("call_sid", c.callCtx.SID()),
				slog.String("reason", string(errorsx.Reason(err))),
				slog.String("error", err.Error()),
			)
			c.abandonTurn(t, "backend error")
			return
		}

		if len(calls) == 0 {
			full := strings.Join(t.parts, " ")
			if full != "" {
				c.callCtx.AppendTurn(call.Turn{Role: call.RoleAssistant, Content: full})
			}
			c.finishTurn(t, full)
			return
		}

		done := c.dispatchFunctions(t, calls)
		if done {
			return
		}
	}
}

// streamOnce performs one backend invocation, emitting fragments as
// sentence boundaries cross. It returns any assembled tool calls.
func (c *Channel) streamOnce(t *replyTurn) ([]llm.ToolCall, error) {
	req := c.buildRequest()

	var splitter sentenceSplitter
	var acc llm.Accumulator
	first := true

	err := c.adapter.Stream(t.ctx, req, func(d llm.Delta) {
		if first {
			first = false
			_ = c.fsm.Transition(StateStreamingReply, "first delta")
		}
		if d.ToolCall != nil {
			acc.Add(*d.ToolCall)
			return
		}
		if d.Text == "" {
			return
		}
		for _, sentence := range splitter.Push(d.Text) {
			c.emitFragment(t, sentence)
		}
	})
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonLLMStream)
	}
	if t.ctx.Err() != nil {
		return nil, t.ctx.Err()
	}
	if rest := splitter.Flush(); rest != "" {
		c.emitFragment(t, rest)
	}
	return acc.Calls(), nil
}

// dispatchFunctions speaks each function's line, publishes the call
// requests, and waits for the result unless the function is terminal.
// It returns true when the turn is over.
func (c *Channel) dispatchFunctions(t *replyTurn, calls []llm.ToolCall) bool {
	if err := c.fsm.Transition(StateAwaitingFunctionResult, "function call"); err != nil {
		c.log.Error("reply state out of sync", slog.String("error", err.Error()))
	}

	uses := make([]call.FunctionUse, 0, len(calls))
	terminal := false
	for _, fc := range calls {
		if fc.ID == "" {
			fc.ID = uuid.NewString()
		}
		uses = append(uses, call.FunctionUse{ID: fc.ID, Name: fc.Name, Arguments: fc.Arguments})
		if c.tools.Terminal(fc.Name) {
			terminal = true
		}
	}

	if !terminal {
		// Register before the call events go out so results cannot slip
		// past, including after a barge-in removes the turn from current.
		c.mu.Lock()
		c.awaiting = t
		c.mu.Unlock()
		defer func() {
			c.mu.Lock()
			if c.awaiting == t {
				c.awaiting = nil
			}
			c.mu.Unlock()
		}()
	}

	for i, fc := range calls {
		if say := c.tools.Say(fc.Name); say != "" {
			c.emitFragment(t, say)
		}
		c.bus.Emit(events.FunctionCall{
			Base:   c.base(),
			TurnID: t.id,
			CallID: uses[i].ID,
			Name:   fc.Name,
			Args:   decodeArgs(fc.Arguments),
			Say:    c.tools.Say(fc.Name),
		})
	}

	if terminal {
		// The call is ending or moving to another leg. Close the reply
		// out so buffered audio still drains.
		c.callCtx.AppendTurn(call.Turn{Role: call.RoleAssistant, ToolCalls: uses})
		c.finishTurn(t, strings.Join(t.parts, " "))
		return true
	}

	// The assistant tool-call turn enters history only together with
	// its results: the chat protocol requires a result message for
	// every tool call, so an unpaired tool-call turn must never land.
	toolTurns := make([]call.Turn, 0, len(calls))
	interrupted := false
	grace := time.NewTimer(resultGrace)
	defer grace.Stop()
	for range calls {
		var res events.FunctionResult
		select {
		case res = <-t.results:
		case <-grace.C:
			return true
		case <-t.ctx.Done():
			// The functions still run to completion; hold for their
			// results so the exchange is recorded.
			interrupted = true
			select {
			case res = <-t.results:
			case <-grace.C:
				return true
			}
		}
		content := res.Result
		if res.Err != "" {
			content = "error: " + res.Err
		}
		toolTurns = append(toolTurns, call.Turn{
			Role:       call.RoleTool,
			Content:    content,
			ToolCallID: res.CallID,
		})
	}

	c.callCtx.AppendTurn(call.Turn{Role: call.RoleAssistant, ToolCalls: uses})
	for _, tt := range toolTurns {
		c.callCtx.AppendTurn(tt)
	}

	if interrupted || t.ctx.Err() != nil {
		return true
	}
	if err := c.fsm.Transition(StateAwaitingReply, "function result"); err != nil {
		c.log.Error("reply state out of sync", slog.String("error", err.Error()))
		return true
	}
	return false
}

func (c *Channel) emitFragment(t *replyTurn, text string) {
	if t.ctx.Err() != nil {
		return
	}
	ord := t.ordinal
	t.ordinal++
	t.parts = append(t.parts, text)
	c.log.Debug("reply fragment",
		slog.Uint64("turn", t.id),
		slog.Int("ordinal", ord),
		slog.String("text", redact.Text(text)),
	)
	c.bus.Emit(events.ReplyFragment{
		Base:    c.base(),
		TurnID:  t.id,
		Ordinal: ord,
		Text:    text,
	})
}

func (c *Channel) finishTurn(t *replyTurn, full string) {
	c.mu.Lock()
	if c.current == t {
		c.current = nil
	}
	c.mu.Unlock()
	t.cancel()
	c.bus.Emit(events.ReplyDone{
		Base:      c.base(),
		TurnID:    t.id,
		Fragments: t.ordinal,
		Text:      full,
	})
	c.toIdle("reply complete")
}

// abandonTurn ends an errored turn. Fragments already spoken stand,
// but no assistant turn reaches the history.
func (c *Channel) abandonTurn(t *replyTurn, reason string) {
	c.mu.Lock()
	if c.current == t {
		c.current = nil
	}
	c.mu.Unlock()
	t.cancel()
	c.bus.Emit(events.ReplyDone{
		Base:      c.base(),
		TurnID:    t.id,
		Fragments: t.ordinal,
	})
	c.toIdle(reason)
}

func (c *Channel) toIdle(reason string) {
	if c.fsm.State() == StateIdle {
		return
	}
	if err := c.fsm.Transition(StateIdle, reason); err != nil {
		c.log.Error("reply state out of sync", slog.String("error", err.Error()))
	}
}

func (c *Channel) buildRequest() llm.Request {
	snap := c.callCtx.Snapshot()
	msgs := make([]llm.Message, 0, len(snap))
	for _, turn := range snap {
		m := llm.Message{
			Role:       string(turn.Role),
			Content:    turn.Content,
			ToolCallID: turn.ToolCallID,
		}
		for _, tc := range turn.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, llm.ToolCall{
				ID:        tc.ID,
				Name:      tc.Name,
				Arguments: tc.Arguments,
			})
		}
		msgs = append(msgs, m)
	}
	var tools []llm.Tool
	if c.tools != nil {
		tools = c.tools.Tools()
	}
	return llm.Request{
		Instructions: c.callCtx.Instructions(),
		Messages:     msgs,
		Tools:        tools,
	}
}

func (c *Channel) base() events.Base {
	return events.Base{CallSID: c.callCtx.SID(), At: time.Now()}
}

func decodeArgs(raw string) map[string]any {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{}
	}
	return out
}
