package call

import (
	"sync"
	"sync/atomic"
)

// Role labels a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// FunctionUse records a function the assistant asked for, attached to
// the assistant turn that requested it.
type FunctionUse struct {
	ID        string
	Name      string
	Arguments string
}

// Turn is one entry in the conversation history.
type Turn struct {
	Role       Role
	Content    string
	ToolCallID string
	ToolCalls  []FunctionUse
}

// Context holds the state shared across one call. Identity fields are
// immutable after construction. History is append-only with a single
// writer (the generation channel); everyone else reads snapshots. The
// interruption counter is owned by the sequencer.
type Context struct {
	sid          string
	from         string
	to           string
	instructions string
	recorded     bool

	interruptions atomic.Uint64

	mu      sync.RWMutex
	history []Turn
}

type Params struct {
	SID          string
	From         string
	To           string
	Instructions string
	Recorded     bool
}

func New(p Params) *Context {
	return &Context{
		sid:          p.SID,
		from:         p.From,
		to:           p.To,
		instructions: p.Instructions,
		recorded:     p.Recorded,
	}
}

func (c *Context) SID() string          { return c.sid }
func (c *Context) From() string         { return c.from }
func (c *Context) To() string           { return c.to }
func (c *Context) Instructions() string { return c.instructions }
func (c *Context) Recorded() bool       { return c.recorded }

// AppendTurn adds a turn at the end of the history.
func (c *Context) AppendTurn(t Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, t)
}

// Snapshot returns a copy of the history in append order.
func (c *Context) Snapshot() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Turn, len(c.history))
	copy(out, c.history)
	return out
}

// Len reports the number of history turns.
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.history)
}

// RecordInterruption increments the interruption counter and returns
// the new value.
func (c *Context) RecordInterruption() uint64 {
	return c.interruptions.Add(1)
}

// Interruptions returns how many times the caller barged in.
func (c *Context) Interruptions() uint64 {
	return c.interruptions.Load()
}
