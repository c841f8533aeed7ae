package llm

// ToolSource supplies the tool manifest offered to the backend.
type ToolSource interface {
	Tools() []Tool
}

// Accumulator assembles streamed tool-call deltas into complete calls.
// Pieces for the same Index are concatenated in arrival order.
type Accumulator struct {
	calls []ToolCall
}

func (a *Accumulator) Add(d ToolCallDelta) {
	for len(a.calls) <= d.Index {
		a.calls = append(a.calls, ToolCall{})
	}
	c := &a.calls[d.Index]
	if d.ID != "" {
		c.ID = d.ID
	}
	if d.Name != "" {
		c.Name = d.Name
	}
	c.Arguments += d.Arguments
}

// Empty reports whether no deltas were added.
func (a *Accumulator) Empty() bool { return len(a.calls) == 0 }

// Calls returns the assembled calls in index order.
func (a *Accumulator) Calls() []ToolCall {
	out := make([]ToolCall, len(a.calls))
	copy(out, a.calls)
	return out
}
