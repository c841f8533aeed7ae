package llm

import "context"

// Message is one conversation entry sent to the backend.
type Message struct {
	Role       string
	Content    string
	ToolCallID string
	ToolCalls  []ToolCall
}

// ToolCall is a fully assembled function request from the model.
// Arguments is the raw JSON argument object.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Tool describes a function the model may call. Parameters is a JSON
// schema object.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Request is everything the backend needs for one reply.
type Request struct {
	Instructions string
	Messages     []Message
	Tools        []Tool
}

// Delta is one increment of a streamed reply. Either Text or ToolCall
// is set, never both.
type Delta struct {
	Text     string
	ToolCall *ToolCallDelta
}

// ToolCallDelta is a partial tool call. Backends stream the ID and
// name first, then argument text in pieces; Index ties the pieces to
// one call.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Adapter streams a reply for a request. Emit is called on the
// streaming goroutine for every delta in arrival order; Stream returns
// after the final delta, or with the error that cut the stream short.
type Adapter interface {
	Name() string
	Stream(ctx context.Context, req Request, emit func(Delta)) error
}
