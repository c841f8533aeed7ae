package functions

import (
	"context"
	"sort"
	"sync"

	"github.com/andityas/swara/pkg/llm"
)

// Invocation is one function execution request.
type Invocation struct {
	CallSID string
	CallID  string
	Name    string
	Args    map[string]any
}

// Handler executes a function and returns the text re-injected into
// the conversation history.
type Handler func(ctx context.Context, inv Invocation) (string, error)

// Function is one callable entry in the manifest.
type Function struct {
	Name        string
	Description string
	// Say is spoken to the caller while the function runs.
	Say string
	// Terminal functions end or hand off the call; generation does not
	// resume after one.
	Terminal bool
	// Parameters is the JSON schema for the arguments object.
	Parameters map[string]any
	Handler    Handler
}

// Registry holds the call's function manifest. It satisfies the tool
// source the generation channel offers to the language backend.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Function
}

func NewRegistry(funcs ...Function) *Registry {
	r := &Registry{funcs: make(map[string]Function)}
	for _, f := range funcs {
		r.Register(f)
	}
	return r
}

func (r *Registry) Register(f Function) {
	if f.Name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[f.Name] = f
}

func (r *Registry) Lookup(name string) (Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.funcs[name]
	return f, ok
}

// Tools lists the manifest in stable name order.
func (r *Registry) Tools() []llm.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llm.Tool, 0, len(r.funcs))
	for _, f := range r.funcs {
		out = append(out, llm.Tool{
			Name:        f.Name,
			Description: f.Description,
			Parameters:  f.Parameters,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Say(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.funcs[name].Say
}

func (r *Registry) Terminal(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.funcs[name].Terminal
}
