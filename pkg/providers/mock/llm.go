package mock

import (
	"context"

	"github.com/andityas/swara/pkg/llm"
)

type LLMConfig struct {
	ResponseText string
	StreamChunks []string
	ToolCalls    []llm.ToolCallDelta
}

// LLMAdapter replays a scripted reply. Stream chunks arrive one delta
// at a time, then any scripted tool calls.
type LLMAdapter struct {
	cfg LLMConfig
}

func NewLLMAdapter(cfg LLMConfig) *LLMAdapter {
	if cfg.ResponseText == "" && len(cfg.StreamChunks) == 0 {
		cfg.ResponseText = "mock response. "
	}
	return &LLMAdapter{cfg: cfg}
}

func (a *LLMAdapter) Name() string { return "mock_llm" }

func (a *LLMAdapter) Stream(ctx context.Context, req llm.Request, emit func(llm.Delta)) error {
	_ = req
	chunks := a.cfg.StreamChunks
	if len(chunks) == 0 && a.cfg.ResponseText != "" {
		chunks = []string{a.cfg.ResponseText}
	}
	for _, chunk := range chunks {
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		emit(llm.Delta{Text: chunk})
	}
	for i := range a.cfg.ToolCalls {
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		tc := a.cfg.ToolCalls[i]
		emit(llm.Delta{ToolCall: &tc})
	}
	return nil
}

var _ llm.Adapter = (*LLMAdapter)(nil)
