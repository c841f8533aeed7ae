package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andityas/swara/pkg/llm"
)

func TestStreamEmitsTextDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if payload["stream"] != true {
			t.Errorf("expected streaming request")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		lines := []string{
			`data: {"choices":[{"delta":{"content":"Hello"}}]}`,
			`data: {"choices":[{"delta":{"content":" there."}}]}`,
			`data: [DONE]`,
		}
		for _, l := range lines {
			_, _ = w.Write([]byte(l + "\n\n"))
		}
	}))
	defer srv.Close()

	a := NewAdapter("key", "gpt-4o-mini")
	a.BaseURL = srv.URL

	var got []string
	err := a.Stream(context.Background(), llm.Request{
		Instructions: "be brief",
		Messages:     []llm.Message{{Role: "user", Content: "hi"}},
	}, func(d llm.Delta) {
		got = append(got, d.Text)
	})
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if strings.Join(got, "") != "Hello there." {
		t.Fatalf("unexpected deltas: %v", got)
	}
}

func TestStreamEmitsToolCallDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		if _, ok := payload["tools"]; !ok {
			t.Errorf("expected tools in request")
		}
		lines := []string{
			`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"check_hours","arguments":"{\"da"}}]}}]}`,
			`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"y\":\"monday\"}"}}]}}]}`,
			`data: [DONE]`,
		}
		for _, l := range lines {
			_, _ = w.Write([]byte(l + "\n\n"))
		}
	}))
	defer srv.Close()

	a := NewAdapter("key", "gpt-4o-mini")
	a.BaseURL = srv.URL

	var acc llm.Accumulator
	err := a.Stream(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "when are you open"}},
		Tools:    []llm.Tool{{Name: "check_hours", Parameters: map[string]any{"type": "object"}}},
	}, func(d llm.Delta) {
		if d.ToolCall != nil {
			acc.Add(*d.ToolCall)
		}
	})
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	calls := acc.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected one call, got %d", len(calls))
	}
	if calls[0].Name != "check_hours" || calls[0].ID != "call_1" {
		t.Fatalf("unexpected call identity: %+v", calls[0])
	}
	if calls[0].Arguments != `{"day":"monday"}` {
		t.Fatalf("unexpected arguments: %q", calls[0].Arguments)
	}
}

func TestStreamSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad request"}}`))
	}))
	defer srv.Close()

	a := NewAdapter("key", "gpt-4o-mini")
	a.BaseURL = srv.URL

	err := a.Stream(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	}, func(llm.Delta) {})
	if err == nil {
		t.Fatalf("expected error")
	}
}
