package tts

import "context"

// Engine is the contract for any TTS vendor implementation. Fragments
// are synthesized independently; one Synthesize call may run per
// fragment, several in flight at once.
type Engine interface {
	// Name returns the engine name for logging/metrics.
	Name() string
	// Synthesize renders text and streams encoded audio through emit in
	// order. A non-nil emit error aborts the stream and is returned.
	Synthesize(ctx context.Context, text string, emit func(chunk []byte) error) error
}

// Config contains vendor-agnostic TTS configuration.
type Config struct {
	SampleRate int
	Encoding   string
	Voice      string
}
