package stt

import (
	"context"

	"github.com/andityas/swara/pkg/frames"
)

// Result is one recognition hypothesis from the backend.
type Result struct {
	// Text is the hypothesis for the current audio window.
	Text string
	// IsFinal means the backend will not revise this window again.
	IsFinal bool
	// SpeechFinal means the backend detected the end of the utterance.
	SpeechFinal bool
}

// Events are the callbacks a streaming engine invokes. All callbacks
// fire on the engine's receive goroutine; nil callbacks are skipped.
type Events struct {
	OnResult        func(Result)
	OnSpeechStarted func()
	OnUtteranceEnd  func()
	OnError         func(error)
	OnClose         func()
}

// Engine is the contract for any streaming STT vendor implementation.
type Engine interface {
	// Name returns the engine name for logging/metrics.
	Name() string
	// Start opens the streaming connection and begins delivering events.
	Start(ctx context.Context, ev Events) error
	// SendAudio forwards one inbound audio frame to the backend.
	SendAudio(frame frames.AudioFrame) error
	// Close shuts the connection down. Callbacks stop after OnClose.
	Close() error
}

// Config contains vendor-agnostic STT configuration.
type Config struct {
	StreamID   string
	CallSID    string
	SampleRate int
	Encoding   string
	Language   string
}
