package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/andityas/swara/pkg/adapters/stt"
	"github.com/andityas/swara/pkg/frames"
)

type STTConfig struct {
	Transcript        string
	InterimTranscript string
	EmitInterim       bool
	EmitVAD           bool
	EmitUtteranceEnd  bool
}

// STT emits a scripted transcript the first time audio arrives. It lets
// a whole call run end to end with no speech backend.
type STT struct {
	cfg     STTConfig
	mu      sync.Mutex
	events  stt.Events
	started bool
	emitted bool
}

func NewSTT(cfg STTConfig) *STT {
	if cfg.Transcript == "" {
		cfg.Transcript = "mock transcript"
	}
	return &STT{cfg: cfg}
}

func (s *STT) Name() string { return "mock_stt" }

func (s *STT) Start(ctx context.Context, events stt.Events) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = events
	s.started = true
	return nil
}

func (s *STT) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	return nil
}

func (s *STT) SendAudio(frame frames.AudioFrame) error {
	_ = frame
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.New("not started")
	}
	if s.emitted {
		s.mu.Unlock()
		return nil
	}
	s.emitted = true
	events := s.events
	s.mu.Unlock()

	if s.cfg.EmitVAD && events.OnSpeechStarted != nil {
		events.OnSpeechStarted()
	}
	if s.cfg.EmitInterim && events.OnResult != nil {
		interim := s.cfg.InterimTranscript
		if interim == "" {
			interim = s.cfg.Transcript
		}
		events.OnResult(stt.Result{Text: interim})
	}
	if events.OnResult != nil {
		events.OnResult(stt.Result{Text: s.cfg.Transcript, IsFinal: true, SpeechFinal: true})
	}
	if s.cfg.EmitUtteranceEnd && events.OnUtteranceEnd != nil {
		events.OnUtteranceEnd()
	}
	return nil
}

var _ stt.Engine = (*STT)(nil)
