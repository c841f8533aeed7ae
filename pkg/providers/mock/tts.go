package mock

import (
	"context"

	"github.com/andityas/swara/pkg/adapters/tts"
)

type TTSConfig struct {
	ChunkSize int
	Chunks    int
}

// TTS synthesizes deterministic silence. Each fragment produces the
// configured number of chunks so pacing and ordering can be exercised
// without a speech backend.
type TTS struct {
	cfg TTSConfig
}

func NewTTS(cfg TTSConfig) *TTS {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 160
	}
	if cfg.Chunks == 0 {
		cfg.Chunks = 2
	}
	return &TTS{cfg: cfg}
}

func (t *TTS) Name() string { return "mock_tts" }

func (t *TTS) Synthesize(ctx context.Context, text string, emit func(chunk []byte) error) error {
	_ = text
	for i := 0; i < t.cfg.Chunks; i++ {
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if err := emit(make([]byte, t.cfg.ChunkSize)); err != nil {
			return err
		}
	}
	return nil
}

var _ tts.Engine = (*TTS)(nil)
