package swara

import (
	"fmt"
	"strings"

	"github.com/andityas/swara/pkg/adapters/stt"
	"github.com/andityas/swara/pkg/adapters/tts"
	"github.com/andityas/swara/pkg/configutil"
	"github.com/andityas/swara/pkg/llm"
	"github.com/andityas/swara/pkg/providers/deepgram"
	"github.com/andityas/swara/pkg/providers/elevenlabs"
	"github.com/andityas/swara/pkg/providers/mock"
	"github.com/andityas/swara/pkg/providers/openai"
)

// STTFactory builds a per-call transcription backend. One engine serves
// one call, so the factory receives the call identity.
type STTFactory func(cfg Config, callSID, streamID string) (stt.Engine, error)

// TTSFactory builds the synthesis backend shared by a call's fragments.
type TTSFactory func(cfg Config) (tts.Engine, error)

// LLMFactory builds the reply backend.
type LLMFactory func(cfg Config) (llm.Adapter, error)

type ProviderRegistry struct {
	stt map[string]STTFactory
	tts map[string]TTSFactory
	llm map[string]LLMFactory
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		stt: make(map[string]STTFactory),
		tts: make(map[string]TTSFactory),
		llm: make(map[string]LLMFactory),
	}
}

func (r *ProviderRegistry) RegisterSTT(name string, factory STTFactory) {
	r.stt[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *ProviderRegistry) RegisterTTS(name string, factory TTSFactory) {
	r.tts[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *ProviderRegistry) RegisterLLM(name string, factory LLMFactory) {
	r.llm[strings.ToLower(strings.TrimSpace(name))] = factory
}

func (r *ProviderRegistry) BuildSTT(provider string, cfg Config, callSID, streamID string) (stt.Engine, error) {
	fn := r.stt[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("stt provider not registered: %s", provider)
	}
	return fn(cfg, callSID, streamID)
}

func (r *ProviderRegistry) BuildTTS(provider string, cfg Config) (tts.Engine, error) {
	fn := r.tts[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("tts provider not registered: %s", provider)
	}
	return fn(cfg)
}

func (r *ProviderRegistry) BuildLLM(provider string, cfg Config) (llm.Adapter, error) {
	fn := r.llm[strings.ToLower(strings.TrimSpace(provider))]
	if fn == nil {
		return nil, fmt.Errorf("llm provider not registered: %s", provider)
	}
	return fn(cfg)
}

// DefaultProviders registers the built-in speech and language backends.
func DefaultProviders() *ProviderRegistry {
	r := NewProviderRegistry()

	r.RegisterSTT("deepgram", func(cfg Config, callSID, streamID string) (stt.Engine, error) {
		var settings struct {
			APIKey         string `mapstructure:"api_key"`
			Model          string `mapstructure:"model"`
			Language       string `mapstructure:"language"`
			SampleRate     int    `mapstructure:"sample_rate"`
			Encoding       string `mapstructure:"encoding"`
			Interim        bool   `mapstructure:"interim"`
			VADEvents      bool   `mapstructure:"vad_events"`
			UtteranceEndMS int    `mapstructure:"utterance_end_ms"`
		}
		if err := configutil.DecodeSettings(cfg.Vendors.STT.Settings, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.APIKey, "vendors.stt.settings.api_key"); err != nil {
			return nil, err
		}
		language := settings.Language
		if language == "" {
			language = cfg.Agent.DefaultLanguage
		}
		return deepgram.New(deepgram.Config{
			APIKey:         settings.APIKey,
			Model:          settings.Model,
			Language:       language,
			SampleRate:     settings.SampleRate,
			Encoding:       settings.Encoding,
			Interim:        settings.Interim,
			VADEvents:      settings.VADEvents,
			UtteranceEndMS: settings.UtteranceEndMS,
			StreamID:       streamID,
			CallSID:        callSID,
		}), nil
	})

	r.RegisterTTS("elevenlabs", func(cfg Config) (tts.Engine, error) {
		var settings struct {
			APIKey       string `mapstructure:"api_key"`
			VoiceID      string `mapstructure:"voice_id"`
			ModelID      string `mapstructure:"model_id"`
			OutputFormat string `mapstructure:"output_format"`
		}
		if err := configutil.DecodeSettings(cfg.Vendors.TTS.Settings, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.APIKey, "vendors.tts.settings.api_key"); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.VoiceID, "vendors.tts.settings.voice_id"); err != nil {
			return nil, err
		}
		return elevenlabs.New(elevenlabs.Config{
			APIKey:       settings.APIKey,
			VoiceID:      settings.VoiceID,
			ModelID:      settings.ModelID,
			OutputFormat: settings.OutputFormat,
		}), nil
	})
	r.RegisterTTS("deepgram", func(cfg Config) (tts.Engine, error) {
		var settings struct {
			APIKey     string `mapstructure:"api_key"`
			Model      string `mapstructure:"model"`
			Encoding   string `mapstructure:"encoding"`
			SampleRate int    `mapstructure:"sample_rate"`
		}
		if err := configutil.DecodeSettings(cfg.Vendors.TTS.Settings, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.APIKey, "vendors.tts.settings.api_key"); err != nil {
			return nil, err
		}
		return deepgram.NewTTS(deepgram.TTSConfig{
			APIKey:     settings.APIKey,
			Model:      settings.Model,
			Encoding:   settings.Encoding,
			SampleRate: settings.SampleRate,
		}), nil
	})

	r.RegisterLLM("openai", func(cfg Config) (llm.Adapter, error) {
		var settings struct {
			APIKey  string `mapstructure:"api_key"`
			Model   string `mapstructure:"model"`
			BaseURL string `mapstructure:"base_url"`
		}
		if err := configutil.DecodeSettings(cfg.Vendors.LLM.Settings, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.APIKey, "vendors.llm.settings.api_key"); err != nil {
			return nil, err
		}
		if settings.Model == "" {
			settings.Model = "gpt-4o-mini"
		}
		adapter := openai.NewAdapter(settings.APIKey, settings.Model)
		if settings.BaseURL != "" {
			adapter.BaseURL = settings.BaseURL
		}
		return adapter, nil
	})

	r.RegisterSTT("mock", func(cfg Config, callSID, streamID string) (stt.Engine, error) {
		var settings struct {
			Transcript string `mapstructure:"transcript"`
		}
		if err := configutil.DecodeSettings(cfg.Vendors.STT.Settings, &settings); err != nil {
			return nil, err
		}
		return mock.NewSTT(mock.STTConfig{Transcript: settings.Transcript}), nil
	})
	r.RegisterTTS("mock", func(cfg Config) (tts.Engine, error) {
		return mock.NewTTS(mock.TTSConfig{}), nil
	})
	r.RegisterLLM("mock", func(cfg Config) (llm.Adapter, error) {
		var settings struct {
			ResponseText string `mapstructure:"response_text"`
		}
		if err := configutil.DecodeSettings(cfg.Vendors.LLM.Settings, &settings); err != nil {
			return nil, err
		}
		return mock.NewLLMAdapter(mock.LLMConfig{ResponseText: settings.ResponseText}), nil
	})

	return r
}
