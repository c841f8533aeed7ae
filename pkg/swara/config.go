package swara

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/andityas/swara/pkg/configutil"
)

type Config struct {
	Vendors       VendorsConfig       `mapstructure:"vendors"`
	Transports    TransportsConfig    `mapstructure:"transports"`
	Agent         AgentConfig         `mapstructure:"agent"`
	Functions     FunctionsConfig     `mapstructure:"functions"`
	Synthesis     SynthesisConfig     `mapstructure:"synthesis"`
	Playback      PlaybackConfig      `mapstructure:"playback"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
	Environment   string              `mapstructure:"environment"`
	LogLevel      string              `mapstructure:"log_level"`
}

type VendorConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

type VendorsConfig struct {
	STT VendorConfig `mapstructure:"stt"`
	TTS VendorConfig `mapstructure:"tts"`
	LLM VendorConfig `mapstructure:"llm"`
}

type TransportsConfig struct {
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

// AgentConfig describes the assistant itself: what it is told to be,
// how it opens the call, and where transfers land by default.
type AgentConfig struct {
	Instructions    string `mapstructure:"instructions"`
	Greeting        string `mapstructure:"greeting"`
	TransferTarget  string `mapstructure:"transfer_target"`
	RecordedNotice  bool   `mapstructure:"recorded_notice"`
	EnableEndCall   bool   `mapstructure:"enable_end_call"`
	EnableTransfer  bool   `mapstructure:"enable_transfer"`
	DefaultLanguage string `mapstructure:"default_language"`
}

type FunctionsConfig struct {
	Concurrency    int `mapstructure:"concurrency"`
	TimeoutMS      int `mapstructure:"timeout_ms"`
	Retries        int `mapstructure:"retries"`
	RetryBackoffMS int `mapstructure:"retry_backoff_ms"`
}

type SynthesisConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// PlaybackConfig throttles outbound audio. BytesPerSecond 0 disables
// pacing entirely; 8000 matches one mulaw phone stream in real time.
type PlaybackConfig struct {
	SampleRate     int `mapstructure:"sample_rate"`
	BytesPerSecond int `mapstructure:"bytes_per_second"`
	Burst          int `mapstructure:"burst"`
}

type ObservabilityConfig struct {
	ArtifactsDir  string `mapstructure:"artifacts_dir"`
	RetentionDays int    `mapstructure:"retention_days"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("agent.enable_end_call", true)
	v.SetDefault("agent.enable_transfer", false)
	v.SetDefault("agent.default_language", "en")
	v.SetDefault("functions.concurrency", 4)
	v.SetDefault("functions.timeout_ms", 10000)
	v.SetDefault("functions.retries", 1)
	v.SetDefault("functions.retry_backoff_ms", 150)
	v.SetDefault("synthesis.concurrency", 3)
	v.SetDefault("playback.sample_rate", 8000)
	v.SetDefault("playback.bytes_per_second", 8000)
	v.SetDefault("playback.burst", 4000)
	v.SetDefault("observability.artifacts_dir", "")
	v.SetDefault("observability.retention_days", 0)
	v.SetDefault("privacy.redact_pii", true)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	expandEnvStrings(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Transports.Provider) == "" {
		return fmt.Errorf("transports.provider is required")
	}
	if strings.TrimSpace(c.Vendors.STT.Provider) == "" {
		return fmt.Errorf("vendors.stt.provider is required")
	}
	if strings.TrimSpace(c.Vendors.TTS.Provider) == "" {
		return fmt.Errorf("vendors.tts.provider is required")
	}
	if strings.TrimSpace(c.Vendors.LLM.Provider) == "" {
		return fmt.Errorf("vendors.llm.provider is required")
	}
	if c.Agent.EnableTransfer && strings.TrimSpace(c.Agent.TransferTarget) == "" {
		return fmt.Errorf("agent.transfer_target is required when transfers are enabled")
	}
	if err := validateSettingsFor("transports", c.Transports.Provider, c.Transports.Settings, transportSchemas); err != nil {
		return err
	}
	if err := validateSettingsFor("vendors.stt", c.Vendors.STT.Provider, c.Vendors.STT.Settings, sttSchemas); err != nil {
		return err
	}
	if err := validateSettingsFor("vendors.tts", c.Vendors.TTS.Provider, c.Vendors.TTS.Settings, ttsSchemas); err != nil {
		return err
	}
	if err := validateSettingsFor("vendors.llm", c.Vendors.LLM.Provider, c.Vendors.LLM.Settings, llmSchemas); err != nil {
		return err
	}
	return nil
}

// Settings schemas for the providers this module ships. Unknown
// provider names skip validation; their factories fail on their own
// terms at session creation.
var transportSchemas = map[string]configutil.Schema{
	"twilio": {
		Required: []string{"account_sid", "auth_token"},
		Optional: []string{"public_url", "server_addr", "voice_path", "ws_path", "status_callback_path", "allow_any_origin", "allowed_origins"},
	},
}

var sttSchemas = map[string]configutil.Schema{
	"deepgram": {
		Required: []string{"api_key"},
		Optional: []string{"model", "language", "sample_rate", "encoding", "interim", "vad_events", "utterance_end_ms"},
	},
}

var ttsSchemas = map[string]configutil.Schema{
	"elevenlabs": {
		Required: []string{"api_key", "voice_id"},
		Optional: []string{"model_id", "output_format"},
	},
	"deepgram": {
		Required: []string{"api_key"},
		Optional: []string{"model", "encoding", "sample_rate"},
	},
}

var llmSchemas = map[string]configutil.Schema{
	"openai": {
		Required: []string{"api_key"},
		Optional: []string{"model", "base_url"},
	},
}

func validateSettingsFor(section, provider string, settings map[string]any, schemas map[string]configutil.Schema) error {
	schema, ok := schemas[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return nil
	}
	if err := configutil.ValidateSettings(settings, schema); err != nil {
		return fmt.Errorf("%s settings: %w", section, err)
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	cfg.Vendors.STT.Settings = expandSettings(cfg.Vendors.STT.Settings)
	cfg.Vendors.TTS.Settings = expandSettings(cfg.Vendors.TTS.Settings)
	cfg.Vendors.LLM.Settings = expandSettings(cfg.Vendors.LLM.Settings)
	cfg.Transports.Settings = expandSettings(cfg.Transports.Settings)
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return
		}
		expandValue(v.Elem())
		return
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Key().Kind() == reflect.String && v.Type().Elem().Kind() == reflect.String {
			for _, key := range v.MapKeys() {
				val := v.MapIndex(key)
				expanded := os.ExpandEnv(val.String())
				v.SetMapIndex(key, reflect.ValueOf(expanded))
			}
		}
	}
}
