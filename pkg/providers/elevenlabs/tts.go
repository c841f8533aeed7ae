package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/andityas/swara/pkg/adapters/tts"
	"github.com/andityas/swara/pkg/errorsx"
	"github.com/andityas/swara/pkg/resilience"
)

const defaultBaseURL = "https://api.elevenlabs.io"

type Config struct {
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string
	BaseURL      string
	Timeout      time.Duration
}

// TTS synthesizes speech through the ElevenLabs streaming endpoint.
// Each request streams one fragment; audio arrives as raw chunks in the
// configured output format (ulaw_8000 plays straight into a phone
// stream without transcoding).
type TTS struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) *TTS {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "ulaw_8000"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &TTS{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (t *TTS) Name() string { return "elevenlabs" }

func (t *TTS) Synthesize(ctx context.Context, text string, emit func(chunk []byte) error) error {
	if t.cfg.APIKey == "" || t.cfg.VoiceID == "" {
		return errors.New("missing elevenlabs config")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	body := map[string]any{
		"text": text,
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.8,
		},
	}
	if t.cfg.ModelID != "" {
		body["model_id"] = t.cfg.ModelID
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.streamURL(), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", t.cfg.APIKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTTSConnect)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		slog.Error("elevenlabs rate limit exceeded",
			slog.String("status", resp.Status))
		return errorsx.Wrap(
			resilience.RateLimitError{Provider: "elevenlabs", Message: resp.Status},
			errorsx.ReasonTTSRateLimit)
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		slog.Error("elevenlabs synthesis failed",
			slog.String("status", resp.Status),
			slog.String("detail", string(detail)))
		return errorsx.Wrap(errors.New("elevenlabs: "+resp.Status), errorsx.ReasonTTSSynthesize)
	}

	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if emitErr := emit(chunk); emitErr != nil {
				return emitErr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errorsx.Wrap(err, errorsx.ReasonTTSSynthesize)
		}
	}
}

func (t *TTS) streamURL() string {
	q := url.Values{}
	q.Set("output_format", t.cfg.OutputFormat)
	q.Set("optimize_streaming_latency", "4")
	return t.cfg.BaseURL + "/v1/text-to-speech/" + t.cfg.VoiceID + "/stream?" + q.Encode()
}

var _ tts.Engine = (*TTS)(nil)
