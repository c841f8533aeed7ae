package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/andityas/swara/pkg/adapters/tts"
	"github.com/andityas/swara/pkg/errorsx"
	"github.com/andityas/swara/pkg/resilience"
)

const defaultSpeakBaseURL = "https://api.deepgram.com"

// The speak endpoint fronts the first samples with a click. Dropping
// 10ms of mulaw (80 samples at 8000Hz) removes it.
const speakTrimBytes = 80

type TTSConfig struct {
	APIKey     string
	Model      string
	Encoding   string
	SampleRate int
	BaseURL    string
	Timeout    time.Duration
}

// TTS synthesizes speech through the Deepgram speak endpoint, one HTTP
// request per fragment.
type TTS struct {
	cfg    TTSConfig
	client *http.Client
}

func NewTTS(cfg TTSConfig) *TTS {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultSpeakBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "aura-asteria-en"
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "mulaw"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 8000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &TTS{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (t *TTS) Name() string { return "deepgram" }

func (t *TTS) Synthesize(ctx context.Context, text string, emit func(chunk []byte) error) error {
	if t.cfg.APIKey == "" {
		return errors.New("missing deepgram api key")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.speakURL(), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+t.cfg.APIKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTTSConnect)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		slog.Error("deepgram speak rate limit exceeded",
			slog.String("status", resp.Status))
		return errorsx.Wrap(
			resilience.RateLimitError{Provider: "deepgram", Message: resp.Status},
			errorsx.ReasonTTSRateLimit)
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		slog.Error("deepgram speak failed",
			slog.String("status", resp.Status),
			slog.String("detail", string(detail)))
		return errorsx.Wrap(errors.New("deepgram speak: "+resp.Status), errorsx.ReasonTTSSynthesize)
	}

	trim := speakTrimBytes
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if trim > 0 {
				if len(chunk) <= trim {
					trim -= len(chunk)
					chunk = nil
				} else {
					chunk = chunk[trim:]
					trim = 0
				}
			}
			if len(chunk) > 0 {
				out := make([]byte, len(chunk))
				copy(out, chunk)
				if emitErr := emit(out); emitErr != nil {
					return emitErr
				}
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

func (t *TTS) speakURL() string {
	q := url.Values{}
	q.Set("model", t.cfg.Model)
	q.Set("encoding", t.cfg.Encoding)
	q.Set("sample_rate", strconv.Itoa(t.cfg.SampleRate))
	return t.cfg.BaseURL + "/v1/speak?" + q.Encode()
}

var _ tts.Engine = (*TTS)(nil)
