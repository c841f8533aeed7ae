package elevenlabs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andityas/swara/pkg/errorsx"
)

func TestSynthesizeStreamsChunks(t *testing.T) {
	audio := []byte{0x7f, 0x7f, 0x00, 0x01, 0x02}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/text-to-speech/voice1/stream" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("xi-api-key") != "key1" {
			t.Error("missing api key header")
		}
		if r.URL.Query().Get("output_format") != "ulaw_8000" {
			t.Errorf("output_format = %s", r.URL.Query().Get("output_format"))
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Error(err)
		}
		if body["text"] != "Hello there." {
			t.Errorf("text = %v", body["text"])
		}
		w.Write(audio)
	}))
	defer srv.Close()

	engine := New(Config{APIKey: "key1", VoiceID: "voice1", BaseURL: srv.URL})
	var got []byte
	err := engine.Synthesize(context.Background(), "Hello there.", func(chunk []byte) error {
		got = append(got, chunk...)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(audio) {
		t.Fatalf("audio = %v, want %v", got, audio)
	}
}

func TestSynthesizeRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	engine := New(Config{APIKey: "key1", VoiceID: "voice1", BaseURL: srv.URL})
	err := engine.Synthesize(context.Background(), "hi", func([]byte) error { return nil })
	if !errorsx.HasReason(err, errorsx.ReasonTTSRateLimit) {
		t.Fatalf("err = %v, want rate limit reason", err)
	}
}
