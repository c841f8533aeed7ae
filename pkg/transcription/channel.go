package transcription

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/andityas/swara/pkg/adapters/stt"
	"github.com/andityas/swara/pkg/errorsx"
	"github.com/andityas/swara/pkg/events"
	"github.com/andityas/swara/pkg/frames"
	"github.com/andityas/swara/pkg/redact"
	"github.com/andityas/swara/pkg/resilience"
)

// Channel turns one call's inbound audio into utterance and transcript
// events. Speech onset publishes Utterance before any text exists.
// Finalized hypothesis windows accumulate until the backend reports the
// utterance complete, then exactly one final Transcript is published.
// If the backend drops mid-utterance, whatever settled is flushed as
// the final; an empty utterance publishes nothing.
type Channel struct {
	bus     *events.Bus
	engine  stt.Engine
	log     *slog.Logger
	callSID string
	retry   resilience.RetryPolicy

	mu           sync.Mutex
	settled      []string
	speechActive bool
	closed       bool
}

func New(bus *events.Bus, engine stt.Engine, callSID string, log *slog.Logger) *Channel {
	return &Channel{
		bus:     bus,
		engine:  engine,
		log:     log,
		callSID: callSID,
		retry:   resilience.NewRetryPolicy(2, 200*time.Millisecond),
	}
}

// Start opens the recognition stream. On a backend error the settled
// text is flushed and the stream is reopened until the call context is
// cancelled.
func (c *Channel) Start(ctx context.Context) error {
	ev := stt.Events{
		OnResult:        c.onResult,
		OnSpeechStarted: c.onSpeechStarted,
		OnUtteranceEnd:  c.onUtteranceEnd,
		OnError: func(err error) {
			c.onDisruption(ctx, err)
		},
		OnClose: func() {
			c.flushSettled("stream closed")
		},
	}
	if err := c.engine.Start(ctx, ev); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSTTConnect)
	}
	return nil
}

// HandleAudio forwards one inbound frame to the recognition backend.
func (c *Channel) HandleAudio(frame frames.AudioFrame) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	if err := c.engine.SendAudio(frame); err != nil {
		c.log.Warn("dropping inbound audio frame",
			slog.String("call_sid", c.callSID),
			slog.String("error", err.Error()),
		)
	}
}

// Close tears the recognition stream down. No events fire afterwards.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.engine.Close()
}

func (c *Channel) onSpeechStarted() {
	c.mu.Lock()
	if c.closed || c.speechActive {
		c.mu.Unlock()
		return
	}
	c.speechActive = true
	c.mu.Unlock()
	c.bus.Emit(events.Utterance{Base: c.base()})
}

func (c *Channel) onResult(r stt.Result) {
	text := strings.TrimSpace(r.Text)
	if text == "" && !r.SpeechFinal {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	onset := false
	if !r.IsFinal {
		if !c.speechActive && text != "" {
			c.speechActive = true
			onset = true
		}
		c.mu.Unlock()
		if onset {
			c.bus.Emit(events.Utterance{Base: c.base()})
		}
		if text != "" {
			c.bus.Emit(events.Transcript{Base: c.base(), Text: text, Final: false})
		}
		return
	}

	if text != "" {
		c.settled = append(c.settled, text)
	}
	if !r.SpeechFinal {
		c.mu.Unlock()
		return
	}
	final := strings.Join(c.settled, " ")
	c.settled = nil
	c.speechActive = false
	c.mu.Unlock()

	c.emitFinal(final)
}

func (c *Channel) onUtteranceEnd() {
	// The backend saw silence before it flagged the last window as the
	// end of speech. Settle with what we have.
	c.flushSettled("utterance end")
}

func (c *Channel) onDisruption(ctx context.Context, err error) {
	c.flushSettled("backend error")
	c.log.Warn("recognition stream disrupted",
		slog.String("call_sid", c.callSID),
		slog.String("error", err.Error()),
	)
	if ctx.Err() != nil {
		return
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	rerr := c.retry.Do(func() error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return c.Start(ctx)
	})
	if rerr != nil {
		c.log.Error("recognition stream reconnect failed",
			slog.String("call_sid", c.callSID),
			slog.String("error", rerr.Error()),
		)
	}
}

func (c *Channel) flushSettled(cause string) {
	c.mu.Lock()
	if c.closed || len(c.settled) == 0 {
		c.speechActive = false
		c.mu.Unlock()
		return
	}
	final := strings.Join(c.settled, " ")
	c.settled = nil
	c.speechActive = false
	c.mu.Unlock()

	c.log.Debug("settling transcript early", slog.String("cause", cause))
	c.emitFinal(final)
}

func (c *Channel) emitFinal(text string) {
	if text == "" {
		return
	}
	c.log.Info("final transcript",
		slog.String("call_sid", c.callSID),
		slog.String("text", redact.Text(text)),
	)
	c.bus.Emit(events.Transcript{Base: c.base(), Text: text, Final: true})
}

func (c *Channel) base() events.Base {
	return events.Base{CallSID: c.callSID, At: time.Now()}
}
