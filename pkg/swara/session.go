package swara

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andityas/swara/pkg/call"
	"github.com/andityas/swara/pkg/events"
	"github.com/andityas/swara/pkg/frames"
	"github.com/andityas/swara/pkg/generation"
	"github.com/andityas/swara/pkg/sequencer"
	"github.com/andityas/swara/pkg/synthesis"
	"github.com/andityas/swara/pkg/transcription"
)

// Session holds the live machinery of one call: the event bus, the
// four processing channels, and the call context they share.
type Session struct {
	CallSID  string
	StreamID string
	Bus      *events.Bus
	Call     *call.Context

	Transcription *transcription.Channel
	Generation    *generation.Channel
	Synthesis     *synthesis.Channel
	Sequencer     *sequencer.Sequencer

	Ctx     context.Context
	Cancel  context.CancelFunc
	Created time.Time

	closers []func()
}

// HandleAudio feeds inbound caller audio into transcription.
func (s *Session) HandleAudio(frame frames.AudioFrame) {
	if s.Transcription != nil {
		s.Transcription.HandleAudio(frame)
	}
}

// Greet speaks the configured opening line without consulting the
// reply backend.
func (s *Session) Greet(text string) {
	if text == "" || s.Generation == nil {
		return
	}
	s.Generation.Speak(s.Ctx, text)
}

func (s *Session) close() {
	if s.Cancel != nil {
		s.Cancel()
	}
	for _, fn := range s.closers {
		fn()
	}
}

// StartMeta carries the identity fields delivered with a transport's
// call start frame.
type StartMeta struct {
	CallSID  string
	StreamID string
	From     string
	To       string
}

type SessionFactory func(ctx context.Context, start StartMeta) (*Session, error)

type SessionRegistry struct {
	sessions sync.Map
	count    atomic.Int64
	factory  SessionFactory
	draining atomic.Bool
}

func NewSessionRegistry(factory SessionFactory) *SessionRegistry {
	return &SessionRegistry{factory: factory}
}

func (r *SessionRegistry) GetOrCreate(start StartMeta) (*Session, bool, error) {
	if start.CallSID == "" {
		return nil, false, nil
	}
	if v, ok := r.sessions.Load(start.CallSID); ok {
		return v.(*Session), false, nil
	}
	if r.draining.Load() {
		return nil, false, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	sess, err := r.factory(ctx, start)
	if err != nil {
		cancel()
		return nil, false, err
	}
	sess.Ctx = ctx
	sess.Cancel = cancel
	sess.Created = time.Now()
	actual, loaded := r.sessions.LoadOrStore(start.CallSID, sess)
	if loaded {
		sess.close()
		return actual.(*Session), false, nil
	}
	r.count.Add(1)
	return sess, true, nil
}

func (r *SessionRegistry) Get(callSID string) (*Session, bool) {
	if v, ok := r.sessions.Load(callSID); ok {
		return v.(*Session), true
	}
	return nil, false
}

func (r *SessionRegistry) Remove(callSID string) {
	if v, ok := r.sessions.LoadAndDelete(callSID); ok {
		v.(*Session).close()
		r.count.Add(-1)
	}
}

func (r *SessionRegistry) CloseAll() {
	r.sessions.Range(func(key, value any) bool {
		if callSID, ok := key.(string); ok {
			r.Remove(callSID)
		}
		return true
	})
}

func (r *SessionRegistry) Count() int64 {
	return r.count.Load()
}

func (r *SessionRegistry) SetDraining(v bool) {
	r.draining.Store(v)
}

func (r *SessionRegistry) Draining() bool {
	return r.draining.Load()
}

func (r *SessionRegistry) WaitForEmpty(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if r.Count() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return r.Count() == 0
		case <-ticker.C:
		}
	}
}
