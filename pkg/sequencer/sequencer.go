package sequencer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/andityas/swara/pkg/call"
	"github.com/andityas/swara/pkg/events"
	"github.com/andityas/swara/pkg/frames"
	"github.com/andityas/swara/pkg/transports"
)

const backpressureWait = 20 * time.Millisecond

// Sequencer restores ordinal order over concurrently synthesized audio
// and owns interruption. Chunks buffer keyed by fragment ordinal; a
// delivery cursor walks strictly ascending (ordinal, seq), holding
// ordinal N+1 until N is exhausted. An utterance while agent audio is
// in flight drops everything undelivered, pushes exactly one clear
// control downstream, and bumps the call's interruption counter; a
// chunk of the interrupted turn that finishes synthesis afterwards is
// dropped, never delivered.
type Sequencer struct {
	bus      *events.Bus
	sink     transports.Sink
	callCtx  *call.Context
	log      *slog.Logger
	streamID string
	limiter  *rate.Limiter

	// sendMu serializes the epoch check plus audio hand-off against
	// the clear hand-off in Interrupt. Without it a chunk that passed
	// the check could reach the sink after the clear, re-queuing stale
	// audio the transport just flushed.
	sendMu sync.Mutex

	mu        sync.Mutex
	turn      uint64
	deadTurn  uint64
	epoch     uint64
	active    bool
	buf       map[int][]events.AudioChunk
	aborted   map[int]bool
	doneFrags int
	nextOrd   int
	nextSeq   int

	wake   chan struct{}
	sample int
}

type Option func(*Sequencer)

// WithPacing throttles delivery to the given audio byte rate so the
// transport queue tracks real-time playout instead of ballooning.
func WithPacing(bytesPerSecond, burst int) Option {
	return func(s *Sequencer) {
		if bytesPerSecond > 0 {
			if burst < bytesPerSecond/2 {
				burst = bytesPerSecond / 2
			}
			s.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
		}
	}
}

// WithSampleRate sets the rate stamped on outbound audio frames.
func WithSampleRate(rateHz int) Option {
	return func(s *Sequencer) { s.sample = rateHz }
}

func New(bus *events.Bus, sink transports.Sink, callCtx *call.Context, streamID string, log *slog.Logger, opts ...Option) *Sequencer {
	s := &Sequencer{
		bus:       bus,
		sink:      sink,
		callCtx:   callCtx,
		log:       log,
		streamID:  streamID,
		buf:       make(map[int][]events.AudioChunk),
		aborted:   make(map[int]bool),
		doneFrags: -1,
		wake:      make(chan struct{}, 1),
		sample:    8000,
	}
	for _, o := range opts {
		o(s)
	}
	bus.Subscribe(events.KindAudioChunk, func(ev events.Event) {
		s.onChunk(ev.(events.AudioChunk))
	})
	bus.Subscribe(events.KindFragmentAborted, func(ev events.Event) {
		s.onAbort(ev.(events.FragmentAborted))
	})
	bus.Subscribe(events.KindReplyDone, func(ev events.Event) {
		s.onDone(ev.(events.ReplyDone))
	})
	bus.Subscribe(events.KindUtterance, func(events.Event) {
		s.Interrupt()
	})
	return s
}

// Run drives delivery until ctx is cancelled. It never returns an
// error from transient transport pressure; only cancellation stops it.
func (s *Sequencer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		}
		s.drain(ctx)
	}
}

func (s *Sequencer) drain(ctx context.Context) {
	for {
		chunk, epoch, ok := s.takeNext()
		if !ok {
			return
		}
		if s.limiter != nil {
			n := len(chunk.Payload)
			if n > s.limiter.Burst() {
				n = s.limiter.Burst()
			}
			if err := s.limiter.WaitN(ctx, n); err != nil {
				return
			}
		}
		s.send(ctx, chunk, epoch)
	}
}

func (s *Sequencer) send(ctx context.Context, chunk events.AudioChunk, epoch uint64) {
	frame := frames.NewAudioFrame(s.streamID, time.Now().UnixNano(), chunk.Payload, s.sample, 1, map[string]string{
		frames.MetaCallSID: chunk.CallSID,
	})
	for {
		s.sendMu.Lock()
		if s.stale(epoch) {
			s.sendMu.Unlock()
			return
		}
		err := s.sink.Send(frame)
		s.sendMu.Unlock()
		if err == nil {
			return
		}
		if !errors.Is(err, transports.ErrBackpressure) {
			s.log.Warn("outbound audio send failed",
				slog.String("call_sid", s.callCtx.SID()),
				slog.String("error", err.Error()),
			)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backpressureWait):
		}
	}
}

func (s *Sequencer) stale(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return epoch != s.epoch
}

// takeNext pops the next in-order chunk and advances the cursor. It
// skips aborted ordinals and completes the turn when the reply's
// fragment count is exhausted.
func (s *Sequencer) takeNext() (events.AudioChunk, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return events.AudioChunk{}, 0, false
	}
	for {
		if s.completeLocked() {
			return events.AudioChunk{}, 0, false
		}
		if s.aborted[s.nextOrd] {
			delete(s.aborted, s.nextOrd)
			delete(s.buf, s.nextOrd)
			s.nextOrd++
			s.nextSeq = 0
			continue
		}
		pending := s.buf[s.nextOrd]
		if len(pending) == 0 || pending[0].Seq != s.nextSeq {
			return events.AudioChunk{}, 0, false
		}
		chunk := pending[0]
		if len(pending) == 1 {
			delete(s.buf, s.nextOrd)
		} else {
			s.buf[s.nextOrd] = pending[1:]
		}
		if chunk.Last {
			s.nextOrd++
			s.nextSeq = 0
		} else {
			s.nextSeq++
		}
		return chunk, s.epoch, true
	}
}

// completeLocked resets turn state once every fragment of the reply is
// either delivered or aborted. Cursor state survives until this point.
func (s *Sequencer) completeLocked() bool {
	if s.doneFrags < 0 || s.nextOrd < s.doneFrags {
		return false
	}
	s.active = false
	s.buf = make(map[int][]events.AudioChunk)
	s.aborted = make(map[int]bool)
	s.doneFrags = -1
	s.nextOrd = 0
	s.nextSeq = 0
	return true
}

// adoptLocked points the sequencer at a turn, dropping leftovers of a
// previous one. Returns false when the event belongs to a dead turn.
func (s *Sequencer) adoptLocked(turnID uint64) bool {
	if turnID <= s.deadTurn {
		return false
	}
	if turnID == s.turn && s.active {
		return true
	}
	if turnID < s.turn {
		return false
	}
	s.turn = turnID
	s.active = true
	s.buf = make(map[int][]events.AudioChunk)
	s.aborted = make(map[int]bool)
	s.doneFrags = -1
	s.nextOrd = 0
	s.nextSeq = 0
	return true
}

func (s *Sequencer) onChunk(chunk events.AudioChunk) {
	s.mu.Lock()
	if !s.adoptLocked(chunk.TurnID) {
		s.mu.Unlock()
		return
	}
	s.buf[chunk.Ordinal] = append(s.buf[chunk.Ordinal], chunk)
	s.mu.Unlock()
	s.nudge()
}

func (s *Sequencer) onAbort(ab events.FragmentAborted) {
	s.mu.Lock()
	if !s.adoptLocked(ab.TurnID) {
		s.mu.Unlock()
		return
	}
	s.aborted[ab.Ordinal] = true
	delete(s.buf, ab.Ordinal)
	s.mu.Unlock()
	s.nudge()
}

func (s *Sequencer) onDone(done events.ReplyDone) {
	s.mu.Lock()
	if !s.adoptLocked(done.TurnID) {
		s.mu.Unlock()
		return
	}
	s.doneFrags = done.Fragments
	s.mu.Unlock()
	s.nudge()
}

// Interrupt implements barge-in. A no-op when no agent audio is in
// flight, so an utterance during silence costs nothing.
func (s *Sequencer) Interrupt() {
	s.mu.Lock()
	if !s.active && len(s.buf) == 0 {
		s.mu.Unlock()
		return
	}
	turnID := s.turn
	s.deadTurn = s.turn
	s.epoch++
	s.active = false
	s.buf = make(map[int][]events.AudioChunk)
	s.aborted = make(map[int]bool)
	s.doneFrags = -1
	s.nextOrd = 0
	s.nextSeq = 0
	s.mu.Unlock()

	clearFrame := frames.NewControlFrame(s.streamID, time.Now().UnixNano(), frames.ControlClear, map[string]string{
		frames.MetaCallSID: s.callCtx.SID(),
	})
	// Taken after the epoch bump: an audio send already holding sendMu
	// finishes before the clear goes out, and any later send sees the
	// new epoch and drops.
	s.sendMu.Lock()
	err := s.sink.Send(clearFrame)
	s.sendMu.Unlock()
	if err != nil {
		s.log.Warn("clear signal failed",
			slog.String("call_sid", s.callCtx.SID()),
			slog.String("error", err.Error()),
		)
	}
	count := s.callCtx.RecordInterruption()
	base := events.Base{CallSID: s.callCtx.SID(), At: time.Now()}
	s.bus.Emit(events.Clear{Base: base, TurnID: turnID})
	s.bus.Emit(events.Interrupted{Base: base, TurnID: turnID, Count: count})
	s.log.Info("caller barge-in",
		slog.String("call_sid", s.callCtx.SID()),
		slog.Uint64("turn", turnID),
		slog.Uint64("count", count),
	)
}

func (s *Sequencer) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
