package synthesis

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/andityas/swara/pkg/adapters/tts"
	"github.com/andityas/swara/pkg/errorsx"
	"github.com/andityas/swara/pkg/events"
	"github.com/andityas/swara/pkg/resilience"
)

const defaultConcurrency = 3

// Channel renders reply fragments to audio. Fragments synthesize
// independently and concurrently up to a semaphore bound, so chunk
// completion order across ordinals is unconstrained; the sequencer
// downstream restores order. Within a fragment, chunk sequence numbers
// start at 0, are contiguous, and the final chunk carries Last. A
// fragment that fails or is cancelled produces FragmentAborted and no
// further chunks.
type Channel struct {
	bus     *events.Bus
	engine  tts.Engine
	log     *slog.Logger
	callSID string
	sem     *semaphore.Weighted
	retry   resilience.RetryPolicy
	breaker *resilience.CircuitBreaker

	mu       sync.Mutex
	turnID   uint64
	deadTurn uint64
	cancel   context.CancelFunc
	turnCtx  context.Context
	closed   bool
}

type Option func(*Channel)

// WithConcurrency bounds how many fragments synthesize at once.
func WithConcurrency(n int64) Option {
	return func(c *Channel) {
		if n > 0 {
			c.sem = semaphore.NewWeighted(n)
		}
	}
}

// WithBreaker installs a circuit breaker shared with other channels.
func WithBreaker(b *resilience.CircuitBreaker) Option {
	return func(c *Channel) { c.breaker = b }
}

func New(bus *events.Bus, engine tts.Engine, callSID string, log *slog.Logger, opts ...Option) *Channel {
	c := &Channel{
		bus:     bus,
		engine:  engine,
		log:     log,
		callSID: callSID,
		sem:     semaphore.NewWeighted(defaultConcurrency),
		retry:   resilience.NewRetryPolicy(1, 150*time.Millisecond),
		breaker: resilience.NewCircuitBreaker(3, 30*time.Second),
	}
	for _, o := range opts {
		o(c)
	}
	bus.Subscribe(events.KindReplyFragment, func(ev events.Event) {
		c.handleFragment(ev.(events.ReplyFragment))
	})
	bus.Subscribe(events.KindUtterance, func(events.Event) {
		c.cancelTurn()
	})
	return c
}

// Close cancels all in-flight synthesis.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Channel) cancelTurn() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.turnCtx = nil
	if c.turnID > c.deadTurn {
		c.deadTurn = c.turnID
	}
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// contextFor returns the shared context for a turn, starting a new one
// when the first fragment of a turn arrives.
func (c *Channel) contextFor(turnID uint64) context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || turnID <= c.deadTurn {
		return nil
	}
	if c.turnCtx == nil || c.turnID != turnID {
		if c.cancel != nil {
			c.cancel()
		}
		ctx, cancel := context.WithCancel(context.Background())
		c.turnCtx = ctx
		c.cancel = cancel
		c.turnID = turnID
	}
	return c.turnCtx
}

func (c *Channel) handleFragment(frag events.ReplyFragment) {
	ctx := c.contextFor(frag.TurnID)
	if ctx == nil {
		return
	}
	go c.synthesize(ctx, frag)
}

func (c *Channel) synthesize(ctx context.Context, frag events.ReplyFragment) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		c.abort(frag, "interrupted")
		return
	}
	defer c.sem.Release(1)

	if !c.breaker.Allow() {
		c.abort(frag, "synthesis degraded")
		return
	}

	seq := 0
	var prev []byte
	emit := func(chunk []byte) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if prev != nil {
			c.publish(frag, seq, prev, false)
			seq++
		}
		prev = append([]byte(nil), chunk...)
		return nil
	}

	attempt := func() error {
		return c.engine.Synthesize(ctx, frag.Text, emit)
	}
	err := attempt()
	// Retry only while nothing was published yet; a replay after chunks
	// went out would corrupt the sequence.
	for r := 0; err != nil && ctx.Err() == nil && seq == 0 && prev == nil && r < c.retry.MaxRetries; r++ {
		time.Sleep(c.retry.Backoff)
		err = attempt()
	}
	if err != nil {
		c.breaker.OnError(err)
		if ctx.Err() != nil {
			c.abort(frag, "interrupted")
			return
		}
		c.log.Warn("fragment synthesis failed",
			slog.String("call_sid", c.callSID),
			slog.Uint64("turn", frag.TurnID),
			slog.Int("ordinal", frag.Ordinal),
			slog.String("reason", string(errorsx.Reason(errorsx.Wrap(err, errorsx.ReasonTTSSynthesize)))),
			slog.String("error", err.Error()),
		)
		c.abort(frag, "synthesis failed")
		return
	}
	c.breaker.OnSuccess()
	if prev == nil {
		// Backend produced nothing for this text.
		c.abort(frag, "empty synthesis")
		return
	}
	if ctx.Err() != nil {
		c.abort(frag, "interrupted")
		return
	}
	c.publish(frag, seq, prev, true)
}

func (c *Channel) publish(frag events.ReplyFragment, seq int, payload []byte, last bool) {
	c.bus.Emit(events.AudioChunk{
		Base:    events.Base{CallSID: c.callSID, At: time.Now()},
		TurnID:  frag.TurnID,
		Ordinal: frag.Ordinal,
		Seq:     seq,
		Payload: payload,
		Last:    last,
	})
}

func (c *Channel) abort(frag events.ReplyFragment, reason string) {
	c.bus.Emit(events.FragmentAborted{
		Base:    events.Base{CallSID: c.callSID, At: time.Now()},
		TurnID:  frag.TurnID,
		Ordinal: frag.Ordinal,
		Reason:  reason,
	})
}
