package mock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/andityas/swara/pkg/frames"
	"github.com/andityas/swara/pkg/transports"
)

// Transport is an in-memory transport for local testing and integration.
// Every call shares one inbound queue; each call gets its own sink whose
// sent frames can be inspected. Backpressure can be toggled to exercise
// the sender's suspend path.
type Transport struct {
	recvCh chan frames.Frame
	closed atomic.Bool

	mu    sync.Mutex
	sinks map[string]*Sink

	calls *CallLog
}

func New() *Transport {
	return &Transport{
		recvCh: make(chan frames.Frame, 256),
		sinks:  make(map[string]*Sink),
		calls:  &CallLog{statuses: make(map[string]string)},
	}
}

func (t *Transport) Name() string { return "mock" }

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	return nil
}

func (t *Transport) Stop() error {
	if t.closed.CompareAndSwap(false, true) {
		close(t.recvCh)
	}
	return nil
}

func (t *Transport) Recv() <-chan frames.Frame { return t.recvCh }

// Push injects an inbound frame.
func (t *Transport) Push(f frames.Frame) {
	if t.closed.Load() {
		return
	}
	select {
	case t.recvCh <- f:
	default:
	}
}

func (t *Transport) Sink(callSID string) (transports.Sink, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sinks[callSID]
	if !ok {
		s = &Sink{sentCh: make(chan frames.Frame, 256)}
		t.sinks[callSID] = s
	}
	return s, true
}

// SinkFor returns the concrete sink so tests can inspect sent frames.
func (t *Transport) SinkFor(callSID string) *Sink {
	s, _ := t.Sink(callSID)
	return s.(*Sink)
}

// Calls exposes the transport's call updater log.
func (t *Transport) Calls() *CallLog { return t.calls }

// Updater returns the in-memory call updater.
func (t *Transport) Updater() transports.CallUpdater { return t.calls }

// Sink records outbound frames for one call.
type Sink struct {
	sentCh   chan frames.Frame
	pressure atomic.Bool
}

func (s *Sink) Send(f frames.Frame) error {
	if f.Kind() == frames.KindAudio && s.pressure.Load() {
		return transports.ErrBackpressure
	}
	select {
	case s.sentCh <- f:
	default:
	}
	return nil
}

// SetPressure makes subsequent audio sends report backpressure.
func (s *Sink) SetPressure(on bool) { s.pressure.Store(on) }

// Sent exposes outbound frames for inspection.
func (s *Sink) Sent() <-chan frames.Frame { return s.sentCh }

// CallLog is an in-memory call updater that records end and redirect
// requests.
type CallLog struct {
	mu        sync.Mutex
	statuses  map[string]string
	Ended     []string
	Redirects map[string]string
}

func (c *CallLog) SetStatus(callSID, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[callSID] = status
}

func (c *CallLog) EndCall(ctx context.Context, callSID string) error {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[callSID] = "completed"
	c.Ended = append(c.Ended, callSID)
	return nil
}

func (c *CallLog) RedirectCall(ctx context.Context, callSID, target string) error {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Redirects == nil {
		c.Redirects = make(map[string]string)
	}
	c.Redirects[callSID] = target
	return nil
}

func (c *CallLog) CallStatus(ctx context.Context, callSID string) (string, error) {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	status := c.statuses[callSID]
	if status == "" {
		status = "in-progress"
	}
	return status, nil
}
