package transports

import (
	"context"
	"errors"

	"github.com/andityas/swara/pkg/frames"
)

// ErrBackpressure is returned by Sink.Send when the outbound queue is
// full. It is not a failure; the caller suspends and retries.
var ErrBackpressure = errors.New("transport backpressure")

// Transport defines a vendor-agnostic I/O boundary for audio and control frames.
// Implementations are responsible for their own network lifecycle.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Recv() <-chan frames.Frame
}

// Sink is the outbound media stream for one call. Audio frames carry
// the payloads; a clear control frame discards everything queued or in
// flight downstream. Audio sends may return ErrBackpressure; control
// frames are always accepted.
type Sink interface {
	Send(frames.Frame) error
}

// SinkProvider exposes per-call sinks. The engine resolves a call's
// sink once the media stream has started.
type SinkProvider interface {
	Sink(callSID string) (Sink, bool)
}

// CallUpdater lets call functions finish or redirect a live call.
type CallUpdater interface {
	EndCall(ctx context.Context, callSID string) error
	RedirectCall(ctx context.Context, callSID, target string) error
	CallStatus(ctx context.Context, callSID string) (string, error)
}

// OutboundDialer allows transports to initiate outbound calls.
type OutboundDialer interface {
	Dial(ctx context.Context, to, from, url string) (callSID string, err error)
}

// DialOptions carries optional outbound dial settings.
type DialOptions struct {
	SendDigits string
}

// OutboundDialerWithOptions extends dialing with optional parameters.
type OutboundDialerWithOptions interface {
	DialWithOptions(ctx context.Context, to, from, url string, opts DialOptions) (callSID string, err error)
}

// ReadyReporter allows transports to expose readiness metadata (e.g., webhook URLs).
// Implementations are optional and used for informational logging only.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
