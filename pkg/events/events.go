package events

import "time"

// Kind identifies an event variant on the bus.
type Kind string

const (
	KindUtterance         Kind = "utterance"
	KindTranscript        Kind = "transcript"
	KindReplyFragment     Kind = "reply_fragment"
	KindReplyDone         Kind = "reply_done"
	KindFunctionCall      Kind = "function_call"
	KindFunctionResult    Kind = "function_result"
	KindAudioChunk        Kind = "audio_chunk"
	KindFragmentAborted   Kind = "fragment_aborted"
	KindClear             Kind = "clear"
	KindInterrupted       Kind = "interrupted"
	KindAudioSent         Kind = "audio_sent"
	KindCallEnded         Kind = "call_ended"
	KindTransferRequested Kind = "transfer_requested"
)

// Event is implemented by every variant. One struct per kind; consumers
// type-switch on the concrete type rather than inspecting payloads.
type Event interface {
	EventKind() Kind
	OccurredAt() time.Time
}

// Base carries the fields shared by all variants.
type Base struct {
	CallSID string
	At      time.Time
}

func (b Base) OccurredAt() time.Time { return b.At }

// Utterance signals speech onset from the caller. It fires before any
// transcript text exists and is the interrupt trigger.
type Utterance struct {
	Base
}

func (Utterance) EventKind() Kind { return KindUtterance }

// Transcript carries recognized speech. Final is true exactly once per
// settled utterance; partials may repeat and revise freely.
type Transcript struct {
	Base
	Text  string
	Final bool
}

func (Transcript) EventKind() Kind { return KindTranscript }

// ReplyFragment is one sentence-bounded slice of the assistant reply.
// Ordinals start at 0 and increase by one within a turn.
type ReplyFragment struct {
	Base
	TurnID  uint64
	Ordinal int
	Text    string
}

func (ReplyFragment) EventKind() Kind { return KindReplyFragment }

// ReplyDone closes a reply turn. Fragments is the total fragment count
// emitted for the turn; Text is the full concatenated reply.
type ReplyDone struct {
	Base
	TurnID    uint64
	Fragments int
	Text      string
}

func (ReplyDone) EventKind() Kind { return KindReplyDone }

// FunctionCall requests execution of a registered call function. Say is
// the line spoken to the caller while the function runs.
type FunctionCall struct {
	Base
	TurnID uint64
	CallID string
	Name   string
	Args   map[string]any
	Say    string
}

func (FunctionCall) EventKind() Kind { return KindFunctionCall }

// FunctionResult reports the outcome of a FunctionCall.
type FunctionResult struct {
	Base
	TurnID uint64
	CallID string
	Name   string
	Result string
	Err    string
}

func (FunctionResult) EventKind() Kind { return KindFunctionResult }

// AudioChunk is synthesized audio for one fragment. Seq starts at 0 and
// is contiguous within (TurnID, Ordinal); Last marks the fragment's
// final chunk.
type AudioChunk struct {
	Base
	TurnID  uint64
	Ordinal int
	Seq     int
	Payload []byte
	Last    bool
}

func (AudioChunk) EventKind() Kind { return KindAudioChunk }

// FragmentAborted signals that a fragment produced no audio and the
// sequencer must skip its ordinal.
type FragmentAborted struct {
	Base
	TurnID  uint64
	Ordinal int
	Reason  string
}

func (FragmentAborted) EventKind() Kind { return KindFragmentAborted }

// Clear is published when buffered agent audio was discarded.
type Clear struct {
	Base
	TurnID uint64
}

func (Clear) EventKind() Kind { return KindClear }

// Interrupted is published when the caller barged in over agent speech.
// Count is the call's interruption counter after the increment.
type Interrupted struct {
	Base
	TurnID uint64
	Count  uint64
}

func (Interrupted) EventKind() Kind { return KindInterrupted }

// AudioSent is the transport's acknowledgement that a media payload was
// consumed, keyed by the mark label attached when it was sent.
type AudioSent struct {
	Base
	Label string
}

func (AudioSent) EventKind() Kind { return KindAudioSent }

// CallEnded is terminal for a call.
type CallEnded struct {
	Base
	Reason string
}

func (CallEnded) EventKind() Kind { return KindCallEnded }

// TransferRequested asks the transport to redirect the call.
type TransferRequested struct {
	Base
	Target string
}

func (TransferRequested) EventKind() Kind { return KindTransferRequested }
