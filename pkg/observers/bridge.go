package observers

import (
	"github.com/andityas/swara/pkg/events"
	"github.com/andityas/swara/pkg/metrics"
	"github.com/andityas/swara/pkg/redact"
)

// Bridge adapts a metrics observer to the call event bus. Subscribe it
// with SubscribeAll and every call event becomes a metrics event.
func Bridge(obs metrics.Observer) events.Handler {
	return func(ev events.Event) {
		if obs == nil {
			return
		}
		m := metrics.MetricsEvent{
			Time: ev.OccurredAt(),
			Tags: map[string]string{},
		}
		switch e := ev.(type) {
		case events.Utterance:
			m.Name = "utterance"
			m.Tags["call_sid"] = e.CallSID
		case events.Transcript:
			if !e.Final {
				return
			}
			m.Name = metrics.EventTranscriptFinal
			m.Tags["call_sid"] = e.CallSID
			m.Fields = map[string]any{"text": redact.Text(e.Text)}
		case events.ReplyFragment:
			m.Name = metrics.EventReplyFragment
			m.Tags["call_sid"] = e.CallSID
			m.Value = float64(e.Ordinal)
		case events.FragmentAborted:
			m.Name = metrics.EventFragmentAborted
			m.Tags["call_sid"] = e.CallSID
			m.Tags["reason"] = e.Reason
			m.Value = float64(e.Ordinal)
		case events.AudioChunk:
			m.Name = metrics.EventAudioChunk
			m.Tags["call_sid"] = e.CallSID
			m.Value = float64(len(e.Payload))
		case events.FunctionCall:
			m.Name = metrics.EventFunctionCall
			m.Tags["call_sid"] = e.CallSID
			m.Tags["function"] = e.Name
		case events.Interrupted:
			m.Name = metrics.EventInterrupt
			m.Tags["call_sid"] = e.CallSID
			m.Value = float64(e.Count)
		case events.AudioSent:
			m.Name = "audio_sent"
			m.Tags["call_sid"] = e.CallSID
		case events.CallEnded:
			m.Name = metrics.EventCallEnd
			m.Tags["call_sid"] = e.CallSID
			m.Tags["reason"] = e.Reason
		default:
			return
		}
		obs.RecordEvent(m)
	}
}
