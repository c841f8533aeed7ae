package metrics

// Metric event names recorded by the pipeline.
const (
	EventRateLimit     = "rate_limit"
	EventBreakerOpen   = "breaker_open"
	EventBreakerClose  = "breaker_close"
	EventBreakerDenied = "breaker_denied"

	EventTranscriptFinal   = "transcript_final"
	EventReplyFragment     = "reply_fragment"
	EventFragmentAborted   = "fragment_aborted"
	EventAudioChunk        = "audio_chunk"
	EventInterrupt         = "interrupt"
	EventFunctionCall      = "function_call"
	EventFirstAudioLatency = "first_audio_latency"
	EventCallStart         = "call_start"
	EventCallEnd           = "call_end"
)
