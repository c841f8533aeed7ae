package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonSTTConnect     ReasonCode = "stt_connect"
	ReasonSTTSend        ReasonCode = "stt_send"
	ReasonSTTStream      ReasonCode = "stt_stream"
	ReasonSTTRateLimit   ReasonCode = "stt_rate_limit"
	ReasonSTTCircuitOpen ReasonCode = "stt_circuit_open"

	ReasonTTSConnect     ReasonCode = "tts_connect"
	ReasonTTSSynthesize  ReasonCode = "tts_synthesize"
	ReasonTTSRateLimit   ReasonCode = "tts_rate_limit"
	ReasonTTSCircuitOpen ReasonCode = "tts_circuit_open"

	ReasonLLMGenerate  ReasonCode = "llm_generate"
	ReasonLLMStream    ReasonCode = "llm_stream"
	ReasonLLMRateLimit ReasonCode = "llm_rate_limit"

	// ReasonBackendUnavailable marks connect or request failures against a
	// speech or language backend that a retry may still fix.
	ReasonBackendUnavailable ReasonCode = "backend_unavailable"
	// ReasonBackendProtocol marks a payload the backend returned that we
	// could not parse.
	ReasonBackendProtocol ReasonCode = "backend_protocol"
	// ReasonCallTerminated marks operations attempted after the call ended.
	ReasonCallTerminated ReasonCode = "call_terminated"

	ReasonFunctionUnknown ReasonCode = "function_unknown"
	ReasonFunctionFailed  ReasonCode = "function_failed"

	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"
	ReasonTransportSend             ReasonCode = "transport_send"
	ReasonTransportBackpressure     ReasonCode = "transport_backpressure"
)
