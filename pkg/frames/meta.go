package frames

// Well-known meta keys. Transports and providers attach these so
// downstream consumers never parse payloads to learn routing facts.
const (
	MetaStreamID   = "stream_id"
	MetaCallSID    = "call_sid"
	MetaSource     = "source"
	MetaReason     = "reason"
	MetaEncoding   = "encoding"
	MetaMarkLabel  = "mark_label"
	MetaTurnID     = "turn_id"
	MetaOrdinal    = "ordinal"
	MetaSeq        = "seq"
	MetaFromNumber = "from_number"
	MetaToNumber   = "to_number"
)
