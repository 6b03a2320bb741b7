package llmtypes

// FinishReason is why a generation ended. The string values are part of the wire contract.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
	FinishCancelled     FinishReason = "cancelled"
	FinishError         FinishReason = "error"
)

// Valid reports whether r is one of the enumerated reasons
func (r FinishReason) Valid() bool {
	switch r {
	case FinishStop, FinishLength, FinishToolCalls, FinishContentFilter, FinishCancelled, FinishError:
		return true
	}
	return false
}

// ParseFinishReason decodes a canonical reason string. Unknown or empty values map to stop.
func ParseFinishReason(s string) FinishReason {
	r := FinishReason(s)
	if r.Valid() {
		return r
	}
	return FinishStop
}
