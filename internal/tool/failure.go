package tool

import "encoding/json"

// Failure kinds, distinguishable by the model and by audit queries.
const (
	FailureUnknownTool = "unknown_tool"
	FailureTimeout     = "timeout"
	FailureExecution   = "execution_error"
	FailureCancelled   = "cancelled"
)

// Failure is the structured descriptor fed back into the conversation when
// a tool call cannot produce a result. It is never silently dropped: the
// model sees it as the tool message content and can react to it.
type Failure struct {
	Kind   string `json:"kind"`
	Tool   string `json:"tool"`
	Reason string `json:"reason"`
}

// JSON encodes the failure for use as message content or a stored result.
func (f Failure) JSON() json.RawMessage {
	raw, err := json.Marshal(f)
	if err != nil {
		return json.RawMessage(`{"kind":"execution_error","reason":"failure encoding failed"}`)
	}
	return raw
}
