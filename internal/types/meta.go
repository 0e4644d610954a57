package types

// ProtocolVersion is the rmcp sidecar version this module speaks.
const ProtocolVersion = "0.1"

// ReliabilityMeta is the `_meta.rmcp` wire sidecar, both directions.
// Request-direction fields are always populated; response-direction fields
// are populated only on inbound messages.
type ReliabilityMeta struct {
	Version        string `json:"version"`
	RequestID      string `json:"request_id"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Attempt        int    `json:"attempt"`
	TimeoutMS      int64  `json:"timeout_ms"`
	ExpectAck      bool   `json:"expect_ack"`

	// Response-direction only.
	Ack          bool   `json:"ack,omitempty"`
	Processed    bool   `json:"processed,omitempty"`
	FinalStatus  string `json:"final_status,omitempty"`
	Attempts     int    `json:"attempts,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Final status values a peer may report.
const (
	FinalStatusCompleted = "completed"
	FinalStatusFailed    = "failed"
)

// Result is the tuple (tool_payload, ReliabilityMeta) returned by CallTool.
// Payload is an opaque pass-through from the underlying MCP response.
type Result struct {
	Payload any
	Meta    ReliabilityMeta
}

// SyntheticResult builds the Result a disabled session returns: a direct
// delegation with no retry bookkeeping applied.
func SyntheticResult(payload any, requestID string) Result {
	return Result{
		Payload: payload,
		Meta: ReliabilityMeta{
			Version:     ProtocolVersion,
			RequestID:   requestID,
			Attempt:     1,
			Ack:         true,
			Processed:   true,
			FinalStatus: FinalStatusCompleted,
			Attempts:    1,
		},
	}
}
