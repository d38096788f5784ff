package executor

// Outcome classifies how an inference call ended.
type Outcome string

const (
	OutcomeOK         Outcome = "ok"
	OutcomeNoResponse Outcome = "no_response"
	OutcomeFallback   Outcome = "fallback"
)

// Fixed reply texts used when the inference call does not produce one.
const (
	FallbackReply   = "Sorry, I couldn't process your request."
	NoResponseReply = "No response."
)

// MessageRequest is one prompt extracted from a mesh message.
type MessageRequest struct {
	CorrelationID string
	Sender        string
	Prompt        string
}

// MessageResponse always carries reply text, even when inference failed.
type MessageResponse struct {
	Text    string
	Outcome Outcome
	Err     error // the underlying failure, nil when Outcome is OutcomeOK
}
