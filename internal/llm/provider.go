package llm

import "context"

// CompletionRequest is the vendor-neutral request handed to a Provider.
// Messages are already sanitized and never contain a system message.
type CompletionRequest struct {
	Model       string
	System      string
	Messages    []Message
	WantJSON    bool
	Temperature float64
	MaxTokens   int64
}

// Completion is the raw provider output. Token counts are 0 when omitted.
type Completion struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
}

// Provider is one LLM backend. A provider may return a Completion together
// with an error when the vendor billed tokens for an unusable answer; the
// adapter records that usage.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}
