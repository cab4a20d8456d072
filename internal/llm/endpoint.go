// Package llm implements the request pipeline to a remote language-model
// endpoint: bounded retries with exponential backoff and failover to a
// configured fallback model.
package llm

import "context"

// Message is one entry of the wire-format conversation. Only role and
// content ever leave the process; timestamps and IDs are internal.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a completion request to the remote endpoint.
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Usage tracks token consumption for a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the remote endpoint's answer. Content may legitimately be
// empty when the model returns no text.
type Response struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Endpoint is the transport to the remote model service. Implementations
// must wrap failures with the package's sentinel errors so Classify can
// direct the retry policy.
type Endpoint interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
