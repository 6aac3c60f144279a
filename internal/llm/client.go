// Package llm adapts the supported model providers to one request/response
// contract used by the extraction orchestrator.
package llm

import (
	"context"
)

// Provider names accepted in configuration.
const (
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
)

// jsonInstruction is sent as the system prompt when a provider has no
// native JSON response mode.
const jsonInstruction = "You are a precise data extraction assistant. Respond only with valid JSON and no surrounding prose."

// Request is one model invocation.
type Request struct {
	Prompt      string
	System      string
	Temperature float64
	// JSON asks the provider for a JSON-only reply where it supports one.
	JSON bool
}

// Response is the raw model reply with the token counts the provider
// reported for the call.
type Response struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// ModelClient invokes one configured model. Implementations are safe for
// concurrent use and apply their own retry and timeout policy.
type ModelClient interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	Provider() string
	Model() string
}
