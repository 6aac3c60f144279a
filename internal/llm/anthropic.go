package llm

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ecoparse/internal/resilience"
	"github.com/sells-group/ecoparse/pkg/anthropic"
)

// AnthropicClient calls the Anthropic Messages API. It has no JSON mode, so
// JSON requests get a system instruction instead.
type AnthropicClient struct {
	api       anthropic.Client
	model     string
	maxTokens int64
	guard     *resilience.Guard
}

// NewAnthropicClient wraps api. guard may be nil.
func NewAnthropicClient(api anthropic.Client, model string, maxTokens int64, guard *resilience.Guard) *AnthropicClient {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicClient{api: api, model: model, maxTokens: maxTokens, guard: guard}
}

// Provider returns ProviderAnthropic.
func (c *AnthropicClient) Provider() string { return ProviderAnthropic }

// Model returns the configured model name.
func (c *AnthropicClient) Model() string { return c.model }

// Generate sends one message. The API has no JSON mode, so a JSON request
// without a system prompt gets an instruction to answer with JSON only.
func (c *AnthropicClient) Generate(ctx context.Context, req Request) (*Response, error) {
	system := req.System
	if req.JSON && system == "" {
		system = jsonInstruction
	}

	msg := anthropic.MessageRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		System:      system,
		Prompt:      req.Prompt,
		Temperature: &req.Temperature,
	}
	resp, err := resilience.Run(ctx, c.guard, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return c.api.CreateMessage(ctx, msg)
	})
	if err != nil {
		return nil, eris.Wrap(err, "llm: anthropic")
	}
	return &Response{
		Text:         resp.Text(),
		Model:        c.model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}
