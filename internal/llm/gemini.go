package llm

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ecoparse/internal/resilience"
	"github.com/sells-group/ecoparse/pkg/gemini"
)

// GeminiClient calls Google Gemini with a native JSON response mode.
type GeminiClient struct {
	api   gemini.Client
	model string
	guard *resilience.Guard
}

// NewGeminiClient wraps api. guard may be nil.
func NewGeminiClient(api gemini.Client, model string, guard *resilience.Guard) *GeminiClient {
	return &GeminiClient{api: api, model: model, guard: guard}
}

// Provider returns ProviderGemini.
func (c *GeminiClient) Provider() string { return ProviderGemini }

// Model returns the configured model name.
func (c *GeminiClient) Model() string { return c.model }

// Generate sends one prompt through the client's guard. req.JSON selects a
// JSON response MIME type.
func (c *GeminiClient) Generate(ctx context.Context, req Request) (*Response, error) {
	temp := float32(req.Temperature)
	resp, err := resilience.Run(ctx, c.guard, func(ctx context.Context) (*gemini.GenerateResponse, error) {
		return c.api.Generate(ctx, gemini.GenerateRequest{
			Model:       c.model,
			System:      req.System,
			Prompt:      req.Prompt,
			Temperature: &temp,
			JSON:        req.JSON,
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "llm: gemini")
	}
	return &Response{
		Text:         resp.Text,
		Model:        c.model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}, nil
}

// Close releases the underlying SDK client.
func (c *GeminiClient) Close() error {
	return c.api.Close()
}
