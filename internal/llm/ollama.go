package llm

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ecoparse/internal/resilience"
	"github.com/sells-group/ecoparse/pkg/ollama"
)

// OllamaClient calls a local Ollama server.
type OllamaClient struct {
	api   ollama.Client
	model string
	guard *resilience.Guard
}

// NewOllamaClient wraps api. guard may be nil.
func NewOllamaClient(api ollama.Client, model string, guard *resilience.Guard) *OllamaClient {
	return &OllamaClient{api: api, model: model, guard: guard}
}

// Provider returns ProviderOllama.
func (c *OllamaClient) Provider() string { return ProviderOllama }

// Model returns the configured model name.
func (c *OllamaClient) Model() string { return c.model }

// Generate sends the prompt as a single chat turn, preceded by a system
// message when one is set. Token counts come from the prompt and response
// eval counts.
func (c *OllamaClient) Generate(ctx context.Context, req Request) (*Response, error) {
	msgs := make([]ollama.Message, 0, 2)
	if req.System != "" {
		msgs = append(msgs, ollama.Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, ollama.Message{Role: "user", Content: req.Prompt})

	chat := ollama.ChatRequest{
		Model:    c.model,
		Messages: msgs,
		Options:  &ollama.Options{Temperature: &req.Temperature},
	}
	if req.JSON {
		chat.Format = "json"
	}

	resp, err := resilience.Run(ctx, c.guard, func(ctx context.Context) (*ollama.ChatResponse, error) {
		return c.api.Chat(ctx, chat)
	})
	if err != nil {
		return nil, eris.Wrap(err, "llm: ollama")
	}
	return &Response{
		Text:         resp.Message.Content,
		Model:        c.model,
		InputTokens:  resp.PromptEvalCount,
		OutputTokens: resp.EvalCount,
	}, nil
}
