// Package gemini wraps the Google generative AI SDK for single-turn JSON
// generation.
package gemini

import (
	"context"
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rotisserie/eris"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/sells-group/ecoparse/internal/resilience"
)

// Client generates content with a Gemini model.
type Client interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
	Close() error
}

// GenerateRequest is a single-turn request.
type GenerateRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature *float32
	// JSON asks the model for an application/json response.
	JSON bool
}

// GenerateResponse is the first text part of the reply with its usage.
type GenerateResponse struct {
	Text         string
	FinishReason string
	InputTokens  int64
	OutputTokens int64
}

type sdkClient struct {
	client *genai.Client
}

// NewClient opens a Gemini client. Extra options are passed to the SDK,
// e.g. option.WithEndpoint in tests.
func NewClient(ctx context.Context, apiKey string, opts ...option.ClientOption) (Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, eris.New("gemini: api key is empty")
	}
	cl, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, eris.Wrap(err, "gemini: new client")
	}
	return &sdkClient{client: cl}, nil
}

func (c *sdkClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	m := c.client.GenerativeModel(req.Model)
	m.GenerationConfig = genai.GenerationConfig{Temperature: req.Temperature}
	if req.JSON {
		m.GenerationConfig.ResponseMIMEType = "application/json"
	}
	if req.System != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}

	resp, err := m.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return nil, Classify(eris.Wrapf(err, "gemini: generate %s", req.Model), err)
	}
	return FromResponse(resp), nil
}

func (c *sdkClient) Close() error {
	return c.client.Close()
}

// FromResponse extracts the first text part and token usage.
func FromResponse(resp *genai.GenerateContentResponse) *GenerateResponse {
	out := &GenerateResponse{}
	if resp == nil {
		return out
	}
	if u := resp.UsageMetadata; u != nil {
		out.InputTokens = int64(u.PromptTokenCount)
		out.OutputTokens = int64(u.CandidatesTokenCount)
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				out.Text = string(t)
				out.FinishReason = cand.FinishReason.String()
				return out
			}
		}
	}
	return out
}

// Classify marks quota and server-side API failures as transient. wrapped
// is returned, possibly marked; raw is inspected.
func Classify(wrapped, raw error) error {
	var apiErr *googleapi.Error
	if errors.As(raw, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.Code) {
		return resilience.NewTransientError(wrapped, apiErr.Code)
	}
	msg := strings.ToLower(raw.Error())
	if strings.Contains(msg, "resource_exhausted") || strings.Contains(msg, "unavailable") {
		return resilience.NewTransientError(wrapped, 0)
	}
	return wrapped
}
