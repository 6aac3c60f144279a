package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/sells-group/ecoparse/internal/resilience"
)

func TestFromResponse(t *testing.T) {
	t.Parallel()

	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: nil},
			{
				Content:      &genai.Content{Parts: []genai.Part{genai.Text(`[{"species":"Ursus arctos"}]`), genai.Text("ignored")}},
				FinishReason: genai.FinishReasonStop,
			},
		},
		UsageMetadata: &genai.UsageMetadata{PromptTokenCount: 812, CandidatesTokenCount: 57},
	}

	out := FromResponse(resp)
	assert.Equal(t, `[{"species":"Ursus arctos"}]`, out.Text)
	assert.Equal(t, int64(812), out.InputTokens)
	assert.Equal(t, int64(57), out.OutputTokens)
	assert.NotEmpty(t, out.FinishReason)
}

func TestFromResponse_Empty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, FromResponse(nil).Text)

	out := FromResponse(&genai.GenerateContentResponse{UsageMetadata: &genai.UsageMetadata{PromptTokenCount: 3}})
	assert.Empty(t, out.Text)
	assert.Equal(t, int64(3), out.InputTokens)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		raw       error
		transient bool
	}{
		{name: "rate limited", raw: &googleapi.Error{Code: 429, Message: "quota"}, transient: true},
		{name: "server error", raw: &googleapi.Error{Code: 503}, transient: true},
		{name: "bad request", raw: &googleapi.Error{Code: 400, Message: "invalid"}, transient: false},
		{name: "grpc exhausted", raw: errors.New("rpc error: code = ResourceExhausted desc = RESOURCE_EXHAUSTED"), transient: true},
		{name: "plain", raw: errors.New("blocked: safety"), transient: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Classify(eris.Wrap(tt.raw, "gemini: generate"), tt.raw)
			assert.Equal(t, tt.transient, resilience.IsTransient(err))
			assert.Contains(t, err.Error(), "gemini: generate")
		})
	}
}

func TestNewClient_RequiresKey(t *testing.T) {
	t.Parallel()

	_, err := NewClient(context.Background(), "  ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key is empty")
}
