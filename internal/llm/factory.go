package llm

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ecoparse/internal/config"
	"github.com/sells-group/ecoparse/internal/cost"
	"github.com/sells-group/ecoparse/internal/resilience"
	"github.com/sells-group/ecoparse/pkg/anthropic"
	"github.com/sells-group/ecoparse/pkg/gemini"
	"github.com/sells-group/ecoparse/pkg/ollama"
)

// New builds the client for provider, falling back to cfg.LLM.Provider and
// the provider's configured model when the arguments are empty. guards may
// be nil. Clients that hold connections also implement io.Closer.
func New(ctx context.Context, cfg *config.Config, provider, model string, guards *resilience.Guards) (ModelClient, error) {
	if provider == "" {
		provider = cfg.LLM.Provider
	}

	var guard *resilience.Guard
	if guards != nil {
		guard = guards.Get(provider)
	}

	switch provider {
	case ProviderGemini:
		if model == "" {
			model = cfg.Gemini.Model
		}
		api, err := gemini.NewClient(ctx, cfg.Gemini.Key)
		if err != nil {
			return nil, eris.Wrap(err, "llm: new gemini client")
		}
		return NewGeminiClient(api, model, guard), nil

	case ProviderOllama:
		if model == "" {
			model = cfg.Ollama.Model
		}
		api := ollama.NewClient(ollama.WithBaseURL(cfg.Ollama.URL), ollama.WithModel(model))
		return NewOllamaClient(api, model, guard), nil

	case ProviderAnthropic:
		if model == "" {
			model = cfg.Anthropic.Model
		}
		if cfg.Anthropic.Key == "" {
			return nil, eris.New("llm: anthropic api key is empty")
		}
		api := anthropic.NewClient(cfg.Anthropic.Key)
		return NewAnthropicClient(api, model, int64(cfg.Anthropic.MaxTokens), guard), nil
	}

	return nil, eris.Errorf("llm: unknown provider %q", provider)
}

// Guards builds the per-service retry and breaker registry from cfg.
func Guards(cfg *config.Config) *resilience.Guards {
	return resilience.NewGuards(
		resilience.FromRetryConfig(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs),
		resilience.FromCircuitConfig(cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs),
	)
}

// Calculator prices tokens with the default rates overlaid by cfg.Pricing.
func Calculator(cfg *config.Config) *cost.Calculator {
	override := make(cost.Rates, len(cfg.Pricing.Models))
	for _, m := range cfg.Pricing.Models {
		override[m.Model] = cost.ModelRate{Input: m.Input, Output: m.Output}
	}
	return cost.NewCalculator(cost.DefaultRates().With(override))
}
