package config

import (
	"slices"
	"strings"

	"github.com/rotisserie/eris"
)

// Providers lists the supported extraction model providers.
var Providers = []string{"gemini", "ollama", "anthropic"}

// Validate checks settings every command depends on.
func (c *Config) Validate() error {
	var problems []string

	if !slices.Contains([]string{"sqlite", "postgres"}, c.Store.Driver) {
		problems = append(problems, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}
	if !slices.Contains([]string{"context", "full-page", "partial-page"}, c.Chunk.Strategy) {
		problems = append(problems, "chunk.strategy must be context, full-page or partial-page")
	}
	if c.Chunk.ContextBefore < 0 || c.Chunk.ContextAfter < 0 || c.Chunk.TopChars < 0 || c.Chunk.BottomChars < 0 {
		problems = append(problems, "chunk sizes must not be negative")
	}
	if !slices.Contains([]string{"pdftotext", "native"}, c.Document.Reader) {
		problems = append(problems, "document.reader must be pdftotext or native")
	}
	if c.Monitor.FailureRateThreshold < 0 || c.Monitor.FailureRateThreshold > 1 {
		problems = append(problems, "monitor.failure_rate_threshold must be between 0 and 1")
	}

	return joinProblems(problems)
}

// ValidateExtract checks the model provider settings needed to run an
// extraction.
func (c *Config) ValidateExtract() error {
	var problems []string

	switch c.LLM.Provider {
	case "gemini":
		if c.Gemini.Key == "" {
			problems = append(problems, "gemini.key is required for provider gemini")
		}
	case "anthropic":
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required for provider anthropic")
		}
	case "ollama":
		if c.Ollama.URL == "" {
			problems = append(problems, "ollama.url is required for provider ollama")
		}
	default:
		problems = append(problems, "llm.provider must be one of "+strings.Join(Providers, ", "))
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		problems = append(problems, "llm.temperature must be between 0 and 2")
	}
	if c.LLM.ConcurrentRequests < 1 || c.LLM.ConcurrentRequests > 50 {
		problems = append(problems, "llm.concurrent_requests must be between 1 and 50")
	}

	return joinProblems(problems)
}

// ValidateServe checks the HTTP API settings.
func (c *Config) ValidateServe() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return eris.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	return nil
}

func joinProblems(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return eris.Errorf("config: %s", strings.Join(problems, "; "))
}
