// Package cost estimates the USD cost of model calls from token counts.
package cost

import "strings"

// ModelRate is token pricing in USD per million tokens.
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Rates maps model identifiers to prices. Local providers such as Ollama
// are simply absent and cost nothing.
type Rates map[string]ModelRate

// Calculator computes costs for model usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Tokens returns the cost of one call or an aggregate of calls to model.
// Unknown models cost 0.
func (c *Calculator) Tokens(model string, input, output int64) float64 {
	rate, ok := c.rate(model)
	if !ok {
		return 0
	}
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// Known reports whether model has a price.
func (c *Calculator) Known(model string) bool {
	_, ok := c.rate(model)
	return ok
}

// rate looks model up as given, then without a "models/" prefix.
func (c *Calculator) rate(model string) (ModelRate, bool) {
	if c == nil {
		return ModelRate{}, false
	}
	if r, ok := c.rates[model]; ok {
		return r, true
	}
	r, ok := c.rates[strings.TrimPrefix(model, "models/")]
	return r, ok
}
