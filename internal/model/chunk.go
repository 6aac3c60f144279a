package model

import "github.com/rotisserie/eris"

// Strategy selects how chunks are built for an entity.
type Strategy string

const (
	StrategyContextWindow Strategy = "context"
	StrategyFullPage      Strategy = "full-page"
	StrategyPartialPage   Strategy = "partial-page"
)

// ParseStrategy validates a strategy name from config or flags.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyContextWindow, StrategyFullPage, StrategyPartialPage:
		return Strategy(s), nil
	case "":
		return StrategyContextWindow, nil
	default:
		return "", eris.Errorf("model: unknown chunk strategy %q", s)
	}
}

// Chunk is a bounded text excerpt supplied as model input for one entity.
type Chunk struct {
	Entity   string   `json:"entity"`
	Text     string   `json:"text"`
	Strategy Strategy `json:"strategy"`
	Page     int      `json:"page,omitempty"`
}
