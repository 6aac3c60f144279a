package model

import "time"

// RunStatus is the lifecycle state of an extraction run.
type RunStatus string

const (
	RunStatusIdle      RunStatus = "idle"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusStopped   RunStatus = "stopped"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether no further work happens in this state without a
// resume.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusStopped, RunStatusFailed:
		return true
	default:
		return false
	}
}

// RunTotals are the cumulative counters of a logical run across resumptions.
type RunTotals struct {
	Processed        int64   `json:"processed"`
	InputTokens      int64   `json:"input_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	ElapsedMs        int64   `json:"elapsed_ms"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// Add returns the sum of two totals.
func (t RunTotals) Add(o RunTotals) RunTotals {
	return RunTotals{
		Processed:        t.Processed + o.Processed,
		InputTokens:      t.InputTokens + o.InputTokens,
		OutputTokens:     t.OutputTokens + o.OutputTokens,
		ElapsedMs:        t.ElapsedMs + o.ElapsedMs,
		EstimatedCostUSD: t.EstimatedCostUSD + o.EstimatedCostUSD,
	}
}

// RunSettings is the configuration snapshot recorded with a run.
type RunSettings struct {
	Provider      string   `json:"provider"`
	Model         string   `json:"model"`
	Temperature   float64  `json:"temperature"`
	Concurrency   int      `json:"concurrency"`
	Strategy      Strategy `json:"strategy"`
	ContextBefore int      `json:"context_before"`
	ContextAfter  int      `json:"context_after"`
	TopChars      int      `json:"top_chars"`
	BottomChars   int      `json:"bottom_chars"`
	Pages         string   `json:"pages,omitempty"`
}

// Run is a persisted extraction run.
type Run struct {
	ID        string        `json:"id"`
	Document  string        `json:"document"`
	CharCount int           `json:"char_count"`
	Project   ProjectConfig `json:"project"`
	Settings  RunSettings   `json:"settings"`
	Entities  []string      `json:"entities"`
	Status    RunStatus     `json:"status"`
	Totals    RunTotals     `json:"totals"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}
