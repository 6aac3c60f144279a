package model

// Result is the structured extraction outcome for one entity. Placeholder
// results carry no data and explain themselves in Notes.
type Result struct {
	Species      string           `json:"species"`
	Data         map[string]Value `json:"data"`
	Notes        string           `json:"notes,omitempty"`
	Placeholder  bool             `json:"placeholder,omitempty"`
	InputTokens  int64            `json:"input_tokens"`
	OutputTokens int64            `json:"output_tokens"`
}

// PlaceholderResult returns a zero-cost result carrying a diagnostic note.
func PlaceholderResult(species, notes string) Result {
	return Result{
		Species:     species,
		Data:        map[string]Value{},
		Notes:       notes,
		Placeholder: true,
	}
}

// TaskState is the terminal state of one extraction task.
type TaskState string

const (
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)
