package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const projectYAML = `
project_name: Red list
data_fields:
  - name: status
    description: Threat category
    validation_values: [LC, NT, VU, EN, CR]
  - name: trend
    description: Population trend
examples:
  - input: "Lynx lynx is endangered (EN) and declining."
    output:
      status: EN
      trend: declining
    explainer: Status is stated explicitly.
`

func TestLoadProject(t *testing.T) {
	path := filepath.Join(t.TempDir(), "project.yaml")
	require.NoError(t, os.WriteFile(path, []byte(projectYAML), 0o644))

	p, err := LoadProject(path)
	require.NoError(t, err)
	assert.Equal(t, "Red list", p.ProjectName)
	require.Len(t, p.DataFields, 2)
	assert.Equal(t, []string{"LC", "NT", "VU", "EN", "CR"}, p.DataFields[0].ValidationValues)
	require.Len(t, p.Examples, 1)
	assert.Equal(t, "EN", p.Examples[0].Output["status"])

	s, err := p.Schema()
	require.NoError(t, err)
	assert.Equal(t, []string{"status", "trend"}, s.Names())
}

func TestLoadProject_Missing(t *testing.T) {
	_, err := LoadProject(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read project")
}

func TestParseProject_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "bad yaml", yaml: "project_name: [", wantErr: "parse project yaml"},
		{name: "no name", yaml: "data_fields: [{name: a}]", wantErr: "project_name is required"},
		{name: "no fields", yaml: "project_name: x", wantErr: "at least one data field"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseProject([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFormatExamples(t *testing.T) {
	t.Parallel()

	p := ProjectConfig{Examples: []Example{
		{Input: "a", Output: map[string]any{"k": "v"}, Explainer: "why"},
		{Input: "b", Output: map[string]any{"k": "w"}},
	}}
	got := p.FormatExamples()
	assert.Equal(t, "Input:\na\nOutput:\n{\n  \"k\": \"v\"\n}\nExplainer:\nwhy\n\n---\n\nInput:\nb\nOutput:\n{\n  \"k\": \"w\"\n}", got)

	assert.Empty(t, (&ProjectConfig{}).FormatExamples())
}

func TestNameMatchEntity(t *testing.T) {
	t.Parallel()

	m := NameMatch{Name: "Lynx lynx", MatchType: MatchExact, MatchedCanonical: "Lynx lynx"}
	e := m.Entity()
	assert.Equal(t, "Lynx lynx", e.Name)
	assert.Equal(t, MatchExact, e.Metadata["match_type"])
}

func TestEntitiesFromNames(t *testing.T) {
	t.Parallel()

	got := EntitiesFromNames([]string{"A b", " ", "A b", "C d "})
	assert.Equal(t, []string{"A b", "C d"}, EntityNames(got))
}

func TestRunStatusTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, RunStatusIdle.Terminal())
	assert.False(t, RunStatusRunning.Terminal())
	assert.True(t, RunStatusCompleted.Terminal())
	assert.True(t, RunStatusStopped.Terminal())
	assert.True(t, RunStatusFailed.Terminal())
}

func TestParseStrategy(t *testing.T) {
	t.Parallel()

	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyContextWindow, s)

	s, err = ParseStrategy("partial-page")
	require.NoError(t, err)
	assert.Equal(t, StrategyPartialPage, s)

	_, err = ParseStrategy("everything")
	require.Error(t, err)
}

func TestRunTotalsAdd(t *testing.T) {
	t.Parallel()

	a := RunTotals{Processed: 2, InputTokens: 10, OutputTokens: 5, ElapsedMs: 100, EstimatedCostUSD: 0.5}
	b := RunTotals{Processed: 1, InputTokens: 3, OutputTokens: 2, ElapsedMs: 50, EstimatedCostUSD: 0.25}
	assert.Equal(t, RunTotals{Processed: 3, InputTokens: 13, OutputTokens: 7, ElapsedMs: 150, EstimatedCostUSD: 0.75}, a.Add(b))
}
