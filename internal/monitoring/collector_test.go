package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ecoparse/internal/model"
	"github.com/sells-group/ecoparse/internal/store"
)

type mockRuns struct {
	runs []model.Run
	err  error
}

func (m *mockRuns) ListRuns(_ context.Context, filter store.RunFilter) ([]model.Run, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []model.Run
	for _, r := range m.runs {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func fixedNow(c *Collector, now time.Time) *Collector {
	c.now = func() time.Time { return now }
	return c
}

func TestCollector_Empty(t *testing.T) {
	c := NewCollector(&mockRuns{})

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 0, snap.RunsTotal)
	assert.Equal(t, 0.0, snap.FailRate)
	assert.Equal(t, 0.0, snap.CostUSD)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.False(t, snap.CollectedAt.IsZero())
	assert.Empty(t, snap.StaleRuns)
}

func TestCollector_RunMetrics(t *testing.T) {
	now := time.Date(2026, 5, 6, 12, 0, 0, 0, time.UTC)
	runs := &mockRuns{runs: []model.Run{
		{ID: "1", Status: model.RunStatusCompleted, CreatedAt: now.Add(-time.Hour),
			Totals: model.RunTotals{Processed: 10, InputTokens: 4000, OutputTokens: 1000, EstimatedCostUSD: 0.5}},
		{ID: "2", Status: model.RunStatusStopped, CreatedAt: now.Add(-2 * time.Hour),
			Totals: model.RunTotals{Processed: 4, InputTokens: 1500, OutputTokens: 500, EstimatedCostUSD: 0.25}},
		{ID: "3", Status: model.RunStatusFailed, CreatedAt: now.Add(-3 * time.Hour)},
		{ID: "4", Status: model.RunStatusIdle, CreatedAt: now.Add(-30 * time.Minute)},
		// Outside lookback window.
		{ID: "5", Status: model.RunStatusFailed, CreatedAt: now.Add(-48 * time.Hour),
			Totals: model.RunTotals{EstimatedCostUSD: 9}},
	}}

	c := fixedNow(NewCollector(runs), now)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.RunsTotal)
	assert.Equal(t, 1, snap.RunsCompleted)
	assert.Equal(t, 1, snap.RunsStopped)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.InDelta(t, 1.0/3.0, snap.FailRate, 0.001)
	assert.InDelta(t, 0.75, snap.CostUSD, 0.001)
	assert.Equal(t, int64(14), snap.Species)
	assert.Equal(t, int64(1750), snap.AvgTokens) // 7000 / 4
	assert.Equal(t, now, snap.CollectedAt)
}

func TestCollector_StaleRuns(t *testing.T) {
	now := time.Date(2026, 5, 6, 12, 0, 0, 0, time.UTC)
	runs := &mockRuns{runs: []model.Run{
		{ID: "old", Status: model.RunStatusRunning, CreatedAt: now.Add(-3 * time.Hour), UpdatedAt: now.Add(-2 * time.Hour)},
		{ID: "fresh", Status: model.RunStatusRunning, CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-5 * time.Minute)},
		{ID: "live", Status: model.RunStatusRunning, CreatedAt: now.Add(-3 * time.Hour), UpdatedAt: now.Add(-2 * time.Hour)},
	}}

	c := fixedNow(NewCollector(runs,
		WithStaleAfter(time.Hour),
		WithActive(func(id string) bool { return id == "live" }),
	), now)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 3, snap.RunsRunning)
	assert.Equal(t, []string{"old"}, snap.StaleRuns)
}

func TestCollector_StaleCheckDisabled(t *testing.T) {
	now := time.Date(2026, 5, 6, 12, 0, 0, 0, time.UTC)
	runs := &mockRuns{runs: []model.Run{
		{ID: "old", Status: model.RunStatusRunning, CreatedAt: now.Add(-3 * time.Hour), UpdatedAt: now.Add(-2 * time.Hour)},
	}}

	snap, err := fixedNow(NewCollector(runs), now).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Empty(t, snap.StaleRuns)
}

func TestCollector_ListError(t *testing.T) {
	c := NewCollector(&mockRuns{err: errors.New("db down")})
	_, err := c.Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list runs")
}

func TestCollector_FailureRateZeroFinished(t *testing.T) {
	now := time.Now().UTC()
	runs := &mockRuns{runs: []model.Run{
		{ID: "1", Status: model.RunStatusIdle, CreatedAt: now.Add(-time.Hour)},
		{ID: "2", Status: model.RunStatusRunning, CreatedAt: now.Add(-2 * time.Hour), UpdatedAt: now},
	}}

	snap, err := NewCollector(runs).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, 0.0, snap.FailRate)
}
