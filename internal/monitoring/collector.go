// Package monitoring watches extraction run health and posts alerts to a
// webhook when thresholds are breached.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ecoparse/internal/model"
	"github.com/sells-group/ecoparse/internal/store"
)

// MetricsSnapshot holds a point-in-time view of run health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal     int     `json:"runs_total"`
	RunsCompleted int     `json:"runs_completed"`
	RunsStopped   int     `json:"runs_stopped"`
	RunsFailed    int     `json:"runs_failed"`
	RunsRunning   int     `json:"runs_running"`
	FailRate      float64 `json:"fail_rate"`
	CostUSD       float64 `json:"cost_usd"`
	Species       int64   `json:"species_processed"`
	AvgTokens     int64   `json:"avg_tokens"`

	// StaleRuns are recorded as running but neither active nor updated
	// within the stale threshold, typically left behind by a crash.
	StaleRuns []string `json:"stale_runs,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the store method the collector needs.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector gathers metrics from the run store.
type Collector struct {
	runs   RunLister
	active func(runID string) bool
	stale  time.Duration
	now    func() time.Time
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithActive reports which runs are executing in this process. Active runs
// are never stale.
func WithActive(fn func(runID string) bool) CollectorOption {
	return func(c *Collector) { c.active = fn }
}

// WithStaleAfter sets how long a running run may go without an update
// before it counts as stale. Zero disables the check.
func WithStaleAfter(d time.Duration) CollectorOption {
	return func(c *Collector) { c.stale = d }
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLister, opts ...CollectorOption) *Collector {
	c := &Collector{runs: runs, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect gathers a snapshot of run metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.runs.ListRuns(ctx, store.RunFilter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	var tokens int64
	for _, r := range runs {
		if r.CreatedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		switch r.Status {
		case model.RunStatusCompleted:
			snap.RunsCompleted++
		case model.RunStatusStopped:
			snap.RunsStopped++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning:
			snap.RunsRunning++
			if c.isStale(r, now) {
				snap.StaleRuns = append(snap.StaleRuns, r.ID)
			}
		}
		snap.CostUSD += r.Totals.EstimatedCostUSD
		snap.Species += r.Totals.Processed
		tokens += r.Totals.InputTokens + r.Totals.OutputTokens
	}

	finished := snap.RunsCompleted + snap.RunsStopped + snap.RunsFailed
	if finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if snap.RunsTotal > 0 {
		snap.AvgTokens = tokens / int64(snap.RunsTotal)
	}
	return snap, nil
}

func (c *Collector) isStale(r model.Run, now time.Time) bool {
	if c.stale <= 0 {
		return false
	}
	if c.active != nil && c.active(r.ID) {
		return false
	}
	return now.Sub(r.UpdatedAt) > c.stale
}
