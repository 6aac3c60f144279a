package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/ecoparse/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker evaluates run health on demand or on a ticker. Across calls it
// remembers which alert keys were already delivered and posts only alerts
// that are new since the previous check.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitorConfig

	delivered map[string]bool
}

// NewChecker creates a Checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitorConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		delivered: make(map[string]bool),
	}
}

// Run checks once immediately and then every check interval until ctx is
// done. It must not run concurrently with Check.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	if ctx.Err() != nil {
		return
	}

	zap.L().Info("monitoring: run health checks started",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)
	c.Check(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			zap.L().Info("monitoring: run health checks stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check collects a snapshot and evaluates it. Alerts not delivered by a
// previous check are posted to the webhook. It returns the snapshot and
// every triggered alert, or nil, nil when collection fails.
func (c *Checker) Check(ctx context.Context) (*MetricsSnapshot, []Alert) {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		zap.L().Error("monitoring: collect run metrics", zap.Error(err))
		return nil, nil
	}

	alerts := c.alerter.Evaluate(snap)
	var fresh []Alert
	active := make(map[string]bool, len(alerts))
	for _, a := range alerts {
		active[a.Key] = true
		if !c.delivered[a.Key] {
			fresh = append(fresh, a)
		}
	}

	sent, err := c.alerter.Notify(ctx, snap, fresh)
	if err != nil {
		zap.L().Error("monitoring: deliver alerts", zap.Int("alerts", len(fresh)), zap.Error(err))
	}
	if sent {
		for _, a := range fresh {
			c.delivered[a.Key] = true
		}
	}
	// Resolved conditions alert again if they come back.
	for key := range c.delivered {
		if !active[key] {
			delete(c.delivered, key)
		}
	}

	zap.L().Debug("monitoring: check complete",
		zap.Int("runs", snap.RunsTotal),
		zap.Int("alerts", len(alerts)),
		zap.Int("new", len(fresh)),
	)
	return snap, alerts
}
