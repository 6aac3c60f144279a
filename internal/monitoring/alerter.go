package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ecoparse/internal/config"
	"github.com/sells-group/ecoparse/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate AlertType = "run_failure_rate"
	AlertStaleRuns      AlertType = "stale_runs"
	AlertCostOverrun    AlertType = "cost_overrun"
)

// minFinishedRuns is the sample size below which the failure rate is not
// alerted on.
const minFinishedRuns = 5

// Alert is one breached threshold. Key identifies the condition so that a
// checker can tell a persisting alert from a new one.
type Alert struct {
	Type      AlertType      `json:"type"`
	Key       string         `json:"key"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Notification is the webhook payload: every alert of one check together
// with the run counts they were derived from.
type Notification struct {
	Source        string    `json:"source"`
	CollectedAt   time.Time `json:"collected_at"`
	LookbackHours int       `json:"lookback_hours"`
	RunsTotal     int       `json:"runs_total"`
	RunsFailed    int       `json:"runs_failed"`
	Alerts        []Alert   `json:"alerts"`
}

type rule func(cfg config.MonitorConfig, snap *MetricsSnapshot) *Alert

var rules = []rule{failureRateRule, staleRunsRule, costRule}

func failureRateRule(cfg config.MonitorConfig, snap *MetricsSnapshot) *Alert {
	finished := snap.RunsCompleted + snap.RunsStopped + snap.RunsFailed
	if cfg.FailureRateThreshold <= 0 || finished < minFinishedRuns || snap.FailRate <= cfg.FailureRateThreshold {
		return nil
	}
	return &Alert{
		Type:     AlertRunFailureRate,
		Key:      string(AlertRunFailureRate),
		Severity: "high",
		Message: fmt.Sprintf("Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
			snap.FailRate*100, cfg.FailureRateThreshold*100, snap.RunsFailed, finished, snap.LookbackHours),
		Details: map[string]any{
			"failure_rate": snap.FailRate,
			"threshold":    cfg.FailureRateThreshold,
			"failed":       snap.RunsFailed,
			"finished":     finished,
		},
	}
}

func staleRunsRule(cfg config.MonitorConfig, snap *MetricsSnapshot) *Alert {
	if len(snap.StaleRuns) == 0 {
		return nil
	}
	ids := slices.Clone(snap.StaleRuns)
	slices.Sort(ids)
	return &Alert{
		Type:     AlertStaleRuns,
		Key:      string(AlertStaleRuns) + ":" + strings.Join(ids, ","),
		Severity: "medium",
		Message: fmt.Sprintf("%d run(s) recorded as running without progress for over %d minutes; resume them with extract --resume",
			len(snap.StaleRuns), cfg.StaleRunMinutes),
		Details: map[string]any{"run_ids": snap.StaleRuns},
	}
}

func costRule(cfg config.MonitorConfig, snap *MetricsSnapshot) *Alert {
	if cfg.CostThresholdUSD <= 0 || snap.CostUSD <= cfg.CostThresholdUSD {
		return nil
	}
	return &Alert{
		Type:     AlertCostOverrun,
		Key:      string(AlertCostOverrun),
		Severity: "high",
		Message: fmt.Sprintf("Model cost $%.2f exceeds threshold $%.2f in last %dh",
			snap.CostUSD, cfg.CostThresholdUSD, snap.LookbackHours),
		Details: map[string]any{
			"cost_usd":      snap.CostUSD,
			"threshold_usd": cfg.CostThresholdUSD,
			"runs_total":    snap.RunsTotal,
		},
	}
}

// Alerter evaluates snapshots against the configured thresholds and posts
// notifications to the webhook.
type Alerter struct {
	cfg    config.MonitorConfig
	retry  resilience.RetryConfig
	client *http.Client
}

// NewAlerter creates an Alerter. Webhook posts are retried on transient
// failures.
func NewAlerter(cfg config.MonitorConfig) *Alerter {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.LogRetries("webhook", "notify")
	return &Alerter{
		cfg:    cfg,
		retry:  retry,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate returns the alerts triggered by snap, in rule order.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	now := time.Now().UTC()
	var alerts []Alert
	for _, r := range rules {
		if al := r(a.cfg, snap); al != nil {
			al.Timestamp = now
			alerts = append(alerts, *al)
		}
	}
	return alerts
}

// Notify posts alerts as one Notification. It is a no-op without a webhook
// URL or alerts, and reports whether a notification was delivered.
func (a *Alerter) Notify(ctx context.Context, snap *MetricsSnapshot, alerts []Alert) (bool, error) {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return false, nil
	}
	payload, err := json.Marshal(Notification{
		Source:        "ecoparse",
		CollectedAt:   snap.CollectedAt,
		LookbackHours: snap.LookbackHours,
		RunsTotal:     snap.RunsTotal,
		RunsFailed:    snap.RunsFailed,
		Alerts:        alerts,
	})
	if err != nil {
		return false, eris.Wrap(err, "monitoring: marshal notification")
	}

	err = resilience.Do(ctx, a.retry, func(ctx context.Context) error {
		return a.post(ctx, payload)
	})
	if err != nil {
		return false, err
	}
	zap.L().Info("monitoring: notification sent", zap.Int("alerts", len(alerts)))
	return true, nil
}

func (a *Alerter) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "monitoring: webhook request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resilience.StatusError("webhook", resp.StatusCode, body)
	}
	return nil
}
