package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/costar-cli/internal/config"
	"github.com/sells-group/costar-cli/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate      AlertType = "run_failure_rate"
	AlertPropertyFailureRate AlertType = "property_failure_rate"
	AlertCallBudget          AlertType = "call_budget"
)

// Minimum sample sizes before a rate is judged.
const (
	minFinishedRuns = 3
	minProperties   = 50
)

// Alert is one breached threshold.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Notification is the webhook body: every alert raised by one check plus the
// snapshot that raised them.
type Notification struct {
	Alerts  []Alert          `json:"alerts"`
	Metrics *MetricsSnapshot `json:"metrics,omitempty"`
	SentAt  time.Time        `json:"sent_at"`
}

// rule inspects a snapshot and returns an alert, or nil when healthy.
type rule func(cfg config.MonitoringConfig, snap *MetricsSnapshot) *Alert

var rules = []rule{runFailureRule, propertyFailureRule, callBudgetRule}

func runFailureRule(cfg config.MonitoringConfig, snap *MetricsSnapshot) *Alert {
	finished := snap.RunsComplete + snap.RunsFailed
	if finished < minFinishedRuns || snap.RunFailRate <= cfg.FailureRateThreshold {
		return nil
	}
	return &Alert{
		Type:     AlertRunFailureRate,
		Severity: "high",
		Message: fmt.Sprintf("Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
			snap.RunFailRate*100, cfg.FailureRateThreshold*100, snap.RunsFailed, finished, snap.LookbackHours),
		Details: map[string]any{
			"failure_rate": snap.RunFailRate,
			"threshold":    cfg.FailureRateThreshold,
			"failed":       snap.RunsFailed,
			"finished":     finished,
		},
	}
}

// A rising property failure rate usually means throttling or a challenge page.
func propertyFailureRule(cfg config.MonitoringConfig, snap *MetricsSnapshot) *Alert {
	if cfg.PropertyFailureThreshold <= 0 || snap.PropertiesProcessed < minProperties ||
		snap.PropertyFailRate <= cfg.PropertyFailureThreshold {
		return nil
	}
	return &Alert{
		Type:     AlertPropertyFailureRate,
		Severity: "medium",
		Message: fmt.Sprintf("Property failure rate %.1f%% exceeds threshold %.1f%% (%d of %d properties in last %dh)",
			snap.PropertyFailRate*100, cfg.PropertyFailureThreshold*100,
			snap.PropertyFailures, snap.PropertiesProcessed, snap.LookbackHours),
		Details: map[string]any{
			"failure_rate": snap.PropertyFailRate,
			"threshold":    cfg.PropertyFailureThreshold,
			"failures":     snap.PropertyFailures,
			"processed":    snap.PropertiesProcessed,
		},
	}
}

func callBudgetRule(cfg config.MonitoringConfig, snap *MetricsSnapshot) *Alert {
	if cfg.CallBudget <= 0 || snap.APICalls <= cfg.CallBudget {
		return nil
	}
	return &Alert{
		Type:     AlertCallBudget,
		Severity: "high",
		Message:  fmt.Sprintf("%d API calls exceed budget %d in last %dh", snap.APICalls, cfg.CallBudget, snap.LookbackHours),
		Details: map[string]any{
			"api_calls":  snap.APICalls,
			"budget":     cfg.CallBudget,
			"by_op":      snap.CallsByOperation,
			"runs_total": snap.RunsTotal,
		},
	}
}

// Alerter evaluates snapshots against the configured thresholds and posts
// breaches to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
	now    func() time.Time
}

// NewAlerter creates an Alerter for cfg.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			OnRetry:        resilience.RetryLogger("monitoring", "webhook"),
		},
		now: time.Now,
	}
}

// Evaluate returns the alerts snap raises, in rule order.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	now := a.now().UTC()
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
// URL or alerts. 5xx and 429 responses are retried.
func (a *Alerter) Notify(ctx context.Context, snap *MetricsSnapshot, alerts []Alert) error {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return nil
	}

	body, err := json.Marshal(Notification{Alerts: alerts, Metrics: snap, SentAt: a.now().UTC()})
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal notification")
	}

	_, err = resilience.DoVal(ctx, a.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.post(ctx, body)
	})
	return err
}

func (a *Alerter) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return resilience.Permanent(eris.Wrap(err, "monitoring: create webhook request"))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return resilience.NewTransientError(eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode), resp.StatusCode)
	case resp.StatusCode >= 400:
		return resilience.Permanent(eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode))
	}
	return nil
}
