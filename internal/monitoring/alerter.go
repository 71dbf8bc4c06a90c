package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intellimesh/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate       AlertType = "failure_rate"
	AlertPermanentFailures AlertType = "permanent_failures"
	AlertCostOverrun       AlertType = "cost_overrun"
)

// minFinishedForRate is the number of finished runs needed before the
// failure rate is trusted.
const minFinishedForRate = 5

// Alert is the JSON body posted to the webhook.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// rule inspects a snapshot and reports whether it should raise an alert.
type rule func(cfg config.MonitoringConfig, snap *MetricsSnapshot) (Alert, bool)

// rules run in this order, so alerts are always reported in it.
var rules = []rule{failureRate, permanentFailures, costOverrun}

func failureRate(cfg config.MonitoringConfig, snap *MetricsSnapshot) (Alert, bool) {
	finished := snap.Complete + snap.Failed
	limit := cfg.FailureRateThreshold
	if limit <= 0 || finished < minFinishedForRate || snap.FailRate <= limit {
		return Alert{}, false
	}
	return Alert{
		Type:     AlertFailureRate,
		Severity: "high",
		Message: fmt.Sprintf("Research failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished%s)",
			snap.FailRate*100, limit*100, snap.Failed, finished, window(snap)),
		Details: map[string]any{
			"failure_rate": snap.FailRate,
			"threshold":    limit,
			"failed":       snap.Failed,
			"finished":     finished,
			"transient":    snap.Transient,
		},
	}, true
}

// permanentFailures fires on any permanent error; these usually mean a
// revoked key or a bad endpoint rather than a flaky provider.
func permanentFailures(_ config.MonitoringConfig, snap *MetricsSnapshot) (Alert, bool) {
	if snap.Permanent == 0 {
		return Alert{}, false
	}
	return Alert{
		Type:     AlertPermanentFailures,
		Severity: "medium",
		Message:  fmt.Sprintf("%d run(s) failed with a permanent error%s", snap.Permanent, window(snap)),
		Details:  map[string]any{"permanent": snap.Permanent, "failed": snap.Failed},
	}, true
}

func costOverrun(cfg config.MonitoringConfig, snap *MetricsSnapshot) (Alert, bool) {
	limit := cfg.CostThresholdUSD
	if limit <= 0 || snap.CostUSD <= limit {
		return Alert{}, false
	}
	return Alert{
		Type:     AlertCostOverrun,
		Severity: "high",
		Message:  fmt.Sprintf("API cost $%.2f exceeds threshold $%.2f%s", snap.CostUSD, limit, window(snap)),
		Details: map[string]any{
			"cost_usd":      snap.CostUSD,
			"threshold_usd": limit,
			"total_runs":    snap.Total,
		},
	}, true
}

func window(snap *MetricsSnapshot) string {
	if snap.LookbackHours <= 0 {
		return ""
	}
	return fmt.Sprintf(" in last %dh", snap.LookbackHours)
}

// Alerter turns snapshots into alerts and posts them to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	now    func() time.Time
}

// NewAlerter creates an Alerter for cfg.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// Evaluate returns the alerts raised by snap, stamped with the current time.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	at := a.now().UTC()
	for _, r := range rules {
		if alert, ok := r(a.cfg, snap); ok {
			alert.Timestamp = at
			alerts = append(alerts, alert)
		}
	}
	return alerts
}

// SendAlerts posts each alert to the webhook and returns how many were
// delivered. Nothing is sent when no webhook is configured.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		log := zap.L().With(zap.String("type", string(alert.Type)))
		if err := a.post(ctx, alert); err != nil {
			log.Error("monitoring: alert not delivered", zap.Error(err))
			continue
		}
		log.Info("monitoring: alert sent", zap.String("severity", alert.Severity))
		sent++
	}
	return sent
}

func (a *Alerter) post(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: encode alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: post webhook")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= http.StatusBadRequest {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
