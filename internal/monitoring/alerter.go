// Package monitoring turns run outcomes and run history into alerts and
// delivers them to a webhook. Alerts report; they never gate a run.
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

	"github.com/sells-group/support-elt/internal/config"
	"github.com/sells-group/support-elt/internal/pipeline"
	"github.com/sells-group/support-elt/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailed        AlertType = "run_failed"
	AlertRejectRate       AlertType = "reject_rate"
	AlertQualityViolation AlertType = "quality_violation"
	AlertFailureRate      AlertType = "failure_rate"
	AlertStaleMart        AlertType = "stale_mart"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// minFinishedRuns is the sample size below which the failure rate is not
// evaluated.
const minFinishedRuns = 5

// Alerter evaluates outcomes and history snapshots against the configured
// thresholds and sends alerts via webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
		},
	}
}

// Evaluate checks a single run outcome.
func (a *Alerter) Evaluate(out *pipeline.Outcome) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if out.State == pipeline.StateFailed {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailed,
			Severity: "high",
			Message: fmt.Sprintf("Run %s of %s failed in %s stage: %s",
				out.RunID, out.Pipeline, out.FailedStage, out.ErrorKind),
			Details: map[string]any{
				"run_id":     out.RunID,
				"dataset":    out.Dataset,
				"stage":      out.FailedStage,
				"error_kind": out.ErrorKind,
				"transient":  out.ErrorKind.Transient(),
				"error":      out.Error,
			},
			Timestamp: now,
		})
		return alerts
	}

	if rate := out.RejectRate(); a.cfg.RejectRateThreshold > 0 && rate > a.cfg.RejectRateThreshold {
		tr, _ := out.Report(pipeline.StageTransform)
		alerts = append(alerts, Alert{
			Type:     AlertRejectRate,
			Severity: "medium",
			Message: fmt.Sprintf("Run %s rejected %.1f%% of rows (%d of %d), threshold %.1f%%",
				out.RunID, rate*100, tr.Rejected, tr.RowsIn, a.cfg.RejectRateThreshold*100),
			Details: map[string]any{
				"run_id":     out.RunID,
				"rate":       rate,
				"threshold":  a.cfg.RejectRateThreshold,
				"rejections": out.Rejections,
			},
			Timestamp: now,
		})
	}

	if q := out.Quality; q != nil && q.Violations() > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertQualityViolation,
			Severity: "medium",
			Message: fmt.Sprintf("Run %s quality check: %d null ticket ids, %d invalid ages, %d invalid ratings",
				out.RunID, q.NullTicketID, q.InvalidAge, q.InvalidRating),
			Details: map[string]any{
				"run_id":          out.RunID,
				"total_records":   q.TotalRecords,
				"null_ticket_id":  q.NullTicketID,
				"invalid_age":     q.InvalidAge,
				"invalid_rating":  q.InvalidRating,
				"null_email_hash": q.NullEmailHash,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// EvaluateHistory checks a snapshot of recent runs.
func (a *Alerter) EvaluateHistory(snap *Snapshot) []Alert {
	var alerts []Alert

	finished := snap.Succeeded + snap.Failed
	if finished >= minFinishedRuns && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.Failed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.Failed,
				"finished":     finished,
			},
			Timestamp: time.Now().UTC(),
		})
	}

	// Failing runs with no success inside the window leave the mart stale.
	if snap.Failed > 0 && (snap.LastSuccess == nil ||
		snap.LastSuccess.Before(snap.CollectedAt.Add(-time.Duration(snap.LookbackHours)*time.Hour))) {
		details := map[string]any{"failed": snap.Failed, "lookback_hours": snap.LookbackHours}
		if snap.LastSuccess != nil {
			details["last_success"] = snap.LastSuccess.Format(time.RFC3339)
		}
		alerts = append(alerts, Alert{
			Type:      AlertStaleMart,
			Severity:  "high",
			Message:   fmt.Sprintf("No successful run in the last %dh (%d failed)", snap.LookbackHours, snap.Failed),
			Details:   details,
			Timestamp: time.Now().UTC(),
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
			return a.sendWebhook(ctx, alert)
		})
		if err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL. 429 and 5xx
// responses are transient and retried by SendAlerts.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		err := eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}
