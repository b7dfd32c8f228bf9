package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mspbill/backend/internal/domain/alerting"
)

// webhookPayload is the wire form of an alert event delivery
type webhookPayload struct {
	AlertID         string `json:"alert_id"`
	TenantID        string `json:"tenant_id"`
	EntityKind      string `json:"entity_kind"`
	EntityID        string `json:"entity_id"`
	Status          string `json:"status"`
	CurrentValue    string `json:"current_value"`
	Threshold       string `json:"threshold"`
	EscalationLevel int    `json:"escalation_level"`
	Timestamp       string `json:"timestamp"`
}

// WebhookNotifier delivers alert events to a configured webhook endpoint.
// Delivery is at-most-once from the monitor's point of view; the receiving
// side owns retries and channel fan-out.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewWebhookNotifier creates a notifier posting to the given URL
func NewWebhookNotifier(url string, timeout time.Duration, logger *zap.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Deliver posts the alert event as JSON. A non-2xx response is an error;
// the caller decides whether delivery failure matters.
func (n *WebhookNotifier) Deliver(ctx context.Context, event *alerting.AlertEvent) error {
	body, err := json.Marshal(webhookPayload{
		AlertID:         event.AlertID.String(),
		TenantID:        event.TenantID.String(),
		EntityKind:      string(event.EntityKind),
		EntityID:        event.EntityID.String(),
		Status:          string(event.Status),
		CurrentValue:    event.CurrentValue.String(),
		Threshold:       event.Threshold.String(),
		EscalationLevel: event.EscalationLevel,
		Timestamp:       event.Timestamp.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("notification: failed to marshal alert event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notification: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notification: webhook delivery failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification: webhook returned %d", resp.StatusCode)
	}

	n.logger.Debug("Alert delivered to webhook",
		zap.String("alert_id", event.AlertID.String()),
		zap.String("status", string(event.Status)),
		zap.Int("escalation_level", event.EscalationLevel),
	)
	return nil
}
