package notification

import (
	"context"

	"go.uber.org/zap"

	"github.com/mspbill/backend/internal/domain/alerting"
	"github.com/mspbill/backend/internal/infrastructure/config"
)

// LoggingNotifier writes alert events to the structured log. It is the
// delivery path when no webhook is configured, keeping alerts visible in
// environments without an external receiver.
type LoggingNotifier struct {
	logger *zap.Logger
}

// NewLoggingNotifier creates a log-only notifier
func NewLoggingNotifier(logger *zap.Logger) *LoggingNotifier {
	return &LoggingNotifier{logger: logger}
}

// Deliver logs the alert event at warn level
func (n *LoggingNotifier) Deliver(_ context.Context, event *alerting.AlertEvent) error {
	n.logger.Warn("Usage alert",
		zap.String("alert_id", event.AlertID.String()),
		zap.String("tenant_id", event.TenantID.String()),
		zap.String("entity_kind", string(event.EntityKind)),
		zap.String("entity_id", event.EntityID.String()),
		zap.String("status", string(event.Status)),
		zap.String("current_value", event.CurrentValue.String()),
		zap.String("threshold", event.Threshold.String()),
		zap.Int("escalation_level", event.EscalationLevel),
		zap.Time("timestamp", event.Timestamp),
	)
	return nil
}

// NewNotifierFromConfig returns the webhook notifier when a webhook URL is
// configured, the logging notifier otherwise.
func NewNotifierFromConfig(cfg config.AlertingConfig, logger *zap.Logger) alerting.Notifier {
	if cfg.WebhookURL != "" {
		return NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookTimeout, logger)
	}
	return NewLoggingNotifier(logger)
}
