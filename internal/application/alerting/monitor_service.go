package alerting

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domainalerting "github.com/mspbill/backend/internal/domain/alerting"
)

// MonitorService owns the alert lifecycle outside the rating hot path:
// the escalation sweep for unacknowledged triggers and operator
// acknowledgement. Escalation events ride the watcher aggregate into the
// repository, which commits them to the outbox alongside the save.
type MonitorService struct {
	alerts   domainalerting.Repository
	notifier domainalerting.Notifier
	logger   *zap.Logger
}

// NewMonitorService creates the monitor
func NewMonitorService(alerts domainalerting.Repository, notifier domainalerting.Notifier, logger *zap.Logger) *MonitorService {
	return &MonitorService{alerts: alerts, notifier: notifier, logger: logger}
}

// EscalateOverdue walks a tenant's triggered watchers and escalates the
// ones that sat unacknowledged past their delay. Returns how many
// escalation events were handed to the notification collaborator.
func (s *MonitorService) EscalateOverdue(ctx context.Context, tenantID uuid.UUID, now time.Time) (int, error) {
	triggered, err := s.alerts.FindTriggered(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	escalated := 0
	for _, watcher := range triggered {
		if ctx.Err() != nil {
			return escalated, ctx.Err()
		}
		event := watcher.Escalate(now)
		if event == nil {
			continue
		}
		if err := s.alerts.Save(ctx, watcher); err != nil {
			s.logger.Warn("alert save failed after escalation",
				zap.String("alert_id", watcher.ID.String()), zap.Error(err))
			continue
		}
		if s.notifier != nil {
			if err := s.notifier.Deliver(ctx, event); err != nil {
				s.logger.Warn("escalation delivery handoff failed",
					zap.String("alert_id", watcher.ID.String()), zap.Error(err))
			}
		}
		escalated++
	}
	return escalated, nil
}

// Acknowledge records an operator acknowledging a triggered alert,
// stopping further escalation
func (s *MonitorService) Acknowledge(ctx context.Context, alertID uuid.UUID, by string, now time.Time) error {
	watcher, err := s.alerts.FindByID(ctx, alertID)
	if err != nil {
		return err
	}
	if err := watcher.Acknowledge(by, now); err != nil {
		return err
	}
	return s.alerts.Save(ctx, watcher)
}
