package alerting

import (
	"github.com/mspbill/backend/internal/domain/shared"
)

const (
	// EventTypeAlertTriggered is emitted when a watcher delivers an alert
	EventTypeAlertTriggered = "alerting.alert_triggered"
)

// AlertTriggeredEvent carries a delivered alert event onto the bus so
// consumers beyond the notifier (audit, dashboards) can observe it.
type AlertTriggeredEvent struct {
	shared.BaseDomainEvent
	Alert *AlertEvent `json:"alert"`
}

// NewAlertTriggeredEvent wraps an alert event for the bus
func NewAlertTriggeredEvent(event *AlertEvent) *AlertTriggeredEvent {
	return &AlertTriggeredEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeAlertTriggered, "UsageAlert", event.AlertID, event.TenantID),
		Alert:           event,
	}
}
