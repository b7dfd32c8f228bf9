package event

import (
	"github.com/mspbill/backend/internal/domain/alerting"
	"github.com/mspbill/backend/internal/domain/billing"
	"github.com/mspbill/backend/internal/domain/commitment"
)

// RegisterAllEvents registers all domain event types with the serializer.
// This is required for the OutboxProcessor to deserialize events from the
// outbox table.
func RegisterAllEvents(serializer *EventSerializer) {
	// Billing events
	serializer.Register(billing.EventTypeUsageRated, &billing.UsageRatedEvent{})

	// Commitment events
	serializer.Register(commitment.EventTypePeriodClosed, &commitment.PeriodClosedEvent{})

	// Alerting events
	serializer.Register(alerting.EventTypeAlertTriggered, &alerting.AlertTriggeredEvent{})
}
