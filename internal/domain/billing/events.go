package billing

import (
	"github.com/mspbill/backend/internal/domain/shared"
)

const (
	// EventTypeUsageRated is emitted once per event after charging
	EventTypeUsageRated = "billing.usage_rated"
)

// UsageRatedEvent announces a finalized rated event to downstream
// consumers (invoicing, aggregation).
type UsageRatedEvent struct {
	shared.BaseDomainEvent
	RatedEvent *RatedEvent `json:"rated_event"`
}

// NewUsageRatedEvent wraps a rated event for the bus
func NewUsageRatedEvent(re *RatedEvent) *UsageRatedEvent {
	return &UsageRatedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeUsageRated, "RatedEvent", re.ID, re.TenantID),
		RatedEvent:      re,
	}
}
