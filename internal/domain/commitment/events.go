package commitment

import (
	"github.com/mspbill/backend/internal/domain/shared"
)

const (
	// EventTypePeriodClosed is emitted once per commitment period close
	EventTypePeriodClosed = "commitment.period_closed"
)

// PeriodClosedEvent announces the outcome of a closed commitment period,
// penalty or bonus included, to downstream billing consumers.
type PeriodClosedEvent struct {
	shared.BaseDomainEvent
	Evaluation *PeriodEvaluation `json:"evaluation"`
}

// NewPeriodClosedEvent wraps a period evaluation for the bus
func NewPeriodClosedEvent(c *UsageCommitment, eval *PeriodEvaluation) *PeriodClosedEvent {
	return &PeriodClosedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypePeriodClosed, "UsageCommitment", c.ID, c.TenantID),
		Evaluation:      eval,
	}
}
