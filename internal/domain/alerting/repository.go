package alerting

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists alert watchers
type Repository interface {
	Save(ctx context.Context, alert *UsageAlert) error
	FindByID(ctx context.Context, id uuid.UUID) (*UsageAlert, error)

	// FindByEntity retrieves the active watchers bound to an entity,
	// evaluated after every mutation of that entity
	FindByEntity(ctx context.Context, tenantID uuid.UUID, kind EntityKind, entityID uuid.UUID) ([]*UsageAlert, error)

	// FindTriggered retrieves unacknowledged triggered watchers for the
	// escalation sweep
	FindTriggered(ctx context.Context, tenantID uuid.UUID) ([]*UsageAlert, error)
}

// Notifier is the outbound edge to the notification collaborator. The
// monitor's contract ends at "alert event emitted"; retries and channel
// fan-out are the collaborator's concern.
type Notifier interface {
	Deliver(ctx context.Context, event *AlertEvent) error
}
