package rating

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UsageEventRepository persists and queries usage events.
//
// Save acts as a compare-and-insert on TransactionID at the persistence
// boundary: inserting an already-processed transaction ID must fail with
// ErrDuplicateEvent and leave no side effects. Idempotency is enforced here,
// not with an in-memory lock.
type UsageEventRepository interface {
	// Save persists a new usage event, rejecting duplicate transaction IDs
	Save(ctx context.Context, event *UsageEvent) error

	// UpdateStatus records the event's pipeline status transition
	UpdateStatus(ctx context.Context, id uuid.UUID, status EventStatus, reason string) error

	// FindByID retrieves a usage event by its ID
	FindByID(ctx context.Context, id uuid.UUID) (*UsageEvent, error)

	// FindByTransactionID retrieves a usage event by its idempotency key
	FindByTransactionID(ctx context.Context, tenantID uuid.UUID, transactionID string) (*UsageEvent, error)

	// FindByTenant retrieves usage events for a tenant matching the filter
	FindByTenant(ctx context.Context, tenantID uuid.UUID, filter EventFilter) ([]*UsageEvent, error)

	// FindUnrated retrieves events parked for manual rating
	FindUnrated(ctx context.Context, tenantID uuid.UUID, filter EventFilter) ([]*UsageEvent, error)

	// CountByStatus counts a tenant's events per pipeline status
	CountByStatus(ctx context.Context, tenantID uuid.UUID) (map[EventStatus]int64, error)
}

// EventFilter defines filtering options for usage event queries
type EventFilter struct {
	ClientID    *uuid.UUID
	UsageTypes  []UsageType
	ServiceType ServiceType
	Status      EventStatus
	StartTime   *time.Time
	EndTime     *time.Time
	BatchID     string
	Page        int
	PageSize    int
}

// DefaultEventFilter returns a filter with default pagination
func DefaultEventFilter() EventFilter {
	return EventFilter{Page: 1, PageSize: 100}
}

// WithTimeRange sets the time range for the filter
func (f EventFilter) WithTimeRange(start, end time.Time) EventFilter {
	f.StartTime = &start
	f.EndTime = &end
	return f
}

// WithClient scopes the filter to a single client
func (f EventFilter) WithClient(clientID uuid.UUID) EventFilter {
	f.ClientID = &clientID
	return f
}

// PricingRuleRepository is the read-only rule lookup used by rating.
// Rule creation and versioning belong to the administrative surface; the
// rating core only reads current effective versions.
type PricingRuleRepository interface {
	// FindByID retrieves a pricing rule by its ID
	FindByID(ctx context.Context, id uuid.UUID) (*PricingRule, error)

	// FindCandidateRules retrieves the active rules that could apply to a
	// (tenant, client, usage type) combination: client-specific rules for
	// the client plus the tenant's global rules
	FindCandidateRules(ctx context.Context, tenantID, clientID uuid.UUID, usageType UsageType) ([]*PricingRule, error)

	// FindByTenant retrieves all active rules for a tenant
	FindByTenant(ctx context.Context, tenantID uuid.UUID) ([]*PricingRule, error)
}

// UsagePositionTracker reports a client's cumulative usage position on a
// rule's axis within the current rating period. The position decides which
// tier an event starts in.
type UsagePositionTracker interface {
	// CumulativeUsage returns the client's period-to-date usage for the
	// usage type axis before the given timestamp
	CumulativeUsage(ctx context.Context, tenantID, clientID uuid.UUID, usageType UsageType, periodStart, before time.Time) (decimal.Decimal, error)
}
