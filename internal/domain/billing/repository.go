package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mspbill/backend/internal/domain/rating"
)

// RatedEventRepository persists rated events and serves the reads the
// aggregator and reporting need. Rated events are append-only.
type RatedEventRepository interface {
	// Save persists a rated event
	Save(ctx context.Context, event *RatedEvent) error

	// FindByEventID retrieves the rated outcome for a source usage event
	FindByEventID(ctx context.Context, eventID uuid.UUID) (*RatedEvent, error)

	// FindForPeriod retrieves a tenant's rated events within a time range,
	// ordered by event start time
	FindForPeriod(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]*RatedEvent, error)

	// FindTaxPending retrieves rated events awaiting tax reconciliation
	FindTaxPending(ctx context.Context, tenantID uuid.UUID, limit int) ([]*RatedEvent, error)

	// SumTotals sums rated-event totals per (client, usage type) for the
	// period, the source of truth the aggregator reconciles against
	SumTotals(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]RatedTotal, error)
}

// RatedTotal is one (client, usage type, service type) slice of summed
// rated output for a period
type RatedTotal struct {
	ClientID     uuid.UUID
	UsageType    rating.UsageType
	ServiceType  rating.ServiceType
	EventCount   int64
	Quantity     decimal.Decimal
	OverageQty   decimal.Decimal
	TotalRevenue decimal.Decimal
	TotalTax     decimal.Decimal
}
