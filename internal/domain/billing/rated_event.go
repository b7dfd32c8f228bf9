package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mspbill/backend/internal/domain/allocation"
	"github.com/mspbill/backend/internal/domain/charging"
	"github.com/mspbill/backend/internal/domain/rating"
	"github.com/mspbill/backend/internal/domain/shared"
	"github.com/mspbill/backend/internal/domain/shared/valueobject"
)

// RatedEvent is the immutable, costed outcome of rating one usage event.
// Corrections are made by issuing adjustment events, never by mutating a
// rated event.
type RatedEvent struct {
	shared.BaseEntity

	TenantID      uuid.UUID
	ClientID      uuid.UUID
	EventID       uuid.UUID // source usage event
	TransactionID string
	BatchID       string

	UsageType   rating.UsageType
	ServiceType rating.ServiceType
	Quantity    decimal.Decimal
	Unit        rating.UsageUnit
	EventStart  time.Time
	EventEnd    time.Time

	// PeakQuantity is the portion rated under an elevated time-of-use
	// multiplier; the rest of Quantity is off-peak
	PeakQuantity decimal.Decimal

	RuleID   uuid.UUID
	TierID   *uuid.UUID // first tier the quantity landed in, nil for flat rules
	Segments []rating.TierSegment

	IncludedQuantity   decimal.Decimal
	OverageQuantity    decimal.Decimal
	BonusQuantity      decimal.Decimal
	CommittedQuantity  decimal.Decimal
	BucketConsumptions []allocation.BucketConsumption

	Currency    valueobject.Currency
	BaseCost    decimal.Decimal
	OverageCost decimal.Decimal
	Markup      decimal.Decimal
	Discount    decimal.Decimal
	Subtotal    valueobject.Money
	Tax         valueobject.Money
	TaxPending  bool
	Total       valueobject.Money

	RatedAt time.Time
}

// NewRatedEvent assembles the pipeline stages' outputs into the record
// handed to invoicing and aggregation. alloc may be nil when no pools
// apply to the event.
func NewRatedEvent(
	event *rating.UsageEvent,
	resolution *rating.RateResolution,
	alloc *allocation.AllocationResult,
	cost *charging.CostBreakdown,
	ratedAt time.Time,
) (*RatedEvent, error) {
	if event == nil || resolution == nil || cost == nil {
		return nil, shared.ErrInvalidInput
	}

	peak := decimal.Zero
	for _, seg := range resolution.Segments {
		if seg.Multiplier.GreaterThan(decimal.NewFromInt(1)) {
			peak = peak.Add(seg.Quantity)
		}
	}

	re := &RatedEvent{
		BaseEntity:    shared.NewBaseEntity(),
		TenantID:      event.TenantID,
		ClientID:      event.ClientID,
		EventID:       event.ID,
		TransactionID: event.TransactionID,
		BatchID:       event.BatchID,
		UsageType:     event.UsageType,
		ServiceType:   event.ServiceType,
		Quantity:      event.Quantity,
		Unit:          event.Unit,
		EventStart:    event.StartTime,
		EventEnd:      event.EndTime,
		PeakQuantity:  peak,
		RuleID:        resolution.Rule.ID,
		Segments:      resolution.Segments,

		IncludedQuantity:  event.Quantity,
		OverageQuantity:   decimal.Zero,
		BonusQuantity:     decimal.Zero,
		CommittedQuantity: decimal.Zero,

		Currency:    cost.Currency,
		BaseCost:    cost.BaseCost,
		OverageCost: cost.OverageCost,
		Markup:      cost.MarkupAmount,
		Discount:    cost.DiscountPctAmount.Add(cost.DiscountFixedAmount),
		Subtotal:    cost.Subtotal,
		Tax:         cost.Tax,
		TaxPending:  cost.TaxPending,
		Total:       cost.Total,
		RatedAt:     ratedAt,
	}

	if len(resolution.Segments) > 0 && resolution.Segments[0].TierID != uuid.Nil {
		tierID := resolution.Segments[0].TierID
		re.TierID = &tierID
	}

	if alloc != nil {
		re.IncludedQuantity = alloc.Included
		re.OverageQuantity = alloc.Overage
		re.BonusQuantity = alloc.Bonus
		re.CommittedQuantity = alloc.RoutedToCommitment
		re.BucketConsumptions = alloc.Consumptions
	}

	return re, nil
}

// PeriodDay returns the UTC day the event started, the aggregation
// bucket key for daily rollups.
func (r *RatedEvent) PeriodDay() time.Time {
	return r.EventStart.UTC().Truncate(24 * time.Hour)
}
