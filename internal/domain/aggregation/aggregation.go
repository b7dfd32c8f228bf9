package aggregation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mspbill/backend/internal/domain/rating"
	"github.com/mspbill/backend/internal/domain/shared"
	"github.com/mspbill/backend/internal/domain/shared/valueobject"
)

// AggregationLevel is the rollup granularity
type AggregationLevel string

const (
	LevelDaily   AggregationLevel = "DAILY"
	LevelWeekly  AggregationLevel = "WEEKLY"
	LevelMonthly AggregationLevel = "MONTHLY"
)

// IsValid validates the aggregation level
func (l AggregationLevel) IsValid() bool {
	return l == LevelDaily || l == LevelWeekly || l == LevelMonthly
}

// PeriodStart truncates ts to the start of the level's period, in UTC
func (l AggregationLevel) PeriodStart(ts time.Time) time.Time {
	ts = ts.UTC()
	switch l {
	case LevelWeekly:
		day := ts.Truncate(24 * time.Hour)
		offset := (int(day.Weekday()) + 6) % 7 // weeks start Monday
		return day.AddDate(0, 0, -offset)
	case LevelMonthly:
		return time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return ts.Truncate(24 * time.Hour)
	}
}

// PeriodEnd returns the exclusive end of the period containing ts
func (l AggregationLevel) PeriodEnd(ts time.Time) time.Time {
	start := l.PeriodStart(ts)
	switch l {
	case LevelWeekly:
		return start.AddDate(0, 0, 7)
	case LevelMonthly:
		return start.AddDate(0, 1, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}

// Key is the unique tuple an aggregation row is written under. One row
// exists per key; recomputation overwrites it rather than duplicating it.
type Key struct {
	TenantID    uuid.UUID
	ClientID    uuid.UUID
	UsageType   rating.UsageType
	ServiceType rating.ServiceType
	Level       AggregationLevel
	PeriodStart time.Time
}

// String renders the key for logging and idempotency tracking
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s:%s:%s:%s",
		k.TenantID, k.ClientID, k.UsageType, k.ServiceType, k.Level,
		k.PeriodStart.UTC().Format("2006-01-02"))
}

// UsageAggregation is a period-level rollup of rated events. It is derived
// data for billing export and reporting, never a source of truth for
// re-rating.
type UsageAggregation struct {
	shared.BaseEntity

	TenantID    uuid.UUID
	ClientID    uuid.UUID
	UsageType   rating.UsageType
	ServiceType rating.ServiceType
	Level       AggregationLevel
	PeriodStart time.Time
	PeriodEnd   time.Time

	TransactionCount int64
	TotalQuantity    decimal.Decimal
	IncludedQuantity decimal.Decimal
	OverageQuantity  decimal.Decimal
	PeakQuantity     decimal.Decimal

	Currency     valueobject.Currency
	TotalRevenue decimal.Decimal
	TotalTax     decimal.Decimal

	// TotalCost is the provider-side cost basis (base plus overage,
	// before markup and discount)
	TotalCost decimal.Decimal

	// TaxPendingCount is how many source events still await tax; their
	// totals are incomplete until the backfill sweep re-rates them
	TaxPendingCount int64

	ComputedAt time.Time
}

// NewUsageAggregation opens an empty rollup for a key
func NewUsageAggregation(key Key, currency valueobject.Currency) (*UsageAggregation, error) {
	if key.TenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if !key.Level.IsValid() {
		return nil, shared.NewDomainError("INVALID_LEVEL", "Invalid aggregation level")
	}

	return &UsageAggregation{
		BaseEntity:       shared.NewBaseEntity(),
		TenantID:         key.TenantID,
		ClientID:         key.ClientID,
		UsageType:        key.UsageType,
		ServiceType:      key.ServiceType,
		Level:            key.Level,
		PeriodStart:      key.Level.PeriodStart(key.PeriodStart),
		PeriodEnd:        key.Level.PeriodEnd(key.PeriodStart),
		TotalQuantity:    decimal.Zero,
		IncludedQuantity: decimal.Zero,
		OverageQuantity:  decimal.Zero,
		PeakQuantity:     decimal.Zero,
		Currency:         currency,
		TotalRevenue:     decimal.Zero,
		TotalTax:         decimal.Zero,
		TotalCost:        decimal.Zero,
	}, nil
}

// Key returns the row's unique tuple
func (a *UsageAggregation) Key() Key {
	return Key{
		TenantID:    a.TenantID,
		ClientID:    a.ClientID,
		UsageType:   a.UsageType,
		ServiceType: a.ServiceType,
		Level:       a.Level,
		PeriodStart: a.PeriodStart,
	}
}

// Contribution carries one rated event's already-computed fields into the
// rollup. The aggregator only sums; it never re-prices.
type Contribution struct {
	Quantity   decimal.Decimal
	Included   decimal.Decimal
	Overage    decimal.Decimal
	Peak       decimal.Decimal
	Revenue    decimal.Decimal
	Tax        decimal.Decimal
	Cost       decimal.Decimal
	TaxPending bool
}

// Accumulate folds one rated event's contribution into the rollup
func (a *UsageAggregation) Accumulate(c Contribution) {
	a.TransactionCount++
	a.TotalQuantity = a.TotalQuantity.Add(c.Quantity)
	a.IncludedQuantity = a.IncludedQuantity.Add(c.Included)
	a.OverageQuantity = a.OverageQuantity.Add(c.Overage)
	a.PeakQuantity = a.PeakQuantity.Add(c.Peak)
	a.TotalRevenue = a.TotalRevenue.Add(c.Revenue)
	a.TotalTax = a.TotalTax.Add(c.Tax)
	a.TotalCost = a.TotalCost.Add(c.Cost)
	if c.TaxPending {
		a.TaxPendingCount++
	}
}

// OffPeakQuantity is the quantity rated at the base time-of-use rate
func (a *UsageAggregation) OffPeakQuantity() decimal.Decimal {
	return a.TotalQuantity.Sub(a.PeakQuantity)
}

// ErrorRate is the share of the period's events whose charge is still
// incomplete, as a percentage of the transaction count
func (a *UsageAggregation) ErrorRate() decimal.Decimal {
	if a.TransactionCount == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(a.TaxPendingCount).
		Div(decimal.NewFromInt(a.TransactionCount)).
		Mul(decimal.NewFromInt(100))
}

// Margin is the period's gross margin as a percentage of net revenue
// (revenue excluding tax) over the provider cost basis
func (a *UsageAggregation) Margin() decimal.Decimal {
	net := a.TotalRevenue.Sub(a.TotalTax)
	if net.IsZero() {
		return decimal.Zero
	}
	return net.Sub(a.TotalCost).Div(net).Mul(decimal.NewFromInt(100))
}

// Finalize stamps the rollup as computed
func (a *UsageAggregation) Finalize(now time.Time) {
	a.ComputedAt = now
	a.UpdatedAt = now
}
