package rating

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mspbill/backend/internal/domain/shared"
	"github.com/mspbill/backend/internal/domain/shared/valueobject"
)

// PricingModel determines how a rule converts quantity into cost
type PricingModel string

const (
	// PricingModelFlat charges the base rate once per event, regardless of quantity
	PricingModelFlat PricingModel = "FLAT"

	// PricingModelUsageBased charges base rate per unit with no tiers
	PricingModelUsageBased PricingModel = "USAGE_BASED"

	// PricingModelTiered bills progressively: a quantity spanning a tier
	// boundary is split across tiers
	PricingModelTiered PricingModel = "TIERED"

	// PricingModelBlock bills the whole quantity at the tier the landing
	// position (cumulative usage plus the quantity) falls into
	PricingModelBlock PricingModel = "BLOCK"
)

// IsValid returns true if the pricing model is valid
func (m PricingModel) IsValid() bool {
	switch m {
	case PricingModelFlat, PricingModelUsageBased, PricingModelTiered, PricingModelBlock:
		return true
	}
	return false
}

// UsageTier is one ordered partition [MinUsage, MaxUsage) of a rule's usage
// axis. Tiers must be contiguous and non-overlapping; the final tier may be
// unbounded (MaxUsage == nil).
type UsageTier struct {
	ID                uuid.UUID
	TierOrder         int
	MinUsage          decimal.Decimal
	MaxUsage          *decimal.Decimal // nil = unlimited
	Rate              decimal.Decimal  // per-unit rate within the tier
	OverageRate       *decimal.Decimal // rate for overage allocated against this tier
	PeakMultiplier    decimal.Decimal  // applied during the rule's peak window
	OffPeakMultiplier decimal.Decimal
	WeekendMultiplier decimal.Decimal
}

// Contains returns true if the cumulative usage position falls in this tier
func (t *UsageTier) Contains(position decimal.Decimal) bool {
	if position.LessThan(t.MinUsage) {
		return false
	}
	return t.MaxUsage == nil || position.LessThan(*t.MaxUsage)
}

// IsUnbounded returns true if the tier has no upper bound
func (t *UsageTier) IsUnbounded() bool {
	return t.MaxUsage == nil
}

// EffectiveOverageRate returns the tier's overage rate, falling back to the
// tier rate when none is configured. Overage is never billed at the base
// tier rate of a different tier.
func (t *UsageTier) EffectiveOverageRate() decimal.Decimal {
	if t.OverageRate != nil {
		return *t.OverageRate
	}
	return t.Rate
}

// TimeOfUseWindow defines the peak hours for time-of-use multipliers.
// Hours are in the tenant's billing timezone, [PeakStartHour, PeakEndHour).
type TimeOfUseWindow struct {
	PeakStartHour int
	PeakEndHour   int
}

// DefaultTimeOfUseWindow is business hours 08:00-20:00
func DefaultTimeOfUseWindow() TimeOfUseWindow {
	return TimeOfUseWindow{PeakStartHour: 8, PeakEndHour: 20}
}

// IsPeak returns true if t falls inside the peak window on a weekday
func (w TimeOfUseWindow) IsPeak(t time.Time) bool {
	wd := t.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false
	}
	h := t.Hour()
	return h >= w.PeakStartHour && h < w.PeakEndHour
}

// PricingRule is a versioned, prioritized rule mapping a
// (tenant, client-or-global, usage type, service type, time window) selector
// to a pricing model and its tiers. Client-specific rules override global
// ones; among equal-scope matches the lowest RulePriority value wins (1 is
// the highest priority).
type PricingRule struct {
	shared.TenantAggregateRoot
	Name            string
	ClientID        *uuid.UUID // nil = global (tenant-wide) rule
	UsageType       UsageType
	ServiceType     ServiceType // ServiceTypeAny matches every service
	PricingModel    PricingModel
	BaseRate        decimal.Decimal // per unit (usage-based) or per event (flat)
	Currency        valueobject.Currency
	RulePriority    int // 1 = highest
	EffectiveDate   time.Time
	ExpiryDate      *time.Time // nil = no expiry
	Tiers           []UsageTier
	TimeOfUse       TimeOfUseWindow
	MarkupPercent   decimal.Decimal  // applied on base cost
	DiscountPercent decimal.Decimal  // percentage discount, applied before fixed
	DiscountFixed   decimal.Decimal  // fixed discount, applied after percentage
	MinimumCharge   *decimal.Decimal // post-discount floor, nil = none
	TaxExempt       bool
	Lifecycle       shared.Lifecycle
}

// NewPricingRule creates a pricing rule with validation
func NewPricingRule(
	tenantID uuid.UUID,
	name string,
	usageType UsageType,
	serviceType ServiceType,
	model PricingModel,
	baseRate decimal.Decimal,
	currency valueobject.Currency,
	priority int,
	effectiveDate time.Time,
) (*PricingRule, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if name == "" {
		return nil, shared.NewDomainError("INVALID_NAME", "Rule name cannot be empty")
	}
	if !usageType.IsValid() {
		return nil, shared.NewDomainError("INVALID_USAGE_TYPE", "Invalid usage type")
	}
	if !serviceType.IsValid() {
		return nil, shared.NewDomainError("INVALID_SERVICE_TYPE", "Invalid service type")
	}
	if !model.IsValid() {
		return nil, shared.NewDomainError("INVALID_PRICING_MODEL", "Invalid pricing model")
	}
	if baseRate.IsNegative() {
		return nil, shared.NewDomainError("INVALID_RATE", "Base rate cannot be negative")
	}
	if currency == "" {
		return nil, shared.NewDomainError("INVALID_CURRENCY", "Currency cannot be empty")
	}
	if priority < 1 {
		return nil, shared.NewDomainError("INVALID_PRIORITY", "Rule priority must be >= 1")
	}

	return &PricingRule{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		Name:                name,
		UsageType:           usageType,
		ServiceType:         serviceType,
		PricingModel:        model,
		BaseRate:            baseRate,
		Currency:            currency,
		RulePriority:        priority,
		EffectiveDate:       effectiveDate,
		TimeOfUse:           DefaultTimeOfUseWindow(),
		Lifecycle:           shared.LifecycleActive,
	}, nil
}

// ForClient scopes the rule to a specific client
func (r *PricingRule) ForClient(clientID uuid.UUID) *PricingRule {
	r.ClientID = &clientID
	return r
}

// WithExpiry sets the rule's expiry date
func (r *PricingRule) WithExpiry(expiry time.Time) *PricingRule {
	r.ExpiryDate = &expiry
	return r
}

// WithTiers sets and validates the rule's tiers
func (r *PricingRule) WithTiers(tiers []UsageTier) (*PricingRule, error) {
	if err := ValidateTiers(tiers); err != nil {
		return nil, err
	}
	for i := range tiers {
		if tiers[i].ID == uuid.Nil {
			tiers[i].ID = uuid.New()
		}
		if tiers[i].PeakMultiplier.IsZero() {
			tiers[i].PeakMultiplier = decimal.NewFromInt(1)
		}
		if tiers[i].OffPeakMultiplier.IsZero() {
			tiers[i].OffPeakMultiplier = decimal.NewFromInt(1)
		}
		if tiers[i].WeekendMultiplier.IsZero() {
			tiers[i].WeekendMultiplier = decimal.NewFromInt(1)
		}
	}
	r.Tiers = tiers
	return r, nil
}

// IsGlobal returns true if the rule applies tenant-wide
func (r *PricingRule) IsGlobal() bool {
	return r.ClientID == nil
}

// IsEffectiveAt returns true if ts falls within the rule's effective window
func (r *PricingRule) IsEffectiveAt(ts time.Time) bool {
	if ts.Before(r.EffectiveDate) {
		return false
	}
	return r.ExpiryDate == nil || ts.Before(*r.ExpiryDate)
}

// Matches returns true if the rule's selector applies to the event
func (r *PricingRule) Matches(event *UsageEvent) bool {
	if r.Lifecycle != shared.LifecycleActive {
		return false
	}
	if r.TenantID != event.TenantID {
		return false
	}
	if r.ClientID != nil && *r.ClientID != event.ClientID {
		return false
	}
	if r.UsageType != event.UsageType {
		return false
	}
	if r.ServiceType != ServiceTypeAny && r.ServiceType != event.ServiceType {
		return false
	}
	return r.IsEffectiveAt(event.StartTime)
}

// MultiplierAt returns the time-of-use multiplier for a tier at the given
// timestamp. The event timestamp decides peak/off-peak, never the
// wall clock at processing time.
func (r *PricingRule) MultiplierAt(tier *UsageTier, ts time.Time) decimal.Decimal {
	wd := ts.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return tier.WeekendMultiplier
	}
	if r.TimeOfUse.IsPeak(ts) {
		return tier.PeakMultiplier
	}
	return tier.OffPeakMultiplier
}

// Archive transitions the rule out of active rating
func (r *PricingRule) Archive() error {
	if r.Lifecycle == shared.LifecycleArchived {
		return shared.ErrArchived
	}
	r.Lifecycle = shared.LifecycleArchived
	r.UpdatedAt = time.Now()
	return nil
}

// ValidateTiers checks that tiers partition the usage axis: ordered by
// TierOrder, starting at zero, contiguous, non-overlapping, with only the
// final tier unbounded. Malformed shapes are rejected at load time rather
// than at evaluation time.
func ValidateTiers(tiers []UsageTier) error {
	if len(tiers) == 0 {
		return nil
	}

	for i := 1; i < len(tiers); i++ {
		if tiers[i].TierOrder <= tiers[i-1].TierOrder {
			return shared.NewDomainError("TIER_ORDER", "Tiers must have strictly increasing tier order")
		}
	}

	if !tiers[0].MinUsage.IsZero() {
		return ErrTierGap
	}

	for i, tier := range tiers {
		last := i == len(tiers)-1
		if tier.MaxUsage == nil {
			if !last {
				return shared.NewDomainError("TIER_UNBOUNDED", "Only the final tier may be unbounded")
			}
			continue
		}
		if !tier.MaxUsage.GreaterThan(tier.MinUsage) {
			return shared.NewDomainError("TIER_RANGE", "Tier max must be greater than tier min")
		}
		if !last && !tiers[i+1].MinUsage.Equal(*tier.MaxUsage) {
			return ErrTierGap
		}
	}

	return nil
}
