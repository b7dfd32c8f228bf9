package allocation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mspbill/backend/internal/domain/rating"
	"github.com/mspbill/backend/internal/domain/shared"
)

// AllocationMethod determines how a pool distributes capacity across buckets
type AllocationMethod string

const (
	// AllocationMethodEqual gives every bucket the same share on refill
	AllocationMethodEqual AllocationMethod = "EQUAL"

	// AllocationMethodWeighted distributes by bucket weight on refill
	AllocationMethodWeighted AllocationMethod = "WEIGHTED"

	// AllocationMethodPriority fills buckets in priority order
	AllocationMethodPriority AllocationMethod = "PRIORITY"

	// AllocationMethodFCFS leaves capacity unpartitioned; buckets draw on demand
	AllocationMethodFCFS AllocationMethod = "FCFS"
)

// IsValid returns true if the allocation method is valid
func (m AllocationMethod) IsValid() bool {
	switch m {
	case AllocationMethodEqual, AllocationMethodWeighted, AllocationMethodPriority, AllocationMethodFCFS:
		return true
	}
	return false
}

// RolloverPolicy determines what happens to unused capacity at period close
type RolloverPolicy string

const (
	// RolloverNone forfeits unused capacity
	RolloverNone RolloverPolicy = "NONE"

	// RolloverFull carries all unused capacity into the next period
	RolloverFull RolloverPolicy = "FULL"

	// RolloverCapped carries unused capacity up to a percentage of the
	// period allowance
	RolloverCapped RolloverPolicy = "CAPPED"
)

// IsValid returns true if the rollover policy is valid
func (p RolloverPolicy) IsValid() bool {
	switch p {
	case RolloverNone, RolloverFull, RolloverCapped:
		return true
	}
	return false
}

// OverflowBehavior determines what happens to usage that exceeds all capacity
type OverflowBehavior string

const (
	// OverflowChargeOverage bills the excess at the overage rate
	OverflowChargeOverage OverflowBehavior = "CHARGE_OVERAGE"

	// OverflowBlock rejects the event
	OverflowBlock OverflowBehavior = "BLOCK"

	// OverflowToCommitment routes the excess against the client's commitment pool
	OverflowToCommitment OverflowBehavior = "TO_COMMITMENT"
)

// IsValid returns true if the overflow behavior is valid
func (b OverflowBehavior) IsValid() bool {
	switch b {
	case OverflowChargeOverage, OverflowBlock, OverflowToCommitment:
		return true
	}
	return false
}

// UsagePool is a shared capacity allowance spanning one or more clients and
// services. Buckets nest under a pool; bucket-level overage/rollover policy
// takes precedence over the pool-level policy when both are configured.
type UsagePool struct {
	shared.TenantAggregateRoot
	Name              string
	UsageType         rating.UsageType
	TotalCapacity     decimal.Decimal
	AllocatedCapacity decimal.Decimal // capacity partitioned out to buckets
	UsedCapacity      decimal.Decimal
	Unit              rating.UsageUnit
	AllocationMethod  AllocationMethod
	RolloverPolicy    RolloverPolicy
	RolloverCapPct    decimal.Decimal // used when RolloverPolicy is CAPPED
	RolloverExpiry    time.Duration   // how long rolled-over lots stay drawable
	OverflowBehavior  OverflowBehavior
	RefillPeriodDays  int // 0 = no automatic refill
	LastRefillAt      time.Time
	Lifecycle         shared.Lifecycle
}

// NewUsagePool creates a usage pool with validation
func NewUsagePool(
	tenantID uuid.UUID,
	name string,
	usageType rating.UsageType,
	totalCapacity decimal.Decimal,
	method AllocationMethod,
) (*UsagePool, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if name == "" {
		return nil, shared.NewDomainError("INVALID_NAME", "Pool name cannot be empty")
	}
	if !usageType.IsValid() {
		return nil, shared.NewDomainError("INVALID_USAGE_TYPE", "Invalid usage type")
	}
	if totalCapacity.IsNegative() {
		return nil, shared.NewDomainError("INVALID_CAPACITY", "Pool capacity cannot be negative")
	}
	if !method.IsValid() {
		return nil, shared.NewDomainError("INVALID_ALLOCATION_METHOD", "Invalid allocation method")
	}

	return &UsagePool{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		Name:                name,
		UsageType:           usageType,
		TotalCapacity:       totalCapacity,
		Unit:                usageType.Unit(),
		AllocationMethod:    method,
		RolloverPolicy:      RolloverNone,
		OverflowBehavior:    OverflowChargeOverage,
		Lifecycle:           shared.LifecycleActive,
	}, nil
}

// RemainingCapacity returns unused pool capacity
func (p *UsagePool) RemainingCapacity() decimal.Decimal {
	return p.TotalCapacity.Sub(p.UsedCapacity)
}

// UtilizationPercent returns used capacity as a percentage of total
func (p *UsagePool) UtilizationPercent() decimal.Decimal {
	if p.TotalCapacity.IsZero() {
		return decimal.Zero
	}
	return p.UsedCapacity.Div(p.TotalCapacity).Mul(decimal.NewFromInt(100))
}

// RolloverAmount computes the capacity carried into the next period under
// the pool's rollover policy
func (p *UsagePool) RolloverAmount() decimal.Decimal {
	unused := p.RemainingCapacity()
	if unused.IsNegative() {
		return decimal.Zero
	}
	switch p.RolloverPolicy {
	case RolloverFull:
		return unused
	case RolloverCapped:
		cap := p.TotalCapacity.Mul(p.RolloverCapPct).Div(decimal.NewFromInt(100))
		if unused.GreaterThan(cap) {
			return cap
		}
		return unused
	default:
		return decimal.Zero
	}
}

// DueForRefill reports whether the pool's allowance period has elapsed.
// Pools without automatic refill (RefillPeriodDays = 0) are never due; a
// pool that has never refilled is anchored at its creation time.
func (p *UsagePool) DueForRefill(now time.Time) bool {
	if p.RefillPeriodDays <= 0 || p.Lifecycle != shared.LifecycleActive {
		return false
	}
	anchor := p.LastRefillAt
	if anchor.IsZero() {
		anchor = p.CreatedAt
	}
	return !now.Before(anchor.AddDate(0, 0, p.RefillPeriodDays))
}

// Refill closes the allowance period. The amount carried under the
// rollover policy is returned for lot creation; usage counters reset and
// the refill clock restarts at now.
func (p *UsagePool) Refill(now time.Time) decimal.Decimal {
	carried := p.RolloverAmount()
	p.UsedCapacity = decimal.Zero
	p.AllocatedCapacity = decimal.Zero
	p.LastRefillAt = now
	p.UpdatedAt = now
	return carried
}

// RolloverLotExpiry returns when a rollover lot granted at now stops being
// drawable, nil when rolled-over allowance never expires
func (p *UsagePool) RolloverLotExpiry(now time.Time) *time.Time {
	if p.RolloverExpiry <= 0 {
		return nil
	}
	t := now.Add(p.RolloverExpiry)
	return &t
}

// Archive transitions the pool out of active allocation
func (p *UsagePool) Archive() error {
	if p.Lifecycle == shared.LifecycleArchived {
		return shared.ErrArchived
	}
	p.Lifecycle = shared.LifecycleArchived
	p.UpdatedAt = time.Now()
	return nil
}
