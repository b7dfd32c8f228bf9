package allocation

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mspbill/backend/internal/domain/shared"
)

// AllocationOrder determines which allowance lots are drawn down first.
// FIFO consumes the oldest lots first so rolled-over allowance is spent
// before it expires; LIFO consumes the newest first.
type AllocationOrder string

const (
	AllocationOrderFIFO AllocationOrder = "FIFO"
	AllocationOrderLIFO AllocationOrder = "LIFO"
)

// IsValid returns true if the allocation order is valid
func (o AllocationOrder) IsValid() bool {
	return o == AllocationOrderFIFO || o == AllocationOrderLIFO
}

// LotSource identifies where an allowance lot came from
type LotSource string

const (
	// LotSourcePlan is the regular period allowance
	LotSourcePlan LotSource = "PLAN"

	// LotSourceRollover is unused allowance carried from a prior period
	LotSourceRollover LotSource = "ROLLOVER"

	// LotSourceBonus is promotional or goodwill allowance
	LotSourceBonus LotSource = "BONUS"
)

// AllowanceLot is a dated slice of bucket capacity. Lots make rollover
// expiry tractable: each carries its own expiry and is drawn down in the
// bucket's allocation order.
type AllowanceLot struct {
	ID        uuid.UUID
	Source    LotSource
	Amount    decimal.Decimal
	Remaining decimal.Decimal
	GrantedAt time.Time
	ExpiresAt *time.Time // nil = never expires
}

// IsExpired returns true if the lot has expired at the given time
func (l *AllowanceLot) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}

// UsageBucket is a finer-grained capacity unit nested under a pool,
// possibly client-specific, with its own priority ordering and an optional
// overflow target forming a singly linked spillover chain.
type UsageBucket struct {
	shared.TenantAggregateRoot
	PoolID              uuid.UUID
	ClientID            *uuid.UUID // nil = shared across the pool's clients
	Name                string
	Capacity            decimal.Decimal
	Used                decimal.Decimal
	UsagePriority       int // ascending consumption order, 1 first
	AllocationOrder     AllocationOrder
	AllowsOverflow      bool
	OverflowBucketID    *uuid.UUID // next bucket in the spillover chain
	AllowOverallocation bool
	OverflowBehavior    *OverflowBehavior // nil = defer to pool-level policy
	Lots                []AllowanceLot
	Lifecycle           shared.Lifecycle
}

// NewUsageBucket creates a usage bucket with validation
func NewUsageBucket(
	tenantID uuid.UUID,
	poolID uuid.UUID,
	name string,
	capacity decimal.Decimal,
	priority int,
) (*UsageBucket, error) {
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if poolID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_POOL", "Pool ID cannot be empty")
	}
	if name == "" {
		return nil, shared.NewDomainError("INVALID_NAME", "Bucket name cannot be empty")
	}
	if capacity.IsNegative() {
		return nil, shared.NewDomainError("INVALID_CAPACITY", "Bucket capacity cannot be negative")
	}
	if priority < 1 {
		return nil, shared.NewDomainError("INVALID_PRIORITY", "Bucket priority must be >= 1")
	}

	b := &UsageBucket{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		PoolID:              poolID,
		Name:                name,
		Capacity:            capacity,
		UsagePriority:       priority,
		AllocationOrder:     AllocationOrderFIFO,
		Lifecycle:           shared.LifecycleActive,
	}
	if capacity.IsPositive() {
		b.Lots = []AllowanceLot{{
			ID:        uuid.New(),
			Source:    LotSourcePlan,
			Amount:    capacity,
			Remaining: capacity,
			GrantedAt: time.Now(),
		}}
	}
	return b, nil
}

// ForClient scopes the bucket to a specific client
func (b *UsageBucket) ForClient(clientID uuid.UUID) *UsageBucket {
	b.ClientID = &clientID
	return b
}

// WithOverflow links the bucket to an overflow target
func (b *UsageBucket) WithOverflow(target uuid.UUID) *UsageBucket {
	b.AllowsOverflow = true
	b.OverflowBucketID = &target
	return b
}

// WithOverflowBehavior overrides the pool-level overflow policy
func (b *UsageBucket) WithOverflowBehavior(behavior OverflowBehavior) *UsageBucket {
	b.OverflowBehavior = &behavior
	return b
}

// Remaining returns the bucket's unexpired, unconsumed allowance
func (b *UsageBucket) Remaining(now time.Time) decimal.Decimal {
	total := decimal.Zero
	for i := range b.Lots {
		if b.Lots[i].IsExpired(now) {
			continue
		}
		total = total.Add(b.Lots[i].Remaining)
	}
	return total
}

// UtilizationPercent returns used capacity as a percentage of capacity
func (b *UsageBucket) UtilizationPercent() decimal.Decimal {
	if b.Capacity.IsZero() {
		return decimal.Zero
	}
	return b.Used.Div(b.Capacity).Mul(decimal.NewFromInt(100))
}

// GrantLot adds an allowance lot (refill, rollover or bonus)
func (b *UsageBucket) GrantLot(source LotSource, amount decimal.Decimal, expiresAt *time.Time) {
	if !amount.IsPositive() {
		return
	}
	b.Lots = append(b.Lots, AllowanceLot{
		ID:        uuid.New(),
		Source:    source,
		Amount:    amount,
		Remaining: amount,
		GrantedAt: time.Now(),
		ExpiresAt: expiresAt,
	})
	if source != LotSourceBonus {
		b.Capacity = b.Capacity.Add(amount)
	}
}

// DrawDown consumes up to amount from the bucket's lots in the bucket's
// allocation order, skipping expired lots. It returns how much was drawn in
// total and how much of that came from bonus lots. Used never exceeds
// Capacity unless AllowOverallocation is set.
func (b *UsageBucket) DrawDown(amount decimal.Decimal, now time.Time) (drawn, bonus decimal.Decimal) {
	if !amount.IsPositive() {
		return decimal.Zero, decimal.Zero
	}

	idx := make([]int, 0, len(b.Lots))
	for i := range b.Lots {
		if b.Lots[i].IsExpired(now) || !b.Lots[i].Remaining.IsPositive() {
			continue
		}
		idx = append(idx, i)
	}
	sort.SliceStable(idx, func(x, y int) bool {
		if b.AllocationOrder == AllocationOrderLIFO {
			return b.Lots[idx[x]].GrantedAt.After(b.Lots[idx[y]].GrantedAt)
		}
		return b.Lots[idx[x]].GrantedAt.Before(b.Lots[idx[y]].GrantedAt)
	})

	remaining := amount
	drawn = decimal.Zero
	bonus = decimal.Zero
	for _, i := range idx {
		if !remaining.IsPositive() {
			break
		}
		lot := &b.Lots[i]
		take := lot.Remaining
		if take.GreaterThan(remaining) {
			take = remaining
		}
		lot.Remaining = lot.Remaining.Sub(take)
		drawn = drawn.Add(take)
		if lot.Source == LotSourceBonus {
			bonus = bonus.Add(take)
		}
		remaining = remaining.Sub(take)
	}

	if remaining.IsPositive() && b.AllowOverallocation {
		drawn = drawn.Add(remaining)
	}

	b.Used = b.Used.Add(drawn)
	b.UpdatedAt = time.Now()
	return drawn, bonus
}

// ExpireLots drops expired lots and returns the forfeited amount
func (b *UsageBucket) ExpireLots(now time.Time) decimal.Decimal {
	forfeited := decimal.Zero
	kept := b.Lots[:0]
	for _, lot := range b.Lots {
		if lot.IsExpired(now) {
			forfeited = forfeited.Add(lot.Remaining)
			continue
		}
		kept = append(kept, lot)
	}
	b.Lots = kept
	return forfeited
}

// Archive transitions the bucket out of active allocation
func (b *UsageBucket) Archive() error {
	if b.Lifecycle == shared.LifecycleArchived {
		return shared.ErrArchived
	}
	b.Lifecycle = shared.LifecycleArchived
	b.UpdatedAt = time.Now()
	return nil
}
