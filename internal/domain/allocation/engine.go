package allocation

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mspbill/backend/internal/domain/shared"
)

// MaxOverflowHops bounds spillover chain traversal. Chains are validated
// acyclic at configuration time; the hop bound guards evaluation against
// chains misconfigured after validation.
const MaxOverflowHops = 8

// BucketConsumption records how much was drawn from a single bucket
type BucketConsumption struct {
	BucketID   uuid.UUID
	Amount     decimal.Decimal
	Bonus      decimal.Decimal
	Overflowed bool // reached via a spillover chain rather than directly
}

// AllocationResult is the split of a rated quantity into included
// (within allowance), overage and bonus portions.
type AllocationResult struct {
	Included           decimal.Decimal
	Overage            decimal.Decimal
	Bonus              decimal.Decimal
	RoutedToCommitment decimal.Decimal
	Blocked            bool
	Consumptions       []BucketConsumption
}

// Total returns the full quantity accounted for by the result
func (r *AllocationResult) Total() decimal.Decimal {
	return r.Included.Add(r.Overage).Add(r.Bonus).Add(r.RoutedToCommitment)
}

// Engine consumes capacity from pools and buckets honoring priority,
// overflow and rollover policy. The engine mutates the in-memory working
// set only; persisting the mutated buckets under optimistic concurrency is
// the caller's responsibility.
type Engine struct {
	maxHops int
}

// NewEngine creates an allocation engine with the default hop bound
func NewEngine() *Engine {
	return &Engine{maxHops: MaxOverflowHops}
}

// Allocate splits quantity across the client's buckets. Buckets are
// consumed by ascending usage priority; within a bucket the allocation
// order decides which allowance lots drain first. Exhausted buckets spill
// into their overflow chain. Whatever no bucket can absorb is resolved by
// the overflow behavior - the last-consulted bucket's policy takes
// precedence over the pool's.
func (e *Engine) Allocate(
	quantity decimal.Decimal,
	pool *UsagePool,
	arena *BucketArena,
	clientID uuid.UUID,
	now time.Time,
) (*AllocationResult, error) {
	if err := arena.ValidateChains(); err != nil {
		return nil, err
	}

	result := &AllocationResult{
		Included:           decimal.Zero,
		Overage:            decimal.Zero,
		Bonus:              decimal.Zero,
		RoutedToCommitment: decimal.Zero,
	}
	if !quantity.IsPositive() {
		return result, nil
	}

	candidates := e.candidateBuckets(arena, clientID)

	remaining := quantity
	var lastConsulted *UsageBucket
	consumed := map[uuid.UUID]bool{}

	for _, bucket := range candidates {
		if !remaining.IsPositive() {
			break
		}
		if consumed[bucket.ID] {
			continue
		}

		var err error
		remaining, lastConsulted, err = e.consumeChain(bucket, remaining, arena, consumed, result, now)
		if err != nil {
			return nil, err
		}
	}

	if remaining.IsPositive() {
		behavior := pool.OverflowBehavior
		if lastConsulted != nil && lastConsulted.OverflowBehavior != nil {
			// Bucket-level policy wins over pool-level
			behavior = *lastConsulted.OverflowBehavior
		}
		switch behavior {
		case OverflowBlock:
			result.Blocked = true
			return result, ErrAllocationBlocked
		case OverflowToCommitment:
			result.RoutedToCommitment = remaining
		default:
			result.Overage = remaining
		}
	}

	if pool != nil {
		pool.UsedCapacity = pool.UsedCapacity.Add(result.Included).Add(result.Bonus)
		pool.UpdatedAt = time.Now()
	}

	return result, nil
}

// candidateBuckets returns the active buckets visible to the client,
// ordered by ascending usage priority (ties broken by creation time for
// determinism).
func (e *Engine) candidateBuckets(arena *BucketArena, clientID uuid.UUID) []*UsageBucket {
	var out []*UsageBucket
	for _, b := range arena.Buckets() {
		if b.Lifecycle != "" && b.Lifecycle != shared.LifecycleActive {
			continue
		}
		if b.ClientID != nil && *b.ClientID != clientID {
			continue
		}
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UsagePriority != out[j].UsagePriority {
			return out[i].UsagePriority < out[j].UsagePriority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// consumeChain draws from a bucket and, if it allows overflow, follows its
// spillover chain for the remainder. Traversal is bounded by the engine's
// hop count; exceeding it fails fast with ErrOverflowCycle.
func (e *Engine) consumeChain(
	bucket *UsageBucket,
	remaining decimal.Decimal,
	arena *BucketArena,
	consumed map[uuid.UUID]bool,
	result *AllocationResult,
	now time.Time,
) (decimal.Decimal, *UsageBucket, error) {
	current := bucket
	overflowed := false

	for hops := 0; current != nil && remaining.IsPositive(); hops++ {
		if hops >= e.maxHops {
			return remaining, current, ErrOverflowCycle
		}

		drawn, bonus := current.DrawDown(remaining, now)
		if drawn.IsPositive() {
			result.Included = result.Included.Add(drawn.Sub(bonus))
			result.Bonus = result.Bonus.Add(bonus)
			result.Consumptions = append(result.Consumptions, BucketConsumption{
				BucketID:   current.ID,
				Amount:     drawn,
				Bonus:      bonus,
				Overflowed: overflowed,
			})
			remaining = remaining.Sub(drawn)
		}
		consumed[current.ID] = true

		if !remaining.IsPositive() || !current.AllowsOverflow || current.OverflowBucketID == nil {
			return remaining, current, nil
		}

		next := arena.Get(*current.OverflowBucketID)
		if next == nil {
			return remaining, current, nil
		}
		current = next
		overflowed = true
	}

	return remaining, current, nil
}
