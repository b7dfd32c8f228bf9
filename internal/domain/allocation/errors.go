package allocation

import "github.com/mspbill/backend/internal/domain/shared"

// Allocation errors
var (
	// ErrOverflowCycle means a bucket overflow chain loops back on itself.
	// Misconfigured chains fail fast and are flagged for review.
	ErrOverflowCycle = shared.NewDomainError("OVERFLOW_CYCLE", "Bucket overflow chain contains a cycle")

	// ErrCapacityConflict means optimistic-concurrency retries were exhausted
	// while updating bucket capacity. Escalated as an operational alert.
	ErrCapacityConflict = shared.NewDomainError("CAPACITY_CONFLICT", "Bucket capacity update conflicted with concurrent allocations")

	// ErrAllocationBlocked means no capacity remained and the overflow
	// behavior blocks the event instead of charging overage.
	ErrAllocationBlocked = shared.NewDomainError("ALLOCATION_BLOCKED", "Usage blocked: no capacity remaining and overflow is not allowed")
)
