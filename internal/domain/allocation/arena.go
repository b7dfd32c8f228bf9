package allocation

import (
	"github.com/google/uuid"

	"github.com/mspbill/backend/internal/domain/shared"
)

// BucketArena holds a working set of buckets indexed by ID. Overflow chains
// are followed through the arena by identifier rather than pointers, and
// acyclicity is validated on every write that changes an overflow reference.
type BucketArena struct {
	buckets map[uuid.UUID]*UsageBucket
	order   []uuid.UUID // insertion order, for deterministic iteration
}

// NewBucketArena builds an arena from a bucket set
func NewBucketArena(buckets []*UsageBucket) *BucketArena {
	a := &BucketArena{buckets: make(map[uuid.UUID]*UsageBucket, len(buckets))}
	for _, b := range buckets {
		a.Add(b)
	}
	return a
}

// Add inserts a bucket into the arena
func (a *BucketArena) Add(b *UsageBucket) {
	if _, exists := a.buckets[b.ID]; !exists {
		a.order = append(a.order, b.ID)
	}
	a.buckets[b.ID] = b
}

// Get returns the bucket with the given ID, or nil
func (a *BucketArena) Get(id uuid.UUID) *UsageBucket {
	return a.buckets[id]
}

// Buckets returns the arena's buckets in insertion order
func (a *BucketArena) Buckets() []*UsageBucket {
	out := make([]*UsageBucket, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.buckets[id])
	}
	return out
}

// SetOverflow rewires a bucket's overflow target, rejecting the write if it
// would introduce a cycle
func (a *BucketArena) SetOverflow(bucketID, targetID uuid.UUID) error {
	b := a.Get(bucketID)
	if b == nil {
		return shared.ErrNotFound
	}
	prevAllows, prevTarget := b.AllowsOverflow, b.OverflowBucketID
	b.WithOverflow(targetID)
	if err := a.ValidateChains(); err != nil {
		b.AllowsOverflow, b.OverflowBucketID = prevAllows, prevTarget
		return err
	}
	return nil
}

// ValidateChains verifies that no overflow chain in the arena contains a
// cycle. Chains referencing buckets outside the arena terminate at the
// boundary. Runs at configuration-evaluation time so misconfiguration is
// caught before any event is allocated.
func (a *BucketArena) ValidateChains() error {
	for _, id := range a.order {
		seen := map[uuid.UUID]bool{}
		cur := a.buckets[id]
		for cur != nil && cur.AllowsOverflow && cur.OverflowBucketID != nil {
			if seen[cur.ID] {
				return ErrOverflowCycle
			}
			seen[cur.ID] = true
			next := a.buckets[*cur.OverflowBucketID]
			if next != nil && seen[next.ID] {
				return ErrOverflowCycle
			}
			cur = next
		}
	}
	return nil
}
