package allocation

import (
	"context"

	"github.com/google/uuid"

	"github.com/mspbill/backend/internal/domain/rating"
)

// UsagePoolRepository persists pools. SaveWithVersion implements the
// optimistic concurrency check: the write succeeds only when the stored
// version still matches, otherwise it fails with ErrCapacityConflict and
// the caller reloads and retries.
type UsagePoolRepository interface {
	Save(ctx context.Context, pool *UsagePool) error
	SaveWithVersion(ctx context.Context, pool *UsagePool) error
	FindByID(ctx context.Context, id uuid.UUID) (*UsagePool, error)
	FindActiveByUsageType(ctx context.Context, tenantID uuid.UUID, usageType rating.UsageType) ([]*UsagePool, error)

	// FindRefillable loads a tenant's active pools with automatic refill
	// configured; due-ness is decided in the domain against the sweep instant
	FindRefillable(ctx context.Context, tenantID uuid.UUID) ([]*UsagePool, error)

	// SaveAllocation commits one allocation's capacity writes as a unit:
	// every touched bucket and the pool, each under the optimistic
	// concurrency check. A stale version on any row fails the whole write
	// with ErrCapacityConflict and leaves no row changed, so the caller
	// can reload the full working set and retry.
	SaveAllocation(ctx context.Context, pool *UsagePool, buckets []*UsageBucket) error
}

// UsageBucketRepository persists buckets and loads the working set the
// allocation engine runs over.
type UsageBucketRepository interface {
	Save(ctx context.Context, bucket *UsageBucket) error

	// SaveWithVersion writes under the optimistic concurrency check;
	// a stale version fails with ErrCapacityConflict
	SaveWithVersion(ctx context.Context, bucket *UsageBucket) error

	FindByID(ctx context.Context, id uuid.UUID) (*UsageBucket, error)

	// FindByPool loads every active bucket under a pool, including shared
	// buckets and the overflow targets the chain can reach
	FindByPool(ctx context.Context, poolID uuid.UUID) ([]*UsageBucket, error)
}
