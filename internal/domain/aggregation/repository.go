package aggregation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mspbill/backend/internal/domain/rating"
)

// Filter scopes aggregation queries for reporting and billing export
type Filter struct {
	ClientID   *uuid.UUID
	UsageTypes []rating.UsageType
	Level      AggregationLevel
	From       time.Time
	To         time.Time
}

// Repository stores rollups. Upsert writes by the row's key tuple: a
// second write for the same key replaces the row, it never duplicates it.
type Repository interface {
	// Upsert inserts or replaces the rollup for its key
	Upsert(ctx context.Context, agg *UsageAggregation) error

	// FindByKey retrieves one rollup row
	FindByKey(ctx context.Context, key Key) (*UsageAggregation, error)

	// Query retrieves a tenant's rollups matching the filter, ordered by
	// period start
	Query(ctx context.Context, tenantID uuid.UUID, filter Filter) ([]*UsageAggregation, error)

	// DeleteForPeriod clears a tenant's rollups at a level within a range,
	// used before recomputation from source
	DeleteForPeriod(ctx context.Context, tenantID uuid.UUID, level AggregationLevel, from, to time.Time) error
}
