// Package allocation hosts the period maintenance around usage pools: the
// refill sweep that closes allowance periods, carries unused capacity
// forward as rollover lots and drops expired lots from bucket state.
package allocation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	domainallocation "github.com/mspbill/backend/internal/domain/allocation"
)

// RolloverService refills pools at their period boundary. Unused capacity
// is carried under the pool's rollover policy into a dated lot on the
// pool's first-priority bucket, so FIFO draw-down spends it before the
// fresh allowance and expiry stays enforceable per lot.
type RolloverService struct {
	pools   domainallocation.UsagePoolRepository
	buckets domainallocation.UsageBucketRepository
	logger  *zap.Logger
}

// NewRolloverService creates the pool refill sweeper
func NewRolloverService(pools domainallocation.UsagePoolRepository, buckets domainallocation.UsageBucketRepository, logger *zap.Logger) *RolloverService {
	return &RolloverService{
		pools:   pools,
		buckets: buckets,
		logger:  logger,
	}
}

// RefillResult summarizes one refill sweep for a tenant
type RefillResult struct {
	Refilled  int
	Carried   decimal.Decimal
	Forfeited decimal.Decimal
	Failed    int
}

// Refill closes the allowance period of every pool due at asOf. Failures
// are logged and left due; the next sweep picks the pool up again because
// its refill clock only advances on a successful write.
func (s *RolloverService) Refill(ctx context.Context, tenantID uuid.UUID, asOf time.Time) (*RefillResult, error) {
	candidates, err := s.pools.FindRefillable(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	result := &RefillResult{
		Carried:   decimal.Zero,
		Forfeited: decimal.Zero,
	}
	for _, pool := range candidates {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if !pool.DueForRefill(asOf) {
			continue
		}

		carried, forfeited, err := s.refillPool(ctx, pool, asOf)
		if err != nil {
			result.Failed++
			s.logger.Error("Pool refill failed",
				zap.String("tenant_id", tenantID.String()),
				zap.String("pool_id", pool.ID.String()),
				zap.Error(err),
			)
			continue
		}

		result.Refilled++
		result.Carried = result.Carried.Add(carried)
		result.Forfeited = result.Forfeited.Add(forfeited)
		s.logger.Info("Pool refilled",
			zap.String("tenant_id", tenantID.String()),
			zap.String("pool_id", pool.ID.String()),
			zap.String("carried", carried.String()),
			zap.String("forfeited", forfeited.String()),
		)
	}
	return result, nil
}

// refillPool resets the pool counters, then expires stale lots across the
// pool's buckets and grants the carried amount as a rollover lot on the
// first-priority bucket. The pool writes first: once its refill clock
// advances the sweep will not pick it up again, so a later bucket write
// failure can never double-grant the carried lot.
func (s *RolloverService) refillPool(ctx context.Context, pool *domainallocation.UsagePool, asOf time.Time) (carried, forfeited decimal.Decimal, err error) {
	buckets, err := s.buckets.FindByPool(ctx, pool.ID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	carried = pool.Refill(asOf)
	forfeited = decimal.Zero
	if len(buckets) == 0 {
		// No bucket to carry into; the rollover is forfeited.
		forfeited = carried
		carried = decimal.Zero
	}

	if err := s.pools.SaveWithVersion(ctx, pool); err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	for i, bucket := range buckets {
		forfeited = forfeited.Add(bucket.ExpireLots(asOf))
		if i == 0 && carried.IsPositive() {
			bucket.GrantLot(domainallocation.LotSourceRollover, carried, pool.RolloverLotExpiry(asOf))
		}
		if err := s.buckets.SaveWithVersion(ctx, bucket); err != nil {
			return decimal.Zero, decimal.Zero, err
		}
	}
	return carried, forfeited, nil
}
