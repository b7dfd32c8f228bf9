package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mspbill/backend/internal/domain/allocation"
	"github.com/mspbill/backend/internal/domain/rating"
	"github.com/mspbill/backend/internal/domain/shared"
	"github.com/mspbill/backend/internal/infrastructure/persistence/models"
	"github.com/mspbill/backend/internal/infrastructure/persistence/tenant"
)

// GormUsagePoolRepository implements allocation.UsagePoolRepository.
type GormUsagePoolRepository struct {
	db *gorm.DB
}

// NewUsagePoolRepository creates a new usage pool repository
func NewUsagePoolRepository(db *gorm.DB) *GormUsagePoolRepository {
	return &GormUsagePoolRepository{db: db}
}

// Save creates or updates a pool without a version check
func (r *GormUsagePoolRepository) Save(ctx context.Context, pool *allocation.UsagePool) error {
	model := models.UsagePoolModelFromDomain(pool)
	return r.db.WithContext(ctx).Save(model).Error
}

// SaveWithVersion writes the pool's capacity state under the optimistic
// concurrency check. A stale version means a concurrent allocation won the
// race; the caller reloads and retries.
func (r *GormUsagePoolRepository) SaveWithVersion(ctx context.Context, pool *allocation.UsagePool) error {
	if err := poolVersionedUpdate(r.db.WithContext(ctx), pool); err != nil {
		return err
	}
	pool.IncrementVersion()
	return nil
}

// poolVersionedUpdate performs the version-checked pool write without
// bumping the in-memory version; see bucketVersionedUpdate.
func poolVersionedUpdate(tx *gorm.DB, pool *allocation.UsagePool) error {
	result := tx.
		Model(&models.UsagePoolModel{}).
		Where("id = ? AND version = ?", pool.ID, pool.Version).
		Updates(map[string]interface{}{
			"total_capacity":     pool.TotalCapacity,
			"allocated_capacity": pool.AllocatedCapacity,
			"used_capacity":      pool.UsedCapacity,
			"rollover_policy":    string(pool.RolloverPolicy),
			"rollover_cap_pct":   pool.RolloverCapPct,
			"overflow_behavior":  string(pool.OverflowBehavior),
			"refill_period_days": pool.RefillPeriodDays,
			"last_refill_at":     pool.LastRefillAt,
			"lifecycle":          string(pool.Lifecycle),
			"version":            pool.Version + 1,
			"updated_at":         time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return allocation.ErrCapacityConflict
	}
	return nil
}

// SaveAllocation commits one allocation's capacity writes in a single
// transaction. Bucket draw-downs and the pool counters land together or
// not at all: a version conflict on any row rolls the whole draw-down
// back, so a retried allocation never sees a partially applied one.
func (r *GormUsagePoolRepository) SaveAllocation(ctx context.Context, pool *allocation.UsagePool, buckets []*allocation.UsageBucket) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, bucket := range buckets {
			if err := bucketVersionedUpdate(tx, bucket); err != nil {
				return err
			}
		}
		return poolVersionedUpdate(tx, pool)
	})
	if err != nil {
		return err
	}
	for _, bucket := range buckets {
		bucket.IncrementVersion()
	}
	pool.IncrementVersion()
	return nil
}

// FindByID retrieves a pool by its ID
func (r *GormUsagePoolRepository) FindByID(ctx context.Context, id uuid.UUID) (*allocation.UsagePool, error) {
	var model models.UsagePoolModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindActiveByUsageType retrieves a tenant's active pools for a usage type
func (r *GormUsagePoolRepository) FindActiveByUsageType(ctx context.Context, tenantID uuid.UUID, usageType rating.UsageType) ([]*allocation.UsagePool, error) {
	var found []models.UsagePoolModel
	err := r.db.WithContext(ctx).
		Scopes(tenant.TenantScope(tenantID)).
		Where("usage_type = ? AND lifecycle = ?", string(usageType), string(shared.LifecycleActive)).
		Order("created_at ASC").
		Find(&found).Error
	if err != nil {
		return nil, err
	}

	pools := make([]*allocation.UsagePool, len(found))
	for i := range found {
		pools[i] = found[i].ToDomain()
	}
	return pools, nil
}

// FindRefillable retrieves a tenant's active pools with a refill period set
func (r *GormUsagePoolRepository) FindRefillable(ctx context.Context, tenantID uuid.UUID) ([]*allocation.UsagePool, error) {
	var found []models.UsagePoolModel
	err := r.db.WithContext(ctx).
		Scopes(tenant.TenantScope(tenantID)).
		Where("refill_period_days > 0 AND lifecycle = ?", string(shared.LifecycleActive)).
		Order("created_at ASC").
		Find(&found).Error
	if err != nil {
		return nil, err
	}

	pools := make([]*allocation.UsagePool, len(found))
	for i := range found {
		pools[i] = found[i].ToDomain()
	}
	return pools, nil
}
