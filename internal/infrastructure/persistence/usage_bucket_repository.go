package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mspbill/backend/internal/domain/allocation"
	"github.com/mspbill/backend/internal/domain/shared"
	"github.com/mspbill/backend/internal/infrastructure/persistence/models"
)

// GormUsageBucketRepository implements allocation.UsageBucketRepository.
type GormUsageBucketRepository struct {
	db *gorm.DB
}

// NewUsageBucketRepository creates a new usage bucket repository
func NewUsageBucketRepository(db *gorm.DB) *GormUsageBucketRepository {
	return &GormUsageBucketRepository{db: db}
}

// Save creates or updates a bucket without a version check
func (r *GormUsageBucketRepository) Save(ctx context.Context, bucket *allocation.UsageBucket) error {
	model := models.UsageBucketModelFromDomain(bucket)
	return r.db.WithContext(ctx).Save(model).Error
}

// SaveWithVersion writes the bucket's consumption state under the
// optimistic concurrency check. Lots travel with the bucket, so a lot-level
// draw conflicts the same way a counter update does.
func (r *GormUsageBucketRepository) SaveWithVersion(ctx context.Context, bucket *allocation.UsageBucket) error {
	if err := bucketVersionedUpdate(r.db.WithContext(ctx), bucket); err != nil {
		return err
	}
	bucket.IncrementVersion()
	return nil
}

// bucketVersionedUpdate performs the version-checked bucket write without
// bumping the in-memory version, so callers inside a transaction only
// advance domain state once the transaction commits.
func bucketVersionedUpdate(tx *gorm.DB, bucket *allocation.UsageBucket) error {
	lots := []byte("[]")
	if len(bucket.Lots) > 0 {
		if raw, err := json.Marshal(bucket.Lots); err == nil {
			lots = raw
		}
	}

	result := tx.
		Model(&models.UsageBucketModel{}).
		Where("id = ? AND version = ?", bucket.ID, bucket.Version).
		Updates(map[string]interface{}{
			"capacity":   bucket.Capacity,
			"used":       bucket.Used,
			"lots":       lots,
			"lifecycle":  string(bucket.Lifecycle),
			"version":    bucket.Version + 1,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return allocation.ErrCapacityConflict
	}
	return nil
}

// FindByID retrieves a bucket by its ID
func (r *GormUsageBucketRepository) FindByID(ctx context.Context, id uuid.UUID) (*allocation.UsageBucket, error) {
	var model models.UsageBucketModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByPool loads every active bucket under a pool, ordered by usage
// priority. Overflow targets live under the same pool, so this is the whole
// working set the allocation engine runs over.
func (r *GormUsageBucketRepository) FindByPool(ctx context.Context, poolID uuid.UUID) ([]*allocation.UsageBucket, error) {
	var found []models.UsageBucketModel
	err := r.db.WithContext(ctx).
		Where("pool_id = ? AND lifecycle = ?", poolID, string(shared.LifecycleActive)).
		Order("usage_priority ASC").
		Find(&found).Error
	if err != nil {
		return nil, err
	}

	buckets := make([]*allocation.UsageBucket, len(found))
	for i := range found {
		buckets[i] = found[i].ToDomain()
	}
	return buckets, nil
}
