package persistence

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mspbill/backend/internal/domain/allocation"
	"github.com/mspbill/backend/internal/domain/rating"
	"github.com/mspbill/backend/internal/domain/shared"
	"github.com/mspbill/backend/internal/infrastructure/persistence/models"
)

func setupUsagePoolTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(&models.UsagePoolModel{})
	require.NoError(t, err)

	return db
}

func newTestUsagePool(t *testing.T, tenantID uuid.UUID) *allocation.UsagePool {
	t.Helper()
	pool, err := allocation.NewUsagePool(
		tenantID, "shared voice minutes",
		rating.UsageTypeVoice,
		decimal.NewFromInt(10000),
		allocation.AllocationMethodPriority,
	)
	require.NoError(t, err)
	return pool
}

func TestGormUsagePoolRepository_SaveAndFind(t *testing.T) {
	db := setupUsagePoolTestDB(t)
	repo := NewUsagePoolRepository(db)
	ctx := context.Background()

	t.Run("round-trips a pool", func(t *testing.T) {
		pool := newTestUsagePool(t, uuid.New())
		require.NoError(t, repo.Save(ctx, pool))

		found, err := repo.FindByID(ctx, pool.ID)
		require.NoError(t, err)
		assert.Equal(t, "shared voice minutes", found.Name)
		assert.Equal(t, allocation.AllocationMethodPriority, found.AllocationMethod)
		assert.True(t, found.TotalCapacity.Equal(decimal.NewFromInt(10000)))
		assert.Equal(t, pool.Version, found.Version)
	})

	t.Run("returns not found for unknown pool", func(t *testing.T) {
		_, err := repo.FindByID(ctx, uuid.New())
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestGormUsagePoolRepository_SaveWithVersion(t *testing.T) {
	db := setupUsagePoolTestDB(t)
	repo := NewUsagePoolRepository(db)
	ctx := context.Background()

	t.Run("persists capacity changes and bumps the version", func(t *testing.T) {
		pool := newTestUsagePool(t, uuid.New())
		require.NoError(t, repo.Save(ctx, pool))

		before := pool.Version
		pool.UsedCapacity = decimal.NewFromInt(250)
		require.NoError(t, repo.SaveWithVersion(ctx, pool))
		assert.Equal(t, before+1, pool.Version)

		found, err := repo.FindByID(ctx, pool.ID)
		require.NoError(t, err)
		assert.True(t, found.UsedCapacity.Equal(decimal.NewFromInt(250)))
		assert.Equal(t, before+1, found.Version)
	})

	t.Run("rejects a stale version", func(t *testing.T) {
		pool := newTestUsagePool(t, uuid.New())
		require.NoError(t, repo.Save(ctx, pool))

		winner, err := repo.FindByID(ctx, pool.ID)
		require.NoError(t, err)
		winner.UsedCapacity = decimal.NewFromInt(100)
		require.NoError(t, repo.SaveWithVersion(ctx, winner))

		pool.UsedCapacity = decimal.NewFromInt(900)
		err = repo.SaveWithVersion(ctx, pool)
		assert.ErrorIs(t, err, allocation.ErrCapacityConflict)

		// the loser's write left no trace
		found, err := repo.FindByID(ctx, pool.ID)
		require.NoError(t, err)
		assert.True(t, found.UsedCapacity.Equal(decimal.NewFromInt(100)))
	})
}

func TestGormUsagePoolRepository_FindActiveByUsageType(t *testing.T) {
	db := setupUsagePoolTestDB(t)
	repo := NewUsagePoolRepository(db)
	ctx := context.Background()

	tenantID := uuid.New()
	voice := newTestUsagePool(t, tenantID)
	require.NoError(t, repo.Save(ctx, voice))

	data, err := allocation.NewUsagePool(tenantID, "data bundle",
		rating.UsageTypeData, decimal.NewFromInt(500000), allocation.AllocationMethodFCFS)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, data))

	retired := newTestUsagePool(t, tenantID)
	require.NoError(t, retired.Archive())
	require.NoError(t, repo.Save(ctx, retired))

	found, err := repo.FindActiveByUsageType(ctx, tenantID, rating.UsageTypeVoice)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, voice.ID, found[0].ID)
}

func TestGormUsagePoolRepository_FindRefillable(t *testing.T) {
	db := setupUsagePoolTestDB(t)
	repo := NewUsagePoolRepository(db)
	ctx := context.Background()

	tenantID := uuid.New()
	recurring := newTestUsagePool(t, tenantID)
	recurring.RefillPeriodDays = 30
	require.NoError(t, repo.Save(ctx, recurring))

	oneOff := newTestUsagePool(t, tenantID)
	require.NoError(t, repo.Save(ctx, oneOff))

	retired := newTestUsagePool(t, tenantID)
	retired.RefillPeriodDays = 30
	require.NoError(t, retired.Archive())
	require.NoError(t, repo.Save(ctx, retired))

	otherTenant := newTestUsagePool(t, uuid.New())
	otherTenant.RefillPeriodDays = 30
	require.NoError(t, repo.Save(ctx, otherTenant))

	found, err := repo.FindRefillable(ctx, tenantID)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, recurring.ID, found[0].ID)
	assert.Equal(t, 30, found[0].RefillPeriodDays)
}

func setupAllocationStoreTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// a single connection keeps every :memory: transaction on the same
	// database and lets concurrent transactions queue instead of failing
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(&models.UsagePoolModel{}, &models.UsageBucketModel{})
	require.NoError(t, err)

	return db
}

func seedPoolWithBucket(t *testing.T, db *gorm.DB, capacity int64) (*allocation.UsagePool, *allocation.UsageBucket) {
	t.Helper()
	ctx := context.Background()
	pools := NewUsagePoolRepository(db)
	buckets := NewUsageBucketRepository(db)

	pool := newTestUsagePool(t, uuid.New())
	pool.TotalCapacity = decimal.NewFromInt(capacity)
	require.NoError(t, pools.Save(ctx, pool))

	bucket, err := allocation.NewUsageBucket(pool.TenantID, pool.ID, "plan", decimal.NewFromInt(capacity), 1)
	require.NoError(t, err)
	require.NoError(t, buckets.Save(ctx, bucket))

	return pool, bucket
}

func TestGormUsagePoolRepository_SaveAllocation(t *testing.T) {
	ctx := context.Background()

	t.Run("commits pool and bucket writes together", func(t *testing.T) {
		db := setupAllocationStoreTestDB(t)
		pools := NewUsagePoolRepository(db)
		buckets := NewUsageBucketRepository(db)
		pool, bucket := seedPoolWithBucket(t, db, 1000)

		pool.UsedCapacity = decimal.NewFromInt(100)
		bucket.Used = decimal.NewFromInt(100)
		require.NoError(t, pools.SaveAllocation(ctx, pool, []*allocation.UsageBucket{bucket}))

		foundPool, err := pools.FindByID(ctx, pool.ID)
		require.NoError(t, err)
		assert.True(t, foundPool.UsedCapacity.Equal(decimal.NewFromInt(100)))
		foundBucket, err := buckets.FindByID(ctx, bucket.ID)
		require.NoError(t, err)
		assert.True(t, foundBucket.Used.Equal(decimal.NewFromInt(100)))
		assert.Equal(t, pool.Version, foundPool.Version)
		assert.Equal(t, bucket.Version, foundBucket.Version)
	})

	t.Run("pool conflict rolls the bucket draw-down back", func(t *testing.T) {
		db := setupAllocationStoreTestDB(t)
		pools := NewUsagePoolRepository(db)
		buckets := NewUsageBucketRepository(db)
		pool, bucket := seedPoolWithBucket(t, db, 1000)

		// a concurrent allocation advances the stored pool version
		winner, err := pools.FindByID(ctx, pool.ID)
		require.NoError(t, err)
		winner.UsedCapacity = decimal.NewFromInt(50)
		require.NoError(t, pools.SaveWithVersion(ctx, winner))

		pool.UsedCapacity = decimal.NewFromInt(100)
		bucket.Used = decimal.NewFromInt(100)
		err = pools.SaveAllocation(ctx, pool, []*allocation.UsageBucket{bucket})
		assert.ErrorIs(t, err, allocation.ErrCapacityConflict)

		// the bucket write committed inside the failed transaction must not survive
		foundBucket, err := buckets.FindByID(ctx, bucket.ID)
		require.NoError(t, err)
		assert.True(t, foundBucket.Used.IsZero(),
			"bucket draw-down leaked out of a rolled-back allocation: used=%s", foundBucket.Used)
		foundPool, err := pools.FindByID(ctx, pool.ID)
		require.NoError(t, err)
		assert.True(t, foundPool.UsedCapacity.Equal(decimal.NewFromInt(50)))
	})

	t.Run("bucket conflict rolls back earlier bucket writes", func(t *testing.T) {
		db := setupAllocationStoreTestDB(t)
		pools := NewUsagePoolRepository(db)
		buckets := NewUsageBucketRepository(db)
		pool, first := seedPoolWithBucket(t, db, 1000)

		second, err := allocation.NewUsageBucket(pool.TenantID, pool.ID, "bonus", decimal.NewFromInt(500), 2)
		require.NoError(t, err)
		require.NoError(t, buckets.Save(ctx, second))

		// the second bucket is modified out from under this allocation
		winner, err := buckets.FindByID(ctx, second.ID)
		require.NoError(t, err)
		winner.Used = decimal.NewFromInt(10)
		require.NoError(t, buckets.SaveWithVersion(ctx, winner))

		first.Used = decimal.NewFromInt(300)
		second.Used = decimal.NewFromInt(200)
		pool.UsedCapacity = decimal.NewFromInt(500)
		err = pools.SaveAllocation(ctx, pool, []*allocation.UsageBucket{first, second})
		assert.ErrorIs(t, err, allocation.ErrCapacityConflict)

		foundFirst, err := buckets.FindByID(ctx, first.ID)
		require.NoError(t, err)
		assert.True(t, foundFirst.Used.IsZero())
	})
}

// Concurrent allocations against one pool must conserve capacity: every
// draw-down lands exactly once no matter how the optimistic writes interleave.
func TestGormUsagePoolRepository_ConcurrentAllocations(t *testing.T) {
	db := setupAllocationStoreTestDB(t)
	pools := NewUsagePoolRepository(db)
	buckets := NewUsageBucketRepository(db)
	ctx := context.Background()

	const workers = 10
	capacity := int64(1000)
	share := decimal.NewFromInt(capacity / workers)
	pool, bucket := seedPoolWithBucket(t, db, capacity)

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for attempt := 0; attempt < workers*10; attempt++ {
				p, err := pools.FindByID(ctx, pool.ID)
				if err != nil {
					errs <- err
					return
				}
				b, err := buckets.FindByID(ctx, bucket.ID)
				if err != nil {
					errs <- err
					return
				}
				p.UsedCapacity = p.UsedCapacity.Add(share)
				b.Used = b.Used.Add(share)

				err = pools.SaveAllocation(ctx, p, []*allocation.UsageBucket{b})
				if err == nil {
					return
				}
				if !errors.Is(err, allocation.ErrCapacityConflict) {
					errs <- err
					return
				}
			}
			errs <- allocation.ErrCapacityConflict
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	foundPool, err := pools.FindByID(ctx, pool.ID)
	require.NoError(t, err)
	assert.True(t, foundPool.UsedCapacity.Equal(decimal.NewFromInt(capacity)),
		"pool used %s, want %d", foundPool.UsedCapacity, capacity)
	foundBucket, err := buckets.FindByID(ctx, bucket.ID)
	require.NoError(t, err)
	assert.True(t, foundBucket.Used.Equal(decimal.NewFromInt(capacity)),
		"bucket used %s, want %d", foundBucket.Used, capacity)
	assert.Equal(t, pool.Version+workers, foundPool.Version)
}
