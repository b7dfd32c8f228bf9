package allocation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mspbill/backend/internal/domain/rating"
)

func newTestPool(t *testing.T, capacity int64) *UsagePool {
	t.Helper()
	p, err := NewUsagePool(uuid.New(), "test-pool", rating.UsageTypeVoice, decimal.NewFromInt(capacity), AllocationMethodPriority)
	require.NoError(t, err)
	return p
}

func TestEngine_Allocate(t *testing.T) {
	now := time.Now()
	engine := NewEngine()
	client := uuid.New()

	t.Run("single bucket absorbs the full quantity", func(t *testing.T) {
		pool := newTestPool(t, 1000)
		b := newTestBucket(t, 500, 1)
		arena := NewBucketArena([]*UsageBucket{b})

		res, err := engine.Allocate(decimal.NewFromInt(200), pool, arena, client, now)
		require.NoError(t, err)
		assert.True(t, res.Included.Equal(decimal.NewFromInt(200)))
		assert.True(t, res.Overage.IsZero())
		require.Len(t, res.Consumptions, 1)
		assert.False(t, res.Consumptions[0].Overflowed)
		assert.True(t, pool.UsedCapacity.Equal(decimal.NewFromInt(200)))
	})

	t.Run("buckets drain in ascending priority order", func(t *testing.T) {
		pool := newTestPool(t, 1000)
		low := newTestBucket(t, 100, 2)
		high := newTestBucket(t, 100, 1)
		arena := NewBucketArena([]*UsageBucket{low, high})

		res, err := engine.Allocate(decimal.NewFromInt(150), pool, arena, client, now)
		require.NoError(t, err)
		require.Len(t, res.Consumptions, 2)
		assert.Equal(t, high.ID, res.Consumptions[0].BucketID)
		assert.True(t, res.Consumptions[0].Amount.Equal(decimal.NewFromInt(100)))
		assert.Equal(t, low.ID, res.Consumptions[1].BucketID)
		assert.True(t, res.Consumptions[1].Amount.Equal(decimal.NewFromInt(50)))
	})

	t.Run("exhausted bucket spills into its overflow chain", func(t *testing.T) {
		pool := newTestPool(t, 1000)
		primary := newTestBucket(t, 100, 1)
		spill := newTestBucket(t, 100, 5)
		arena := NewBucketArena([]*UsageBucket{primary, spill})
		require.NoError(t, arena.SetOverflow(primary.ID, spill.ID))

		res, err := engine.Allocate(decimal.NewFromInt(160), pool, arena, client, now)
		require.NoError(t, err)
		assert.True(t, res.Included.Equal(decimal.NewFromInt(160)))
		require.Len(t, res.Consumptions, 2)
		assert.True(t, res.Consumptions[1].Overflowed)
		assert.Equal(t, spill.ID, res.Consumptions[1].BucketID)
	})

	t.Run("leftover beyond all buckets becomes overage by default", func(t *testing.T) {
		pool := newTestPool(t, 1000)
		b := newTestBucket(t, 100, 1)
		arena := NewBucketArena([]*UsageBucket{b})

		res, err := engine.Allocate(decimal.NewFromInt(130), pool, arena, client, now)
		require.NoError(t, err)
		assert.True(t, res.Included.Equal(decimal.NewFromInt(100)))
		assert.True(t, res.Overage.Equal(decimal.NewFromInt(30)))
		assert.True(t, pool.UsedCapacity.Equal(decimal.NewFromInt(100)), "overage is not pool usage")
	})

	t.Run("pool-level block policy rejects the leftover", func(t *testing.T) {
		pool := newTestPool(t, 1000)
		pool.OverflowBehavior = OverflowBlock
		b := newTestBucket(t, 100, 1)
		arena := NewBucketArena([]*UsageBucket{b})

		res, err := engine.Allocate(decimal.NewFromInt(130), pool, arena, client, now)
		assert.ErrorIs(t, err, ErrAllocationBlocked)
		assert.True(t, res.Blocked)
	})

	t.Run("bucket-level policy overrides the pool", func(t *testing.T) {
		pool := newTestPool(t, 1000)
		pool.OverflowBehavior = OverflowBlock
		b := newTestBucket(t, 100, 1)
		b.WithOverflowBehavior(OverflowToCommitment)
		arena := NewBucketArena([]*UsageBucket{b})

		res, err := engine.Allocate(decimal.NewFromInt(130), pool, arena, client, now)
		require.NoError(t, err)
		assert.True(t, res.RoutedToCommitment.Equal(decimal.NewFromInt(30)))
		assert.False(t, res.Blocked)
	})

	t.Run("buckets scoped to another client are skipped", func(t *testing.T) {
		pool := newTestPool(t, 1000)
		other := newTestBucket(t, 100, 1)
		other.ForClient(uuid.New())
		shared := newTestBucket(t, 100, 2)
		arena := NewBucketArena([]*UsageBucket{other, shared})

		res, err := engine.Allocate(decimal.NewFromInt(50), pool, arena, client, now)
		require.NoError(t, err)
		require.Len(t, res.Consumptions, 1)
		assert.Equal(t, shared.ID, res.Consumptions[0].BucketID)
	})

	t.Run("archived buckets are skipped", func(t *testing.T) {
		pool := newTestPool(t, 1000)
		dead := newTestBucket(t, 100, 1)
		require.NoError(t, dead.Archive())
		live := newTestBucket(t, 100, 2)
		arena := NewBucketArena([]*UsageBucket{dead, live})

		res, err := engine.Allocate(decimal.NewFromInt(50), pool, arena, client, now)
		require.NoError(t, err)
		require.Len(t, res.Consumptions, 1)
		assert.Equal(t, live.ID, res.Consumptions[0].BucketID)
	})

	t.Run("bonus lot draws are counted separately from included", func(t *testing.T) {
		pool := newTestPool(t, 1000)
		b := newTestBucket(t, 50, 1)
		b.GrantLot(LotSourceBonus, decimal.NewFromInt(30), nil)
		arena := NewBucketArena([]*UsageBucket{b})

		res, err := engine.Allocate(decimal.NewFromInt(80), pool, arena, client, now)
		require.NoError(t, err)
		assert.True(t, res.Included.Equal(decimal.NewFromInt(50)))
		assert.True(t, res.Bonus.Equal(decimal.NewFromInt(30)))
		assert.True(t, res.Total().Equal(decimal.NewFromInt(80)))
	})

	t.Run("zero quantity allocates nothing", func(t *testing.T) {
		pool := newTestPool(t, 1000)
		b := newTestBucket(t, 100, 1)
		arena := NewBucketArena([]*UsageBucket{b})

		res, err := engine.Allocate(decimal.Zero, pool, arena, client, now)
		require.NoError(t, err)
		assert.Empty(t, res.Consumptions)
		assert.True(t, res.Total().IsZero())
	})

	t.Run("cyclic arena fails before any draw", func(t *testing.T) {
		pool := newTestPool(t, 1000)
		a := newTestBucket(t, 100, 1)
		b := newTestBucket(t, 100, 2)
		a.WithOverflow(b.ID)
		b.WithOverflow(a.ID)
		arena := NewBucketArena([]*UsageBucket{a, b})

		_, err := engine.Allocate(decimal.NewFromInt(10), pool, arena, client, now)
		assert.ErrorIs(t, err, ErrOverflowCycle)
		assert.True(t, a.Used.IsZero())
		assert.True(t, b.Used.IsZero())
	})

	t.Run("multi-hop chain drains each bucket in turn", func(t *testing.T) {
		pool := newTestPool(t, 1000)
		a := newTestBucket(t, 40, 1)
		b := newTestBucket(t, 40, 7)
		c := newTestBucket(t, 40, 8)
		arena := NewBucketArena([]*UsageBucket{a, b, c})
		require.NoError(t, arena.SetOverflow(a.ID, b.ID))
		require.NoError(t, arena.SetOverflow(b.ID, c.ID))

		res, err := engine.Allocate(decimal.NewFromInt(100), pool, arena, client, now)
		require.NoError(t, err)
		assert.True(t, res.Included.Equal(decimal.NewFromInt(100)))
		require.Len(t, res.Consumptions, 3)
		assert.True(t, res.Consumptions[2].Amount.Equal(decimal.NewFromInt(20)))
	})
}

func TestUsagePool(t *testing.T) {
	t.Run("remaining and utilization", func(t *testing.T) {
		p := newTestPool(t, 200)
		p.UsedCapacity = decimal.NewFromInt(50)
		assert.True(t, p.RemainingCapacity().Equal(decimal.NewFromInt(150)))
		assert.True(t, p.UtilizationPercent().Equal(decimal.NewFromInt(25)))
	})

	t.Run("rollover amount honors the policy", func(t *testing.T) {
		p := newTestPool(t, 100)
		p.UsedCapacity = decimal.NewFromInt(40)

		assert.True(t, p.RolloverAmount().IsZero(), "NONE forfeits everything")

		p.RolloverPolicy = RolloverFull
		assert.True(t, p.RolloverAmount().Equal(decimal.NewFromInt(60)))

		p.RolloverPolicy = RolloverCapped
		p.RolloverCapPct = decimal.NewFromInt(25)
		assert.True(t, p.RolloverAmount().Equal(decimal.NewFromInt(25)), "capped at 25% of capacity")
	})

	t.Run("archive is not repeatable", func(t *testing.T) {
		p := newTestPool(t, 100)
		require.NoError(t, p.Archive())
		assert.Error(t, p.Archive())
	})

	t.Run("refill due-ness follows the refill clock", func(t *testing.T) {
		now := time.Now()
		p := newTestPool(t, 100)

		assert.False(t, p.DueForRefill(now), "no refill period configured")

		p.RefillPeriodDays = 30
		p.LastRefillAt = now.AddDate(0, 0, -31)
		assert.True(t, p.DueForRefill(now))

		p.LastRefillAt = now.AddDate(0, 0, -10)
		assert.False(t, p.DueForRefill(now))

		p.LastRefillAt = time.Time{}
		p.CreatedAt = now.AddDate(0, 0, -31)
		assert.True(t, p.DueForRefill(now), "never-refilled pool anchors at creation")

		p.LastRefillAt = now.AddDate(0, 0, -31)
		require.NoError(t, p.Archive())
		assert.False(t, p.DueForRefill(now), "archived pools are never due")
	})

	t.Run("refill resets counters and returns the carried amount", func(t *testing.T) {
		now := time.Now()
		p := newTestPool(t, 100)
		p.RolloverPolicy = RolloverFull
		p.UsedCapacity = decimal.NewFromInt(70)
		p.AllocatedCapacity = decimal.NewFromInt(90)

		carried := p.Refill(now)

		assert.True(t, carried.Equal(decimal.NewFromInt(30)))
		assert.True(t, p.UsedCapacity.IsZero())
		assert.True(t, p.AllocatedCapacity.IsZero())
		assert.Equal(t, now, p.LastRefillAt)
	})

	t.Run("rollover lot expiry tracks the pool setting", func(t *testing.T) {
		now := time.Now()
		p := newTestPool(t, 100)

		assert.Nil(t, p.RolloverLotExpiry(now), "zero expiry means lots never expire")

		p.RolloverExpiry = 24 * time.Hour
		expiry := p.RolloverLotExpiry(now)
		require.NotNil(t, expiry)
		assert.Equal(t, now.Add(24*time.Hour), *expiry)
	})
}
