package aggregation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mspbill/backend/internal/domain/rating"
	"github.com/mspbill/backend/internal/domain/shared/valueobject"
)

func TestAggregationLevel_Periods(t *testing.T) {
	// Wednesday mid-month
	ts := time.Date(2025, 6, 18, 15, 30, 0, 0, time.UTC)

	t.Run("daily", func(t *testing.T) {
		assert.Equal(t, time.Date(2025, 6, 18, 0, 0, 0, 0, time.UTC), LevelDaily.PeriodStart(ts))
		assert.Equal(t, time.Date(2025, 6, 19, 0, 0, 0, 0, time.UTC), LevelDaily.PeriodEnd(ts))
	})

	t.Run("weekly starts Monday", func(t *testing.T) {
		assert.Equal(t, time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC), LevelWeekly.PeriodStart(ts))
		assert.Equal(t, time.Date(2025, 6, 23, 0, 0, 0, 0, time.UTC), LevelWeekly.PeriodEnd(ts))
	})

	t.Run("monthly", func(t *testing.T) {
		assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), LevelMonthly.PeriodStart(ts))
		assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), LevelMonthly.PeriodEnd(ts))
	})

	t.Run("sunday belongs to the preceding Monday week", func(t *testing.T) {
		sunday := time.Date(2025, 6, 22, 10, 0, 0, 0, time.UTC)
		assert.Equal(t, time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC), LevelWeekly.PeriodStart(sunday))
	})
}

func TestUsageAggregation(t *testing.T) {
	key := Key{
		TenantID:    uuid.New(),
		ClientID:    uuid.New(),
		UsageType:   rating.UsageTypeVoice,
		ServiceType: rating.ServiceTypeHostedPBX,
		Level:       LevelDaily,
		PeriodStart: time.Date(2025, 6, 18, 9, 0, 0, 0, time.UTC),
	}

	t.Run("period boundaries are normalized from the key timestamp", func(t *testing.T) {
		agg, err := NewUsageAggregation(key, valueobject.USD)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 6, 18, 0, 0, 0, 0, time.UTC), agg.PeriodStart)
		assert.Equal(t, time.Date(2025, 6, 19, 0, 0, 0, 0, time.UTC), agg.PeriodEnd)
	})

	t.Run("accumulate sums contributions", func(t *testing.T) {
		agg, err := NewUsageAggregation(key, valueobject.USD)
		require.NoError(t, err)

		agg.Accumulate(Contribution{
			Quantity: decimal.NewFromInt(150),
			Included: decimal.NewFromInt(100),
			Overage:  decimal.NewFromInt(50),
			Peak:     decimal.NewFromInt(40),
			Revenue:  decimal.NewFromFloat(1.40),
			Tax:      decimal.NewFromFloat(0.14),
			Cost:     decimal.NewFromFloat(0.90),
		})
		agg.Accumulate(Contribution{
			Quantity:   decimal.NewFromInt(60),
			Included:   decimal.NewFromInt(60),
			Peak:       decimal.NewFromInt(10),
			Revenue:    decimal.NewFromFloat(0.60),
			Tax:        decimal.NewFromFloat(0.06),
			Cost:       decimal.NewFromFloat(0.30),
			TaxPending: true,
		})

		assert.Equal(t, int64(2), agg.TransactionCount)
		assert.Equal(t, "210", agg.TotalQuantity.String())
		assert.Equal(t, "2", agg.TotalRevenue.String())
		assert.Equal(t, "0.2", agg.TotalTax.String())
		assert.Equal(t, "50", agg.PeakQuantity.String())
		assert.Equal(t, "1.2", agg.TotalCost.String())
		assert.Equal(t, int64(1), agg.TaxPendingCount)
	})

	t.Run("derived metrics follow from the accumulated fields", func(t *testing.T) {
		agg, err := NewUsageAggregation(key, valueobject.USD)
		require.NoError(t, err)

		agg.Accumulate(Contribution{
			Quantity: decimal.NewFromInt(100),
			Included: decimal.NewFromInt(100),
			Peak:     decimal.NewFromInt(30),
			Revenue:  decimal.NewFromFloat(11.00),
			Tax:      decimal.NewFromFloat(1.00),
			Cost:     decimal.NewFromFloat(6.00),
		})
		agg.Accumulate(Contribution{
			Quantity:   decimal.NewFromInt(100),
			Included:   decimal.NewFromInt(100),
			Revenue:    decimal.NewFromFloat(10.00),
			Cost:       decimal.NewFromFloat(4.00),
			TaxPending: true,
		})

		assert.Equal(t, "170", agg.OffPeakQuantity().String())
		// net revenue 20, cost 10
		assert.Equal(t, "50.00", agg.Margin().StringFixed(2))
		assert.Equal(t, "50.00", agg.ErrorRate().StringFixed(2))
	})

	t.Run("derived metrics on an empty rollup are zero", func(t *testing.T) {
		agg, err := NewUsageAggregation(key, valueobject.USD)
		require.NoError(t, err)
		assert.True(t, agg.ErrorRate().IsZero())
		assert.True(t, agg.Margin().IsZero())
		assert.True(t, agg.OffPeakQuantity().IsZero())
	})

	t.Run("key round-trips through the row", func(t *testing.T) {
		agg, err := NewUsageAggregation(key, valueobject.USD)
		require.NoError(t, err)
		got := agg.Key()
		assert.Equal(t, key.TenantID, got.TenantID)
		assert.Equal(t, LevelDaily, got.Level)
		assert.Equal(t, agg.PeriodStart, got.PeriodStart)
	})

	t.Run("invalid level is rejected", func(t *testing.T) {
		bad := key
		bad.Level = "HOURLY"
		_, err := NewUsageAggregation(bad, valueobject.USD)
		assert.Error(t, err)
	})
}
