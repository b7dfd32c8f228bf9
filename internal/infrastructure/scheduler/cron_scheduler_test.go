package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mspbill/backend/internal/infrastructure/config"
)

func TestParseCronSchedule(t *testing.T) {
	tests := []struct {
		name         string
		cronExpr     string
		expectedHour int
		expectedMin  int
	}{
		{
			name:         "Default 2am",
			cronExpr:     "0 2 * * *",
			expectedHour: 2,
			expectedMin:  0,
		},
		{
			name:         "3:30am",
			cronExpr:     "30 3 * * *",
			expectedHour: 3,
			expectedMin:  30,
		},
		{
			name:         "Midnight",
			cronExpr:     "0 0 * * *",
			expectedHour: 0,
			expectedMin:  0,
		},
		{
			name:         "11pm",
			cronExpr:     "0 23 * * *",
			expectedHour: 23,
			expectedMin:  0,
		},
		{
			name:         "Empty string defaults",
			cronExpr:     "",
			expectedHour: 2,
			expectedMin:  0,
		},
		{
			name:         "Extra whitespace",
			cronExpr:     "  15   4   *   *   *  ",
			expectedHour: 4,
			expectedMin:  15,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hour, minute, err := ParseCronSchedule(tt.cronExpr)
			assert.NoError(t, err)
			assert.Equal(t, tt.expectedHour, hour, "hour mismatch")
			assert.Equal(t, tt.expectedMin, minute, "minute mismatch")
		})
	}
}

func TestDefaultPoolConfig(t *testing.T) {
	cfg := DefaultPoolConfig()

	assert.True(t, cfg.Enabled)
	assert.Equal(t, 3, cfg.MaxConcurrentJobs)
	assert.Equal(t, 30*time.Minute, cfg.JobTimeout)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, 5*time.Minute, cfg.RetryDelay)
}

func testSchedulerConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		Enabled:             true,
		AggregationSchedule: "0 1 * * *",
		CommitmentSchedule:  "0 2 * * *",
		EscalationInterval:  5 * time.Minute,
		MaxConcurrentJobs:   2,
		JobTimeout:          time.Minute,
		RetryAttempts:       1,
		RetryDelay:          time.Second,
	}
}

func TestNewSweepCronScheduler_ParsesSchedules(t *testing.T) {
	s, err := NewSweepCronScheduler(testSchedulerConfig(), nil, nil, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, 1, s.aggregationHour)
	assert.Equal(t, 0, s.aggregationMinute)
	assert.Equal(t, 2, s.commitmentHour)
	assert.Equal(t, 0, s.commitmentMinute)
}

func TestShouldRunAggregation(t *testing.T) {
	s, err := NewSweepCronScheduler(testSchedulerConfig(), nil, nil, zap.NewNop())
	require.NoError(t, err)

	t.Run("Wrong hour", func(t *testing.T) {
		assert.False(t, s.shouldRunAggregation(time.Date(2026, 1, 15, 3, 0, 0, 0, time.UTC)))
	})

	t.Run("Wrong minute", func(t *testing.T) {
		assert.False(t, s.shouldRunAggregation(time.Date(2026, 1, 15, 1, 1, 0, 0, time.UTC)))
	})

	t.Run("Exact match runs once per day", func(t *testing.T) {
		at := time.Date(2026, 1, 15, 1, 0, 0, 0, time.UTC)
		assert.True(t, s.shouldRunAggregation(at))
		assert.False(t, s.shouldRunAggregation(at), "second check on the same date must not re-run")
		assert.True(t, s.shouldRunAggregation(at.AddDate(0, 0, 1)))
	})
}

func TestShouldRunCommitment(t *testing.T) {
	s, err := NewSweepCronScheduler(testSchedulerConfig(), nil, nil, zap.NewNop())
	require.NoError(t, err)

	at := time.Date(2026, 1, 15, 2, 0, 0, 0, time.UTC)
	assert.True(t, s.shouldRunCommitment(at))
	assert.False(t, s.shouldRunCommitment(at))
	assert.False(t, s.shouldRunCommitment(time.Date(2026, 1, 15, 1, 0, 0, 0, time.UTC)))
}

func TestCalculateNextRunTime(t *testing.T) {
	s, err := NewSweepCronScheduler(testSchedulerConfig(), nil, nil, zap.NewNop())
	require.NoError(t, err)

	s.calculateNextRunTime()
	require.NotNil(t, s.nextRunAt)
	assert.Equal(t, s.aggregationHour, s.nextRunAt.Hour())
	assert.Equal(t, s.aggregationMinute, s.nextRunAt.Minute())
	assert.False(t, s.nextRunAt.Before(time.Now().Add(-time.Minute)))
}

func TestSweepJobRecord_TableName(t *testing.T) {
	record := SweepJobRecord{}
	assert.Equal(t, "sweep_scheduler_jobs", record.TableName())
}

func TestSweepCronScheduler_GetStatus(t *testing.T) {
	s, err := NewSweepCronScheduler(testSchedulerConfig(), nil, nil, zap.NewNop())
	require.NoError(t, err)
	s.isRunning = true

	status := s.GetStatus()

	assert.Equal(t, true, status["enabled"])
	assert.Equal(t, true, status["is_running"])
	assert.Equal(t, 1, status["aggregation_hour"])
	assert.Equal(t, 2, status["commitment_hour"])
	assert.Contains(t, status, "sweep_kinds")
}

func TestSweepCronScheduler_TriggerManualRun_NotRunning(t *testing.T) {
	s, err := NewSweepCronScheduler(testSchedulerConfig(), nil, nil, zap.NewNop())
	require.NoError(t, err)

	err = s.TriggerManualRun(context.Background(), SweepKindAggregation)
	assert.ErrorIs(t, err, ErrSchedulerNotRunning)
}

func TestSweepCronScheduler_TriggerTenantAggregation_NotRunning(t *testing.T) {
	s, err := NewSweepCronScheduler(testSchedulerConfig(), nil, nil, zap.NewNop())
	require.NoError(t, err)

	err = s.TriggerTenantAggregation(context.Background(), [16]byte{}, time.Now())
	assert.ErrorIs(t, err, ErrSchedulerNotRunning)
}

func TestAllSweepKinds(t *testing.T) {
	kinds := AllSweepKinds()

	require.Len(t, kinds, 4)
	assert.Contains(t, kinds, SweepKindAggregation)
	assert.Contains(t, kinds, SweepKindCommitment)
	assert.Contains(t, kinds, SweepKindEscalation)
	assert.Contains(t, kinds, SweepKindRollover)
}
