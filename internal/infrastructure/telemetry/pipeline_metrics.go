// Package telemetry provides OpenTelemetry integration for metrics collection.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// PipelineMetrics tracks the health of the rating pipeline: events rated,
// duplicates rejected, allocation conflicts, and pool utilization.
type PipelineMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	// Counter metrics (monotonically increasing)
	eventsRatedTotal     *Counter
	eventsDuplicateTotal *Counter
	eventsUnratedTotal   *Counter
	eventsBlockedTotal   *Counter
	allocationConflicts  *Counter
	alertsEmittedTotal   *Counter

	// Histogram metrics
	ratingDuration *Histogram

	// Gauge metrics (point-in-time values)
	poolUtilization *FloatGauge

	// Periodic collector
	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once

	// Data provider for periodic collection
	poolProvider PoolMetricsProvider
}

// PoolMetricsProvider provides pool state for periodic metrics collection.
// This interface lets the telemetry layer query allocation state without
// depending on the allocation domain directly.
type PoolMetricsProvider interface {
	// GetPoolUtilization returns utilization percent per active pool for a tenant
	GetPoolUtilization(ctx context.Context, tenantID uuid.UUID) (map[uuid.UUID]decimal.Decimal, error)
}

// PipelineMetricsConfig holds configuration for pipeline metrics.
type PipelineMetricsConfig struct {
	Meter           metric.Meter
	Logger          *zap.Logger
	CollectInterval time.Duration // Default: 5 minutes
	PoolProvider    PoolMetricsProvider
}

// NewPipelineMetrics creates a new PipelineMetrics instance.
func NewPipelineMetrics(cfg PipelineMetricsConfig) (*PipelineMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	pm := &PipelineMetrics{
		meter:        cfg.Meter,
		logger:       logger,
		stopChan:     make(chan struct{}),
		poolProvider: cfg.PoolProvider,
	}

	var err error

	pm.eventsRatedTotal, err = NewCounter(pm.meter,
		"rating.events_rated_total",
		"Total usage events successfully rated",
		"{event}")
	if err != nil {
		return nil, err
	}

	pm.eventsDuplicateTotal, err = NewCounter(pm.meter,
		"rating.events_duplicate_total",
		"Total usage events rejected as duplicate transaction IDs",
		"{event}")
	if err != nil {
		return nil, err
	}

	pm.eventsUnratedTotal, err = NewCounter(pm.meter,
		"rating.events_unrated_total",
		"Total usage events parked with no applicable pricing rule",
		"{event}")
	if err != nil {
		return nil, err
	}

	pm.eventsBlockedTotal, err = NewCounter(pm.meter,
		"rating.events_blocked_total",
		"Total usage events blocked by pool overflow policy",
		"{event}")
	if err != nil {
		return nil, err
	}

	pm.allocationConflicts, err = NewCounter(pm.meter,
		"rating.allocation_conflicts_total",
		"Total optimistic-lock conflicts during bucket allocation",
		"{conflict}")
	if err != nil {
		return nil, err
	}

	pm.alertsEmittedTotal, err = NewCounter(pm.meter,
		"alerting.alerts_emitted_total",
		"Total usage alert events handed to the notifier",
		"{alert}")
	if err != nil {
		return nil, err
	}

	pm.ratingDuration, err = NewHistogram(pm.meter, HistogramOpts{
		Name:        "rating.event_duration",
		Description: "End-to-end duration of rating a single usage event",
		Unit:        "s",
		Boundaries:  SmallDurationBuckets,
	})
	if err != nil {
		return nil, err
	}

	pm.poolUtilization, err = NewFloatGauge(pm.meter,
		"allocation.pool_utilization",
		"Current utilization percent per usage pool",
		"%")
	if err != nil {
		return nil, err
	}

	return pm, nil
}

// RecordEventRated records a successfully rated event.
func (pm *PipelineMetrics) RecordEventRated(ctx context.Context, tenantID uuid.UUID, usageType string, duration time.Duration) {
	pm.eventsRatedTotal.Inc(ctx,
		AttrTenantID.String(tenantID.String()),
		AttrUsageType.String(usageType),
	)
	pm.ratingDuration.RecordDuration(ctx, duration,
		AttrTenantID.String(tenantID.String()),
		AttrUsageType.String(usageType),
	)
}

// RecordDuplicate records a duplicate submission.
func (pm *PipelineMetrics) RecordDuplicate(ctx context.Context, tenantID uuid.UUID) {
	pm.eventsDuplicateTotal.Inc(ctx, AttrTenantID.String(tenantID.String()))
}

// RecordUnrated records an event parked without a pricing rule.
func (pm *PipelineMetrics) RecordUnrated(ctx context.Context, tenantID uuid.UUID, usageType string) {
	pm.eventsUnratedTotal.Inc(ctx,
		AttrTenantID.String(tenantID.String()),
		AttrUsageType.String(usageType),
	)
}

// RecordBlocked records an event rejected by a BLOCK overflow policy.
func (pm *PipelineMetrics) RecordBlocked(ctx context.Context, tenantID uuid.UUID, usageType string) {
	pm.eventsBlockedTotal.Inc(ctx,
		AttrTenantID.String(tenantID.String()),
		AttrUsageType.String(usageType),
	)
}

// RecordAllocationConflict records an optimistic-lock retry.
func (pm *PipelineMetrics) RecordAllocationConflict(ctx context.Context, tenantID uuid.UUID) {
	pm.allocationConflicts.Inc(ctx, AttrTenantID.String(tenantID.String()))
}

// RecordAlertEmitted records an alert event delivery handoff.
func (pm *PipelineMetrics) RecordAlertEmitted(ctx context.Context, tenantID uuid.UUID, status string) {
	pm.alertsEmittedTotal.Inc(ctx,
		AttrTenantID.String(tenantID.String()),
		AttrAlertStatus.String(status),
	)
}

// StartPeriodicCollection starts a goroutine that periodically samples pool
// utilization through the provider. Safe to call once; subsequent calls are
// no-ops.
func (pm *PipelineMetrics) StartPeriodicCollection(ctx context.Context, tenantID uuid.UUID, interval time.Duration) {
	if pm.poolProvider == nil {
		pm.logger.Debug("No pool provider configured, skipping periodic metrics collection")
		return
	}
	if interval == 0 {
		interval = 5 * time.Minute
	}

	pm.collectOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				select {
				case <-pm.stopChan:
					return
				case <-ctx.Done():
					return
				case <-ticker.C:
					pm.collectPoolUtilization(ctx, tenantID)
				}
			}
		}()
	})
}

// Stop terminates periodic collection.
func (pm *PipelineMetrics) Stop() {
	pm.stopOnce.Do(func() {
		close(pm.stopChan)
	})
}

func (pm *PipelineMetrics) collectPoolUtilization(ctx context.Context, tenantID uuid.UUID) {
	utilization, err := pm.poolProvider.GetPoolUtilization(ctx, tenantID)
	if err != nil {
		pm.logger.Warn("Failed to collect pool utilization", zap.Error(err))
		return
	}

	for poolID, pct := range utilization {
		value, _ := pct.Float64()
		pm.poolUtilization.Record(ctx, value,
			AttrTenantID.String(tenantID.String()),
			AttrPoolID.String(poolID.String()),
		)
	}
}

// MetricsError represents an error in metrics setup.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewPipelineMetrics", Err: "meter cannot be nil"}
