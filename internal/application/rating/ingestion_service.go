package rating

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mspbill/backend/internal/domain/alerting"
	"github.com/mspbill/backend/internal/domain/allocation"
	"github.com/mspbill/backend/internal/domain/billing"
	"github.com/mspbill/backend/internal/domain/charging"
	"github.com/mspbill/backend/internal/domain/commitment"
	domainrating "github.com/mspbill/backend/internal/domain/rating"
	"github.com/mspbill/backend/internal/domain/shared"
)

// IngestionConfig tunes the pipeline's retry and idempotency behavior
type IngestionConfig struct {
	// MaxAllocationRetries bounds optimistic-concurrency retries before the
	// event fails with a capacity conflict
	MaxAllocationRetries int

	// RetryBaseDelay is the base delay between allocation retries
	// (exponential backoff)
	RetryBaseDelay time.Duration

	// Idempotency configures the fast-path duplicate check
	Idempotency shared.IdempotencyConfig
}

// DefaultIngestionConfig returns default pipeline configuration
func DefaultIngestionConfig() IngestionConfig {
	return IngestionConfig{
		MaxAllocationRetries: 3,
		RetryBaseDelay:       50 * time.Millisecond,
		Idempotency:          shared.DefaultIdempotencyConfig(),
	}
}

// EventOutcome records what happened to one event in a batch
type EventOutcome struct {
	TransactionID string
	EventID       uuid.UUID
	Status        domainrating.EventStatus
	RatedEventID  *uuid.UUID
	Duplicate     bool
	Blocked       bool
	Error         string
}

// BatchReport summarizes a batch ingestion run. Batches are operational
// groupings only: processing is per-event transactional, and a canceled
// batch leaves already-processed events committed.
type BatchReport struct {
	BatchID     string
	Received    int
	Rated       int
	Duplicates  int
	Unrated     int
	Failed      int
	Blocked     int
	Canceled    bool
	StartedAt   time.Time
	CompletedAt time.Time
	Outcomes    []EventOutcome
}

// IngestionService orchestrates the rating pipeline per incoming usage
// event: idempotency, rate resolution, allocation, charging, commitment
// tracking and alert evaluation, emitting a rated event at the end.
type IngestionService struct {
	events      domainrating.UsageEventRepository
	rules       domainrating.PricingRuleRepository
	position    domainrating.UsagePositionTracker
	pools       allocation.UsagePoolRepository
	buckets     allocation.UsageBucketRepository
	rated       billing.RatedEventRepository
	commitments commitment.Repository
	alerts      alerting.Repository
	notifier    alerting.Notifier
	idempotency shared.IdempotencyStore
	calculator  *charging.Calculator
	engine      *allocation.Engine
	metrics     PipelineRecorder
	logger      *zap.Logger
	config      IngestionConfig
}

// PipelineRecorder receives per-event pipeline instrumentation.
// Implementations must be safe for concurrent use.
type PipelineRecorder interface {
	RecordEventRated(ctx context.Context, tenantID uuid.UUID, usageType string, duration time.Duration)
	RecordDuplicate(ctx context.Context, tenantID uuid.UUID)
	RecordUnrated(ctx context.Context, tenantID uuid.UUID, usageType string)
	RecordBlocked(ctx context.Context, tenantID uuid.UUID, usageType string)
}

// NewIngestionService wires the pipeline
func NewIngestionService(
	events domainrating.UsageEventRepository,
	rules domainrating.PricingRuleRepository,
	position domainrating.UsagePositionTracker,
	pools allocation.UsagePoolRepository,
	buckets allocation.UsageBucketRepository,
	rated billing.RatedEventRepository,
	commitments commitment.Repository,
	alerts alerting.Repository,
	notifier alerting.Notifier,
	idempotency shared.IdempotencyStore,
	calculator *charging.Calculator,
	logger *zap.Logger,
	config IngestionConfig,
) *IngestionService {
	return &IngestionService{
		events:      events,
		rules:       rules,
		position:    position,
		pools:       pools,
		buckets:     buckets,
		rated:       rated,
		commitments: commitments,
		alerts:      alerts,
		notifier:    notifier,
		idempotency: idempotency,
		calculator:  calculator,
		engine:      allocation.NewEngine(),
		logger:      logger,
		config:      config,
	}
}

// SetMetrics attaches an optional pipeline instrumentation sink
func (s *IngestionService) SetMetrics(m PipelineRecorder) {
	s.metrics = m
}

// Ingest processes a single usage event through the full pipeline.
// Duplicates are rejected without side effects; events with no applicable
// rule are parked unrated, never discarded or billed at a default rate.
func (s *IngestionService) Ingest(ctx context.Context, event *domainrating.UsageEvent) EventOutcome {
	started := time.Now()
	outcome := s.ingest(ctx, event)
	s.recordOutcome(ctx, event, outcome, time.Since(started))
	return outcome
}

func (s *IngestionService) recordOutcome(ctx context.Context, event *domainrating.UsageEvent, outcome EventOutcome, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}
	switch {
	case outcome.Duplicate:
		s.metrics.RecordDuplicate(ctx, event.TenantID)
	case outcome.Blocked:
		s.metrics.RecordBlocked(ctx, event.TenantID, string(event.UsageType))
	case outcome.Status == domainrating.EventStatusRated:
		s.metrics.RecordEventRated(ctx, event.TenantID, string(event.UsageType), elapsed)
	case outcome.Status == domainrating.EventStatusUnrated:
		s.metrics.RecordUnrated(ctx, event.TenantID, string(event.UsageType))
	}
}

func (s *IngestionService) ingest(ctx context.Context, event *domainrating.UsageEvent) EventOutcome {
	outcome := EventOutcome{TransactionID: event.TransactionID, EventID: event.ID}

	if dup, err := s.checkDuplicate(ctx, event); err != nil {
		outcome.Status = domainrating.EventStatusFailed
		outcome.Error = err.Error()
		return outcome
	} else if dup {
		outcome.Duplicate = true
		outcome.Status = domainrating.EventStatusReceived
		outcome.Error = domainrating.ErrDuplicateEvent.Error()
		return outcome
	}

	// Compare-and-insert at the persistence boundary is authoritative
	if err := s.events.Save(ctx, event); err != nil {
		if errors.Is(err, domainrating.ErrDuplicateEvent) {
			outcome.Duplicate = true
			outcome.Status = domainrating.EventStatusReceived
			outcome.Error = err.Error()
			return outcome
		}
		outcome.Status = domainrating.EventStatusFailed
		outcome.Error = err.Error()
		return outcome
	}

	ratedEvent, err := s.rate(ctx, event)
	if err != nil {
		return s.failEvent(ctx, event, err, outcome)
	}

	if err := s.rated.Save(ctx, ratedEvent); err != nil {
		return s.failEvent(ctx, event, err, outcome)
	}
	if err := event.MarkRated(); err != nil {
		return s.failEvent(ctx, event, err, outcome)
	}
	if err := s.events.UpdateStatus(ctx, event.ID, domainrating.EventStatusRated, ""); err != nil {
		s.logger.Warn("rated event status update failed",
			zap.String("transaction_id", event.TransactionID), zap.Error(err))
	}

	s.markProcessed(ctx, event)
	s.trackCommitments(ctx, ratedEvent)

	outcome.Status = domainrating.EventStatusRated
	outcome.RatedEventID = &ratedEvent.ID
	return outcome
}

// IngestBatch processes events one at a time. Per-event errors never abort
// the batch; cancellation stops before the next event and reports the
// batch as canceled with everything processed so far committed.
func (s *IngestionService) IngestBatch(ctx context.Context, batchID string, events []*domainrating.UsageEvent) *BatchReport {
	report := &BatchReport{
		BatchID:   batchID,
		Received:  len(events),
		StartedAt: time.Now(),
		Outcomes:  make([]EventOutcome, 0, len(events)),
	}

	for _, event := range events {
		if ctx.Err() != nil {
			report.Canceled = true
			break
		}
		if batchID != "" {
			event.WithBatch(batchID)
		}

		outcome := s.Ingest(ctx, event)
		report.Outcomes = append(report.Outcomes, outcome)

		switch {
		case outcome.Duplicate:
			report.Duplicates++
		case outcome.Blocked:
			report.Blocked++
		case outcome.Status == domainrating.EventStatusRated:
			report.Rated++
		case outcome.Status == domainrating.EventStatusUnrated:
			report.Unrated++
		default:
			report.Failed++
		}
	}

	report.CompletedAt = time.Now()
	s.logger.Info("batch ingestion completed",
		zap.String("batch_id", batchID),
		zap.Int("received", report.Received),
		zap.Int("rated", report.Rated),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("unrated", report.Unrated),
		zap.Int("failed", report.Failed),
		zap.Bool("canceled", report.Canceled))
	return report
}

// rate runs resolution, allocation and charging for an accepted event
func (s *IngestionService) rate(ctx context.Context, event *domainrating.UsageEvent) (*billing.RatedEvent, error) {
	candidates, err := s.rules.FindCandidateRules(ctx, event.TenantID, event.ClientID, event.UsageType)
	if err != nil {
		return nil, err
	}

	cumulative := decimal.Zero
	if s.position != nil {
		periodStart := aggregationPeriodStart(event.StartTime)
		cumulative, err = s.position.CumulativeUsage(ctx, event.TenantID, event.ClientID, event.UsageType, periodStart, event.StartTime)
		if err != nil {
			return nil, err
		}
	}

	resolution, err := domainrating.ResolveRate(event, candidates, cumulative)
	if err != nil {
		return nil, err
	}

	alloc, err := s.allocate(ctx, event)
	if err != nil {
		return nil, err
	}

	cost, err := s.calculator.Calculate(ctx, event, resolution, alloc)
	if err != nil {
		return nil, err
	}
	if cost.TaxPending {
		s.logger.Warn("tax provider unavailable, tax marked pending",
			zap.String("transaction_id", event.TransactionID))
	}

	return billing.NewRatedEvent(event, resolution, alloc, cost, time.Now())
}

// allocate runs the engine against the event's pool, retrying the
// optimistic-concurrency write with backoff. Exhausted retries surface
// ErrCapacityConflict, which is escalated as an operational alert rather
// than silently dropped.
func (s *IngestionService) allocate(ctx context.Context, event *domainrating.UsageEvent) (*allocation.AllocationResult, error) {
	activePools, err := s.pools.FindActiveByUsageType(ctx, event.TenantID, event.UsageType)
	if err != nil {
		return nil, err
	}
	if len(activePools) == 0 {
		return nil, nil // no pools configured; the full quantity bills at tier rates
	}
	pool := activePools[0]

	var lastErr error
	for attempt := 0; attempt <= s.config.MaxAllocationRetries; attempt++ {
		if attempt > 0 {
			delay := s.config.RetryBaseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			pool, err = s.pools.FindByID(ctx, pool.ID)
			if err != nil {
				return nil, err
			}
		}

		bucketSet, err := s.buckets.FindByPool(ctx, pool.ID)
		if err != nil {
			return nil, err
		}
		arena := allocation.NewBucketArena(bucketSet)

		result, err := s.engine.Allocate(event.Quantity, pool, arena, event.ClientID, event.StartTime)
		if err != nil {
			return nil, err
		}

		if err := s.persistAllocation(ctx, pool, result, arena); err != nil {
			if errors.Is(err, allocation.ErrCapacityConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}

		s.evaluateCapacityAlerts(ctx, pool, arena, event.StartTime)
		return result, nil
	}

	s.escalateConflict(ctx, event, pool)
	return nil, lastErr
}

// persistAllocation writes the mutated pool and buckets as one atomic
// unit. Committing them separately would let a conflict on a later row
// strand an already-committed draw-down, and the retry would then rerun
// the engine against state that includes it, consuming the event twice.
func (s *IngestionService) persistAllocation(ctx context.Context, pool *allocation.UsagePool, result *allocation.AllocationResult, arena *allocation.BucketArena) error {
	touched := make([]*allocation.UsageBucket, 0, len(result.Consumptions))
	seen := make(map[uuid.UUID]bool, len(result.Consumptions))
	for _, consumption := range result.Consumptions {
		if seen[consumption.BucketID] {
			continue
		}
		seen[consumption.BucketID] = true
		if bucket := arena.Get(consumption.BucketID); bucket != nil {
			touched = append(touched, bucket)
		}
	}
	return s.pools.SaveAllocation(ctx, pool, touched)
}

// evaluateCapacityAlerts runs the watchers bound to the pool and the
// touched buckets. Alerting failures are logged, never fatal to rating.
func (s *IngestionService) evaluateCapacityAlerts(ctx context.Context, pool *allocation.UsagePool, arena *allocation.BucketArena, now time.Time) {
	if s.alerts == nil {
		return
	}
	s.runWatchers(ctx, pool.TenantID, alerting.EntityPool, pool.ID, pool.UtilizationPercent(), now)
	for _, bucket := range arena.Buckets() {
		s.runWatchers(ctx, bucket.TenantID, alerting.EntityBucket, bucket.ID, bucket.UtilizationPercent(), now)
	}
}

func (s *IngestionService) runWatchers(ctx context.Context, tenantID uuid.UUID, kind alerting.EntityKind, entityID uuid.UUID, value decimal.Decimal, now time.Time) {
	watchers, err := s.alerts.FindByEntity(ctx, tenantID, kind, entityID)
	if err != nil {
		s.logger.Warn("alert watcher lookup failed", zap.Error(err))
		return
	}
	for _, watcher := range watchers {
		alertEvent, err := watcher.Evaluate(value, now)
		if err != nil {
			continue
		}
		if saveErr := s.alerts.Save(ctx, watcher); saveErr != nil {
			s.logger.Warn("alert state save failed", zap.Error(saveErr))
		}
		if alertEvent != nil && s.notifier != nil {
			if deliverErr := s.notifier.Deliver(ctx, alertEvent); deliverErr != nil {
				s.logger.Warn("alert delivery handoff failed", zap.Error(deliverErr))
			}
		}
	}
}

// escalateConflict raises an operational alert after allocation retries
// are exhausted
func (s *IngestionService) escalateConflict(ctx context.Context, event *domainrating.UsageEvent, pool *allocation.UsagePool) {
	s.logger.Error("allocation retries exhausted",
		zap.String("transaction_id", event.TransactionID),
		zap.String("pool_id", pool.ID.String()))
	if s.notifier == nil {
		return
	}
	_ = s.notifier.Deliver(ctx, &alerting.AlertEvent{
		AlertID:      uuid.New(),
		TenantID:     event.TenantID,
		EntityKind:   alerting.EntityPool,
		EntityID:     pool.ID,
		Status:       alerting.AlertStatusCritical,
		CurrentValue: pool.UtilizationPercent(),
		Timestamp:    time.Now(),
	})
}

// trackCommitments folds the rated event into the client's active
// commitments. The quantity routed to the commitment pool counts toward
// usage commitments alongside regular consumption.
func (s *IngestionService) trackCommitments(ctx context.Context, re *billing.RatedEvent) {
	if s.commitments == nil {
		return
	}
	active, err := s.commitments.FindActiveByClient(ctx, re.TenantID, re.ClientID)
	if err != nil {
		s.logger.Warn("commitment lookup failed", zap.Error(err))
		return
	}
	for _, c := range active {
		if err := c.Record(re.Quantity, re.Total.Amount()); err != nil {
			continue
		}
		if err := s.commitments.SaveWithVersion(ctx, c); err != nil {
			s.logger.Warn("commitment save failed",
				zap.String("commitment_id", c.ID.String()), zap.Error(err))
		}
	}
}

func (s *IngestionService) checkDuplicate(ctx context.Context, event *domainrating.UsageEvent) (bool, error) {
	if s.idempotency == nil || !s.config.Idempotency.Enabled {
		return false, nil
	}
	processed, err := s.idempotency.IsProcessed(ctx, event.TransactionID)
	if err != nil {
		// Fast path only; the unique constraint still catches duplicates
		s.logger.Warn("idempotency fast-path unavailable", zap.Error(err))
		return false, nil
	}
	return processed, nil
}

func (s *IngestionService) markProcessed(ctx context.Context, event *domainrating.UsageEvent) {
	if s.idempotency == nil || !s.config.Idempotency.Enabled {
		return
	}
	if _, err := s.idempotency.MarkProcessed(ctx, event.TransactionID, s.config.Idempotency.TTL); err != nil {
		s.logger.Warn("idempotency mark failed", zap.Error(err))
	}
}

// failEvent records a per-event failure. No-rule events park unrated for
// manual review; blocked events surface as blocked; everything else fails.
func (s *IngestionService) failEvent(ctx context.Context, event *domainrating.UsageEvent, cause error, outcome EventOutcome) EventOutcome {
	outcome.Error = cause.Error()

	switch {
	case errors.Is(cause, domainrating.ErrNoApplicableRule):
		event.MarkUnrated(cause.Error())
		outcome.Status = domainrating.EventStatusUnrated
	case errors.Is(cause, allocation.ErrAllocationBlocked):
		event.MarkFailed(cause.Error())
		outcome.Status = domainrating.EventStatusFailed
		outcome.Blocked = true
	default:
		event.MarkFailed(cause.Error())
		outcome.Status = domainrating.EventStatusFailed
	}

	if err := s.events.UpdateStatus(ctx, event.ID, event.Status, event.StatusReason); err != nil {
		s.logger.Warn("event status update failed",
			zap.String("transaction_id", event.TransactionID), zap.Error(err))
	}
	return outcome
}

// aggregationPeriodStart is the monthly rating period the cumulative
// usage position is tracked within
func aggregationPeriodStart(ts time.Time) time.Time {
	ts = ts.UTC()
	return time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
}
