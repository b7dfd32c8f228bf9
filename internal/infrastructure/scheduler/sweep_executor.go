package scheduler

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appagg "github.com/mspbill/backend/internal/application/aggregation"
	appalerting "github.com/mspbill/backend/internal/application/alerting"
	appallocation "github.com/mspbill/backend/internal/application/allocation"
	appcommitment "github.com/mspbill/backend/internal/application/commitment"
	domainagg "github.com/mspbill/backend/internal/domain/aggregation"
)

// TenantSource lists the tenants a cross-tenant sweep fans out over
type TenantSource interface {
	ActiveTenantIDs(ctx context.Context) ([]uuid.UUID, error)
}

// SweepExecutor runs sweep jobs against the application services. A job
// with a nil tenant fans out over every active tenant; per-tenant failures
// are logged and do not abort the remaining tenants.
type SweepExecutor struct {
	aggregation *appagg.Service
	evaluation  *appcommitment.EvaluationService
	monitor     *appalerting.MonitorService
	rollover    *appallocation.RolloverService
	tenants     TenantSource
	logger      *zap.Logger
}

// NewSweepExecutor creates the executor
func NewSweepExecutor(
	aggregation *appagg.Service,
	evaluation *appcommitment.EvaluationService,
	monitor *appalerting.MonitorService,
	rollover *appallocation.RolloverService,
	tenants TenantSource,
	logger *zap.Logger,
) *SweepExecutor {
	return &SweepExecutor{
		aggregation: aggregation,
		evaluation:  evaluation,
		monitor:     monitor,
		rollover:    rollover,
		tenants:     tenants,
		logger:      logger,
	}
}

// Execute runs a single sweep job
func (e *SweepExecutor) Execute(ctx context.Context, job *Job) error {
	switch job.Kind {
	case SweepKindAggregation:
		return e.runAggregation(ctx, job)
	case SweepKindCommitment:
		return e.runCommitmentSweep(ctx, job)
	case SweepKindEscalation:
		return e.runEscalation(ctx, job)
	case SweepKindRollover:
		return e.runRollover(ctx, job)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidSweepKind, job.Kind)
	}
}

// runAggregation recomputes the rollups containing the job's reference
// instant. Upserts are idempotent, so re-running a period is safe.
func (e *SweepExecutor) runAggregation(ctx context.Context, job *Job) error {
	tenantIDs, err := e.resolveTenants(ctx, job)
	if err != nil {
		return err
	}

	levels := []domainagg.AggregationLevel{
		domainagg.LevelDaily,
		domainagg.LevelWeekly,
		domainagg.LevelMonthly,
	}

	failed := 0
	for _, tenantID := range tenantIDs {
		for _, level := range levels {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			result, err := e.aggregation.Aggregate(ctx, tenantID, level, job.AsOf)
			if err != nil {
				failed++
				e.logger.Error("Aggregation sweep failed for tenant",
					zap.String("tenant_id", tenantID.String()),
					zap.String("level", string(level)),
					zap.Error(err),
				)
				continue
			}
			e.logger.Debug("Aggregation sweep completed for tenant",
				zap.String("tenant_id", tenantID.String()),
				zap.String("level", string(level)),
				zap.Int("rows_written", result.RowsWritten),
			)
		}
	}
	if failed > 0 {
		return fmt.Errorf("aggregation sweep failed for %d tenant/level pairs", failed)
	}
	return nil
}

// runCommitmentSweep closes every commitment period due at the job's
// reference instant. The sweep is cross-tenant; failed closes stay due
// and the next run retries them.
func (e *SweepExecutor) runCommitmentSweep(ctx context.Context, job *Job) error {
	result, err := e.evaluation.Sweep(ctx, job.AsOf)
	if err != nil {
		return err
	}
	e.logger.Info("Commitment sweep completed",
		zap.Int("evaluated", result.Evaluated),
		zap.Int("met", result.Met),
		zap.Int("shortfalls", result.Shortfalls),
		zap.Int("failed", result.Failed),
	)
	if result.Failed > 0 {
		return fmt.Errorf("commitment sweep left %d periods unclosed", result.Failed)
	}
	return nil
}

// runEscalation re-checks unacknowledged triggered alerts
func (e *SweepExecutor) runEscalation(ctx context.Context, job *Job) error {
	tenantIDs, err := e.resolveTenants(ctx, job)
	if err != nil {
		return err
	}

	failed := 0
	total := 0
	for _, tenantID := range tenantIDs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		escalated, err := e.monitor.EscalateOverdue(ctx, tenantID, job.AsOf)
		if err != nil {
			failed++
			e.logger.Error("Escalation sweep failed for tenant",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err),
			)
			continue
		}
		total += escalated
	}
	if total > 0 {
		e.logger.Info("Escalation sweep completed", zap.Int("escalated", total))
	}
	if failed > 0 {
		return fmt.Errorf("escalation sweep failed for %d tenants", failed)
	}
	return nil
}

// runRollover refills every pool whose allowance period has elapsed
func (e *SweepExecutor) runRollover(ctx context.Context, job *Job) error {
	tenantIDs, err := e.resolveTenants(ctx, job)
	if err != nil {
		return err
	}

	failed := 0
	refilled := 0
	for _, tenantID := range tenantIDs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		result, err := e.rollover.Refill(ctx, tenantID, job.AsOf)
		if err != nil {
			failed++
			e.logger.Error("Rollover sweep failed for tenant",
				zap.String("tenant_id", tenantID.String()),
				zap.Error(err),
			)
			continue
		}
		failed += result.Failed
		refilled += result.Refilled
	}
	if refilled > 0 {
		e.logger.Info("Rollover sweep completed", zap.Int("pools_refilled", refilled))
	}
	if failed > 0 {
		return fmt.Errorf("rollover sweep failed for %d pools or tenants", failed)
	}
	return nil
}

func (e *SweepExecutor) resolveTenants(ctx context.Context, job *Job) ([]uuid.UUID, error) {
	if job.TenantID != nil {
		return []uuid.UUID{*job.TenantID}, nil
	}
	return e.tenants.ActiveTenantIDs(ctx)
}
