package commitment

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mspbill/backend/internal/domain/alerting"
	domaincommitment "github.com/mspbill/backend/internal/domain/commitment"
)

var hundredPercent = decimal.NewFromInt(100)

// EvaluationService closes commitment periods on schedule. A period-close
// failure is fatal to that period and retried on the next sweep before the
// next period can open; successfully closed periods are never re-closed.
// The period-closed event rides the aggregate into the repository, which
// commits it to the outbox alongside the close.
type EvaluationService struct {
	commitments domaincommitment.Repository
	notifier    alerting.Notifier
	logger      *zap.Logger
	batchSize   int
}

// NewEvaluationService creates the period-close sweeper
func NewEvaluationService(repo domaincommitment.Repository, notifier alerting.Notifier, logger *zap.Logger) *EvaluationService {
	return &EvaluationService{
		commitments: repo,
		notifier:    notifier,
		logger:      logger,
		batchSize:   100,
	}
}

// SweepResult summarizes one evaluation sweep
type SweepResult struct {
	Evaluated  int
	Met        int
	Shortfalls int
	Failed     int
}

// Sweep evaluates every commitment whose period boundary has passed.
// Failures are logged and left due so the next sweep retries them.
func (s *EvaluationService) Sweep(ctx context.Context, asOf time.Time) (*SweepResult, error) {
	due, err := s.commitments.FindDueForEvaluation(ctx, asOf, s.batchSize)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{}
	for _, c := range due {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		eval, err := c.EvaluatePeriod(asOf)
		if err != nil {
			result.Failed++
			s.logger.Error("commitment period close failed",
				zap.String("commitment_id", c.ID.String()),
				zap.Int("period", c.PeriodSequence),
				zap.Error(err))
			continue
		}
		if err := s.commitments.SaveWithVersion(ctx, c); err != nil {
			result.Failed++
			s.logger.Error("commitment save failed",
				zap.String("commitment_id", c.ID.String()), zap.Error(err))
			continue
		}

		result.Evaluated++
		switch eval.Status {
		case domaincommitment.PeriodMet:
			result.Met++
		case domaincommitment.PeriodShortfall:
			result.Shortfalls++
			s.notifyShortfall(ctx, c, eval)
		}
	}
	return result, nil
}

// Evaluate closes a single commitment's current period, for on-demand
// evaluation from the administrative surface
func (s *EvaluationService) Evaluate(ctx context.Context, c *domaincommitment.UsageCommitment, asOf time.Time) (*domaincommitment.PeriodEvaluation, error) {
	eval, err := c.EvaluatePeriod(asOf)
	if err != nil {
		return nil, err
	}
	if err := s.commitments.SaveWithVersion(ctx, c); err != nil {
		return nil, err
	}
	return eval, nil
}

func (s *EvaluationService) notifyShortfall(ctx context.Context, c *domaincommitment.UsageCommitment, eval *domaincommitment.PeriodEvaluation) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.Deliver(ctx, &alerting.AlertEvent{
		AlertID:      c.ID,
		TenantID:     c.TenantID,
		EntityKind:   alerting.EntityCommitment,
		EntityID:     c.ID,
		Status:       alerting.AlertStatusWarning,
		CurrentValue: eval.FulfillmentPercent,
		Threshold:    hundredPercent,
		Timestamp:    eval.EvaluatedAt,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("shortfall notification handoff failed",
			zap.String("commitment_id", c.ID.String()), zap.Error(err))
	}
}
