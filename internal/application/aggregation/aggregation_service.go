package aggregation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domainagg "github.com/mspbill/backend/internal/domain/aggregation"
	"github.com/mspbill/backend/internal/domain/billing"
)

// Service rolls rated events into period-level aggregation rows. The
// rollup recomputes from source each run and upserts by key, so re-running
// a period is idempotent and out-of-order arrival within the period is
// harmless.
type Service struct {
	rated  billing.RatedEventRepository
	rollup domainagg.Repository
	logger *zap.Logger
}

// NewService creates the aggregator
func NewService(rated billing.RatedEventRepository, rollup domainagg.Repository, logger *zap.Logger) *Service {
	return &Service{rated: rated, rollup: rollup, logger: logger}
}

// RunResult summarizes one aggregation run
type RunResult struct {
	Level       domainagg.AggregationLevel
	PeriodStart time.Time
	PeriodEnd   time.Time
	SourceCount int
	RowsWritten int
}

// Aggregate recomputes a tenant's rollups at the given level for the
// period containing ts. Every row is rebuilt from rated events, the
// source of truth; existing rows for the same keys are replaced.
func (s *Service) Aggregate(ctx context.Context, tenantID uuid.UUID, level domainagg.AggregationLevel, ts time.Time) (*RunResult, error) {
	from := level.PeriodStart(ts)
	to := level.PeriodEnd(ts)

	source, err := s.rated.FindForPeriod(ctx, tenantID, from, to)
	if err != nil {
		return nil, err
	}

	rows := map[domainagg.Key]*domainagg.UsageAggregation{}
	for _, re := range source {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		key := domainagg.Key{
			TenantID:    re.TenantID,
			ClientID:    re.ClientID,
			UsageType:   re.UsageType,
			ServiceType: re.ServiceType,
			Level:       level,
			PeriodStart: from,
		}
		row, ok := rows[key]
		if !ok {
			row, err = domainagg.NewUsageAggregation(key, re.Currency)
			if err != nil {
				return nil, err
			}
			rows[key] = row
		}
		row.Accumulate(domainagg.Contribution{
			Quantity:   re.Quantity,
			Included:   re.IncludedQuantity,
			Overage:    re.OverageQuantity,
			Peak:       re.PeakQuantity,
			Revenue:    re.Total.Amount(),
			Tax:        re.Tax.Amount(),
			Cost:       re.BaseCost.Add(re.OverageCost),
			TaxPending: re.TaxPending,
		})
	}

	now := time.Now()
	written := 0
	for _, row := range rows {
		row.Finalize(now)
		if err := s.rollup.Upsert(ctx, row); err != nil {
			return nil, err
		}
		written++
	}

	s.logger.Info("aggregation run completed",
		zap.String("tenant_id", tenantID.String()),
		zap.String("level", string(level)),
		zap.Time("period_start", from),
		zap.Int("source_events", len(source)),
		zap.Int("rows_written", written))

	return &RunResult{
		Level:       level,
		PeriodStart: from,
		PeriodEnd:   to,
		SourceCount: len(source),
		RowsWritten: written,
	}, nil
}

// Query serves the reporting read path
func (s *Service) Query(ctx context.Context, tenantID uuid.UUID, filter domainagg.Filter) ([]*domainagg.UsageAggregation, error) {
	return s.rollup.Query(ctx, tenantID, filter)
}
