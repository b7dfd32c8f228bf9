package commitment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mspbill/backend/internal/domain/alerting"
	domaincommitment "github.com/mspbill/backend/internal/domain/commitment"
	"github.com/mspbill/backend/internal/domain/shared"
	"github.com/mspbill/backend/internal/domain/shared/valueobject"
)

type memCommitmentRepo struct {
	mu          sync.Mutex
	commitments []*domaincommitment.UsageCommitment
	outbox      []shared.DomainEvent
	saveErr     error
}

func (r *memCommitmentRepo) Save(_ context.Context, _ *domaincommitment.UsageCommitment) error {
	return nil
}

// SaveWithVersion drains the aggregate's pending events the way the
// outbox-wired repository does: only a committed save captures them.
func (r *memCommitmentRepo) SaveWithVersion(_ context.Context, c *domaincommitment.UsageCommitment) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.mu.Lock()
	r.outbox = append(r.outbox, c.GetDomainEvents()...)
	r.mu.Unlock()
	c.ClearDomainEvents()
	c.IncrementVersion()
	return nil
}
func (r *memCommitmentRepo) FindByID(_ context.Context, _ uuid.UUID) (*domaincommitment.UsageCommitment, error) {
	return nil, shared.ErrNotFound
}
func (r *memCommitmentRepo) FindActiveByClient(_ context.Context, _, _ uuid.UUID) ([]*domaincommitment.UsageCommitment, error) {
	return nil, nil
}
func (r *memCommitmentRepo) FindDueForEvaluation(_ context.Context, asOf time.Time, _ int) ([]*domaincommitment.UsageCommitment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*domaincommitment.UsageCommitment
	for _, c := range r.commitments {
		if c.DueForEvaluation(asOf) && c.Status != domaincommitment.PeriodClosed {
			due = append(due, c)
		}
	}
	return due, nil
}

type capturedNotifier struct {
	mu     sync.Mutex
	events []*alerting.AlertEvent
}

func (n *capturedNotifier) Deliver(_ context.Context, ev *alerting.AlertEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

var sweepStart = time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

func newCommitmentFixture(t *testing.T, committed, achieved int64) *domaincommitment.UsageCommitment {
	t.Helper()
	c, err := domaincommitment.NewUsageCommitment(uuid.New(), uuid.New(), "min-usage",
		domaincommitment.CommitmentTypeUsage, decimal.NewFromInt(committed),
		valueobject.USD, 30, sweepStart)
	require.NoError(t, err)
	if achieved > 0 {
		require.NoError(t, c.Record(decimal.NewFromInt(achieved), decimal.Zero))
	}
	return c
}

func TestEvaluationService_Sweep(t *testing.T) {
	ctx := context.Background()
	boundary := sweepStart.AddDate(0, 0, 30)

	t.Run("closes due periods and counts outcomes", func(t *testing.T) {
		repo := &memCommitmentRepo{commitments: []*domaincommitment.UsageCommitment{
			newCommitmentFixture(t, 1000, 1200),
			newCommitmentFixture(t, 1000, 400),
		}}
		notifier := &capturedNotifier{}
		svc := NewEvaluationService(repo, notifier, zap.NewNop())

		result, err := svc.Sweep(ctx, boundary)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Evaluated)
		assert.Equal(t, 1, result.Met)
		assert.Equal(t, 1, result.Shortfalls)

		require.Len(t, notifier.events, 1, "only the shortfall notifies")
		assert.Equal(t, alerting.EntityCommitment, notifier.events[0].EntityKind)

		require.Len(t, repo.outbox, 2, "every closed period reaches the outbox with its save")
		assert.Equal(t, domaincommitment.EventTypePeriodClosed, repo.outbox[0].EventType())
	})

	t.Run("commitments not yet due are skipped", func(t *testing.T) {
		repo := &memCommitmentRepo{commitments: []*domaincommitment.UsageCommitment{
			newCommitmentFixture(t, 1000, 500),
		}}
		svc := NewEvaluationService(repo, nil, zap.NewNop())

		result, err := svc.Sweep(ctx, sweepStart.AddDate(0, 0, 10))
		require.NoError(t, err)
		assert.Zero(t, result.Evaluated)
	})

	t.Run("save failure leaves the period due for retry", func(t *testing.T) {
		repo := &memCommitmentRepo{
			commitments: []*domaincommitment.UsageCommitment{newCommitmentFixture(t, 1000, 500)},
			saveErr:     shared.ErrConcurrencyConflict,
		}
		svc := NewEvaluationService(repo, nil, zap.NewNop())

		result, err := svc.Sweep(ctx, boundary)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Failed)
		assert.Zero(t, result.Evaluated)
	})

	t.Run("second sweep after close evaluates nothing new", func(t *testing.T) {
		c := newCommitmentFixture(t, 1000, 1500)
		repo := &memCommitmentRepo{commitments: []*domaincommitment.UsageCommitment{c}}
		svc := NewEvaluationService(repo, nil, zap.NewNop())

		first, err := svc.Sweep(ctx, boundary)
		require.NoError(t, err)
		assert.Equal(t, 1, first.Evaluated)

		second, err := svc.Sweep(ctx, boundary)
		require.NoError(t, err)
		assert.Zero(t, second.Evaluated, "period already closed")
	})
}
