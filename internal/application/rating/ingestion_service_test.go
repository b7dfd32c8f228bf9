package rating

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
	"github.com/mspbill/backend/internal/domain/allocation"
	"github.com/mspbill/backend/internal/domain/billing"
	"github.com/mspbill/backend/internal/domain/charging"
	"github.com/mspbill/backend/internal/domain/commitment"
	domainrating "github.com/mspbill/backend/internal/domain/rating"
	"github.com/mspbill/backend/internal/domain/shared"
	"github.com/mspbill/backend/internal/domain/shared/valueobject"
)

// --- in-memory fakes ---

type memEventRepo struct {
	mu     sync.Mutex
	byTxID map[string]*domainrating.UsageEvent
}

func newMemEventRepo() *memEventRepo {
	return &memEventRepo{byTxID: map[string]*domainrating.UsageEvent{}}
}

func (r *memEventRepo) Save(_ context.Context, event *domainrating.UsageEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byTxID[event.TransactionID]; exists {
		return domainrating.ErrDuplicateEvent
	}
	r.byTxID[event.TransactionID] = event
	return nil
}

func (r *memEventRepo) UpdateStatus(_ context.Context, id uuid.UUID, status domainrating.EventStatus, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.byTxID {
		if ev.ID == id {
			ev.Status = status
			ev.StatusReason = reason
		}
	}
	return nil
}

func (r *memEventRepo) FindByID(_ context.Context, id uuid.UUID) (*domainrating.UsageEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.byTxID {
		if ev.ID == id {
			return ev, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memEventRepo) FindByTransactionID(_ context.Context, _ uuid.UUID, txID string) (*domainrating.UsageEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev, ok := r.byTxID[txID]; ok {
		return ev, nil
	}
	return nil, shared.ErrNotFound
}

func (r *memEventRepo) FindByTenant(_ context.Context, _ uuid.UUID, _ domainrating.EventFilter) ([]*domainrating.UsageEvent, error) {
	return nil, nil
}

func (r *memEventRepo) FindUnrated(_ context.Context, _ uuid.UUID, _ domainrating.EventFilter) ([]*domainrating.UsageEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domainrating.UsageEvent
	for _, ev := range r.byTxID {
		if ev.Status == domainrating.EventStatusUnrated {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (r *memEventRepo) CountByStatus(_ context.Context, _ uuid.UUID) (map[domainrating.EventStatus]int64, error) {
	return nil, nil
}

type memRuleRepo struct{ rules []*domainrating.PricingRule }

func (r *memRuleRepo) FindByID(_ context.Context, id uuid.UUID) (*domainrating.PricingRule, error) {
	for _, rule := range r.rules {
		if rule.ID == id {
			return rule, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memRuleRepo) FindCandidateRules(_ context.Context, _, _ uuid.UUID, _ domainrating.UsageType) ([]*domainrating.PricingRule, error) {
	return r.rules, nil
}

func (r *memRuleRepo) FindByTenant(_ context.Context, _ uuid.UUID) ([]*domainrating.PricingRule, error) {
	return r.rules, nil
}

// The pool and bucket fakes model committed storage: reads hand out
// copies and only a successful save folds mutated state back in, the
// same visibility a failed database transaction gives the retry loop.

func clonePool(p *allocation.UsagePool) *allocation.UsagePool {
	cp := *p
	return &cp
}

func cloneBucket(b *allocation.UsageBucket) *allocation.UsageBucket {
	cb := *b
	cb.Lots = append([]allocation.AllowanceLot(nil), b.Lots...)
	return &cb
}

type memPoolRepo struct {
	mu        sync.Mutex
	pool      *allocation.UsagePool
	buckets   *memBucketRepo
	conflicts int // SaveAllocation fails this many times before committing
}

func (r *memPoolRepo) Save(_ context.Context, p *allocation.UsagePool) error { return nil }
func (r *memPoolRepo) SaveWithVersion(_ context.Context, p *allocation.UsagePool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.IncrementVersion()
	r.pool = clonePool(p)
	return nil
}
func (r *memPoolRepo) SaveAllocation(_ context.Context, p *allocation.UsagePool, touched []*allocation.UsageBucket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conflicts > 0 {
		r.conflicts--
		return allocation.ErrCapacityConflict
	}
	r.buckets.mu.Lock()
	for _, b := range touched {
		b.IncrementVersion()
		r.buckets.put(b)
	}
	r.buckets.mu.Unlock()
	p.IncrementVersion()
	r.pool = clonePool(p)
	return nil
}
func (r *memPoolRepo) FindByID(_ context.Context, _ uuid.UUID) (*allocation.UsagePool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pool == nil {
		return nil, shared.ErrNotFound
	}
	return clonePool(r.pool), nil
}
func (r *memPoolRepo) FindActiveByUsageType(_ context.Context, _ uuid.UUID, _ domainrating.UsageType) ([]*allocation.UsagePool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pool == nil {
		return nil, nil
	}
	return []*allocation.UsagePool{clonePool(r.pool)}, nil
}
func (r *memPoolRepo) FindRefillable(_ context.Context, _ uuid.UUID) ([]*allocation.UsagePool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pool == nil || r.pool.RefillPeriodDays <= 0 {
		return nil, nil
	}
	return []*allocation.UsagePool{clonePool(r.pool)}, nil
}

type memBucketRepo struct {
	mu      sync.Mutex
	buckets []*allocation.UsageBucket
}

func (r *memBucketRepo) put(b *allocation.UsageBucket) {
	for i, existing := range r.buckets {
		if existing.ID == b.ID {
			r.buckets[i] = cloneBucket(b)
			return
		}
	}
	r.buckets = append(r.buckets, cloneBucket(b))
}

func (r *memBucketRepo) Save(_ context.Context, _ *allocation.UsageBucket) error { return nil }
func (r *memBucketRepo) SaveWithVersion(_ context.Context, b *allocation.UsageBucket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b.IncrementVersion()
	r.put(b)
	return nil
}
func (r *memBucketRepo) FindByID(_ context.Context, id uuid.UUID) (*allocation.UsageBucket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.buckets {
		if b.ID == id {
			return cloneBucket(b), nil
		}
	}
	return nil, shared.ErrNotFound
}
func (r *memBucketRepo) FindByPool(_ context.Context, _ uuid.UUID) ([]*allocation.UsageBucket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*allocation.UsageBucket, len(r.buckets))
	for i, b := range r.buckets {
		out[i] = cloneBucket(b)
	}
	return out, nil
}

type memRatedRepo struct {
	mu    sync.Mutex
	saved []*billing.RatedEvent
}

func (r *memRatedRepo) Save(_ context.Context, re *billing.RatedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, re)
	return nil
}
func (r *memRatedRepo) FindByEventID(_ context.Context, _ uuid.UUID) (*billing.RatedEvent, error) {
	return nil, shared.ErrNotFound
}
func (r *memRatedRepo) FindForPeriod(_ context.Context, _ uuid.UUID, _, _ time.Time) ([]*billing.RatedEvent, error) {
	return r.saved, nil
}
func (r *memRatedRepo) FindTaxPending(_ context.Context, _ uuid.UUID, _ int) ([]*billing.RatedEvent, error) {
	return nil, nil
}
func (r *memRatedRepo) SumTotals(_ context.Context, _ uuid.UUID, _, _ time.Time) ([]billing.RatedTotal, error) {
	return nil, nil
}

type memCommitmentRepo struct {
	mu          sync.Mutex
	commitments []*commitment.UsageCommitment
}

func (r *memCommitmentRepo) Save(_ context.Context, _ *commitment.UsageCommitment) error { return nil }
func (r *memCommitmentRepo) SaveWithVersion(_ context.Context, c *commitment.UsageCommitment) error {
	c.IncrementVersion()
	return nil
}
func (r *memCommitmentRepo) FindByID(_ context.Context, _ uuid.UUID) (*commitment.UsageCommitment, error) {
	return nil, shared.ErrNotFound
}
func (r *memCommitmentRepo) FindActiveByClient(_ context.Context, _, _ uuid.UUID) ([]*commitment.UsageCommitment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commitments, nil
}
func (r *memCommitmentRepo) FindDueForEvaluation(_ context.Context, _ time.Time, _ int) ([]*commitment.UsageCommitment, error) {
	return nil, nil
}

type memAlertRepo struct {
	mu       sync.Mutex
	watchers []*alerting.UsageAlert
}

func (r *memAlertRepo) Save(_ context.Context, _ *alerting.UsageAlert) error { return nil }
func (r *memAlertRepo) FindByID(_ context.Context, _ uuid.UUID) (*alerting.UsageAlert, error) {
	return nil, shared.ErrNotFound
}
func (r *memAlertRepo) FindByEntity(_ context.Context, _ uuid.UUID, kind alerting.EntityKind, entityID uuid.UUID) ([]*alerting.UsageAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*alerting.UsageAlert
	for _, w := range r.watchers {
		if w.EntityKind == kind && w.EntityID == entityID {
			out = append(out, w)
		}
	}
	return out, nil
}
func (r *memAlertRepo) FindTriggered(_ context.Context, _ uuid.UUID) ([]*alerting.UsageAlert, error) {
	return nil, nil
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

type memIdempotencyStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemIdempotencyStore() *memIdempotencyStore {
	return &memIdempotencyStore{seen: map[string]bool{}}
}

func (s *memIdempotencyStore) MarkProcessed(_ context.Context, txID string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[txID] {
		return false, nil
	}
	s.seen[txID] = true
	return true, nil
}

func (s *memIdempotencyStore) IsProcessed(_ context.Context, txID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[txID], nil
}

func (s *memIdempotencyStore) Close() error { return nil }

// --- fixture ---

type pipelineFixture struct {
	svc         *IngestionService
	events      *memEventRepo
	rules       *memRuleRepo
	pools       *memPoolRepo
	buckets     *memBucketRepo
	rated       *memRatedRepo
	commitments *memCommitmentRepo
	alerts      *memAlertRepo
	notifier    *capturedNotifier
	tenantID    uuid.UUID
	clientID    uuid.UUID
}

var pipelineStart = time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		events:      newMemEventRepo(),
		rules:       &memRuleRepo{},
		pools:       &memPoolRepo{},
		buckets:     &memBucketRepo{},
		rated:       &memRatedRepo{},
		commitments: &memCommitmentRepo{},
		alerts:      &memAlertRepo{},
		notifier:    &capturedNotifier{},
		tenantID:    uuid.New(),
		clientID:    uuid.New(),
	}
	f.pools.buckets = f.buckets

	rule, err := domainrating.NewPricingRule(f.tenantID, "voice-flat",
		domainrating.UsageTypeVoice, domainrating.ServiceTypeAny,
		domainrating.PricingModelFlat, decimal.NewFromFloat(0.01),
		valueobject.USD, 1, pipelineStart.Add(-24*time.Hour))
	require.NoError(t, err)
	f.rules.rules = []*domainrating.PricingRule{rule}

	f.svc = NewIngestionService(
		f.events, f.rules, nil, f.pools, f.buckets, f.rated,
		f.commitments, f.alerts, f.notifier, newMemIdempotencyStore(),
		charging.NewCalculator(nil), zap.NewNop(),
		DefaultIngestionConfig(),
	)
	return f
}

func (f *pipelineFixture) withPool(t *testing.T, capacity int64) *allocation.UsageBucket {
	t.Helper()
	pool, err := allocation.NewUsagePool(f.tenantID, "voice-pool",
		domainrating.UsageTypeVoice, decimal.NewFromInt(capacity), allocation.AllocationMethodPriority)
	require.NoError(t, err)
	bucket, err := allocation.NewUsageBucket(f.tenantID, pool.ID, "plan", decimal.NewFromInt(capacity), 1)
	require.NoError(t, err)
	f.pools.pool = pool
	f.buckets.buckets = []*allocation.UsageBucket{bucket}
	return bucket
}

func (f *pipelineFixture) event(t *testing.T, txID string, quantity int64) *domainrating.UsageEvent {
	t.Helper()
	ev, err := domainrating.NewUsageEvent(txID, f.tenantID, f.clientID,
		domainrating.UsageTypeVoice, domainrating.ServiceTypeHostedPBX,
		decimal.NewFromInt(quantity), pipelineStart, pipelineStart.Add(time.Hour))
	require.NoError(t, err)
	return ev
}

// --- tests ---

func TestIngestionService_Ingest(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path rates the event", func(t *testing.T) {
		f := newPipelineFixture(t)
		outcome := f.svc.Ingest(ctx, f.event(t, "cdr-1", 100))

		assert.Equal(t, domainrating.EventStatusRated, outcome.Status)
		require.NotNil(t, outcome.RatedEventID)
		require.Len(t, f.rated.saved, 1)
		assert.Equal(t, "1.00", f.rated.saved[0].Total.StringFixed(2))
	})

	t.Run("same transaction twice yields one rated event", func(t *testing.T) {
		f := newPipelineFixture(t)
		first := f.svc.Ingest(ctx, f.event(t, "cdr-dup", 100))
		second := f.svc.Ingest(ctx, f.event(t, "cdr-dup", 100))

		assert.Equal(t, domainrating.EventStatusRated, first.Status)
		assert.True(t, second.Duplicate)
		assert.Len(t, f.rated.saved, 1, "no double allocation or billing")
	})

	t.Run("no applicable rule parks the event unrated", func(t *testing.T) {
		f := newPipelineFixture(t)
		f.rules.rules = nil

		outcome := f.svc.Ingest(ctx, f.event(t, "cdr-norule", 100))
		assert.Equal(t, domainrating.EventStatusUnrated, outcome.Status)

		parked, err := f.events.FindUnrated(ctx, f.tenantID, domainrating.DefaultEventFilter())
		require.NoError(t, err)
		assert.Len(t, parked, 1, "visible in the unrated queue, not discarded")
		assert.Empty(t, f.rated.saved)
	})

	t.Run("pool allocation splits included and overage", func(t *testing.T) {
		f := newPipelineFixture(t)
		f.withPool(t, 80)

		outcome := f.svc.Ingest(ctx, f.event(t, "cdr-pool", 100))
		require.Equal(t, domainrating.EventStatusRated, outcome.Status)
		require.Len(t, f.rated.saved, 1)
		re := f.rated.saved[0]
		assert.True(t, re.IncludedQuantity.Equal(decimal.NewFromInt(80)))
		assert.True(t, re.OverageQuantity.Equal(decimal.NewFromInt(20)))
	})

	t.Run("capacity conflict retries and succeeds", func(t *testing.T) {
		f := newPipelineFixture(t)
		seeded := f.withPool(t, 200)
		f.pools.conflicts = 2

		outcome := f.svc.Ingest(ctx, f.event(t, "cdr-retry", 100))
		assert.Equal(t, domainrating.EventStatusRated, outcome.Status)

		bucket, err := f.buckets.FindByID(ctx, seeded.ID)
		require.NoError(t, err)
		assert.True(t, bucket.Used.Equal(decimal.NewFromInt(100)),
			"retried event draws its quantity exactly once, used=%s", bucket.Used)
		pool, err := f.pools.FindByID(ctx, f.pools.pool.ID)
		require.NoError(t, err)
		assert.True(t, pool.UsedCapacity.Equal(decimal.NewFromInt(100)))
	})

	t.Run("exhausted retries escalate as an operational alert", func(t *testing.T) {
		f := newPipelineFixture(t)
		f.withPool(t, 200)
		f.pools.conflicts = 100

		outcome := f.svc.Ingest(ctx, f.event(t, "cdr-conflict", 100))
		assert.Equal(t, domainrating.EventStatusFailed, outcome.Status)
		require.NotEmpty(t, f.notifier.events)
		assert.Equal(t, alerting.AlertStatusCritical, f.notifier.events[len(f.notifier.events)-1].Status)
		assert.Empty(t, f.rated.saved)
	})

	t.Run("pool watcher fires when utilization crosses the threshold", func(t *testing.T) {
		f := newPipelineFixture(t)
		f.withPool(t, 100)
		watcher, err := alerting.NewUsageAlert(f.tenantID, "pool-watch",
			alerting.EntityPool, f.pools.pool.ID,
			decimal.NewFromInt(80), decimal.NewFromInt(95))
		require.NoError(t, err)
		f.alerts.watchers = []*alerting.UsageAlert{watcher}

		f.svc.Ingest(ctx, f.event(t, "cdr-alert", 90))
		require.NotEmpty(t, f.notifier.events)
		assert.Equal(t, alerting.AlertStatusWarning, f.notifier.events[0].Status)
	})

	t.Run("rated events feed active commitments", func(t *testing.T) {
		f := newPipelineFixture(t)
		c, err := commitment.NewUsageCommitment(f.tenantID, f.clientID, "min-voice",
			commitment.CommitmentTypeUsage, decimal.NewFromInt(1000),
			valueobject.USD, 30, pipelineStart.Add(-time.Hour))
		require.NoError(t, err)
		f.commitments.commitments = []*commitment.UsageCommitment{c}

		f.svc.Ingest(ctx, f.event(t, "cdr-commit", 150))
		assert.True(t, c.CurrentPeriodUsage.Equal(decimal.NewFromInt(150)))
		assert.Equal(t, "1.50", c.CurrentPeriodSpend.StringFixed(2))
	})
}

func TestIngestionService_IngestBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("per-event errors never abort the batch", func(t *testing.T) {
		f := newPipelineFixture(t)

		events := []*domainrating.UsageEvent{
			f.event(t, "batch-1", 100),
			f.event(t, "batch-1", 100), // duplicate
			f.event(t, "batch-2", 50),
		}
		sms, err := domainrating.NewUsageEvent("batch-3", f.tenantID, f.clientID,
			domainrating.UsageTypeSMS, domainrating.ServiceTypeMobile,
			decimal.NewFromInt(10), pipelineStart, pipelineStart.Add(time.Minute))
		require.NoError(t, err)
		events = append(events, sms) // no SMS rule configured

		report := f.svc.IngestBatch(ctx, "batch-a", events)
		assert.Equal(t, 4, report.Received)
		assert.Equal(t, 2, report.Rated)
		assert.Equal(t, 1, report.Duplicates)
		assert.Equal(t, 1, report.Unrated)
		assert.Zero(t, report.Failed)
		assert.False(t, report.Canceled)
		for _, o := range report.Outcomes {
			assert.NotEmpty(t, o.TransactionID)
		}
	})

	t.Run("events carry the batch identifier", func(t *testing.T) {
		f := newPipelineFixture(t)
		ev := f.event(t, "batch-tag", 10)
		f.svc.IngestBatch(ctx, "batch-b", []*domainrating.UsageEvent{ev})
		assert.Equal(t, "batch-b", ev.BatchID)
	})

	t.Run("cancellation stops the batch and keeps processed events", func(t *testing.T) {
		f := newPipelineFixture(t)
		canceled, cancel := context.WithCancel(ctx)
		cancel()

		report := f.svc.IngestBatch(canceled, "batch-c", []*domainrating.UsageEvent{
			f.event(t, "batch-x", 10),
		})
		assert.True(t, report.Canceled)
		assert.Empty(t, report.Outcomes)
	})
}
