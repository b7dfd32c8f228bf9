package aggregation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mspbill/backend/internal/domain/billing"
	"github.com/mspbill/backend/internal/domain/shared"
)

// AggregationTrigger requests a rollup recompute for a tenant around a
// reference instant. The sweep scheduler satisfies it.
type AggregationTrigger interface {
	TriggerTenantAggregation(ctx context.Context, tenantID uuid.UUID, asOf time.Time) error
}

// defaultTriggerDebounce bounds how often one tenant-day can queue a
// recompute. The rollup rebuilds the whole period from source, so one run
// per window covers every event that arrived inside it.
const defaultTriggerDebounce = time.Minute

// RatedEventHandler keeps rollups fresh between scheduled sweeps: each
// rated event queues a recompute of its tenant's period, debounced per
// tenant and event day so a burst of events costs one run.
type RatedEventHandler struct {
	trigger  AggregationTrigger
	logger   *zap.Logger
	debounce time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

// NewRatedEventHandler creates the handler
func NewRatedEventHandler(trigger AggregationTrigger, logger *zap.Logger) *RatedEventHandler {
	return &RatedEventHandler{
		trigger:  trigger,
		logger:   logger,
		debounce: defaultTriggerDebounce,
		last:     map[string]time.Time{},
	}
}

// SetDebounce overrides the per-tenant-day trigger window
func (h *RatedEventHandler) SetDebounce(d time.Duration) {
	h.debounce = d
}

// EventTypes subscribes the handler to rated-event announcements
func (h *RatedEventHandler) EventTypes() []string {
	return []string{billing.EventTypeUsageRated}
}

// Handle queues a recompute for the event's tenant and day. Failures are
// returned so the idempotency wrapper leaves the event retryable.
func (h *RatedEventHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	tenantID := event.TenantID()
	asOf := event.OccurredAt()
	if rated, ok := event.(*billing.UsageRatedEvent); ok && rated.RatedEvent != nil {
		// The rollup period follows the usage instant, not delivery time
		asOf = rated.RatedEvent.EventStart
	}

	if !h.shouldTrigger(tenantID, asOf) {
		return nil
	}
	if err := h.trigger.TriggerTenantAggregation(ctx, tenantID, asOf); err != nil {
		h.logger.Warn("rollup trigger failed",
			zap.String("tenant_id", tenantID.String()),
			zap.Time("as_of", asOf),
			zap.Error(err))
		return err
	}
	return nil
}

func (h *RatedEventHandler) shouldTrigger(tenantID uuid.UUID, asOf time.Time) bool {
	key := fmt.Sprintf("%s:%s", tenantID, asOf.UTC().Format("2006-01-02"))

	h.mu.Lock()
	defer h.mu.Unlock()
	if at, ok := h.last[key]; ok && time.Since(at) < h.debounce {
		return false
	}
	h.last[key] = time.Now()
	return true
}

var _ shared.EventHandler = (*RatedEventHandler)(nil)
