package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/mspbill/backend/internal/domain/billing"
	"github.com/mspbill/backend/internal/domain/rating"
	"github.com/mspbill/backend/internal/domain/shared"
	"github.com/mspbill/backend/internal/infrastructure/persistence/models"
	"github.com/mspbill/backend/internal/infrastructure/persistence/tenant"
)

// GormRatedEventRepository implements billing.RatedEventRepository.
type GormRatedEventRepository struct {
	db     *gorm.DB
	outbox shared.OutboxEventSaver
}

// NewRatedEventRepository creates a new rated event repository
func NewRatedEventRepository(db *gorm.DB) *GormRatedEventRepository {
	return &GormRatedEventRepository{db: db}
}

// NewRatedEventRepositoryWithOutbox creates a rated event repository that
// writes a UsageRatedEvent outbox entry in the same transaction as every
// saved row, so downstream consumers see exactly the rated events that
// committed.
func NewRatedEventRepositoryWithOutbox(db *gorm.DB, outbox shared.OutboxEventSaver) *GormRatedEventRepository {
	return &GormRatedEventRepository{db: db, outbox: outbox}
}

// Save persists a rated event. The unique index on event_id keeps the
// store append-only per source event.
func (r *GormRatedEventRepository) Save(ctx context.Context, event *billing.RatedEvent) error {
	model := models.RatedEventModelFromDomain(event)
	if r.outbox == nil {
		return r.db.WithContext(ctx).Create(model).Error
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		return r.outbox.SaveEvents(ctx, tx, billing.NewUsageRatedEvent(event))
	})
}

// FindByEventID retrieves the rated outcome for a source usage event
func (r *GormRatedEventRepository) FindByEventID(ctx context.Context, eventID uuid.UUID) (*billing.RatedEvent, error) {
	var model models.RatedEventModel
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindForPeriod retrieves a tenant's rated events within a time range,
// ordered by event start time
func (r *GormRatedEventRepository) FindForPeriod(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]*billing.RatedEvent, error) {
	var found []models.RatedEventModel
	err := r.db.WithContext(ctx).
		Scopes(tenant.TenantScope(tenantID)).
		Where("event_start >= ? AND event_start < ?", from, to).
		Order("event_start ASC").
		Find(&found).Error
	if err != nil {
		return nil, err
	}
	return toDomainRatedEvents(found), nil
}

// FindTaxPending retrieves rated events awaiting tax reconciliation
func (r *GormRatedEventRepository) FindTaxPending(ctx context.Context, tenantID uuid.UUID, limit int) ([]*billing.RatedEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	var found []models.RatedEventModel
	err := r.db.WithContext(ctx).
		Scopes(tenant.TenantScope(tenantID)).
		Where("tax_pending = ?", true).
		Order("rated_at ASC").
		Limit(limit).
		Find(&found).Error
	if err != nil {
		return nil, err
	}
	return toDomainRatedEvents(found), nil
}

// SumTotals sums rated-event totals per (client, usage type, service type)
// for the period, the source of truth the aggregator reconciles against
func (r *GormRatedEventRepository) SumTotals(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]billing.RatedTotal, error) {
	var rows []struct {
		ClientID     uuid.UUID
		UsageType    string
		ServiceType  string
		EventCount   int64
		Quantity     decimal.Decimal
		OverageQty   decimal.Decimal
		TotalRevenue decimal.Decimal
		TotalTax     decimal.Decimal
	}

	err := r.db.WithContext(ctx).
		Model(&models.RatedEventModel{}).
		Select(`client_id,
			usage_type,
			service_type,
			COUNT(*) as event_count,
			COALESCE(SUM(quantity), 0) as quantity,
			COALESCE(SUM(overage_quantity), 0) as overage_qty,
			COALESCE(SUM(total), 0) as total_revenue,
			COALESCE(SUM(tax), 0) as total_tax`).
		Scopes(tenant.TenantScope(tenantID)).
		Where("event_start >= ? AND event_start < ?", from, to).
		Group("client_id, usage_type, service_type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	totals := make([]billing.RatedTotal, len(rows))
	for i, row := range rows {
		totals[i] = billing.RatedTotal{
			ClientID:     row.ClientID,
			UsageType:    rating.UsageType(row.UsageType),
			ServiceType:  rating.ServiceType(row.ServiceType),
			EventCount:   row.EventCount,
			Quantity:     row.Quantity,
			OverageQty:   row.OverageQty,
			TotalRevenue: row.TotalRevenue,
			TotalTax:     row.TotalTax,
		}
	}
	return totals, nil
}

func toDomainRatedEvents(found []models.RatedEventModel) []*billing.RatedEvent {
	events := make([]*billing.RatedEvent, len(found))
	for i := range found {
		events[i] = found[i].ToDomain()
	}
	return events
}
