package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mspbill/backend/internal/domain/aggregation"
	"github.com/mspbill/backend/internal/domain/shared"
	"github.com/mspbill/backend/internal/infrastructure/persistence/models"
	"github.com/mspbill/backend/internal/infrastructure/persistence/tenant"
)

// GormUsageAggregationRepository implements aggregation.Repository.
type GormUsageAggregationRepository struct {
	db *gorm.DB
}

// NewUsageAggregationRepository creates a new usage aggregation repository
func NewUsageAggregationRepository(db *gorm.DB) *GormUsageAggregationRepository {
	return &GormUsageAggregationRepository{db: db}
}

// Upsert inserts or replaces the rollup for its key. Recomputation writes
// land on the same row, they never duplicate it.
func (r *GormUsageAggregationRepository) Upsert(ctx context.Context, agg *aggregation.UsageAggregation) error {
	model := models.UsageAggregationModelFromDomain(agg)

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "tenant_id"}, {Name: "client_id"}, {Name: "usage_type"},
			{Name: "service_type"}, {Name: "level"}, {Name: "period_start"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"period_end",
			"transaction_count",
			"total_quantity",
			"included_quantity",
			"overage_quantity",
			"peak_quantity",
			"currency",
			"total_revenue",
			"total_tax",
			"total_cost",
			"tax_pending_count",
			"computed_at",
			"updated_at",
		}),
	}).Create(model).Error
}

// FindByKey retrieves one rollup row
func (r *GormUsageAggregationRepository) FindByKey(ctx context.Context, key aggregation.Key) (*aggregation.UsageAggregation, error) {
	var model models.UsageAggregationModel
	err := r.db.WithContext(ctx).
		Scopes(tenant.TenantScope(key.TenantID)).
		Where("client_id = ? AND usage_type = ? AND service_type = ? AND level = ? AND period_start = ?",
			key.ClientID, string(key.UsageType), string(key.ServiceType), string(key.Level), key.PeriodStart).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Query retrieves a tenant's rollups matching the filter, ordered by
// period start
func (r *GormUsageAggregationRepository) Query(ctx context.Context, tenantID uuid.UUID, filter aggregation.Filter) ([]*aggregation.UsageAggregation, error) {
	query := r.db.WithContext(ctx).Scopes(tenant.TenantScope(tenantID))

	if filter.ClientID != nil {
		query = query.Where("client_id = ?", *filter.ClientID)
	}
	if len(filter.UsageTypes) > 0 {
		types := make([]string, len(filter.UsageTypes))
		for i, t := range filter.UsageTypes {
			types[i] = string(t)
		}
		query = query.Where("usage_type IN ?", types)
	}
	if filter.Level != "" {
		query = query.Where("level = ?", string(filter.Level))
	}
	if !filter.From.IsZero() {
		query = query.Where("period_start >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		query = query.Where("period_start < ?", filter.To)
	}

	var found []models.UsageAggregationModel
	if err := query.Order("period_start ASC").Find(&found).Error; err != nil {
		return nil, err
	}

	rollups := make([]*aggregation.UsageAggregation, len(found))
	for i := range found {
		rollups[i] = found[i].ToDomain()
	}
	return rollups, nil
}

// DeleteForPeriod clears a tenant's rollups at a level within a range,
// used before recomputation from source
func (r *GormUsageAggregationRepository) DeleteForPeriod(ctx context.Context, tenantID uuid.UUID, level aggregation.AggregationLevel, from, to time.Time) error {
	return r.db.WithContext(ctx).
		Scopes(tenant.TenantScope(tenantID)).
		Where("level = ? AND period_start >= ? AND period_start < ?",
			string(level), from, to).
		Delete(&models.UsageAggregationModel{}).Error
}
