package persistence

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mspbill/backend/internal/domain/rating"
	"github.com/mspbill/backend/internal/domain/shared"
	"github.com/mspbill/backend/internal/infrastructure/persistence/models"
	"github.com/mspbill/backend/internal/infrastructure/persistence/tenant"
)

// GormUsageEventRepository implements rating.UsageEventRepository.
// The unique index on (tenant_id, transaction_id) makes Save the
// compare-and-insert idempotency check: a replayed transaction fails the
// insert and is reported as a duplicate without side effects.
type GormUsageEventRepository struct {
	db *gorm.DB
}

// NewUsageEventRepository creates a new usage event repository
func NewUsageEventRepository(db *gorm.DB) *GormUsageEventRepository {
	return &GormUsageEventRepository{db: db}
}

// Save persists a new usage event, rejecting duplicate transaction IDs
func (r *GormUsageEventRepository) Save(ctx context.Context, event *rating.UsageEvent) error {
	model := models.UsageEventModelFromDomain(event)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return rating.ErrDuplicateEvent
		}
		return err
	}
	return nil
}

// UpdateStatus records the event's pipeline status transition
func (r *GormUsageEventRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status rating.EventStatus, reason string) error {
	result := r.db.WithContext(ctx).
		Model(&models.UsageEventModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        string(status),
			"status_reason": reason,
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// FindByID retrieves a usage event by its ID
func (r *GormUsageEventRepository) FindByID(ctx context.Context, id uuid.UUID) (*rating.UsageEvent, error) {
	var model models.UsageEventModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByTransactionID retrieves a usage event by its idempotency key
func (r *GormUsageEventRepository) FindByTransactionID(ctx context.Context, tenantID uuid.UUID, transactionID string) (*rating.UsageEvent, error) {
	var model models.UsageEventModel
	err := r.db.WithContext(ctx).
		Scopes(tenant.TenantScope(tenantID)).
		Where("transaction_id = ?", transactionID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByTenant retrieves usage events for a tenant matching the filter
func (r *GormUsageEventRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID, filter rating.EventFilter) ([]*rating.UsageEvent, error) {
	query := r.db.WithContext(ctx).Scopes(tenant.TenantScope(tenantID))
	query = r.applyFilter(query, filter)

	var found []models.UsageEventModel
	if err := query.Order("start_time DESC").Find(&found).Error; err != nil {
		return nil, err
	}
	return toDomainEvents(found), nil
}

// FindUnrated retrieves events parked for manual rating
func (r *GormUsageEventRepository) FindUnrated(ctx context.Context, tenantID uuid.UUID, filter rating.EventFilter) ([]*rating.UsageEvent, error) {
	filter.Status = rating.EventStatusUnrated
	return r.FindByTenant(ctx, tenantID, filter)
}

// CountByStatus counts a tenant's events per pipeline status
func (r *GormUsageEventRepository) CountByStatus(ctx context.Context, tenantID uuid.UUID) (map[rating.EventStatus]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.UsageEventModel{}).
		Select("status, COUNT(*) as count").
		Scopes(tenant.TenantScope(tenantID)).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[rating.EventStatus]int64, len(rows))
	for _, row := range rows {
		counts[rating.EventStatus(row.Status)] = row.Count
	}
	return counts, nil
}

func (r *GormUsageEventRepository) applyFilter(query *gorm.DB, filter rating.EventFilter) *gorm.DB {
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
	if filter.ServiceType != "" {
		query = query.Where("service_type = ?", string(filter.ServiceType))
	}
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.StartTime != nil {
		query = query.Where("start_time >= ?", *filter.StartTime)
	}
	if filter.EndTime != nil {
		query = query.Where("start_time < ?", *filter.EndTime)
	}
	if filter.BatchID != "" {
		query = query.Where("batch_id = ?", filter.BatchID)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = 100
	}
	return query.Offset((page - 1) * pageSize).Limit(pageSize)
}

func toDomainEvents(found []models.UsageEventModel) []*rating.UsageEvent {
	events := make([]*rating.UsageEvent, len(found))
	for i := range found {
		events[i] = found[i].ToDomain()
	}
	return events
}

// isUniqueViolation reports whether err is a unique-constraint failure.
// GORM's error translation covers Postgres; the string checks cover drivers
// that bypass translation, such as SQLite in tests.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint")
}
