package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mspbill/backend/internal/domain/alerting"
	"github.com/mspbill/backend/internal/domain/shared"
	"github.com/mspbill/backend/internal/infrastructure/persistence/models"
	"github.com/mspbill/backend/internal/infrastructure/persistence/tenant"
)

// GormUsageAlertRepository implements alerting.Repository.
type GormUsageAlertRepository struct {
	db     *gorm.DB
	outbox shared.OutboxEventSaver
}

// NewUsageAlertRepository creates a new usage alert repository
func NewUsageAlertRepository(db *gorm.DB) *GormUsageAlertRepository {
	return &GormUsageAlertRepository{db: db}
}

// NewUsageAlertRepositoryWithOutbox creates an alert repository that
// drains the watcher's pending domain events into the outbox in the
// same transaction as the write, so a delivered trigger and its event
// commit or fail together.
func NewUsageAlertRepositoryWithOutbox(db *gorm.DB, outbox shared.OutboxEventSaver) *GormUsageAlertRepository {
	return &GormUsageAlertRepository{db: db, outbox: outbox}
}

// Save creates or updates an alert watcher
func (r *GormUsageAlertRepository) Save(ctx context.Context, alert *alerting.UsageAlert) error {
	model := models.UsageAlertModelFromDomain(alert)
	if r.outbox == nil || len(alert.GetDomainEvents()) == 0 {
		if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
			return err
		}
		alert.ClearDomainEvents()
		return nil
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(model).Error; err != nil {
			return err
		}
		return r.outbox.SaveEvents(ctx, tx, alert.GetDomainEvents()...)
	})
	if err != nil {
		return err
	}
	alert.ClearDomainEvents()
	return nil
}

// FindByID retrieves an alert watcher by its ID
func (r *GormUsageAlertRepository) FindByID(ctx context.Context, id uuid.UUID) (*alerting.UsageAlert, error) {
	var model models.UsageAlertModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByEntity retrieves the active watchers bound to an entity
func (r *GormUsageAlertRepository) FindByEntity(ctx context.Context, tenantID uuid.UUID, kind alerting.EntityKind, entityID uuid.UUID) ([]*alerting.UsageAlert, error) {
	var found []models.UsageAlertModel
	err := r.db.WithContext(ctx).
		Scopes(tenant.TenantScope(tenantID)).
		Where("entity_kind = ? AND entity_id = ? AND lifecycle = ?",
			string(kind), entityID, string(shared.LifecycleActive)).
		Find(&found).Error
	if err != nil {
		return nil, err
	}
	return toDomainAlerts(found), nil
}

// FindTriggered retrieves unacknowledged triggered watchers for the
// escalation sweep
func (r *GormUsageAlertRepository) FindTriggered(ctx context.Context, tenantID uuid.UUID) ([]*alerting.UsageAlert, error) {
	var found []models.UsageAlertModel
	err := r.db.WithContext(ctx).
		Scopes(tenant.TenantScope(tenantID)).
		Where("status = ? AND acknowledged_at IS NULL AND lifecycle = ?",
			string(alerting.AlertStatusTriggered), string(shared.LifecycleActive)).
		Order("last_triggered_at ASC").
		Find(&found).Error
	if err != nil {
		return nil, err
	}
	return toDomainAlerts(found), nil
}

func toDomainAlerts(found []models.UsageAlertModel) []*alerting.UsageAlert {
	alerts := make([]*alerting.UsageAlert, len(found))
	for i := range found {
		alerts[i] = found[i].ToDomain()
	}
	return alerts
}
