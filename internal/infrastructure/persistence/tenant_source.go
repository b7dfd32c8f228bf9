package persistence

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mspbill/backend/internal/domain/shared"
	"github.com/mspbill/backend/internal/infrastructure/persistence/models"
)

// GormTenantSource lists the tenants the background sweeps fan out over.
// A tenant is active when it carries at least one active pricing rule;
// tenants without rules cannot produce rated events.
type GormTenantSource struct {
	db *gorm.DB
}

// NewGormTenantSource creates a new GormTenantSource
func NewGormTenantSource(db *gorm.DB) *GormTenantSource {
	return &GormTenantSource{db: db}
}

// ActiveTenantIDs returns the distinct tenant IDs with active pricing rules
func (s *GormTenantSource) ActiveTenantIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.WithContext(ctx).
		Model(&models.PricingRuleModel{}).
		Where("lifecycle = ?", string(shared.LifecycleActive)).
		Distinct("tenant_id").
		Pluck("tenant_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
