package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mspbill/backend/internal/domain/rating"
	"github.com/mspbill/backend/internal/domain/shared"
	"github.com/mspbill/backend/internal/infrastructure/persistence/models"
	"github.com/mspbill/backend/internal/infrastructure/persistence/tenant"
)

// GormPricingRuleRepository implements rating.PricingRuleRepository.
// The rating path only reads active rule versions; date-window and
// service-type matching happens in the resolver, which needs the whole
// candidate set to pick a winner.
type GormPricingRuleRepository struct {
	db *gorm.DB
}

// NewPricingRuleRepository creates a new pricing rule repository
func NewPricingRuleRepository(db *gorm.DB) *GormPricingRuleRepository {
	return &GormPricingRuleRepository{db: db}
}

// Save creates or updates a pricing rule, for the administrative surface
func (r *GormPricingRuleRepository) Save(ctx context.Context, rule *rating.PricingRule) error {
	model := models.PricingRuleModelFromDomain(rule)
	return r.db.WithContext(ctx).Save(model).Error
}

// FindByID retrieves a pricing rule by its ID
func (r *GormPricingRuleRepository) FindByID(ctx context.Context, id uuid.UUID) (*rating.PricingRule, error) {
	var model models.PricingRuleModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindCandidateRules retrieves the active rules that could apply to a
// (tenant, client, usage type) combination: the client's own rules plus
// the tenant's global rules
func (r *GormPricingRuleRepository) FindCandidateRules(ctx context.Context, tenantID, clientID uuid.UUID, usageType rating.UsageType) ([]*rating.PricingRule, error) {
	var found []models.PricingRuleModel
	err := r.db.WithContext(ctx).
		Scopes(tenant.TenantScope(tenantID)).
		Where("usage_type = ? AND lifecycle = ?", string(usageType), string(shared.LifecycleActive)).
		Where("client_id = ? OR client_id IS NULL", clientID).
		Order("rule_priority ASC").
		Find(&found).Error
	if err != nil {
		return nil, err
	}
	return toDomainRules(found), nil
}

// FindByTenant retrieves all active rules for a tenant
func (r *GormPricingRuleRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID) ([]*rating.PricingRule, error) {
	var found []models.PricingRuleModel
	err := r.db.WithContext(ctx).
		Scopes(tenant.TenantScope(tenantID)).
		Where("lifecycle = ?", string(shared.LifecycleActive)).
		Order("rule_priority ASC").
		Find(&found).Error
	if err != nil {
		return nil, err
	}
	return toDomainRules(found), nil
}

func toDomainRules(found []models.PricingRuleModel) []*rating.PricingRule {
	rules := make([]*rating.PricingRule, len(found))
	for i := range found {
		rules[i] = found[i].ToDomain()
	}
	return rules
}
