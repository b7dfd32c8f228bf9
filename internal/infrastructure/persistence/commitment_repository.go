package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mspbill/backend/internal/domain/commitment"
	"github.com/mspbill/backend/internal/domain/shared"
	"github.com/mspbill/backend/internal/infrastructure/persistence/models"
	"github.com/mspbill/backend/internal/infrastructure/persistence/tenant"
)

// GormCommitmentRepository implements commitment.Repository.
type GormCommitmentRepository struct {
	db     *gorm.DB
	outbox shared.OutboxEventSaver
}

// NewCommitmentRepository creates a new commitment repository
func NewCommitmentRepository(db *gorm.DB) *GormCommitmentRepository {
	return &GormCommitmentRepository{db: db}
}

// NewCommitmentRepositoryWithOutbox creates a commitment repository that
// drains the aggregate's pending domain events into the outbox in the
// same transaction as the write, so a period close and its event commit
// or fail together.
func NewCommitmentRepositoryWithOutbox(db *gorm.DB, outbox shared.OutboxEventSaver) *GormCommitmentRepository {
	return &GormCommitmentRepository{db: db, outbox: outbox}
}

// Save creates or updates a commitment without a version check
func (r *GormCommitmentRepository) Save(ctx context.Context, c *commitment.UsageCommitment) error {
	model := models.UsageCommitmentModelFromDomain(c)
	return r.db.WithContext(ctx).Save(model).Error
}

// SaveWithVersion writes period state under the optimistic concurrency
// check, so two schedulers closing the same period race on the version
// column and only one write lands. Pending domain events on the
// aggregate go to the outbox inside the same transaction.
func (r *GormCommitmentRepository) SaveWithVersion(ctx context.Context, c *commitment.UsageCommitment) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := commitmentVersionedUpdate(tx, c); err != nil {
			return err
		}
		if r.outbox != nil && len(c.GetDomainEvents()) > 0 {
			return r.outbox.SaveEvents(ctx, tx, c.GetDomainEvents()...)
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.ClearDomainEvents()
	c.IncrementVersion()
	return nil
}

func commitmentVersionedUpdate(tx *gorm.DB, c *commitment.UsageCommitment) error {
	evaluations := []byte("{}")
	if len(c.Evaluations) > 0 {
		if raw, err := json.Marshal(c.Evaluations); err == nil {
			evaluations = raw
		}
	}

	result := tx.
		Model(&models.UsageCommitmentModel{}).
		Where("id = ? AND version = ?", c.ID, c.Version).
		Updates(map[string]interface{}{
			"next_evaluation_date": c.NextEvaluationDate,
			"status":               string(c.Status),
			"period_sequence":      c.PeriodSequence,
			"period_start":         c.PeriodStart,
			"current_period_usage": c.CurrentPeriodUsage,
			"current_period_spend": c.CurrentPeriodSpend,
			"lifetime_usage":       c.LifetimeUsage,
			"lifetime_spend":       c.LifetimeSpend,
			"evaluations":          evaluations,
			"lifecycle":            string(c.Lifecycle),
			"version":              c.Version + 1,
			"updated_at":           time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return shared.NewDomainError("VERSION_CONFLICT", "Commitment was modified by another transaction")
	}
	return nil
}

// FindByID retrieves a commitment by its ID
func (r *GormCommitmentRepository) FindByID(ctx context.Context, id uuid.UUID) (*commitment.UsageCommitment, error) {
	var model models.UsageCommitmentModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindActiveByClient retrieves a client's active commitments
func (r *GormCommitmentRepository) FindActiveByClient(ctx context.Context, tenantID, clientID uuid.UUID) ([]*commitment.UsageCommitment, error) {
	var found []models.UsageCommitmentModel
	err := r.db.WithContext(ctx).
		Scopes(tenant.TenantScope(tenantID)).
		Where("client_id = ? AND lifecycle = ?", clientID, string(shared.LifecycleActive)).
		Order("start_date ASC").
		Find(&found).Error
	if err != nil {
		return nil, err
	}
	return toDomainCommitments(found), nil
}

// FindDueForEvaluation retrieves commitments whose evaluation date has
// passed, for the period-close scheduler
func (r *GormCommitmentRepository) FindDueForEvaluation(ctx context.Context, asOf time.Time, limit int) ([]*commitment.UsageCommitment, error) {
	if limit <= 0 {
		limit = 100
	}

	var found []models.UsageCommitmentModel
	err := r.db.WithContext(ctx).
		Where("next_evaluation_date <= ? AND lifecycle = ?", asOf, string(shared.LifecycleActive)).
		Order("next_evaluation_date ASC").
		Limit(limit).
		Find(&found).Error
	if err != nil {
		return nil, err
	}
	return toDomainCommitments(found), nil
}

func toDomainCommitments(found []models.UsageCommitmentModel) []*commitment.UsageCommitment {
	commitments := make([]*commitment.UsageCommitment, len(found))
	for i := range found {
		commitments[i] = found[i].ToDomain()
	}
	return commitments
}
