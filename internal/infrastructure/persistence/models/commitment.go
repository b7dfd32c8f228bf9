package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mspbill/backend/internal/domain/commitment"
	"github.com/mspbill/backend/internal/domain/shared"
	"github.com/mspbill/backend/internal/domain/shared/valueobject"
)

// UsageCommitmentModel is the persistence model for the UsageCommitment
// aggregate root. Closed-period evaluations are stored as a JSONB map keyed
// by period, protected against double close by the version column.
type UsageCommitmentModel struct {
	TenantAggregateModel
	ClientID        uuid.UUID       `gorm:"type:uuid;not null;index"`
	Name            string          `gorm:"type:varchar(200);not null"`
	Type            string          `gorm:"type:varchar(20);not null"`
	CommittedAmount decimal.Decimal `gorm:"type:decimal(18,6);not null"`
	Currency        string          `gorm:"type:varchar(3);not null"`
	PeriodDays      int             `gorm:"not null"`

	StartDate          time.Time  `gorm:"not null"`
	EndDate            *time.Time `gorm:""`
	NextEvaluationDate time.Time  `gorm:"not null;index"`

	PenaltyRate    decimal.Decimal  `gorm:"type:decimal(18,6);not null;default:0"`
	MinimumPenalty *decimal.Decimal `gorm:"type:decimal(18,4)"`
	MaximumPenalty *decimal.Decimal `gorm:"type:decimal(18,4)"`

	BonusEnabled bool            `gorm:"not null;default:false"`
	BonusRate    decimal.Decimal `gorm:"type:decimal(18,6);not null;default:0"`

	Status             string          `gorm:"type:varchar(20);not null;index"`
	PeriodSequence     int             `gorm:"not null;default:1"`
	PeriodStart        time.Time       `gorm:"not null"`
	CurrentPeriodUsage decimal.Decimal `gorm:"type:decimal(18,6);not null;default:0"`
	CurrentPeriodSpend decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	LifetimeUsage      decimal.Decimal `gorm:"type:decimal(18,6);not null;default:0"`
	LifetimeSpend      decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`

	Evaluations []byte `gorm:"type:jsonb;default:'{}'"`
	Lifecycle   string `gorm:"type:varchar(20);not null;default:'ACTIVE';index"`
}

// TableName returns the table name for GORM
func (UsageCommitmentModel) TableName() string {
	return "usage_commitments"
}

// ToDomain converts the persistence model to a domain UsageCommitment
func (m *UsageCommitmentModel) ToDomain() *commitment.UsageCommitment {
	var evaluations map[string]*commitment.PeriodEvaluation
	if len(m.Evaluations) > 0 {
		_ = json.Unmarshal(m.Evaluations, &evaluations)
	}
	if evaluations == nil {
		evaluations = make(map[string]*commitment.PeriodEvaluation)
	}

	c := &commitment.UsageCommitment{
		ClientID:           m.ClientID,
		Name:               m.Name,
		Type:               commitment.CommitmentType(m.Type),
		CommittedAmount:    m.CommittedAmount,
		Currency:           valueobject.Currency(m.Currency),
		PeriodDays:         m.PeriodDays,
		StartDate:          m.StartDate,
		EndDate:            m.EndDate,
		NextEvaluationDate: m.NextEvaluationDate,
		PenaltyRate:        m.PenaltyRate,
		MinimumPenalty:     m.MinimumPenalty,
		MaximumPenalty:     m.MaximumPenalty,
		BonusEnabled:       m.BonusEnabled,
		BonusRate:          m.BonusRate,
		Status:             commitment.PeriodStatus(m.Status),
		PeriodSequence:     m.PeriodSequence,
		PeriodStart:        m.PeriodStart,
		CurrentPeriodUsage: m.CurrentPeriodUsage,
		CurrentPeriodSpend: m.CurrentPeriodSpend,
		LifetimeUsage:      m.LifetimeUsage,
		LifetimeSpend:      m.LifetimeSpend,
		Evaluations:        evaluations,
		Lifecycle:          shared.Lifecycle(m.Lifecycle),
	}
	m.PopulateTenantAggregateRoot(&c.TenantAggregateRoot)
	return c
}

// UsageCommitmentModelFromDomain creates a persistence model from a domain UsageCommitment
func UsageCommitmentModelFromDomain(c *commitment.UsageCommitment) *UsageCommitmentModel {
	evaluations := []byte("{}")
	if len(c.Evaluations) > 0 {
		if raw, err := json.Marshal(c.Evaluations); err == nil {
			evaluations = raw
		}
	}

	m := &UsageCommitmentModel{
		ClientID:           c.ClientID,
		Name:               c.Name,
		Type:               string(c.Type),
		CommittedAmount:    c.CommittedAmount,
		Currency:           string(c.Currency),
		PeriodDays:         c.PeriodDays,
		StartDate:          c.StartDate,
		EndDate:            c.EndDate,
		NextEvaluationDate: c.NextEvaluationDate,
		PenaltyRate:        c.PenaltyRate,
		MinimumPenalty:     c.MinimumPenalty,
		MaximumPenalty:     c.MaximumPenalty,
		BonusEnabled:       c.BonusEnabled,
		BonusRate:          c.BonusRate,
		Status:             string(c.Status),
		PeriodSequence:     c.PeriodSequence,
		PeriodStart:        c.PeriodStart,
		CurrentPeriodUsage: c.CurrentPeriodUsage,
		CurrentPeriodSpend: c.CurrentPeriodSpend,
		LifetimeUsage:      c.LifetimeUsage,
		LifetimeSpend:      c.LifetimeSpend,
		Evaluations:        evaluations,
		Lifecycle:          string(c.Lifecycle),
	}
	m.FromDomainTenantAggregateRoot(c.TenantAggregateRoot)
	return m
}
