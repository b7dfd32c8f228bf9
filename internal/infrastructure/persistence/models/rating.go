package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mspbill/backend/internal/domain/rating"
	"github.com/mspbill/backend/internal/domain/shared"
	"github.com/mspbill/backend/internal/domain/shared/valueobject"
)

// UsageEventModel is the persistence model for usage events. The
// (tenant_id, transaction_id) unique index is the idempotency boundary:
// inserting an already-processed transaction fails at the database.
type UsageEventModel struct {
	BaseModel
	TenantID      uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_usage_events_tenant_txn,priority:1;index:idx_usage_events_tenant_time,priority:1"`
	TransactionID string          `gorm:"type:varchar(255);not null;uniqueIndex:idx_usage_events_tenant_txn,priority:2"`
	ClientID      uuid.UUID       `gorm:"type:uuid;not null;index"`
	UsageType     string          `gorm:"type:varchar(20);not null"`
	ServiceType   string          `gorm:"type:varchar(30);not null"`
	Quantity      decimal.Decimal `gorm:"type:decimal(18,6);not null"`
	Unit          string          `gorm:"type:varchar(20);not null"`
	StartTime     time.Time       `gorm:"not null;index:idx_usage_events_tenant_time,priority:2"`
	EndTime       time.Time       `gorm:"not null"`
	Origination   string          `gorm:"type:varchar(64)"`
	Destination   string          `gorm:"type:varchar(64)"`
	BatchID       string          `gorm:"type:varchar(100);index"`
	Status        string          `gorm:"type:varchar(20);not null;index"`
	StatusReason  string          `gorm:"type:varchar(500)"`
	Metadata      []byte          `gorm:"type:jsonb;default:'{}'"`
}

// TableName returns the table name for GORM
func (UsageEventModel) TableName() string {
	return "usage_events"
}

// ToDomain converts the persistence model to a domain UsageEvent
func (m *UsageEventModel) ToDomain() *rating.UsageEvent {
	var metadata rating.Metadata
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &metadata)
	}
	if metadata == nil {
		metadata = make(rating.Metadata)
	}

	return &rating.UsageEvent{
		BaseEntity:    m.BaseModel.ToDomain(),
		TransactionID: m.TransactionID,
		TenantID:      m.TenantID,
		ClientID:      m.ClientID,
		UsageType:     rating.UsageType(m.UsageType),
		ServiceType:   rating.ServiceType(m.ServiceType),
		Quantity:      m.Quantity,
		Unit:          rating.UsageUnit(m.Unit),
		StartTime:     m.StartTime,
		EndTime:       m.EndTime,
		Origination:   m.Origination,
		Destination:   m.Destination,
		BatchID:       m.BatchID,
		Status:        rating.EventStatus(m.Status),
		StatusReason:  m.StatusReason,
		Metadata:      metadata,
	}
}

// UsageEventModelFromDomain creates a persistence model from a domain UsageEvent
func UsageEventModelFromDomain(e *rating.UsageEvent) *UsageEventModel {
	metadata := []byte("{}")
	if len(e.Metadata) > 0 {
		if raw, err := json.Marshal(e.Metadata); err == nil {
			metadata = raw
		}
	}

	m := &UsageEventModel{
		TenantID:      e.TenantID,
		TransactionID: e.TransactionID,
		ClientID:      e.ClientID,
		UsageType:     string(e.UsageType),
		ServiceType:   string(e.ServiceType),
		Quantity:      e.Quantity,
		Unit:          string(e.Unit),
		StartTime:     e.StartTime,
		EndTime:       e.EndTime,
		Origination:   e.Origination,
		Destination:   e.Destination,
		BatchID:       e.BatchID,
		Status:        string(e.Status),
		StatusReason:  e.StatusReason,
		Metadata:      metadata,
	}
	m.FromDomainBaseEntity(e.BaseEntity)
	return m
}

// PricingRuleModel is the persistence model for the PricingRule aggregate root.
// Tiers are stored as a JSONB document because the rating path always loads a
// rule with its full tier set.
type PricingRuleModel struct {
	TenantAggregateModel
	Name            string           `gorm:"type:varchar(200);not null"`
	ClientID        *uuid.UUID       `gorm:"type:uuid;index"`
	UsageType       string           `gorm:"type:varchar(20);not null;index"`
	ServiceType     string           `gorm:"type:varchar(30);not null"`
	PricingModel    string           `gorm:"type:varchar(20);not null"`
	BaseRate        decimal.Decimal  `gorm:"type:decimal(18,6);not null"`
	Currency        string           `gorm:"type:varchar(3);not null"`
	RulePriority    int              `gorm:"not null;default:100"`
	EffectiveDate   time.Time        `gorm:"not null"`
	ExpiryDate      *time.Time       `gorm:""`
	Tiers           []byte           `gorm:"type:jsonb;default:'[]'"`
	PeakStartHour   int              `gorm:"not null;default:8"`
	PeakEndHour     int              `gorm:"not null;default:20"`
	MarkupPercent   decimal.Decimal  `gorm:"type:decimal(8,4);not null;default:0"`
	DiscountPercent decimal.Decimal  `gorm:"type:decimal(8,4);not null;default:0"`
	DiscountFixed   decimal.Decimal  `gorm:"type:decimal(18,6);not null;default:0"`
	MinimumCharge   *decimal.Decimal `gorm:"type:decimal(18,6)"`
	TaxExempt       bool             `gorm:"not null;default:false"`
	Lifecycle       string           `gorm:"type:varchar(20);not null;default:'ACTIVE';index"`
}

// TableName returns the table name for GORM
func (PricingRuleModel) TableName() string {
	return "pricing_rules"
}

// ToDomain converts the persistence model to a domain PricingRule
func (m *PricingRuleModel) ToDomain() *rating.PricingRule {
	var tiers []rating.UsageTier
	if len(m.Tiers) > 0 {
		_ = json.Unmarshal(m.Tiers, &tiers)
	}

	rule := &rating.PricingRule{
		Name:            m.Name,
		ClientID:        m.ClientID,
		UsageType:       rating.UsageType(m.UsageType),
		ServiceType:     rating.ServiceType(m.ServiceType),
		PricingModel:    rating.PricingModel(m.PricingModel),
		BaseRate:        m.BaseRate,
		Currency:        valueobject.Currency(m.Currency),
		RulePriority:    m.RulePriority,
		EffectiveDate:   m.EffectiveDate,
		ExpiryDate:      m.ExpiryDate,
		Tiers:           tiers,
		TimeOfUse:       rating.TimeOfUseWindow{PeakStartHour: m.PeakStartHour, PeakEndHour: m.PeakEndHour},
		MarkupPercent:   m.MarkupPercent,
		DiscountPercent: m.DiscountPercent,
		DiscountFixed:   m.DiscountFixed,
		MinimumCharge:   m.MinimumCharge,
		TaxExempt:       m.TaxExempt,
		Lifecycle:       shared.Lifecycle(m.Lifecycle),
	}
	m.PopulateTenantAggregateRoot(&rule.TenantAggregateRoot)
	return rule
}

// PricingRuleModelFromDomain creates a persistence model from a domain PricingRule
func PricingRuleModelFromDomain(r *rating.PricingRule) *PricingRuleModel {
	tiers := []byte("[]")
	if len(r.Tiers) > 0 {
		if raw, err := json.Marshal(r.Tiers); err == nil {
			tiers = raw
		}
	}

	m := &PricingRuleModel{
		Name:            r.Name,
		ClientID:        r.ClientID,
		UsageType:       string(r.UsageType),
		ServiceType:     string(r.ServiceType),
		PricingModel:    string(r.PricingModel),
		BaseRate:        r.BaseRate,
		Currency:        string(r.Currency),
		RulePriority:    r.RulePriority,
		EffectiveDate:   r.EffectiveDate,
		ExpiryDate:      r.ExpiryDate,
		Tiers:           tiers,
		PeakStartHour:   r.TimeOfUse.PeakStartHour,
		PeakEndHour:     r.TimeOfUse.PeakEndHour,
		MarkupPercent:   r.MarkupPercent,
		DiscountPercent: r.DiscountPercent,
		DiscountFixed:   r.DiscountFixed,
		MinimumCharge:   r.MinimumCharge,
		TaxExempt:       r.TaxExempt,
		Lifecycle:       string(r.Lifecycle),
	}
	m.FromDomainTenantAggregateRoot(r.TenantAggregateRoot)
	return m
}
