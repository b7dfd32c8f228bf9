package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mspbill/backend/internal/domain/allocation"
	"github.com/mspbill/backend/internal/domain/billing"
	"github.com/mspbill/backend/internal/domain/rating"
	"github.com/mspbill/backend/internal/domain/shared/valueobject"
)

// RatedEventModel is the persistence model for rated events. Rows are
// append-only; the source event ID is unique so a usage event can never be
// rated twice.
type RatedEventModel struct {
	BaseModel
	TenantID      uuid.UUID `gorm:"type:uuid;not null;index:idx_rated_events_tenant_time,priority:1"`
	ClientID      uuid.UUID `gorm:"type:uuid;not null;index"`
	EventID       uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	TransactionID string    `gorm:"type:varchar(255);not null"`
	BatchID       string    `gorm:"type:varchar(100)"`

	UsageType   string          `gorm:"type:varchar(20);not null"`
	ServiceType string          `gorm:"type:varchar(30);not null"`
	Quantity    decimal.Decimal `gorm:"type:decimal(18,6);not null"`
	Unit        string          `gorm:"type:varchar(20);not null"`
	EventStart  time.Time       `gorm:"not null;index:idx_rated_events_tenant_time,priority:2"`
	EventEnd    time.Time       `gorm:"not null"`

	RuleID   uuid.UUID  `gorm:"type:uuid;not null;index"`
	TierID   *uuid.UUID `gorm:"type:uuid"`
	Segments []byte     `gorm:"type:jsonb;default:'[]'"`

	PeakQuantity       decimal.Decimal `gorm:"type:decimal(18,6);not null;default:0"`
	IncludedQuantity   decimal.Decimal `gorm:"type:decimal(18,6);not null;default:0"`
	OverageQuantity    decimal.Decimal `gorm:"type:decimal(18,6);not null;default:0"`
	BonusQuantity      decimal.Decimal `gorm:"type:decimal(18,6);not null;default:0"`
	CommittedQuantity  decimal.Decimal `gorm:"type:decimal(18,6);not null;default:0"`
	BucketConsumptions []byte          `gorm:"type:jsonb;default:'[]'"`

	Currency    string          `gorm:"type:varchar(3);not null"`
	BaseCost    decimal.Decimal `gorm:"type:decimal(18,6);not null;default:0"`
	OverageCost decimal.Decimal `gorm:"type:decimal(18,6);not null;default:0"`
	Markup      decimal.Decimal `gorm:"type:decimal(18,6);not null;default:0"`
	Discount    decimal.Decimal `gorm:"type:decimal(18,6);not null;default:0"`
	Subtotal    decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	Tax         decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	TaxPending  bool            `gorm:"not null;default:false;index"`
	Total       decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`

	RatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (RatedEventModel) TableName() string {
	return "rated_events"
}

// ToDomain converts the persistence model to a domain RatedEvent
func (m *RatedEventModel) ToDomain() *billing.RatedEvent {
	var segments []rating.TierSegment
	if len(m.Segments) > 0 {
		_ = json.Unmarshal(m.Segments, &segments)
	}
	var consumptions []allocation.BucketConsumption
	if len(m.BucketConsumptions) > 0 {
		_ = json.Unmarshal(m.BucketConsumptions, &consumptions)
	}

	currency := valueobject.Currency(m.Currency)
	subtotal, _ := valueobject.NewMoney(m.Subtotal, currency)
	tax, _ := valueobject.NewMoney(m.Tax, currency)
	total, _ := valueobject.NewMoney(m.Total, currency)

	return &billing.RatedEvent{
		BaseEntity:         m.BaseModel.ToDomain(),
		TenantID:           m.TenantID,
		ClientID:           m.ClientID,
		EventID:            m.EventID,
		TransactionID:      m.TransactionID,
		BatchID:            m.BatchID,
		UsageType:          rating.UsageType(m.UsageType),
		ServiceType:        rating.ServiceType(m.ServiceType),
		Quantity:           m.Quantity,
		Unit:               rating.UsageUnit(m.Unit),
		EventStart:         m.EventStart,
		EventEnd:           m.EventEnd,
		RuleID:             m.RuleID,
		TierID:             m.TierID,
		Segments:           segments,
		PeakQuantity:       m.PeakQuantity,
		IncludedQuantity:   m.IncludedQuantity,
		OverageQuantity:    m.OverageQuantity,
		BonusQuantity:      m.BonusQuantity,
		CommittedQuantity:  m.CommittedQuantity,
		BucketConsumptions: consumptions,
		Currency:           currency,
		BaseCost:           m.BaseCost,
		OverageCost:        m.OverageCost,
		Markup:             m.Markup,
		Discount:           m.Discount,
		Subtotal:           subtotal,
		Tax:                tax,
		TaxPending:         m.TaxPending,
		Total:              total,
		RatedAt:            m.RatedAt,
	}
}

// RatedEventModelFromDomain creates a persistence model from a domain RatedEvent
func RatedEventModelFromDomain(e *billing.RatedEvent) *RatedEventModel {
	segments := []byte("[]")
	if len(e.Segments) > 0 {
		if raw, err := json.Marshal(e.Segments); err == nil {
			segments = raw
		}
	}
	consumptions := []byte("[]")
	if len(e.BucketConsumptions) > 0 {
		if raw, err := json.Marshal(e.BucketConsumptions); err == nil {
			consumptions = raw
		}
	}

	m := &RatedEventModel{
		TenantID:           e.TenantID,
		ClientID:           e.ClientID,
		EventID:            e.EventID,
		TransactionID:      e.TransactionID,
		BatchID:            e.BatchID,
		UsageType:          string(e.UsageType),
		ServiceType:        string(e.ServiceType),
		Quantity:           e.Quantity,
		Unit:               string(e.Unit),
		EventStart:         e.EventStart,
		EventEnd:           e.EventEnd,
		RuleID:             e.RuleID,
		TierID:             e.TierID,
		Segments:           segments,
		PeakQuantity:       e.PeakQuantity,
		IncludedQuantity:   e.IncludedQuantity,
		OverageQuantity:    e.OverageQuantity,
		BonusQuantity:      e.BonusQuantity,
		CommittedQuantity:  e.CommittedQuantity,
		BucketConsumptions: consumptions,
		Currency:           string(e.Currency),
		BaseCost:           e.BaseCost,
		OverageCost:        e.OverageCost,
		Markup:             e.Markup,
		Discount:           e.Discount,
		Subtotal:           e.Subtotal.Amount(),
		Tax:                e.Tax.Amount(),
		TaxPending:         e.TaxPending,
		Total:              e.Total.Amount(),
		RatedAt:            e.RatedAt,
	}
	m.FromDomainBaseEntity(e.BaseEntity)
	return m
}
