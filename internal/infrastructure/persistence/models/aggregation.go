package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mspbill/backend/internal/domain/aggregation"
	"github.com/mspbill/backend/internal/domain/rating"
	"github.com/mspbill/backend/internal/domain/shared/valueobject"
)

// UsageAggregationModel is the persistence model for usage rollups. The
// composite unique index is the rollup key: a recomputation replaces the
// row instead of duplicating it.
type UsageAggregationModel struct {
	BaseModel
	TenantID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_usage_aggregations_key,priority:1"`
	ClientID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_usage_aggregations_key,priority:2"`
	UsageType   string    `gorm:"type:varchar(20);not null;uniqueIndex:idx_usage_aggregations_key,priority:3"`
	ServiceType string    `gorm:"type:varchar(30);not null;uniqueIndex:idx_usage_aggregations_key,priority:4"`
	Level       string    `gorm:"type:varchar(10);not null;uniqueIndex:idx_usage_aggregations_key,priority:5"`
	PeriodStart time.Time `gorm:"not null;uniqueIndex:idx_usage_aggregations_key,priority:6"`
	PeriodEnd   time.Time `gorm:"not null"`

	TransactionCount int64           `gorm:"not null;default:0"`
	TotalQuantity    decimal.Decimal `gorm:"type:decimal(18,6);not null;default:0"`
	IncludedQuantity decimal.Decimal `gorm:"type:decimal(18,6);not null;default:0"`
	OverageQuantity  decimal.Decimal `gorm:"type:decimal(18,6);not null;default:0"`
	PeakQuantity     decimal.Decimal `gorm:"type:decimal(18,6);not null;default:0"`

	Currency        string          `gorm:"type:varchar(3);not null"`
	TotalRevenue    decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	TotalTax        decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	TotalCost       decimal.Decimal `gorm:"type:decimal(18,4);not null;default:0"`
	TaxPendingCount int64           `gorm:"not null;default:0"`

	ComputedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (UsageAggregationModel) TableName() string {
	return "usage_aggregations"
}

// ToDomain converts the persistence model to a domain UsageAggregation
func (m *UsageAggregationModel) ToDomain() *aggregation.UsageAggregation {
	return &aggregation.UsageAggregation{
		BaseEntity:       m.BaseModel.ToDomain(),
		TenantID:         m.TenantID,
		ClientID:         m.ClientID,
		UsageType:        rating.UsageType(m.UsageType),
		ServiceType:      rating.ServiceType(m.ServiceType),
		Level:            aggregation.AggregationLevel(m.Level),
		PeriodStart:      m.PeriodStart,
		PeriodEnd:        m.PeriodEnd,
		TransactionCount: m.TransactionCount,
		TotalQuantity:    m.TotalQuantity,
		IncludedQuantity: m.IncludedQuantity,
		OverageQuantity:  m.OverageQuantity,
		PeakQuantity:     m.PeakQuantity,
		Currency:         valueobject.Currency(m.Currency),
		TotalRevenue:     m.TotalRevenue,
		TotalTax:         m.TotalTax,
		TotalCost:        m.TotalCost,
		TaxPendingCount:  m.TaxPendingCount,
		ComputedAt:       m.ComputedAt,
	}
}

// UsageAggregationModelFromDomain creates a persistence model from a domain UsageAggregation
func UsageAggregationModelFromDomain(a *aggregation.UsageAggregation) *UsageAggregationModel {
	m := &UsageAggregationModel{
		TenantID:         a.TenantID,
		ClientID:         a.ClientID,
		UsageType:        string(a.UsageType),
		ServiceType:      string(a.ServiceType),
		Level:            string(a.Level),
		PeriodStart:      a.PeriodStart,
		PeriodEnd:        a.PeriodEnd,
		TransactionCount: a.TransactionCount,
		TotalQuantity:    a.TotalQuantity,
		IncludedQuantity: a.IncludedQuantity,
		OverageQuantity:  a.OverageQuantity,
		PeakQuantity:     a.PeakQuantity,
		Currency:         string(a.Currency),
		TotalRevenue:     a.TotalRevenue,
		TotalTax:         a.TotalTax,
		TotalCost:        a.TotalCost,
		TaxPendingCount:  a.TaxPendingCount,
		ComputedAt:       a.ComputedAt,
	}
	m.FromDomainBaseEntity(a.BaseEntity)
	return m
}
