package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mspbill/backend/internal/domain/allocation"
	"github.com/mspbill/backend/internal/domain/rating"
	"github.com/mspbill/backend/internal/domain/shared"
)

// UsagePoolModel is the persistence model for the UsagePool aggregate root.
type UsagePoolModel struct {
	TenantAggregateModel
	Name              string          `gorm:"type:varchar(200);not null"`
	UsageType         string          `gorm:"type:varchar(20);not null;index"`
	TotalCapacity     decimal.Decimal `gorm:"type:decimal(18,6);not null"`
	AllocatedCapacity decimal.Decimal `gorm:"type:decimal(18,6);not null;default:0"`
	UsedCapacity      decimal.Decimal `gorm:"type:decimal(18,6);not null;default:0"`
	Unit              string          `gorm:"type:varchar(20);not null"`
	AllocationMethod  string          `gorm:"type:varchar(20);not null"`
	RolloverPolicy    string          `gorm:"type:varchar(20);not null;default:'FORFEIT'"`
	RolloverCapPct    decimal.Decimal `gorm:"type:decimal(8,4);not null;default:0"`
	RolloverExpiry    time.Duration   `gorm:"not null;default:0"`
	OverflowBehavior  string          `gorm:"type:varchar(20);not null;default:'OVERAGE'"`
	RefillPeriodDays  int             `gorm:"not null;default:0"`
	LastRefillAt      time.Time       `gorm:""`
	Lifecycle         string          `gorm:"type:varchar(20);not null;default:'ACTIVE';index"`
}

// TableName returns the table name for GORM
func (UsagePoolModel) TableName() string {
	return "usage_pools"
}

// ToDomain converts the persistence model to a domain UsagePool
func (m *UsagePoolModel) ToDomain() *allocation.UsagePool {
	pool := &allocation.UsagePool{
		Name:              m.Name,
		UsageType:         rating.UsageType(m.UsageType),
		TotalCapacity:     m.TotalCapacity,
		AllocatedCapacity: m.AllocatedCapacity,
		UsedCapacity:      m.UsedCapacity,
		Unit:              rating.UsageUnit(m.Unit),
		AllocationMethod:  allocation.AllocationMethod(m.AllocationMethod),
		RolloverPolicy:    allocation.RolloverPolicy(m.RolloverPolicy),
		RolloverCapPct:    m.RolloverCapPct,
		RolloverExpiry:    m.RolloverExpiry,
		OverflowBehavior:  allocation.OverflowBehavior(m.OverflowBehavior),
		RefillPeriodDays:  m.RefillPeriodDays,
		LastRefillAt:      m.LastRefillAt,
		Lifecycle:         shared.Lifecycle(m.Lifecycle),
	}
	m.PopulateTenantAggregateRoot(&pool.TenantAggregateRoot)
	return pool
}

// UsagePoolModelFromDomain creates a persistence model from a domain UsagePool
func UsagePoolModelFromDomain(p *allocation.UsagePool) *UsagePoolModel {
	m := &UsagePoolModel{
		Name:              p.Name,
		UsageType:         string(p.UsageType),
		TotalCapacity:     p.TotalCapacity,
		AllocatedCapacity: p.AllocatedCapacity,
		UsedCapacity:      p.UsedCapacity,
		Unit:              string(p.Unit),
		AllocationMethod:  string(p.AllocationMethod),
		RolloverPolicy:    string(p.RolloverPolicy),
		RolloverCapPct:    p.RolloverCapPct,
		RolloverExpiry:    p.RolloverExpiry,
		OverflowBehavior:  string(p.OverflowBehavior),
		RefillPeriodDays:  p.RefillPeriodDays,
		LastRefillAt:      p.LastRefillAt,
		Lifecycle:         string(p.Lifecycle),
	}
	m.FromDomainTenantAggregateRoot(p.TenantAggregateRoot)
	return m
}

// UsageBucketModel is the persistence model for the UsageBucket aggregate
// root. Allowance lots travel with the bucket as a JSONB document: the
// allocation engine always works on a bucket with its full lot set, and lot
// mutation is covered by the bucket's version column.
type UsageBucketModel struct {
	TenantAggregateModel
	PoolID              uuid.UUID       `gorm:"type:uuid;not null;index"`
	ClientID            *uuid.UUID      `gorm:"type:uuid;index"`
	Name                string          `gorm:"type:varchar(200);not null"`
	Capacity            decimal.Decimal `gorm:"type:decimal(18,6);not null"`
	Used                decimal.Decimal `gorm:"type:decimal(18,6);not null;default:0"`
	UsagePriority       int             `gorm:"not null;default:1"`
	AllocationOrder     string          `gorm:"type:varchar(10);not null;default:'FIFO'"`
	AllowsOverflow      bool            `gorm:"not null;default:false"`
	OverflowBucketID    *uuid.UUID      `gorm:"type:uuid"`
	AllowOverallocation bool            `gorm:"not null;default:false"`
	OverflowBehavior    *string         `gorm:"type:varchar(20)"`
	Lots                []byte          `gorm:"type:jsonb;default:'[]'"`
	Lifecycle           string          `gorm:"type:varchar(20);not null;default:'ACTIVE';index"`
}

// TableName returns the table name for GORM
func (UsageBucketModel) TableName() string {
	return "usage_buckets"
}

// ToDomain converts the persistence model to a domain UsageBucket
func (m *UsageBucketModel) ToDomain() *allocation.UsageBucket {
	var lots []allocation.AllowanceLot
	if len(m.Lots) > 0 {
		_ = json.Unmarshal(m.Lots, &lots)
	}

	var overflow *allocation.OverflowBehavior
	if m.OverflowBehavior != nil {
		b := allocation.OverflowBehavior(*m.OverflowBehavior)
		overflow = &b
	}

	bucket := &allocation.UsageBucket{
		PoolID:              m.PoolID,
		ClientID:            m.ClientID,
		Name:                m.Name,
		Capacity:            m.Capacity,
		Used:                m.Used,
		UsagePriority:       m.UsagePriority,
		AllocationOrder:     allocation.AllocationOrder(m.AllocationOrder),
		AllowsOverflow:      m.AllowsOverflow,
		OverflowBucketID:    m.OverflowBucketID,
		AllowOverallocation: m.AllowOverallocation,
		OverflowBehavior:    overflow,
		Lots:                lots,
		Lifecycle:           shared.Lifecycle(m.Lifecycle),
	}
	m.PopulateTenantAggregateRoot(&bucket.TenantAggregateRoot)
	return bucket
}

// UsageBucketModelFromDomain creates a persistence model from a domain UsageBucket
func UsageBucketModelFromDomain(b *allocation.UsageBucket) *UsageBucketModel {
	lots := []byte("[]")
	if len(b.Lots) > 0 {
		if raw, err := json.Marshal(b.Lots); err == nil {
			lots = raw
		}
	}

	var overflow *string
	if b.OverflowBehavior != nil {
		s := string(*b.OverflowBehavior)
		overflow = &s
	}

	m := &UsageBucketModel{
		PoolID:              b.PoolID,
		ClientID:            b.ClientID,
		Name:                b.Name,
		Capacity:            b.Capacity,
		Used:                b.Used,
		UsagePriority:       b.UsagePriority,
		AllocationOrder:     string(b.AllocationOrder),
		AllowsOverflow:      b.AllowsOverflow,
		OverflowBucketID:    b.OverflowBucketID,
		AllowOverallocation: b.AllowOverallocation,
		OverflowBehavior:    overflow,
		Lots:                lots,
		Lifecycle:           string(b.Lifecycle),
	}
	m.FromDomainTenantAggregateRoot(b.TenantAggregateRoot)
	return m
}
