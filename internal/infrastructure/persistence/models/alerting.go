package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mspbill/backend/internal/domain/alerting"
	"github.com/mspbill/backend/internal/domain/shared"
)

// UsageAlertModel is the persistence model for the UsageAlert aggregate root.
// The delivery log backs the hourly and daily rate caps across restarts.
type UsageAlertModel struct {
	TenantAggregateModel
	Name       string     `gorm:"type:varchar(200);not null"`
	EntityKind string     `gorm:"type:varchar(20);not null;index:idx_usage_alerts_entity,priority:1"`
	EntityID   uuid.UUID  `gorm:"type:uuid;not null;index:idx_usage_alerts_entity,priority:2"`
	ClientID   *uuid.UUID `gorm:"type:uuid;index"`

	WarningThreshold  decimal.Decimal `gorm:"type:decimal(8,4);not null"`
	CriticalThreshold decimal.Decimal `gorm:"type:decimal(8,4);not null"`

	Status          string          `gorm:"type:varchar(20);not null;index"`
	LastValue       decimal.Decimal `gorm:"type:decimal(8,4);not null;default:0"`
	LastTriggeredAt *time.Time      `gorm:""`
	AcknowledgedAt  *time.Time      `gorm:""`
	AcknowledgedBy  string          `gorm:"type:varchar(200)"`

	SuppressionWindow time.Duration `gorm:"not null;default:0"`
	MaxAlertsPerHour  int           `gorm:"not null;default:0"`
	MaxAlertsPerDay   int           `gorm:"not null;default:0"`
	SuppressedCount   int           `gorm:"not null;default:0"`

	EscalationDelay time.Duration `gorm:"not null;default:0"`
	EscalationLevel int           `gorm:"not null;default:0"`

	Deliveries []byte `gorm:"type:jsonb;default:'[]'"`
	Lifecycle  string `gorm:"type:varchar(20);not null;default:'ACTIVE';index"`
}

// TableName returns the table name for GORM
func (UsageAlertModel) TableName() string {
	return "usage_alerts"
}

// ToDomain converts the persistence model to a domain UsageAlert
func (m *UsageAlertModel) ToDomain() *alerting.UsageAlert {
	a := &alerting.UsageAlert{
		Name:              m.Name,
		EntityKind:        alerting.EntityKind(m.EntityKind),
		EntityID:          m.EntityID,
		ClientID:          m.ClientID,
		WarningThreshold:  m.WarningThreshold,
		CriticalThreshold: m.CriticalThreshold,
		Status:            alerting.AlertStatus(m.Status),
		LastValue:         m.LastValue,
		LastTriggeredAt:   m.LastTriggeredAt,
		AcknowledgedAt:    m.AcknowledgedAt,
		AcknowledgedBy:    m.AcknowledgedBy,
		SuppressionWindow: m.SuppressionWindow,
		MaxAlertsPerHour:  m.MaxAlertsPerHour,
		MaxAlertsPerDay:   m.MaxAlertsPerDay,
		SuppressedCount:   m.SuppressedCount,
		EscalationDelay:   m.EscalationDelay,
		EscalationLevel:   m.EscalationLevel,
		Lifecycle:         shared.Lifecycle(m.Lifecycle),
	}
	m.PopulateTenantAggregateRoot(&a.TenantAggregateRoot)

	if len(m.Deliveries) > 0 {
		var deliveries []time.Time
		if err := json.Unmarshal(m.Deliveries, &deliveries); err == nil {
			a.RestoreDeliveryLog(deliveries)
		}
	}
	return a
}

// UsageAlertModelFromDomain creates a persistence model from a domain UsageAlert
func UsageAlertModelFromDomain(a *alerting.UsageAlert) *UsageAlertModel {
	deliveries := []byte("[]")
	if log := a.DeliveryLog(); len(log) > 0 {
		if raw, err := json.Marshal(log); err == nil {
			deliveries = raw
		}
	}

	m := &UsageAlertModel{
		Name:              a.Name,
		EntityKind:        string(a.EntityKind),
		EntityID:          a.EntityID,
		ClientID:          a.ClientID,
		WarningThreshold:  a.WarningThreshold,
		CriticalThreshold: a.CriticalThreshold,
		Status:            string(a.Status),
		LastValue:         a.LastValue,
		LastTriggeredAt:   a.LastTriggeredAt,
		AcknowledgedAt:    a.AcknowledgedAt,
		AcknowledgedBy:    a.AcknowledgedBy,
		SuppressionWindow: a.SuppressionWindow,
		MaxAlertsPerHour:  a.MaxAlertsPerHour,
		MaxAlertsPerDay:   a.MaxAlertsPerDay,
		SuppressedCount:   a.SuppressedCount,
		EscalationDelay:   a.EscalationDelay,
		EscalationLevel:   a.EscalationLevel,
		Deliveries:        deliveries,
		Lifecycle:         string(a.Lifecycle),
	}
	m.FromDomainTenantAggregateRoot(a.TenantAggregateRoot)
	return m
}
