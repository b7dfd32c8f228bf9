package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/mspbill/backend/internal/domain/rating"
	"github.com/mspbill/backend/internal/infrastructure/persistence/models"
	"github.com/mspbill/backend/internal/infrastructure/persistence/tenant"
)

// GormUsagePositionTracker implements rating.UsagePositionTracker by
// summing rated quantities. Only events rated before the query point count,
// so an event never sees its own quantity in its starting position.
type GormUsagePositionTracker struct {
	db *gorm.DB
}

// NewUsagePositionTracker creates a new usage position tracker
func NewUsagePositionTracker(db *gorm.DB) *GormUsagePositionTracker {
	return &GormUsagePositionTracker{db: db}
}

// CumulativeUsage returns the client's period-to-date usage for the usage
// type axis before the given timestamp
func (t *GormUsagePositionTracker) CumulativeUsage(ctx context.Context, tenantID, clientID uuid.UUID, usageType rating.UsageType, periodStart, before time.Time) (decimal.Decimal, error) {
	var row struct {
		Total decimal.Decimal
	}

	err := t.db.WithContext(ctx).
		Model(&models.RatedEventModel{}).
		Select("COALESCE(SUM(quantity), 0) as total").
		Scopes(tenant.TenantScope(tenantID)).
		Where("client_id = ? AND usage_type = ?", clientID, string(usageType)).
		Where("event_start >= ? AND event_start < ?", periodStart, before).
		Scan(&row).Error
	if err != nil {
		return decimal.Zero, err
	}
	return row.Total, nil
}
