// Package tenant provides multi-tenant database scoping for GORM.
//
// Every billing table carries a tenant_id column; repositories apply
// TenantScope so cross-tenant reads fail at the query layer rather than
// relying on each call site remembering the WHERE clause.
//
// Usage:
//
//	db.Scopes(tenant.TenantScope(tenantID)).Find(&events)
package tenant

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrTenantIDRequired is returned when a tenant identifier is missing
var ErrTenantIDRequired = errors.New("tenant_id is required")

// ErrInvalidTenantID is returned when tenant_id format is invalid
var ErrInvalidTenantID = errors.New("invalid tenant_id format")

// TenantScope applies tenant filtering to GORM queries
func TenantScope(tenantID uuid.UUID) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("tenant_id = ?", tenantID)
	}
}

// TenantScopeString applies tenant filtering using a string tenant ID
func TenantScopeString(tenantID string) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("tenant_id = ?", tenantID)
	}
}

// Validate checks that a raw tenant identifier is a usable UUID
func Validate(tenantID string) (uuid.UUID, error) {
	if tenantID == "" {
		return uuid.Nil, ErrTenantIDRequired
	}
	id, err := uuid.Parse(tenantID)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, ErrInvalidTenantID
	}
	return id, nil
}
