package shared

import (
	"time"

	"github.com/google/uuid"
)

// Entity is the base interface for all domain entities
type Entity interface {
	GetID() uuid.UUID
	GetCreatedAt() time.Time
	GetUpdatedAt() time.Time
}

// BaseEntity provides common fields for all entities
type BaseEntity struct {
	ID        uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GetID returns the entity ID
func (e *BaseEntity) GetID() uuid.UUID {
	return e.ID
}

// GetCreatedAt returns the creation timestamp
func (e *BaseEntity) GetCreatedAt() time.Time {
	return e.CreatedAt
}

// GetUpdatedAt returns the last update timestamp
func (e *BaseEntity) GetUpdatedAt() time.Time {
	return e.UpdatedAt
}

// NewBaseEntity creates a new base entity with generated ID
func NewBaseEntity() BaseEntity {
	now := time.Now()
	return BaseEntity{
		ID:        uuid.New(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Lifecycle represents the lifecycle state of a configuration entity.
// Archived entities are kept for audit but excluded from rating.
type Lifecycle string

const (
	// LifecycleActive means the entity participates in rating
	LifecycleActive Lifecycle = "ACTIVE"

	// LifecycleArchived means the entity is retained for audit only
	LifecycleArchived Lifecycle = "ARCHIVED"
)

// IsValid returns true if the lifecycle state is valid
func (l Lifecycle) IsValid() bool {
	return l == LifecycleActive || l == LifecycleArchived
}

// String returns the string representation of Lifecycle
func (l Lifecycle) String() string {
	return string(l)
}
