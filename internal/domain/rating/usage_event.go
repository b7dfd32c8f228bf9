package rating

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mspbill/backend/internal/domain/shared"
)

// EventStatus tracks a usage event through the rating pipeline
type EventStatus string

const (
	// EventStatusReceived means the event has been accepted but not yet rated
	EventStatusReceived EventStatus = "RECEIVED"

	// EventStatusRated means the event has been rated exactly once
	EventStatusRated EventStatus = "RATED"

	// EventStatusUnrated means no pricing rule matched; the event is parked
	// for manual rating
	EventStatusUnrated EventStatus = "UNRATED"

	// EventStatusFailed means a non-rating error occurred while processing
	EventStatusFailed EventStatus = "FAILED"
)

// IsValid returns true if the event status is valid
func (s EventStatus) IsValid() bool {
	switch s {
	case EventStatusReceived, EventStatusRated, EventStatusUnrated, EventStatusFailed:
		return true
	}
	return false
}

// Metadata holds raw technical metadata captured with a usage event
type Metadata map[string]any

// UsageEvent represents one metered transaction (a CDR, data session, SMS or
// API call). Events are immutable once accepted - corrections are made with
// new events. The TransactionID is the idempotency key: duplicates are
// rejected without side effects.
type UsageEvent struct {
	shared.BaseEntity
	TransactionID string          // Unique transaction identifier (idempotency key)
	TenantID      uuid.UUID       // Tenant this usage belongs to
	ClientID      uuid.UUID       // Client account within the tenant
	UsageType     UsageType       // Kind of usage (voice/data/sms/feature/api)
	ServiceType   ServiceType     // Service the usage was metered against
	Quantity      decimal.Decimal // Metered amount (always positive)
	Unit          UsageUnit       // Unit of measurement
	StartTime     time.Time       // When the usage started
	EndTime       time.Time       // When the usage ended
	Origination   string          // Originating geography (e.g. E.164 prefix, region code)
	Destination   string          // Destination geography
	BatchID       string          // Operational tracing only, no atomicity semantics
	Status        EventStatus     // Pipeline status
	StatusReason  string          // Why the event is unrated/failed (empty otherwise)
	Metadata      Metadata        // Raw technical metadata from the switch/gateway
}

// NewUsageEvent creates a usage event with validation
func NewUsageEvent(
	transactionID string,
	tenantID uuid.UUID,
	clientID uuid.UUID,
	usageType UsageType,
	serviceType ServiceType,
	quantity decimal.Decimal,
	startTime time.Time,
	endTime time.Time,
) (*UsageEvent, error) {
	if transactionID == "" {
		return nil, shared.NewDomainError("INVALID_TRANSACTION_ID", "Transaction ID cannot be empty")
	}
	if tenantID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_TENANT", "Tenant ID cannot be empty")
	}
	if clientID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_CLIENT", "Client ID cannot be empty")
	}
	if !usageType.IsValid() {
		return nil, shared.NewDomainError("INVALID_USAGE_TYPE", "Invalid usage type")
	}
	if !serviceType.IsValid() || serviceType == ServiceTypeAny {
		return nil, shared.NewDomainError("INVALID_SERVICE_TYPE", "Invalid service type")
	}
	if quantity.IsNegative() {
		return nil, shared.NewDomainError("INVALID_QUANTITY", "Quantity cannot be negative")
	}
	if endTime.Before(startTime) {
		return nil, shared.NewDomainError("INVALID_PERIOD", "End time cannot be before start time")
	}

	return &UsageEvent{
		BaseEntity:    shared.NewBaseEntity(),
		TransactionID: transactionID,
		TenantID:      tenantID,
		ClientID:      clientID,
		UsageType:     usageType,
		ServiceType:   serviceType,
		Quantity:      quantity,
		Unit:          usageType.Unit(),
		StartTime:     startTime,
		EndTime:       endTime,
		Status:        EventStatusReceived,
		Metadata:      make(Metadata),
	}, nil
}

// WithGeography sets origination and destination geography
func (e *UsageEvent) WithGeography(origination, destination string) *UsageEvent {
	e.Origination = origination
	e.Destination = destination
	return e
}

// WithBatch tags the event with a batch identifier for tracing
func (e *UsageEvent) WithBatch(batchID string) *UsageEvent {
	e.BatchID = batchID
	return e
}

// WithMetadata adds metadata to the event
func (e *UsageEvent) WithMetadata(key string, value any) *UsageEvent {
	if e.Metadata == nil {
		e.Metadata = make(Metadata)
	}
	e.Metadata[key] = value
	return e
}

// Duration returns the elapsed time of the usage event
func (e *UsageEvent) Duration() time.Duration {
	return e.EndTime.Sub(e.StartTime)
}

// MarkRated transitions the event to rated. An event is rated exactly once.
func (e *UsageEvent) MarkRated() error {
	if e.Status == EventStatusRated {
		return shared.ErrInvalidState
	}
	e.Status = EventStatusRated
	e.StatusReason = ""
	e.UpdatedAt = time.Now()
	return nil
}

// MarkUnrated parks the event for manual rating
func (e *UsageEvent) MarkUnrated(reason string) {
	e.Status = EventStatusUnrated
	e.StatusReason = reason
	e.UpdatedAt = time.Now()
}

// MarkFailed records a processing failure against the event
func (e *UsageEvent) MarkFailed(reason string) {
	e.Status = EventStatusFailed
	e.StatusReason = reason
	e.UpdatedAt = time.Now()
}

// IsWeekend returns true if the event started on a Saturday or Sunday
func (e *UsageEvent) IsWeekend() bool {
	wd := e.StartTime.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
