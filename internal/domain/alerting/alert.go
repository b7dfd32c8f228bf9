package alerting

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mspbill/backend/internal/domain/shared"
)

// AlertStatus is the watcher's state machine position
type AlertStatus string

const (
	AlertStatusNormal    AlertStatus = "NORMAL"
	AlertStatusWarning   AlertStatus = "WARNING"
	AlertStatusCritical  AlertStatus = "CRITICAL"
	AlertStatusTriggered AlertStatus = "TRIGGERED"
)

// Severity orders alert statuses for transition comparisons
func (s AlertStatus) Severity() int {
	switch s {
	case AlertStatusWarning:
		return 1
	case AlertStatusCritical:
		return 2
	case AlertStatusTriggered:
		return 3
	default:
		return 0
	}
}

// EntityKind names what a watcher is bound to
type EntityKind string

const (
	EntityPool       EntityKind = "POOL"
	EntityBucket     EntityKind = "BUCKET"
	EntityCommitment EntityKind = "COMMITMENT"
)

// AlertEvent is the payload handed to the notification collaborator.
// Delivery (email/SMS/webhook) is the collaborator's problem; the
// monitor's contract ends at "alert event emitted".
type AlertEvent struct {
	AlertID         uuid.UUID
	TenantID        uuid.UUID
	EntityKind      EntityKind
	EntityID        uuid.UUID
	Status          AlertStatus
	CurrentValue    decimal.Decimal
	Threshold       decimal.Decimal
	EscalationLevel int
	Timestamp       time.Time
}

// UsageAlert watches one pool, bucket or commitment against utilization
// thresholds. It runs after every state mutation of the watched entity.
type UsageAlert struct {
	shared.TenantAggregateRoot

	Name       string
	EntityKind EntityKind
	EntityID   uuid.UUID
	ClientID   *uuid.UUID

	WarningThreshold  decimal.Decimal // percent
	CriticalThreshold decimal.Decimal // percent

	Status          AlertStatus
	LastValue       decimal.Decimal
	LastTriggeredAt *time.Time
	AcknowledgedAt  *time.Time
	AcknowledgedBy  string

	SuppressionWindow time.Duration
	MaxAlertsPerHour  int
	MaxAlertsPerDay   int
	SuppressedCount   int

	EscalationDelay time.Duration
	EscalationLevel int

	Lifecycle shared.Lifecycle

	deliveries []time.Time
}

// NewUsageAlert creates a watcher in the normal state
func NewUsageAlert(
	tenantID uuid.UUID,
	name string,
	kind EntityKind,
	entityID uuid.UUID,
	warningThreshold decimal.Decimal,
	criticalThreshold decimal.Decimal,
) (*UsageAlert, error) {
	if tenantID == uuid.Nil || entityID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_ID", "Tenant and entity IDs cannot be empty")
	}
	if name == "" {
		return nil, shared.NewDomainError("INVALID_NAME", "Alert name cannot be empty")
	}
	if warningThreshold.GreaterThanOrEqual(criticalThreshold) {
		return nil, shared.NewDomainError("INVALID_THRESHOLDS", "Warning threshold must be below critical threshold")
	}

	return &UsageAlert{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		Name:                name,
		EntityKind:          kind,
		EntityID:            entityID,
		WarningThreshold:    warningThreshold,
		CriticalThreshold:   criticalThreshold,
		Status:              AlertStatusNormal,
		SuppressionWindow:   time.Hour,
		MaxAlertsPerHour:    4,
		MaxAlertsPerDay:     20,
		EscalationDelay:     30 * time.Minute,
		Lifecycle:           shared.LifecycleActive,
	}, nil
}

// WithSuppression tunes the suppression window and delivery rate caps
func (a *UsageAlert) WithSuppression(window time.Duration, perHour, perDay int) *UsageAlert {
	a.SuppressionWindow = window
	a.MaxAlertsPerHour = perHour
	a.MaxAlertsPerDay = perDay
	return a
}

// WithEscalation sets how long an unacknowledged trigger waits before
// escalating
func (a *UsageAlert) WithEscalation(delay time.Duration) *UsageAlert {
	a.EscalationDelay = delay
	return a
}

// ForClient scopes the watcher to a client
func (a *UsageAlert) ForClient(clientID uuid.UUID) *UsageAlert {
	a.ClientID = &clientID
	return a
}

// severityFor maps a utilization value onto a threshold state
func (a *UsageAlert) severityFor(value decimal.Decimal) AlertStatus {
	switch {
	case value.GreaterThanOrEqual(a.CriticalThreshold):
		return AlertStatusCritical
	case value.GreaterThanOrEqual(a.WarningThreshold):
		return AlertStatusWarning
	default:
		return AlertStatusNormal
	}
}

// Evaluate compares the current value against the thresholds and advances
// the state machine. A non-nil event means "deliver this"; nil means no
// transition happened or the trigger was suppressed. Re-entering a lower
// state clears the higher-state flags (escalation level, acknowledgement).
func (a *UsageAlert) Evaluate(value decimal.Decimal, now time.Time) (*AlertEvent, error) {
	if a.Lifecycle != shared.LifecycleActive {
		return nil, shared.ErrArchived
	}

	previous := a.Status
	if previous == AlertStatusTriggered {
		// The triggered flag rides on top of the threshold state
		previous = a.severityFor(a.LastValue)
	}
	severity := a.severityFor(value)
	a.LastValue = value
	a.UpdatedAt = time.Now()

	switch {
	case severity.Severity() > previous.Severity():
		return a.trigger(severity, value, now), nil
	case severity.Severity() < previous.Severity():
		a.demote(severity)
		return nil, nil
	case severity != AlertStatusNormal:
		// Identical trigger repeating
		return a.repeat(severity, value, now), nil
	default:
		return nil, nil
	}
}

func (a *UsageAlert) trigger(severity AlertStatus, value decimal.Decimal, now time.Time) *AlertEvent {
	a.Status = AlertStatusTriggered
	a.LastTriggeredAt = &now
	a.AcknowledgedAt = nil
	a.AcknowledgedBy = ""
	a.EscalationLevel = 0

	if !a.mayDeliver(now) {
		a.SuppressedCount++
		return nil
	}
	return a.emit(severity, value, now)
}

// repeat handles an identical trigger re-firing. Within the suppression
// window it is counted but not re-delivered; outside it, delivery is
// still bounded by the hourly and daily caps.
func (a *UsageAlert) repeat(severity AlertStatus, value decimal.Decimal, now time.Time) *AlertEvent {
	if a.LastTriggeredAt != nil && now.Sub(*a.LastTriggeredAt) < a.SuppressionWindow {
		a.SuppressedCount++
		return nil
	}
	a.LastTriggeredAt = &now
	if !a.mayDeliver(now) {
		a.SuppressedCount++
		return nil
	}
	return a.emit(severity, value, now)
}

// demote drops the watcher to a lower state and clears higher-state flags
func (a *UsageAlert) demote(severity AlertStatus) {
	a.Status = severity
	a.EscalationLevel = 0
	a.SuppressedCount = 0
	a.AcknowledgedAt = nil
	a.AcknowledgedBy = ""
}

// Escalate increments the escalation level when a trigger has sat
// unacknowledged past the escalation delay. Returns the event to deliver
// to the next recipient tier, or nil if escalation is not due.
func (a *UsageAlert) Escalate(now time.Time) *AlertEvent {
	if a.Status != AlertStatusTriggered || a.AcknowledgedAt != nil || a.LastTriggeredAt == nil {
		return nil
	}
	due := a.LastTriggeredAt.Add(time.Duration(a.EscalationLevel+1) * a.EscalationDelay)
	if now.Before(due) {
		return nil
	}
	a.EscalationLevel++
	a.UpdatedAt = time.Now()
	return a.emit(a.severityFor(a.LastValue), a.LastValue, now)
}

// Acknowledge stops further escalation for the current trigger
func (a *UsageAlert) Acknowledge(by string, now time.Time) error {
	if a.Status != AlertStatusTriggered {
		return shared.ErrInvalidState
	}
	if a.AcknowledgedAt != nil {
		return shared.ErrInvalidState
	}
	a.AcknowledgedAt = &now
	a.AcknowledgedBy = by
	a.UpdatedAt = time.Now()
	return nil
}

// mayDeliver enforces the hourly and daily delivery caps
func (a *UsageAlert) mayDeliver(now time.Time) bool {
	hourAgo := now.Add(-time.Hour)
	dayAgo := now.Add(-24 * time.Hour)

	kept := a.deliveries[:0]
	lastHour, lastDay := 0, 0
	for _, ts := range a.deliveries {
		if ts.Before(dayAgo) {
			continue
		}
		kept = append(kept, ts)
		lastDay++
		if !ts.Before(hourAgo) {
			lastHour++
		}
	}
	a.deliveries = kept

	if a.MaxAlertsPerHour > 0 && lastHour >= a.MaxAlertsPerHour {
		return false
	}
	if a.MaxAlertsPerDay > 0 && lastDay >= a.MaxAlertsPerDay {
		return false
	}
	return true
}

func (a *UsageAlert) emit(severity AlertStatus, value decimal.Decimal, now time.Time) *AlertEvent {
	a.deliveries = append(a.deliveries, now)
	threshold := a.WarningThreshold
	if severity == AlertStatusCritical {
		threshold = a.CriticalThreshold
	}
	event := &AlertEvent{
		AlertID:         a.ID,
		TenantID:        a.TenantID,
		EntityKind:      a.EntityKind,
		EntityID:        a.EntityID,
		Status:          severity,
		CurrentValue:    value,
		Threshold:       threshold,
		EscalationLevel: a.EscalationLevel,
		Timestamp:       now,
	}
	a.AddDomainEvent(NewAlertTriggeredEvent(event))
	return event
}

// Archive removes the watcher from evaluation
func (a *UsageAlert) Archive() error {
	if a.Lifecycle == shared.LifecycleArchived {
		return shared.ErrArchived
	}
	a.Lifecycle = shared.LifecycleArchived
	a.UpdatedAt = time.Now()
	return nil
}

// DeliveryLog returns the delivery timestamps the rate caps are counted
// over. Used by the persistence layer to round-trip the watcher.
func (a *UsageAlert) DeliveryLog() []time.Time {
	return a.deliveries
}

// RestoreDeliveryLog reloads delivery timestamps when rehydrating a
// watcher from storage
func (a *UsageAlert) RestoreDeliveryLog(ts []time.Time) {
	a.deliveries = ts
}
