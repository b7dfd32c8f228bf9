package commitment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mspbill/backend/internal/domain/shared"
	"github.com/mspbill/backend/internal/domain/shared/valueobject"
)

// CommitmentType selects whether the obligation is measured in usage
// units or in spend.
type CommitmentType string

const (
	CommitmentTypeUsage CommitmentType = "MIN_USAGE"
	CommitmentTypeSpend CommitmentType = "MIN_SPEND"
)

// IsValid validates the commitment type
func (t CommitmentType) IsValid() bool {
	return t == CommitmentTypeUsage || t == CommitmentTypeSpend
}

// PeriodStatus is the state of the current commitment period
type PeriodStatus string

const (
	PeriodNotStarted PeriodStatus = "NOT_STARTED"
	PeriodActive     PeriodStatus = "ACTIVE"
	PeriodMet        PeriodStatus = "MET"
	PeriodShortfall  PeriodStatus = "SHORTFALL"
	PeriodClosed     PeriodStatus = "CLOSED"
)

// PeriodEvaluation is the immutable outcome of closing one period.
// Evaluations are keyed per period; re-evaluating the same period returns
// the stored outcome unchanged.
type PeriodEvaluation struct {
	PeriodKey          string
	Sequence           int
	PeriodStart        time.Time
	PeriodEnd          time.Time
	Status             PeriodStatus // MET or SHORTFALL
	AchievedAmount     decimal.Decimal
	CommittedAmount    decimal.Decimal
	FulfillmentPercent decimal.Decimal
	Penalty            valueobject.Money
	Bonus              valueobject.Money
	EvaluatedAt        time.Time
}

// UsageCommitment is a minimum usage or spend obligation over recurring
// periods, with a penalty for shortfall and an optional overachievement
// bonus.
type UsageCommitment struct {
	shared.TenantAggregateRoot

	ClientID        uuid.UUID
	Name            string
	Type            CommitmentType
	CommittedAmount decimal.Decimal // per period, in units or currency
	Currency        valueobject.Currency
	PeriodDays      int

	StartDate          time.Time
	EndDate            *time.Time // nil = evergreen
	NextEvaluationDate time.Time

	PenaltyRate    decimal.Decimal  // per unit (or currency unit) of shortfall
	MinimumPenalty *decimal.Decimal // clamp floor, nil = none
	MaximumPenalty *decimal.Decimal // clamp ceiling, nil = none

	BonusEnabled bool
	BonusRate    decimal.Decimal // per unit of overachievement

	Status             PeriodStatus
	PeriodSequence     int
	PeriodStart        time.Time
	CurrentPeriodUsage decimal.Decimal
	CurrentPeriodSpend decimal.Decimal
	LifetimeUsage      decimal.Decimal
	LifetimeSpend      decimal.Decimal

	Evaluations map[string]*PeriodEvaluation
	Lifecycle   shared.Lifecycle
}

// NewUsageCommitment creates a commitment starting its first period at startDate
func NewUsageCommitment(
	tenantID uuid.UUID,
	clientID uuid.UUID,
	name string,
	commitmentType CommitmentType,
	committedAmount decimal.Decimal,
	currency valueobject.Currency,
	periodDays int,
	startDate time.Time,
) (*UsageCommitment, error) {
	if tenantID == uuid.Nil || clientID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_ID", "Tenant and client IDs cannot be empty")
	}
	if name == "" {
		return nil, shared.NewDomainError("INVALID_NAME", "Commitment name cannot be empty")
	}
	if !commitmentType.IsValid() {
		return nil, shared.NewDomainError("INVALID_COMMITMENT_TYPE", "Invalid commitment type")
	}
	if !committedAmount.IsPositive() {
		return nil, shared.NewDomainError("INVALID_AMOUNT", "Committed amount must be positive")
	}
	if periodDays < 1 {
		return nil, shared.NewDomainError("INVALID_PERIOD", "Period length must be at least one day")
	}

	return &UsageCommitment{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		ClientID:            clientID,
		Name:                name,
		Type:                commitmentType,
		CommittedAmount:     committedAmount,
		Currency:            currency,
		PeriodDays:          periodDays,
		StartDate:           startDate,
		NextEvaluationDate:  startDate.AddDate(0, 0, periodDays),
		Status:              PeriodNotStarted,
		PeriodSequence:      1,
		PeriodStart:         startDate,
		CurrentPeriodUsage:  decimal.Zero,
		CurrentPeriodSpend:  decimal.Zero,
		LifetimeUsage:       decimal.Zero,
		LifetimeSpend:       decimal.Zero,
		Evaluations:         map[string]*PeriodEvaluation{},
		Lifecycle:           shared.LifecycleActive,
	}, nil
}

// WithPenalty configures the shortfall penalty with optional clamps
func (c *UsageCommitment) WithPenalty(rate decimal.Decimal, min, max *decimal.Decimal) *UsageCommitment {
	c.PenaltyRate = rate
	c.MinimumPenalty = min
	c.MaximumPenalty = max
	return c
}

// WithBonus enables the overachievement bonus
func (c *UsageCommitment) WithBonus(rate decimal.Decimal) *UsageCommitment {
	c.BonusEnabled = true
	c.BonusRate = rate
	return c
}

// WithEndDate bounds the commitment's lifetime
func (c *UsageCommitment) WithEndDate(end time.Time) *UsageCommitment {
	c.EndDate = &end
	return c
}

// PeriodKey identifies the current period for idempotent evaluation
func (c *UsageCommitment) PeriodKey() string {
	return fmt.Sprintf("%s:%d", c.ID, c.PeriodSequence)
}

// Achieved returns the accumulator the commitment is measured against
func (c *UsageCommitment) Achieved() decimal.Decimal {
	if c.Type == CommitmentTypeSpend {
		return c.CurrentPeriodSpend
	}
	return c.CurrentPeriodUsage
}

// FulfillmentPercent is achieved over committed, as a percentage
func (c *UsageCommitment) FulfillmentPercent() decimal.Decimal {
	return c.Achieved().Div(c.CommittedAmount).Mul(decimal.NewFromInt(100))
}

// Record accumulates usage and spend into the current period. Accumulators
// only ever increase within a period; negative inputs are rejected.
func (c *UsageCommitment) Record(usage, spend decimal.Decimal) error {
	if c.Lifecycle != shared.LifecycleActive {
		return shared.ErrArchived
	}
	if c.Status == PeriodClosed {
		return shared.ErrInvalidState
	}
	if usage.IsNegative() || spend.IsNegative() {
		return shared.ErrInvalidInput
	}

	if c.Status == PeriodNotStarted {
		c.Status = PeriodActive
	}
	c.CurrentPeriodUsage = c.CurrentPeriodUsage.Add(usage)
	c.CurrentPeriodSpend = c.CurrentPeriodSpend.Add(spend)
	c.LifetimeUsage = c.LifetimeUsage.Add(usage)
	c.LifetimeSpend = c.LifetimeSpend.Add(spend)
	c.UpdatedAt = time.Now()
	return nil
}

// DueForEvaluation reports whether the current period boundary has passed
func (c *UsageCommitment) DueForEvaluation(now time.Time) bool {
	return !now.Before(c.NextEvaluationDate)
}

// EvaluatePeriod closes the current period: computes fulfillment, marks
// met or shortfall, applies penalty or bonus, then resets the counters and
// opens the next period (or closes the commitment when the end date has
// passed). Evaluation is idempotent per period key - re-evaluating a
// period already closed returns the stored outcome with no state change.
func (c *UsageCommitment) EvaluatePeriod(now time.Time) (*PeriodEvaluation, error) {
	key := c.PeriodKey()
	if prior, ok := c.Evaluations[key]; ok {
		return prior, nil
	}
	if c.Status == PeriodClosed {
		// Commitment terminated; the last evaluation is the final word
		return nil, shared.ErrInvalidState
	}
	if !c.DueForEvaluation(now) {
		// A duplicate evaluation lands here after the close advanced the
		// sequence; hand back the stored outcome instead of re-closing.
		prior := c.Evaluations[fmt.Sprintf("%s:%d", c.ID, c.PeriodSequence-1)]
		if prior != nil && !now.Before(prior.PeriodEnd) {
			return prior, nil
		}
		return nil, shared.NewDomainError("PERIOD_OPEN", "Current period has not reached its evaluation date")
	}

	achieved := c.Achieved()
	fulfillment := c.FulfillmentPercent()

	eval := &PeriodEvaluation{
		PeriodKey:          key,
		Sequence:           c.PeriodSequence,
		PeriodStart:        c.PeriodStart,
		PeriodEnd:          c.NextEvaluationDate,
		AchievedAmount:     achieved,
		CommittedAmount:    c.CommittedAmount,
		FulfillmentPercent: fulfillment,
		Penalty:            valueobject.Zero(c.Currency),
		Bonus:              valueobject.Zero(c.Currency),
		EvaluatedAt:        now,
	}

	if fulfillment.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		eval.Status = PeriodMet
		if c.BonusEnabled && c.BonusRate.IsPositive() {
			bonus := achieved.Sub(c.CommittedAmount).Mul(c.BonusRate)
			m, err := valueobject.NewMoney(bonus, c.Currency)
			if err != nil {
				return nil, err
			}
			eval.Bonus = m.RoundToMinorUnit()
		}
	} else {
		eval.Status = PeriodShortfall
		penalty := c.CommittedAmount.Sub(achieved).Mul(c.PenaltyRate)
		if c.MinimumPenalty != nil && penalty.LessThan(*c.MinimumPenalty) {
			penalty = *c.MinimumPenalty
		}
		if c.MaximumPenalty != nil && penalty.GreaterThan(*c.MaximumPenalty) {
			penalty = *c.MaximumPenalty
		}
		m, err := valueobject.NewMoney(penalty, c.Currency)
		if err != nil {
			return nil, err
		}
		eval.Penalty = m.RoundToMinorUnit()
	}

	c.Evaluations[key] = eval
	c.Status = eval.Status
	c.closePeriod()
	c.AddDomainEvent(NewPeriodClosedEvent(c, eval))
	return eval, nil
}

// closePeriod resets current-period counters and opens the next period, or
// terminates the commitment when its end date has passed.
func (c *UsageCommitment) closePeriod() {
	periodEnd := c.NextEvaluationDate
	if c.EndDate != nil && !periodEnd.Before(*c.EndDate) {
		c.Status = PeriodClosed
		c.UpdatedAt = time.Now()
		return
	}

	c.PeriodSequence++
	c.PeriodStart = periodEnd
	c.NextEvaluationDate = periodEnd.AddDate(0, 0, c.PeriodDays)
	c.CurrentPeriodUsage = decimal.Zero
	c.CurrentPeriodSpend = decimal.Zero
	c.Status = PeriodActive
	c.UpdatedAt = time.Now()
}

// Archive removes the commitment from active tracking
func (c *UsageCommitment) Archive() error {
	if c.Lifecycle == shared.LifecycleArchived {
		return shared.ErrArchived
	}
	c.Lifecycle = shared.LifecycleArchived
	c.UpdatedAt = time.Now()
	return nil
}
