package rating

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TierSegment is a portion of an event's quantity rated at a single tier
type TierSegment struct {
	TierID      uuid.UUID
	TierOrder   int
	Quantity    decimal.Decimal
	Rate        decimal.Decimal // per-unit rate for this segment
	OverageRate decimal.Decimal // rate used if this segment becomes overage
	Multiplier  decimal.Decimal // time-of-use multiplier from the event timestamp
}

// RateResolution is the outcome of resolving an event against a rule set:
// the winning rule and the quantity split into tier segments.
type RateResolution struct {
	Rule     *PricingRule
	Segments []TierSegment
}

// TotalQuantity returns the sum of segment quantities
func (r *RateResolution) TotalQuantity() decimal.Decimal {
	total := decimal.Zero
	for _, s := range r.Segments {
		total = total.Add(s.Quantity)
	}
	return total
}

// ResolveRate picks the single applicable pricing rule and splits the event
// quantity across the rule's tiers. cumulativeUsage is the client's usage
// position on the rule's axis before this event (period-to-date).
//
// Selection: client-specific rules override global ones; among equal-scope
// matches the lowest RulePriority value wins. No matching rule is a hard
// failure (ErrNoApplicableRule) - the caller parks the event for manual
// rating instead of dropping it.
//
// Pure function of its inputs; safe for concurrent use.
func ResolveRate(event *UsageEvent, rules []*PricingRule, cumulativeUsage decimal.Decimal) (*RateResolution, error) {
	var matches []*PricingRule
	for _, rule := range rules {
		if rule.Matches(event) {
			matches = append(matches, rule)
		}
	}
	if len(matches) == 0 {
		return nil, ErrNoApplicableRule
	}

	// Client-specific beats global
	var clientScoped []*PricingRule
	for _, rule := range matches {
		if !rule.IsGlobal() {
			clientScoped = append(clientScoped, rule)
		}
	}
	if len(clientScoped) > 0 {
		matches = clientScoped
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].RulePriority != matches[j].RulePriority {
			return matches[i].RulePriority < matches[j].RulePriority
		}
		// Deterministic tie-break: newest effective rule wins
		return matches[i].EffectiveDate.After(matches[j].EffectiveDate)
	})
	winner := matches[0]

	segments, err := splitAcrossTiers(event, winner, cumulativeUsage)
	if err != nil {
		return nil, err
	}

	return &RateResolution{Rule: winner, Segments: segments}, nil
}

// splitAcrossTiers walks the rule's tiers in order and assigns the event
// quantity to segments. Progressive billing splits a quantity spanning a
// tier boundary; block pricing bills the whole quantity at the single tier
// the total volume lands in.
func splitAcrossTiers(event *UsageEvent, rule *PricingRule, cumulativeUsage decimal.Decimal) ([]TierSegment, error) {
	if len(rule.Tiers) == 0 {
		// Flat and usage-based rules rate the whole quantity at the base rate
		return []TierSegment{{
			Quantity:    event.Quantity,
			Rate:        rule.BaseRate,
			OverageRate: rule.BaseRate,
			Multiplier:  decimal.NewFromInt(1),
		}}, nil
	}

	tiers := make([]UsageTier, len(rule.Tiers))
	copy(tiers, rule.Tiers)
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].TierOrder < tiers[j].TierOrder })

	if rule.PricingModel == PricingModelBlock {
		volume := cumulativeUsage.Add(event.Quantity)
		for i := range tiers {
			tier := &tiers[i]
			if tier.Contains(volume) {
				return []TierSegment{{
					TierID:      tier.ID,
					TierOrder:   tier.TierOrder,
					Quantity:    event.Quantity,
					Rate:        tier.Rate,
					OverageRate: tier.EffectiveOverageRate(),
					Multiplier:  rule.MultiplierAt(tier, event.StartTime),
				}}, nil
			}
		}
		return nil, ErrTierGap
	}

	var segments []TierSegment
	position := cumulativeUsage
	remaining := event.Quantity

	for i := range tiers {
		if !remaining.IsPositive() {
			break
		}
		tier := &tiers[i]
		if !tier.Contains(position) {
			continue
		}

		take := remaining
		if tier.MaxUsage != nil {
			available := tier.MaxUsage.Sub(position)
			if available.LessThan(take) {
				take = available
			}
		}

		segments = append(segments, TierSegment{
			TierID:      tier.ID,
			TierOrder:   tier.TierOrder,
			Quantity:    take,
			Rate:        tier.Rate,
			OverageRate: tier.EffectiveOverageRate(),
			Multiplier:  rule.MultiplierAt(tier, event.StartTime),
		})
		position = position.Add(take)
		remaining = remaining.Sub(take)
	}

	if remaining.IsPositive() {
		// Tiers are validated to be contiguous with an unbounded tail, so
		// leftover quantity means the rule's tiers are misconfigured.
		return nil, ErrTierGap
	}

	return segments, nil
}
