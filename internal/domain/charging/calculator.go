package charging

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mspbill/backend/internal/domain/allocation"
	"github.com/mspbill/backend/internal/domain/rating"
	"github.com/mspbill/backend/internal/domain/shared/valueobject"
)

const defaultTaxTimeout = 5 * time.Second

// Calculator converts a rate resolution and an allocation outcome into a
// cost breakdown. Pure apart from the tax provider call; safe for
// concurrent use.
type Calculator struct {
	tax        TaxProvider
	taxTimeout time.Duration
}

// NewCalculator creates a charge calculator. provider may be nil for
// tenants without tax configuration.
func NewCalculator(provider TaxProvider) *Calculator {
	return &Calculator{tax: provider, taxTimeout: defaultTaxTimeout}
}

// WithTaxTimeout overrides the tax provider deadline
func (c *Calculator) WithTaxTimeout(d time.Duration) *Calculator {
	c.taxTimeout = d
	return c
}

// Calculate prices one event.
//
// Computation order: base cost at tier rates with the segment's time-of-use
// multiplier (fixed by the event timestamp at resolution time), the overage
// portion at the overage rate, then markup, then the percentage discount,
// then the fixed discount, then the minimum-charge floor. Rounding happens
// once, half-to-even at the currency's minor unit, after all additive
// steps. Tax applies last to the post-discount subtotal and is never
// discounted. alloc may be nil when no pools are configured; the full
// quantity is then billed at tier rates.
func (c *Calculator) Calculate(
	ctx context.Context,
	event *rating.UsageEvent,
	resolution *rating.RateResolution,
	alloc *allocation.AllocationResult,
) (*CostBreakdown, error) {
	rule := resolution.Rule
	b := &CostBreakdown{
		Currency:            rule.Currency,
		BaseCost:            decimal.Zero,
		OverageCost:         decimal.Zero,
		BonusWaived:         decimal.Zero,
		MarkupAmount:        decimal.Zero,
		DiscountPctAmount:   decimal.Zero,
		DiscountFixedAmount: decimal.Zero,
	}

	overageQty, bonusQty := decimal.Zero, decimal.Zero
	if alloc != nil {
		overageQty = alloc.Overage
		bonusQty = alloc.Bonus
	}

	c.priceSegments(b, resolution.Segments, overageQty, bonusQty)

	if rule.MarkupPercent.IsPositive() {
		b.MarkupAmount = b.BaseCost.Add(b.OverageCost).
			Mul(rule.MarkupPercent).Div(decimal.NewFromInt(100))
	}

	subtotal := b.PreDiscountCost()
	if rule.DiscountPercent.IsPositive() {
		b.DiscountPctAmount = subtotal.Mul(rule.DiscountPercent).Div(decimal.NewFromInt(100))
		subtotal = subtotal.Sub(b.DiscountPctAmount)
	}
	if rule.DiscountFixed.IsPositive() {
		fixed := rule.DiscountFixed
		if fixed.GreaterThan(subtotal) {
			fixed = subtotal
		}
		b.DiscountFixedAmount = fixed
		subtotal = subtotal.Sub(fixed)
	}

	if rule.MinimumCharge != nil && subtotal.LessThan(*rule.MinimumCharge) {
		subtotal = *rule.MinimumCharge
		b.MinimumChargeApplied = true
	}

	money, err := valueobject.NewMoney(subtotal, rule.Currency)
	if err != nil {
		return nil, err
	}
	b.Subtotal = money.RoundToMinorUnit()

	if err := c.applyTax(ctx, event, rule, b); err != nil {
		return nil, err
	}

	b.Total = b.Subtotal.MustAdd(b.Tax).RoundToMinorUnit()
	return b, nil
}

// priceSegments splits the resolved quantity into billed, waived (bonus)
// and overage portions. The overage portion comes off the tail of the
// quantity axis and is priced at the tier's overage rate; bonus-covered
// quantity sits just before it and is waived.
func (c *Calculator) priceSegments(
	b *CostBreakdown,
	segments []rating.TierSegment,
	overageQty decimal.Decimal,
	bonusQty decimal.Decimal,
) {
	total := decimal.Zero
	for _, s := range segments {
		total = total.Add(s.Quantity)
	}
	billedEnd := total.Sub(overageQty).Sub(bonusQty) // base rates apply below this position
	waivedEnd := total.Sub(overageQty)               // bonus coverage between billedEnd and here

	pos := decimal.Zero
	for _, s := range segments {
		segStart, segEnd := pos, pos.Add(s.Quantity)
		pos = segEnd

		billed := overlap(segStart, segEnd, decimal.Zero, billedEnd)
		waived := overlap(segStart, segEnd, billedEnd, waivedEnd)
		overage := overlap(segStart, segEnd, waivedEnd, total)

		if billed.IsPositive() {
			cost := billed.Mul(s.Rate).Mul(s.Multiplier)
			b.BaseCost = b.BaseCost.Add(cost)
			b.Segments = append(b.Segments, SegmentCost{
				TierOrder: s.TierOrder,
				Quantity:  billed,
				Rate:      s.Rate,
				Cost:      cost,
			})
		}
		if waived.IsPositive() {
			b.BonusWaived = b.BonusWaived.Add(waived.Mul(s.Rate).Mul(s.Multiplier))
		}
		if overage.IsPositive() {
			rate := s.OverageRate
			if rate.IsZero() {
				rate = s.Rate
			}
			cost := overage.Mul(rate).Mul(s.Multiplier)
			b.OverageCost = b.OverageCost.Add(cost)
			b.Segments = append(b.Segments, SegmentCost{
				TierOrder: s.TierOrder,
				Quantity:  overage,
				Rate:      rate,
				Cost:      cost,
			})
		}
	}
}

func (c *Calculator) applyTax(
	ctx context.Context,
	event *rating.UsageEvent,
	rule *rating.PricingRule,
	b *CostBreakdown,
) error {
	b.Tax = valueobject.Zero(rule.Currency)
	if rule.TaxExempt || c.tax == nil || !b.Subtotal.IsPositive() {
		return nil
	}

	taxCtx, cancel := context.WithTimeout(ctx, c.taxTimeout)
	defer cancel()

	tax, err := c.tax.Calculate(taxCtx, TaxRequest{
		TenantID:  event.TenantID,
		ClientID:  event.ClientID,
		UsageType: event.UsageType,
		Subtotal:  b.Subtotal,
	})
	if err != nil {
		if ctx.Err() != nil {
			// Caller cancellation, not a provider outage
			return ctx.Err()
		}
		if errors.Is(err, ErrTaxProviderUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			b.TaxPending = true
			return nil
		}
		return err
	}
	b.Tax = tax.RoundToMinorUnit()
	return nil
}

// overlap returns the length of the intersection of [aLo,aHi) and [bLo,bHi)
func overlap(aLo, aHi, bLo, bHi decimal.Decimal) decimal.Decimal {
	lo := decimal.Max(aLo, bLo)
	hi := decimal.Min(aHi, bHi)
	if hi.LessThanOrEqual(lo) {
		return decimal.Zero
	}
	return hi.Sub(lo)
}
