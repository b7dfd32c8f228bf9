package charging

import (
	"github.com/shopspring/decimal"

	"github.com/mspbill/backend/internal/domain/shared/valueobject"
)

// SegmentCost is one tier segment's contribution to the base cost,
// before markup, discounts and rounding.
type SegmentCost struct {
	TierOrder int
	Quantity  decimal.Decimal
	Rate      decimal.Decimal
	Cost      decimal.Decimal // quantity x rate x time-of-use multiplier
}

// CostBreakdown is the fully itemized outcome of charging one rated event.
// Intermediate amounts stay at full decimal precision; only Subtotal, Tax
// and Total are rounded, half-to-even, at the currency's minor unit.
type CostBreakdown struct {
	Currency valueobject.Currency

	BaseCost    decimal.Decimal // included quantity at tier rates
	OverageCost decimal.Decimal // overage quantity at the overage rate
	BonusWaived decimal.Decimal // value of quantity covered by bonus lots

	MarkupAmount        decimal.Decimal
	DiscountPctAmount   decimal.Decimal
	DiscountFixedAmount decimal.Decimal

	MinimumChargeApplied bool

	Subtotal   valueobject.Money // post-discount, pre-tax, rounded
	Tax        valueobject.Money
	TaxPending bool // provider unreachable; reconciled later
	Total      valueobject.Money

	Segments []SegmentCost
}

// PreDiscountCost is base plus overage plus markup, unrounded
func (b *CostBreakdown) PreDiscountCost() decimal.Decimal {
	return b.BaseCost.Add(b.OverageCost).Add(b.MarkupAmount)
}
