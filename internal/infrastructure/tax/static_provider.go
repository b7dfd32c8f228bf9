package tax

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/mspbill/backend/internal/domain/charging"
	"github.com/mspbill/backend/internal/domain/shared/valueobject"
)

// StaticRateProvider applies a single configured percentage to every
// subtotal. It is the default provider when no external tax service is
// configured, and never reports itself unavailable.
type StaticRateProvider struct {
	rate decimal.Decimal // percent, e.g. 8.25
}

// NewStaticRateProvider creates a provider that taxes at the given percent
func NewStaticRateProvider(ratePercent decimal.Decimal) *StaticRateProvider {
	return &StaticRateProvider{rate: ratePercent}
}

// Calculate returns subtotal * rate / 100 in the subtotal's currency
func (p *StaticRateProvider) Calculate(ctx context.Context, req charging.TaxRequest) (valueobject.Money, error) {
	if err := ctx.Err(); err != nil {
		return valueobject.Zero(req.Subtotal.Currency()), err
	}
	return req.Subtotal.CalculatePercentage(p.rate), nil
}

// NoopProvider returns zero tax for every request, used when tax
// calculation is disabled entirely.
type NoopProvider struct{}

// NewNoopProvider creates a provider that never charges tax
func NewNoopProvider() *NoopProvider {
	return &NoopProvider{}
}

// Calculate returns zero in the subtotal's currency
func (p *NoopProvider) Calculate(_ context.Context, req charging.TaxRequest) (valueobject.Money, error) {
	return valueobject.Zero(req.Subtotal.Currency()), nil
}
