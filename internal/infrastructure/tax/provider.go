package tax

import (
	"github.com/shopspring/decimal"

	"github.com/mspbill/backend/internal/domain/charging"
	"github.com/mspbill/backend/internal/infrastructure/config"
)

// NewProviderFromConfig selects the tax provider for the configured mode:
// disabled -> no tax, provider URL set -> external quote service,
// otherwise the static configured rate.
func NewProviderFromConfig(cfg config.TaxConfig) charging.TaxProvider {
	if !cfg.Enabled {
		return NewNoopProvider()
	}
	if cfg.ProviderURL != "" {
		return NewHTTPProvider(cfg.ProviderURL, cfg.Timeout)
	}
	return NewStaticRateProvider(decimal.NewFromFloat(cfg.DefaultRate))
}
