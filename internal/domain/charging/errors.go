package charging

import "github.com/mspbill/backend/internal/domain/shared"

var (
	// ErrTaxProviderUnavailable signals that the external tax service could
	// not be reached. The event is still costed; tax is marked pending and
	// reconciled later, never silently zeroed.
	ErrTaxProviderUnavailable = shared.NewDomainError("TAX_PROVIDER_UNAVAILABLE", "Tax provider is unavailable")
)
