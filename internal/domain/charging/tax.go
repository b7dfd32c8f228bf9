package charging

import (
	"context"

	"github.com/google/uuid"

	"github.com/mspbill/backend/internal/domain/rating"
	"github.com/mspbill/backend/internal/domain/shared/valueobject"
)

// TaxRequest carries what the tax collaborator needs to rate a subtotal
type TaxRequest struct {
	TenantID  uuid.UUID
	ClientID  uuid.UUID
	UsageType rating.UsageType
	Subtotal  valueobject.Money
}

// TaxProvider computes tax for a post-discount subtotal. Implementations
// wrap external tax services and must honor the context deadline;
// unreachable providers return ErrTaxProviderUnavailable.
type TaxProvider interface {
	Calculate(ctx context.Context, req TaxRequest) (valueobject.Money, error)
}
