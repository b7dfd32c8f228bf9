package tax

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mspbill/backend/internal/domain/charging"
	"github.com/mspbill/backend/internal/domain/shared/valueobject"
)

// taxQuoteRequest is the wire request sent to the external tax service
type taxQuoteRequest struct {
	TenantID  string `json:"tenant_id"`
	ClientID  string `json:"client_id"`
	UsageType string `json:"usage_type"`
	Subtotal  string `json:"subtotal"`
	Currency  string `json:"currency"`
}

// taxQuoteResponse is the wire response from the external tax service
type taxQuoteResponse struct {
	TaxAmount string `json:"tax_amount"`
	Currency  string `json:"currency"`
}

// HTTPProvider quotes tax from an external tax service over HTTP. Any
// transport failure, timeout or non-2xx response maps to
// charging.ErrTaxProviderUnavailable so the calculator parks the charge
// as tax-pending instead of billing untaxed.
type HTTPProvider struct {
	endpoint   string
	httpClient *http.Client
}

// NewHTTPProvider creates a provider against the given quote endpoint
func NewHTTPProvider(endpoint string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProvider{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Calculate requests a tax quote for the subtotal
func (p *HTTPProvider) Calculate(ctx context.Context, req charging.TaxRequest) (valueobject.Money, error) {
	zero := valueobject.Zero(req.Subtotal.Currency())

	body, err := json.Marshal(taxQuoteRequest{
		TenantID:  req.TenantID.String(),
		ClientID:  req.ClientID.String(),
		UsageType: string(req.UsageType),
		Subtotal:  req.Subtotal.Amount().String(),
		Currency:  string(req.Subtotal.Currency()),
	})
	if err != nil {
		return zero, fmt.Errorf("tax: failed to marshal quote request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return zero, fmt.Errorf("tax: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", charging.ErrTaxProviderUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", charging.ErrTaxProviderUnavailable, err)
	}
	if resp.StatusCode >= 400 {
		return zero, fmt.Errorf("%w: quote endpoint returned %d", charging.ErrTaxProviderUnavailable, resp.StatusCode)
	}

	var quote taxQuoteResponse
	if err := json.Unmarshal(respBody, &quote); err != nil {
		return zero, fmt.Errorf("%w: malformed quote response: %v", charging.ErrTaxProviderUnavailable, err)
	}

	amount, err := decimal.NewFromString(quote.TaxAmount)
	if err != nil {
		return zero, fmt.Errorf("%w: malformed tax amount %q", charging.ErrTaxProviderUnavailable, quote.TaxAmount)
	}
	currency := req.Subtotal.Currency()
	if quote.Currency != "" {
		currency = valueobject.Currency(quote.Currency)
	}
	return valueobject.NewMoney(amount, currency)
}
