package handler

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	domainrating "github.com/mspbill/backend/internal/domain/rating"
)

// PricingRuleHandler handles pricing rule query HTTP requests. Rule
// configuration is owned by the administrative surface; this API is
// read-only so operators can see which rules the rater resolves against.
type PricingRuleHandler struct {
	BaseHandler
	rules domainrating.PricingRuleRepository
}

// NewPricingRuleHandler creates a new pricing rule handler
func NewPricingRuleHandler(rules domainrating.PricingRuleRepository) *PricingRuleHandler {
	return &PricingRuleHandler{rules: rules}
}

// ============================================================================
// Response DTOs
// ============================================================================

// UsageTierResponse represents a tier of a stored rule
type UsageTierResponse struct {
	ID          string  `json:"id"`
	TierOrder   int     `json:"tier_order" example:"1"`
	MinUsage    string  `json:"min_usage" example:"0"`
	MaxUsage    *string `json:"max_usage,omitempty" example:"1000"`
	Rate        string  `json:"rate" example:"0.05"`
	OverageRate *string `json:"overage_rate,omitempty" example:"0.08"`
}

// PricingRuleResponse represents a stored pricing rule
//
//	@Description	Pricing rule with its selector and pricing configuration
type PricingRuleResponse struct {
	ID              string              `json:"id"`
	Name            string              `json:"name" example:"SIP trunk standard"`
	ClientID        *string             `json:"client_id,omitempty"`
	UsageType       string              `json:"usage_type" example:"VOICE"`
	ServiceType     string              `json:"service_type" example:"SIP_TRUNK"`
	PricingModel    string              `json:"pricing_model" example:"TIERED"`
	BaseRate        string              `json:"base_rate" example:"0.05"`
	Currency        string              `json:"currency" example:"USD"`
	Priority        int                 `json:"priority" example:"1"`
	EffectiveDate   time.Time           `json:"effective_date"`
	ExpiryDate      *time.Time          `json:"expiry_date,omitempty"`
	Tiers           []UsageTierResponse `json:"tiers,omitempty"`
	MarkupPercent   string              `json:"markup_percent" example:"15"`
	DiscountPercent string              `json:"discount_percent" example:"5"`
	DiscountFixed   string              `json:"discount_fixed" example:"0"`
	MinimumCharge   *string             `json:"minimum_charge,omitempty"`
	TaxExempt       bool                `json:"tax_exempt" example:"false"`
	Lifecycle       string              `json:"lifecycle" example:"ACTIVE"`
	Version         int                 `json:"version" example:"1"`
	CreatedAt       time.Time           `json:"created_at"`
}

func toRuleResponse(rule *domainrating.PricingRule) PricingRuleResponse {
	resp := PricingRuleResponse{
		ID:              rule.ID.String(),
		Name:            rule.Name,
		UsageType:       string(rule.UsageType),
		ServiceType:     string(rule.ServiceType),
		PricingModel:    string(rule.PricingModel),
		BaseRate:        rule.BaseRate.String(),
		Currency:        string(rule.Currency),
		Priority:        rule.RulePriority,
		EffectiveDate:   rule.EffectiveDate,
		ExpiryDate:      rule.ExpiryDate,
		MarkupPercent:   rule.MarkupPercent.String(),
		DiscountPercent: rule.DiscountPercent.String(),
		DiscountFixed:   rule.DiscountFixed.String(),
		TaxExempt:       rule.TaxExempt,
		Lifecycle:       string(rule.Lifecycle),
		Version:         rule.Version,
		CreatedAt:       rule.CreatedAt,
	}
	if rule.ClientID != nil {
		id := rule.ClientID.String()
		resp.ClientID = &id
	}
	if rule.MinimumCharge != nil {
		mc := rule.MinimumCharge.String()
		resp.MinimumCharge = &mc
	}
	for _, t := range rule.Tiers {
		tier := UsageTierResponse{
			ID:        t.ID.String(),
			TierOrder: t.TierOrder,
			MinUsage:  t.MinUsage.String(),
			Rate:      t.Rate.String(),
		}
		if t.MaxUsage != nil {
			mu := t.MaxUsage.String()
			tier.MaxUsage = &mu
		}
		if t.OverageRate != nil {
			or := t.OverageRate.String()
			tier.OverageRate = &or
		}
		resp.Tiers = append(resp.Tiers, tier)
	}
	return resp
}

// ============================================================================
// Handlers
// ============================================================================

// ListRules godoc
//
//	@ID				listPricingRules
//	@Summary		List pricing rules
//	@Description	List the tenant's active pricing rules
//	@Tags			pricing-rules
//	@Produce		json
//	@Success		200	{object}	APIResponse[[]PricingRuleResponse]
//	@Router			/pricing/rules [get]
func (h *PricingRuleHandler) ListRules(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context required")
		return
	}

	rules, err := h.rules.FindByTenant(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	resp := make([]PricingRuleResponse, 0, len(rules))
	for _, rule := range rules {
		resp = append(resp, toRuleResponse(rule))
	}
	h.Success(c, resp)
}

// GetRule godoc
//
//	@ID				getPricingRule
//	@Summary		Get a pricing rule
//	@Description	Retrieve a single pricing rule by ID
//	@Tags			pricing-rules
//	@Produce		json
//	@Param			id	path	string	true	"Pricing rule ID"
//	@Success		200	{object}	APIResponse[PricingRuleResponse]
//	@Failure		404	{object}	dto.ErrorResponse
//	@Router			/pricing/rules/{id} [get]
func (h *PricingRuleHandler) GetRule(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant context required")
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.BadRequest(c, "Invalid rule ID")
		return
	}

	rule, err := h.rules.FindByID(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if rule.TenantID != tenantID {
		h.NotFound(c, "Pricing rule not found")
		return
	}

	h.Success(c, toRuleResponse(rule))
}

// RegisterRoutes registers all pricing rule routes
func (h *PricingRuleHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rules := rg.Group("/pricing/rules")
	{
		rules.GET("", h.ListRules)
		rules.GET("/:id", h.GetRule)
	}
}
